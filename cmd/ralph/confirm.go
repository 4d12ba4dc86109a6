package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/config"
	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/taskfile"
)

// runSummary is the block printed above the start confirmation.
func runSummary(cfg config.Config, taskPath string, entry *taskfile.File) string {
	checked, total := entry.Progress()

	taskLine := taskPath
	if entry.Meta.Task != "" {
		taskLine = fmt.Sprintf("%s — %s", taskPath, entry.Meta.Task)
	}

	model := cfg.Model
	if model == "" {
		model = "agent default"
	}

	lines := []string{
		"ralph run",
		fmt.Sprintf("  task:       %s (%d/%d criteria done)", taskLine, checked, total),
		fmt.Sprintf("  agent:      %s, model %s", cfg.AgentBinary, model),
		fmt.Sprintf("  iterations: up to %d", cfg.MaxIterations),
		fmt.Sprintf("  context:    warn at %d tokens, rotate at %d", cfg.WarnThreshold, cfg.RotateThreshold),
		fmt.Sprintf("  quality:    gate budget %s, silent gate counts as %s", cfg.QualityTimeoutDuration(), strings.ToLower(cfg.QualityDefault)),
	}
	if cfg.Branch != "" {
		branch := fmt.Sprintf("  branch:     %s", cfg.Branch)
		if cfg.OpenPR {
			branch += " (open a PR when done)"
		}
		lines = append(lines, branch)
	}
	if cfg.RelayEnabled() {
		address := cfg.RedisURL
		if address == "" {
			address = cfg.NATSURL
		}
		lines = append(lines, fmt.Sprintf("  relay:      %s (prefix %q)", address, cfg.RelayChannel))
	}
	return strings.Join(lines, "\n")
}

// confirmStart prints the summary and reads a y/N answer. EOF and anything
// but yes decline.
func confirmStart(summary string, input io.Reader, output io.Writer) (bool, error) {
	if output == nil {
		output = io.Discard
	}
	if input == nil {
		input = strings.NewReader("")
	}
	if summary != "" {
		_, _ = io.WriteString(output, summary+"\n")
	}
	_, _ = io.WriteString(output, "Start the run? [y/N] ")

	reader := bufio.NewReader(input)
	line, err := reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.TrimSpace(strings.ToLower(line))
	return answer == "y" || answer == "yes", nil
}
