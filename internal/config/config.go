// Package config resolves run settings from three layers: built-in
// defaults, an optional .ralph/config.yaml, and RALPH_* environment
// overrides. Command-line flags sit on top of all three; the command
// seeds its flag defaults from the resolved config so an explicit flag
// always wins.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultTaskFile        = "TASK.md"
	DefaultWarnThreshold   = 80_000
	DefaultRotateThreshold = 100_000
	DefaultMaxIterations   = 100
	DefaultAgentBinary     = "claude"
	DefaultQualityTimeout  = 2 * time.Minute
	DefaultRelayChannel    = "ralph"
)

const (
	DisplayAuto  = "auto"
	DisplayTUI   = "tui"
	DisplayPlain = "plain"
)

const (
	QualityDefaultPass = "pass"
	QualityDefaultFail = "fail"
)

// Config is everything a run needs to know up front.
type Config struct {
	TaskFile        string `yaml:"task"`
	WarnThreshold   int    `yaml:"warn_threshold"`
	RotateThreshold int    `yaml:"rotate_threshold"`
	MaxIterations   int    `yaml:"max_iterations"`
	Model           string `yaml:"model"`
	Branch          string `yaml:"branch"`
	OpenPR          bool   `yaml:"open_pr"`
	SkipConfirm     bool   `yaml:"skip_confirmation"`
	AgentBinary     string `yaml:"agent_binary"`
	Display         string `yaml:"display"`
	LogLevel        string `yaml:"log_level"`

	// QualityTimeout is a duration string ("90s", "2m"). QualityDefault
	// decides the verdict when the gate times out or stays silent.
	QualityTimeout string `yaml:"quality_check_timeout"`
	QualityDefault string `yaml:"quality_check_default"`

	// Relay settings; empty URLs leave the relay off.
	RedisURL     string `yaml:"redis_url"`
	NATSURL      string `yaml:"nats_url"`
	RelayChannel string `yaml:"relay_channel"`
}

func Default() Config {
	return Config{
		TaskFile:        DefaultTaskFile,
		WarnThreshold:   DefaultWarnThreshold,
		RotateThreshold: DefaultRotateThreshold,
		MaxIterations:   DefaultMaxIterations,
		AgentBinary:     DefaultAgentBinary,
		Display:         DisplayAuto,
		LogLevel:        "info",
		QualityTimeout:  DefaultQualityTimeout.String(),
		QualityDefault:  QualityDefaultPass,
		RelayChannel:    DefaultRelayChannel,
	}
}

// LoadFile layers path's YAML onto cfg. A missing file is not an error;
// the second return reports whether the file existed.
func LoadFile(cfg Config, path string) (Config, bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, false, nil
	}
	if err != nil {
		return cfg, false, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, true, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

// ApplyEnv layers RALPH_* variables onto cfg. lookup is os.LookupEnv in
// production and a map in tests.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	setString := func(key string, target *string) {
		if value, ok := lookup(key); ok {
			*target = strings.TrimSpace(value)
		}
	}
	var parseErr error
	setInt := func(key string, target *int) {
		value, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%s must be an integer, got %q", key, value)
			return
		}
		if err == nil {
			*target = parsed
		}
	}
	setBool := func(key string, target *bool) {
		value, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("%s must be a boolean, got %q", key, value)
			return
		}
		if err == nil {
			*target = parsed
		}
	}

	setString("RALPH_TASK", &cfg.TaskFile)
	setInt("RALPH_WARN_THRESHOLD", &cfg.WarnThreshold)
	setInt("RALPH_ROTATE_THRESHOLD", &cfg.RotateThreshold)
	setInt("RALPH_MAX_ITERATIONS", &cfg.MaxIterations)
	setString("RALPH_MODEL", &cfg.Model)
	setString("RALPH_BRANCH", &cfg.Branch)
	setBool("RALPH_OPEN_PR", &cfg.OpenPR)
	setBool("RALPH_SKIP_CONFIRMATION", &cfg.SkipConfirm)
	setString("RALPH_AGENT_BINARY", &cfg.AgentBinary)
	setString("RALPH_DISPLAY", &cfg.Display)
	setString("RALPH_LOG_LEVEL", &cfg.LogLevel)
	setString("RALPH_QC_TIMEOUT", &cfg.QualityTimeout)
	setString("RALPH_QC_DEFAULT", &cfg.QualityDefault)
	setString("RALPH_REDIS_URL", &cfg.RedisURL)
	setString("RALPH_NATS_URL", &cfg.NATSURL)
	setString("RALPH_RELAY_CHANNEL", &cfg.RelayChannel)

	return cfg, parseErr
}

// Validate reports every problem at once, in the same shape task header
// validation uses.
func (c Config) Validate() error {
	issues := []string{}

	if strings.TrimSpace(c.TaskFile) == "" {
		issues = append(issues, "task file is required")
	}
	if c.WarnThreshold <= 0 {
		issues = append(issues, "warn_threshold must be positive")
	}
	if c.RotateThreshold <= 0 {
		issues = append(issues, "rotate_threshold must be positive")
	}
	if c.WarnThreshold > 0 && c.RotateThreshold > 0 && c.WarnThreshold >= c.RotateThreshold {
		issues = append(issues, "warn_threshold must be below rotate_threshold")
	}
	if c.MaxIterations <= 0 {
		issues = append(issues, "max_iterations must be positive")
	}
	switch c.Display {
	case DisplayAuto, DisplayTUI, DisplayPlain:
	default:
		issues = append(issues, "display must be one of: auto, tui, plain")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, "log_level must be one of: debug, info, warn, error")
	}
	switch strings.ToLower(c.QualityDefault) {
	case QualityDefaultPass, QualityDefaultFail:
	default:
		issues = append(issues, "quality_check_default must be pass or fail")
	}
	if strings.TrimSpace(c.QualityTimeout) != "" {
		if _, err := time.ParseDuration(c.QualityTimeout); err != nil {
			issues = append(issues, "quality_check_timeout must be a valid duration (for example 90s, 2m)")
		}
	}

	if len(issues) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(issues, "; "))
	}
	return nil
}

// QualityTimeoutDuration returns the parsed gate timeout.
func (c Config) QualityTimeoutDuration() time.Duration {
	parsed, err := time.ParseDuration(c.QualityTimeout)
	if err != nil || parsed <= 0 {
		return DefaultQualityTimeout
	}
	return parsed
}

// QualityPassOnSilence reports whether a silent or timed-out gate counts
// as a pass.
func (c Config) QualityPassOnSilence() bool {
	return strings.ToLower(c.QualityDefault) != QualityDefaultFail
}

// RelayEnabled reports whether any live relay transport is configured.
func (c Config) RelayEnabled() bool {
	return c.RedisURL != "" || c.NATSURL != ""
}
