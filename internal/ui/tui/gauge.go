package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/IceColdLight/ralph-wiggum-claude-code/internal/contracts"
)

const gaugeWidth = 30

var (
	gaugeOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("35"))
	gaugeWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	gaugeOverStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

// renderGauge draws the context budget as a fixed-width bar. The bar turns
// amber past the warn threshold and red past the rotate threshold.
func renderGauge(tokens *contracts.TokenSnapshot) string {
	if tokens == nil {
		return ""
	}
	limit := tokens.RotateThreshold
	if limit <= 0 {
		return fmt.Sprintf("%s tokens", formatTokens(tokens.ContextTokens))
	}
	ratio := float64(tokens.ContextTokens) / float64(limit)
	if ratio > 1 {
		ratio = 1
	}
	filled := int(ratio * gaugeWidth)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", gaugeWidth-filled)

	style := gaugeOKStyle
	switch {
	case tokens.ContextTokens >= limit:
		style = gaugeOverStyle
	case tokens.WarnThreshold > 0 && tokens.ContextTokens >= tokens.WarnThreshold:
		style = gaugeWarnStyle
	}
	label := fmt.Sprintf(" %s/%s", formatTokens(tokens.ContextTokens), formatTokens(limit))
	if tokens.Estimated {
		label += " (est)"
	}
	return style.Render(bar) + label
}

func formatTokens(n int) string {
	if n >= 1000 {
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}
