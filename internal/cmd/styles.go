package cmd

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7D56F4"))
	labelStyle = lipgloss.NewStyle().Width(12).Foreground(lipgloss.Color("#626262"))
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87"))
	faintStyle = lipgloss.NewStyle().Faint(true)
)

func field(label, value string) string {
	return labelStyle.Render(label) + " " + value
}

// formatHz renders a frequency with a unit suited to its magnitude.
func formatHz(hz int64) string {
	switch {
	case hz >= 1_000_000_000:
		return fmt.Sprintf("%.2f GHz", float64(hz)/1e9)
	case hz >= 1_000_000:
		return fmt.Sprintf("%.0f MHz", float64(hz)/1e6)
	case hz >= 1_000:
		return fmt.Sprintf("%.0f kHz", float64(hz)/1e3)
	default:
		return fmt.Sprintf("%d Hz", hz)
	}
}
