package commands

import (
	"github.com/charmbracelet/lipgloss"
)

var (
	primary = lipgloss.Color("#00ff9f")
	dim     = lipgloss.Color("#6e7681")
	accent  = lipgloss.Color("#58a6ff")
	danger  = lipgloss.Color("#ff7b72")

	titleStyle     = lipgloss.NewStyle().Bold(true).Foreground(primary)
	labelStyle     = lipgloss.NewStyle().Bold(true).Foreground(primary)
	userStyle      = lipgloss.NewStyle().Foreground(accent)
	assistantStyle = lipgloss.NewStyle().Foreground(primary)
	systemStyle    = lipgloss.NewStyle().Foreground(dim)
	errorStyle     = lipgloss.NewStyle().Bold(true).Foreground(danger)
)

func statusStyle(ok bool) lipgloss.Style {
	if ok {
		return lipgloss.NewStyle().Foreground(primary)
	}
	return lipgloss.NewStyle().Foreground(danger)
}
