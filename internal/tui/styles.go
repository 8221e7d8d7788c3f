package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/storyline-ai/storyline/internal/core"
)

// Color palette.
var (
	colorPrimary = lipgloss.Color("#7C3AED") // purple
	colorSuccess = lipgloss.Color("#10B981") // green
	colorWarning = lipgloss.Color("#F59E0B") // amber
	colorError   = lipgloss.Color("#EF4444") // red
	colorInfo    = lipgloss.Color("#06B6D4") // cyan
	colorMuted   = lipgloss.Color("#6B7280") // gray
	colorText    = lipgloss.Color("#F9FAFB") // white
	colorBorder  = lipgloss.Color("#374151")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorText).
			MarginBottom(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	approvalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorWarning).
			Foreground(colorWarning).
			Bold(true).
			Padding(0, 1)

	bannerStyle = lipgloss.NewStyle().
			Foreground(colorError).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(colorInfo).
			Bold(true)

	logErrorStyle = lipgloss.NewStyle().
			Foreground(colorError)

	logWarnStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	logStyle = lipgloss.NewStyle().
			Foreground(colorText)

	filterPromptStyle = lipgloss.NewStyle().
				Foreground(colorWarning).
				Bold(true)
)

func badgeStyle(background lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().
		Background(background).
		Foreground(lipgloss.Color("#FFFFFF")).
		Padding(0, 1).
		Bold(true)
}

var statusBadges = map[core.Status]lipgloss.Style{
	core.StatusIdle:      badgeStyle(colorMuted),
	core.StatusRunning:   badgeStyle(colorInfo),
	core.StatusPaused:    badgeStyle(colorWarning),
	core.StatusCompleted: badgeStyle(colorSuccess),
	core.StatusAborted:   badgeStyle(colorMuted),
	core.StatusFailed:    badgeStyle(colorError),
}

// statusBadge renders the run status as a colored badge.
func statusBadge(status core.Status) string {
	style, ok := statusBadges[status]
	if !ok {
		style = badgeStyle(colorMuted)
	}
	return style.Render(string(status))
}
