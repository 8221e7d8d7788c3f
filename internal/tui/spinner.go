package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// SpinnerModel animates while the dashboard waits for the service.
type SpinnerModel struct {
	index int
}

// NewSpinner creates a spinner.
func NewSpinner() SpinnerModel {
	return SpinnerModel{}
}

// Tick returns a command that advances the spinner.
func (s SpinnerModel) Tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return SpinnerTickMsg(t)
	})
}

// Update advances the spinner on tick messages.
func (s SpinnerModel) Update(msg tea.Msg) (SpinnerModel, tea.Cmd) {
	if _, ok := msg.(SpinnerTickMsg); ok {
		s.index = (s.index + 1) % len(spinnerFrames)
		return s, s.Tick()
	}
	return s, nil
}

// View renders the current frame.
func (s SpinnerModel) View() string {
	return spinnerStyle.Render(spinnerFrames[s.index])
}
