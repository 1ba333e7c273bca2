package cli

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

func renderMessage(msg tracker.Message) string {
	switch msg.Kind {
	case tracker.MessageSuccess:
		return okStyle.Render(msg.Body)
	case tracker.MessageError:
		return errorStyle.Render(msg.Body)
	case tracker.MessageWarning:
		return warningStyle.Render(msg.Body)
	default:
		return mutedStyle.Render(msg.Body)
	}
}

func renderState(state tracker.State) string {
	switch state {
	case tracker.StateCompleted:
		return okStyle.Render(string(state))
	case tracker.StateFailed:
		return errorStyle.Render(string(state))
	case tracker.StateCanceled:
		return warningStyle.Render(string(state))
	default:
		return mutedStyle.Render(string(state))
	}
}
