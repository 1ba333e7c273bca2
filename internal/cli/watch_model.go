package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/cuongbtq/analysis-tracker/internal/tracker"
)

const (
	maxBarWidth     = 60
	maxShownHistory = 6
)

// eventMsg carries a tracker event into the bubbletea loop
type eventMsg tracker.Event

type watchModel struct {
	jobID    string
	bar      progress.Model
	snap     tracker.Snapshot
	messages []tracker.Message
	lastErr  string
	done     bool
	canceled bool
}

func newWatchModel(jobID string) watchModel {
	return watchModel{
		jobID: jobID,
		bar:   progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		snap: tracker.Snapshot{
			JobID:  jobID,
			State:  tracker.StateTracking,
			Status: tracker.StatusPending,
		},
	}
}

func (m watchModel) Init() tea.Cmd {
	return nil
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.bar.Width = min(maxBarWidth, max(10, msg.Width-8))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.canceled = !m.done
			return m, tea.Quit
		}
		return m, nil

	case eventMsg:
		ev := tracker.Event(msg)
		m.snap = ev.Snapshot
		if ev.Message != nil {
			m.messages = append(m.messages, *ev.Message)
		}

		switch {
		case ev.Kind == tracker.EventRetrying && ev.Err != nil:
			m.lastErr = ev.Err.Error()
		case ev.Kind != tracker.EventRetrying:
			m.lastErr = ""
		}

		if ev.Terminal() {
			m.done = true
			return m, tea.Quit
		}
		return m, nil
	}

	return m, nil
}

func (m watchModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Analysis " + m.jobID))
	b.WriteString("\n\n")
	b.WriteString(m.bar.ViewAs(float64(m.snap.Progress) / 100))
	b.WriteString("\n")

	status := fmt.Sprintf("%s  %s", renderState(m.snap.State), mutedStyle.Render(string(m.snap.Status)))
	if !m.snap.HasStarted && !m.snap.State.IsTerminal() {
		status += mutedStyle.Render(fmt.Sprintf("  waiting to start (check %d)", m.snap.InitialCheckCount))
	}
	b.WriteString(status)
	b.WriteString("\n")

	if m.lastErr != "" {
		b.WriteString(warningStyle.Render(fmt.Sprintf("retry %d: %s", m.snap.RetryCount, m.lastErr)))
		b.WriteString("\n")
	}

	shown := m.messages
	if len(shown) > maxShownHistory {
		shown = shown[len(shown)-maxShownHistory:]
	}
	if len(shown) > 0 {
		lines := make([]string, len(shown))
		for i, msg := range shown {
			lines[i] = renderMessage(msg)
		}
		b.WriteString(panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
		b.WriteString("\n")
	}

	if !m.done {
		b.WriteString(mutedStyle.Render("q to stop tracking"))
		b.WriteString("\n")
	}

	return b.String()
}
