package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg time.Time

type doneMsg struct {
	details []string
	err     error
}

type model struct {
	title    string
	frame    int
	done     bool
	canceled bool
	result   doneMsg
	cancel   context.CancelFunc
}

func (m model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.String() == "q" {
			m.canceled = true
			m.cancel()
			return m, tea.Quit
		}
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.result = msg
		return m, tea.Quit
	}
	return m, nil
}

func (m model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")
	for _, d := range m.result.details {
		b.WriteString(detailStyle.Render("  • " + d))
		b.WriteString("\n")
	}
	switch {
	case !m.done:
		b.WriteString(fmt.Sprintf("\n%s working, press q to abort\n", spinnerStyle.Render(spinnerFrames[m.frame])))
	case m.result.err != nil:
		b.WriteString("\n" + failStyle.Render("FAIL") + " " + m.result.err.Error() + "\n")
	default:
		b.WriteString("\n" + okStyle.Render("OK") + "\n")
	}
	return b.String()
}

// Run executes fn under a terminal progress view and returns its outcome.
// Pressing ctrl+c or q cancels the context handed to fn.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := tea.NewProgram(model{title: title, cancel: cancel})
	go func() {
		details, err := fn(ctx)
		p.Send(doneMsg{details: details, err: err})
	}()

	out, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("run progress ui: %w", err)
	}
	final, ok := out.(model)
	if !ok || final.canceled {
		return nil, context.Canceled
	}
	return final.result.details, final.result.err
}
