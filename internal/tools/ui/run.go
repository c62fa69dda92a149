// Package ui renders operator command progress and reports in the terminal.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type tickMsg struct{}

type doneMsg struct {
	details []string
	err     error
}

type progressModel struct {
	title   string
	frame   int
	started time.Time
	done    bool
	details []string
	err     error
	cancel  context.CancelFunc
	work    func(context.Context) ([]string, error)
	ctx     context.Context
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg { return tickMsg{} })
}

func (m progressModel) Init() tea.Cmd {
	return tea.Batch(tick(), func() tea.Msg {
		details, err := m.work(m.ctx)
		return doneMsg{details: details, err: err}
	})
}

func (m progressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.cancel()
		}
		return m, nil
	case tickMsg:
		if m.done {
			return m, nil
		}
		m.frame = (m.frame + 1) % len(spinnerFrames)
		return m, tick()
	case doneMsg:
		m.done = true
		m.details = msg.details
		m.err = msg.err
		return m, tea.Quit
	}
	return m, nil
}

func (m progressModel) View() string {
	var b strings.Builder
	if !m.done {
		fmt.Fprintf(&b, "%s %s %s\n",
			accentStyle.Render(spinnerFrames[m.frame]),
			titleStyle.Render(m.title),
			mutedStyle.Render(time.Since(m.started).Round(100*time.Millisecond).String()))
		return b.String()
	}
	status := okStyle.Render("✔ " + m.title)
	if m.err != nil {
		status = failStyle.Render("✘ " + m.title)
	}
	b.WriteString(status + "\n")
	for _, d := range m.details {
		b.WriteString(mutedStyle.Render("  • ") + d + "\n")
	}
	if m.err != nil {
		b.WriteString(failStyle.Render("  error: ") + m.err.Error() + "\n")
	}
	return b.String()
}

// Run executes fn behind a spinner and prints its details when it finishes.
// Pressing q or ctrl+c cancels the context passed to fn.
func Run(title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()
	m := progressModel{title: title, started: time.Now(), cancel: cancel, work: fn, ctx: ctx}
	final, err := tea.NewProgram(m).Run()
	if err != nil {
		return nil, fmt.Errorf("run terminal ui: %w", err)
	}
	fm := final.(progressModel)
	return fm.details, fm.err
}
