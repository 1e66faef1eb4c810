package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type taskDoneMsg struct {
	err error
}

type statusLineMsg string

type progressSpinnerModel struct {
	spinner spinner.Model
	label   string
	detail  string
	task    tea.Cmd
	err     error
	done    bool
}

func newProgressSpinnerModel(label string, task tea.Cmd) progressSpinnerModel {
	s := spinner.New(
		spinner.WithSpinner(spinner.Dot),
		spinner.WithStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("69"))),
	)

	return progressSpinnerModel{
		spinner: s,
		label:   label,
		task:    task,
	}
}

func (m progressSpinnerModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.task)
}

func (m progressSpinnerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case statusLineMsg:
		m.detail = lastLine(string(msg))
		return m, nil
	case taskDoneMsg:
		m.done = true
		m.err = msg.err
		return m, tea.Quit
	default:
		return m, nil
	}
}

func (m progressSpinnerModel) View() string {
	if m.done {
		return ""
	}
	if m.detail == "" {
		return fmt.Sprintf("%s %s", m.spinner.View(), m.label)
	}
	return fmt.Sprintf("%s %s %s", m.spinner.View(), m.label, lipgloss.NewStyle().Faint(true).Render(m.detail))
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// withProgress runs task behind a spinner on interactive terminals; status
// lines update the spinner instead of scrolling. Elsewhere task runs plainly.
func (a *app) withProgress(cmd *cobra.Command, label string, task func(context.Context) error) error {
	ctx := cmd.Context()
	if !a.interactive {
		return task(ctx)
	}

	taskCmd := func() tea.Msg {
		return taskDoneMsg{err: task(ctx)}
	}

	p := tea.NewProgram(
		newProgressSpinnerModel(label, taskCmd),
		tea.WithInput(nil),
		tea.WithOutput(cmd.ErrOrStderr()),
		tea.WithContext(ctx),
	)

	a.progress.redirect(func(line string) { p.Send(statusLineMsg(line)) })
	defer a.progress.redirect(nil)

	finalModel, err := p.Run()
	if err != nil {
		return err
	}

	result, ok := finalModel.(progressSpinnerModel)
	if !ok {
		return fmt.Errorf("unexpected final spinner model type %T", finalModel)
	}

	return result.err
}
