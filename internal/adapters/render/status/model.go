package status

import (
	"errors"
	"io"

	"github.com/bnema/jupyter-engine-manager/internal/application"
	tea "github.com/charmbracelet/bubbletea"
)

var ErrIncompleteRender = errors.New("status render finished before every section arrived")

// sectionMsg carries one rendered block of the status view.
type sectionMsg struct {
	index int
	body  string
}

type sectionFunc func() string

type model struct {
	header   string
	sections []sectionFunc
	bodies   []string
	pending  int
	done     bool
}

func newModel(status application.EngineStatus, opts RenderOptions) model {
	s := newStyles()
	sections := viewSections(status, opts, s)
	return model{
		header:   renderHeader(status, s),
		sections: sections,
		bodies:   make([]string, len(sections)),
		pending:  len(sections),
		done:     len(sections) == 0,
	}
}

func (m model) Init() tea.Cmd {
	if m.done {
		return tea.Quit
	}
	cmds := make([]tea.Cmd, 0, len(m.sections))
	for i, section := range m.sections {
		cmds = append(cmds, func() tea.Msg {
			return sectionMsg{index: i, body: section()}
		})
	}
	return tea.Batch(cmds...)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	section, ok := msg.(sectionMsg)
	if !ok || m.bodies[section.index] != "" {
		return m, nil
	}
	m.bodies[section.index] = section.body
	m.pending--
	if m.pending > 0 {
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m model) View() string {
	if !m.done {
		return ""
	}
	return joinView(m.header, m.bodies)
}

// Render lays out the engine status once and returns it as a string.
func Render(status application.EngineStatus, opts RenderOptions) (string, error) {
	p := tea.NewProgram(
		newModel(status, opts),
		tea.WithInput(nil),
		tea.WithOutput(io.Discard),
	)

	finalModel, err := p.Run()
	if err != nil {
		return "", err
	}

	rendered, ok := finalModel.(model)
	if !ok || !rendered.done {
		return "", ErrIncompleteRender
	}
	return rendered.View(), nil
}
