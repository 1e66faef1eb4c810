package status

import (
	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	title   lipgloss.Style
	header  lipgloss.Style
	heading lipgloss.Style
	name    lipgloss.Style
	detail  lipgloss.Style
	faint   lipgloss.Style
	section lipgloss.Style
	empty   lipgloss.Style
	status  map[domain.KernelStatus]lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:   lipgloss.NewStyle().Bold(true),
		header:  lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		heading: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("250")),
		name:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		detail:  lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		faint:   lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		section: lipgloss.NewStyle().MarginTop(1),
		empty:   lipgloss.NewStyle().Faint(true),
		status: map[domain.KernelStatus]lipgloss.Style{
			domain.KernelStatusIdle:     lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
			domain.KernelStatusBusy:     lipgloss.NewStyle().Foreground(lipgloss.Color("221")),
			domain.KernelStatusStarting: lipgloss.NewStyle().Foreground(lipgloss.Color("75")),
			domain.KernelStatusDead:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		},
	}
}

func (s styles) kernelStatus(status domain.KernelStatus) string {
	style, ok := s.status[status]
	if !ok {
		style = s.faint
	}
	return style.Render(string(status))
}
