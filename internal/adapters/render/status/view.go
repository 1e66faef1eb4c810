package status

import (
	"fmt"
	"strings"

	"github.com/bnema/jupyter-engine-manager/internal/application"
	"github.com/bnema/jupyter-engine-manager/internal/domain"
	"github.com/charmbracelet/lipgloss"
)

const tokenPrefixLen = 4

type RenderOptions struct {
	// ShowTokens prints server tokens in full instead of masked.
	ShowTokens bool
}

func renderHeader(status application.EngineStatus, s styles) string {
	lines := []string{
		s.title.Render("Jupyter Engine"),
		s.header.Render(fmt.Sprintf("servers: %d  kernels: %d  processes: %d",
			len(status.Servers), len(status.Kernels), len(status.Processes))),
	}
	if len(status.Servers) == 0 && len(status.Kernels) == 0 && len(status.Processes) == 0 {
		lines = append(lines, s.empty.Render("No servers or kernels cached."))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

// viewSections returns one renderer per non-empty block, in display order.
func viewSections(status application.EngineStatus, opts RenderOptions, s styles) []sectionFunc {
	var sections []sectionFunc
	if len(status.Servers) > 0 {
		sections = append(sections, func() string {
			return s.section.Render(renderServers(status.Servers, opts, s))
		})
	}
	if len(status.Kernels) > 0 {
		sections = append(sections, func() string {
			return s.section.Render(renderKernels(status.Kernels, status.Processes, s))
		})
	}
	if len(status.Processes) > 0 {
		sections = append(sections, func() string {
			return s.section.Render(renderProcesses(status.Processes, s))
		})
	}
	return sections
}

func joinView(header string, bodies []string) string {
	return lipgloss.JoinVertical(lipgloss.Left, append([]string{header}, bodies...)...)
}

func renderServers(servers []domain.ServerEntry, opts RenderOptions, s styles) string {
	parts := []string{s.heading.Render("Servers")}
	for _, server := range servers {
		parts = append(parts, lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.name.Render(domain.ServerName(server.URL)),
			" ",
			s.detail.Render(server.URL),
			" ",
			s.faint.Render(fmt.Sprintf("token=%s id=%s", maskToken(server.Token, opts.ShowTokens), shortID(server.Fingerprint))),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderKernels(kernels []domain.KernelEntry, processes []domain.ProcessInfo, s styles) string {
	live := make(map[string]domain.KernelStatus, len(processes))
	for _, process := range processes {
		live[process.KernelID] = process.Status
	}

	parts := []string{s.heading.Render("Cached kernels")}
	for _, kernel := range kernels {
		state := s.faint.Render("cached")
		if status, ok := live[kernel.KernelID]; ok {
			state = s.kernelStatus(status)
		}
		parts = append(parts, lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.name.Render(kernel.Key),
			" ",
			s.detail.Render(kernel.KernelID),
			" ",
			s.faint.Render("on "+domain.ServerName(kernel.BaseURL)),
			" ",
			state,
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderProcesses(processes []domain.ProcessInfo, s styles) string {
	parts := []string{s.heading.Render("Processes")}
	for _, process := range processes {
		owner := ""
		if process.PluginID != "" && process.PluginID != process.Name {
			owner = s.faint.Render(" (plugin " + process.PluginID + ")")
		}
		parts = append(parts, lipgloss.JoinHorizontal(
			lipgloss.Top,
			s.name.Render(process.Name),
			owner,
			" ",
			s.detail.Render(process.KernelID),
			" ",
			s.kernelStatus(process.Status),
		))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func maskToken(token string, show bool) string {
	switch {
	case token == "":
		return "none"
	case show:
		return token
	case len(token) <= tokenPrefixLen:
		return strings.Repeat("*", len(token))
	default:
		return token[:tokenPrefixLen] + "…"
	}
}

func shortID(fingerprint string) string {
	if len(fingerprint) > 8 {
		return fingerprint[:8]
	}
	return fingerprint
}
