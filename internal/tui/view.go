package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-efm-ctl/internal/stats"
)

// chromeHeight is the number of rows used by everything except status lines.
const chromeHeight = 14

func (m Model) renderDashboard() string {
	sections := []string{
		m.renderHeader(),
		m.renderPoll(),
		m.renderStatusLines(),
	}
	if m.showOps {
		sections = append(sections, m.renderOperations())
	}
	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	cluster := m.status.Cluster
	if cluster == "" {
		cluster = "(unset)"
	}
	header := fmt.Sprintf(
		" go-efm-ctl %s │ cluster %s │ %s │ Elapsed: %s ",
		m.version,
		cluster,
		OutcomeLabel(m.status.Outcome),
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Poll Section
// =============================================================================

func (m Model) renderPoll() string {
	st := m.status

	lastPoll := "never"
	if !st.LastAt.IsZero() {
		lastPoll = stats.FormatAge(st.LastAt)
	}
	changed := "never"
	if !st.Changed.IsZero() {
		changed = stats.FormatAge(st.Changed)
	}

	rows := []string{
		RenderKeyValue("Mode", fmt.Sprintf("%s every %s", st.Mode, st.Interval)),
		RenderKeyValue("Last poll", lastPoll),
		RenderKeyValue("Last change", changed),
		RenderKeyValue("Polls", fmt.Sprintf("%d (%d failed, %d reloads)", st.Polls, st.Failures, st.Reloads)),
	}
	if st.Err != nil {
		rows = append(rows, OutcomeStyle(st.Outcome).Render("Error: "+st.Err.Error()))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Poll")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Cluster Status Output
// =============================================================================

func (m Model) renderStatusLines() string {
	lines := m.status.Lines
	var body []string
	switch {
	case !m.hasStatus:
		body = []string{dimStyle.Render("waiting for first poll...")}
	case len(lines) == 0:
		body = []string{dimStyle.Render("(no output)")}
	default:
		limit := max(m.height-chromeHeight, 3)
		shown := lines
		if len(shown) > limit {
			shown = shown[:limit]
		}
		for _, line := range shown {
			body = append(body, lineStyle.Render(truncate(line, m.width-6)))
		}
		if hidden := len(lines) - len(shown); hidden > 0 {
			body = append(body, mutedStyle.Render(fmt.Sprintf("... %d more lines", hidden)))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Cluster Status")}, body...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Operations Table
// =============================================================================

func (m Model) renderOperations() string {
	ops := m.status.Operations
	rows := []string{tableHeaderStyle.Render(
		fmt.Sprintf("%-18s %6s %6s %7s %6s %9s %9s", "Operation", "Calls", "OK", "NonZero", "Errors", "P50", "P95"),
	)}
	if len(ops) == 0 {
		rows = append(rows, dimStyle.Render("no operations yet"))
	}
	for _, op := range ops {
		row := fmt.Sprintf("%-18s %6d %6d %7d %6d %9s %9s",
			op.Operation, op.Calls, op.OK, op.NonZero, op.Errors,
			stats.FormatMs(op.Latency.P50), stats.FormatMs(op.Latency.P95),
		)
		style := lineStyle
		if op.Errors > 0 {
			style = statusError
		} else if op.NonZero > 0 {
			style = statusWarning
		}
		rows = append(rows, style.Render(row))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Operations")}, rows...)...,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	parts := []string{"q: quit", "o: toggle operations", "r: refresh"}
	if m.metricsAddr != "" {
		parts = append(parts, "metrics: http://"+m.metricsAddr+"/metrics")
	}
	return footerStyle.Render(strings.Join(parts, " • "))
}

// truncate shortens s to width runes, marking the cut with an ellipsis.
func truncate(s string, width int) string {
	if width <= 1 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
