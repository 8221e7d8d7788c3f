package tui

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/glamour"
	"github.com/sahilm/fuzzy"

	"github.com/storyline-ai/storyline/internal/core"
	"github.com/storyline-ai/storyline/internal/eventlog"
)

// View renders the dashboard.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n")

	if m.banner != "" {
		b.WriteString(bannerStyle.Render("⚠ " + m.banner))
		b.WriteString("\n")
	}

	if m.snap == nil {
		b.WriteString("\n")
		b.WriteString(m.spinner.View() + " waiting for the service...")
		b.WriteString("\n")
		b.WriteString(m.renderFooter())
		return b.String()
	}

	b.WriteString(m.renderMetrics())
	b.WriteString("\n")

	if m.snap.Run.Approval.Awaiting {
		b.WriteString(m.renderApproval())
		b.WriteString("\n")
	}

	if m.showPreview {
		b.WriteString(m.renderPreview())
	} else {
		b.WriteString(m.renderLog())
	}

	b.WriteString("\n")
	b.WriteString(m.renderFooter())
	return b.String()
}

func (m Model) renderHeader() string {
	run := m.currentRun()

	title := titleStyle.Render("storyline")
	badge := statusBadge(run.Status)

	story := run.Story
	if story == "" {
		story = "(no story)"
	}
	state := run.CurrentState
	if state == "" {
		state = "-"
	}

	line := fmt.Sprintf("%s  %s  %s  step: %s", title, badge, story, state)
	if run.ID != "" {
		line += mutedStyle.Render("  [" + run.ID + "]")
	}
	if m.connecting {
		line += "  " + m.spinner.View() + mutedStyle.Render(" connecting")
	}
	if run.Error != "" {
		line += "\n" + bannerStyle.Render("error: "+run.Error)
	}
	return headerStyle.Render(line)
}

func (m Model) renderMetrics() string {
	run := m.currentRun()

	totals := fmt.Sprintf("tokens %d (in %d / out %d)   cost $%.3f",
		run.Tokens, run.TokensInput, run.TokensOutput, run.CostUSD)
	if m.snap.Suppressed > 0 {
		totals += mutedStyle.Render(fmt.Sprintf("   %d duplicates suppressed", m.snap.Suppressed))
	}

	if len(run.ModelMetrics) == 0 {
		return boxStyle.Render(totals)
	}

	models := make([]string, 0, len(run.ModelMetrics))
	for name := range run.ModelMetrics {
		models = append(models, name)
	}
	sort.Strings(models)

	var rows strings.Builder
	rows.WriteString(totals)
	rows.WriteString("\n")
	rows.WriteString(mutedStyle.Render(fmt.Sprintf("%-14s %8s %8s %8s %10s",
		"MODEL", "TOKENS", "IN", "OUT", "COST")))
	for _, name := range models {
		mm := run.ModelMetrics[name]
		rows.WriteString(fmt.Sprintf("\n%-14s %8d %8d %8d %9.3f$",
			name, mm.Tokens, mm.TokensInput, mm.TokensOutput, mm.CostUSD))
	}
	return boxStyle.Render(rows.String())
}

func (m Model) renderApproval() string {
	prompt := m.snap.Run.Approval.Prompt
	if prompt == "" {
		prompt = "approval required"
	}
	text := "⏸ " + prompt
	if n := len(m.snap.Run.PendingApprovals); n > 0 {
		text += mutedStyle.Render(fmt.Sprintf("  (+%d queued)", n))
	}
	return approvalStyle.Render(text)
}

func (m Model) renderLog() string {
	label := "activity"
	if m.filtering {
		label = filterPromptStyle.Render("/ ") + m.filterInput.View()
	} else if m.filterQuery != "" {
		label = fmt.Sprintf("activity (filter: %s)", m.filterQuery)
	}
	return label + "\n" + m.logView.View()
}

func (m Model) renderPreview() string {
	post := m.finalPost()
	if post == "" {
		return mutedStyle.Render("no final post yet (v to return to the log)")
	}
	width := m.width - 4
	if width < 20 {
		width = 20
	}
	return boxStyle.Render(renderMarkdown(post, width))
}

func (m Model) renderFooter() string {
	help := "q quit · p pause · r resume · a abort · R reset · c copy · / filter · v preview · tab run"
	footer := footerStyle.Render(help)
	if m.statusLine != "" {
		footer += "\n" + mutedStyle.Render(m.statusLine)
	}
	if m.lastError != "" {
		footer += "\n" + bannerStyle.Render(m.lastError)
	}
	return footer
}

func (m Model) currentRun() core.Run {
	if m.snap == nil {
		return core.Run{Status: core.StatusIdle}
	}
	return m.snap.Run
}

// formatLogEntry renders one activity log line. Timestamps arrive as ISO
// strings; only the clock part is shown.
func formatLogEntry(entry eventlog.Entry) string {
	ts := entry.Timestamp
	if len(ts) >= 19 {
		ts = ts[11:19]
	}
	line := fmt.Sprintf("[%s] %-18s", ts, entry.Type)
	if entry.State != "" {
		line += " " + entry.State
	}
	if entry.Message != "" {
		line += "  " + entry.Message
	}
	return line
}

// resizeViews recomputes the log viewport for the new window size.
func (m *Model) resizeViews() {
	height := m.height - 14
	if height < 5 {
		height = 5
	}
	width := m.width
	if width < 20 {
		width = 20
	}

	if m.logView.Width == 0 {
		m.logView = viewport.New(width, height)
	} else {
		m.logView.Width = width
		m.logView.Height = height
	}
	m.refreshLogView()
}

// refreshLogView rebuilds the viewport content, applying the fuzzy filter.
func (m *Model) refreshLogView() {
	if m.snap == nil {
		m.logView.SetContent("")
		return
	}

	lines := make([]string, len(m.snap.Log))
	for i, entry := range m.snap.Log {
		lines[i] = formatLogEntry(entry)
	}

	if m.filterQuery != "" {
		matches := fuzzy.Find(m.filterQuery, lines)
		matched := make(map[int]bool, len(matches))
		for _, match := range matches {
			matched[match.Index] = true
		}
		filtered := make([]string, 0, len(matches))
		for i, line := range lines {
			if matched[i] {
				filtered = append(filtered, line)
			}
		}
		lines = filtered
	}

	styled := make([]string, len(lines))
	for i, line := range lines {
		styled[i] = styleLogLine(line)
	}
	atBottom := m.logView.AtBottom()
	m.logView.SetContent(strings.Join(styled, "\n"))
	if atBottom {
		m.logView.GotoBottom()
	}
}

func styleLogLine(line string) string {
	switch {
	case strings.Contains(line, " error "), strings.Contains(line, " aborted "):
		return logErrorStyle.Render(line)
	case strings.Contains(line, " approval_required "), strings.Contains(line, " paused "):
		return logWarnStyle.Render(line)
	default:
		return logStyle.Render(line)
	}
}

// Markdown rendering shares glamour renderers per width; building one is
// expensive enough to matter on every View call.
var (
	mdMu        sync.Mutex
	mdRenderers = map[int]*glamour.TermRenderer{}
)

func renderMarkdown(input string, width int) string {
	input = strings.TrimRight(input, "\n")
	if input == "" {
		return ""
	}

	r := markdownRenderer(width)
	if r == nil {
		return input
	}
	out, err := r.Render(input)
	if err != nil {
		return input
	}
	return strings.TrimRight(out, "\n")
}

func markdownRenderer(width int) *glamour.TermRenderer {
	mdMu.Lock()
	defer mdMu.Unlock()

	if r, ok := mdRenderers[width]; ok {
		return r
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	mdRenderers[width] = r
	return r
}
