package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("208"))

	phaseStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// barWidth is the width of the burning progress bar in cells.
const barWidth = 30

func (m *Model) View() string {
	if m.quitting {
		return ""
	}
	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")

	phase := m.console.Drain.Phase()
	if err := m.console.Drain.Err(); err != nil {
		b.WriteString(errStyle.Render("Error: "+err.Error()) + "\n\n")
	}
	switch phase {
	case drain.PhaseSelect:
		b.WriteString(m.renderSelect())
	case drain.PhaseBurning:
		b.WriteString(m.renderBurning())
	case drain.PhaseReview:
		b.WriteString(m.renderReview())
	}

	b.WriteString("\n")
	if m.flash != "" {
		style := okStyle
		if m.flashErr {
			style = errStyle
		}
		b.WriteString(style.Render(m.flash) + "\n")
	}
	b.WriteString(helpStyle.Render(help(phase, m.section, m.filtering)))
	return b.String()
}

func (m *Model) renderHeader() string {
	auto := "off"
	if m.console.AutoDispatching() {
		auto = "on"
	}
	header := lipgloss.JoinHorizontal(lipgloss.Center,
		titleStyle.Render("🔥 Ember"),
		phaseStyle.Render(strings.ToUpper(string(m.console.Drain.Phase()))),
		mutedStyle.Render(fmt.Sprintf("%s · auto-dispatch %s", m.console.Project, auto)),
	)
	return header
}

func help(phase drain.Phase, sec section, filtering bool) string {
	if filtering {
		return "type to filter • enter/esc done"
	}
	switch phase {
	case drain.PhaseSelect:
		return "j/k move • space toggle • a auto-pick • A all ready • c clear • / filter • d dispatch • enter begin • D auto-dispatch • q quit"
	case drain.PhaseBurning:
		return "x abort • D auto-dispatch • q quit"
	}
	base := "tab section • j/k move • "
	switch sec {
	case sectionFailures:
		base += "r retry • g retry group • s skip • R retry all"
	case sectionPRs:
		base += "m merge • M merge all ready"
	case sectionChecklist:
		base += "space toggle"
	}
	return base + " • n new burn • q quit"
}

func (m *Model) pointer(i int) string {
	if i == m.cursor {
		return cursorStyle.Render("› ")
	}
	return "  "
}

func (m *Model) renderSelect() string {
	v := m.console.Drain.SelectView(m.filter)
	var b strings.Builder

	filter := m.filter
	if m.filtering {
		filter += "█"
	}
	if filter != "" {
		fmt.Fprintf(&b, "Filter: %s\n", filter)
	}
	fmt.Fprintf(&b, "%s %s\n\n",
		sectionStyle.Render(fmt.Sprintf("Candidates %d/%d", len(v.Candidates), v.TotalCandidates)),
		mutedStyle.Render(fmt.Sprintf("%d ready · %d auto-pick · %d selected", v.ReadyCount, v.AutoPickCount, len(v.Selected))))

	selected := make(map[string]bool, len(v.Selected))
	for _, id := range v.Selected {
		selected[id] = true
	}
	if len(v.Candidates) == 0 {
		b.WriteString(mutedStyle.Render("  No beads ready to burn.") + "\n")
	}
	for i, c := range v.Candidates {
		box := "[ ]"
		if selected[c.ID] {
			box = okStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s %s %s", box, warnStyle.Render(models.PriorityLabel(c.Priority)), c.Subject)
		if !c.Ready {
			line = mutedStyle.Render(fmt.Sprintf("%s %s %s (blocked)", box, models.PriorityLabel(c.Priority), c.Subject))
		}
		b.WriteString(m.pointer(i) + line + "\n")
	}
	if v.Starting {
		b.WriteString("\n" + warnStyle.Render("Starting drain…") + "\n")
	}
	return b.String()
}

// progressBar renders p in [0, 1] as a bar of barWidth cells.
func progressBar(p float64) string {
	filled := int(p * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return okStyle.Render(strings.Repeat("█", filled)) + mutedStyle.Render(strings.Repeat("░", barWidth-filled))
}

func (m *Model) renderBurning() string {
	v := m.console.Drain.BurningView(m.now())
	var b strings.Builder

	id := v.DrainID
	if id == "" {
		id = "locating drain…"
	}
	fmt.Fprintf(&b, "%s  %s  %s\n", titleStyle.Render(v.ElapsedText()), progressBar(v.Progress), mutedStyle.Render(id))
	fmt.Fprintf(&b, "%d running · %d queued · %d done · %d failed of %d\n\n",
		len(v.Running), len(v.Queued), len(v.Done), len(v.Failed), v.Total)

	b.WriteString(sectionStyle.Render("Running") + "\n")
	for _, l := range v.Running {
		fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render(drain.FormatElapsed(l.Elapsed)), l.Subject)
	}
	b.WriteString(sectionStyle.Render("Queued") + "\n")
	for i, l := range v.Queued {
		if i == drain.QueuedPreview {
			break
		}
		fmt.Fprintf(&b, "  %s\n", l.Subject)
	}
	if n := v.QueuedHidden(); n > 0 {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("  +%d more", n)) + "\n")
	}
	b.WriteString(sectionStyle.Render("Done") + "\n")
	for _, l := range v.Done {
		pr := ""
		if l.PRNumber > 0 {
			pr = mutedStyle.Render(fmt.Sprintf(" #%d", l.PRNumber))
		}
		fmt.Fprintf(&b, "  %s %s%s\n", okStyle.Render("✓"), l.Subject, pr)
	}
	b.WriteString(sectionStyle.Render("Failed") + "\n")
	for _, l := range v.Failed {
		fmt.Fprintf(&b, "  %s %s %s\n", errStyle.Render("✗"), l.Subject, mutedStyle.Render(l.Category))
	}
	if v.Stopping {
		b.WriteString("\n" + warnStyle.Render("Stopping drain…") + "\n")
	}
	return b.String()
}

func (m *Model) renderReview() string {
	v := m.console.Drain.ReviewView()
	var b strings.Builder

	if v.SummaryLoading() {
		b.WriteString(mutedStyle.Render("Loading summary…") + "\n\n")
	} else {
		fmt.Fprintf(&b, "%s completed, %s failed of %d in %s\n\n",
			okStyle.Render(fmt.Sprint(v.Summary.CompletedJobs)),
			errStyle.Render(fmt.Sprint(v.Summary.FailedJobs)),
			v.Summary.TotalJobs, drain.FormatElapsed(v.TotalElapsed))
	}

	tabs := make([]string, 0, 3)
	for _, s := range []section{sectionFailures, sectionPRs, sectionChecklist} {
		label := s.String()
		if s == m.section {
			tabs = append(tabs, cursorStyle.Render("["+label+"]"))
		} else {
			tabs = append(tabs, mutedStyle.Render(" "+label+" "))
		}
	}
	b.WriteString(strings.Join(tabs, " ") + "\n\n")

	switch m.section {
	case sectionFailures:
		b.WriteString(m.renderFailures())
	case sectionPRs:
		b.WriteString(m.renderPRs(v.PRs, v.PRsLoading()))
	case sectionChecklist:
		b.WriteString(m.renderChecklist())
	}
	return b.String()
}

func (m *Model) renderFailures() string {
	rows := m.failureRows()
	if len(rows) == 0 {
		return mutedStyle.Render("  No failures.") + "\n"
	}
	var b strings.Builder
	last := ""
	for i, r := range rows {
		if r.category != last {
			fmt.Fprintf(&b, "%s %s\n", sectionStyle.Render(r.title), mutedStyle.Render("· "+r.action))
			last = r.category
		}
		line := r.job.Subject
		if m.console.Remediator.Retrying(r.job.JobID) {
			line += warnStyle.Render(" retrying…")
		}
		if r.job.FailureTitle != "" {
			line += mutedStyle.Render(" " + r.job.FailureTitle)
		}
		b.WriteString(m.pointer(i) + line + "\n")
	}
	return b.String()
}

func prStyle(s review.DisplayStatus) lipgloss.Style {
	switch s {
	case review.StatusReady, review.StatusMerged:
		return okStyle
	case review.StatusCIFailing, review.StatusHasConflicts:
		return errStyle
	case review.StatusReviewRequested:
		return warnStyle
	}
	return mutedStyle
}

func (m *Model) renderPRs(prs []models.PRStatus, loading bool) string {
	if loading {
		return mutedStyle.Render("  Loading pull requests…") + "\n"
	}
	if len(prs) == 0 {
		return mutedStyle.Render("  No pull requests.") + "\n"
	}
	var b strings.Builder
	for i, pr := range prs {
		st := review.StatusOf(pr)
		badge := prStyle(st).Render(st.Label())
		if m.console.Assistant.Merging(pr.PRNumber) {
			badge = warnStyle.Render("Merging…")
		}
		fmt.Fprintf(&b, "%s#%d %s %s\n", m.pointer(i), pr.PRNumber, pr.Title, badge)
	}
	return b.String()
}

func (m *Model) renderChecklist() string {
	items, checked := m.console.Checklist.Items()
	if len(items) == 0 {
		return mutedStyle.Render("  No checklist for this drain.") + "\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", mutedStyle.Render(fmt.Sprintf("%d/%d checked", m.console.Checklist.CheckedCount(), len(items))))
	for i, item := range items {
		box := "[ ]"
		if i < len(checked) && checked[i] {
			box = okStyle.Render("[x]")
		}
		fmt.Fprintf(&b, "%s%s %s\n", m.pointer(i), box, item)
	}
	return b.String()
}
