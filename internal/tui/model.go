// Package tui runs the burn workflow of one project as a terminal UI.
package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// tickMsg drives the elapsed-time display.
type tickMsg time.Time

// changedMsg reports a workflow state change.
type changedMsg struct{}

// actionMsg is the outcome of an action run in the background.
type actionMsg struct {
	what string
	err  error
}

// section is the focused list of the review phase.
type section int

const (
	sectionFailures section = iota
	sectionPRs
	sectionChecklist
)

func (s section) String() string {
	switch s {
	case sectionFailures:
		return "Failures"
	case sectionPRs:
		return "Pull requests"
	default:
		return "Smoke test"
	}
}

// Model is the bubbletea model of the burn workflow.
type Model struct {
	console *app.Console
	ctx     context.Context
	changed chan struct{}
	unsub   func()
	now     func() time.Time

	width  int
	height int

	cursor    int
	filter    string
	filtering bool
	section   section

	flash    string
	flashErr bool
	quitting bool
}

// NewModel builds a model over console. Actions run with ctx.
func NewModel(ctx context.Context, console *app.Console) *Model {
	m := &Model{
		console: console,
		ctx:     ctx,
		changed: make(chan struct{}, 1),
		now:     time.Now,
	}
	m.unsub = console.Drain.Subscribe(func() {
		select {
		case m.changed <- struct{}{}:
		default:
		}
	})
	return m
}

// Close removes the model's state subscription.
func (m *Model) Close() {
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(tick(), m.waitChange())
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) waitChange() tea.Cmd {
	return func() tea.Msg {
		select {
		case <-m.changed:
			return changedMsg{}
		case <-m.ctx.Done():
			return nil
		}
	}
}

// run executes fn in the background and reports its outcome as what.
func (m *Model) run(what string, fn func(ctx context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{what: what, err: fn(ctx)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tickMsg:
		return m, tick()
	case changedMsg:
		m.clampCursor()
		return m, m.waitChange()
	case actionMsg:
		if msg.err != nil {
			m.flash, m.flashErr = fmt.Sprintf("%s failed: %v", msg.what, msg.err), true
		} else {
			m.flash, m.flashErr = msg.what, false
		}
		m.clampCursor()
	case tea.KeyMsg:
		return m, m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) tea.Cmd {
	key := msg.String()
	if key == "ctrl+c" {
		m.quitting = true
		return tea.Quit
	}
	if m.filtering {
		m.handleFilterKey(msg)
		return nil
	}

	switch key {
	case "q":
		m.quitting = true
		return tea.Quit
	case "j", "down":
		m.cursor++
		m.clampCursor()
		return nil
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
		return nil
	case "D":
		on := !m.console.AutoDispatching()
		m.console.SetAutoDispatch(on)
		if on {
			m.flash, m.flashErr = "Auto-dispatch on", false
		} else {
			m.flash, m.flashErr = "Auto-dispatch off", false
		}
		return nil
	}

	switch m.console.Drain.Phase() {
	case drain.PhaseSelect:
		return m.selectKey(key)
	case drain.PhaseBurning:
		return m.burningKey(key)
	case drain.PhaseReview:
		return m.reviewKey(key)
	}
	return nil
}

func (m *Model) handleFilterKey(msg tea.KeyMsg) {
	switch msg.Type {
	case tea.KeyEnter, tea.KeyEsc:
		m.filtering = false
	case tea.KeyBackspace:
		if r := []rune(m.filter); len(r) > 0 {
			m.filter = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.filter += " "
	case tea.KeyRunes:
		m.filter += string(msg.Runes)
	}
	m.cursor = 0
}

func (m *Model) selectKey(key string) tea.Cmd {
	o := m.console.Drain
	switch key {
	case "/":
		m.filtering = true
	case "esc":
		m.filter = ""
		m.cursor = 0
	case " ":
		if c, ok := m.currentCandidate(); ok {
			m.report("Toggle", o.Toggle(c.ID))
		}
	case "a":
		m.report("Auto-pick", o.AutoPick())
	case "A":
		m.report("Select all ready", o.SelectAllReady())
	case "c":
		o.Clear()
	case "d":
		if c, ok := m.currentCandidate(); ok {
			id := c.ID
			return m.run("Dispatched "+id, func(ctx context.Context) error {
				_, err := m.console.Dispatch(ctx, id)
				return err
			})
		}
	case "enter", "b":
		if !o.SelectView("").CanBegin() {
			m.flash, m.flashErr = "Select at least one bead first", true
			return nil
		}
		return m.run("Burn started", func(ctx context.Context) error {
			_, err := o.Begin(ctx)
			return err
		})
	}
	return nil
}

func (m *Model) burningKey(key string) tea.Cmd {
	if key == "x" {
		return m.run("Drain stopped", m.console.Drain.Abort)
	}
	return nil
}

func (m *Model) reviewKey(key string) tea.Cmd {
	c := m.console
	switch key {
	case "tab":
		m.section = (m.section + 1) % 3
		m.cursor = 0
	case "shift+tab":
		m.section = (m.section + 2) % 3
		m.cursor = 0
	case "n":
		c.Drain.NewBurn()
		m.section, m.cursor = sectionFailures, 0
	case "R":
		return m.run("Retried all failed jobs", func(ctx context.Context) error {
			failed, err := c.RetryAllFailed(ctx)
			return batchErr(err, len(failed), "jobs")
		})
	case "M":
		return m.run("Merged ready pull requests", func(ctx context.Context) error {
			return batchErr(nil, len(c.MergeReady(ctx)), "pull requests")
		})
	}

	switch m.section {
	case sectionFailures:
		rows := m.failureRows()
		if m.cursor >= len(rows) {
			return nil
		}
		row := rows[m.cursor]
		switch key {
		case "r":
			return m.run("Retried "+row.job.JobID, func(ctx context.Context) error {
				return c.Remediator.RetryOne(ctx, row.job.JobID)
			})
		case "g":
			return m.run("Retried group "+row.category, func(ctx context.Context) error {
				failed, err := c.RetryGroup(ctx, row.category)
				return batchErr(err, len(failed), "jobs")
			})
		case "s":
			return m.run("Skipped "+row.job.JobID, func(ctx context.Context) error {
				return c.Skip(ctx, row.job.JobID)
			})
		}
	case sectionPRs:
		prs := c.Drain.ReviewView().PRs
		if key == "m" && m.cursor < len(prs) {
			pr := prs[m.cursor]
			if review.StatusOf(pr) != review.StatusReady {
				m.flash, m.flashErr = fmt.Sprintf("#%d is not ready to merge", pr.PRNumber), true
				return nil
			}
			return m.run(fmt.Sprintf("Merged #%d", pr.PRNumber), func(ctx context.Context) error {
				return c.Assistant.MergeOne(ctx, prs, pr.PRNumber)
			})
		}
	case sectionChecklist:
		if key == " " {
			i := m.cursor
			return m.run("Checklist saved", func(ctx context.Context) error {
				_, err := c.Checklist.Toggle(ctx, i)
				return err
			})
		}
	}
	return nil
}

func (m *Model) report(what string, err error) {
	if err != nil {
		m.flash, m.flashErr = fmt.Sprintf("%s: %v", what, err), true
	}
}

func batchErr(err error, failed int, noun string) error {
	if err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d %s failed", failed, noun)
	}
	return nil
}

// failureRow is one failed job in the flattened failure list.
type failureRow struct {
	category string
	title    string
	action   string
	job      models.DrainSummaryJob
}

func (m *Model) failureRows() []failureRow {
	var rows []failureRow
	for _, g := range m.console.FailureGroups() {
		for _, j := range g.Jobs {
			rows = append(rows, failureRow{category: g.Category, title: g.Title, action: g.Tier.Label(), job: j})
		}
	}
	return rows
}

func (m *Model) currentCandidate() (bead.Candidate, bool) {
	cands := m.console.Drain.SelectView(m.filter).Candidates
	if m.cursor < 0 || m.cursor >= len(cands) {
		return bead.Candidate{}, false
	}
	return cands[m.cursor], true
}

// listLen is the length of the list the cursor moves over.
func (m *Model) listLen() int {
	switch m.console.Drain.Phase() {
	case drain.PhaseSelect:
		return len(m.console.Drain.SelectView(m.filter).Candidates)
	case drain.PhaseReview:
		switch m.section {
		case sectionFailures:
			return len(m.failureRows())
		case sectionPRs:
			return len(m.console.Drain.ReviewView().PRs)
		default:
			items, _ := m.console.Checklist.Items()
			return len(items)
		}
	}
	return 0
}

func (m *Model) clampCursor() {
	n := m.listLen()
	if m.cursor >= n {
		m.cursor = n - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
}

// Run starts the terminal UI and blocks until the user quits or ctx ends.
func Run(ctx context.Context, console *app.Console) error {
	m := NewModel(ctx, console)
	defer m.Close()
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}
