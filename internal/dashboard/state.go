package dashboard

import (
	"html/template"
	"time"

	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// StateView is the whole workflow as the page renders it. Exactly one of
// Select, Burning and Review is set, matching Phase.
type StateView struct {
	Project      string        `json:"project"`
	Phase        drain.Phase   `json:"phase"`
	AutoDispatch bool          `json:"auto_dispatch"`
	Error        string        `json:"error,omitempty"`
	Select       *SelectState  `json:"select,omitempty"`
	Burning      *BurningState `json:"burning,omitempty"`
	Review       *ReviewState  `json:"review,omitempty"`
}

// CandidateRow is one bead of the candidate pool.
type CandidateRow struct {
	ID       string   `json:"id"`
	Subject  string   `json:"subject"`
	Priority string   `json:"priority"`
	Ready    bool     `json:"ready"`
	Selected bool     `json:"selected"`
	Blockers []string `json:"blockers,omitempty"`
}

// SelectState is the select phase.
type SelectState struct {
	Filter          string         `json:"filter,omitempty"`
	Candidates      []CandidateRow `json:"candidates"`
	TotalCandidates int            `json:"total_candidates"`
	ReadyCount      int            `json:"ready_count"`
	AutoPickCount   int            `json:"auto_pick_count"`
	SelectedCount   int            `json:"selected_count"`
	Starting        bool           `json:"starting"`
	CanBegin        bool           `json:"can_begin"`
}

// JobRow is one job of a burning drain.
type JobRow struct {
	ID       string           `json:"id"`
	Subject  string           `json:"subject"`
	Status   models.JobStatus `json:"status"`
	Elapsed  string           `json:"elapsed,omitempty"`
	PRNumber int              `json:"pr_number,omitempty"`
	Category string           `json:"category,omitempty"`
}

// BurningState is the burning phase.
type BurningState struct {
	DrainID      string   `json:"drain_id,omitempty"`
	Elapsed      string   `json:"elapsed"`
	Progress     int      `json:"progress"`
	Total        int      `json:"total"`
	Running      []JobRow `json:"running"`
	Queued       []JobRow `json:"queued"`
	QueuedHidden int      `json:"queued_hidden"`
	Done         []JobRow `json:"done"`
	Failed       []JobRow `json:"failed"`
	Stopping     bool     `json:"stopping"`
}

// FailedRow is one failed job of a failure group.
type FailedRow struct {
	JobID    string `json:"job_id"`
	Subject  string `json:"subject"`
	Title    string `json:"title,omitempty"`
	Retrying bool   `json:"retrying"`
}

// GroupRow is one failure group.
type GroupRow struct {
	Category  string      `json:"category"`
	Title     string      `json:"title"`
	Action    string      `json:"action"`
	Expanded  bool        `json:"expanded"`
	Retryable bool        `json:"retryable"`
	Retrying  bool        `json:"retrying"`
	Jobs      []FailedRow `json:"jobs"`
}

// PRRow is one pull request of the reviewed drain.
type PRRow struct {
	Number  int                  `json:"number"`
	Title   string               `json:"title"`
	URL     string               `json:"url"`
	Status  review.DisplayStatus `json:"status"`
	Label   string               `json:"label"`
	Merging bool                 `json:"merging"`
}

// CheckItem is one smoke-test checklist entry.
type CheckItem struct {
	Index   int           `json:"index"`
	Text    string        `json:"text"`
	HTML    template.HTML `json:"html"`
	Checked bool          `json:"checked"`
}

// ReviewState is the review phase.
type ReviewState struct {
	DrainID        string      `json:"drain_id,omitempty"`
	SummaryLoading bool        `json:"summary_loading"`
	Total          int         `json:"total"`
	Completed      int         `json:"completed"`
	Failed         int         `json:"failed"`
	Elapsed        string      `json:"elapsed"`
	Groups         []GroupRow  `json:"groups"`
	RetryingAll    bool        `json:"retrying_all"`
	PRsLoading     bool        `json:"prs_loading"`
	PRs            []PRRow     `json:"prs"`
	ReadyPRs       int         `json:"ready_prs"`
	Merging        bool        `json:"merging"`
	Checklist      []CheckItem `json:"checklist"`
	CheckedCount   int         `json:"checked_count"`
}

// buildState snapshots the console at instant now.
func buildState(c *app.Console, filter string, now time.Time) StateView {
	v := StateView{
		Project:      c.Project,
		Phase:        c.Drain.Phase(),
		AutoDispatch: c.AutoDispatching(),
	}
	if err := c.Drain.Err(); err != nil {
		v.Error = err.Error()
	}
	switch v.Phase {
	case drain.PhaseSelect:
		v.Select = selectState(c, filter)
	case drain.PhaseBurning:
		v.Burning = burningState(c.Drain.BurningView(now))
	case drain.PhaseReview:
		v.Review = reviewState(c)
	}
	return v
}

func selectState(c *app.Console, filter string) *SelectState {
	sv := c.Drain.SelectView(filter)
	beads, _ := c.Store.Beads.Get()
	idx := bead.NewIndex(beads)
	selected := make(map[string]bool, len(sv.Selected))
	for _, id := range sv.Selected {
		selected[id] = true
	}

	st := &SelectState{
		Filter:          filter,
		TotalCandidates: sv.TotalCandidates,
		ReadyCount:      sv.ReadyCount,
		AutoPickCount:   sv.AutoPickCount,
		SelectedCount:   len(sv.Selected),
		Starting:        sv.Starting,
		CanBegin:        sv.CanBegin(),
	}
	for _, cand := range sv.Candidates {
		row := CandidateRow{
			ID:       cand.ID,
			Subject:  cand.Subject,
			Priority: models.PriorityLabel(cand.Priority),
			Ready:    cand.Ready,
			Selected: selected[cand.ID],
		}
		if !cand.Ready {
			row.Blockers = bead.Blockers(cand.Bead, idx)
		}
		st.Candidates = append(st.Candidates, row)
	}
	return st
}

func jobRows(lines []drain.JobLine) []JobRow {
	rows := make([]JobRow, 0, len(lines))
	for _, l := range lines {
		row := JobRow{
			ID:       l.Job.ID,
			Subject:  l.Subject,
			Status:   l.Job.Status,
			PRNumber: l.PRNumber,
			Category: l.Category,
		}
		if l.Job.Status == models.JobRunning {
			row.Elapsed = drain.FormatElapsed(l.Elapsed)
		}
		rows = append(rows, row)
	}
	return rows
}

func burningState(bv drain.BurningView) *BurningState {
	queued := bv.Queued
	if len(queued) > drain.QueuedPreview {
		queued = queued[:drain.QueuedPreview]
	}
	return &BurningState{
		DrainID:      bv.DrainID,
		Elapsed:      bv.ElapsedText(),
		Progress:     int(bv.Progress * 100),
		Total:        bv.Total,
		Running:      jobRows(bv.Running),
		Queued:       jobRows(queued),
		QueuedHidden: bv.QueuedHidden(),
		Done:         jobRows(bv.Done),
		Failed:       jobRows(bv.Failed),
		Stopping:     bv.Stopping,
	}
}

func reviewState(c *app.Console) *ReviewState {
	rv := c.Drain.ReviewView()
	st := &ReviewState{
		DrainID:        rv.DrainID,
		SummaryLoading: rv.SummaryLoading(),
		Elapsed:        drain.FormatElapsed(rv.TotalElapsed),
		PRsLoading:     rv.PRsLoading(),
		RetryingAll:    c.Remediator.RetryAllPending(),
		Merging:        c.Assistant.Busy(),
	}
	if rv.Summary != nil {
		st.Total = rv.Summary.TotalJobs
		st.Completed = rv.Summary.CompletedJobs
		st.Failed = rv.Summary.FailedJobs
	}

	for _, g := range c.FailureGroups() {
		row := GroupRow{
			Category:  g.Category,
			Title:     g.Title,
			Action:    g.Tier.Label(),
			Expanded:  g.Expanded(),
			Retryable: g.Retryable(),
			Retrying:  c.Remediator.GroupRetrying(g),
		}
		for _, j := range g.Jobs {
			row.Jobs = append(row.Jobs, FailedRow{
				JobID:    j.JobID,
				Subject:  j.Subject,
				Title:    j.FailureTitle,
				Retrying: c.Remediator.Retrying(j.JobID),
			})
		}
		st.Groups = append(st.Groups, row)
	}

	for _, pr := range rv.PRs {
		status := review.StatusOf(pr)
		if status == review.StatusReady {
			st.ReadyPRs++
		}
		st.PRs = append(st.PRs, PRRow{
			Number:  pr.PRNumber,
			Title:   pr.Title,
			URL:     pr.PRURL,
			Status:  status,
			Label:   status.Label(),
			Merging: c.Assistant.Merging(pr.PRNumber),
		})
	}

	items, checked := c.Checklist.Items()
	for i, text := range items {
		st.Checklist = append(st.Checklist, CheckItem{
			Index:   i,
			Text:    text,
			HTML:    renderInline(text),
			Checked: i < len(checked) && checked[i],
		})
	}
	st.CheckedCount = c.Checklist.CheckedCount()
	return st
}
