package drain

import (
	"sort"
	"time"

	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

// QueuedPreview is how many queued jobs a burning view lists by name.
const QueuedPreview = 5

// SelectView is the select phase as rendered.
type SelectView struct {
	Candidates []bead.Candidate

	// TotalCandidates counts candidates before the text filter.
	TotalCandidates int
	ReadyCount      int
	AutoPickCount   int
	Selected        []string
	Starting        bool
	Err             error
}

// CanBegin reports whether a burn can be started.
func (v SelectView) CanBegin() bool {
	return len(v.Selected) > 0 && !v.Starting
}

// SelectView returns the candidate pool filtered by text.
func (o *Orchestrator) SelectView(filter string) SelectView {
	o.mu.Lock()
	defer o.mu.Unlock()
	cands := bead.Candidates(o.beads)
	v := SelectView{
		Candidates:      bead.Filter(cands, filter),
		TotalCandidates: len(cands),
		Selected:        append([]string(nil), o.selected...),
		Starting:        o.starting,
		Err:             o.lastErr,
	}
	for _, c := range cands {
		if c.Ready {
			v.ReadyCount++
		}
	}
	if o.preview != nil {
		v.AutoPickCount = o.preview.Count
	}
	return v
}

// JobLine is one job as listed while burning.
type JobLine struct {
	Job     models.Job
	Subject string

	// Elapsed is the run time of a running job.
	Elapsed  time.Duration
	PRNumber int
	Category string
}

// BurningView is the burning phase as rendered at one instant.
type BurningView struct {
	DrainID   string
	StartedAt time.Time
	Elapsed   time.Duration
	Running   []JobLine
	Queued    []JobLine
	Done      []JobLine
	Failed    []JobLine
	Total     int
	Progress  float64
	Stopping  bool
	Err       error
}

// ElapsedText is Elapsed formatted for display.
func (v BurningView) ElapsedText() string { return FormatElapsed(v.Elapsed) }

// QueuedHidden is the number of queued jobs beyond QueuedPreview.
func (v BurningView) QueuedHidden() int {
	if n := len(v.Queued) - QueuedPreview; n > 0 {
		return n
	}
	return 0
}

// burnJobs is the job set a burning view monitors; callers hold mu. Before
// the drain id is known it falls back to active jobs.
func (o *Orchestrator) burnJobs() []models.Job {
	var drainJobs, fallback []models.Job
	for _, j := range o.jobs {
		inDrain := o.drainID != "" && j.DrainID == o.drainID
		if inDrain {
			drainJobs = append(drainJobs, j)
		}
		if inDrain || j.Status.Active() {
			fallback = append(fallback, j)
		}
	}
	if len(drainJobs) > 0 {
		return drainJobs
	}
	return fallback
}

func (o *Orchestrator) subject(j models.Job) string {
	for _, b := range o.beads {
		if b.ID == j.BeadID && j.BeadID != "" {
			return b.Subject
		}
	}
	p := []rune(j.Prompt)
	if len(p) > 60 {
		p = p[:60]
	}
	return string(p)
}

// BurningView partitions the monitored jobs by status at instant now.
func (o *Orchestrator) BurningView(now time.Time) BurningView {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := BurningView{
		DrainID:   o.drainID,
		StartedAt: o.startedAt,
		Stopping:  o.stopping,
		Err:       o.lastErr,
	}
	if !o.startedAt.IsZero() {
		v.Elapsed = now.Sub(o.startedAt)
	}

	jobs := o.burnJobs()
	for _, j := range jobs {
		line := JobLine{Job: j, Subject: o.subject(j)}
		switch j.Status {
		case models.JobRunning:
			if j.StartedAt != nil {
				line.Elapsed = now.Sub(*j.StartedAt)
			}
			v.Running = append(v.Running, line)
		case models.JobQueued:
			v.Queued = append(v.Queued, line)
		case models.JobCompleted:
			if j.Result != nil {
				line.PRNumber, _ = review.PRNumberFromURL(j.Result.PRURL)
			}
			v.Done = append(v.Done, line)
		case models.JobFailed:
			line.Category = j.FailureCategory()
			if line.Category == "" {
				line.Category = "unknown"
			}
			v.Failed = append(v.Failed, line)
		}
	}
	sort.SliceStable(v.Done, func(a, b int) bool {
		return completedAt(v.Done[a].Job).After(completedAt(v.Done[b].Job))
	})
	v.Total = len(jobs)
	v.Progress = Progress(v.Total, len(v.Queued), len(v.Running))
	return v
}

func completedAt(j models.Job) time.Time {
	if j.CompletedAt == nil {
		return time.Time{}
	}
	return *j.CompletedAt
}

// ReviewView is the review phase data held by the orchestrator. Summary
// and PRs are nil while the backend is still computing them.
type ReviewView struct {
	DrainID      string
	Summary      *models.DrainSummary
	Completed    []models.DrainSummaryJob
	Failed       []models.DrainSummaryJob
	PRs          []models.PRStatus
	TotalElapsed time.Duration
}

// SummaryLoading reports whether the summary has not arrived yet.
func (v ReviewView) SummaryLoading() bool { return v.Summary == nil }

// PRsLoading reports whether PR statuses have not arrived yet.
func (v ReviewView) PRsLoading() bool { return v.PRs == nil }

// ReviewView returns the review data.
func (o *Orchestrator) ReviewView() ReviewView {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := ReviewView{
		DrainID: o.reviewDrainID(),
		Summary: o.summary,
		PRs:     o.prs,
	}
	if !o.startedAt.IsZero() && !o.reviewAt.IsZero() {
		v.TotalElapsed = o.reviewAt.Sub(o.startedAt)
	}
	v.Completed = o.summary.JobsWithStatus(models.JobCompleted)
	v.Failed = o.summary.JobsWithStatus(models.JobFailed)
	return v
}
