package dashboard

import (
	"context"
	"fmt"
	"sort"

	"github.com/zulandar/ember/internal/app"
	"github.com/zulandar/ember/internal/bead"
	"github.com/zulandar/ember/internal/models"
)

// Panel selects what the right-hand panel shows. The set of panels is
// closed: FeedPanel, BeadPanel, JobPanel and DrainPanel.
type Panel interface {
	Kind() string
	panel()
}

// FeedPanel shows recent actions and job activity.
type FeedPanel struct{}

// BeadPanel shows one bead with its blockers, children and jobs.
type BeadPanel struct{ BeadID string }

// JobPanel shows one job as the backend reports it now.
type JobPanel struct{ JobID string }

// DrainPanel shows one drain with its jobs. An empty DrainID means the
// drain of the current burn.
type DrainPanel struct{ DrainID string }

func (FeedPanel) Kind() string  { return "feed" }
func (BeadPanel) Kind() string  { return "bead" }
func (JobPanel) Kind() string   { return "job" }
func (DrainPanel) Kind() string { return "drain" }

func (FeedPanel) panel()  {}
func (BeadPanel) panel()  {}
func (JobPanel) panel()   {}
func (DrainPanel) panel() {}

// ParsePanel builds the panel named by kind. An empty kind is the feed.
func ParsePanel(kind, id string) (Panel, error) {
	switch kind {
	case "", "feed":
		return FeedPanel{}, nil
	case "bead", "job":
		if id == "" {
			return nil, fmt.Errorf("dashboard: %s panel needs an id", kind)
		}
		if kind == "bead" {
			return BeadPanel{BeadID: id}, nil
		}
		return JobPanel{JobID: id}, nil
	case "drain":
		return DrainPanel{DrainID: id}, nil
	}
	return nil, fmt.Errorf("dashboard: unknown panel %q", kind)
}

// feedSize bounds each list of the feed panel.
const feedSize = 15

// PanelView is the rendered content of one panel. Only the field matching
// Kind is set.
type PanelView struct {
	Kind  string              `json:"kind"`
	Feed  *FeedView           `json:"feed,omitempty"`
	Bead  *BeadView           `json:"bead,omitempty"`
	Job   *models.Job         `json:"job,omitempty"`
	Drain *models.DrainDetail `json:"drain,omitempty"`
}

// FeedView lists recent local actions and recently updated jobs.
type FeedView struct {
	Actions []models.ActionRecord `json:"actions"`
	Jobs    []models.Job          `json:"jobs"`
}

// BeadView is a bead with its neighbourhood.
type BeadView struct {
	Bead     models.Bead   `json:"bead"`
	Ready    bool          `json:"ready"`
	Blockers []string      `json:"blockers,omitempty"`
	Children []models.Bead `json:"children,omitempty"`
	Jobs     []models.Job  `json:"jobs,omitempty"`
}

// buildPanel loads the content of p. Bead and feed panels read the caches;
// job and drain panels ask the backend.
func buildPanel(ctx context.Context, c *app.Console, p Panel) (PanelView, error) {
	v := PanelView{Kind: p.Kind()}
	switch p := p.(type) {
	case FeedPanel:
		feed, err := feedView(ctx, c)
		if err != nil {
			return v, err
		}
		v.Feed = feed
	case BeadPanel:
		bv, err := beadView(c, p.BeadID)
		if err != nil {
			return v, err
		}
		v.Bead = bv
	case JobPanel:
		job, err := c.Backend.GetJob(ctx, p.JobID)
		if err != nil {
			return v, err
		}
		v.Job = job
	case DrainPanel:
		id := p.DrainID
		if id == "" {
			id = c.Drain.ReviewDrainID()
		}
		if id == "" {
			return v, fmt.Errorf("%w: no drain yet", app.ErrNotFound)
		}
		detail, err := c.Backend.DrainDetail(ctx, c.Project, id)
		if err != nil {
			return v, err
		}
		v.Drain = detail
	}
	return v, nil
}

func feedView(ctx context.Context, c *app.Console) (*FeedView, error) {
	actions, err := c.Journal.Recent(ctx, feedSize)
	if err != nil {
		return nil, err
	}
	jobs, _ := c.Store.Jobs.Get()
	jobs = append([]models.Job(nil), jobs...)
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].UpdatedAt.After(jobs[b].UpdatedAt)
	})
	if len(jobs) > feedSize {
		jobs = jobs[:feedSize]
	}
	return &FeedView{Actions: actions, Jobs: jobs}, nil
}

func beadView(c *app.Console, id string) (*BeadView, error) {
	beads, _ := c.Store.Beads.Get()
	idx := bead.NewIndex(beads)
	b, ok := idx[id]
	if !ok {
		return nil, fmt.Errorf("%w: bead %s", app.ErrNotFound, id)
	}
	v := &BeadView{
		Bead:     *b,
		Ready:    bead.IsReady(*b, idx),
		Blockers: bead.Blockers(*b, idx),
		Children: bead.BuildTree(beads).Children(id),
	}
	jobs, _ := c.Store.Jobs.Get()
	for _, j := range jobs {
		if j.BeadID == id {
			v.Jobs = append(v.Jobs, j)
		}
	}
	return v, nil
}
