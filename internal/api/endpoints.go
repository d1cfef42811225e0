package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/zulandar/ember/internal/models"
)

// DefaultBeadLimit caps how many beads ListBeads gathers across pages.
const DefaultBeadLimit = 500

// BeadPatch is a partial bead update. Nil fields are left unchanged.
type BeadPatch struct {
	ProjectID       string             `json:"projectId,omitempty"`
	Priority        *int               `json:"priority,omitempty"`
	Status          *models.BeadStatus `json:"status,omitempty"`
	PreInstructions *string            `json:"preInstructions,omitempty"`
}

// JobFilter narrows ListJobs. Empty fields are not sent.
type JobFilter struct {
	ProjectID string
	Status    models.JobStatus
}

// CreateJobRequest dispatches a new job.
type CreateJobRequest struct {
	ProjectID  string            `json:"projectId"`
	BeadID     string            `json:"beadId,omitempty"`
	Prompt     string            `json:"prompt"`
	WorkerType models.WorkerType `json:"workerType,omitempty"`
	Priority   *int              `json:"priority,omitempty"`
}

// StartDrainRequest starts a drain over explicit beads or an auto-selection.
type StartDrainRequest struct {
	BeadIDs       []string `json:"beadIds,omitempty"`
	AutoSelect    bool     `json:"autoSelect,omitempty"`
	MaxAutoSelect int      `json:"maxAutoSelect,omitempty"`
	MaxJobs       int      `json:"maxJobs,omitempty"`
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.get(ctx, "/auth/me", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListProjects returns the projects visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var raw json.RawMessage
	if err := c.get(ctx, "/projects", &raw); err != nil {
		return nil, err
	}
	page, err := decodeList[models.Project]("GET /projects", raw)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// ListBeads returns up to limit beads of a project, following cursors.
func (c *Client) ListBeads(ctx context.Context, projectID string, limit int) ([]models.Bead, error) {
	if limit <= 0 {
		limit = DefaultBeadLimit
	}
	q := url.Values{}
	q.Set("projectId", projectID)
	q.Set("limit", strconv.Itoa(limit))
	return listAll[models.Bead](ctx, c, "/beads", q, limit)
}

// UpdateBead applies a partial update to a bead.
func (c *Client) UpdateBead(ctx context.Context, beadID string, patch BeadPatch) (*models.Bead, error) {
	var b models.Bead
	if err := c.patch(ctx, "/beads/"+url.PathEscape(beadID), patch, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// ListJobs returns jobs matching the filter.
func (c *Client) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	q := url.Values{}
	if f.ProjectID != "" {
		q.Set("projectId", f.ProjectID)
	}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	return listAll[models.Job](ctx, c, "/jobs", q, 0)
}

// GetJob returns one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var j models.Job
	if err := c.get(ctx, "/jobs/"+url.PathEscape(jobID), &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// JobStats returns per-status job counts.
func (c *Client) JobStats(ctx context.Context) (*models.JobStats, error) {
	var s models.JobStats
	if err := c.get(ctx, "/jobs/stats", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateJob dispatches a job.
func (c *Client) CreateJob(ctx context.Context, req CreateJobRequest) (*models.Job, error) {
	var j models.Job
	if err := c.post(ctx, "/jobs", req, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// RetryJob asks the backend to re-run a job.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*models.Job, error) {
	var j models.Job
	if err := c.post(ctx, "/jobs/"+url.PathEscape(jobID)+"/retry", nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

func drainPath(projectID string) string {
	return "/projects/" + url.PathEscape(projectID) + "/drain"
}

func drainsPath(projectID, drainID string) string {
	return "/projects/" + url.PathEscape(projectID) + "/drains/" + url.PathEscape(drainID)
}

// DrainStatus returns the live drain state of a project.
func (c *Client) DrainStatus(ctx context.Context, projectID string) (*models.DrainStatus, error) {
	var s models.DrainStatus
	if err := c.get(ctx, drainPath(projectID), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StartDrain starts a drain.
func (c *Client) StartDrain(ctx context.Context, projectID string, req StartDrainRequest) (*models.DrainStartResult, error) {
	var r models.DrainStartResult
	if err := c.post(ctx, drainPath(projectID), req, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// StopDrain stops the running drain, if any.
func (c *Client) StopDrain(ctx context.Context, projectID string) (*models.StopDrainResult, error) {
	var r models.StopDrainResult
	if err := c.delete(ctx, drainPath(projectID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PreviewDrain returns the backend's ranked auto-pick candidates.
func (c *Client) PreviewDrain(ctx context.Context, projectID string, maxCount int) (*models.DrainPreview, error) {
	var p models.DrainPreview
	path := fmt.Sprintf("%s/preview?maxCount=%d", drainPath(projectID), maxCount)
	if err := c.get(ctx, path, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DrainSummary returns the review summary of the latest finished drain.
func (c *Client) DrainSummary(ctx context.Context, projectID string) (*models.DrainSummary, error) {
	var s models.DrainSummary
	if err := c.get(ctx, drainPath(projectID)+"/summary", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DrainDetail returns a drain with its jobs.
func (c *Client) DrainDetail(ctx context.Context, projectID, drainID string) (*models.DrainDetail, error) {
	var d models.DrainDetail
	if err := c.get(ctx, drainsPath(projectID, drainID), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// PRStatuses returns the pull request status of every job in a drain.
func (c *Client) PRStatuses(ctx context.Context, projectID, drainID string) ([]models.PRStatus, error) {
	var raw json.RawMessage
	path := drainsPath(projectID, drainID) + "/prs"
	if err := c.get(ctx, path, &raw); err != nil {
		return nil, err
	}
	page, err := decodeList[models.PRStatus]("GET "+path, raw)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// UpdateChecklist persists the checked state of a drain's smoke-test checklist.
func (c *Client) UpdateChecklist(ctx context.Context, projectID, drainID string, checked []bool) error {
	body := struct {
		Checked []bool `json:"checked"`
	}{Checked: checked}
	return c.patch(ctx, drainsPath(projectID, drainID)+"/checklist", body, nil)
}

// MergePR asks the backend to merge a pull request.
func (c *Client) MergePR(ctx context.Context, projectID string, prNumber int) (*models.MergeResult, error) {
	var r models.MergeResult
	path := fmt.Sprintf("/projects/%s/prs/%d/merge", url.PathEscape(projectID), prNumber)
	if err := c.post(ctx, path, nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// listAll follows nextCursor until the backend reports no more pages or
// limit items have been gathered. A limit of 0 means unbounded.
func listAll[T any](ctx context.Context, c *Client, path string, q url.Values, limit int) ([]T, error) {
	var all []T
	for {
		target := path
		if len(q) > 0 {
			target += "?" + q.Encode()
		}
		var raw json.RawMessage
		if err := c.get(ctx, target, &raw); err != nil {
			return nil, err
		}
		page, err := decodeList[T]("GET "+path, raw)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Data...)

		if limit > 0 && len(all) >= limit {
			return all[:limit], nil
		}
		if !page.HasMore || page.NextCursor == nil || *page.NextCursor == "" {
			return all, nil
		}
		q.Set("cursor", *page.NextCursor)
	}
}
