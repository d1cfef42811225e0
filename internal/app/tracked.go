package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zulandar/ember/internal/api"
	"github.com/zulandar/ember/internal/cache"
	"github.com/zulandar/ember/internal/journal"
	"github.com/zulandar/ember/internal/models"
)

// Backend is the backend surface of the console. *api.Client satisfies it.
type Backend interface {
	cache.Source
	PRStatuses(ctx context.Context, projectID, drainID string) ([]models.PRStatus, error)
	DrainDetail(ctx context.Context, projectID, drainID string) (*models.DrainDetail, error)
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	StartDrain(ctx context.Context, projectID string, req api.StartDrainRequest) (*models.DrainStartResult, error)
	StopDrain(ctx context.Context, projectID string) (*models.StopDrainResult, error)
	CreateJob(ctx context.Context, req api.CreateJobRequest) (*models.Job, error)
	RetryJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateBead(ctx context.Context, beadID string, patch api.BeadPatch) (*models.Bead, error)
	MergePR(ctx context.Context, projectID string, prNumber int) (*models.MergeResult, error)
	UpdateChecklist(ctx context.Context, projectID, drainID string, checked []bool) error
}

// tracked wraps a Backend so every successful write invalidates the caches
// it affects and every write lands in the journal.
type tracked struct {
	Backend
	store   *cache.Store
	journal *journal.Journal

	// merger overrides the backend for merges when set.
	merger interface {
		MergePR(ctx context.Context, projectID string, prNumber int) (*models.MergeResult, error)
	}
}

func (t *tracked) done(ctx context.Context, m cache.Mutation, action, target string, err error) {
	t.journal.Record(ctx, action, target, err)
	if err == nil {
		t.store.Mutated(ctx, m)
	}
}

func (t *tracked) StartDrain(ctx context.Context, projectID string, req api.StartDrainRequest) (*models.DrainStartResult, error) {
	res, err := t.Backend.StartDrain(ctx, projectID, req)
	t.done(ctx, cache.MutStartDrain, journal.ActionStartDrain, fmt.Sprintf("%d beads", len(req.BeadIDs)), err)
	return res, err
}

func (t *tracked) StopDrain(ctx context.Context, projectID string) (*models.StopDrainResult, error) {
	res, err := t.Backend.StopDrain(ctx, projectID)
	t.done(ctx, cache.MutStopDrain, journal.ActionStopDrain, projectID, err)
	return res, err
}

func (t *tracked) CreateJob(ctx context.Context, req api.CreateJobRequest) (*models.Job, error) {
	job, err := t.Backend.CreateJob(ctx, req)
	t.done(ctx, cache.MutCreateJob, journal.ActionDispatch, req.BeadID, err)
	return job, err
}

func (t *tracked) RetryJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := t.Backend.RetryJob(ctx, jobID)
	t.done(ctx, cache.MutRetryJob, journal.ActionRetry, jobID, err)
	return job, err
}

func (t *tracked) UpdateBead(ctx context.Context, beadID string, patch api.BeadPatch) (*models.Bead, error) {
	b, err := t.Backend.UpdateBead(ctx, beadID, patch)
	t.done(ctx, cache.MutPatchBead, journal.ActionPrioritize, beadID, err)
	return b, err
}

func (t *tracked) MergePR(ctx context.Context, projectID string, prNumber int) (*models.MergeResult, error) {
	var (
		res *models.MergeResult
		err error
	)
	if t.merger != nil {
		res, err = t.merger.MergePR(ctx, projectID, prNumber)
	} else {
		res, err = t.Backend.MergePR(ctx, projectID, prNumber)
	}
	recErr := err
	if err == nil && res != nil && !res.Merged {
		recErr = fmt.Errorf("not merged: %s", res.Message)
	}
	t.done(ctx, cache.MutMergePR, journal.ActionMerge, "#"+strconv.Itoa(prNumber), recErr)
	return res, err
}

func (t *tracked) UpdateChecklist(ctx context.Context, projectID, drainID string, checked []bool) error {
	err := t.Backend.UpdateChecklist(ctx, projectID, drainID, checked)
	t.done(ctx, cache.MutUpdateChecklist, journal.ActionChecklist, drainID, err)
	return err
}
