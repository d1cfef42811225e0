// Package journal records operator actions and their outcomes locally.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/ember/internal/models"
)

// Action names recorded by the app layer.
const (
	ActionStartDrain   = "start_drain"
	ActionStopDrain    = "stop_drain"
	ActionDispatch     = "dispatch"
	ActionRetry        = "retry"
	ActionSkip         = "skip"
	ActionMerge        = "merge"
	ActionChecklist    = "checklist"
	ActionPrioritize   = "prioritize"
	ActionNotification = "notify"
)

// Journal appends ActionRecords to the local store. A nil *Journal is a
// valid no-op journal.
type Journal struct {
	db        *gorm.DB
	projectID string
	logger    *slog.Logger
	now       func() time.Time
}

// New returns a journal scoped to projectID.
func New(db *gorm.DB, projectID string, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, projectID: projectID, logger: logger, now: time.Now}
}

// Record logs the action and persists it. Persistence failures are logged
// and never returned; the journal must not fail the action it describes.
func (j *Journal) Record(ctx context.Context, action, target string, actionErr error) {
	if j == nil {
		return
	}
	rec := models.ActionRecord{
		ID:        uuid.NewString(),
		Action:    action,
		Target:    target,
		ProjectID: j.projectID,
		OK:        actionErr == nil,
		CreatedAt: j.now(),
	}
	if actionErr != nil {
		rec.Error = actionErr.Error()
		j.logger.Warn("action failed", "action", action, "target", target, "err", actionErr)
	} else {
		j.logger.Info("action", "action", action, "target", target)
	}
	if err := j.db.WithContext(ctx).Create(&rec).Error; err != nil {
		j.logger.Warn("journal: persist", "action", action, "err", err)
	}
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]models.ActionRecord, error) {
	if j == nil {
		return nil, nil
	}
	var recs []models.ActionRecord
	q := j.db.WithContext(ctx).Order("created_at DESC")
	if j.projectID != "" {
		q = q.Where("project_id = ?", j.projectID)
	}
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("journal: recent: %w", err)
	}
	return recs, nil
}
