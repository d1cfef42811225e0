package apitest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/ember/internal/models"
)

func (b *Backend) handleMe(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ok(c, http.StatusOK, b.user)
}

func (b *Backend) handleProjects(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := append([]models.Project{}, b.projects...)
	b.ok(c, http.StatusOK, out)
}

func (b *Backend) handleListBeads(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	limit := atoiDefault(c.Query("limit"), len(b.beads))
	offset := atoiDefault(c.Query("cursor"), 0)
	size := limit
	if b.PageSize > 0 && b.PageSize < size {
		size = b.PageSize
	}

	end := offset + size
	if end > len(b.beads) {
		end = len(b.beads)
	}
	if offset > end {
		offset = end
	}
	page := models.Page[models.Bead]{Data: append([]models.Bead{}, b.beads[offset:end]...)}
	if end < len(b.beads) {
		next := strconv.Itoa(end)
		page.NextCursor = &next
		page.HasMore = true
	}
	b.ok(c, http.StatusOK, page)
}

func (b *Backend) handleUpdateBead(c *gin.Context) {
	var req struct {
		Priority        *int               `json:"priority"`
		Status          *models.BeadStatus `json:"status"`
		PreInstructions *string            `json:"preInstructions"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bd := b.findBead(c.Param("id"))
	if bd == nil {
		fail(c, http.StatusNotFound, "Bead not found", "NOT_FOUND")
		return
	}
	if req.Priority != nil {
		bd.Priority = *req.Priority
	}
	if req.Status != nil {
		bd.Status = *req.Status
	}
	if req.PreInstructions != nil {
		bd.PreInstructions = *req.PreInstructions
	}
	bd.UpdatedAt = b.Now()
	b.ok(c, http.StatusOK, *bd)
}

func (b *Backend) handleListJobs(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	project := c.Query("projectId")
	status := models.JobStatus(c.Query("status"))
	out := []models.Job{}
	for _, j := range b.jobs {
		if project != "" && j.ProjectID != project {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, j)
	}
	b.ok(c, http.StatusOK, models.Page[models.Job]{Data: out})
}

func (b *Backend) handleGetJob(c *gin.Context) {
	if c.Param("id") == "stats" {
		b.handleStats(c)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.findJob(c.Param("id"))
	if j == nil {
		fail(c, http.StatusNotFound, "Job not found", "NOT_FOUND")
		return
	}
	b.ok(c, http.StatusOK, *j)
}

func (b *Backend) handleStats(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var s models.JobStats
	for _, j := range b.jobs {
		switch j.Status {
		case models.JobQueued:
			s.Queued++
		case models.JobRunning:
			s.Running++
		case models.JobCompleted:
			s.Completed++
		case models.JobFailed:
			s.Failed++
		case models.JobCancelled:
			s.Cancelled++
		}
	}
	s.Concurrency = models.Concurrency{Running: s.Running, Max: 3, Available: max(0, 3-s.Running)}
	b.ok(c, http.StatusOK, s)
}

func (b *Backend) handleCreateJob(c *gin.Context) {
	var req struct {
		ProjectID  string            `json:"projectId"`
		BeadID     string            `json:"beadId"`
		Prompt     string            `json:"prompt"`
		WorkerType models.WorkerType `json:"workerType"`
		Priority   *int              `json:"priority"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	if req.Prompt == "" {
		fail(c, http.StatusBadRequest, "prompt is required", "VALIDATION_ERROR")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	j := models.Job{
		ID:         b.nextID("job"),
		ProjectID:  req.ProjectID,
		BeadID:     req.BeadID,
		Prompt:     req.Prompt,
		Status:     models.JobQueued,
		WorkerType: req.WorkerType,
		Priority:   2,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.Priority != nil {
		j.Priority = *req.Priority
	}
	if bd := b.findBead(req.BeadID); bd != nil {
		bd.Status = models.BeadInProgress
	}
	b.jobs = append(b.jobs, j)
	b.ok(c, http.StatusCreated, j)
}

func (b *Backend) handleRetryJob(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := c.Param("id")
	if msg, ok := b.retryErrors[id]; ok {
		fail(c, http.StatusConflict, msg, "RETRY_FAILED")
		return
	}
	j := b.findJob(id)
	if j == nil {
		fail(c, http.StatusNotFound, "Job not found", "NOT_FOUND")
		return
	}
	j.Status = models.JobQueued
	j.Error = ""
	j.FailureAnalysis = nil
	j.CompletedAt = nil
	j.UpdatedAt = b.Now()
	b.ok(c, http.StatusOK, *j)
}

func (b *Backend) handleDrainStatus(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	project := c.Param("project")
	b.settle(project)

	s := models.DrainStatus{ProjectID: project, ReadyCount: len(b.ready())}
	if d := b.running(project); d != nil {
		started := d.StartedAt
		s.Active = true
		s.ScopeSize = d.ScopeSize
		s.MaxJobs = d.MaxJobs
		s.JobsCreated = len(b.drainJobs(d.ID))
		s.StartedAt = &started
	}
	b.ok(c, http.StatusOK, s)
}

func (b *Backend) handleStartDrain(c *gin.Context) {
	var req struct {
		BeadIDs       []string `json:"beadIds"`
		AutoSelect    bool     `json:"autoSelect"`
		MaxAutoSelect int      `json:"maxAutoSelect"`
		MaxJobs       int      `json:"maxJobs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	project := c.Param("project")
	if b.running(project) != nil {
		fail(c, http.StatusConflict, "Drain already running", "DRAIN_ACTIVE")
		return
	}

	ready := b.ready()
	ids := req.BeadIDs
	if len(ids) == 0 && req.AutoSelect {
		limit := req.MaxAutoSelect
		if limit <= 0 {
			limit = 10
		}
		for i := 0; i < len(ready) && i < limit; i++ {
			ids = append(ids, ready[i].ID)
		}
	}
	if len(ids) == 0 {
		fail(c, http.StatusBadRequest, "No ready beads to drain", "NO_READY_BEADS")
		return
	}

	_, created := b.startDrain(project, ids, req.MaxJobs)
	if created == nil {
		created = []string{}
	}
	b.ok(c, http.StatusOK, models.DrainStartResult{
		Success:     true,
		Active:      true,
		JobsCreated: created,
		ScopeSize:   len(ids),
		ReadyBeads:  candidates(ready),
	})
}

func (b *Backend) handleStopDrain(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.running(c.Param("project"))
	if d == nil {
		b.ok(c, http.StatusOK, models.StopDrainResult{Success: true})
		return
	}
	b.finish(d, models.DrainStopped)
	b.ok(c, http.StatusOK, models.StopDrainResult{Success: true, WasDraining: true})
}

func (b *Backend) handlePreview(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ready := b.ready()
	limit := atoiDefault(c.Query("maxCount"), 10)
	picked := ready
	if limit >= 0 && limit < len(picked) {
		picked = picked[:limit]
	}
	b.ok(c, http.StatusOK, models.DrainPreview{Candidates: candidates(picked), Count: len(ready)})
}

func (b *Backend) handleSummary(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	project := c.Param("project")
	b.settle(project)
	d := b.latestFinished(project)
	if d == nil {
		fail(c, http.StatusNotFound, "No drain summary available", "NOT_FOUND")
		return
	}
	b.ok(c, http.StatusOK, b.summary(d))
}

func (b *Backend) findDrain(c *gin.Context) *models.Drain {
	for _, d := range b.drains {
		if d.ID == c.Param("drain") && d.ProjectID == c.Param("project") {
			return d
		}
	}
	fail(c, http.StatusNotFound, "Drain not found", "NOT_FOUND")
	return nil
}

func (b *Backend) handleDrainDetail(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.findDrain(c)
	if d == nil {
		return
	}
	jobs := b.drainJobs(d.ID)
	if jobs == nil {
		jobs = []models.Job{}
	}
	b.ok(c, http.StatusOK, models.DrainDetail{Drain: *d, Jobs: jobs})
}

func (b *Backend) handlePRs(c *gin.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.findDrain(c)
	if d == nil {
		return
	}
	out := append([]models.PRStatus{}, b.prs[d.ID]...)
	b.ok(c, http.StatusOK, out)
}

func (b *Backend) handleChecklist(c *gin.Context) {
	var req struct {
		Checked []bool `json:"checked"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d := b.findDrain(c)
	if d == nil {
		return
	}
	d.ChecklistState = append([]bool(nil), req.Checked...)
	b.ok(c, http.StatusOK, gin.H{"checked": d.ChecklistState})
}

func (b *Backend) handleMerge(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("number"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid PR number", "BAD_REQUEST")
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := b.mergeErrors[n]; ok {
		fail(c, http.StatusConflict, msg, "MERGE_FAILED")
		return
	}
	for drainID, prs := range b.prs {
		for i := range prs {
			if prs[i].PRNumber != n {
				continue
			}
			now := b.Now()
			prs[i].State = models.PRMerged
			prs[i].MergedAt = &now
			b.prs[drainID] = prs
			b.ok(c, http.StatusOK, models.MergeResult{Merged: true, SHA: "sha-" + strconv.Itoa(n)})
			return
		}
	}
	fail(c, http.StatusNotFound, "Pull request not found", "NOT_FOUND")
}
