// Package apitest provides an in-memory dev-dash backend for tests.
package apitest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/ember/internal/models"
)

// Backend is a fake backend served over httptest. Exported fields must be
// set before the first request.
type Backend struct {
	// Token, when set, is the only accepted bearer token.
	Token string
	// PageSize splits bead listings into pages of this size. Zero disables paging.
	PageSize int
	// Raw disables the {success, data} envelope on successful responses.
	Raw bool
	// Now is the clock used for timestamps.
	Now func() time.Time

	mu          sync.Mutex
	server      *httptest.Server
	user        models.User
	projects    []models.Project
	beads       []models.Bead
	jobs        []models.Job
	drains      []*models.Drain
	prs         map[string][]models.PRStatus
	checklists  map[string]string
	retryErrors map[string]string
	mergeErrors map[int]string
	calls       []string
	seq         int
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	t.Helper()
	gin.SetMode(gin.TestMode)
	b := &Backend{
		Now:         time.Now,
		user:        models.User{ID: "u1", Username: "operator", DisplayName: "Operator"},
		prs:         make(map[string][]models.PRStatus),
		checklists:  make(map[string]string),
		retryErrors: make(map[string]string),
		mergeErrors: make(map[int]string),
	}
	b.server = httptest.NewServer(b.routes())
	t.Cleanup(b.server.Close)
	return b
}

// URL is the base URL clients should target.
func (b *Backend) URL() string {
	return b.server.URL
}

func (b *Backend) routes() *gin.Engine {
	r := gin.New()
	r.Use(b.record, b.authenticate)

	r.GET("/auth/me", b.handleMe)
	r.GET("/projects", b.handleProjects)
	r.GET("/beads", b.handleListBeads)
	r.PATCH("/beads/:id", b.handleUpdateBead)
	r.GET("/jobs", b.handleListJobs)
	r.GET("/jobs/:id", b.handleGetJob)
	r.POST("/jobs", b.handleCreateJob)
	r.POST("/jobs/:id/retry", b.handleRetryJob)

	p := r.Group("/projects/:project")
	p.GET("/drain", b.handleDrainStatus)
	p.POST("/drain", b.handleStartDrain)
	p.DELETE("/drain", b.handleStopDrain)
	p.GET("/drain/preview", b.handlePreview)
	p.GET("/drain/summary", b.handleSummary)
	p.GET("/drains/:drain", b.handleDrainDetail)
	p.GET("/drains/:drain/prs", b.handlePRs)
	p.PATCH("/drains/:drain/checklist", b.handleChecklist)
	p.POST("/prs/:number/merge", b.handleMerge)
	return r
}

func (b *Backend) record(c *gin.Context) {
	b.mu.Lock()
	b.calls = append(b.calls, c.Request.Method+" "+c.Request.URL.Path)
	b.mu.Unlock()
	c.Next()
}

func (b *Backend) authenticate(c *gin.Context) {
	if b.Token != "" && c.GetHeader("Authorization") != "Bearer "+b.Token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.Next()
}

func (b *Backend) ok(c *gin.Context, status int, data any) {
	if b.Raw {
		c.JSON(status, data)
		return
	}
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg, code string) {
	c.JSON(status, gin.H{"success": false, "error": msg, "code": code})
}

func (b *Backend) nextID(prefix string) string {
	b.seq++
	return fmt.Sprintf("%s-%d", prefix, b.seq)
}

// --- seeding and inspection ---

// SetUser replaces the user returned by /auth/me.
func (b *Backend) SetUser(u models.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.user = u
}

// AddProject registers a project.
func (b *Backend) AddProject(p models.Project) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projects = append(b.projects, p)
}

// AddBeads appends beads in the given order.
func (b *Backend) AddBeads(beads ...models.Bead) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.Now()
	for _, bd := range beads {
		if bd.Status == "" {
			bd.Status = models.BeadPending
		}
		if bd.CreatedAt.IsZero() {
			bd.CreatedAt = now
			bd.UpdatedAt = now
		}
		b.beads = append(b.beads, bd)
	}
}

// Bead returns a copy of a bead.
func (b *Backend) Bead(id string) (models.Bead, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bd := b.findBead(id); bd != nil {
		return *bd, true
	}
	return models.Bead{}, false
}

// AddJob appends a job as-is.
func (b *Backend) AddJob(j models.Job) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = b.Now()
		j.UpdatedAt = j.CreatedAt
	}
	b.jobs = append(b.jobs, j)
}

// Job returns a copy of a job.
func (b *Backend) Job(id string) (models.Job, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j := b.findJob(id); j != nil {
		return *j, true
	}
	return models.Job{}, false
}

// Jobs returns a snapshot of every job.
func (b *Backend) Jobs() []models.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Job(nil), b.jobs...)
}

// SetJobStatus moves a job to status.
func (b *Backend) SetJobStatus(id string, status models.JobStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j := b.findJob(id); j != nil {
		j.Status = status
		j.UpdatedAt = b.Now()
		if status == models.JobRunning && j.StartedAt == nil {
			now := b.Now()
			j.StartedAt = &now
		}
	}
}

// CompleteJob finishes a job successfully and completes its bead.
func (b *Backend) CompleteJob(id, prURL string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.findJob(id)
	if j == nil {
		return
	}
	now := b.Now()
	j.Status = models.JobCompleted
	j.CompletedAt = &now
	j.Result = &models.JobResult{PRURL: prURL, Summary: "done"}
	if bd := b.findBead(j.BeadID); bd != nil {
		bd.Status = models.BeadCompleted
	}
}

// FailJob fails a job with an analysed category.
func (b *Backend) FailJob(id, category, title string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j := b.findJob(id)
	if j == nil {
		return
	}
	now := b.Now()
	j.Status = models.JobFailed
	j.CompletedAt = &now
	j.Error = title
	j.FailureAnalysis = &models.FailureAnalysis{Category: category, Title: title, Summary: title}
	if bd := b.findBead(j.BeadID); bd != nil {
		bd.Status = models.BeadFailed
	}
}

// FailRetry makes retries of jobID fail with msg.
func (b *Backend) FailRetry(jobID, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.retryErrors[jobID] = msg
}

// FailMerge makes merges of PR number n fail with msg.
func (b *Backend) FailMerge(n int, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mergeErrors[n] = msg
}

// SetPRs sets the pull request statuses reported for a drain.
func (b *Backend) SetPRs(drainID string, prs []models.PRStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prs[drainID] = append([]models.PRStatus(nil), prs...)
}

// SetChecklist sets the smoke-test checklist text for a project's drains.
// The latest finished drain receives it immediately.
func (b *Backend) SetChecklist(projectID, text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.checklists[projectID] = text
	if d := b.latestFinished(projectID); d != nil {
		d.SmokeTestChecklist = text
	}
}

// StartDrainAt simulates a drain started by another client at startedAt.
func (b *Backend) StartDrainAt(projectID string, startedAt time.Time, beadIDs ...string) (string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, jobs := b.startDrain(projectID, beadIDs, 0)
	d.StartedAt = startedAt
	return d.ID, jobs
}

// Drain returns a copy of a drain.
func (b *Backend) Drain(id string) (models.Drain, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, d := range b.drains {
		if d.ID == id {
			return *d, true
		}
	}
	return models.Drain{}, false
}

// Calls counts recorded requests whose "METHOD /path" starts with prefix.
func (b *Backend) Calls(prefix string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// --- internal state helpers; callers hold mu ---

func (b *Backend) findBead(id string) *models.Bead {
	for i := range b.beads {
		if b.beads[i].ID == id {
			return &b.beads[i]
		}
	}
	return nil
}

func (b *Backend) findJob(id string) *models.Job {
	for i := range b.jobs {
		if b.jobs[i].ID == id {
			return &b.jobs[i]
		}
	}
	return nil
}

func (b *Backend) ready() []models.Bead {
	status := make(map[string]models.BeadStatus, len(b.beads))
	for _, bd := range b.beads {
		status[bd.ID] = bd.Status
	}
	var out []models.Bead
	for _, bd := range b.beads {
		if bd.Status != models.BeadPending || bd.PreInstructions == "" {
			continue
		}
		blocked := false
		for _, id := range bd.BlockedBy {
			if status[id] != models.BeadCompleted {
				blocked = true
				break
			}
		}
		if !blocked {
			out = append(out, bd)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

func (b *Backend) running(projectID string) *models.Drain {
	for _, d := range b.drains {
		if d.ProjectID == projectID && d.Status == models.DrainRunning {
			return d
		}
	}
	return nil
}

func (b *Backend) latestFinished(projectID string) *models.Drain {
	for i := len(b.drains) - 1; i >= 0; i-- {
		d := b.drains[i]
		if d.ProjectID == projectID && d.Status != models.DrainRunning {
			return d
		}
	}
	return nil
}

func (b *Backend) drainJobs(drainID string) []models.Job {
	var out []models.Job
	for _, j := range b.jobs {
		if j.DrainID == drainID {
			out = append(out, j)
		}
	}
	return out
}

func (b *Backend) startDrain(projectID string, beadIDs []string, maxJobs int) (*models.Drain, []string) {
	now := b.Now()
	d := &models.Drain{
		ID:        b.nextID("drain"),
		ProjectID: projectID,
		Status:    models.DrainRunning,
		ScopeSize: len(beadIDs),
		MaxJobs:   maxJobs,
		StartedAt: now,
	}
	b.drains = append(b.drains, d)

	var created []string
	for _, id := range beadIDs {
		if maxJobs > 0 && len(created) >= maxJobs {
			break
		}
		bd := b.findBead(id)
		if bd == nil {
			continue
		}
		bd.Status = models.BeadInProgress
		j := models.Job{
			ID:        b.nextID("job"),
			ProjectID: projectID,
			BeadID:    id,
			DrainID:   d.ID,
			Prompt:    bd.PreInstructions,
			Status:    models.JobQueued,
			Priority:  bd.Priority,
			CreatedAt: now,
			UpdatedAt: now,
		}
		b.jobs = append(b.jobs, j)
		created = append(created, j.ID)
	}
	d.TotalJobs = len(created)
	return d, created
}

// settle completes running drains whose jobs have all finished.
func (b *Backend) settle(projectID string) {
	d := b.running(projectID)
	if d == nil {
		return
	}
	jobs := b.drainJobs(d.ID)
	if len(jobs) == 0 {
		return
	}
	for _, j := range jobs {
		if j.Status.Active() {
			return
		}
	}
	b.finish(d, models.DrainCompleted)
}

func (b *Backend) finish(d *models.Drain, status models.DrainState) {
	now := b.Now()
	d.Status = status
	d.CompletedAt = &now
	d.CompletedJobs, d.FailedJobs = 0, 0
	jobs := b.drainJobs(d.ID)
	d.TotalJobs = len(jobs)
	for _, j := range jobs {
		switch j.Status {
		case models.JobCompleted:
			d.CompletedJobs++
		case models.JobFailed:
			d.FailedJobs++
		}
	}
	if text, ok := b.checklists[d.ProjectID]; ok {
		d.SmokeTestChecklist = text
	}
}

func (b *Backend) subject(j models.Job) string {
	if bd := b.findBead(j.BeadID); bd != nil {
		return bd.Subject
	}
	return j.Prompt
}

func (b *Backend) summary(d *models.Drain) models.DrainSummary {
	s := models.DrainSummary{
		ProjectID:          d.ProjectID,
		DrainID:            d.ID,
		StartedAt:          d.StartedAt,
		TotalJobs:          d.TotalJobs,
		CompletedJobs:      d.CompletedJobs,
		FailedJobs:         d.FailedJobs,
		SmokeTestChecklist: d.SmokeTestChecklist,
		ChecklistState:     d.ChecklistState,
	}
	if d.CompletedAt != nil {
		s.CompletedAt = *d.CompletedAt
	}
	for _, j := range b.drainJobs(d.ID) {
		if j.Status != models.JobCompleted && j.Status != models.JobFailed {
			continue
		}
		sj := models.DrainSummaryJob{
			JobID:   j.ID,
			BeadID:  j.BeadID,
			Subject: b.subject(j),
			Status:  j.Status,
		}
		if j.Result != nil {
			sj.PRURL = j.Result.PRURL
			sj.BranchName = j.Result.BranchName
			sj.Summary = j.Result.Summary
			sj.TestResults = j.Result.TestResults
		}
		if fa := j.FailureAnalysis; fa != nil {
			sj.FailureCategory = fa.Category
			sj.FailureTitle = fa.Title
			sj.FailureSummary = fa.Summary
		}
		s.Jobs = append(s.Jobs, sj)
	}
	return s
}

func candidates(beads []models.Bead) []models.Candidate {
	out := make([]models.Candidate, 0, len(beads))
	for _, bd := range beads {
		out = append(out, models.Candidate{ID: bd.ID, Subject: bd.Subject, Priority: bd.Priority})
	}
	return out
}

func atoiDefault(s string, def int) int {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}
