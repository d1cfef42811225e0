package models

import "time"

// JobStatus is a job's execution state. Transitions are backend-owned:
// queued → running → completed | failed | cancelled.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Active reports whether the job is still waiting or executing.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobRunning
}

// WorkerType names the sandbox kind a job executes in.
type WorkerType string

const (
	WorkerDocker  WorkerType = "docker"
	WorkerE2B     WorkerType = "e2b"
	WorkerRailway WorkerType = "railway"
)

// TestResults summarizes the test run a job performed, if any.
type TestResults struct {
	Ran     bool   `json:"ran"`
	Passed  bool   `json:"passed"`
	Summary string `json:"summary"`
}

// JobResult is the structured outcome of a finished job.
type JobResult struct {
	PRURL       string       `json:"prUrl,omitempty"`
	CommitSHA   string       `json:"commitSha,omitempty"`
	BranchName  string       `json:"branchName,omitempty"`
	Summary     string       `json:"summary,omitempty"`
	TestResults *TestResults `json:"testResults,omitempty"`
	TotalTokens int64        `json:"totalTokens,omitempty"`
	DurationMs  int64        `json:"durationMs,omitempty"`
}

// FailureAnalysis is the backend's classification of a failed job.
type FailureAnalysis struct {
	Category    string   `json:"category"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Suggestions []string `json:"suggestions"`
}

// Job is one dispatched execution attempt.
type Job struct {
	ID              string           `json:"id"`
	ProjectID       string           `json:"project_id"`
	BeadID          string           `json:"bead_id,omitempty"`
	DrainID         string           `json:"drain_id,omitempty"`
	Prompt          string           `json:"prompt"`
	Status          JobStatus        `json:"status"`
	WorkerType      WorkerType       `json:"worker_type,omitempty"`
	WorkerID        string           `json:"worker_id,omitempty"`
	Priority        int              `json:"priority"`
	StartedAt       *time.Time       `json:"started_at,omitempty"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	Error           string           `json:"error,omitempty"`
	OutputLog       string           `json:"output_log,omitempty"`
	Result          *JobResult       `json:"result,omitempty"`
	FailureAnalysis *FailureAnalysis `json:"failureAnalysis,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// FailureCategory returns the analysed category or "" when none exists.
func (j Job) FailureCategory() string {
	if j.FailureAnalysis == nil {
		return ""
	}
	return j.FailureAnalysis.Category
}

// Concurrency is the backend's worker capacity snapshot.
type Concurrency struct {
	Running   int `json:"running"`
	Max       int `json:"max"`
	Available int `json:"available"`
}

// JobStats holds per-status job counts.
type JobStats struct {
	Queued      int         `json:"queued"`
	Running     int         `json:"running"`
	Completed   int         `json:"completed"`
	Failed      int         `json:"failed"`
	Cancelled   int         `json:"cancelled"`
	Concurrency Concurrency `json:"concurrency"`
}
