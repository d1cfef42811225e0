package models

import "time"

// DrainState is the persisted status of a drain run.
type DrainState string

const (
	DrainRunning   DrainState = "running"
	DrainCompleted DrainState = "completed"
	DrainStopped   DrainState = "stopped"
)

// Drain is a batch-execution run over a scope of beads.
type Drain struct {
	ID                 string     `json:"id"`
	ProjectID          string     `json:"project_id"`
	Status             DrainState `json:"status"`
	ScopeSize          int        `json:"scope_size"`
	MaxJobs            int        `json:"max_jobs"`
	StartedAt          time.Time  `json:"started_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	TotalJobs          int        `json:"total_jobs"`
	CompletedJobs      int        `json:"completed_jobs"`
	FailedJobs         int        `json:"failed_jobs"`
	SmokeTestChecklist string     `json:"smoke_test_checklist,omitempty"`
	ChecklistState     []bool     `json:"checklist_state,omitempty"`
}

// DrainDetail is a drain together with every job that carries its id.
type DrainDetail struct {
	Drain
	Jobs []Job `json:"jobs"`
}

// DrainStatus is the live drain state of a project.
type DrainStatus struct {
	Active      bool       `json:"active"`
	ProjectID   string     `json:"projectId"`
	ScopeSize   int        `json:"scopeSize"`
	JobsCreated int        `json:"jobsCreated"`
	MaxJobs     int        `json:"maxJobs"`
	StartedAt   *time.Time `json:"startedAt"`
	ReadyCount  int        `json:"readyCount"`
}

// Candidate is a bead proposed for a drain.
type Candidate struct {
	ID       string `json:"id"`
	Subject  string `json:"subject"`
	Priority int    `json:"priority"`
}

// DrainPreview is the backend's ranked auto-pick list.
type DrainPreview struct {
	Candidates []Candidate `json:"candidates"`
	Count      int         `json:"count"`
}

// DrainStartResult is returned when a drain starts.
type DrainStartResult struct {
	Success     bool        `json:"success"`
	Active      bool        `json:"active"`
	JobsCreated []string    `json:"jobsCreated"`
	ScopeSize   int         `json:"scopeSize"`
	ReadyBeads  []Candidate `json:"readyBeads"`
}

// StopDrainResult reports whether a drain was running when stop was requested.
type StopDrainResult struct {
	Success     bool `json:"success"`
	WasDraining bool `json:"wasDraining"`
}

// DrainSummaryJob is the outcome record of one job in a finished drain.
type DrainSummaryJob struct {
	JobID           string       `json:"jobId"`
	BeadID          string       `json:"beadId,omitempty"`
	Subject         string       `json:"subject"`
	Status          JobStatus    `json:"status"`
	PRURL           string       `json:"prUrl,omitempty"`
	BranchName      string       `json:"branchName,omitempty"`
	Summary         string       `json:"summary,omitempty"`
	TestResults     *TestResults `json:"testResults,omitempty"`
	FailureCategory string       `json:"failureCategory,omitempty"`
	FailureTitle    string       `json:"failureTitle,omitempty"`
	FailureSummary  string       `json:"failureSummary,omitempty"`
}

// DrainSummary is the backend-computed review of a finished drain.
type DrainSummary struct {
	ProjectID          string            `json:"projectId"`
	DrainID            string            `json:"drainId,omitempty"`
	StartedAt          time.Time         `json:"startedAt"`
	CompletedAt        time.Time         `json:"completedAt"`
	TotalJobs          int               `json:"totalJobs"`
	CompletedJobs      int               `json:"completedJobs"`
	FailedJobs         int               `json:"failedJobs"`
	Jobs               []DrainSummaryJob `json:"jobs"`
	SmokeTestChecklist string            `json:"smokeTestChecklist"`
	ChecklistState     []bool            `json:"checklistState,omitempty"`
}

// JobsWithStatus returns the summary jobs in the given status, in order.
func (s *DrainSummary) JobsWithStatus(status JobStatus) []DrainSummaryJob {
	if s == nil {
		return nil
	}
	var out []DrainSummaryJob
	for _, j := range s.Jobs {
		if j.Status == status {
			out = append(out, j)
		}
	}
	return out
}
