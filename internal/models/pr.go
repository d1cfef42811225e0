package models

import "time"

// PRState is the raw pull request state.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// CIStatus is the combined check status of a pull request head.
type CIStatus string

const (
	CISuccess CIStatus = "success"
	CIFailure CIStatus = "failure"
	CIPending CIStatus = "pending"
	CINone    CIStatus = "none"
)

// ReviewStatus is the aggregated review state of a pull request.
type ReviewStatus string

const (
	ReviewApproved         ReviewStatus = "approved"
	ReviewChangesRequested ReviewStatus = "changes_requested"
	ReviewPending          ReviewStatus = "pending"
	ReviewNone             ReviewStatus = "none"
)

// PRStatus holds the raw merge-readiness signals for one job's pull request.
// Mergeable is nil while the forge is still computing it.
type PRStatus struct {
	JobID        string       `json:"jobId"`
	PRURL        string       `json:"prUrl"`
	PRNumber     int          `json:"prNumber"`
	State        PRState      `json:"state"`
	Mergeable    *bool        `json:"mergeable"`
	CIStatus     CIStatus     `json:"ciStatus"`
	ReviewStatus ReviewStatus `json:"reviewStatus"`
	Title        string       `json:"title"`
	MergedAt     *time.Time   `json:"mergedAt"`
}

// MergeResult is the backend's response to a merge request.
type MergeResult struct {
	Merged  bool   `json:"merged"`
	SHA     string `json:"sha,omitempty"`
	Message string `json:"message,omitempty"`
}
