package models

import "time"

// BeadStatus is the lifecycle state of a bead as reported by the backend.
type BeadStatus string

const (
	BeadPending    BeadStatus = "pending"
	BeadInProgress BeadStatus = "in_progress"
	BeadCompleted  BeadStatus = "completed"
	BeadBlocked    BeadStatus = "blocked"
	BeadFailed     BeadStatus = "failed"
)

// Priority bounds. 0 is the most urgent, 4 is backlog.
const (
	PriorityHighest = 0
	PriorityLowest  = 4
)

// Bead is a node in the project's dependency graph of work.
type Bead struct {
	ID              string     `json:"id"`
	Subject         string     `json:"subject"`
	Description     string     `json:"description,omitempty"`
	Status          BeadStatus `json:"status"`
	Owner           string     `json:"owner,omitempty"`
	BlockedBy       []string   `json:"blockedBy"`
	Blocks          []string   `json:"blocks"`
	ParentBeadID    string     `json:"parentBeadId,omitempty"`
	BeadType        string     `json:"beadType,omitempty"`
	PreInstructions string     `json:"preInstructions,omitempty"`
	FunctionalArea  string     `json:"functionalArea,omitempty"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// HasInstructions reports whether the bead carries dispatch instructions.
func (b Bead) HasInstructions() bool {
	return b.PreInstructions != ""
}

// PriorityLabel renders the priority as P0..P4, or P? when out of range.
func PriorityLabel(p int) string {
	if p < PriorityHighest || p > PriorityLowest {
		return "P?"
	}
	return "P" + string(rune('0'+p))
}
