package bead

import (
	"sort"
	"strings"

	"github.com/zulandar/ember/internal/models"
)

// IsReady reports whether b is pending, has instructions and every blocker
// resolves in idx to a completed bead. A blocker missing from idx keeps b
// not ready.
func IsReady(b models.Bead, idx Index) bool {
	if b.Status != models.BeadPending || !b.HasInstructions() {
		return false
	}
	for _, id := range b.BlockedBy {
		blocker, ok := idx[id]
		if !ok || blocker.Status != models.BeadCompleted {
			return false
		}
	}
	return true
}

// Ready returns the ready beads in snapshot order.
func Ready(beads []models.Bead) []models.Bead {
	idx := NewIndex(beads)
	var out []models.Bead
	for _, b := range beads {
		if IsReady(b, idx) {
			out = append(out, b)
		}
	}
	return out
}

// Blockers returns the ids keeping b from being ready: blockers that are
// not completed or that do not resolve.
func Blockers(b models.Bead, idx Index) []string {
	var out []string
	for _, id := range b.BlockedBy {
		if blocker, ok := idx[id]; !ok || blocker.Status != models.BeadCompleted {
			out = append(out, id)
		}
	}
	return out
}

// Candidate is a selectable bead. Blocked candidates are shown but cannot
// be relied on to run.
type Candidate struct {
	models.Bead
	Ready bool
}

// Candidates returns ready beads plus pending beads with instructions that
// are still blocked, ordered by priority then subject.
func Candidates(beads []models.Bead) []Candidate {
	idx := NewIndex(beads)
	var out []Candidate
	for _, b := range beads {
		if b.Status != models.BeadPending || !b.HasInstructions() {
			continue
		}
		out = append(out, Candidate{Bead: b, Ready: IsReady(b, idx)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].Subject < out[j].Subject
	})
	return out
}

// Filter keeps candidates whose subject contains text, case-insensitively.
func Filter(cands []Candidate, text string) []Candidate {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return cands
	}
	var out []Candidate
	for _, c := range cands {
		if strings.Contains(strings.ToLower(c.Subject), text) {
			out = append(out, c)
		}
	}
	return out
}

// HasCycle reports whether the blockedBy graph reachable from id loops back
// to id.
func HasCycle(idx Index, id string) bool {
	b, ok := idx[id]
	if !ok {
		return false
	}
	visited := make(map[string]bool)
	for _, next := range b.BlockedBy {
		if reachable(idx, next, id, visited) {
			return true
		}
	}
	return false
}

// reachable performs a DFS from current following blockedBy edges to
// determine if target is reachable.
func reachable(idx Index, current, target string, visited map[string]bool) bool {
	if current == target {
		return true
	}
	if visited[current] {
		return false
	}
	visited[current] = true

	b, ok := idx[current]
	if !ok {
		return false
	}
	for _, next := range b.BlockedBy {
		if reachable(idx, next, target, visited) {
			return true
		}
	}
	return false
}
