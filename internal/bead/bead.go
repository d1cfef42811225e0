// Package bead computes readiness, candidate pools and the parent tree over
// a snapshot of beads.
package bead

import (
	"sort"
	"strings"

	"github.com/zulandar/ember/internal/models"
)

// Index is an id lookup over one bead snapshot.
type Index map[string]*models.Bead

// NewIndex indexes beads by id. Later duplicates win.
func NewIndex(beads []models.Bead) Index {
	idx := make(Index, len(beads))
	for i := range beads {
		idx[beads[i].ID] = &beads[i]
	}
	return idx
}

// ListFilters holds optional filters for listing beads.
type ListFilters struct {
	Status   models.BeadStatus
	Type     string
	ParentID string
	Area     string
	Text     string
}

// StatusCount holds a status and its count for summaries.
type StatusCount struct {
	Status models.BeadStatus
	Count  int
}

// List returns beads matching the filters, ordered by priority then creation time.
func List(beads []models.Bead, filters ListFilters) []models.Bead {
	text := strings.ToLower(strings.TrimSpace(filters.Text))
	var out []models.Bead
	for _, b := range beads {
		if filters.Status != "" && b.Status != filters.Status {
			continue
		}
		if filters.Type != "" && b.BeadType != filters.Type {
			continue
		}
		if filters.ParentID != "" && b.ParentBeadID != filters.ParentID {
			continue
		}
		if filters.Area != "" && b.FunctionalArea != filters.Area {
			continue
		}
		if text != "" && !strings.Contains(strings.ToLower(b.Subject), text) {
			continue
		}
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Summary returns status counts, ordered by status name.
func Summary(beads []models.Bead) []StatusCount {
	counts := make(map[models.BeadStatus]int)
	for _, b := range beads {
		counts[b.Status]++
	}
	out := make([]StatusCount, 0, len(counts))
	for s, n := range counts {
		out = append(out, StatusCount{Status: s, Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Status < out[j].Status })
	return out
}

// Prompt is the text dispatched for a bead: its instructions, else its
// description, else its subject.
func Prompt(b models.Bead) string {
	switch {
	case b.PreInstructions != "":
		return b.PreInstructions
	case b.Description != "":
		return b.Description
	default:
		return b.Subject
	}
}
