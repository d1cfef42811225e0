package bead

import (
	"testing"

	"github.com/zulandar/ember/internal/models"
)

func pending(id string, prio int, blockedBy ...string) models.Bead {
	return models.Bead{
		ID:              id,
		Subject:         "Bead " + id,
		Status:          models.BeadPending,
		PreInstructions: "do " + id,
		Priority:        prio,
		BlockedBy:       blockedBy,
	}
}

func TestReady(t *testing.T) {
	done := models.Bead{ID: "done", Status: models.BeadCompleted}
	running := models.Bead{ID: "run", Status: models.BeadInProgress, PreInstructions: "x"}

	tests := []struct {
		name  string
		beads []models.Bead
		want  []string
	}{
		{"no blockers", []models.Bead{pending("a", 0)}, []string{"a"}},
		{"dangling blocker", []models.Bead{pending("a", 0, "missing")}, nil},
		{"blocker completed", []models.Bead{pending("a", 0, "done"), done}, []string{"a"}},
		{"blocker in progress", []models.Bead{pending("a", 0, "run"), running}, nil},
		{"no instructions", []models.Bead{{ID: "a", Status: models.BeadPending}}, nil},
		{"not pending", []models.Bead{running}, nil},
		{"mixed blockers", []models.Bead{pending("a", 0, "done", "missing"), done}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Ready(tt.beads))
			if len(got) != len(tt.want) {
				t.Fatalf("Ready = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Ready = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestReady_Deterministic(t *testing.T) {
	beads := []models.Bead{pending("b", 2), pending("a", 0), pending("c", 1, "a")}
	first := ids(Ready(beads))
	for range 5 {
		if got := ids(Ready(beads)); len(got) != len(first) || got[0] != first[0] || got[1] != first[1] {
			t.Fatalf("Ready not deterministic: %v vs %v", got, first)
		}
	}
}

func TestBlockers(t *testing.T) {
	beads := []models.Bead{
		pending("a", 0, "done", "run", "ghost"),
		{ID: "done", Status: models.BeadCompleted},
		{ID: "run", Status: models.BeadInProgress},
	}
	got := Blockers(beads[0], NewIndex(beads))
	if len(got) != 2 || got[0] != "run" || got[1] != "ghost" {
		t.Errorf("Blockers = %v", got)
	}
}

func TestCandidates(t *testing.T) {
	beads := []models.Bead{
		pending("c", 2, "a"),
		pending("b", 2),
		pending("a", 0),
		{ID: "x", Status: models.BeadPending},
		{ID: "y", Status: models.BeadCompleted, PreInstructions: "z"},
	}
	got := Candidates(beads)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].ID != "a" || !got[0].Ready {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].ID != "b" || !got[1].Ready {
		t.Errorf("got[1] = %+v", got[1])
	}
	if got[2].ID != "c" || got[2].Ready {
		t.Errorf("got[2] = %+v, want blocked", got[2])
	}

	filtered := Filter(got, " bead B ")
	if len(filtered) != 1 || filtered[0].ID != "b" {
		t.Errorf("Filter = %+v", filtered)
	}
	if len(Filter(got, "")) != 3 {
		t.Error("empty filter should keep everything")
	}
}

func TestHasCycle(t *testing.T) {
	beads := []models.Bead{
		pending("a", 0, "b"),
		pending("b", 0, "c"),
		pending("c", 0, "a"),
		pending("d", 0, "a"),
	}
	idx := NewIndex(beads)
	if !HasCycle(idx, "a") {
		t.Error("a should be in a cycle")
	}
	if HasCycle(idx, "d") {
		t.Error("d only points into the cycle")
	}
	if HasCycle(idx, "missing") {
		t.Error("missing id has no cycle")
	}
}
