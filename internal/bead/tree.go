package bead

import (
	"sort"

	"github.com/zulandar/ember/internal/models"
)

// Tree groups a flat bead list by parent id. Beads whose parent is absent
// or unset are roots.
type Tree struct {
	idx      Index
	roots    []string
	children map[string][]string
}

// BuildTree indexes parent links. Siblings are ordered by priority then subject.
func BuildTree(beads []models.Bead) *Tree {
	t := &Tree{idx: NewIndex(beads), children: make(map[string][]string)}
	for _, b := range beads {
		parent := b.ParentBeadID
		if _, ok := t.idx[parent]; parent == "" || !ok || parent == b.ID {
			t.roots = append(t.roots, b.ID)
			continue
		}
		t.children[parent] = append(t.children[parent], b.ID)
	}
	t.sortIDs(t.roots)
	for _, ids := range t.children {
		t.sortIDs(ids)
	}
	return t
}

func (t *Tree) sortIDs(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.idx[ids[i]], t.idx[ids[j]]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.Subject < b.Subject
	})
}

// Roots returns the root beads.
func (t *Tree) Roots() []models.Bead {
	return t.beads(t.roots)
}

// Children returns the direct children of id.
func (t *Tree) Children(id string) []models.Bead {
	return t.beads(t.children[id])
}

func (t *Tree) beads(ids []string) []models.Bead {
	out := make([]models.Bead, 0, len(ids))
	for _, id := range ids {
		out = append(out, *t.idx[id])
	}
	return out
}

// Walk visits every bead depth-first from the roots, then any bead only
// reachable through a parent cycle. Each bead is visited once.
func (t *Tree) Walk(fn func(b models.Bead, depth int)) {
	visited := make(map[string]bool, len(t.idx))
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		fn(*t.idx[id], depth)
		for _, child := range t.children[id] {
			visit(child, depth+1)
		}
	}
	for _, id := range t.roots {
		visit(id, 0)
	}

	var orphans []string
	for id := range t.idx {
		if !visited[id] {
			orphans = append(orphans, id)
		}
	}
	t.sortIDs(orphans)
	for _, id := range orphans {
		visit(id, 0)
	}
}
