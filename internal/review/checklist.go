package review

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var markerRe = regexp.MustCompile(`^\s*[-*\d.)\]]+\s*`)

// ParseChecklist splits checklist text into items, stripping list markers
// and dropping empty lines.
func ParseChecklist(text string) []string {
	var items []string
	for _, line := range strings.Split(text, "\n") {
		item := strings.TrimSpace(markerRe.ReplaceAllString(line, ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// AlignChecked pads with false or truncates checked to n entries.
func AlignChecked(checked []bool, n int) []bool {
	out := make([]bool, n)
	copy(out, checked)
	return out
}

// ChecklistStore persists a drain's checked state.
type ChecklistStore interface {
	UpdateChecklist(ctx context.Context, projectID, drainID string, checked []bool) error
}

// Checklist is the local, index-aligned checked state of one drain's
// smoke-test checklist.
type Checklist struct {
	store     ChecklistStore
	projectID string

	mu      sync.Mutex
	drainID string
	items   []string
	checked []bool

	// persist serialises UpdateChecklist calls.
	persist sync.Mutex
}

// NewChecklist returns an empty checklist bound to store.
func NewChecklist(store ChecklistStore, projectID string) *Checklist {
	return &Checklist{store: store, projectID: projectID}
}

// Load adopts checklist text and persisted state for drainID. Local state
// is kept when the drain and item count are unchanged.
func (c *Checklist) Load(drainID, text string, persisted []bool) {
	items := ParseChecklist(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.drainID == drainID && len(c.items) == len(items) && c.checked != nil {
		c.items = items
		return
	}
	c.drainID = drainID
	c.items = items
	c.checked = AlignChecked(persisted, len(items))
}

// Items returns the parsed items and their checked state.
func (c *Checklist) Items() ([]string, []bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.items...), append([]bool(nil), c.checked...)
}

// CheckedCount is the number of checked items.
func (c *Checklist) CheckedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.checked {
		if v {
			n++
		}
	}
	return n
}

// Toggle flips item i and persists the whole vector. Persists never
// overlap, and each sends the newest local vector, so a slower earlier
// toggle cannot overwrite a later one. The local state keeps the flip even
// if persisting fails.
func (c *Checklist) Toggle(ctx context.Context, i int) ([]bool, error) {
	c.mu.Lock()
	if i < 0 || i >= len(c.checked) {
		c.mu.Unlock()
		return nil, fmt.Errorf("review: checklist item %d out of range", i)
	}
	c.checked[i] = !c.checked[i]
	next := append([]bool(nil), c.checked...)
	drainID := c.drainID
	c.mu.Unlock()

	if drainID == "" {
		return next, nil
	}

	c.persist.Lock()
	defer c.persist.Unlock()
	c.mu.Lock()
	if c.drainID != drainID {
		c.mu.Unlock()
		return next, nil
	}
	latest := append([]bool(nil), c.checked...)
	c.mu.Unlock()

	if err := c.store.UpdateChecklist(ctx, c.projectID, drainID, latest); err != nil {
		return next, fmt.Errorf("review: persist checklist: %w", err)
	}
	return next, nil
}

// Reset clears the checklist.
func (c *Checklist) Reset() {
	c.mu.Lock()
	c.drainID, c.items, c.checked = "", nil, nil
	c.mu.Unlock()
}
