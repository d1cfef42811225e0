// Package drain runs the burn workflow: building a selection of ready beads,
// starting a drain for it, monitoring the drain's jobs and moving to review
// once the backend reports the drain finished.
package drain

import (
	"fmt"
	"time"
)

// Phase is the workflow state.
type Phase string

const (
	PhaseSelect  Phase = "select"
	PhaseBurning Phase = "burning"
	PhaseReview  Phase = "review"
)

// FormatElapsed renders a duration as "Xm YYs".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%dm %02ds", total/60, total%60)
}

// Progress is the settled fraction of total jobs, in [0, 1].
func Progress(total, queued, running int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(total-queued-running) / float64(total)
}
