// Package review derives pull request display states, merges ready pull
// requests and tracks the smoke-test checklist of a finished drain.
package review

import (
	"regexp"
	"strconv"

	"github.com/zulandar/ember/internal/models"
)

// DisplayStatus is the single state a pull request is shown in.
type DisplayStatus string

const (
	StatusMerged          DisplayStatus = "merged"
	StatusReady           DisplayStatus = "ready"
	StatusCIFailing       DisplayStatus = "ci_failing"
	StatusHasConflicts    DisplayStatus = "has_conflicts"
	StatusReviewRequested DisplayStatus = "review_requested"
	StatusOpen            DisplayStatus = "open"
)

// Label is the operator-facing badge text.
func (s DisplayStatus) Label() string {
	switch s {
	case StatusMerged:
		return "Merged"
	case StatusReady:
		return "Ready to merge"
	case StatusCIFailing:
		return "CI failing"
	case StatusHasConflicts:
		return "Has conflicts"
	case StatusReviewRequested:
		return "Review requested"
	default:
		return "Open"
	}
}

// StatusOf maps raw signals to a display state. The first matching rule wins.
func StatusOf(pr models.PRStatus) DisplayStatus {
	switch {
	case pr.State == models.PRMerged || pr.State == models.PRClosed:
		return StatusMerged
	case pr.Mergeable != nil && !*pr.Mergeable:
		return StatusHasConflicts
	case pr.CIStatus == models.CIFailure:
		return StatusCIFailing
	case pr.ReviewStatus == models.ReviewChangesRequested:
		return StatusReviewRequested
	case pr.Mergeable != nil && *pr.Mergeable && pr.CIStatus == models.CISuccess:
		return StatusReady
	case pr.ReviewStatus == models.ReviewPending:
		return StatusReviewRequested
	default:
		return StatusOpen
	}
}

// Ready returns the pull requests currently shown as ready, in order.
func Ready(prs []models.PRStatus) []models.PRStatus {
	var out []models.PRStatus
	for _, pr := range prs {
		if StatusOf(pr) == StatusReady {
			out = append(out, pr)
		}
	}
	return out
}

// AllSettled reports whether no pull request is still open. Polling for
// PR statuses stops once this holds.
func AllSettled(prs []models.PRStatus) bool {
	for _, pr := range prs {
		if pr.State == models.PROpen {
			return false
		}
	}
	return true
}

// ByJob indexes pull requests by job id.
func ByJob(prs []models.PRStatus) map[string]models.PRStatus {
	out := make(map[string]models.PRStatus, len(prs))
	for _, pr := range prs {
		out[pr.JobID] = pr
	}
	return out
}

var pullRe = regexp.MustCompile(`/pull/(\d+)`)

// PRNumberFromURL extracts the pull request number from a forge URL.
func PRNumberFromURL(url string) (int, bool) {
	m := pullRe.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
