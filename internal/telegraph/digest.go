package telegraph

import (
	"fmt"

	"github.com/zulandar/ember/internal/drain"
	"github.com/zulandar/ember/internal/failure"
	"github.com/zulandar/ember/internal/models"
)

// maxListed caps the job lines per digest section.
const maxListed = 10

// Outcome grades a finished drain.
type Outcome string

const (
	OutcomeClean   Outcome = "clean"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

// Color is the outcome accent as 0xRRGGBB.
func (o Outcome) Color() int {
	switch o {
	case OutcomeClean:
		return 0x36a64f
	case OutcomeFailed:
		return 0xe53935
	default:
		return 0xff9800
	}
}

// Hex is Color as "#rrggbb".
func (o Outcome) Hex() string {
	return fmt.Sprintf("#%06x", o.Color())
}

func outcomeOf(s *models.DrainSummary) Outcome {
	switch {
	case s.FailedJobs == 0:
		return OutcomeClean
	case s.CompletedJobs == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Shipped is a completed job and its pull request, if any.
type Shipped struct {
	Subject string
	PRURL   string
}

// FailureLine is one failure group as reported in chat.
type FailureLine struct {
	Title    string
	Category string
	Action   string
	Urgent   bool
	Count    int
	Subjects []string
}

// Digest is the chat report of a finished drain.
type Digest struct {
	Project   string
	DrainID   string
	Outcome   Outcome
	Completed int
	Failed    int
	Total     int
	Elapsed   string // empty when the drain's timing is unknown
	Shipped   []Shipped
	Unlisted  int // completed jobs left out of Shipped
	Failures  []FailureLine
}

// NewDigest builds the digest of summary s with its failure groups.
func NewDigest(project string, s *models.DrainSummary, groups []failure.Group) *Digest {
	d := &Digest{
		Project:   project,
		DrainID:   s.DrainID,
		Outcome:   outcomeOf(s),
		Completed: s.CompletedJobs,
		Failed:    s.FailedJobs,
		Total:     s.TotalJobs,
	}
	if !s.StartedAt.IsZero() && !s.CompletedAt.IsZero() {
		d.Elapsed = drain.FormatElapsed(s.CompletedAt.Sub(s.StartedAt))
	}

	done := s.JobsWithStatus(models.JobCompleted)
	for i, j := range done {
		if i == maxListed {
			d.Unlisted = len(done) - maxListed
			break
		}
		d.Shipped = append(d.Shipped, Shipped{Subject: j.Subject, PRURL: j.PRURL})
	}

	for _, g := range groups {
		line := FailureLine{
			Title:    g.Title,
			Category: g.Category,
			Action:   g.Tier.Label(),
			Urgent:   g.Tier == failure.TierAttention,
			Count:    len(g.Jobs),
		}
		for i, j := range g.Jobs {
			if i == maxListed {
				break
			}
			line.Subjects = append(line.Subjects, j.Subject)
		}
		d.Failures = append(d.Failures, line)
	}
	return d
}

// Headline is the one-line plain text form of the digest.
func (d *Digest) Headline() string {
	return fmt.Sprintf("Drain finished for %s: %d completed, %d failed", d.Project, d.Completed, d.Failed)
}

// DrainCompletedMessage builds the completion post of a drain.
func DrainCompletedMessage(project string, s *models.DrainSummary, groups []failure.Group) OutboundMessage {
	d := NewDigest(project, s, groups)
	return OutboundMessage{Text: d.Headline(), Digest: d}
}
