// Package failure groups failed drain jobs by category and retries them.
package failure

import (
	"sort"
	"strings"

	"github.com/zulandar/ember/internal/models"
)

// Tier ranks how actionable a failure category is. Lower is more actionable.
type Tier int

const (
	TierRetryable Tier = 1
	TierCheck     Tier = 2
	TierAttention Tier = 3
)

// Label is the operator-facing tier name.
func (t Tier) Label() string {
	switch t {
	case TierRetryable:
		return "Retryable"
	case TierCheck:
		return "Check & Retry"
	default:
		return "Needs Attention"
	}
}

// UnknownCategory groups failures without an analysed category.
const UnknownCategory = "unknown"

var categoryTiers = map[string]Tier{
	"compile_error":      TierRetryable,
	"test_failure":       TierRetryable,
	"agent_timeout":      TierRetryable,
	"dep_install":        TierRetryable,
	"server_restart":     TierRetryable,
	"push_large_file":    TierRetryable,
	"sandbox_rate_limit": TierCheck,
	"sandbox_creation":   TierCheck,
	"oom":                TierCheck,
	"push_auth":          TierAttention,
	"clone_failed":       TierAttention,
	"sandbox_auth":       TierAttention,
	"agent_token_limit":  TierAttention,
	UnknownCategory:      TierAttention,
}

// TierFor returns the tier of a category. Unrecognized categories need attention.
func TierFor(category string) Tier {
	if t, ok := categoryTiers[category]; ok {
		return t
	}
	return TierAttention
}

// Group is the failed jobs sharing one category.
type Group struct {
	Category string
	Tier     Tier
	Title    string
	Jobs     []models.DrainSummaryJob
}

// Expanded reports whether the group starts expanded.
func (g Group) Expanded() bool {
	return g.Tier <= TierCheck
}

// Retryable reports whether the group offers a bulk retry.
func (g Group) Retryable() bool {
	return g.Tier <= TierCheck
}

// JobIDs returns member job ids in order.
func (g Group) JobIDs() []string {
	ids := make([]string, len(g.Jobs))
	for i, j := range g.Jobs {
		ids[i] = j.JobID
	}
	return ids
}

// BuildGroups groups failed jobs by category, ordered by tier then by
// descending size. Groups that tie keep the order in which their category
// first appeared, and jobs keep their input order.
func BuildGroups(failed []models.DrainSummaryJob) []Group {
	var groups []Group
	pos := make(map[string]int)
	for _, j := range failed {
		cat := j.FailureCategory
		if cat == "" {
			cat = UnknownCategory
		}
		i, ok := pos[cat]
		if !ok {
			i = len(groups)
			pos[cat] = i
			groups = append(groups, Group{Category: cat, Tier: TierFor(cat)})
		}
		groups[i].Jobs = append(groups[i].Jobs, j)
	}
	for i := range groups {
		groups[i].Title = groups[i].Jobs[0].FailureTitle
		if groups[i].Title == "" {
			groups[i].Title = strings.ReplaceAll(groups[i].Category, "_", " ")
		}
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Tier != groups[b].Tier {
			return groups[a].Tier < groups[b].Tier
		}
		return len(groups[a].Jobs) > len(groups[b].Jobs)
	})
	return groups
}
