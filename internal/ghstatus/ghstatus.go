// Package ghstatus computes pull request merge-readiness straight from
// GitHub and merges through the GitHub API. It is an alternative to the
// backend's own PR endpoints for projects with a configured repository.
package ghstatus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// fetchLimit bounds concurrent per-PR lookups.
const fetchLimit = 4

// DrainJobs lists the jobs of a drain.
type DrainJobs interface {
	DrainDetail(ctx context.Context, projectID, drainID string) (*models.DrainDetail, error)
}

// Options configures a Source.
type Options struct {
	Token string
	Repo  string // owner/name

	// BaseURL overrides the API root, for GitHub Enterprise.
	BaseURL string

	Jobs   DrainJobs
	Logger *slog.Logger
}

// Source reads PR statuses and performs merges for one repository.
type Source struct {
	gh     *github.Client
	owner  string
	repo   string
	jobs   DrainJobs
	logger *slog.Logger
}

// New returns a Source authenticated with opts.Token.
func New(ctx context.Context, opts Options) (*Source, error) {
	owner, repo, ok := strings.Cut(opts.Repo, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("ghstatus: repo %q must be owner/name", opts.Repo)
	}
	if opts.Jobs == nil {
		return nil, errors.New("ghstatus: a drain job lister is required")
	}
	var hc *http.Client
	if opts.Token != "" {
		hc = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token}))
	}
	gh := github.NewClient(hc)
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("ghstatus: base url: %w", err)
		}
		gh.BaseURL = u
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{gh: gh, owner: owner, repo: repo, jobs: opts.Jobs, logger: logger}, nil
}

// PRStatuses returns one status per job of the drain that opened a PR.
func (s *Source) PRStatuses(ctx context.Context, projectID, drainID string) ([]models.PRStatus, error) {
	detail, err := s.jobs.DrainDetail(ctx, projectID, drainID)
	if err != nil {
		return nil, fmt.Errorf("ghstatus: drain %s: %w", drainID, err)
	}

	var withPR []models.Job
	for _, j := range detail.Jobs {
		if j.Result == nil {
			continue
		}
		if _, ok := review.PRNumberFromURL(j.Result.PRURL); ok {
			withPR = append(withPR, j)
		}
	}

	out := make([]models.PRStatus, len(withPR))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchLimit)
	for i, j := range withPR {
		g.Go(func() error {
			st, err := s.status(gctx, j)
			if err != nil {
				return err
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Source) status(ctx context.Context, j models.Job) (models.PRStatus, error) {
	n, _ := review.PRNumberFromURL(j.Result.PRURL)
	pr, _, err := s.gh.PullRequests.Get(ctx, s.owner, s.repo, n)
	if err != nil {
		return models.PRStatus{}, fmt.Errorf("ghstatus: get #%d: %w", n, err)
	}
	st := models.PRStatus{
		JobID:     j.ID,
		PRURL:     j.Result.PRURL,
		PRNumber:  n,
		State:     prState(pr),
		Mergeable: pr.Mergeable,
		Title:     pr.GetTitle(),
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		st.MergedAt = &t
	}
	if st.State != models.PROpen {
		st.CIStatus, st.ReviewStatus = models.CINone, models.ReviewNone
		return st, nil
	}

	st.CIStatus, err = s.ciStatus(ctx, pr.GetHead().GetSHA())
	if err != nil {
		return models.PRStatus{}, fmt.Errorf("ghstatus: status #%d: %w", n, err)
	}
	reviews, _, err := s.gh.PullRequests.ListReviews(ctx, s.owner, s.repo, n, &github.ListOptions{PerPage: 100})
	if err != nil {
		return models.PRStatus{}, fmt.Errorf("ghstatus: reviews #%d: %w", n, err)
	}
	st.ReviewStatus = reviewStatus(reviews, len(pr.RequestedReviewers)+len(pr.RequestedTeams))
	return st, nil
}

func (s *Source) ciStatus(ctx context.Context, sha string) (models.CIStatus, error) {
	if sha == "" {
		return models.CINone, nil
	}
	combined, _, err := s.gh.Repositories.GetCombinedStatus(ctx, s.owner, s.repo, sha, nil)
	if err != nil {
		return "", err
	}
	if combined.GetTotalCount() == 0 {
		return models.CINone, nil
	}
	switch combined.GetState() {
	case "success":
		return models.CISuccess, nil
	case "failure", "error":
		return models.CIFailure, nil
	default:
		return models.CIPending, nil
	}
}

func prState(pr *github.PullRequest) models.PRState {
	switch {
	case pr.GetMerged() || pr.MergedAt != nil:
		return models.PRMerged
	case pr.GetState() == "closed":
		return models.PRClosed
	default:
		return models.PROpen
	}
}

// reviewStatus folds reviews to the latest decisive review per reviewer.
// Requested changes win over approvals. Without a decision, outstanding
// review requests count as pending.
func reviewStatus(reviews []*github.PullRequestReview, requested int) models.ReviewStatus {
	latest := make(map[string]string)
	for _, r := range reviews {
		switch state := r.GetState(); state {
		case "APPROVED", "CHANGES_REQUESTED", "DISMISSED":
			latest[r.GetUser().GetLogin()] = state
		}
	}
	approved := false
	for _, state := range latest {
		switch state {
		case "CHANGES_REQUESTED":
			return models.ReviewChangesRequested
		case "APPROVED":
			approved = true
		}
	}
	switch {
	case approved:
		return models.ReviewApproved
	case requested > 0:
		return models.ReviewPending
	default:
		return models.ReviewNone
	}
}

// MergePR merges PR number n. A merge GitHub refuses is reported as an
// unmerged result carrying GitHub's message.
func (s *Source) MergePR(ctx context.Context, projectID string, n int) (*models.MergeResult, error) {
	res, resp, err := s.gh.PullRequests.Merge(ctx, s.owner, s.repo, n, "", nil)
	if err != nil {
		var ghErr *github.ErrorResponse
		if errors.As(err, &ghErr) && resp != nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusConflict) {
			s.logger.Info("github refused merge", "project", projectID, "pr", n, "reason", ghErr.Message)
			return &models.MergeResult{Merged: false, Message: ghErr.Message}, nil
		}
		return nil, fmt.Errorf("ghstatus: merge #%d: %w", n, err)
	}
	return &models.MergeResult{Merged: res.GetMerged(), SHA: res.GetSHA(), Message: res.GetMessage()}, nil
}
