package ghstatus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/google/go-github/v68/github"
	"github.com/zulandar/ember/internal/models"
	"github.com/zulandar/ember/internal/review"
)

type fakeJobs struct {
	jobs []models.Job
}

func (f fakeJobs) DrainDetail(_ context.Context, _, drainID string) (*models.DrainDetail, error) {
	return &models.DrainDetail{Drain: models.Drain{ID: drainID}, Jobs: f.jobs}, nil
}

func prJob(id string, n int) models.Job {
	url := ""
	if n > 0 {
		url = "https://github.com/o/r/pull/" + strconv.Itoa(n)
	}
	return models.Job{ID: id, Status: models.JobCompleted, Result: &models.JobResult{PRURL: url}}
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newTestSource(t *testing.T, mux *http.ServeMux, jobs ...models.Job) *Source {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	s, err := New(context.Background(), Options{Token: "t", Repo: "o/r", BaseURL: srv.URL, Jobs: fakeJobs{jobs: jobs}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNew_RejectsBadRepo(t *testing.T) {
	for _, repo := range []string{"", "o", "/r", "o/"} {
		if _, err := New(context.Background(), Options{Repo: repo, Jobs: fakeJobs{}}); err == nil {
			t.Errorf("New(%q) succeeded", repo)
		}
	}
}

func TestPRStatuses(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /repos/o/r/pulls/1", reply(200,
		`{"number":1,"state":"open","title":"Fix footer","mergeable":true,"head":{"sha":"aaa"}}`))
	mux.Handle("GET /repos/o/r/commits/aaa/status", reply(200, `{"state":"success","total_count":2}`))
	mux.Handle("GET /repos/o/r/pulls/1/reviews", reply(200, `[
		{"state":"CHANGES_REQUESTED","user":{"login":"amy"}},
		{"state":"COMMENTED","user":{"login":"amy"}},
		{"state":"APPROVED","user":{"login":"amy"}}
	]`))
	mux.Handle("GET /repos/o/r/pulls/2", reply(200,
		`{"number":2,"state":"closed","merged":true,"merged_at":"2026-01-02T03:04:05Z","head":{"sha":"bbb"}}`))
	mux.Handle("GET /repos/o/r/pulls/3", reply(200,
		`{"number":3,"state":"open","mergeable":false,"head":{"sha":"ccc"},"requested_reviewers":[{"login":"bob"}]}`))
	mux.Handle("GET /repos/o/r/commits/ccc/status", reply(200, `{"state":"pending","total_count":0}`))
	mux.Handle("GET /repos/o/r/pulls/3/reviews", reply(200, `[]`))

	s := newTestSource(t, mux, prJob("j1", 1), prJob("j2", 2), prJob("j3", 3), prJob("j4", 0))
	got, err := s.PRStatuses(context.Background(), "p1", "d1")
	if err != nil {
		t.Fatalf("PRStatuses: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d statuses, want 3", len(got))
	}

	tests := []struct {
		st      models.PRStatus
		jobID   string
		state   models.PRState
		ci      models.CIStatus
		reviews models.ReviewStatus
		display review.DisplayStatus
	}{
		{got[0], "j1", models.PROpen, models.CISuccess, models.ReviewApproved, review.StatusReady},
		{got[1], "j2", models.PRMerged, models.CINone, models.ReviewNone, review.StatusMerged},
		{got[2], "j3", models.PROpen, models.CINone, models.ReviewPending, review.StatusHasConflicts},
	}
	for _, tt := range tests {
		t.Run(tt.jobID, func(t *testing.T) {
			if tt.st.JobID != tt.jobID || tt.st.State != tt.state || tt.st.CIStatus != tt.ci || tt.st.ReviewStatus != tt.reviews {
				t.Errorf("status = %+v", tt.st)
			}
			if d := review.StatusOf(tt.st); d != tt.display {
				t.Errorf("display = %s, want %s", d, tt.display)
			}
		})
	}
	if got[0].Title != "Fix footer" || got[0].PRNumber != 1 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].MergedAt == nil {
		t.Error("merged PR has no merge time")
	}
}

func TestPRStatuses_Error(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /repos/o/r/pulls/1", reply(404, `{"message":"Not Found"}`))
	s := newTestSource(t, mux, prJob("j1", 1))
	if _, err := s.PRStatuses(context.Background(), "p1", "d1"); err == nil {
		t.Fatal("expected error")
	}
}

func TestMergePR(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("PUT /repos/o/r/pulls/1/merge", reply(200, `{"merged":true,"sha":"abc","message":"Pull Request successfully merged"}`))
	mux.Handle("PUT /repos/o/r/pulls/2/merge", reply(405, `{"message":"Pull Request is not mergeable"}`))
	mux.Handle("PUT /repos/o/r/pulls/3/merge", reply(500, `{"message":"boom"}`))
	s := newTestSource(t, mux)
	ctx := context.Background()

	res, err := s.MergePR(ctx, "p1", 1)
	if err != nil || !res.Merged || res.SHA != "abc" {
		t.Errorf("merge #1 = %+v, %v", res, err)
	}
	res, err = s.MergePR(ctx, "p1", 2)
	if err != nil || res.Merged || res.Message != "Pull Request is not mergeable" {
		t.Errorf("merge #2 = %+v, %v", res, err)
	}
	if _, err := s.MergePR(ctx, "p1", 3); err == nil {
		t.Error("merge #3 should fail")
	}
}

func TestReviewStatus(t *testing.T) {
	rv := func(login, state string) *github.PullRequestReview {
		return &github.PullRequestReview{State: github.Ptr(state), User: &github.User{Login: github.Ptr(login)}}
	}
	tests := []struct {
		name      string
		reviews   []*github.PullRequestReview
		requested int
		want      models.ReviewStatus
	}{
		{"none", nil, 0, models.ReviewNone},
		{"requested", nil, 1, models.ReviewPending},
		{"comment only", []*github.PullRequestReview{rv("a", "COMMENTED")}, 1, models.ReviewPending},
		{"approved", []*github.PullRequestReview{rv("a", "APPROVED")}, 0, models.ReviewApproved},
		{"changes win", []*github.PullRequestReview{rv("a", "APPROVED"), rv("b", "CHANGES_REQUESTED")}, 0, models.ReviewChangesRequested},
		{"latest per reviewer", []*github.PullRequestReview{rv("a", "CHANGES_REQUESTED"), rv("a", "APPROVED")}, 0, models.ReviewApproved},
		{"dismissed", []*github.PullRequestReview{rv("a", "APPROVED"), rv("a", "DISMISSED")}, 0, models.ReviewNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := reviewStatus(tt.reviews, tt.requested); got != tt.want {
				t.Errorf("reviewStatus = %s, want %s", got, tt.want)
			}
		})
	}
}
