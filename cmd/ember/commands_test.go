package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zulandar/ember/internal/api/apitest"
	"github.com/zulandar/ember/internal/auth"
	"github.com/zulandar/ember/internal/models"
)

const testToken = "tok-123"

// setupCLI starts a fake backend and writes a config pointing at it with a
// private sqlite store. It returns the config path.
func setupCLI(t *testing.T) (*apitest.Backend, string) {
	t.Helper()
	for _, key := range []string{"EMBER_API_URL", "EMBER_TOKEN", "EMBER_PROJECT", "EMBER_GITHUB_TOKEN", "EMBER_SLACK_BOT_TOKEN", "EMBER_DISCORD_BOT_TOKEN"} {
		t.Setenv(key, "")
	}

	be := apitest.New(t)
	be.Token = testToken
	be.AddBeads(
		models.Bead{ID: "A", Subject: "Add login", PreInstructions: "build it", Priority: 1, BeadType: "feature"},
		models.Bead{ID: "B", Subject: "Fix footer", PreInstructions: "fix it", Priority: 0},
		models.Bead{ID: "C", Subject: "Add logout", PreInstructions: "build it", Priority: 2, BlockedBy: []string{"A"}, ParentBeadID: "A"},
	)

	dir := t.TempDir()
	cfg := fmt.Sprintf(`api_url: %s
project: p1
store:
  driver: sqlite
  path: %s
log:
  level: error
drain:
  discovery_attempts: 20
  discovery_interval: 5ms
`, be.URL(), filepath.Join(dir, "ember.db"))
	path := filepath.Join(dir, "ember.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return be, path
}

// runCLI executes the root command with args and returns its stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", args...)
	if err != nil {
		t.Fatalf("ember %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func assertContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

func TestLoginWhoamiLogout(t *testing.T) {
	_, cfg := setupCLI(t)

	if _, err := runCLI(t, "", "whoami", "-c", cfg); !errors.Is(err, auth.ErrNoCredential) {
		t.Fatalf("whoami before login err = %v, want ErrNoCredential", err)
	}
	if _, err := runCLI(t, "wrong\n", "login", "-c", cfg); err == nil {
		t.Fatal("login with a rejected token succeeded")
	}

	out, err := runCLI(t, testToken+"\n", "login", "-c", cfg)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	assertContains(t, out, "Logged in", "Operator (operator)")

	assertContains(t, mustRun(t, "whoami", "-c", cfg), "User:     Operator (operator)", "Project:  p1")
	assertContains(t, mustRun(t, "logout", "-c", cfg), "Logged out")

	if _, err := runCLI(t, "", "whoami", "-c", cfg); !errors.Is(err, auth.ErrNoCredential) {
		t.Errorf("whoami after logout err = %v, want ErrNoCredential", err)
	}
}

func TestLogin_TokenFlag(t *testing.T) {
	_, cfg := setupCLI(t)
	assertContains(t, mustRun(t, "login", "-c", cfg, "--token", testToken), "Logged in")
	assertContains(t, mustRun(t, "whoami", "-c", cfg), "Operator")
}

func TestWhoami_EnvToken(t *testing.T) {
	_, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)
	assertContains(t, mustRun(t, "whoami", "-c", cfg), "Operator")
}

func TestBeadCommands(t *testing.T) {
	be, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)

	out := mustRun(t, "bead", "list", "-c", cfg)
	assertContains(t, out, "ID", "SUBJECT", "Add login", "Fix footer", "Add logout")
	if strings.Index(out, "Fix footer") > strings.Index(out, "Add login") {
		t.Errorf("bead list not ordered by priority:\n%s", out)
	}

	out = mustRun(t, "bead", "list", "-c", cfg, "--type", "feature")
	if !strings.Contains(out, "Add login") || strings.Contains(out, "Fix footer") {
		t.Errorf("type filter:\n%s", out)
	}
	assertContains(t, mustRun(t, "bead", "list", "-c", cfg, "--search", "nothing"), "No beads found.")

	out = mustRun(t, "bead", "ready", "-c", cfg)
	if !strings.Contains(out, "Fix footer") || strings.Contains(out, "Add logout") {
		t.Errorf("ready:\n%s", out)
	}

	out = mustRun(t, "bead", "tree", "-c", cfg)
	assertContains(t, out, "* P1 A [pending] Add login", "    P2 C [pending] Add logout")

	out = mustRun(t, "bead", "show", "C", "-c", cfg)
	assertContains(t, out, "Subject:     Add logout", "Ready:       false", "Blocked by:  [A]", "Parent:      A", "Instructions:")
	assertContains(t, mustRun(t, "bead", "show", "A", "-c", cfg), "Children:", "C [pending] Add logout")
	if _, err := runCLI(t, "", "bead", "show", "nope", "-c", cfg); err == nil {
		t.Error("show of unknown bead succeeded")
	}

	assertContains(t, mustRun(t, "bead", "prioritize", "A", "0", "-c", cfg), "A is now P0")
	if b, _ := be.Bead("A"); b.Priority != 0 {
		t.Errorf("priority = %d after prioritize, want 0", b.Priority)
	}
	if _, err := runCLI(t, "", "bead", "prioritize", "A", "9", "-c", cfg); err == nil {
		t.Error("out of range priority accepted")
	}

	assertContains(t, mustRun(t, "history", "-c", cfg), "prioritize", "A", "ok")
}

func TestDrainLifecycle(t *testing.T) {
	be, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)

	assertContains(t, mustRun(t, "drain", "status", "-c", cfg), "No drain running (2 beads ready)")
	assertContains(t, mustRun(t, "drain", "preview", "-c", cfg), "B", "Fix footer", "of 2 ready beads")
	if _, err := runCLI(t, "", "drain", "summary", "-c", cfg); !errors.Is(err, errNoDrain) {
		t.Errorf("summary before any drain err = %v, want errNoDrain", err)
	}

	assertContains(t, mustRun(t, "drain", "start", "A", "B", "-c", cfg), "Drain started: 2 jobs")
	assertContains(t, mustRun(t, "drain", "status", "-c", cfg), "Drain running", "Jobs:      2 created")

	jobs := be.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("backend jobs = %d, want 2", len(jobs))
	}
	drainID := jobs[0].DrainID
	be.CompleteJob(jobs[0].ID, "https://github.com/o/r/pull/7")
	be.FailJob(jobs[1].ID, "test_failure", "Tests failed")
	be.SetChecklist("p1", "- Log in\n- Log out")
	yes, no := true, false
	be.SetPRs(drainID, []models.PRStatus{
		{
			JobID: jobs[0].ID, PRNumber: 7, Title: "Add login",
			State: models.PROpen, Mergeable: &yes, CIStatus: models.CISuccess,
		},
		{PRNumber: 8, Title: "Fix footer", State: models.PROpen, Mergeable: &yes, CIStatus: models.CISuccess},
		{PRNumber: 9, Title: "Bump deps", State: models.PROpen, Mergeable: &no, CIStatus: models.CISuccess},
	})

	assertContains(t, mustRun(t, "drain", "summary", "-c", cfg), drainID, "1 completed, 1 failed of 2", "Tests failed")
	assertContains(t, mustRun(t, "drain", "detail", "-c", cfg), "ID:          "+drainID, jobs[1].ID)
	assertContains(t, mustRun(t, "drain", "prs", "-c", cfg), "#7", "Ready to merge")

	out := mustRun(t, "review", "-c", cfg)
	assertContains(t, out, "Failures:", "Tests failed", "Pull requests (2 ready)", "Smoke test:", "0/2 checked")

	assertContains(t, mustRun(t, "drain", "checklist", "-c", cfg, "--toggle", "2"), "2. [x] Log out", "1/2 checked")
	assertContains(t, mustRun(t, "drain", "checklist", "-c", cfg), "2. [x] Log out")
	if _, err := runCLI(t, "", "drain", "checklist", "-c", cfg, "--toggle", "5"); err == nil {
		t.Error("out of range checklist item accepted")
	}

	if out, err := runCLI(t, "", "drain", "merge", "-c", cfg, "9"); err == nil || !strings.Contains(out, "#9: review: pull request is not ready to merge: #9 (Has conflicts)") {
		t.Errorf("merge of conflicted PR: err %v, out %q", err, out)
	}
	be.FailMerge(8, "Merge conflict")
	out, err := runCLI(t, "", "drain", "merge", "-c", cfg, "--ready")
	if err == nil || !strings.Contains(out, "#7: merged") || !strings.Contains(out, "Merge conflict") {
		t.Errorf("merge --ready: err %v, out %q", err, out)
	}
	if out, err := runCLI(t, "", "drain", "merge", "-c", cfg, "7"); err == nil || !strings.Contains(out, "(Merged)") {
		t.Errorf("second merge of #7: err %v, out %q", err, out)
	}
	if _, err := runCLI(t, "", "drain", "merge", "-c", cfg, "7", "--ready"); err == nil {
		t.Error("merge with both numbers and --ready accepted")
	}

	out = mustRun(t, "job", "retry", jobs[1].ID, "-c", cfg)
	assertContains(t, out, jobs[1].ID+": retried")
	assertContains(t, mustRun(t, "history", "-c", cfg), "start_drain", "merge", "retry", "checklist")
}

func TestJobCommands(t *testing.T) {
	be, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)

	assertContains(t, mustRun(t, "job", "list", "-c", cfg), "No jobs found.")
	out := mustRun(t, "dispatch", "B", "-c", cfg)
	assertContains(t, out, "Dispatched B as job")

	jobs := be.Jobs()
	if len(jobs) != 1 || jobs[0].BeadID != "B" {
		t.Fatalf("jobs = %+v", jobs)
	}
	id := jobs[0].ID
	assertContains(t, mustRun(t, "job", "list", "-c", cfg), id, "queued")
	assertContains(t, mustRun(t, "job", "list", "-c", cfg, "--status", "failed"), "No jobs found.")

	be.FailJob(id, "build_failure", "Build broke")
	assertContains(t, mustRun(t, "job", "show", id, "-c", cfg), "ID:          "+id, "Status:      failed", "Failure: Build broke (build_failure)")
	assertContains(t, mustRun(t, "job", "stats", "-c", cfg), "QUEUED", "FAILED")

	be.FailRetry(id, "Retry limit reached")
	if out, err := runCLI(t, "", "job", "retry", id, "-c", cfg); err == nil || !strings.Contains(out, "Retry limit reached") {
		t.Errorf("failed retry: err %v, out %q", err, out)
	}
}

func TestAutoDispatchOnce(t *testing.T) {
	be, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)

	assertContains(t, mustRun(t, "autodispatch", "--once", "-c", cfg), "Dispatched B as job")
	assertContains(t, mustRun(t, "autodispatch", "--once", "-c", cfg), "Nothing to dispatch.")
	if n := len(be.Jobs()); n != 1 {
		t.Errorf("jobs = %d, want 1 while one is in flight", n)
	}
}

func TestCommands_RequireProject(t *testing.T) {
	_, cfg := setupCLI(t)
	t.Setenv("EMBER_TOKEN", testToken)
	data, err := os.ReadFile(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg, []byte(strings.Replace(string(data), "project: p1\n", "", 1)), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, args := range [][]string{{"bead", "list"}, {"drain", "status"}, {"drain", "start"}} {
		if _, err := runCLI(t, "", append(args, "-c", cfg)...); err == nil {
			t.Errorf("%v without a project succeeded", args)
		}
	}
}
