package models

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"
)

// gormTag extracts the gorm tag from a struct field.
func gormTag(t *testing.T, typ reflect.Type, fieldName string) string {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	return f.Tag.Get("gorm")
}

// assertGormTag checks that a struct field's gorm tag contains the expected value.
func assertGormTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	tag := gormTag(t, typ, fieldName)
	if !strings.Contains(tag, expected) {
		t.Errorf("%s.%s gorm tag = %q, want to contain %q", typ.Name(), fieldName, tag, expected)
	}
}

// assertJSONTag checks the json name of a struct field.
func assertJSONTag(t *testing.T, typ reflect.Type, fieldName, expected string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	name := strings.Split(f.Tag.Get("json"), ",")[0]
	if name != expected {
		t.Errorf("%s.%s json name = %q, want %q", typ.Name(), fieldName, name, expected)
	}
}

// assertFieldType checks that a struct field has the expected Go type.
func assertFieldType(t *testing.T, typ reflect.Type, fieldName, expectedType string) {
	t.Helper()
	f, ok := typ.FieldByName(fieldName)
	if !ok {
		t.Fatalf("%s.%s: field not found", typ.Name(), fieldName)
	}
	got := f.Type.String()
	if got != expectedType {
		t.Errorf("%s.%s type = %q, want %q", typ.Name(), fieldName, got, expectedType)
	}
}

func TestCredential_Fields(t *testing.T) {
	typ := reflect.TypeOf(Credential{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "APIURL", "uniqueIndex")
	assertGormTag(t, typ, "APIURL", "not null")
	assertGormTag(t, typ, "Token", "type:text")

	assertFieldType(t, typ, "CreatedAt", "time.Time")
	assertFieldType(t, typ, "UpdatedAt", "time.Time")
}

func TestActionRecord_Fields(t *testing.T) {
	typ := reflect.TypeOf(ActionRecord{})

	assertGormTag(t, typ, "ID", "primaryKey")
	assertGormTag(t, typ, "ID", "size:36")
	assertGormTag(t, typ, "Action", "index")
	assertGormTag(t, typ, "ProjectID", "index")
	assertGormTag(t, typ, "Error", "type:text")

	assertFieldType(t, typ, "OK", "bool")
}

func TestJob_WireNames(t *testing.T) {
	typ := reflect.TypeOf(Job{})

	assertJSONTag(t, typ, "BeadID", "bead_id")
	assertJSONTag(t, typ, "DrainID", "drain_id")
	assertJSONTag(t, typ, "WorkerType", "worker_type")
	assertJSONTag(t, typ, "FailureAnalysis", "failureAnalysis")
	assertJSONTag(t, typ, "CreatedAt", "created_at")

	assertFieldType(t, typ, "StartedAt", "*time.Time")
	assertFieldType(t, typ, "Result", "*models.JobResult")
}

func TestBead_WireNames(t *testing.T) {
	typ := reflect.TypeOf(Bead{})

	assertJSONTag(t, typ, "BlockedBy", "blockedBy")
	assertJSONTag(t, typ, "PreInstructions", "preInstructions")
	assertJSONTag(t, typ, "ParentBeadID", "parentBeadId")
	assertFieldType(t, typ, "Priority", "int")
}

func TestJob_DecodeBackendPayload(t *testing.T) {
	raw := `{
		"id": "j1", "project_id": "p1", "bead_id": "b1", "drain_id": "d1",
		"prompt": "do it", "status": "failed", "priority": 1,
		"started_at": "2026-01-02T03:04:05Z", "completed_at": null,
		"failureAnalysis": {"category": "compile_error", "title": "Build broke", "summary": "x", "suggestions": ["fix"]},
		"created_at": "2026-01-02T03:00:00Z", "updated_at": "2026-01-02T03:05:00Z"
	}`
	var j Job
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if j.DrainID != "d1" || j.BeadID != "b1" {
		t.Errorf("ids = %q/%q", j.DrainID, j.BeadID)
	}
	if j.StartedAt == nil || !j.StartedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Errorf("StartedAt = %v", j.StartedAt)
	}
	if j.CompletedAt != nil {
		t.Errorf("CompletedAt = %v, want nil", j.CompletedAt)
	}
	if got := j.FailureCategory(); got != "compile_error" {
		t.Errorf("FailureCategory = %q", got)
	}
}

func TestJobStatus_Active(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{JobQueued, true},
		{JobRunning, true},
		{JobCompleted, false},
		{JobFailed, false},
		{JobCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.status.Active(); got != tt.want {
			t.Errorf("%s.Active() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestPriorityLabel(t *testing.T) {
	tests := map[int]string{0: "P0", 2: "P2", 4: "P4", 5: "P?", -1: "P?"}
	for in, want := range tests {
		if got := PriorityLabel(in); got != want {
			t.Errorf("PriorityLabel(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestDrainSummary_JobsWithStatus(t *testing.T) {
	s := &DrainSummary{Jobs: []DrainSummaryJob{
		{JobID: "a", Status: JobCompleted},
		{JobID: "b", Status: JobFailed},
		{JobID: "c", Status: JobCompleted},
	}}
	got := s.JobsWithStatus(JobCompleted)
	if len(got) != 2 || got[0].JobID != "a" || got[1].JobID != "c" {
		t.Errorf("JobsWithStatus = %+v", got)
	}
	var nilSummary *DrainSummary
	if nilSummary.JobsWithStatus(JobFailed) != nil {
		t.Error("nil summary should yield nil")
	}
}

func TestPRStatus_NullMergeable(t *testing.T) {
	var pr PRStatus
	if err := json.Unmarshal([]byte(`{"jobId":"j","prNumber":3,"state":"open","mergeable":null,"ciStatus":"pending","reviewStatus":"none"}`), &pr); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if pr.Mergeable != nil {
		t.Errorf("Mergeable = %v, want nil", *pr.Mergeable)
	}
	if pr.PRNumber != 3 || pr.State != PROpen {
		t.Errorf("pr = %+v", pr)
	}
}
