package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ph0rque/MakeDealCRM-sub005/internal/adapters/storage"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/domain"
	"github.com/ph0rque/MakeDealCRM-sub005/internal/pipeline/maintenance"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStagesRendersDefaultCatalog(t *testing.T) {
	t.Setenv("PIPELINE_SETTINGS_PATH", "")
	out, err := execute(t, "stages")
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	for _, def := range domain.DefaultCatalog().Stages() {
		if !strings.Contains(out, string(def.Stage)) {
			t.Fatalf("expected stage %s in output:\n%s", def.Stage, out)
		}
	}
}

func TestStagesJSON(t *testing.T) {
	t.Setenv("PIPELINE_SETTINGS_PATH", "")
	out, err := execute(t, "stages", "--json")
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	var defs []domain.StageDefinition
	if err := json.Unmarshal([]byte(out), &defs); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(defs) != len(domain.DefaultCatalog().Stages()) {
		t.Fatalf("expected %d stages, got %d", len(domain.DefaultCatalog().Stages()), len(defs))
	}
}

func TestSettingsValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("maxSkip: 3\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(bad, []byte("maxSkip: 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := execute(t, "settings", "validate", good)
	if err != nil {
		t.Fatalf("validate good: %v", err)
	}
	if !strings.Contains(out, "max skip 3") {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := execute(t, "settings", "validate", bad); err == nil {
		t.Fatal("expected error for invalid settings")
	}
}

func TestMaintenanceRunRejectsUnknownStep(t *testing.T) {
	_, err := execute(t, "maintenance", "run", "--skip", "defragment")
	if err == nil || !strings.Contains(err.Error(), "unknown step") {
		t.Fatalf("expected unknown step error, got %v", err)
	}
}

func TestMaintenanceStepsListsInOrder(t *testing.T) {
	out, err := execute(t, "maintenance", "steps")
	if err != nil {
		t.Fatalf("steps: %v", err)
	}
	last := -1
	for _, s := range maintenance.StepNames {
		idx := strings.Index(out, s)
		if idx <= last {
			t.Fatalf("step %s out of order in:\n%s", s, out)
		}
		last = idx
	}
}

func TestRenderSummary(t *testing.T) {
	var buf bytes.Buffer
	renderSummary(&buf, maintenance.JobSummary{
		JobID:  uuid.New(),
		Status: domain.JobPartialSuccess,
		DryRun: true,
		Steps: []maintenance.StepResult{
			{Name: maintenance.StepDetectStaleDeals, Status: maintenance.StepPartial, Processed: 4, Affected: 1, Failed: 1},
		},
		Errors:     []maintenance.ItemError{{Step: maintenance.StepDetectStaleDeals, ItemID: "deal-1", Message: "insert failed"}},
		ArchiveKey: "maintenance/2025/06/02/x.json",
	})
	out := buf.String()
	for _, want := range []string{"(dry run)", maintenance.StepDetectStaleDeals, "insert failed", "archived as maintenance/2025/06/02/x.json"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
}

func TestParseOwner(t *testing.T) {
	if id, err := parseOwner(""); err != nil || id != nil {
		t.Fatalf("expected nil owner, got %v %v", id, err)
	}
	if _, err := parseOwner("nope"); err == nil {
		t.Fatal("expected error for invalid owner")
	}
	want := uuid.New()
	id, err := parseOwner(want.String())
	if err != nil || id == nil || *id != want {
		t.Fatalf("expected %s, got %v %v", want, id, err)
	}
}

func TestRenderArchive(t *testing.T) {
	var buf bytes.Buffer
	renderArchive(&buf, nil)
	if !strings.Contains(buf.String(), "no archived summaries") {
		t.Fatalf("unexpected empty output %q", buf.String())
	}

	buf.Reset()
	renderArchive(&buf, []storage.ObjectInfo{{
		Key:          "maintenance/2025/06/02/job.json",
		Size:         512,
		LastModified: time.Date(2025, 6, 2, 2, 0, 5, 0, time.UTC),
	}})
	out := buf.String()
	if !strings.Contains(out, "maintenance/2025/06/02/job.json") || !strings.Contains(out, "2025-06-02 02:00:05") {
		t.Fatalf("unexpected archive table:\n%s", out)
	}
}
