package main

import (
	"context"
	"encoding/json"
	"testing"

	"aftermath/internal/runs"
	"aftermath/internal/testsupport"
)

func TestRunListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := runCLI(t, []string{"run", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	requireContains(t, out, "No runs registered")
}

func TestRunListShowsSeededRuns(t *testing.T) {
	env := setupCLITestEnv(t)
	seedRuns(t, env.cfg, func(store *runs.Store) {
		testsupport.NewRun(t, store, "wfp-cyclone-idai-203")
	})

	out, _, err := runCLI(t, []string{"run", "list"}, env.configPath)
	if err != nil {
		t.Fatalf("run list: %v", err)
	}
	requireContains(t, out, "wfp-cyclone-idai-203")
	requireContains(t, out, "pending")
}

func TestRunShowJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	seedRuns(t, env.cfg, func(store *runs.Store) {
		run := testsupport.NewRun(t, store, "wfp-cyclone-idai-203")
		run.ExamplesDir = "gs://test-project-wfp-cyclone-idai-203/wfp-cyclone-idai-203/examples"
		run.ExampleGenJobID = "2023-01-01_job"
		if err := store.Update(context.Background(), run); err != nil {
			t.Fatalf("update run: %v", err)
		}
	})

	out, _, err := runCLI(t, []string{"run", "show", "wfp-cyclone-idai-203", "--json"}, env.configPath)
	if err != nil {
		t.Fatalf("run show: %v", err)
	}

	var detail runDetail
	if err := json.Unmarshal([]byte(out), &detail); err != nil {
		t.Fatalf("unmarshal show output: %v", err)
	}
	if detail.Slug != "wfp-cyclone-idai-203" {
		t.Fatalf("unexpected slug %q", detail.Slug)
	}
	if detail.ExampleGenJobID != "2023-01-01_job" {
		t.Fatalf("unexpected job id %q", detail.ExampleGenJobID)
	}
	if detail.Status != string(runs.StatusPending) {
		t.Fatalf("unexpected status %q", detail.Status)
	}
}

func TestRunShowUnknownRun(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := runCLI(t, []string{"run", "show", "missing-run"}, env.configPath)
	if err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRunResetFailedRun(t *testing.T) {
	env := setupCLITestEnv(t)
	seedRuns(t, env.cfg, func(store *runs.Store) {
		run := testsupport.NewRun(t, store, "wfp-cyclone-idai-203")
		run.SetFailed("dataflow job failed")
		if err := store.Update(context.Background(), run); err != nil {
			t.Fatalf("update run: %v", err)
		}
	})

	out, _, err := runCLI(t, []string{"run", "reset", "wfp-cyclone-idai-203"}, env.configPath)
	if err != nil {
		t.Fatalf("run reset: %v", err)
	}
	requireContains(t, out, "reset to pending")

	seedRuns(t, env.cfg, func(store *runs.Store) {
		run, err := store.GetBySlug(context.Background(), "wfp-cyclone-idai-203")
		if err != nil {
			t.Fatalf("reload run: %v", err)
		}
		if run.Status != runs.StatusPending {
			t.Fatalf("expected pending, got %s", run.Status)
		}
		if run.ErrorMessage != "" {
			t.Fatalf("expected cleared error, got %q", run.ErrorMessage)
		}
	})
}

func TestRunResetRefusesHealthyRunWithoutTarget(t *testing.T) {
	env := setupCLITestEnv(t)
	seedRuns(t, env.cfg, func(store *runs.Store) {
		testsupport.NewRun(t, store, "wfp-cyclone-idai-203")
	})

	_, _, err := runCLI(t, []string{"run", "reset", "wfp-cyclone-idai-203"}, env.configPath)
	if err == nil {
		t.Fatal("expected reset to refuse a pending run")
	}
}

func TestRunResetToExplicitStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	seedRuns(t, env.cfg, func(store *runs.Store) {
		run := testsupport.NewRun(t, store, "wfp-cyclone-idai-203")
		run.Status = runs.StatusTrained
		if err := store.Update(context.Background(), run); err != nil {
			t.Fatalf("update run: %v", err)
		}
	})

	out, _, err := runCLI(t, []string{"run", "reset", "wfp-cyclone-idai-203", "--to", "dataset_ready"}, env.configPath)
	if err != nil {
		t.Fatalf("run reset --to: %v", err)
	}
	requireContains(t, out, "reset to dataset_ready")
}
