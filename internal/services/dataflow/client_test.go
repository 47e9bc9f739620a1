package dataflow_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"aftermath/internal/services/dataflow"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *dataflow.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return dataflow.NewClient(dataflow.Config{
		ProjectID:      "test-project",
		Region:         "us-central1",
		ServiceAccount: "jobs@test-project.iam.gserviceaccount.com",
		TempLocation:   "gs://test-project-bucket/tmp",
		BaseURL:        server.URL,
	}, dataflow.WithSleeper(func(time.Duration) {}), dataflow.WithRetryMaxAttempts(3))
}

func TestLaunchFlexTemplateSendsLaunchParameter(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		wantPath := "/v1b3/projects/test-project/locations/us-central1/flexTemplates:launch"
		if r.URL.Path != wantPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"job":{"id":"2026-08-29_01_23456","name":"examplegen-wfp-cyclone--203","currentState":"JOB_STATE_PENDING"}}`))
	})

	job, err := client.LaunchFlexTemplate(context.Background(), dataflow.FlexTemplateSpec{
		JobName:      "examplegen-wfp-cyclone--203",
		TemplatePath: "gs://test-templates/examplegen.json",
		Parameters: map[string]string{
			"before_image_patterns": "gs://b/before/*.tif",
			"output_dir":            "gs://b/wfp-cyclone--203/examples",
		},
		MachineType: "n1-highmem-8",
		MaxWorkers:  20,
	})
	if err != nil {
		t.Fatalf("LaunchFlexTemplate failed: %v", err)
	}
	if job.ID != "2026-08-29_01_23456" {
		t.Fatalf("unexpected job id %q", job.ID)
	}

	param := captured["launchParameter"].(map[string]any)
	if param["jobName"] != "examplegen-wfp-cyclone--203" {
		t.Fatalf("unexpected job name: %v", param["jobName"])
	}
	if param["containerSpecGcsPath"] != "gs://test-templates/examplegen.json" {
		t.Fatalf("unexpected template path: %v", param["containerSpecGcsPath"])
	}
	params := param["parameters"].(map[string]any)
	if params["output_dir"] != "gs://b/wfp-cyclone--203/examples" {
		t.Fatalf("unexpected output_dir: %v", params["output_dir"])
	}
	env := param["environment"].(map[string]any)
	if env["machineType"] != "n1-highmem-8" || env["maxWorkers"].(float64) != 20 {
		t.Fatalf("unexpected environment: %v", env)
	}
	if env["tempLocation"] != "gs://test-project-bucket/tmp" {
		t.Fatalf("temp location not forwarded: %v", env["tempLocation"])
	}
	if env["serviceAccountEmail"] != "jobs@test-project.iam.gserviceaccount.com" {
		t.Fatalf("service account not forwarded: %v", env["serviceAccountEmail"])
	}
}

func TestLaunchFlexTemplateValidatesSpec(t *testing.T) {
	client := dataflow.NewClient(dataflow.Config{ProjectID: "p", Region: "us-central1"})
	if _, err := client.LaunchFlexTemplate(context.Background(), dataflow.FlexTemplateSpec{TemplatePath: "gs://t/x.json"}); err == nil {
		t.Fatal("expected error for missing job name")
	}
	if _, err := client.LaunchFlexTemplate(context.Background(), dataflow.FlexTemplateSpec{JobName: "j"}); err == nil {
		t.Fatal("expected error for missing template path")
	}
}

func TestLaunchFlexTemplateRejectsMissingJobID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"job":{}}`))
	})
	_, err := client.LaunchFlexTemplate(context.Background(), dataflow.FlexTemplateSpec{
		JobName:      "j",
		TemplatePath: "gs://t/x.json",
	})
	if err == nil || !strings.Contains(err.Error(), "missing job id") {
		t.Fatalf("expected missing job id error, got %v", err)
	}
}

func TestGetJobRetriesTransientFailures(t *testing.T) {
	attempts := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		wantPath := "/v1b3/projects/test-project/locations/us-central1/jobs/job-1"
		if r.URL.Path != wantPath {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"id":"job-1","currentState":"JOB_STATE_DONE"}`))
	})

	job, err := client.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
	if !dataflow.IsTerminalState(job.CurrentState) {
		t.Fatalf("expected terminal state, got %q", job.CurrentState)
	}
}

func TestGetJobSurfacesAPIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Job not found","status":"NOT_FOUND"}}`))
	})
	_, err := client.GetJob(context.Background(), "missing")
	if err == nil || !strings.Contains(err.Error(), "Job not found") {
		t.Fatalf("expected API message, got %v", err)
	}
}

func TestCancelJobRequestsCancelledState(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{}`))
	})

	if err := client.CancelJob(context.Background(), "job-1"); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}
	if captured["requestedState"] != "JOB_STATE_CANCELLED" {
		t.Fatalf("unexpected requested state: %v", captured["requestedState"])
	}
}

func TestIsTerminalState(t *testing.T) {
	for _, state := range []string{dataflow.JobStateDone, dataflow.JobStateFailed, dataflow.JobStateCancelled, dataflow.JobStateDrained} {
		if !dataflow.IsTerminalState(state) {
			t.Fatalf("expected %s terminal", state)
		}
	}
	for _, state := range []string{dataflow.JobStatePending, dataflow.JobStateQueued, dataflow.JobStateRunning, ""} {
		if dataflow.IsTerminalState(state) {
			t.Fatalf("expected %s not terminal", state)
		}
	}
}
