package inference_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aftermath/internal/inference"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/vertex"
	"aftermath/internal/testsupport"
)

type fakeJobs struct {
	submitted []vertex.CustomJobSpec
	states    []string
	polls     int
}

func (f *fakeJobs) CreateCustomJob(ctx context.Context, spec vertex.CustomJobSpec) (*vertex.JobStatus, error) {
	f.submitted = append(f.submitted, spec)
	return &vertex.JobStatus{Name: "projects/p/locations/r/customJobs/" + spec.DisplayName, State: vertex.JobStatePending}, nil
}

func (f *fakeJobs) GetCustomJob(ctx context.Context, name string) (*vertex.JobStatus, error) {
	state := vertex.JobStateSucceeded
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	return &vertex.JobStatus{Name: name, State: state}, nil
}

func newPredictor(t *testing.T, jobs *fakeJobs) (*inference.Predictor, *runs.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	predictor := inference.NewPredictor(cfg, store, logging.NewNop(), jobs,
		inference.WithSleeper(func(time.Duration) {}),
		inference.WithPollInterval(time.Millisecond))
	return predictor, store
}

func trainedRun(t *testing.T, store *runs.Store) *runs.Run {
	t.Helper()
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")
	run.ExamplesDir = "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/examples"
	run.Checkpoint = "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/model/checkpoints/epoch-0010"
	return run
}

func TestPrepareRequiresCheckpoint(t *testing.T) {
	jobs := &fakeJobs{}
	predictor, store := newPredictor(t, jobs)
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")
	run.ExamplesDir = "gs://bucket/examples"

	err := predictor.Prepare(context.Background(), run)
	if !errors.Is(err, services.ErrMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	if len(jobs.submitted) != 0 || jobs.polls != 0 {
		t.Fatal("expected no vertex calls before prerequisite check")
	}
	if services.FailureStatus(err) != runs.StatusReview {
		t.Fatal("expected review status for missing checkpoint")
	}
}

func TestExecuteSubmitsInferenceJob(t *testing.T) {
	jobs := &fakeJobs{states: []string{vertex.JobStateRunning, vertex.JobStateSucceeded}}
	predictor, store := newPredictor(t, jobs)
	run := trainedRun(t, store)

	if err := predictor.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	want := "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/predictions/predictions.geojson"
	if run.PredictionsPath != want {
		t.Fatalf("unexpected predictions path: %q", run.PredictionsPath)
	}

	spec := jobs.submitted[0]
	if spec.DisplayName != "inference_wfp-cyclone--203" {
		t.Fatalf("unexpected display name: %q", spec.DisplayName)
	}
	args := strings.Join(spec.Args, " ")
	if !strings.Contains(args, "--checkpoint="+run.Checkpoint) {
		t.Fatalf("checkpoint not forwarded: %s", args)
	}
	if !strings.Contains(args, "--output_path="+want) {
		t.Fatalf("output path not forwarded: %s", args)
	}
}

func TestExecuteResumesExistingJob(t *testing.T) {
	jobs := &fakeJobs{}
	predictor, store := newPredictor(t, jobs)
	run := trainedRun(t, store)
	run.InferenceJobID = "projects/p/locations/r/customJobs/inference_existing"

	if err := predictor.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(jobs.submitted) != 0 {
		t.Fatal("expected no resubmission for saved inference job id")
	}
}

func TestExecuteFailedJob(t *testing.T) {
	jobs := &fakeJobs{states: []string{vertex.JobStateFailed}}
	predictor, store := newPredictor(t, jobs)
	run := trainedRun(t, store)

	err := predictor.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if run.PredictionsPath != "" {
		t.Fatalf("predictions path must stay empty on failure, got %q", run.PredictionsPath)
	}
}
