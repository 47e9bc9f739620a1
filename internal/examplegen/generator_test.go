package examplegen_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aftermath/internal/examplegen"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/dataflow"
	"aftermath/internal/testsupport"
)

type fakeJobs struct {
	launched  []dataflow.FlexTemplateSpec
	states    []string
	polls     int
	launchErr error
}

func (f *fakeJobs) LaunchFlexTemplate(ctx context.Context, spec dataflow.FlexTemplateSpec) (*dataflow.Job, error) {
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launched = append(f.launched, spec)
	return &dataflow.Job{ID: "job-1", Name: spec.JobName, CurrentState: dataflow.JobStatePending}, nil
}

func (f *fakeJobs) GetJob(ctx context.Context, jobID string) (*dataflow.Job, error) {
	state := f.states[len(f.states)-1]
	if f.polls < len(f.states) {
		state = f.states[f.polls]
	}
	f.polls++
	return &dataflow.Job{ID: jobID, CurrentState: state}, nil
}

func (f *fakeJobs) MonitoringURL(jobID string) string {
	return "https://console.cloud.google.com/dataflow/jobs/us-central1/" + jobID
}

func newGenerator(t *testing.T, jobs examplegen.JobService) (*examplegen.Generator, *runs.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	generator := examplegen.NewGenerator(cfg, store, logging.NewNop(), jobs,
		examplegen.WithSleeper(func(time.Duration) {}),
		examplegen.WithPollInterval(time.Millisecond))
	return generator, store
}

func resolvedRun(t *testing.T, store *runs.Store) *runs.Run {
	t.Helper()
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")
	run.BeforePaths = "gs://imagery/before/b1.tif,gs://imagery/before/b2.tif"
	run.AfterPaths = "gs://imagery/after/a1.tif"
	return run
}

func TestPrepareRequiresResolvedImagery(t *testing.T) {
	jobs := &fakeJobs{}
	generator, store := newGenerator(t, jobs)
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")

	err := generator.Prepare(context.Background(), run)
	if !errors.Is(err, services.ErrMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	if len(jobs.launched) != 0 || jobs.polls != 0 {
		t.Fatal("expected no job service calls before prerequisite check")
	}
}

func TestExecuteLaunchesAndWaits(t *testing.T) {
	jobs := &fakeJobs{states: []string{dataflow.JobStateRunning, dataflow.JobStateRunning, dataflow.JobStateDone}}
	generator, store := newGenerator(t, jobs)
	run := resolvedRun(t, store)

	if err := generator.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if run.ExampleGenJobID != "job-1" {
		t.Fatalf("job id not persisted: %q", run.ExampleGenJobID)
	}
	if run.ExamplesDir != "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/examples" {
		t.Fatalf("unexpected examples dir: %q", run.ExamplesDir)
	}
	if jobs.polls != 3 {
		t.Fatalf("expected 3 polls, got %d", jobs.polls)
	}

	spec := jobs.launched[0]
	if spec.JobName != "examplegen-wfp-cyclone--203" {
		t.Fatalf("unexpected job name: %q", spec.JobName)
	}
	if spec.Parameters["before_image_patterns"] != run.BeforePaths {
		t.Fatalf("before patterns not forwarded: %v", spec.Parameters)
	}
	if spec.Parameters["output_dir"] != run.ExamplesDir {
		t.Fatalf("output dir mismatch: %v", spec.Parameters["output_dir"])
	}
	if _, ok := spec.Parameters["labels_file"]; ok {
		t.Fatal("unlabeled run must not carry labels_file")
	}
}

func TestExecuteLabeledModeForwardsLabelParameters(t *testing.T) {
	jobs := &fakeJobs{states: []string{dataflow.JobStateDone}}
	generator, store := newGenerator(t, jobs)
	run := resolvedRun(t, store)
	run.LabeledPath = "gs://labels/damage.geojson"
	run.LabeledKey = "damage_level"
	run.LabelMapJSON = `{"no_damage":0,"destroyed":1}`

	if err := generator.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	spec := jobs.launched[0]
	if spec.Parameters["labels_file"] != "gs://labels/damage.geojson" {
		t.Fatalf("labels_file not forwarded: %v", spec.Parameters)
	}
	if spec.Parameters["label_property"] != "damage_level" {
		t.Fatalf("label_property not forwarded: %v", spec.Parameters)
	}
	if spec.Parameters["labels_to_classes"] != "destroyed=1,no_damage=0" {
		t.Fatalf("unexpected labels_to_classes: %q", spec.Parameters["labels_to_classes"])
	}
	if !strings.HasSuffix(run.TrainPath, "/labeled_train/*.tfrecord") {
		t.Fatalf("labeled mode must set train path, got %q", run.TrainPath)
	}
	if !strings.HasSuffix(run.TestPath, "/labeled_test/*.tfrecord") {
		t.Fatalf("labeled mode must set test path, got %q", run.TestPath)
	}
}

func TestExecuteResumesExistingJob(t *testing.T) {
	jobs := &fakeJobs{states: []string{dataflow.JobStateDone}}
	generator, store := newGenerator(t, jobs)
	run := resolvedRun(t, store)
	run.ExampleGenJobID = "job-previous"
	run.ExamplesDir = "gs://bucket/wfp-cyclone--203/examples"

	if err := generator.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(jobs.launched) != 0 {
		t.Fatal("expected no relaunch for a run with a saved job id")
	}
	if run.ExampleGenJobID != "job-previous" {
		t.Fatalf("job id overwritten: %q", run.ExampleGenJobID)
	}
}

func TestExecuteFailedJobReturnsExternalServiceError(t *testing.T) {
	jobs := &fakeJobs{states: []string{dataflow.JobStateRunning, dataflow.JobStateFailed}}
	generator, store := newGenerator(t, jobs)
	run := resolvedRun(t, store)

	err := generator.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if services.FailureStatus(err) != runs.StatusFailed {
		t.Fatal("expected failed status for job failure")
	}
}

func TestExecuteLaunchFailure(t *testing.T) {
	jobs := &fakeJobs{launchErr: errors.New("quota exceeded")}
	generator, store := newGenerator(t, jobs)
	run := resolvedRun(t, store)

	err := generator.Execute(context.Background(), run)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if run.ExampleGenJobID != "" {
		t.Fatalf("job id must stay empty after failed launch, got %q", run.ExampleGenJobID)
	}
}

func TestHealthCheckRequiresTemplate(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	generator := examplegen.NewGenerator(cfg, store, logging.NewNop(), &fakeJobs{})
	if health := generator.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy, got %+v", health)
	}

	cfg.Dataflow.ContainerSpecPath = ""
	if health := generator.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy without container spec path")
	}
}
