package training_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/vertex"
	"aftermath/internal/testsupport"
	"aftermath/internal/training"
)

type fakeJobs struct {
	submitted []vertex.CustomJobSpec
	states    map[string][]string
	polls     map[string]int
	createErr error
}

func (f *fakeJobs) CreateCustomJob(ctx context.Context, spec vertex.CustomJobSpec) (*vertex.JobStatus, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.submitted = append(f.submitted, spec)
	name := "projects/p/locations/r/customJobs/" + spec.DisplayName
	return &vertex.JobStatus{Name: name, State: vertex.JobStatePending}, nil
}

func (f *fakeJobs) GetCustomJob(ctx context.Context, name string) (*vertex.JobStatus, error) {
	if f.polls == nil {
		f.polls = make(map[string]int)
	}
	state := vertex.JobStateSucceeded
	if states, ok := f.states[name]; ok && f.polls[name] < len(states) {
		state = states[f.polls[name]]
	}
	f.polls[name]++
	return &vertex.JobStatus{Name: name, State: state}, nil
}

type fakeLister struct {
	names   []string
	listErr error
}

func (f *fakeLister) ListObjectNames(ctx context.Context, bucket, prefix string) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var matched []string
	for _, name := range f.names {
		if strings.HasPrefix(name, prefix) {
			matched = append(matched, name)
		}
	}
	return matched, nil
}

func newTrainer(t *testing.T, jobs *fakeJobs, lister *fakeLister) (*training.Trainer, *runs.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	trainer := training.NewTrainer(cfg, store, logging.NewNop(), jobs, lister,
		training.WithSleeper(func(time.Duration) {}),
		training.WithPollInterval(time.Millisecond))
	return trainer, store
}

func datasetRun(t *testing.T, store *runs.Store) *runs.Run {
	t.Helper()
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")
	run.ExamplesDir = "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/examples"
	run.TrainPath = "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/dataset/train.tfrecord"
	run.TestPath = "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/dataset/test.tfrecord"
	return run
}

func checkpointLister() *fakeLister {
	return &fakeLister{names: []string{
		"wfp-cyclone--203/model/checkpoints/epoch-0009/weights.index",
		"wfp-cyclone--203/model/checkpoints/epoch-0010/weights.index",
		"wfp-cyclone--203/model/checkpoints/epoch-0010/weights.data",
	}}
}

func TestPrepareRequiresDataset(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := testsupport.NewRun(t, store, "wfp-cyclone--203")

	err := trainer.Prepare(context.Background(), run)
	if !errors.Is(err, services.ErrMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
	if len(jobs.submitted) != 0 {
		t.Fatal("expected no job submission before prerequisite check")
	}
}

func TestExecuteRunsTrainThenEvalAndSelectsCheckpoint(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := datasetRun(t, store)

	if err := trainer.Execute(context.Background(), run); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(jobs.submitted) != 2 {
		t.Fatalf("expected train and eval submissions, got %d", len(jobs.submitted))
	}
	if jobs.submitted[0].DisplayName != "train_wfp-cyclone--203" {
		t.Fatalf("unexpected first job: %q", jobs.submitted[0].DisplayName)
	}
	if jobs.submitted[1].DisplayName != "eval_wfp-cyclone--203" {
		t.Fatalf("unexpected second job: %q", jobs.submitted[1].DisplayName)
	}
	want := "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/model/checkpoints/epoch-0010"
	if run.Checkpoint != want {
		t.Fatalf("unexpected checkpoint: %q", run.Checkpoint)
	}
}

func TestTrainSemiSupervisedForwardsUnlabeledExamples(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := datasetRun(t, store)
	run.SemiSupervised = true

	if err := trainer.Train(context.Background(), run); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	args := strings.Join(jobs.submitted[0].Args, " ")
	if !strings.Contains(args, "--semi_supervised") {
		t.Fatalf("semi supervised flag not forwarded: %s", args)
	}
	if !strings.Contains(args, "/unlabeled/*.tfrecord") {
		t.Fatalf("unlabeled examples not forwarded: %s", args)
	}
}

func TestTrainResumesExistingJob(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := datasetRun(t, store)
	run.TrainJobID = "projects/p/locations/r/customJobs/train_existing"

	if err := trainer.Train(context.Background(), run); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	if len(jobs.submitted) != 0 {
		t.Fatal("expected no resubmission for saved train job id")
	}
}

func TestEvaluateRequiresTrainJob(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := datasetRun(t, store)

	err := trainer.Evaluate(context.Background(), run)
	if !errors.Is(err, services.ErrMissingPrerequisite) {
		t.Fatalf("expected missing prerequisite, got %v", err)
	}
}

func TestEvaluateSelectsNumericallyLatestCheckpoint(t *testing.T) {
	jobs := &fakeJobs{}
	lister := &fakeLister{names: []string{
		"wfp-cyclone--203/model/checkpoints/999/weights.index",
		"wfp-cyclone--203/model/checkpoints/1000/weights.index",
	}}
	trainer, store := newTrainer(t, jobs, lister)
	run := datasetRun(t, store)
	run.TrainJobID = "projects/p/locations/r/customJobs/train_done"

	if err := trainer.Evaluate(context.Background(), run); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	want := "gs://test-project-wfp-cyclone--203/wfp-cyclone--203/model/checkpoints/1000"
	if run.Checkpoint != want {
		t.Fatalf("unexpected checkpoint: %q", run.Checkpoint)
	}
}

func TestEvaluateNoCheckpointsRoutesToReview(t *testing.T) {
	jobs := &fakeJobs{}
	trainer, store := newTrainer(t, jobs, &fakeLister{})
	run := datasetRun(t, store)
	run.TrainJobID = "projects/p/locations/r/customJobs/train_done"

	err := trainer.Evaluate(context.Background(), run)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
	if services.FailureStatus(err) != runs.StatusReview {
		t.Fatal("expected review status for missing checkpoints")
	}
}

func TestTrainFailedJob(t *testing.T) {
	jobs := &fakeJobs{states: map[string][]string{
		"projects/p/locations/r/customJobs/train_wfp-cyclone--203": {vertex.JobStateRunning, vertex.JobStateFailed},
	}}
	trainer, store := newTrainer(t, jobs, checkpointLister())
	run := datasetRun(t, store)

	err := trainer.Train(context.Background(), run)
	if !errors.Is(err, services.ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}
