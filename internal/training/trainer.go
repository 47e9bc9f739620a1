package training

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"aftermath/internal/config"
	"aftermath/internal/gcs"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/vertex"
	"aftermath/internal/stage"
)

const defaultPollInterval = 30 * time.Second

// JobService is the subset of the Vertex client the trainer needs.
type JobService interface {
	CreateCustomJob(ctx context.Context, spec vertex.CustomJobSpec) (*vertex.JobStatus, error)
	GetCustomJob(ctx context.Context, name string) (*vertex.JobStatus, error)
}

// Option customizes the trainer.
type Option func(*Trainer)

// WithPollInterval overrides how often job state is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(t *Trainer) {
		if interval > 0 {
			t.pollInterval = interval
		}
	}
}

// WithSleeper overrides how polling sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(t *Trainer) {
		t.sleeper = sleeper
	}
}

// Trainer runs the training stage.
type Trainer struct {
	store        *runs.Store
	cfg          *config.Config
	logger       *slog.Logger
	jobs         JobService
	storage      gcs.ObjectLister
	pollInterval time.Duration
	sleeper      func(time.Duration)
}

// NewTrainer constructs the training stage handler.
func NewTrainer(cfg *config.Config, store *runs.Store, logger *slog.Logger, jobs JobService, storage gcs.ObjectLister, opts ...Option) *Trainer {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "training"))
	}
	trainer := &Trainer{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		jobs:         jobs,
		storage:      storage,
		pollInterval: defaultPollInterval,
		sleeper:      time.Sleep,
	}
	for _, opt := range opts {
		opt(trainer)
	}
	return trainer
}

func (t *Trainer) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, t.logger)
	if strings.TrimSpace(run.TrainPath) == "" || strings.TrimSpace(run.TestPath) == "" {
		return services.MissingPrerequisite("training", "assembled train and test sets",
			"run 'aftermath dataset create' first")
	}
	if run.SemiSupervised && strings.TrimSpace(run.ExamplesDir) == "" {
		return services.MissingPrerequisite("training", "unlabeled examples for semi-supervised training",
			"run 'aftermath examples generate' first")
	}
	run.SetProgress("Training", "Preparing training submission", 0)
	run.ErrorMessage = ""
	logger.Info(
		"starting training preparation",
		logging.String("train_path", run.TrainPath),
		logging.Bool("semi_supervised", run.SemiSupervised),
	)
	return nil
}

func (t *Trainer) Execute(ctx context.Context, run *runs.Run) error {
	if err := t.Train(ctx, run); err != nil {
		return err
	}
	return t.Evaluate(ctx, run)
}

// Train submits the train job and waits for it, reusing a saved job on
// resume.
func (t *Trainer) Train(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, t.logger)

	if strings.TrimSpace(run.TrainJobID) == "" {
		args := []string{
			"--mode=train",
			"--train_examples=" + run.TrainPath,
			"--test_examples=" + run.TestPath,
			"--model_dir=" + t.modelDir(run),
			"--num_epochs=" + strconv.Itoa(t.cfg.Training.Epochs),
		}
		if run.SemiSupervised {
			args = append(args,
				"--semi_supervised",
				"--unlabeled_examples="+strings.TrimRight(run.ExamplesDir, "/")+"/unlabeled/*.tfrecord")
		}
		status, err := t.jobs.CreateCustomJob(ctx, vertex.CustomJobSpec{
			DisplayName:      "train_" + run.Slug,
			ImageURI:         t.cfg.Training.TrainImageURI,
			Args:             args,
			MachineType:      t.cfg.Training.MachineType,
			AcceleratorType:  t.cfg.Training.AcceleratorType,
			AcceleratorCount: t.cfg.Training.AcceleratorCount,
			OutputURIPrefix:  t.modelDir(run),
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "training", "submit train job",
				"Failed to submit training job", err)
		}
		run.TrainJobID = status.Name
		t.updateProgress(ctx, run, "Submitted training job", 10)
		logger.Info("training job submitted", logging.String("job", status.Name))
	} else {
		logger.Info("resuming wait on existing train job", logging.String("job", run.TrainJobID))
	}

	if err := t.waitForJob(ctx, run, run.TrainJobID, "train", 40); err != nil {
		return err
	}
	t.updateProgress(ctx, run, "Training job completed", 60)
	return nil
}

// Evaluate submits the eval job, waits for it, and selects a checkpoint.
func (t *Trainer) Evaluate(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, t.logger)
	if strings.TrimSpace(run.TrainJobID) == "" {
		return services.MissingPrerequisite("training", "completed train job",
			"run 'aftermath train' first")
	}

	if strings.TrimSpace(run.EvalJobID) == "" {
		status, err := t.jobs.CreateCustomJob(ctx, vertex.CustomJobSpec{
			DisplayName: "eval_" + run.Slug,
			ImageURI:    t.cfg.Training.EvalImageURI,
			Args: []string{
				"--mode=eval",
				"--test_examples=" + run.TestPath,
				"--model_dir=" + t.modelDir(run),
			},
			MachineType:      t.cfg.Training.MachineType,
			AcceleratorType:  t.cfg.Training.AcceleratorType,
			AcceleratorCount: t.cfg.Training.AcceleratorCount,
			OutputURIPrefix:  t.modelDir(run),
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "training", "submit eval job",
				"Failed to submit eval job", err)
		}
		run.EvalJobID = status.Name
		t.updateProgress(ctx, run, "Submitted eval job", 70)
		logger.Info("eval job submitted", logging.String("job", status.Name))
	} else {
		logger.Info("resuming wait on existing eval job", logging.String("job", run.EvalJobID))
	}

	if err := t.waitForJob(ctx, run, run.EvalJobID, "eval", 85); err != nil {
		return err
	}

	checkpoint, err := t.selectCheckpoint(ctx, run)
	if err != nil {
		return err
	}
	run.Checkpoint = checkpoint
	run.SetProgressComplete("Training", fmt.Sprintf("Selected checkpoint %s", checkpoint))
	logger.Info("training completed", logging.String("checkpoint", checkpoint))
	return nil
}

func (t *Trainer) modelDir(run *runs.Run) string {
	return fmt.Sprintf("gs://%s/%s/model", run.Bucket, run.Slug)
}

// selectCheckpoint picks the newest checkpoint directory under the model dir.
func (t *Trainer) selectCheckpoint(ctx context.Context, run *runs.Run) (string, error) {
	prefix := run.Slug + "/model/checkpoints/"
	names, err := t.storage.ListObjectNames(ctx, run.Bucket, prefix)
	if err != nil {
		return "", services.Wrap(services.ErrExternalService, "training", "list checkpoints",
			"Failed to list model checkpoints", err)
	}

	seen := make(map[string]struct{})
	var checkpoints []string
	for _, name := range names {
		rest := strings.TrimPrefix(name, prefix)
		dir, _, found := strings.Cut(rest, "/")
		if !found || dir == "" {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		checkpoints = append(checkpoints, dir)
	}
	if len(checkpoints) == 0 {
		return "", services.Wrap(services.ErrNotFound, "training", "select checkpoint",
			fmt.Sprintf("No checkpoints found under gs://%s/%s", run.Bucket, prefix), nil)
	}
	// Step numbers are unpadded, so lexicographic order would rank 999
	// above 1000. Compare the trailing number numerically instead.
	sort.Slice(checkpoints, func(i, j int) bool {
		si, iok := checkpointStep(checkpoints[i])
		sj, jok := checkpointStep(checkpoints[j])
		if iok && jok {
			if si != sj {
				return si < sj
			}
			return checkpoints[i] < checkpoints[j]
		}
		if iok != jok {
			return !iok
		}
		return checkpoints[i] < checkpoints[j]
	})
	newest := checkpoints[len(checkpoints)-1]
	return fmt.Sprintf("gs://%s/%s%s", run.Bucket, prefix, newest), nil
}

// checkpointStep extracts the trailing step number from a checkpoint
// directory name. Names without one sort before numbered checkpoints.
func checkpointStep(name string) (int64, bool) {
	idx := len(name)
	for idx > 0 && name[idx-1] >= '0' && name[idx-1] <= '9' {
		idx--
	}
	if idx == len(name) {
		return 0, false
	}
	step, err := strconv.ParseInt(name[idx:], 10, 64)
	if err != nil {
		return 0, false
	}
	return step, true
}

func (t *Trainer) waitForJob(ctx context.Context, run *runs.Run, jobName, label string, percent float64) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := t.jobs.GetCustomJob(ctx, jobName)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "training", "poll "+label+" job",
				fmt.Sprintf("Failed to poll %s job", label), err)
		}
		switch status.State {
		case vertex.JobStateSucceeded:
			return nil
		case vertex.JobStateFailed, vertex.JobStateCancelled:
			return services.Wrap(services.ErrExternalService, "training", "await "+label+" job",
				fmt.Sprintf("%s job ended in %s: %s", label, status.State, status.Error.Message), nil)
		}
		t.updateProgress(ctx, run, fmt.Sprintf("%s job: %s", label, status.State), percent)
		t.sleeper(t.pollInterval)
	}
}

// HealthCheck verifies training prerequisites.
func (t *Trainer) HealthCheck(ctx context.Context) stage.Health {
	const name = "training"
	if t.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(t.cfg.Training.TrainImageURI) == "" {
		return stage.Unhealthy(name, "training image uri not configured")
	}
	if strings.TrimSpace(t.cfg.Training.EvalImageURI) == "" {
		return stage.Unhealthy(name, "eval image uri not configured")
	}
	if t.jobs == nil {
		return stage.Unhealthy(name, "vertex client unavailable")
	}
	if t.storage == nil {
		return stage.Unhealthy(name, "storage client unavailable")
	}
	return stage.Healthy(name)
}

func (t *Trainer) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, t.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := t.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist trainer progress", logging.Error(err))
		return
	}
	*run = updated
}
