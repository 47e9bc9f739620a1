package dataset

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"aftermath/internal/config"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/vertex"
	"aftermath/internal/stage"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultTestFraction = 0.2
)

// DatasetService is the subset of the Vertex client the assembler needs.
type DatasetService interface {
	ExportData(ctx context.Context, datasetName string, cfg vertex.ExportDataConfig) ([]string, error)
	CreateCustomJob(ctx context.Context, spec vertex.CustomJobSpec) (*vertex.JobStatus, error)
	GetCustomJob(ctx context.Context, name string) (*vertex.JobStatus, error)
}

// Option customizes the assembler.
type Option func(*Assembler)

// WithTestFraction overrides the fraction of examples held out for testing.
func WithTestFraction(fraction float64) Option {
	return func(a *Assembler) {
		if fraction > 0 && fraction < 1 {
			a.testFraction = fraction
		}
	}
}

// WithPollInterval overrides how often the creation job state is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(a *Assembler) {
		if interval > 0 {
			a.pollInterval = interval
		}
	}
}

// WithSleeper overrides how polling sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(a *Assembler) {
		a.sleeper = sleeper
	}
}

// Assembler runs the dataset assembly stage.
type Assembler struct {
	store        *runs.Store
	cfg          *config.Config
	logger       *slog.Logger
	datasets     DatasetService
	testFraction float64
	pollInterval time.Duration
	sleeper      func(time.Duration)
}

// NewAssembler constructs the dataset assembly stage handler.
func NewAssembler(cfg *config.Config, store *runs.Store, logger *slog.Logger, datasets DatasetService, opts ...Option) *Assembler {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "dataset"))
	}
	assembler := &Assembler{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		datasets:     datasets,
		testFraction: defaultTestFraction,
		pollInterval: defaultPollInterval,
		sleeper:      time.Sleep,
	}
	for _, opt := range opts {
		opt(assembler)
	}
	return assembler
}

func (a *Assembler) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, a.logger)
	if strings.TrimSpace(run.DatasetName) == "" {
		return services.MissingPrerequisite("assembling-dataset", "labeling dataset",
			"run 'aftermath labeling create' first or pass --dataset-id")
	}
	if strings.TrimSpace(run.ExamplesDir) == "" {
		return services.MissingPrerequisite("assembling-dataset", "generated examples",
			"run 'aftermath examples generate' first")
	}
	run.SetProgress("Assembling dataset", "Preparing dataset assembly", 0)
	run.ErrorMessage = ""
	logger.Info("starting dataset assembly", logging.String("dataset", run.DatasetName))
	return nil
}

func (a *Assembler) Execute(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, a.logger)

	exportDir := fmt.Sprintf("gs://%s/%s/labels/export", run.Bucket, run.Slug)
	trainPath := fmt.Sprintf("gs://%s/%s/dataset/train.tfrecord", run.Bucket, run.Slug)
	testPath := fmt.Sprintf("gs://%s/%s/dataset/test.tfrecord", run.Bucket, run.Slug)

	if strings.TrimSpace(run.DatasetJobID) == "" {
		files, err := a.datasets.ExportData(ctx, run.DatasetName, vertex.ExportDataConfig{OutputURIPrefix: exportDir})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "assembling-dataset", "export labels",
				"Failed to export labeled dataset", err)
		}
		if len(files) == 0 {
			return services.Wrap(services.ErrNotFound, "assembling-dataset", "export labels",
				"Label export produced no files; check labeling completion", nil)
		}
		a.updateProgress(ctx, run, fmt.Sprintf("Exported %d label files", len(files)), 30)
		logger.Info("labels exported", logging.Int("file_count", len(files)), logging.String("export_dir", exportDir))

		status, err := a.datasets.CreateCustomJob(ctx, vertex.CustomJobSpec{
			DisplayName: "dataset_" + run.Slug,
			ImageURI:    a.cfg.Training.TrainImageURI,
			Args: []string{
				"--mode=create_labeled_dataset",
				"--examples_pattern=" + strings.TrimRight(run.ExamplesDir, "/") + "/unlabeled/*.tfrecord",
				"--labels_pattern=" + exportDir + "/*",
				"--train_output_path=" + trainPath,
				"--test_output_path=" + testPath,
				"--test_fraction=" + strconv.FormatFloat(a.testFraction, 'g', -1, 64),
			},
			MachineType:     a.cfg.Training.MachineType,
			OutputURIPrefix: fmt.Sprintf("gs://%s/%s/dataset", run.Bucket, run.Slug),
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "assembling-dataset", "create dataset job",
				"Failed to submit dataset creation job", err)
		}
		run.DatasetJobID = status.Name
		a.updateProgress(ctx, run, "Submitted dataset creation job", 50)
		logger.Info("dataset creation job submitted", logging.String("job", status.Name))
	} else {
		logger.Info("resuming wait on existing dataset job", logging.String("job", run.DatasetJobID))
	}

	if err := a.waitForJob(ctx, run); err != nil {
		return err
	}

	run.TrainPath = trainPath
	run.TestPath = testPath
	run.SetProgressComplete("Assembling dataset",
		fmt.Sprintf("Train and test sets written under gs://%s/%s/dataset", run.Bucket, run.Slug))
	logger.Info(
		"dataset assembly completed",
		logging.String("train_path", trainPath),
		logging.String("test_path", testPath),
	)
	return nil
}

func (a *Assembler) waitForJob(ctx context.Context, run *runs.Run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := a.datasets.GetCustomJob(ctx, run.DatasetJobID)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "assembling-dataset", "poll dataset job",
				"Failed to poll dataset creation job", err)
		}
		switch status.State {
		case vertex.JobStateSucceeded:
			return nil
		case vertex.JobStateFailed, vertex.JobStateCancelled:
			return services.Wrap(services.ErrExternalService, "assembling-dataset", "await dataset job",
				fmt.Sprintf("Dataset creation job ended in %s: %s", status.State, status.Error.Message), nil)
		}
		a.updateProgress(ctx, run, fmt.Sprintf("Dataset job: %s", status.State), 75)
		a.sleeper(a.pollInterval)
	}
}

// HealthCheck verifies dataset assembly prerequisites.
func (a *Assembler) HealthCheck(ctx context.Context) stage.Health {
	const name = "dataset"
	if a.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(a.cfg.Training.TrainImageURI) == "" {
		return stage.Unhealthy(name, "training image uri not configured")
	}
	if a.datasets == nil {
		return stage.Unhealthy(name, "vertex client unavailable")
	}
	return stage.Healthy(name)
}

func (a *Assembler) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, a.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := a.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist assembler progress", logging.Error(err))
		return
	}
	*run = updated
}
