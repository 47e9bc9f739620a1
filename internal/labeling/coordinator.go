package labeling

import (
	"context"
	"fmt"
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

const defaultPollInterval = time.Minute

// AnnotationSpecs are the damage categories presented to human labelers.
var AnnotationSpecs = []string{
	"no_damage",
	"minor_damage",
	"major_damage",
	"destroyed",
	"bad_example",
}

// LabelService is the subset of the Vertex client the coordinator needs.
type LabelService interface {
	CreateImageDataset(ctx context.Context, displayName string) (*vertex.Dataset, error)
	ImportDataItems(ctx context.Context, datasetName, importFileURI string) (string, error)
	WaitForImport(ctx context.Context, operationName string) error
	CreateDataLabelingJob(ctx context.Context, spec vertex.LabelingJobSpec) (*vertex.LabelingJob, error)
	GetDataLabelingJob(ctx context.Context, name string) (*vertex.LabelingJob, error)
}

// Option customizes the coordinator.
type Option func(*Coordinator)

// WithPollInterval overrides how often labeling completion is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithSleeper overrides how polling sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Coordinator) {
		c.sleeper = sleeper
	}
}

// Coordinator runs the labeling stage.
type Coordinator struct {
	store        *runs.Store
	cfg          *config.Config
	logger       *slog.Logger
	labels       LabelService
	pollInterval time.Duration
	sleeper      func(time.Duration)
}

// NewCoordinator constructs the labeling stage handler.
func NewCoordinator(cfg *config.Config, store *runs.Store, logger *slog.Logger, labels LabelService, opts ...Option) *Coordinator {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "labeling"))
	}
	coordinator := &Coordinator{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		labels:       labels,
		pollInterval: defaultPollInterval,
		sleeper:      time.Sleep,
	}
	for _, opt := range opts {
		opt(coordinator)
	}
	return coordinator
}

func (c *Coordinator) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, c.logger)
	if strings.TrimSpace(run.ExamplesDir) == "" {
		return services.MissingPrerequisite("labeling", "generated examples",
			"run 'aftermath examples generate' first")
	}
	run.SetProgress("Labeling", "Preparing labeling task", 0)
	run.ErrorMessage = ""
	logger.Info("starting labeling preparation", logging.String("examples_dir", run.ExamplesDir))
	return nil
}

func (c *Coordinator) Execute(ctx context.Context, run *runs.Run) error {
	if err := c.EnsureJob(ctx, run); err != nil {
		return err
	}
	return c.Await(ctx, run)
}

// EnsureJob creates the dataset, import, and labeling job for the run,
// skipping any step whose identifier is already saved.
func (c *Coordinator) EnsureJob(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, c.logger)

	if strings.TrimSpace(run.DatasetName) == "" {
		dataset, err := c.labels.CreateImageDataset(ctx, run.Slug)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "labeling", "create dataset",
				"Failed to create labeling dataset", err)
		}
		run.DatasetName = dataset.Name
		run.DatasetID = dataset.ID()
		c.updateProgress(ctx, run, fmt.Sprintf("Created dataset %s", run.DatasetID), 20)
		logger.Info("labeling dataset created", logging.String("dataset", dataset.Name))

		importFile := c.importFileURI(run)
		operationName, err := c.labels.ImportDataItems(ctx, dataset.Name, importFile)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "labeling", "import data items",
				"Failed to import labeling candidates", err)
		}
		c.updateProgress(ctx, run, "Importing labeling candidates", 40)
		if err := c.labels.WaitForImport(ctx, operationName); err != nil {
			return services.Wrap(services.ErrExternalService, "labeling", "await import",
				"Labeling candidate import failed", err)
		}
		logger.Info("labeling candidates imported", logging.String("import_file", importFile))
	}

	if strings.TrimSpace(run.LabelingJobName) == "" {
		job, err := c.labels.CreateDataLabelingJob(ctx, vertex.LabelingJobSpec{
			DisplayName:     "label_" + run.Slug,
			DatasetName:     run.DatasetName,
			InstructionURI:  c.cfg.Labeling.InstructionURI,
			InputsSchemaURI: c.cfg.Labeling.InputsSchemaURI,
			LabelerCount:    c.cfg.Labeling.LabelerCount,
			AnnotationSpecs: AnnotationSpecs,
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "labeling", "create labeling job",
				"Failed to create data labeling job", err)
		}
		run.LabelingJobName = job.Name
		run.LabelingJobID = jobID(job.Name)
		c.updateProgress(ctx, run, fmt.Sprintf("Created labeling job %s", run.LabelingJobID), 50)
		logger.Info("data labeling job created", logging.String("labeling_job", job.Name))
	}

	return nil
}

// Await blocks until human labelers finish. Progress percentage is persisted
// on every poll so 'aftermath labeling status' reflects the latest value.
func (c *Coordinator) Await(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, c.logger)
	deadline := time.Time{}
	if c.cfg.Labeling.PollTimeout > 0 {
		deadline = time.Now().Add(time.Duration(c.cfg.Labeling.PollTimeout) * time.Second)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		percent, err := c.Completion(ctx, run)
		if err != nil {
			return err
		}
		if percent >= 100 {
			run.SetProgressComplete("Labeling", "Labeling task completed")
			logger.Info("labeling completed", logging.String("labeling_job", run.LabelingJobName))
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return services.Wrap(services.ErrTimeout, "labeling", "await labelers",
				fmt.Sprintf("Labeling job %s at %.0f%% after poll timeout", run.LabelingJobID, percent), nil)
		}
		c.sleeper(c.pollInterval)
	}
}

// Completion fetches and persists the labeling completion percentage.
func (c *Coordinator) Completion(ctx context.Context, run *runs.Run) (float64, error) {
	if strings.TrimSpace(run.LabelingJobName) == "" {
		return 0, services.MissingPrerequisite("labeling", "labeling job",
			"run 'aftermath labeling create' first")
	}
	job, err := c.labels.GetDataLabelingJob(ctx, run.LabelingJobName)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalService, "labeling", "poll labeling job",
			"Failed to poll data labeling job", err)
	}
	percent := job.CompletionPercentage()
	run.LabelingPercent = percent
	c.updateProgress(ctx, run, fmt.Sprintf("Labeling %.0f%% complete", percent), 50+percent/2)
	return percent, nil
}

func (c *Coordinator) importFileURI(run *runs.Run) string {
	return strings.TrimRight(run.ExamplesDir, "/") + "/labeling_images/import_file.csv"
}

func jobID(name string) string {
	idx := strings.LastIndex(name, "/")
	if idx < 0 {
		return name
	}
	return name[idx+1:]
}

// HealthCheck verifies labeling prerequisites.
func (c *Coordinator) HealthCheck(ctx context.Context) stage.Health {
	const name = "labeling"
	if c.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(c.cfg.Labeling.InstructionURI) == "" {
		return stage.Unhealthy(name, "labeling instruction uri not configured")
	}
	if c.labels == nil {
		return stage.Unhealthy(name, "vertex client unavailable")
	}
	return stage.Healthy(name)
}

func (c *Coordinator) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, c.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := c.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist labeling progress", logging.Error(err))
		return
	}
	*run = updated
}
