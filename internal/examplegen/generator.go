package examplegen

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"aftermath/internal/config"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/dataflow"
	"aftermath/internal/stage"
)

const defaultPollInterval = 30 * time.Second

// JobService is the subset of the Dataflow client the generator needs.
type JobService interface {
	LaunchFlexTemplate(ctx context.Context, spec dataflow.FlexTemplateSpec) (*dataflow.Job, error)
	GetJob(ctx context.Context, jobID string) (*dataflow.Job, error)
	MonitoringURL(jobID string) string
}

// Option customizes the generator.
type Option func(*Generator)

// WithPollInterval overrides how often the remote job state is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(g *Generator) {
		if interval > 0 {
			g.pollInterval = interval
		}
	}
}

// WithSleeper overrides how polling sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(g *Generator) {
		g.sleeper = sleeper
	}
}

// Generator runs the example generation stage.
type Generator struct {
	store        *runs.Store
	cfg          *config.Config
	logger       *slog.Logger
	jobs         JobService
	pollInterval time.Duration
	sleeper      func(time.Duration)
}

// NewGenerator constructs the example generation stage handler.
func NewGenerator(cfg *config.Config, store *runs.Store, logger *slog.Logger, jobs JobService, opts ...Option) *Generator {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "examplegen"))
	}
	generator := &Generator{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		jobs:         jobs,
		pollInterval: defaultPollInterval,
		sleeper:      time.Sleep,
	}
	for _, opt := range opts {
		opt(generator)
	}
	return generator
}

func (g *Generator) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, g.logger)
	if strings.TrimSpace(run.BeforePaths) == "" {
		return services.MissingPrerequisite("generating-examples", "resolved before imagery",
			"run 'aftermath images resolve' first")
	}
	if strings.TrimSpace(run.AfterPaths) == "" {
		return services.MissingPrerequisite("generating-examples", "resolved after imagery",
			"run 'aftermath images resolve' first")
	}
	if run.LabeledPath != "" && strings.TrimSpace(run.LabeledKey) == "" {
		return services.MissingPrerequisite("generating-examples", "label property for the label file",
			"set with --label-key")
	}
	run.SetProgress("Generating examples", "Preparing example generation", 0)
	run.ErrorMessage = ""
	logger.Info(
		"starting example generation",
		logging.String("before_paths", run.BeforePaths),
		logging.String("after_paths", run.AfterPaths),
		logging.Bool("labeled", run.LabeledPath != ""),
	)
	return nil
}

func (g *Generator) Execute(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, g.logger)

	if strings.TrimSpace(run.ExampleGenJobID) == "" {
		spec, err := g.buildSpec(run)
		if err != nil {
			return err
		}
		job, err := g.jobs.LaunchFlexTemplate(ctx, spec)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "generating-examples", "launch dataflow job",
				"Failed to launch example generation job", err)
		}
		run.ExampleGenJobID = job.ID
		run.ExamplesDir = g.outputDir(run)
		g.updateProgress(ctx, run, fmt.Sprintf("Launched Dataflow job %s", job.ID), 10)
		logger.Info(
			"example generation job launched",
			logging.String("job_id", job.ID),
			logging.String("monitoring_url", g.jobs.MonitoringURL(job.ID)),
		)
	} else {
		logger.Info("resuming wait on existing job", logging.String("job_id", run.ExampleGenJobID))
	}

	if err := g.waitForJob(ctx, run); err != nil {
		return err
	}

	// Labeled mode writes train/test example sets directly, so the labeling
	// and assembly stages are skipped for these runs.
	if run.LabeledPath != "" {
		base := strings.TrimRight(run.ExamplesDir, "/")
		run.TrainPath = base + "/labeled_train/*.tfrecord"
		run.TestPath = base + "/labeled_test/*.tfrecord"
	}

	run.SetProgressComplete("Generating examples",
		fmt.Sprintf("Examples written to %s", run.ExamplesDir))
	logger.Info("example generation completed", logging.String("examples_dir", run.ExamplesDir))
	return nil
}

func (g *Generator) buildSpec(run *runs.Run) (dataflow.FlexTemplateSpec, error) {
	templatePath := strings.TrimSpace(g.cfg.Dataflow.ContainerSpecPath)
	if templatePath == "" {
		return dataflow.FlexTemplateSpec{}, services.Wrap(
			services.ErrConfiguration, "generating-examples", "resolve template",
			"Dataflow container spec path not configured; set dataflow.container_spec_path", nil)
	}

	parameters := map[string]string{
		"dataset_name":          run.Slug,
		"before_image_patterns": run.BeforePaths,
		"after_image_patterns":  run.AfterPaths,
		"output_dir":            g.outputDir(run),
		"resolution":            strconv.FormatFloat(g.cfg.Examples.Resolution, 'g', -1, 64),
		"example_patch_size":    strconv.Itoa(g.cfg.Examples.PatchSize),
	}
	if aoi := strings.TrimSpace(run.AOIPath); aoi != "" {
		parameters["aoi_path"] = aoi
	}
	if run.LabeledPath != "" {
		labels, err := stage.ParseLabelMap(run.LabelMapJSON)
		if err != nil {
			return dataflow.FlexTemplateSpec{}, err
		}
		parameters["labels_file"] = run.LabeledPath
		parameters["label_property"] = run.LabeledKey
		if len(labels) > 0 {
			parameters["labels_to_classes"] = formatLabelClasses(labels)
		}
	}

	return dataflow.FlexTemplateSpec{
		JobName:      "examplegen-" + run.Slug,
		TemplatePath: templatePath,
		Parameters:   parameters,
		MachineType:  g.cfg.Dataflow.WorkerMachineType,
		MaxWorkers:   g.cfg.Dataflow.MaxWorkers,
	}, nil
}

func (g *Generator) outputDir(run *runs.Run) string {
	return fmt.Sprintf("gs://%s/%s/examples", run.Bucket, run.Slug)
}

func (g *Generator) waitForJob(ctx context.Context, run *runs.Run) error {
	deadline := time.Time{}
	if g.cfg.Dataflow.LaunchTimeout > 0 {
		deadline = time.Now().Add(time.Duration(g.cfg.Dataflow.LaunchTimeout) * time.Second)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		job, err := g.jobs.GetJob(ctx, run.ExampleGenJobID)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "generating-examples", "poll dataflow job",
				"Failed to poll example generation job", err)
		}
		switch job.CurrentState {
		case dataflow.JobStateDone:
			return nil
		case dataflow.JobStateFailed, dataflow.JobStateCancelled, dataflow.JobStateDrained:
			return services.Wrap(services.ErrExternalService, "generating-examples", "await dataflow job",
				fmt.Sprintf("Example generation job ended in %s; see %s", job.CurrentState, g.jobs.MonitoringURL(run.ExampleGenJobID)), nil)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return services.Wrap(services.ErrTimeout, "generating-examples", "await dataflow job",
				fmt.Sprintf("Example generation job %s still running after launch timeout", run.ExampleGenJobID), nil)
		}
		g.updateProgress(ctx, run, fmt.Sprintf("Dataflow job %s: %s", run.ExampleGenJobID, job.CurrentState), 50)
		g.sleeper(g.pollInterval)
	}
}

func formatLabelClasses(labels map[string]float64) string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, strconv.FormatFloat(labels[key], 'g', -1, 64)))
	}
	return strings.Join(pairs, ",")
}

// HealthCheck verifies example generation prerequisites.
func (g *Generator) HealthCheck(ctx context.Context) stage.Health {
	const name = "examplegen"
	if g.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(g.cfg.Dataflow.ContainerSpecPath) == "" {
		return stage.Unhealthy(name, "dataflow container spec path not configured")
	}
	if g.jobs == nil {
		return stage.Unhealthy(name, "dataflow client unavailable")
	}
	return stage.Healthy(name)
}

func (g *Generator) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, g.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := g.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist generator progress", logging.Error(err))
		return
	}
	*run = updated
}
