package inference

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

const defaultPollInterval = 30 * time.Second

// JobService is the subset of the Vertex client the predictor needs.
type JobService interface {
	CreateCustomJob(ctx context.Context, spec vertex.CustomJobSpec) (*vertex.JobStatus, error)
	GetCustomJob(ctx context.Context, name string) (*vertex.JobStatus, error)
}

// Option customizes the predictor.
type Option func(*Predictor)

// WithPollInterval overrides how often job state is polled.
func WithPollInterval(interval time.Duration) Option {
	return func(p *Predictor) {
		if interval > 0 {
			p.pollInterval = interval
		}
	}
}

// WithSleeper overrides how polling sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(p *Predictor) {
		p.sleeper = sleeper
	}
}

// Predictor runs the inference stage.
type Predictor struct {
	store        *runs.Store
	cfg          *config.Config
	logger       *slog.Logger
	jobs         JobService
	pollInterval time.Duration
	sleeper      func(time.Duration)
}

// NewPredictor constructs the inference stage handler.
func NewPredictor(cfg *config.Config, store *runs.Store, logger *slog.Logger, jobs JobService, opts ...Option) *Predictor {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "inference"))
	}
	predictor := &Predictor{
		store:        store,
		cfg:          cfg,
		logger:       stageLogger,
		jobs:         jobs,
		pollInterval: defaultPollInterval,
		sleeper:      time.Sleep,
	}
	for _, opt := range opts {
		opt(predictor)
	}
	return predictor
}

func (p *Predictor) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, p.logger)
	if strings.TrimSpace(run.Checkpoint) == "" {
		return services.MissingPrerequisite("predicting", "trained checkpoint",
			"run 'aftermath train' and 'aftermath eval' first, or pass --checkpoint")
	}
	if strings.TrimSpace(run.ExamplesDir) == "" {
		return services.MissingPrerequisite("predicting", "generated examples",
			"run 'aftermath examples generate' first")
	}
	run.SetProgress("Predicting", "Preparing inference submission", 0)
	run.ErrorMessage = ""
	logger.Info("starting inference preparation", logging.String("checkpoint", run.Checkpoint))
	return nil
}

func (p *Predictor) Execute(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, p.logger)

	predictionsPath := fmt.Sprintf("gs://%s/%s/predictions/predictions.geojson", run.Bucket, run.Slug)

	if strings.TrimSpace(run.InferenceJobID) == "" {
		status, err := p.jobs.CreateCustomJob(ctx, vertex.CustomJobSpec{
			DisplayName: "inference_" + run.Slug,
			ImageURI:    p.cfg.Training.InferenceImageURI,
			Args: []string{
				"--mode=predict",
				"--examples_pattern=" + strings.TrimRight(run.ExamplesDir, "/") + "/unlabeled/*.tfrecord",
				"--checkpoint=" + run.Checkpoint,
				"--output_path=" + predictionsPath,
			},
			MachineType:      p.cfg.Training.MachineType,
			AcceleratorType:  p.cfg.Training.AcceleratorType,
			AcceleratorCount: p.cfg.Training.AcceleratorCount,
			OutputURIPrefix:  fmt.Sprintf("gs://%s/%s/predictions", run.Bucket, run.Slug),
		})
		if err != nil {
			return services.Wrap(services.ErrExternalService, "predicting", "submit inference job",
				"Failed to submit inference job", err)
		}
		run.InferenceJobID = status.Name
		p.updateProgress(ctx, run, "Submitted inference job", 20)
		logger.Info("inference job submitted", logging.String("job", status.Name))
	} else {
		logger.Info("resuming wait on existing inference job", logging.String("job", run.InferenceJobID))
	}

	if err := p.waitForJob(ctx, run); err != nil {
		return err
	}

	run.PredictionsPath = predictionsPath
	run.SetProgressComplete("Predicting", fmt.Sprintf("Predictions written to %s", predictionsPath))
	logger.Info("inference completed", logging.String("predictions_path", predictionsPath))
	return nil
}

func (p *Predictor) waitForJob(ctx context.Context, run *runs.Run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		status, err := p.jobs.GetCustomJob(ctx, run.InferenceJobID)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "predicting", "poll inference job",
				"Failed to poll inference job", err)
		}
		switch status.State {
		case vertex.JobStateSucceeded:
			return nil
		case vertex.JobStateFailed, vertex.JobStateCancelled:
			return services.Wrap(services.ErrExternalService, "predicting", "await inference job",
				fmt.Sprintf("Inference job ended in %s: %s", status.State, status.Error.Message), nil)
		}
		p.updateProgress(ctx, run, fmt.Sprintf("Inference job: %s", status.State), 60)
		p.sleeper(p.pollInterval)
	}
}

// HealthCheck verifies inference prerequisites.
func (p *Predictor) HealthCheck(ctx context.Context) stage.Health {
	const name = "inference"
	if p.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(p.cfg.Training.InferenceImageURI) == "" {
		return stage.Unhealthy(name, "inference image uri not configured")
	}
	if p.jobs == nil {
		return stage.Unhealthy(name, "vertex client unavailable")
	}
	return stage.Healthy(name)
}

func (p *Predictor) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, p.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := p.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist predictor progress", logging.Error(err))
		return
	}
	*run = updated
}
