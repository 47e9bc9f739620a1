package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/stage"
)

// ErrNoStage reports that a run's current status has no next stage.
var ErrNoStage = errors.New("no stage for status")

// Handlers holds the stage implementations in pipeline order.
type Handlers struct {
	Imagery    stage.Handler
	ExampleGen stage.Handler
	Labeling   stage.Handler
	Dataset    stage.Handler
	Training   stage.Handler
	Inference  stage.Handler
}

type binding struct {
	name             string
	triggerStatus    runs.Status
	processingStatus runs.Status
	doneStatus       runs.Status
	handler          stage.Handler
}

// Manager advances runs through the stage sequence.
type Manager struct {
	store    *runs.Store
	logger   *slog.Logger
	bindings []binding
}

// NewManager constructs a manager over the given stage handlers.
func NewManager(store *runs.Store, logger *slog.Logger, handlers Handlers) *Manager {
	managerLogger := logger
	if managerLogger == nil {
		managerLogger = logging.NewNop()
	}
	return &Manager{
		store:  store,
		logger: managerLogger.With(logging.String(logging.FieldComponent, "pipeline")),
		bindings: []binding{
			{"imagery", runs.StatusPending, runs.StatusResolvingImages, runs.StatusImagesResolved, handlers.Imagery},
			{"examplegen", runs.StatusImagesResolved, runs.StatusGeneratingExamples, runs.StatusExamplesGenerated, handlers.ExampleGen},
			{"labeling", runs.StatusExamplesGenerated, runs.StatusLabeling, runs.StatusLabeled, handlers.Labeling},
			{"dataset", runs.StatusLabeled, runs.StatusAssemblingDataset, runs.StatusDatasetReady, handlers.Dataset},
			{"training", runs.StatusDatasetReady, runs.StatusTraining, runs.StatusTrained, handlers.Training},
			{"inference", runs.StatusTrained, runs.StatusPredicting, runs.StatusCompleted, handlers.Inference},
		},
	}
}

// NextStage names the stage Advance would execute for the run, or ErrNoStage.
func (m *Manager) NextStage(run *runs.Run) (string, error) {
	next, err := m.nextBinding(run)
	if err != nil {
		return "", err
	}
	return next.name, nil
}

// nextBinding picks the stage that takes the run forward. Runs with
// pre-labeled examples skip the labeling and assembly stages because
// example generation already produced train/test sets. A run parked at
// train_complete re-enters the training stage, which resumes from the
// saved train job and only runs evaluation.
func (m *Manager) nextBinding(run *runs.Run) (binding, error) {
	status := run.Status
	if status == runs.StatusExamplesGenerated && run.LabeledPath != "" {
		status = runs.StatusDatasetReady
	}
	if status == runs.StatusTrainComplete {
		status = runs.StatusDatasetReady
	}
	for _, b := range m.bindings {
		if b.triggerStatus == status {
			return b, nil
		}
	}
	return binding{}, fmt.Errorf("%w: %s", ErrNoStage, run.Status)
}

// Advance executes the next stage for the run and persists the outcome.
// The run pointer reflects the persisted state when Advance returns.
func (m *Manager) Advance(ctx context.Context, run *runs.Run) error {
	next, err := m.nextBinding(run)
	if err != nil {
		return err
	}
	if next.handler == nil {
		return fmt.Errorf("stage %s has no handler", next.name)
	}

	stageCtx := services.WithRunID(ctx, run.ID)
	stageCtx = services.WithStage(stageCtx, next.name)
	stageCtx = services.WithRequestID(stageCtx, uuid.NewString())
	logger := logging.WithContext(stageCtx, m.logger)

	run.Status = next.processingStatus
	run.SetProgress(next.name, fmt.Sprintf("%s started", next.name), 0)
	run.ErrorMessage = ""
	if err := m.store.Update(stageCtx, run); err != nil {
		return fmt.Errorf("persist processing transition: %w", err)
	}

	stageStart := time.Now()
	logger.Info(
		"stage started",
		logging.String("slug", run.Slug),
		logging.String("processing_status", string(next.processingStatus)),
	)

	if err := next.handler.Prepare(stageCtx, run); err != nil {
		m.handleStageFailure(stageCtx, next.name, run, err)
		return err
	}
	if err := m.store.Update(stageCtx, run); err != nil {
		return fmt.Errorf("persist stage preparation: %w", err)
	}

	if err := next.handler.Execute(stageCtx, run); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("stage interrupted", logging.String("stage", next.name))
			return err
		}
		m.handleStageFailure(stageCtx, next.name, run, err)
		return err
	}

	if run.Status == next.processingStatus || run.Status == "" {
		run.Status = next.doneStatus
	}
	if err := m.store.Update(stageCtx, run); err != nil {
		return fmt.Errorf("persist stage result: %w", err)
	}
	logger.Info(
		"stage completed",
		logging.String("slug", run.Slug),
		logging.String("next_status", string(run.Status)),
		logging.Duration("stage_duration", time.Since(stageStart)),
	)
	return nil
}

// Run advances the run until it completes, fails, or needs the operator.
func (m *Manager) Run(ctx context.Context, run *runs.Run) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := m.Advance(ctx, run); err != nil {
			if errors.Is(err, ErrNoStage) {
				return nil
			}
			return err
		}
		if run.Status == runs.StatusCompleted {
			return nil
		}
	}
}

func (m *Manager) handleStageFailure(ctx context.Context, stageName string, run *runs.Run, stageErr error) {
	logger := logging.WithContext(ctx, m.logger)
	status := services.FailureStatus(stageErr)
	if status == runs.StatusReview {
		run.SetReview(stageErr.Error())
	} else {
		run.SetFailed(stageErr.Error())
	}
	logger.Error(
		"stage failed",
		logging.String("stage", stageName),
		logging.String("resolved_status", string(run.Status)),
		logging.Error(stageErr),
	)
	if err := m.store.Update(ctx, run); err != nil {
		logger.Error("failed to persist stage failure", logging.Error(err))
	}
}

// Health reports readiness of every configured stage.
func (m *Manager) Health(ctx context.Context) map[string]stage.Health {
	health := make(map[string]stage.Health, len(m.bindings))
	for _, b := range m.bindings {
		if b.handler == nil {
			continue
		}
		health[b.name] = b.handler.HealthCheck(ctx)
	}
	return health
}
