package imagery

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"aftermath/internal/config"
	"aftermath/internal/gcs"
	"aftermath/internal/logging"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/stage"
)

// Storage is the subset of bucket access the resolver needs.
type Storage interface {
	gcs.ObjectLister
	ObjectExists(ctx context.Context, bucket, name string) (bool, error)
}

// Resolver materializes image patterns into concrete object paths.
type Resolver struct {
	store   *runs.Store
	cfg     *config.Config
	logger  *slog.Logger
	storage Storage
}

// NewResolver constructs the imagery stage handler.
func NewResolver(cfg *config.Config, store *runs.Store, logger *slog.Logger, storage Storage) *Resolver {
	stageLogger := logger
	if stageLogger != nil {
		stageLogger = stageLogger.With(logging.String("component", "imagery"))
	}
	return &Resolver{store: store, cfg: cfg, logger: stageLogger, storage: storage}
}

func (r *Resolver) Prepare(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, r.logger)
	if strings.TrimSpace(run.BeforePattern) == "" {
		return services.MissingPrerequisite("resolving-images", "before-image pattern",
			"set with --before on 'aftermath images resolve'")
	}
	if strings.TrimSpace(run.AfterPattern) == "" {
		return services.MissingPrerequisite("resolving-images", "after-image pattern",
			"set with --after on 'aftermath images resolve'")
	}
	run.SetProgress("Resolving imagery", "Preparing image resolution", 0)
	run.ErrorMessage = ""
	logger.Info(
		"starting image resolution",
		logging.String("before_pattern", run.BeforePattern),
		logging.String("after_pattern", run.AfterPattern),
	)
	return nil
}

func (r *Resolver) Execute(ctx context.Context, run *runs.Run) error {
	logger := logging.WithContext(ctx, r.logger)

	beforePaths, err := r.resolve(ctx, run.BeforePattern)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "resolving-images", "resolve before patterns",
			"Failed to list before imagery", err)
	}
	r.updateProgress(ctx, run, "Resolved before imagery", 40)

	afterPaths, err := r.resolve(ctx, run.AfterPattern)
	if err != nil {
		return services.Wrap(services.ErrExternalService, "resolving-images", "resolve after patterns",
			"Failed to list after imagery", err)
	}
	r.updateProgress(ctx, run, "Resolved after imagery", 70)

	if len(beforePaths) == 0 {
		logger.Warn("before pattern matched no objects", logging.String("pattern", run.BeforePattern))
	}
	if len(afterPaths) == 0 {
		logger.Warn("after pattern matched no objects", logging.String("pattern", run.AfterPattern))
	}

	if aoi := strings.TrimSpace(run.AOIPath); aoi != "" {
		bucket, name, err := gcs.ParseGSPath(aoi)
		if err != nil {
			return services.Wrap(services.ErrValidation, "resolving-images", "parse aoi path",
				"Area-of-interest path is not a gs:// path", err)
		}
		exists, err := r.storage.ObjectExists(ctx, bucket, name)
		if err != nil {
			return services.Wrap(services.ErrExternalService, "resolving-images", "check aoi",
				"Failed to check area-of-interest file", err)
		}
		if !exists {
			return services.Wrap(services.ErrNotFound, "resolving-images", "check aoi",
				fmt.Sprintf("Area-of-interest file %s does not exist", aoi), nil)
		}
	}

	run.BeforePaths = gcs.JoinPaths(beforePaths)
	run.AfterPaths = gcs.JoinPaths(afterPaths)
	run.SetProgressComplete("Resolving imagery",
		fmt.Sprintf("Resolved %d before and %d after images", len(beforePaths), len(afterPaths)))
	logger.Info(
		"image resolution completed",
		logging.Int("before_count", len(beforePaths)),
		logging.Int("after_count", len(afterPaths)),
	)
	return nil
}

// resolve expands each comma-separated pattern and merges the results.
func (r *Resolver) resolve(ctx context.Context, patterns string) ([]string, error) {
	var merged []string
	for _, pattern := range gcs.SplitPaths(patterns) {
		resolved, err := gcs.ResolvePattern(ctx, r.storage, pattern, "")
		if err != nil {
			return nil, err
		}
		merged = append(merged, resolved...)
	}
	return gcs.SortedUnique(merged), nil
}

// HealthCheck verifies storage access configuration.
func (r *Resolver) HealthCheck(ctx context.Context) stage.Health {
	const name = "imagery"
	if r.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	if strings.TrimSpace(r.cfg.Cloud.ProjectID) == "" {
		return stage.Unhealthy(name, "cloud project not configured")
	}
	if r.storage == nil {
		return stage.Unhealthy(name, "storage client unavailable")
	}
	return stage.Healthy(name)
}

func (r *Resolver) updateProgress(ctx context.Context, run *runs.Run, message string, percent float64) {
	logger := logging.WithContext(ctx, r.logger)
	updated := *run
	updated.ProgressMessage = message
	updated.ProgressPercent = percent
	if err := r.store.Update(ctx, &updated); err != nil {
		logger.Warn("failed to persist resolver progress", logging.Error(err))
		return
	}
	*run = updated
}
