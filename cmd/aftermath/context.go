package main

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"log/slog"

	"github.com/spf13/cobra"

	"aftermath/internal/config"
	"aftermath/internal/dataset"
	"aftermath/internal/examplegen"
	"aftermath/internal/gcs"
	"aftermath/internal/imagery"
	"aftermath/internal/inference"
	"aftermath/internal/labeling"
	"aftermath/internal/logging"
	"aftermath/internal/pipeline"
	"aftermath/internal/project"
	"aftermath/internal/runs"
	"aftermath/internal/services"
	"aftermath/internal/services/dataflow"
	"aftermath/internal/services/vertex"
	"aftermath/internal/training"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) configPath() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(c.configPath())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// withStore runs fn against the local run database. Interrupted in-flight
// runs are rolled back to their last checkpoint before fn sees them.
func (c *commandContext) withStore(cmd *cobra.Command, fn func(context.Context, *runs.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := runs.Open(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := cmd.Context()
	if _, err := store.ResetStuckProcessing(ctx); err != nil {
		return fmt.Errorf("reset interrupted runs: %w", err)
	}
	return fn(ctx, store)
}

// session bundles the run store, cloud clients, and stage implementations
// for commands that talk to GCP.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *runs.Store
	storage *gcs.Client
	flex    *dataflow.Client

	resolver    *imagery.Resolver
	generator   *examplegen.Generator
	coordinator *labeling.Coordinator
	assembler   *dataset.Assembler
	trainer     *training.Trainer
	predictor   *inference.Predictor

	manager *pipeline.Manager
}

// sessionParams carries per-command tuning into stage construction.
type sessionParams struct {
	testFraction float64
}

func (c *commandContext) withSession(cmd *cobra.Command, params sessionParams, fn func(context.Context, *session) error) error {
	ctx := cmd.Context()
	sess, err := c.newSession(ctx, params)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(ctx, sess)
}

func (c *commandContext) newSession(ctx context.Context, params sessionParams) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}
	store, err := runs.Open(cfg)
	if err != nil {
		return nil, err
	}
	reset, err := store.ResetStuckProcessing(ctx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("reset interrupted runs: %w", err)
	}
	if reset > 0 {
		logger.Info("rolled back interrupted runs", logging.Int64("count", reset))
	}

	storage, err := gcs.NewClient(ctx, cfg.Cloud.ProjectID, cfg.Cloud.CredentialsPath)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	tokenSource, err := services.TokenSource(ctx, cfg.Cloud.CredentialsPath)
	if err != nil {
		storage.Close()
		store.Close()
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}

	jobs := vertex.NewClient(vertex.Config{
		ProjectID:      cfg.Cloud.ProjectID,
		Region:         cfg.Cloud.Region,
		ServiceAccount: cfg.Cloud.ServiceAccount,
	}, vertex.WithTokenSource(tokenSource))

	// Managed labeling only runs in a fixed set of regions, so datasets and
	// labeling jobs get their own regional client.
	labels := vertex.NewClient(vertex.Config{
		ProjectID:      cfg.Cloud.ProjectID,
		Region:         project.LabelingRegion(cfg.Cloud.Region),
		ServiceAccount: cfg.Cloud.ServiceAccount,
	}, vertex.WithTokenSource(tokenSource))

	flex := dataflow.NewClient(dataflow.Config{
		ProjectID:      cfg.Cloud.ProjectID,
		Region:         cfg.Cloud.Region,
		ServiceAccount: cfg.Cloud.ServiceAccount,
		TempLocation:   cfg.Dataflow.TempLocation,
	}, dataflow.WithTokenSource(tokenSource))

	var assemblerOpts []dataset.Option
	if params.testFraction > 0 {
		assemblerOpts = append(assemblerOpts, dataset.WithTestFraction(params.testFraction))
	}

	sess := &session{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		storage:     storage,
		flex:        flex,
		resolver:    imagery.NewResolver(cfg, store, logger, storage),
		generator:   examplegen.NewGenerator(cfg, store, logger, flex),
		coordinator: labeling.NewCoordinator(cfg, store, logger, labels),
		assembler:   dataset.NewAssembler(cfg, store, logger, labels, assemblerOpts...),
		trainer:     training.NewTrainer(cfg, store, logger, jobs, storage),
		predictor:   inference.NewPredictor(cfg, store, logger, jobs),
	}
	sess.manager = pipeline.NewManager(store, logger, pipeline.Handlers{
		Imagery:    sess.resolver,
		ExampleGen: sess.generator,
		Labeling:   sess.coordinator,
		Dataset:    sess.assembler,
		Training:   sess.trainer,
		Inference:  sess.predictor,
	})
	return sess, nil
}

func (s *session) Close() {
	if s.storage != nil {
		s.storage.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}

// advanceExpecting runs the next pipeline stage after confirming it is the
// one the command names, so a stage command cannot jump the run ahead.
func advanceExpecting(ctx context.Context, sess *session, run *runs.Run, want string) error {
	next, err := sess.manager.NextStage(run)
	if err != nil {
		return err
	}
	if next != want {
		return fmt.Errorf("run %s is %s; next stage is %s, not %s", run.Slug, run.Status, next, want)
	}
	return sess.manager.Advance(ctx, run)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
