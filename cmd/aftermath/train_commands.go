package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"aftermath/internal/runs"
)

func newTrainCommand(ctx *commandContext) *cobra.Command {
	var semiSupervised bool

	cmd := &cobra.Command{
		Use:   "train [run]",
		Short: "Submit the training job and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if cmd.Flags().Changed("semi-supervised") {
					run.SemiSupervised = semiSupervised
				}

				next, err := sess.manager.NextStage(run)
				if err != nil {
					return err
				}
				if next != "training" {
					return fmt.Errorf("run %s is %s; next stage is %s, not training", run.Slug, run.Status, next)
				}

				run.Status = runs.StatusTraining
				run.SetProgress("training", "Submitting training job", 0)
				if err := sess.store.Update(cmdCtx, run); err != nil {
					return err
				}

				if err := sess.trainer.Prepare(cmdCtx, run); err != nil {
					persistStageFailure(cmdCtx, sess.store, run, err)
					return err
				}
				if err := sess.trainer.Train(cmdCtx, run); err != nil {
					persistStageFailure(cmdCtx, sess.store, run, err)
					return err
				}
				// Park the run at a stable status so an interrupted
				// process does not roll the finished job back to
				// dataset_ready.
				run.Status = runs.StatusTrainComplete
				run.SetProgress("training", "Training job finished", 50)
				if err := sess.store.Update(cmdCtx, run); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Training job %s finished\n", run.TrainJobID)
				fmt.Fprintln(out, "Next: aftermath eval", run.Slug)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&semiSupervised, "semi-supervised", false, "Train with unlabeled examples as well")

	return cmd
}

func newEvalCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "eval [run]",
		Short: "Evaluate the trained model and pick a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}

				if run.Status != runs.StatusTrainComplete {
					return fmt.Errorf("run %s is %s; eval expects %s", run.Slug, run.Status, runs.StatusTrainComplete)
				}

				if err := sess.trainer.Evaluate(cmdCtx, run); err != nil {
					persistStageFailure(cmdCtx, sess.store, run, err)
					return err
				}
				run.Status = runs.StatusTrained
				run.SetProgress("training", "Evaluation finished", 100)
				if err := sess.store.Update(cmdCtx, run); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Evaluation job %s finished, checkpoint %s\n", run.EvalJobID, run.Checkpoint)
				fmt.Fprintln(out, "Next: aftermath infer", run.Slug)
				return nil
			})
		},
	}
}
