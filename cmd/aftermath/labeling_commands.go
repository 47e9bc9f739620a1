package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"aftermath/internal/runs"
)

func newLabelingCommand(ctx *commandContext) *cobra.Command {
	labelingCmd := &cobra.Command{
		Use:   "labeling",
		Short: "Coordinate the human labeling task",
	}

	labelingCmd.AddCommand(newLabelingCreateCommand(ctx))
	labelingCmd.AddCommand(newLabelingStatusCommand(ctx))
	labelingCmd.AddCommand(newLabelingWaitCommand(ctx))

	return labelingCmd
}

func newLabelingCreateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "create [run]",
		Short: "Create the labeling dataset and data labeling job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if err := sess.coordinator.Prepare(cmdCtx, run); err != nil {
					return err
				}
				if err := sess.coordinator.EnsureJob(cmdCtx, run); err != nil {
					persistStageFailure(cmdCtx, sess.store, run, err)
					return err
				}
				if err := sess.store.Update(cmdCtx, run); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Dataset %s ready, labeling job %s created\n", run.DatasetID, run.LabelingJobID)
				fmt.Fprintln(out, "Labelers have been notified; check progress with: aftermath labeling status", run.Slug)
				return nil
			})
		},
	}
}

func newLabelingStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run]",
		Short: "Poll labeling completion and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				percent, err := sess.coordinator.Completion(cmdCtx, run)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Labeling %s complete\n", formatPercent(percent))
				if percent >= 100 {
					markLabeled(run)
					fmt.Fprintln(out, "Next: aftermath dataset create", run.Slug)
				}
				return sess.store.Update(cmdCtx, run)
			})
		},
	}
}

func newLabelingWaitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "wait [run]",
		Short: "Block until the labeling task finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if err := advanceExpecting(cmdCtx, sess, run, "labeling"); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s labeled\n", run.Slug)
				fmt.Fprintln(cmd.OutOrStdout(), "Next: aftermath dataset create", run.Slug)
				return nil
			})
		},
	}
}

// markLabeled moves a run past the labeling checkpoint once labelers finish,
// mirroring what the pipeline manager records after a blocking wait.
func markLabeled(run *runs.Run) {
	if run.Status != runs.StatusExamplesGenerated && run.Status != runs.StatusLabeling {
		return
	}
	run.Status = runs.StatusLabeled
	run.SetProgressComplete("labeling", "Labeling task completed")
}
