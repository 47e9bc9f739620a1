package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newExamplesCommand(ctx *commandContext) *cobra.Command {
	examplesCmd := &cobra.Command{
		Use:   "examples",
		Short: "Generate building-centred example patches",
	}

	examplesCmd.AddCommand(newExamplesGenerateCommand(ctx))
	examplesCmd.AddCommand(newExamplesStatusCommand(ctx))

	return examplesCmd
}

func newExamplesGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate [run]",
		Short: "Launch the example generation pipeline and wait for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if err := advanceExpecting(cmdCtx, sess, run, "examplegen"); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s: examples written to %s\n", run.Slug, run.ExamplesDir)
				if run.LabeledPath != "" {
					fmt.Fprintln(out, "Pre-labeled run: train/test sets are ready, labeling is skipped")
					fmt.Fprintln(out, "Next: aftermath train", run.Slug)
				} else {
					fmt.Fprintln(out, "Next: aftermath labeling create", run.Slug)
				}
				return nil
			})
		},
	}
}

func newExamplesStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status [run]",
		Short: "Show the state of the example generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if strings.TrimSpace(run.ExampleGenJobID) == "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Run %s has no example generation job yet\n", run.Slug)
					return nil
				}

				job, err := sess.flex.GetJob(cmdCtx, run.ExampleGenJobID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s: %s\n", job.ID, job.CurrentState)
				fmt.Fprintf(out, "Monitor: %s\n", sess.flex.MonitoringURL(job.ID))
				return nil
			})
		},
	}
}
