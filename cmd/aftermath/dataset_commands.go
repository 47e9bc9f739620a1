package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aftermath/internal/project"
)

func newDatasetCommand(ctx *commandContext) *cobra.Command {
	datasetCmd := &cobra.Command{
		Use:   "dataset",
		Short: "Assemble labeled train/test sets",
	}

	datasetCmd.AddCommand(newDatasetCreateCommand(ctx))

	return datasetCmd
}

func newDatasetCreateCommand(ctx *commandContext) *cobra.Command {
	var testFraction float64
	var datasetID string

	cmd := &cobra.Command{
		Use:   "create [run]",
		Short: "Export labels and build the labeled dataset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if testFraction < 0 || testFraction >= 1 {
				return fmt.Errorf("--test-fraction must be in [0, 1), got %g", testFraction)
			}
			return ctx.withSession(cmd, sessionParams{testFraction: testFraction}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if id := strings.TrimSpace(datasetID); id != "" {
					run.DatasetID = id
					run.DatasetName = fmt.Sprintf("projects/%s/locations/%s/datasets/%s",
						sess.cfg.Cloud.ProjectID, project.LabelingRegion(sess.cfg.Cloud.Region), id)
					if err := sess.store.Update(cmdCtx, run); err != nil {
						return err
					}
				}
				if err := advanceExpecting(cmdCtx, sess, run, "dataset"); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s: train set %s\n", run.Slug, run.TrainPath)
				fmt.Fprintf(out, "Run %s: test set %s\n", run.Slug, run.TestPath)
				fmt.Fprintln(out, "Next: aftermath train", run.Slug)
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&testFraction, "test-fraction", 0, "Fraction of labeled examples held out for testing (default 0.2)")
	cmd.Flags().StringVar(&datasetID, "dataset-id", "", "Labeling dataset id to export instead of the saved one")

	return cmd
}
