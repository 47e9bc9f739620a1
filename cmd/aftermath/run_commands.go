package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"aftermath/internal/pipeline"
	"aftermath/internal/runs"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Inspect and manage assessment runs",
	}

	runCmd.AddCommand(newRunListCommand(ctx))
	runCmd.AddCommand(newRunShowCommand(ctx))
	runCmd.AddCommand(newRunAdvanceCommand(ctx))
	runCmd.AddCommand(newRunResumeCommand(ctx))
	runCmd.AddCommand(newRunResetCommand(ctx))
	runCmd.AddCommand(newRunHealthCommand(ctx))

	return runCmd
}

func newRunListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assessment runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cmdCtx context.Context, store *runs.Store) error {
				list, err := store.List(cmdCtx)
				if err != nil {
					return err
				}
				if asJSON {
					views := make([]runView, 0, len(list))
					for _, run := range list {
						views = append(views, newRunView(run))
					}
					return writeJSON(cmd, views)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No runs registered")
					return nil
				}

				rows := make([][]string, 0, len(list))
				for _, run := range list {
					rows = append(rows, []string{
						fmt.Sprintf("%d", run.ID),
						run.Slug,
						string(run.Status),
						dash(run.ProgressStage),
						formatPercent(run.ProgressPercent),
						run.UpdatedAt.Local().Format(time.RFC3339),
					})
				}
				table := renderTable(
					[]string{"ID", "Slug", "Status", "Stage", "Progress", "Updated"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newRunShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [run]",
		Short: "Show everything recorded about a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cmdCtx context.Context, store *runs.Store) error {
				run, err := loadRun(cmdCtx, store, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, newRunDetail(run))
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				printSection := func(title string, pairs [][2]string) {
					empty := true
					for _, pair := range pairs {
						if pair[1] != "" {
							empty = false
							break
						}
					}
					if empty {
						return
					}
					for _, line := range renderSectionHeader(title, colorize) {
						fmt.Fprintln(out, line)
					}
					for _, pair := range pairs {
						if pair[1] == "" {
							continue
						}
						fmt.Fprintf(out, "%s%-*s %s\n", statusIndent, statusLabelWidth, pair[0]+":", pair[1])
					}
					fmt.Fprintln(out)
				}

				printSection("Run", [][2]string{
					{"ID", fmt.Sprintf("%d", run.ID)},
					{"Slug", run.Slug},
					{"Status", string(run.Status)},
					{"Bucket", "gs://" + run.Bucket},
					{"Disaster", run.Disaster},
					{"Event", run.EventName},
					{"Country", run.Country},
					{"Organisation", run.Organisation},
					{"Created", run.CreatedAt.Local().Format(time.RFC3339)},
					{"Updated", run.UpdatedAt.Local().Format(time.RFC3339)},
				})
				printSection("Imagery", [][2]string{
					{"Before pattern", run.BeforePattern},
					{"After pattern", run.AfterPattern},
					{"AOI", run.AOIPath},
					{"Before images", run.BeforePaths},
					{"After images", run.AfterPaths},
				})
				printSection("Examples", [][2]string{
					{"Job", run.ExampleGenJobID},
					{"Output", run.ExamplesDir},
					{"Labeled source", run.LabeledPath},
					{"Label key", run.LabeledKey},
					{"Semi-supervised", yesNo(run.SemiSupervised)},
				})
				printSection("Labeling", [][2]string{
					{"Dataset", run.DatasetID},
					{"Job", run.LabelingJobID},
					{"Completion", formatPercent(run.LabelingPercent)},
				})
				printSection("Dataset", [][2]string{
					{"Job", run.DatasetJobID},
					{"Train set", run.TrainPath},
					{"Test set", run.TestPath},
				})
				printSection("Training", [][2]string{
					{"Train job", run.TrainJobID},
					{"Eval job", run.EvalJobID},
					{"Checkpoint", run.Checkpoint},
				})
				printSection("Inference", [][2]string{
					{"Job", run.InferenceJobID},
					{"Predictions", run.PredictionsPath},
				})

				if run.ErrorMessage != "" || run.NeedsReview {
					for _, line := range renderSectionHeader("Attention", colorize) {
						fmt.Fprintln(out, line)
					}
					if run.ErrorMessage != "" {
						fmt.Fprintln(out, renderStatusLine("Error", statusError, run.ErrorMessage, colorize))
					}
					if run.NeedsReview {
						fmt.Fprintln(out, renderStatusLine("Review", statusWarn, run.ReviewReason, colorize))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of sections")
	return cmd
}

func newRunAdvanceCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "advance [run]",
		Short: "Execute the next pipeline stage for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if err := sess.manager.Advance(cmdCtx, run); err != nil {
					if errors.Is(err, pipeline.ErrNoStage) {
						fmt.Fprintf(cmd.OutOrStdout(), "Run %s is %s; nothing to advance\n", run.Slug, run.Status)
						return nil
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s advanced to %s\n", run.Slug, run.Status)
				return nil
			})
		},
	}
}

func newRunResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [run]",
		Short: "Advance a run through all remaining stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if err := sess.manager.Run(cmdCtx, run); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s is %s\n", run.Slug, run.Status)
				return nil
			})
		},
	}
}

func newRunResetCommand(ctx *commandContext) *cobra.Command {
	var toStatus string

	cmd := &cobra.Command{
		Use:   "reset [run]",
		Short: "Return a failed or review run to a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(cmd, func(cmdCtx context.Context, store *runs.Store) error {
				run, err := loadRun(cmdCtx, store, args[0])
				if err != nil {
					return err
				}

				target := runs.StatusPending
				if toStatus != "" {
					parsed, ok := runs.ParseStatus(toStatus)
					if !ok {
						return fmt.Errorf("unknown status %q", toStatus)
					}
					target = parsed
				} else if run.Status != runs.StatusFailed && run.Status != runs.StatusReview {
					return fmt.Errorf("run %s is %s; only failed or review runs reset without --to", run.Slug, run.Status)
				}

				// Saved job and dataset identifiers survive the reset, so
				// stages skip work that already succeeded.
				run.Status = target
				run.ErrorMessage = ""
				run.ClearReview()
				run.SetProgress("", "", 0)
				if err := store.Update(cmdCtx, run); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Run %s reset to %s\n", run.Slug, target)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&toStatus, "to", "", "Status to reset the run to (default pending)")
	return cmd
}

func newRunHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show run counts and stage readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				summary, err := sess.store.Health(cmdCtx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total: %d\nPending: %d\nProcessing: %d\nFailed: %d\nReview: %d\nCompleted: %d\n",
					summary.Total,
					summary.Pending,
					summary.Processing,
					summary.Failed,
					summary.Review,
					summary.Completed,
				)

				health := sess.manager.Health(cmdCtx)
				names := make([]string, 0, len(health))
				for name := range health {
					names = append(names, name)
				}
				sort.Strings(names)

				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Stages", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, name := range names {
					check := health[name]
					kind := statusOK
					if !check.Ready {
						kind = statusError
					}
					fmt.Fprintln(out, renderStatusLine(name, kind, check.Detail, colorize))
				}
				return nil
			})
		},
	}
}
