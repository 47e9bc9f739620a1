package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aftermath/internal/gcs"
)

func newImagesCommand(ctx *commandContext) *cobra.Command {
	imagesCmd := &cobra.Command{
		Use:   "images",
		Short: "Resolve satellite imagery for a run",
	}

	imagesCmd.AddCommand(newImagesResolveCommand(ctx))

	return imagesCmd
}

func newImagesResolveCommand(ctx *commandContext) *cobra.Command {
	var beforePattern string
	var afterPattern string
	var aoiPath string

	cmd := &cobra.Command{
		Use:   "resolve [run]",
		Short: "Expand imagery wildcards and record the matched files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}

				if strings.TrimSpace(beforePattern) != "" {
					run.BeforePattern = beforePattern
				}
				if strings.TrimSpace(afterPattern) != "" {
					run.AfterPattern = afterPattern
				}
				if strings.TrimSpace(aoiPath) != "" {
					run.AOIPath = aoiPath
				}
				if err := sess.store.Update(cmdCtx, run); err != nil {
					return err
				}

				if err := advanceExpecting(cmdCtx, sess, run, "imagery"); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s: %d before images, %d after images\n",
					run.Slug,
					len(gcs.SplitPaths(run.BeforePaths)),
					len(gcs.SplitPaths(run.AfterPaths)),
				)
				fmt.Fprintln(out, "Next: aftermath examples generate", run.Slug)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&beforePattern, "before", "", "Pre-disaster imagery pattern(s), comma separated")
	cmd.Flags().StringVar(&afterPattern, "after", "", "Post-disaster imagery pattern(s), comma separated")
	cmd.Flags().StringVar(&aoiPath, "aoi", "", "GCS path to the area-of-interest GeoJSON")

	return cmd
}
