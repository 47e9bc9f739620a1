package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aftermath/internal/project"
	"aftermath/internal/runs"
	"aftermath/internal/stage"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Create assessment runs",
	}

	projectCmd.AddCommand(newProjectCreateCommand(ctx))

	return projectCmd
}

func newProjectCreateCommand(ctx *commandContext) *cobra.Command {
	var desc project.Descriptor
	var labeledPath string
	var labeledKey string
	var labelMapJSON string
	var semiSupervised bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register a run and provision its bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := desc.Validate(); err != nil {
				return err
			}
			if strings.TrimSpace(labelMapJSON) != "" {
				if _, err := stage.ParseLabelMap(labelMapJSON); err != nil {
					return err
				}
			}
			if strings.TrimSpace(labeledPath) != "" && strings.TrimSpace(labeledKey) == "" {
				return fmt.Errorf("--labeled-path requires --label-key naming the label property")
			}

			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				slug := desc.Slug()
				bucket := desc.BucketName(sess.cfg.Cloud.ProjectID)

				created, err := sess.storage.EnsureBucket(cmdCtx, bucket, sess.cfg.Cloud.Region)
				if err != nil {
					return fmt.Errorf("provision bucket %s: %w", bucket, err)
				}

				run, err := sess.store.Create(cmdCtx, &runs.Run{
					Slug:           slug,
					Disaster:       desc.Disaster,
					EventName:      desc.EventName,
					Country:        desc.Country,
					Organisation:   desc.Organisation,
					RunLabel:       desc.RunLabel,
					Year:           desc.Year,
					Month:          desc.Month,
					Bucket:         bucket,
					LabeledPath:    labeledPath,
					LabeledKey:     labeledKey,
					LabelMapJSON:   labelMapJSON,
					SemiSupervised: semiSupervised,
				})
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created run %d (%s)\n", run.ID, run.Slug)
				if created {
					fmt.Fprintf(out, "Bucket gs://%s created in %s\n", bucket, sess.cfg.Cloud.Region)
				} else {
					fmt.Fprintf(out, "Bucket gs://%s already exists\n", bucket)
				}
				fmt.Fprintln(out, "Next: aftermath images resolve", run.Slug, "--before <pattern> --after <pattern>")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&desc.Disaster, "disaster", "", "Disaster type, e.g. cyclone or earthquake")
	cmd.Flags().StringVar(&desc.EventName, "event-name", "", "Event name, e.g. idai")
	cmd.Flags().StringVar(&desc.Country, "country", "", "Affected country")
	cmd.Flags().StringVar(&desc.Organisation, "organisation", "", "Organisation running the assessment")
	cmd.Flags().StringVar(&desc.RunLabel, "run-label", "", "Optional label distinguishing repeat runs")
	cmd.Flags().IntVar(&desc.Year, "year", 0, "Event year")
	cmd.Flags().IntVar(&desc.Month, "month", 0, "Event month (1-12)")
	cmd.Flags().StringVar(&labeledPath, "labeled-path", "", "GCS path to pre-labeled building footprints")
	cmd.Flags().StringVar(&labeledKey, "label-key", "", "Feature property holding the damage label")
	cmd.Flags().StringVar(&labelMapJSON, "label-map", "", "JSON object mapping label values to classes")
	cmd.Flags().BoolVar(&semiSupervised, "semi-supervised", false, "Train with unlabeled examples as well")

	return cmd
}
