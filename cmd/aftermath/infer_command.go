package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newInferCommand(ctx *commandContext) *cobra.Command {
	var checkpoint string

	cmd := &cobra.Command{
		Use:   "infer [run]",
		Short: "Run inference over all generated examples",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withSession(cmd, sessionParams{}, func(cmdCtx context.Context, sess *session) error {
				run, err := loadRun(cmdCtx, sess.store, args[0])
				if err != nil {
					return err
				}
				if strings.TrimSpace(checkpoint) != "" {
					run.Checkpoint = checkpoint
					if err := sess.store.Update(cmdCtx, run); err != nil {
						return err
					}
				}

				if err := advanceExpecting(cmdCtx, sess, run, "inference"); err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run %s complete: predictions at %s\n", run.Slug, run.PredictionsPath)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "Model checkpoint to use instead of the evaluated one")

	return cmd
}
