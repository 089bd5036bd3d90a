package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPruneCmd() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Soft-deletes projects whose application deadline has passed",
		Long: `Finds live projects whose deadline lies further in the past than
the --older-than window and marks them deleted. Rows keep their data
and provenance; they just stop surfacing in queries and dedup.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPruneCommand(cmd, olderThan)
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "grace period after the deadline before a project is pruned")
	return cmd
}

func runPruneCommand(cmd *cobra.Command, olderThan time.Duration) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	now := time.Now()
	cutoff := now.Add(-olderThan)
	ids, err := a.Store().ExpiredProjectIDs(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list expired projects: %w", err)
	}

	for _, id := range ids {
		if err := a.Store().SoftDeleteProject(ctx, id, now); err != nil {
			return fmt.Errorf("prune project %d: %w", id, err)
		}
	}
	a.Logger().Info("prune finished",
		zap.Int("pruned", len(ids)),
		zap.Time("cutoff", cutoff))
	return nil
}
