package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl batch over every active source",
		Long: `Enqueues a job for every active source, then runs the batch:
listing sweep, attachment download and parsing, and deduplication.
Failures are isolated per job; the batch always runs to the end.`,

		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	jobs, err := a.Runner().EnqueueAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("enqueue jobs: %w", err)
	}
	a.Logger().Info("batch enqueued", zap.Int("jobs", len(jobs)))

	if err := a.Runner().RunBatch(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run batch: %w", err)
	}
	a.Logger().Info("crawl finished")
	return nil
}
