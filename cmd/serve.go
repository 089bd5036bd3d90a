package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizradar-io/support-crawler/internal/app"
)

func newServeCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the ops endpoints and crawls on an interval",
		Long: `Starts the health and metrics HTTP listener and runs a crawl
batch every interval until interrupted. With --interval 0 the process
serves the ops endpoints only.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeCommand(cmd, interval)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 6*time.Hour, "delay between crawl batches, 0 disables crawling")
	return cmd
}

func runServeCommand(cmd *cobra.Command, interval time.Duration) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	a.Ops().Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := a.Ops().Shutdown(shutdownCtx); serr != nil {
			a.Logger().Warn("ops server shutdown", zap.Error(serr))
		}
	}()

	if interval <= 0 {
		a.Logger().Info("crawling disabled, serving ops endpoints only")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := runBatchOnce(ctx, a); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			// A failed batch is logged and the loop keeps its schedule.
			a.Logger().Error("crawl batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func runBatchOnce(ctx context.Context, a *app.App) error {
	jobs, err := a.Runner().EnqueueAll(ctx)
	if err != nil {
		return fmt.Errorf("enqueue jobs: %w", err)
	}
	a.Logger().Info("batch enqueued", zap.Int("jobs", len(jobs)))
	if err := a.Runner().RunBatch(ctx); err != nil {
		return fmt.Errorf("run batch: %w", err)
	}
	return nil
}
