// Package pipeline runs the cold-storage jobs: periodic state snapshots and
// trade retention.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the snapshotter and the retention archiver side by side.
// Either may be nil.
type Orchestrator struct {
	snapshotter      *Snapshotter
	archiver         *Archiver
	snapshotInterval time.Duration
	archiveCron      string
	logger           *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	snapshotter *Snapshotter,
	archiver *Archiver,
	snapshotInterval time.Duration,
	archiveCron string,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		snapshotter:      snapshotter,
		archiver:         archiver,
		snapshotInterval: snapshotInterval,
		archiveCron:      archiveCron,
		logger:           logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a job fails outright.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Duration("snapshot_interval", o.snapshotInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.snapshotter != nil && o.snapshotInterval > 0 {
		g.Go(func() error {
			err := o.snapshotter.RunLoop(ctx, o.snapshotInterval)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("snapshotter: %w", err)
		})
	}

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
