package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Valrob28/traderbrok/internal/domain"
)

// TradePurger deletes trades once they are safely archived.
type TradePurger interface {
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves recorded trades older than the retention window from the
// database to cold storage, then purges them.
type Archiver struct {
	blob      domain.Archiver
	purger    TradePurger
	retention time.Duration
	now       func() time.Time
	onFailure func(ctx context.Context, err error)
	logger    *slog.Logger
}

// NewArchiver creates a retention archiver. purger may be nil to keep the
// rows after upload.
func NewArchiver(blob domain.Archiver, purger TradePurger, retention time.Duration, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:      blob,
		purger:    purger,
		retention: retention,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "retention")),
	}
}

// OnFailure registers fn to be told about scheduled runs that fail.
func (a *Archiver) OnFailure(fn func(ctx context.Context, err error)) {
	a.onFailure = fn
}

// Run archives everything older than now minus the retention window.
// Rows are purged only after the upload succeeded.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.now().UTC().Add(-a.retention)
	a.logger.Info("starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", a.retention),
	)

	archived, err := a.blob.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archiving trades before %v: %w", cutoff, err)
	}
	if archived == 0 || a.purger == nil {
		a.logger.Info("archive run complete", slog.Int64("trades_archived", archived))
		return nil
	}

	purged, err := a.purger.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("purging trades before %v: %w", cutoff, err)
	}
	a.logger.Info("archive run complete",
		slog.Int64("trades_archived", archived),
		slog.Int64("trades_purged", purged),
	)
	return nil
}

// RunCron runs the archiver on a 5-field cron schedule until ctx ends.
//
// Example: "0 3 * * *" runs daily at 03:00 UTC.
func (a *Archiver) RunCron(ctx context.Context, expr string) error {
	sched, err := parseCron(expr)
	if err != nil {
		return fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	a.logger.Info("archiver cron started", slog.String("cron", expr))

	for {
		next, ok := sched.next(a.now().UTC())
		if !ok {
			return fmt.Errorf("cron expression %q never fires", expr)
		}
		wait := time.Until(next)
		a.logger.Debug("archiver waiting for next trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", wait),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			a.logger.Info("archiver cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
				if a.onFailure != nil && ctx.Err() == nil {
					a.onFailure(ctx, err)
				}
			}
		}
	}
}
