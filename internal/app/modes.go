package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Valrob28/traderbrok/internal/book"
	"github.com/Valrob28/traderbrok/internal/clock"
	"github.com/Valrob28/traderbrok/internal/config"
	"github.com/Valrob28/traderbrok/internal/domain"
	"github.com/Valrob28/traderbrok/internal/feed"
	"github.com/Valrob28/traderbrok/internal/hub"
	"github.com/Valrob28/traderbrok/internal/notify"
	"github.com/Valrob28/traderbrok/internal/pipeline"
	"github.com/Valrob28/traderbrok/internal/pricing"
	"github.com/Valrob28/traderbrok/internal/registry"
	"github.com/Valrob28/traderbrok/internal/rng"
	"github.com/Valrob28/traderbrok/internal/server"
	"github.com/Valrob28/traderbrok/internal/server/handler"
	"github.com/Valrob28/traderbrok/internal/server/ws"
	"github.com/Valrob28/traderbrok/internal/service"
	"github.com/Valrob28/traderbrok/internal/tape"
)

const (
	leaderLockKey   = "traderbrok:leader"
	shutdownTimeout = 10 * time.Second
	statsInterval   = 30 * time.Second
)

// simulation is the in-process feed and the services attached to its hub.
type simulation struct {
	loop     *clock.Loop
	reg      *registry.Registry
	hub      *hub.Hub
	engine   *feed.Engine
	gen      *tape.Generator
	mirror   *service.Mirror
	recorder *service.Recorder
}

// SimulateMode runs the simulation headless. State leaves the process only
// through the Redis mirror and the Postgres recorder, when enabled.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting simulate mode")
	return a.runSimulation(ctx, deps, false, false)
}

// ServeMode runs the simulation behind the HTTP and WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")
	return a.runSimulation(ctx, deps, true, false)
}

// FullMode is ServeMode plus the cold-storage pipeline.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	return a.runSimulation(ctx, deps, true, true)
}

// ReplicaMode serves the feed another instance mirrors into Redis without
// running a simulation of its own.
func (a *App) ReplicaMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replica mode")
	if deps.EventBus == nil || deps.PriceCache == nil || deps.BookCache == nil {
		return fmt.Errorf("app: replica mode needs redis: %w", domain.ErrInvalidConfig)
	}

	symbols := make([]string, 0, len(a.cfg.Markets))
	known := make(map[string]bool, len(a.cfg.Markets))
	for _, m := range a.cfg.Markets {
		symbols = append(symbols, m.Symbol)
		known[m.Symbol] = true
	}
	h := hub.New(a.logger, hub.Options{
		DeliveryTimeout: a.cfg.Hub.DeliveryTimeout.Duration,
		Known:           func(s string) bool { return known[s] },
	})
	relay := feed.NewRelay(deps.EventBus, deps.PriceCache, deps.BookCache, h, symbols, a.cfg.Tape.Capacity, a.logger)
	a.primeFromCache(ctx, relay, h, symbols)

	var history handler.TradeHistory
	if deps.TradeStore != nil {
		// Read-only: the leader records, the replica only serves history.
		history = service.NewRecorder(h, deps.TradeStore, a.logger)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return relay.Run(ctx)
	})
	sources := map[string]func() any{
		"hub":   func() any { return h.Stats() },
		"relay": func() any { return relay.Stats() },
	}
	maps.Copy(sources, deps.Stats)
	a.serve(ctx, g, deps, h, relay, history, sources)
	g.Go(func() error {
		<-ctx.Done()
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return h.Close(closeCtx)
	})
	return g.Wait()
}

// primeFromCache publishes the mirrored state and stored trade tapes so the
// first subscribers get a snapshot before the next event arrives. Missing
// entries are skipped.
func (a *App) primeFromCache(ctx context.Context, relay *feed.Relay, h *hub.Hub, symbols []string) {
	primed := 0
	for _, sym := range symbols {
		m, err := relay.Market(ctx, sym)
		if err != nil {
			continue
		}
		h.PublishMarket(m)
		if b, err := relay.Book(ctx, sym); err == nil {
			h.PublishBook(b)
		}
		primed++
	}
	tapes, err := relay.PrimeTrades(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "replica trade priming failed",
			slog.String("error", err.Error()),
		)
	}
	a.logger.InfoContext(ctx, "replica primed from cache",
		slog.Int("markets", primed),
		slog.Int("tapes", tapes),
		slog.Int("configured", len(symbols)),
	)
}

// runSimulation builds the feed and runs it with every enabled service until
// ctx ends.
func (a *App) runSimulation(ctx context.Context, deps *Dependencies, withServer, withPipeline bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Redis.LeaderLock {
		if deps.LockManager == nil {
			return fmt.Errorf("app: leader lock needs redis: %w", domain.ErrInvalidConfig)
		}
		acquired := make(chan struct{})
		g.Go(func() error {
			err := deps.LockManager.Hold(ctx, leaderLockKey, a.cfg.Redis.LockTTL.Duration, func() { close(acquired) })
			if err != nil && ctx.Err() == nil {
				a.alert(context.Background(), deps, notify.EventLeaderLost, "leader lock lost", err.Error())
			}
			return err
		})
		select {
		case <-acquired:
		case <-ctx.Done():
			return g.Wait()
		}
	}

	sim, err := a.buildSimulation(ctx, deps)
	if err != nil {
		return err
	}
	symbols := sim.reg.Symbols()

	if deps.PriceCache != nil && a.cfg.Redis.Mirror {
		sim.mirror = service.NewMirror(sim.hub, deps.PriceCache, deps.BookCache, deps.EventBus, a.logger)
		if err := sim.mirror.Start(symbols); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}
	if deps.TradeStore != nil {
		sim.recorder = service.NewRecorder(sim.hub, deps.TradeStore, a.logger)
	}
	a.resumeSequences(ctx, sim, deps.EventBus, symbols)
	if sim.recorder != nil {
		if err := sim.recorder.Start(symbols); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	if err := sim.engine.Start(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	g.Go(func() error {
		return sim.loop.Run(ctx)
	})

	sources := map[string]func() any{
		"feed": func() any { return sim.engine.Stats() },
		"hub":  func() any { return sim.hub.Stats() },
	}
	maps.Copy(sources, deps.Stats)
	if sim.recorder != nil {
		sources["recorder"] = func() any {
			return map[string]uint64{"inserted": sim.recorder.Inserted(), "gaps": sim.recorder.Gaps()}
		}
	}

	if withServer {
		var history handler.TradeHistory
		if sim.recorder != nil {
			history = sim.recorder
		}
		a.serve(ctx, g, deps, sim.hub, sim.engine, history, sources)
	} else {
		g.Go(func() error {
			return a.logStats(ctx, sources)
		})
	}

	var snapshotter *pipeline.Snapshotter
	if withPipeline && deps.Archiver != nil {
		snapshotter = pipeline.NewSnapshotter(sim.engine, deps.Archiver, a.logger)
		var retention *pipeline.Archiver
		if deps.AuditStore != nil {
			a.logLastArchives(ctx, deps.AuditStore)
		}
		if deps.TradeStore != nil {
			retention = pipeline.NewArchiver(deps.Archiver, deps.TradeStore, a.cfg.Postgres.Retention.Duration, a.logger)
			retention.OnFailure(func(ctx context.Context, err error) {
				a.alert(ctx, deps, notify.EventArchiveFailed, "trade archive failed", err.Error())
			})
		}
		orch := pipeline.NewOrchestrator(snapshotter, retention, a.cfg.S3.SnapshotInterval.Duration, a.cfg.Postgres.ArchiveCron, a.logger)
		g.Go(func() error {
			return orch.Run(ctx)
		})
	} else if withPipeline {
		a.logger.WarnContext(ctx, "s3 disabled; pipeline will not run")
	}

	g.Go(func() error {
		<-ctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.stopSimulation(stopCtx, sim, snapshotter)
	})

	return g.Wait()
}

// buildSimulation assembles the feed from configuration, restoring market
// state from the newest snapshot when asked to.
func (a *App) buildSimulation(ctx context.Context, deps *Dependencies) (*simulation, error) {
	src := rng.New(a.cfg.Seed)

	seeds := a.cfg.Seeds()
	if a.cfg.S3.RestoreOnStart && deps.Archiver != nil {
		snap, err := deps.Archiver.LatestSnapshot(ctx)
		switch {
		case err == nil:
			seeds = snap.Seeds()
			a.logger.InfoContext(ctx, "restored markets from snapshot",
				slog.Time("taken_at", snap.TakenAt),
				slog.Int("markets", len(seeds)),
			)
			a.alert(ctx, deps, notify.EventRestored, "markets restored",
				fmt.Sprintf("%d markets from snapshot taken %s", len(seeds), snap.TakenAt.UTC().Format(time.RFC3339)))
		case errors.Is(err, domain.ErrNotFound):
			a.logger.InfoContext(ctx, "no snapshot to restore, using configured markets")
		default:
			a.logger.WarnContext(ctx, "snapshot restore failed, using configured markets",
				slog.String("error", err.Error()),
			)
		}
	}

	reg, err := registry.New(seeds, time.Now())
	if err != nil {
		return nil, fmt.Errorf("app: registry: %w", err)
	}
	model, err := pricing.New(src, a.cfg.Pricing.Volatility, a.cfg.Pricing.Floor)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	books, err := book.New(book.Config{
		Depth:    a.cfg.Book.Depth,
		TickSize: a.cfg.Book.TickSize,
		SizeMin:  a.cfg.Book.SizeMin,
		SizeMax:  a.cfg.Book.SizeMax,
	}, src)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	gen, err := tape.NewGenerator(tape.Config{
		Jitter:  a.cfg.Tape.Jitter,
		SizeMin: a.cfg.Tape.SizeMin,
		SizeMax: a.cfg.Tape.SizeMax,
	}, src)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	gen.SetRun(uuid.New())

	h := hub.New(a.logger, hub.Options{
		DeliveryTimeout: a.cfg.Hub.DeliveryTimeout.Duration,
		Known: func(s string) bool {
			_, ok := reg.Get(s)
			return ok
		},
	})
	loop := clock.NewLoop(src)
	engine, err := feed.New(feedConfig(a.cfg), loop, reg, model, books, gen, h, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return &simulation{loop: loop, reg: reg, hub: h, engine: engine, gen: gen}, nil
}

func feedConfig(c *config.Config) feed.Config {
	iv := func(v config.Interval) clock.Interval {
		return clock.Interval{Min: v.Min.Duration, Max: v.Max.Duration}
	}
	return feed.Config{
		PriceInterval: iv(c.Feed.PriceInterval),
		BookInterval:  iv(c.Feed.BookInterval),
		TradeInterval: iv(c.Feed.TradeInterval),
		SweepInterval: iv(c.Feed.SweepInterval),
		TapeCapacity:  c.Tape.Capacity,
		MaxRebuilds:   c.Feed.MaxRebuilds,
	}
}

// stopSimulation takes a last snapshot, stops the timers and detaches every
// subscriber.
func (a *App) stopSimulation(ctx context.Context, sim *simulation, snapshotter *pipeline.Snapshotter) error {
	if snapshotter != nil {
		if path, err := snapshotter.RunOnce(ctx); err != nil {
			a.logger.Warn("final snapshot failed", slog.String("error", err.Error()))
		} else {
			a.logger.Info("final snapshot archived", slog.String("path", path))
		}
	}
	sim.engine.Stop(ctx)

	var errs []error
	if sim.mirror != nil {
		errs = append(errs, sim.mirror.Stop(ctx))
	}
	if sim.recorder != nil {
		errs = append(errs, sim.recorder.Stop(ctx))
	}
	errs = append(errs, sim.hub.Close(ctx))
	return errors.Join(errs...)
}

// serve starts the HTTP server and the WebSocket gateway on g and shuts them
// down when ctx ends.
func (a *App) serve(ctx context.Context, g *errgroup.Group, deps *Dependencies, h *hub.Hub, source handler.MarketSource, history handler.TradeHistory, sources map[string]func() any) {
	wsHub := ws.NewHub(h, a.logger, ws.Config{Mode: a.cfg.Mode, StartedAt: a.startedAt})
	sources["ws_clients"] = func() any { return wsHub.ClientCount() }

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Markets: handler.NewMarketHandler(source, a.logger),
		Stats:   handler.NewStatsHandler(a.cfg.Mode, a.startedAt, sources),
	}
	if history != nil {
		handlers.History = handler.NewHistoryHandler(history, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, wsHub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		return wsHub.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// resumeSequences continues each market's trade Seq after the highest one
// already persisted, so a restarted feed never reuses a sequence number. The
// trade history is read first, then the newest entry of the trade stream.
func (a *App) resumeSequences(ctx context.Context, sim *simulation, bus domain.EventBus, symbols []string) {
	for _, sym := range symbols {
		var last uint64
		if sim.recorder != nil {
			seq, err := sim.recorder.LastSeq(ctx, sym)
			if err != nil {
				a.logger.WarnContext(ctx, "read last recorded seq failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
			}
			last = max(last, seq)
		}
		if bus != nil {
			recent, err := bus.RecentTrades(ctx, sym, 1)
			if err != nil {
				a.logger.WarnContext(ctx, "read trade stream failed",
					slog.String("symbol", sym),
					slog.String("error", err.Error()),
				)
			}
			if len(recent) > 0 {
				last = max(last, recent[0].Seq)
			}
		}
		if last == 0 {
			continue
		}
		sim.gen.SetSeq(sym, last)
		attrs := []any{slog.String("symbol", sym), slog.Uint64("last_seq", last)}
		if sim.recorder != nil {
			if ts, err := sim.recorder.LastRecorded(ctx, sym); err == nil && !ts.IsZero() {
				attrs = append(attrs, slog.Time("last_recorded", ts))
			}
		}
		a.logger.DebugContext(ctx, "trade sequence resumes", attrs...)
	}
}

// logLastArchives reports the newest archive object of each kind.
func (a *App) logLastArchives(ctx context.Context, audit domain.AuditLog) {
	for _, kind := range []domain.ArchiveKind{domain.ArchiveSnapshot, domain.ArchiveTrades} {
		rec, err := audit.LastArchive(ctx, kind)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			continue
		case err != nil:
			a.logger.WarnContext(ctx, "read archive audit failed",
				slog.String("kind", string(kind)),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.InfoContext(ctx, "last archive",
			slog.String("kind", string(kind)),
			slog.String("key", rec.Key),
			slog.Int("rows", rec.Rows),
			slog.Time("at", rec.CreatedAt),
		)
	}
}

// logStats reports every counter source periodically until ctx ends.
func (a *App) logStats(ctx context.Context, sources map[string]func() any) error {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attrs := make([]any, 0, len(sources))
			for name, sample := range sources {
				attrs = append(attrs, slog.Any(name, sample()))
			}
			a.logger.InfoContext(ctx, "simulation stats", attrs...)
		}
	}
}
