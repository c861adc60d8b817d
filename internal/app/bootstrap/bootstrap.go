package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	voteledger "gymcore/contexts/community/vote-ledger"
	bookingcoordinator "gymcore/contexts/scheduling/booking-coordinator"
	eventsv1 "gymcore/contracts/events/v1"
	"gymcore/internal/platform/auth"
	"gymcore/internal/platform/config"
	"gymcore/internal/platform/httpserver"
	"gymcore/internal/platform/messaging"
	"gymcore/internal/platform/obs"

	"golang.org/x/sync/errgroup"
)

// Package bootstrap is the composition root.
// Keep construction/wiring here so module code stays framework-agnostic.

const shutdownTimeout = 10 * time.Second

type publisher interface {
	Publish(ctx context.Context, topic string, event eventsv1.Envelope) error
}

type APIApp struct {
	server  *httpserver.Server
	stores  *stores
	workers *workerSet
	closers []func(context.Context) error
	logger  *slog.Logger
}

type WorkerApp struct {
	stores  *stores
	workers *workerSet
	closers []func(context.Context) error
	logger  *slog.Logger
}

func BuildAPI(ctx context.Context) (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, "api")

	shutdownTracer, err := obs.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}
	votes := st.voteModule(cfg, logger)
	bookings := st.bookingModule(cfg, logger)

	var authenticator *auth.Authenticator
	if strings.TrimSpace(cfg.JWTSecret) != "" {
		authenticator = auth.NewAuthenticator(cfg.JWTSecret, cfg.JWTTTL)
	}
	server := httpserver.New(votes, bookings, httpserver.Options{
		Addr:                normalizeAddr(cfg.HTTPPort),
		Auth:                authenticator,
		AllowHeaderIdentity: cfg.AuthAllowHeaderIdentity,
		DevIssuer:           cfg.AuthDevIssuer,
		CORSOrigins:         cfg.CORSAllowedOrigins,
		Logger:              logger,
	})

	app := &APIApp{
		server:  server,
		stores:  st,
		closers: []func(context.Context) error{shutdownTracer},
		logger:  logger,
	}
	if cfg.EmbeddedWorkers() {
		pub, closePublisher, err := newPublisher(cfg, logger)
		if err != nil {
			_ = app.Close()
			return nil, err
		}
		app.closers = append(app.closers, closePublisher)
		app.workers = newWorkerSet(cfg, st, bookings, pub, logger)
	}
	return app, nil
}

func BuildWorker(ctx context.Context) (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.EmbeddedWorkers() {
		return nil, fmt.Errorf("STORE_BACKEND %q runs its workers inside the api process", cfg.StoreBackend)
	}
	logger := newLogger(cfg, "worker")

	shutdownTracer, err := obs.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return nil, err
	}
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}
	app := &WorkerApp{
		stores:  st,
		closers: []func(context.Context) error{shutdownTracer},
		logger:  logger,
	}
	pub, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		_ = app.Close()
		return nil, err
	}
	app.closers = append(app.closers, closePublisher)
	app.workers = newWorkerSet(cfg, st, st.bookingModule(cfg, logger), pub, logger)
	return app, nil
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *APIApp) Run(ctx context.Context) error {
	srv := a.server.HTTPServer()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("http server starting",
			"event", "http_server_starting",
			"module", "internal/app/bootstrap",
			"layer", "platform",
			"addr", srv.Addr,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if a.workers != nil {
		g.Go(func() error { return a.workers.Run(gctx) })
	}
	a.logger.Info("api app started",
		"event", "bootstrap_api_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
		"embedded_workers", a.workers != nil,
	)
	return g.Wait()
}

func (a *APIApp) Close() error {
	return closeAll(a.closers, a.stores)
}

func (w *WorkerApp) Run(ctx context.Context) error {
	w.logger.Info("worker app started",
		"event", "bootstrap_worker_started",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)
	return w.workers.Run(ctx)
}

func (w *WorkerApp) Close() error {
	return closeAll(w.closers, w.stores)
}

func closeAll(closers []func(context.Context) error, st *stores) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i](ctx))
	}
	if st != nil {
		errs = append(errs, st.Close())
	}
	return errors.Join(errs...)
}

func newLogger(cfg config.Config, process string) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil)).With("service", cfg.ServiceName, "process", process)
	slog.SetDefault(logger)
	return logger
}

// newPublisher picks RabbitMQ when a broker URL is configured and the
// in-process bus otherwise.
func newPublisher(cfg config.Config, logger *slog.Logger) (publisher, func(context.Context) error, error) {
	if strings.TrimSpace(cfg.RabbitMQURL) == "" {
		return messaging.NewBus(logger), func(context.Context) error { return nil }, nil
	}
	rabbit, err := messaging.NewRabbitPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange, logger)
	if err != nil {
		return nil, nil, err
	}
	return rabbit, func(context.Context) error { return rabbit.Close() }, nil
}

// workerSet runs the outbox relays and the settlement reconciler on a shared
// poll interval. A failed sweep is logged and retried on the next tick.
type workerSet struct {
	loops    []workerLoop
	interval time.Duration
	logger   *slog.Logger
}

type workerLoop struct {
	name string
	run  func(ctx context.Context) error
}

func newWorkerSet(
	cfg config.Config,
	st *stores,
	bookings bookingcoordinator.Module,
	pub publisher,
	logger *slog.Logger,
) *workerSet {
	if logger == nil {
		logger = slog.Default()
	}
	set := &workerSet{interval: cfg.WorkerPollInterval, logger: logger}
	if cfg.EnableVoteOutboxRelay {
		relay := voteledger.NewOutboxRelay(voteledger.RelayDependencies{
			Outbox:       st.votes,
			Publisher:    pub,
			Clock:        st.voteClock,
			BatchSize:    cfg.OutboxBatchSize,
			StoreTimeout: cfg.StoreTimeout,
			Logger:       logger,
		})
		set.loops = append(set.loops, workerLoop{name: "vote_outbox_relay", run: relay.RunOnce})
	}
	if cfg.EnableBookingOutboxRelay {
		relay := bookingcoordinator.NewOutboxRelay(bookingcoordinator.RelayDependencies{
			Outbox:       st.bookings,
			Publisher:    pub,
			Clock:        st.bookingClock,
			BatchSize:    cfg.OutboxBatchSize,
			StoreTimeout: cfg.StoreTimeout,
			Logger:       logger,
		})
		set.loops = append(set.loops, workerLoop{name: "booking_outbox_relay", run: relay.RunOnce})
	}
	if cfg.EnableSettlementReconcile {
		reconciler := bookingcoordinator.NewSettlementReconciler(bookingcoordinator.ReconcilerDependencies{
			Payments:     st.bookings,
			Settlements:  st.bookings,
			Driver:       bookings.Payments,
			Clock:        st.bookingClock,
			Grace:        cfg.ReconcileGrace,
			MaxAttempts:  cfg.ReconcileMaxAttempts,
			BatchSize:    cfg.ReconcileBatchSize,
			StoreTimeout: cfg.StoreTimeout,
			Logger:       logger,
		})
		set.loops = append(set.loops, workerLoop{name: "settlement_reconciler", run: func(ctx context.Context) error {
			_, err := reconciler.RunOnce(ctx)
			return err
		}})
	}
	return set
}

func (w *workerSet) Run(ctx context.Context) error {
	interval := w.interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, loop := range w.loops {
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			w.logger.Info("worker loop started",
				"event", "bootstrap_worker_loop_started",
				"module", "internal/app/bootstrap",
				"layer", "worker",
				"worker", loop.name,
				"poll_interval", interval.String(),
			)
			for {
				if err := loop.run(gctx); err != nil && gctx.Err() == nil {
					w.logger.Error("worker sweep failed",
						"event", "bootstrap_worker_sweep_failed",
						"module", "internal/app/bootstrap",
						"layer", "worker",
						"worker", loop.name,
						"error", err.Error(),
					)
				}
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		})
	}
	return g.Wait()
}

func normalizeAddr(port string) string {
	value := strings.TrimSpace(port)
	if value == "" {
		return ":8080"
	}
	if strings.HasPrefix(value, ":") {
		return value
	}
	return ":" + value
}
