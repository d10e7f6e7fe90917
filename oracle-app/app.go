package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/compose-network/oracle/metrics"
	"github.com/compose-network/oracle/oracle-app/config"
	apisrv "github.com/compose-network/oracle/server/api"
	apimw "github.com/compose-network/oracle/server/api/middleware"
	"github.com/compose-network/oracle/x/events"
	"github.com/compose-network/oracle/x/kv"
	"github.com/compose-network/oracle/x/oracle"
	oraclehttp "github.com/compose-network/oracle/x/oracle/http"
	"github.com/compose-network/oracle/x/oracle/jobstore"
	"github.com/compose-network/oracle/x/proof"
	"github.com/compose-network/oracle/x/proof/evm"
	"github.com/compose-network/oracle/x/proof/groth16"
)

const statsInterval = 30 * time.Second

// App represents the oracle application
type App struct {
	cfg *config.Config
	log zerolog.Logger

	store    kv.Store
	verifier proof.Verifier
	bus      *events.Bus
	service  *oracle.Service

	apiServer *apisrv.Server

	startedAt   time.Time
	shutdownFns []func() error
}

// NewApp creates a new application instance
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	app := &App{
		cfg:         cfg,
		log:         log.With().Str("component", "app").Logger(),
		startedAt:   time.Now(),
		shutdownFns: make([]func() error, 0),
	}

	if err := app.initialize(ctx); err != nil {
		app.runShutdownFns()
		return nil, fmt.Errorf("failed to initialize app: %w", err)
	}

	return app, nil
}

// initialize sets up the application components
func (a *App) initialize(ctx context.Context) error {
	if err := a.initializeStore(); err != nil {
		return err
	}
	if err := a.initializeVerifier(ctx); err != nil {
		return err
	}
	if err := a.initializeService(); err != nil {
		return err
	}
	return a.initializeAPIServer()
}

// initializeStore opens the configured key/value backend.
func (a *App) initializeStore() error {
	switch a.cfg.Store.Backend {
	case config.StoreBadger:
		db, err := kv.OpenBadger(a.cfg.Store.Badger, a.log)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		a.store = db
	case config.StoreRedis:
		a.store = kv.NewRedis(a.cfg.Store.Redis, a.log)
	default:
		a.store = kv.NewMemory()
	}
	a.shutdownFns = append(a.shutdownFns, a.store.Close)

	a.log.Info().Str("backend", a.cfg.Store.Backend).Msg("Job store initialized")
	return nil
}

// initializeVerifier selects the proof backend. It does not change afterwards.
func (a *App) initializeVerifier(ctx context.Context) error {
	switch a.cfg.Verifier.Backend {
	case config.VerifierEVM:
		v, err := evm.Dial(ctx, a.cfg.Verifier.EVM, a.log)
		if err != nil {
			return fmt.Errorf("failed to dial verifier contract: %w", err)
		}
		a.shutdownFns = append(a.shutdownFns, func() error {
			v.Close()
			return nil
		})
		a.verifier = v
	default:
		path := filepath.Join(a.cfg.Verifier.Groth16.KeyDir, groth16.VerifyingKeyFile)
		vk, err := groth16.LoadVerifyingKey(path)
		if err != nil {
			return fmt.Errorf("failed to load verifying key (run setup first): %w", err)
		}
		a.verifier = groth16.NewVerifier(vk)
		a.log.Info().Str("path", path).Msg("Loaded groth16 verifying key")
	}
	return nil
}

// initializeService builds the oracle over the store, verifier and event bus.
func (a *App) initializeService() error {
	a.bus = events.NewBus(a.cfg.Events.JournalSize)
	eventLog := a.log.With().Str("component", "events").Logger()
	if err := a.bus.Subscribe(events.AllTopics, func(rec events.Record) {
		eventLog.Info().
			Uint64("seq", rec.Seq).
			Str("topic", rec.Topic).
			Interface("event", rec.Event).
			Msg("Oracle event")
	}); err != nil {
		return fmt.Errorf("failed to subscribe event logger: %w", err)
	}

	opts := []oracle.Option{oracle.WithEvents(a.bus)}
	if a.cfg.Metrics.Enabled {
		opts = append(opts, oracle.WithMetrics(
			oracle.NewMetrics(metrics.NewComponentRegistry("oracle", "service")),
		))
	}

	svc, err := oracle.NewService(jobstore.New(a.store, a.log), a.verifier, a.cfg.Oracle, a.log, opts...)
	if err != nil {
		return fmt.Errorf("failed to create oracle service: %w", err)
	}
	a.service = svc
	return nil
}

// initializeAPIServer sets up the HTTP API server with all endpoints
func (a *App) initializeAPIServer() error {
	caller, err := apimw.NewCaller(apimw.CallerConfig{
		RequireSignature: a.cfg.Auth.Enabled,
		MaxBodyBytes:     a.cfg.API.MaxBodyBytes,
		SignatureWindow:  a.cfg.Auth.SignatureWindow,
	})
	if err != nil {
		return fmt.Errorf("failed to create caller middleware: %w", err)
	}
	a.shutdownFns = append(a.shutdownFns, caller.Close)

	s := apisrv.NewServer(a.cfg.API, a.log)
	s.Use(apimw.RequestID())
	s.Use(caller.Handler)
	s.Use(apimw.Logger(a.log))
	s.Use(apimw.Recover(a.log))

	// Health/readiness/stats
	s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	s.Router.HandleFunc("/ready", a.handleReady).Methods(http.MethodGet)
	s.Router.HandleFunc("/stats", a.handleStats).Methods(http.MethodGet)

	// Metrics
	if a.cfg.Metrics.Enabled {
		s.Router.Use(apimw.Metrics(metrics.NewComponentRegistry("oracle", "http")))
		s.Router.Handle(a.cfg.Metrics.Path, promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})).
			Methods(http.MethodGet)
	}

	// Oracle API
	h := oraclehttp.NewHandler(a.service, a.log,
		oraclehttp.WithJournal(a.bus.Journal()),
		oraclehttp.WithMaxBodyBytes(a.cfg.API.MaxBodyBytes),
	)
	h.RegisterMux(s.Router)

	a.apiServer = s
	return nil
}

// Run starts the application and blocks until shutdown.
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		if err := a.apiServer.Start(gctx); err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.statsReporter(gctx)
		return nil
	})

	a.log.Info().
		Str("listen_addr", a.cfg.API.ListenAddr).
		Str("verifier", a.service.VerifierName()).
		Msg("Oracle started successfully")

	<-gctx.Done()
	if ctx.Err() == nil && runCtx.Err() != nil {
		a.log.Info().Msg("Received shutdown signal")
	}

	err := g.Wait()
	if shutdownErr := a.shutdown(); shutdownErr != nil {
		err = errors.Join(err, shutdownErr)
	}
	return err
}

// shutdown releases the store, verifier connection and other resources.
func (a *App) shutdown() error {
	a.log.Info().Msg("Initiating graceful shutdown")
	if err := a.runShutdownFns(); err != nil {
		return err
	}
	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

func (a *App) runShutdownFns() error {
	var errs []error
	for i := len(a.shutdownFns) - 1; i >= 0; i-- {
		if err := a.shutdownFns[i](); err != nil {
			a.log.Error().Err(err).Msg("Shutdown function error")
			errs = append(errs, err)
		}
	}
	a.shutdownFns = nil
	return errors.Join(errs...)
}

// handleHealth responds to health check requests.
func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	apisrv.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.service.Ping(ctx); err != nil {
		apisrv.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "store_unavailable",
			"error":  err.Error(),
		})
		return
	}
	apisrv.WriteJSON(w, http.StatusOK, map[string]any{
		"status":   "ready",
		"store":    a.cfg.Store.Backend,
		"verifier": a.service.VerifierName(),
	})
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.GetStats(r.Context())
	if err != nil {
		apisrv.WriteError(w, r, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	apisrv.WriteJSON(w, http.StatusOK, stats)
}

// GetStats returns application statistics.
func (a *App) GetStats(ctx context.Context) (map[string]any, error) {
	jobs, err := a.service.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"jobs_in_progress": jobs.InProgress,
		"jobs_completed":   jobs.Completed,
		"last_event_seq":   a.bus.Journal().LastSeq(),
		"verifier":         a.service.VerifierName(),
		"store":            a.cfg.Store.Backend,
		"uptime_seconds":   time.Since(a.startedAt).Seconds(),
		"app_version":      Version,
		"app_build_time":   BuildTime,
		"app_git_commit":   GitCommit,
	}, nil
}

// statsReporter periodically logs job counts.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobs, err := a.service.Stats(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("Failed to collect statistics")
				continue
			}
			a.log.Info().
				Int("jobs_in_progress", jobs.InProgress).
				Int("jobs_completed", jobs.Completed).
				Uint64("last_event_seq", a.bus.Journal().LastSeq()).
				Float64("uptime_seconds", time.Since(a.startedAt).Seconds()).
				Msg("Oracle statistics")
		}
	}
}
