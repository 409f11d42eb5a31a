package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/TimurManjosov/tgforwarder/internal/api"
	"github.com/TimurManjosov/tgforwarder/internal/audit"
	"github.com/TimurManjosov/tgforwarder/internal/config"
	"github.com/TimurManjosov/tgforwarder/internal/generator"
	"github.com/TimurManjosov/tgforwarder/internal/logging"
	"github.com/TimurManjosov/tgforwarder/internal/mockdata"
	"github.com/TimurManjosov/tgforwarder/internal/session"
	"github.com/TimurManjosov/tgforwarder/internal/store"
	"github.com/TimurManjosov/tgforwarder/internal/telemetry"
	"github.com/TimurManjosov/tgforwarder/internal/testbench"
)

const (
	shutdownTimeout = 5 * time.Second
	auditQueueSize  = 256
	auditRetained   = 500
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tgforwarder: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		logger.Warn().Err(err).Msg("falling back to info level")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()

	st, err := store.NewStore(ctx, cfg.StoreOptions())
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()
	logger.Info().Str("store", cfg.StoreType).Msg("store ready")

	backend, err := newBackend(ctx, cfg)
	switch {
	case errors.Is(err, generator.ErrMissingCredential):
		logger.Warn().Str("backend", cfg.GeneratorBackend).Msg("no generator API key, generation is disabled")
	case err != nil:
		return fmt.Errorf("generator: %w", err)
	default:
		logger.Info().Str("backend", cfg.GeneratorBackend).Msg("generator ready")
	}

	genLogger := logger.With().Str("component", "generator").Logger()
	registry := session.NewRegistry(
		func() testbench.Source { return mockdata.New() },
		session.WithTTL(cfg.SessionTTL),
		session.WithLogger(logger.With().Str("component", "sessions").Logger()),
		session.WithBenchOptions(
			testbench.WithInterval(cfg.BenchInterval),
			testbench.WithHistory(cfg.BenchHistory),
			testbench.WithLogger(logger.With().Str("component", "bench").Logger()),
		),
	)
	defer registry.Close()

	auditLog := audit.NewMemorySink(auditRetained)
	auditSvc := audit.NewService(
		audit.MultiSink{audit.NewLogSink(logger), auditLog},
		auditQueueSize,
		audit.WithLogger(logger),
	)
	defer auditSvc.Close()

	srvAPI := api.NewServer(api.Deps{
		Store:             st,
		Sessions:          registry,
		Generator:         generator.NewAdapter(backend, generator.WithModel(modelFor(cfg)), generator.WithLogger(genLogger)),
		Analyzer:          generator.NewAnalyzer(backend, genLogger),
		AdminAPIKey:       cfg.AdminAPIKey,
		Logger:            logger,
		Audit:             auditSvc,
		AuditLog:          auditLog,
		GeneratorTimeout:  cfg.GeneratorTimeout,
		GeneratePerMinute: cfg.RateLimitGeneratePerMin,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 3 * time.Second,
		WriteTimeout:      0, // SSE streams stay open
		IdleTimeout:       60 * time.Second,
	}
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(logger, "api", srv) })
	g.Go(func() error { return serve(logger, "metrics", metricsSrv) })
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutCtx), metricsSrv.Shutdown(shutCtx))
	})

	err = g.Wait()
	logger.Info().Msg("stopped")
	return err
}

func serve(logger zerolog.Logger, name string, srv *http.Server) error {
	logger.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

// newBackend returns ErrMissingCredential, with a nil backend, when the
// selected provider has no key.
func newBackend(ctx context.Context, cfg *config.Config) (generator.Backend, error) {
	switch cfg.GeneratorBackend {
	case "openai":
		b, err := generator.NewOpenAIBackend(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		b, err := generator.NewGeminiBackend(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func modelFor(cfg *config.Config) string {
	if cfg.GeneratorBackend == "openai" {
		return cfg.OpenAIModel
	}
	return cfg.GeminiModel
}
