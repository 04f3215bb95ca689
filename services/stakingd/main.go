package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	genesisconfig "yieldstake/config"
	"yieldstake/core/events"
	"yieldstake/core/state"
	"yieldstake/gateway/middleware"
	"yieldstake/native/staking"
	"yieldstake/observability/logging"
	"yieldstake/observability/metrics"
	telemetry "yieldstake/observability/otel"
	"yieldstake/services/stakingd/config"
	"yieldstake/services/stakingd/ledger"
	"yieldstake/services/stakingd/server"
	"yieldstake/storage"
	"yieldstake/storage/history"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stakingd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		cfgPath        string
		allowMigrate   bool
		reindexHistory bool
	)
	pflag.StringVar(&cfgPath, "config", "", "path to stakingd config (defaults are used when empty)")
	pflag.BoolVar(&allowMigrate, "allow-migrate", false, "start even when the state schema version differs")
	pflag.BoolVar(&reindexHistory, "reindex-history", false, "rebuild the history index from stored receipts at startup")
	pflag.Parse()

	cfg := config.Default()
	if strings.TrimSpace(cfgPath) != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	env := strings.TrimSpace(os.Getenv("STAKINGD_ENV"))
	format := cfg.Logging.Format
	if format == "" && strings.EqualFold(env, "dev") {
		format = "text"
	}
	logger, logCloser, err := logging.Setup(logging.Options{
		Service:    "stakingd",
		Env:        env,
		Level:      cfg.Logging.Level,
		Format:     format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg, env))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := manager.EnsureStateVersion(allowMigrate); err != nil {
		return err
	}

	var historyStore *history.Store
	if cfg.History.Driver != "" {
		historyStore, err = history.Open(cfg.History.Driver, cfg.History.DSN)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer historyStore.Close()
	}

	broker := events.NewBroker()
	opts := ledger.Options{
		Engine:  staking.NewEngine(clockwork.NewRealClock(), logger),
		State:   manager,
		Emitter: broker,
		Logger:  logger,
		Metrics: metrics.Staking(),
	}
	if historyStore != nil {
		opts.History = historyStore
	}
	settlements, err := ledger.New(opts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genesis, err := genesisconfig.Load(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("load genesis: %w", err)
	}
	if err := settlements.Bootstrap(ctx, genesis); err != nil {
		return err
	}
	if reindexHistory {
		if _, err := settlements.ReindexHistory(ctx); err != nil {
			return err
		}
	}

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for name, rate := range cfg.RateLimits {
		limits[name] = middleware.RateLimit{RatePerSecond: rate.RatePerSecond, Burst: rate.Burst}
	}
	srv, err := server.New(server.Config{
		Ledger: settlements,
		Broker: broker,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.Secret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{
			ServiceName: "stakingd",
			Registerer:  prometheus.DefaultRegisterer,
		}, logger),
		CORS:           middleware.CORSConfig{AllowedOrigins: cfg.CORS.AllowedOrigins},
		StreamInterval: cfg.StreamInterval,
		SettleTimeout:  cfg.SettleTimeout,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("stakingd listening", slog.String("addr", cfg.ListenAddress), slog.String("storage", cfg.Storage))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func openDatabase(cfg config.Config) (storage.Database, error) {
	if cfg.Storage == config.StorageMemory {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return db, nil
}

func telemetryConfig(full config.Config, env string) telemetry.Config {
	cfg := full.Telemetry
	endpoint := cfg.Endpoint
	if fromEnv := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); fromEnv != "" {
		endpoint = fromEnv
	}
	insecure := cfg.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	historyDriver := full.History.Driver
	if historyDriver == "" {
		historyDriver = "disabled"
	}
	return telemetry.Config{
		ServiceName:    "stakingd",
		ServiceVersion: version,
		Environment:    env,
		Endpoint:       endpoint,
		Insecure:       insecure,
		Headers:        telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:        cfg.Metrics,
		Traces:         cfg.Traces,
		SampleRatio:    cfg.SampleRatio,
		Attributes: map[string]string{
			"storage":        full.Storage,
			"history_driver": historyDriver,
			"listen":         full.ListenAddress,
		},
	}
}
