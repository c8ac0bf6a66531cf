package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"user-service/internal/audit"
	"user-service/internal/auth"
	"user-service/internal/config"
	"user-service/internal/httpapi"
	"user-service/internal/telemetry"
	"user-service/internal/users"
)

func main() {
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(*migrate, logger); err != nil {
		logger.Error("service exited", "error", err)
		os.Exit(1)
	}
}

func run(migrate bool, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := users.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	if migrate {
		if err := users.Migrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("migrations applied")
		return nil
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	engineCfg := auth.DefaultConfig()
	engineCfg.Token.Secret = []byte(cfg.JWTSecret)
	engineCfg.Token.KeyID = cfg.JWTKeyID
	engineCfg.Token.VerifyKeys = cfg.JWTVerifyKeys
	engineCfg.Token.AccessTTL = cfg.AccessTTL
	engineCfg.Token.RefreshTTL = cfg.RefreshTTL
	engineCfg.SessionPrefix = cfg.SessionPrefix
	engineCfg.Audit.Enabled = cfg.AuditEnabled
	engineCfg.Metrics.Enabled = cfg.MetricsEnabled

	sink, closeSink, err := auditSink(cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	engine, err := auth.New().
		WithConfig(engineCfg).
		WithRedis(redisClient).
		WithCredentialStore(users.NewStore(db)).
		WithAuditSink(sink).
		WithWarn(func(msg string, err error) {
			logger.Warn(msg, "error", err)
		}).
		Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	exporter, err := telemetry.Register(provider.Meter("user-service"), engine.MetricsSnapshot)
	if err != nil {
		return fmt.Errorf("register telemetry: %w", err)
	}
	defer exporter.Close()

	// GET /metrics pulls through the manual reader, so every scrape is
	// a real collection cycle over the registered observables.
	router := httpapi.NewRouter(engine, cfg.CORSAllowOrigins, telemetry.NewGatherer(reader))

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	return nil
}

// auditSink writes audit events to the configured file, or discards
// them when no path is set.
func auditSink(cfg *config.Config) (audit.Sink, func(), error) {
	if !cfg.AuditEnabled || cfg.AuditLogPath == "" {
		return nil, func() {}, nil
	}

	f, err := os.OpenFile(cfg.AuditLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}
	return audit.NewJSONWriterSink(f), func() { _ = f.Close() }, nil
}
