package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx as database/sql driver
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/operant-labs/toolgate/internal/audit"
	"github.com/operant-labs/toolgate/internal/auth"
	"github.com/operant-labs/toolgate/internal/confirm"
	"github.com/operant-labs/toolgate/internal/credential"
	"github.com/operant-labs/toolgate/internal/dispatch"
	"github.com/operant-labs/toolgate/internal/gateway"
	"github.com/operant-labs/toolgate/internal/ratelimit"
	"github.com/operant-labs/toolgate/internal/registry"
	"github.com/operant-labs/toolgate/internal/server"
)

func main() {
	// Logger
	logger := mustBuildLogger(envOrDefault("TOOLGATE_LOG_LEVEL", "info"))
	defer logger.Sync() //nolint:errcheck // best-effort flush

	// Config from env
	httpPort := envOrDefault("TOOLGATE_HTTP_PORT", "8080")
	confirmTTLMin := envOrDefaultInt("TOOLGATE_CONFIRM_TTL_MIN", 5)
	sweepIntervalS := envOrDefaultInt("TOOLGATE_CONFIRM_SWEEP_S", 5)
	cacheTTLS := envOrDefaultInt("TOOLGATE_CACHE_TTL_S", 30)
	clickhouseDSN := os.Getenv("CLICKHOUSE_DSN")
	postgresDSN := os.Getenv("POSTGRES_DSN")

	logger.Info("starting toolgate server",
		zap.String("http_port", httpPort),
		zap.Int("confirm_ttl_min", confirmTTLMin),
		zap.Int("cache_ttl_s", cacheTTLS),
	)

	// Audit sink — ClickHouse or LogWriter fallback
	var writer audit.Writer
	if clickhouseDSN != "" {
		chWriter, err := audit.NewClickHouseWriter(clickhouseDSN, logger)
		if err != nil {
			logger.Warn("clickhouse connection failed, falling back to log writer",
				zap.Error(err),
			)
			writer = audit.NewLogWriter(logger)
		} else {
			writer = chWriter
			logger.Info("clickhouse writer connected")
		}
	} else {
		writer = audit.NewLogWriter(logger)
		logger.Info("no CLICKHOUSE_DSN set, using log writer")
	}
	defer writer.Close()

	// Postgres pool — backs the registry, confirmations, and API-key auth.
	// Without it the server runs fully in-memory (development mode).
	var db *sql.DB
	if postgresDSN != "" {
		var err error
		db, err = sql.Open("pgx", postgresDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
		if err := db.PingContext(context.Background()); err != nil {
			logger.Fatal("failed to ping postgres", zap.Error(err))
		}
		logger.Info("postgres connected")
	} else {
		logger.Info("no POSTGRES_DSN set, running in-memory")
	}

	cacheTTL := time.Duration(cacheTTLS) * time.Second

	var (
		reg           registry.Registry
		confirmStore  confirm.Store
		authenticator auth.Authenticator
	)
	if db != nil {
		reg = registry.NewPostgresRegistry(registry.PostgresRegistryConfig{
			DB:       db,
			CacheTTL: cacheTTL,
			Logger:   logger,
		})
		confirmStore = confirm.NewPostgresStore(db)
		authenticator = auth.NewPostgresAuthenticator(auth.PostgresAuthConfig{
			DB:       db,
			CacheTTL: cacheTTL,
			Logger:   logger,
		})
	} else {
		reg = registry.NewStaticRegistry()
		confirmStore = confirm.NewMemoryStore()
		authenticator = auth.NewStaticAuthenticator()
	}

	// Credentials — file-seeded static resolver; the gateway injects these
	// into outbound calls, agents never see them.
	resolver := credential.NewStaticResolver()
	if path := os.Getenv("TOOLGATE_CREDENTIALS_FILE"); path != "" {
		n, err := loadCredentials(resolver, path)
		if err != nil {
			logger.Fatal("failed to load credentials file", zap.Error(err))
		}
		logger.Info("credentials loaded", zap.Int("count", n))
	}
	tokens := credential.NewTokenCache(resolver)

	gate := confirm.NewGate(confirm.GateConfig{
		Store:         confirmStore,
		Writer:        writer,
		TTL:           time.Duration(confirmTTLMin) * time.Minute,
		SweepInterval: time.Duration(sweepIntervalS) * time.Second,
		Logger:        logger,
	})
	defer gate.Close()

	gw := gateway.New(gateway.Config{
		Registry:   reg,
		Dispatcher: dispatch.NewDispatcher(dispatch.NewAuthInjector(resolver, tokens), logger),
		Limiter:    ratelimit.NewLimiter(),
		Gate:       gate,
		Writer:     writer,
		Logger:     logger,
	})

	deps := &server.Dependencies{
		Gateway:  gw,
		Registry: reg,
		Auth:     authenticator,
		Logger:   logger,
	}
	httpServer := &http.Server{
		Addr:         ":" + httpPort,
		Handler:      server.NewRouter(deps),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	// Block until shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received signal, shutting down", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	logger.Info("toolgate server stopped")
}

func mustBuildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}

// loadCredentials seeds the static resolver from a JSON file mapping
// credential id to secret fields. The file is read once at startup and its
// contents never logged.
func loadCredentials(resolver *credential.StaticResolver, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("loadCredentials: %w", err)
	}
	var secrets map[string]*credential.Secret
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return 0, fmt.Errorf("loadCredentials: %w", err)
	}
	for id, s := range secrets {
		resolver.Put(id, s)
	}
	return len(secrets), nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envOrDefaultInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
