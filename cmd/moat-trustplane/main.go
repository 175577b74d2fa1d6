// moat-trustplane is the reliability scoring service: it ingests
// execution outcome events and serves 7-day rolling trust stats per
// capability.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/moat/pkg/api"
	"github.com/Mindburn-Labs/moat/pkg/config"
	"github.com/Mindburn-Labs/moat/pkg/trust"
)

func main() {
	cfg := config.Load("moat-trust-plane")
	setupLogging(cfg)
	logger := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, cleanup := buildEventStore(cfg, logger)
	defer cleanup()

	engine := trust.NewEngine(store,
		trust.WithMinSuccessRate(cfg.TrustMinSuccessRate),
		trust.WithMaxP95Latency(cfg.TrustMaxP95LatencyMS),
	)
	service := trust.NewService(engine, cfg.ServiceName)

	mux := http.NewServeMux()
	service.Routes(mux)

	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := api.Chain(mux,
		api.RequestID,
		api.SecurityHeaders,
		api.CORS(cfg.CORSOrigins),
		limiter.Middleware,
	)

	port := cfg.Port
	if os.Getenv("PORT") == "" {
		port = "8003"
	}
	server := &http.Server{
		Addr:              cfg.Host + ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("trust plane listening",
			"addr", server.Addr,
			"environment", cfg.Environment)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err.Error())
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err.Error())
	}
}

// buildEventStore opens the SQLite store, falling back to memory when
// the file cannot be opened (read-only filesystems in tests).
func buildEventStore(cfg *config.Config, logger *slog.Logger) (trust.EventStore, func()) {
	if cfg.TrustDBPath == "" || cfg.TrustDBPath == ":memory:" {
		logger.Info("event store: memory")
		return trust.NewMemoryStore(), func() {}
	}

	store, err := trust.NewSQLiteStore(cfg.TrustDBPath)
	if err != nil {
		logger.Warn("failed to open sqlite store, using memory",
			"path", cfg.TrustDBPath, "error", err.Error())
		return trust.NewMemoryStore(), func() {}
	}
	logger.Info("event store: sqlite", "path", cfg.TrustDBPath)
	return store, func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close sqlite store", "error", err.Error())
		}
	}
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToUpper(cfg.LogLevel) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN", "WARNING":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("service", cfg.ServiceName))
}
