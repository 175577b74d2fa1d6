// moat-gateway is the execution plane service: the /execute pipeline,
// the inbound intent bridge, and the outbound HTTP proxy adapter.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/moat/pkg/adapters"
	"github.com/Mindburn-Labs/moat/pkg/api"
	"github.com/Mindburn-Labs/moat/pkg/auth"
	"github.com/Mindburn-Labs/moat/pkg/bridge"
	"github.com/Mindburn-Labs/moat/pkg/capability"
	"github.com/Mindburn-Labs/moat/pkg/chainhook"
	"github.com/Mindburn-Labs/moat/pkg/config"
	"github.com/Mindburn-Labs/moat/pkg/gateway"
	"github.com/Mindburn-Labs/moat/pkg/idempotency"
	"github.com/Mindburn-Labs/moat/pkg/observability"
	"github.com/Mindburn-Labs/moat/pkg/policy"
	"github.com/Mindburn-Labs/moat/pkg/vault"
)

func main() {
	cfg := config.Load("moat-gateway")
	setupLogging(cfg)
	logger := slog.Default().With("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authCfg := auth.Config{
		Secret:   cfg.JWTSecret,
		Disabled: cfg.AuthDisabled,
	}
	if err := authCfg.Validate(cfg.Environment); err != nil {
		logger.Error("invalid auth configuration", "error", err.Error())
		os.Exit(1)
	}

	// Optional deployment profile carrying the allowlist and bridge
	// tables.
	var profile *config.DeploymentProfile
	if cfg.ProfilesDir != "" {
		p, err := config.LoadProfile(cfg.ProfilesDir, cfg.ProfileCode)
		if err != nil {
			logger.Error("failed to load deployment profile",
				"dir", cfg.ProfilesDir, "code", cfg.ProfileCode, "error", err.Error())
			os.Exit(1)
		}
		profile = p
		logger.Info("deployment profile loaded", "code", profile.Code, "name", profile.Name)
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTelEnabled,
		Insecure:       cfg.Environment == "local" || cfg.Environment == "test",
	})
	if err != nil {
		logger.Error("failed to initialize observability", "error", err.Error())
		os.Exit(1)
	}

	cache := capability.NewCache(cfg.ControlPlaneURL)
	engine := policy.NewEngine()
	idemStore := buildIdempotencyStore(ctx, cfg, logger)

	registry := adapters.NewRegistry()
	allowlist := adapters.ParseAllowlist(cfg.ProxyAllowlist)
	if profile != nil && len(allowlist) == 0 {
		allowlist = profile.AllowlistSet()
	}
	registry.Register(adapters.NewHTTPProxyAdapter(allowlist))

	secrets := buildVault()
	connections := vault.NewConnectionStore()
	if profile != nil {
		for _, c := range profile.Connections {
			connections.Put(&vault.Connection{
				TenantID:      c.TenantID,
				Provider:      c.Provider,
				CredentialRef: c.CredentialRef,
			})
		}
	}

	solverKey, err := cfg.ResolveSolverKey()
	if err != nil {
		logger.Error("failed to resolve solver key", "error", err.Error())
		os.Exit(1)
	}
	hook := chainhook.NewHook(chainhook.Config{
		RPCURL:        cfg.ChainRPCURL,
		DryRun:        cfg.ChainDryRun,
		ChainID:       cfg.ChainID,
		SolverKey:     solverKey,
		HubAddress:    cfg.HubAddress,
		SolverAddress: cfg.SolverAddr,
	})

	// 5 s covers outcome emission; the chain-receipt task carries its
	// own longer deadline.
	pool := gateway.NewPool(4, 256, 5*time.Second)
	gw := gateway.New(
		cache,
		engine,
		idemStore,
		registry,
		gateway.NewOutcomeEmitter(cfg.TrustPlaneURL),
		pool,
		gateway.WithChainHook(hook),
		gateway.WithVault(secrets, connections),
		gateway.WithObservability(obs),
	)
	defer gw.Close()

	fallback := bridge.ParseFallbackTenants(cfg.FallbackTenants)
	if profile != nil {
		for addr, tenant := range profile.Bridge.FallbackTenants {
			fallback[addr] = tenant
		}
	}
	resolver := bridge.NewTenantResolver(cfg.ControlPlaneURL, fallback)
	intents := bridge.NewService(gw, resolver)

	mux := http.NewServeMux()
	gateway.NewService(gw, cfg.ServiceName).Routes(mux)
	mux.HandleFunc("/intents/inbound", intents.HandleInbound)

	limiter := api.NewGlobalRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	handler := api.Chain(mux,
		api.RequestID,
		api.SecurityHeaders,
		api.CORS(cfg.CORSOrigins),
		limiter.Middleware,
		auth.Middleware(authCfg),
	)

	server := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("gateway listening",
			"addr", server.Addr,
			"environment", cfg.Environment,
			"auth_disabled", cfg.AuthDisabled,
			"chain_dry_run", cfg.ChainDryRun)
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
	if err := obs.Shutdown(shutdownCtx); err != nil {
		logger.Error("observability shutdown failed", "error", err.Error())
	}
}

// buildIdempotencyStore prefers Redis, then Postgres, then memory.
func buildIdempotencyStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) idempotency.Store {
	if cfg.RedisURL != "" {
		store, err := idempotency.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("idempotency store: redis")
		return store
	}
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to open postgres", "error", err.Error())
			os.Exit(1)
		}
		if err := db.PingContext(ctx); err != nil {
			logger.Error("postgres ping failed", "error", err.Error())
			os.Exit(1)
		}
		store := idempotency.NewPostgresStore(db)
		if err := store.Init(ctx); err != nil {
			logger.Error("failed to init idempotency schema", "error", err.Error())
			os.Exit(1)
		}
		logger.Info("idempotency store: postgres")
		return store
	}
	logger.Info("idempotency store: memory")
	return idempotency.NewMemoryStore()
}

// buildVault selects the secret backend. MOAT_VAULT=env resolves
// env:// references; the default local vault keeps secrets in process.
func buildVault() vault.Vault {
	if strings.EqualFold(os.Getenv("MOAT_VAULT"), "env") {
		return vault.EnvVault{}
	}
	return vault.NewLocalVault()
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
