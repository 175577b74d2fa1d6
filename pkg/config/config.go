// Package config loads service configuration: flat environment
// variables for runtime knobs, plus optional YAML deployment profiles
// for the allowlist and bridge tables that do not belong in env vars.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds the settings shared by the Moat services.
type Config struct {
	// Identity
	ServiceName string
	Environment string // "local", "test", "staging", "production"

	// Server
	Host string
	Port string

	// Upstream services
	ControlPlaneURL string
	TrustPlaneURL   string

	// Data stores
	RedisURL    string
	DatabaseURL string
	TrustDBPath string

	// Authentication
	JWTSecret    string
	AuthDisabled bool

	// Proxy
	ProxyAllowlist string

	// Intent bridge
	FallbackTenants string

	// Chain hook
	ChainRPCURL   string
	ChainDryRun   bool
	ChainID       int64
	SolverKey     string
	SolverKeyFile string
	HubAddress    string
	SolverAddr    string

	// Trust thresholds
	TrustMinSuccessRate  float64
	TrustMaxP95LatencyMS float64

	// CORS
	CORSOrigins string

	// Deployment profile (optional YAML tables)
	ProfilesDir string
	ProfileCode string

	// Observability
	LogLevel     string
	OTLPEndpoint string
	OTelEnabled  bool

	// Rate limiting
	RateLimitRPS   int
	RateLimitBurst int
}

// Load reads configuration from environment variables with local-dev
// defaults.
func Load(serviceName string) *Config {
	if serviceName == "" {
		serviceName = getenv("SERVICE_NAME", "moat-gateway")
	}
	return &Config{
		ServiceName: serviceName,
		Environment: getenv("MOAT_ENV", "local"),

		Host: getenv("HOST", "0.0.0.0"),
		Port: getenv("PORT", "8002"),

		ControlPlaneURL: getenv("CONTROL_PLANE_URL", "http://localhost:8001"),
		TrustPlaneURL:   getenv("TRUST_PLANE_URL", "http://localhost:8003"),

		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		TrustDBPath: getenv("TRUST_DB_PATH", "trust_dev.db"),

		JWTSecret:    os.Getenv("MOAT_JWT_SECRET"),
		AuthDisabled: boolenv("MOAT_AUTH_DISABLED"),

		ProxyAllowlist: os.Getenv("MOAT_PROXY_ALLOWLIST"),

		FallbackTenants: getenv("INTENT_FALLBACK_TENANTS",
			"0x83Be08FFB22b61733eDf15b0ee9Caf5562cd888d:automaton"),

		ChainRPCURL:   firstenv("IRSB_RPC_URL", "SEPOLIA_RPC_URL"),
		ChainDryRun:   boolenvDefault("IRSB_DRY_RUN", true),
		ChainID:       int64env("IRSB_CHAIN_ID", 11155111), // sepolia
		SolverKey:     os.Getenv("IRSB_SOLVER_KEY"),
		SolverKeyFile: os.Getenv("IRSB_SOLVER_KEY_FILE"),
		HubAddress:    os.Getenv("IRSB_HUB_ADDRESS"),
		SolverAddr:    os.Getenv("IRSB_SOLVER_ADDRESS"),

		TrustMinSuccessRate:  floatenv("MIN_SUCCESS_RATE_7D", 0.80),
		TrustMaxP95LatencyMS: floatenv("MAX_P95_LATENCY_MS", 10_000),

		CORSOrigins: getenv("CORS_ORIGINS", "*"),

		ProfilesDir: os.Getenv("MOAT_PROFILES_DIR"),
		ProfileCode: getenv("MOAT_PROFILE", "local"),

		LogLevel:     getenv("LOG_LEVEL", "INFO"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelEnabled:  boolenv("MOAT_OTEL_ENABLED"),

		RateLimitRPS:   intenv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: intenv("RATE_LIMIT_BURST", 100),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstenv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func boolenv(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func boolenvDefault(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func intenv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func int64env(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func floatenv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// ResolveSolverKey returns the signer key, preferring the key file over
// the raw environment value so the secret can stay off the process
// environment in production.
func (c *Config) ResolveSolverKey() (string, error) {
	if c.SolverKeyFile != "" {
		raw, err := os.ReadFile(c.SolverKeyFile)
		if err != nil {
			return "", fmt.Errorf("config: read solver key file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	return c.SolverKey, nil
}
