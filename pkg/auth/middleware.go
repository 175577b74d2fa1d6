package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/moat/pkg/api"
)

// MinSecretLength is the floor for HS256 signing secrets.
const MinSecretLength = 32

// Config holds the service authentication settings.
type Config struct {
	// Secret is the HS256 signing secret. Required unless Disabled.
	Secret string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Disabled turns off token validation entirely; the tenant is then
	// taken from the X-Tenant-ID header (default "dev-tenant"). Local
	// development and tests only.
	Disabled bool
}

// Validate rejects configurations that would silently run insecure.
func (c Config) Validate(environment string) error {
	if c.Disabled {
		if environment != "local" && environment != "test" {
			return fmt.Errorf("auth cannot be disabled in %q environment", environment)
		}
		return nil
	}
	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("jwt secret must be at least %d characters when authentication is enabled", MinSecretLength)
	}
	return nil
}

// Claims are the token claims Moat issues: the tenant rides in the
// registered subject claim.
type Claims struct {
	jwt.RegisteredClaims
}

// Validator parses and validates HS256 bearer tokens.
type Validator struct {
	secret []byte
	issuer string
}

// NewValidator creates a validator for the given config. Returns nil
// when auth is disabled.
func NewValidator(cfg Config) *Validator {
	if cfg.Disabled {
		return nil
	}
	return &Validator{secret: []byte(cfg.Secret), issuer: cfg.Issuer}
}

// Validate checks signature, expiry, and (if configured) issuer, and
// returns the tenant ID from the subject claim.
func (v *Validator) Validate(tokenStr string) (string, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token subject (tenant) is required")
	}
	return claims.Subject, nil
}

// publicPaths are endpoints that do not require authentication.
var publicPaths = map[string]struct{}{
	"/healthz": {},
	"/":        {},
}

// Middleware authenticates requests and attaches the tenant principal
// to the context. Fail closed: with auth enabled and no valid token,
// the request never reaches the handler.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	validator := NewValidator(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, public := publicPaths[r.URL.Path]; public {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.Disabled {
				tenantID := r.Header.Get("X-Tenant-ID")
				if tenantID == "" {
					tenantID = "dev-tenant"
				}
				ctx := WithPrincipal(r.Context(), &TenantPrincipal{
					ID: tenantID, TenantID: tenantID, DevMode: true,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				api.WriteUnauthorized(w, "Missing Authorization header")
				return
			}
			scheme, token, ok := strings.Cut(authHeader, " ")
			if !ok || scheme != "Bearer" {
				api.WriteUnauthorized(w, "Invalid Authorization header format (expected 'Bearer <token>')")
				return
			}

			tenantID, err := validator.Validate(token)
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				api.WriteUnauthorized(w, "Invalid or expired token")
				return
			}

			ctx := WithPrincipal(r.Context(), &TenantPrincipal{
				ID: tenantID, TenantID: tenantID,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IssueToken mints an HS256 token for tenantID. Used by tests and the
// local development CLI.
func IssueToken(cfg Config, tenantID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = tenantID
	if cfg.Issuer != "" {
		claims.Issuer = cfg.Issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: claims})
	return token.SignedString([]byte(cfg.Secret))
}
