// Package redaction scrubs secrets from request/response data before
// hashing or logging, and produces deterministic digests of the result.
//
// Redaction is default-deny on a curated set of credential key names,
// recursive through nested maps and lists, and non-destructive: callers
// always get new values back. Hashing canonicalizes via RFC 8785 (JCS)
// so key insertion order never changes the digest.
package redaction

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
)

// Redacted replaces every sensitive value.
const Redacted = "[REDACTED]"

// sensitiveKeys is the built-in denylist. Callers can extend it per call
// but never subtract from it.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"api_key":       {},
	"api-key":       {},
	"token":         {},
	"password":      {},
	"secret":        {},
	"credential":    {},
	"credentials":   {},
	"access_token":  {},
	"refresh_token": {},
	"client_secret": {},
	"private_key":   {},
	"x-api-key":     {},
	"x_api_key":     {},
	"bearer":        {},
	"session_token": {},
	"signing_key":   {},
}

func isSensitive(key string, extra map[string]struct{}) bool {
	k := strings.ToLower(key)
	if _, ok := sensitiveKeys[k]; ok {
		return true
	}
	_, ok := extra[k]
	return ok
}

// ExtraKeys builds a request-scoped denylist extension. Keys are
// lowercased; the built-in set is always applied in addition.
func ExtraKeys(keys ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		m[strings.ToLower(k)] = struct{}{}
	}
	return m
}

// Headers returns a copy of headers with sensitive values replaced.
// Comparison is case-insensitive against the built-in denylist only;
// header values are never recursed into.
func Headers(headers map[string]any) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		if isSensitive(k, nil) {
			out[k] = Redacted
		} else {
			out[k] = v
		}
	}
	return out
}

// Body recursively redacts sensitive keys in a nested map. extra is an
// optional additional denylist (see ExtraKeys); pass nil for the defaults.
func Body(body map[string]any, extra map[string]struct{}) map[string]any {
	redacted := redactValue(body, extra)
	m, _ := redacted.(map[string]any)
	return m
}

func redactValue(v any, extra map[string]struct{}) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if isSensitive(k, extra) {
				out[k] = Redacted
			} else {
				out[k] = redactValue(val, extra)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = redactValue(elem, extra)
		}
		return out
	default:
		// Scalars pass through untouched.
		return v
	}
}

// Hash produces the deterministic SHA-256 hex digest of data after
// redaction. Maps are redacted first; any other JSON-encodable value is
// hashed as-is. The canonical form is RFC 8785, so two inputs that are
// equal modulo key order hash identically.
func Hash(data any, extra map[string]struct{}) (string, error) {
	if m, ok := data.(map[string]any); ok {
		data = Body(m, extra)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("redaction: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return "", fmt.Errorf("redaction: canonicalize failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Canonical returns the RFC 8785 canonical JSON encoding of v without
// redaction. Used wherever a stable byte representation is needed for
// hashing or signing.
func Canonical(v any) ([]byte, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("redaction: marshal failed: %w", err)
	}
	return jcs.Transform(encoded)
}
