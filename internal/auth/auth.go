// Package auth guards the management API with static API keys.
package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/mr-karan/ipamd/internal/metrics"
	"github.com/zerodha/logf"
)

type contextKey string

const (
	// ContextKeyAPIKey is the context key for the API key
	ContextKeyAPIKey contextKey = "api_key"

	// HeaderAPIKey is the header name for API key
	HeaderAPIKey = "X-API-Key"

	// BearerPrefix is the bearer token prefix
	BearerPrefix = "Bearer "
)

// Authenticator checks API keys. With no keys configured every request is
// let through.
type Authenticator struct {
	keys   [][]byte
	logger logf.Logger
}

// New creates a new authenticator
func New(apiKeys []string, logger logf.Logger) *Authenticator {
	a := &Authenticator{logger: logger}
	for _, key := range apiKeys {
		if key != "" {
			a.keys = append(a.keys, []byte(key))
		}
	}
	return a
}

// Enabled reports whether any key is configured.
func (a *Authenticator) Enabled() bool {
	return len(a.keys) > 0
}

// Middleware returns HTTP middleware for authentication
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		apiKey := extractAPIKey(r)
		if apiKey == "" {
			metrics.AuthFailures.Inc()
			unauthorized(w, "missing API key")
			return
		}
		if !a.isValidKey(apiKey) {
			metrics.AuthFailures.Inc()
			a.logger.Warn("invalid API key attempt", "ip", r.RemoteAddr, "path", r.URL.Path)
			unauthorized(w, "invalid API key")
			return
		}

		metrics.AuthSuccesses.Inc()
		ctx := context.WithValue(r.Context(), ContextKeyAPIKey, apiKey)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "code": "UNAUTHORIZED"})
}

// extractAPIKey reads the key from X-API-Key or a bearer token.
func extractAPIKey(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, BearerPrefix) {
		return strings.TrimPrefix(h, BearerPrefix)
	}
	return ""
}

// isValidKey compares in constant time against every configured key.
func (a *Authenticator) isValidKey(key string) bool {
	valid := false
	for _, k := range a.keys {
		if subtle.ConstantTimeCompare([]byte(key), k) == 1 {
			valid = true
		}
	}
	return valid
}

// GetAPIKey retrieves the API key from the request context
func GetAPIKey(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(ContextKeyAPIKey).(string)
	return key, ok
}
