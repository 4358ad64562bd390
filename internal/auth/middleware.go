// Package auth provides API key authentication for write endpoints.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pendergraft/whichdex/internal/storage"
)

type contextKey struct{}

// KeyValidator resolves a presented API key.
type KeyValidator interface {
	ValidateAPIKey(ctx context.Context, key string) (*storage.APIKey, error)
}

// ErrorWriter writes an error response in the API's error format.
type ErrorWriter func(w http.ResponseWriter, status int, code, message string)

// GetAPIKeyFromContext returns the key attached by Middleware, if any.
func GetAPIKeyFromContext(ctx context.Context) *storage.APIKey {
	key, _ := ctx.Value(contextKey{}).(*storage.APIKey)
	return key
}

// KeyFromRequest reads the key from X-API-Key or a Bearer Authorization header.
func KeyFromRequest(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// Middleware rejects requests without a valid API key.
func Middleware(store KeyValidator, writeError ErrorWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := KeyFromRequest(r)
			if presented == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
				return
			}

			key, err := store.ValidateAPIKey(r.Context(), presented)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid API key")
				return
			case err != nil:
				writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to validate API key")
				return
			}

			ctx := context.WithValue(r.Context(), contextKey{}, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
