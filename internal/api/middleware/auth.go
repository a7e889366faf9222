package middleware

import (
	"context"
	"net/http"

	"github.com/edvin/rollout/internal/api/response"
	"github.com/edvin/rollout/internal/core"
)

type contextKey string

// APIKeyNameKey carries the authenticated key's name in the request context.
const APIKeyNameKey contextKey = "api_key_name"

// Auth returns a middleware that validates the X-API-Key header against the
// api_keys table.
func Auth(keys *core.APIKeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				response.WriteError(w, http.StatusUnauthorized, "missing API key")
				return
			}

			name, err := keys.Authenticate(r.Context(), key)
			if err != nil {
				response.WriteError(w, http.StatusUnauthorized, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), APIKeyNameKey, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// KeyName returns the authenticated key name from the context, or "" when
// the request was not authenticated through Auth.
func KeyName(ctx context.Context) string {
	name, _ := ctx.Value(APIKeyNameKey).(string)
	return name
}
