package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"workpilot/models"
	"workpilot/observability"
)

type contextKey string

const identityKey contextKey = "workpilot.identity"

// IdentityFrom returns the resolved identity stored on a request context
func IdentityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// WithIdentity stores an identity on a context
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// Middleware resolves the caller of each request, rejecting
// unauthenticated ones before the handler runs
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, err := r.ResolveRequest(req)
		if err != nil {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, req.WithContext(WithIdentity(req.Context(), id)))
	})
}

// MeterMiddleware charges the caller's daily allowance. Only workflow
// routes carry it, so browsing routes stay free on the default key.
func (r *Resolver) MeterMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := IdentityFrom(req.Context())
		if !ok {
			writeAuthError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		if err := r.Meter(req.Context(), id); err != nil {
			switch {
			case errors.Is(err, models.ErrQuotaExceeded):
				writeAuthError(w, http.StatusTooManyRequests, "daily request limit reached")
			case errors.Is(err, models.ErrUnauthenticated):
				writeAuthError(w, http.StatusUnauthorized, "default key requires a signed-in user")
			default:
				observability.WithError(err).Error("Metering request failed")
				writeAuthError(w, http.StatusInternalServerError, "internal error")
			}
			return
		}

		next.ServeHTTP(w, req)
	})
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
