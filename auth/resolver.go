package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"workpilot/models"
	"workpilot/observability"
	"workpilot/repository"
)

// Tier identifies how a caller authenticated
type Tier string

const (
	TierSession     Tier = "session"
	TierPersonalKey Tier = "personal_key"
	TierDefaultKey  Tier = "default_key"
)

// Identity is the resolved caller of a request
type Identity struct {
	UserID string
	Tier   Tier
	KeyID  string
}

// KeyVerifier checks a plaintext API key against stored keys
type KeyVerifier interface {
	Verify(ctx context.Context, plaintext string) (*repository.APIKey, error)
}

// QuotaLedger meters default-key usage
type QuotaLedger interface {
	IncrementAndCheck(ctx context.Context, userID string, limit int) (int, error)
}

// Resolver maps incoming requests to identities. Personal keys and sessions
// take priority over the shared default key, and only default-key requests
// are metered against the usage ledger.
type Resolver struct {
	sessions      *SessionManager
	keys          KeyVerifier
	ledger        QuotaLedger
	defaultSecret string
	dailyLimit    int
}

// NewResolver creates a resolver over the given session manager and key store
func NewResolver(sessions *SessionManager, keys KeyVerifier, ledger QuotaLedger, defaultSecret string, dailyLimit int) *Resolver {
	return &Resolver{
		sessions:      sessions,
		keys:          keys,
		ledger:        ledger,
		defaultSecret: defaultSecret,
		dailyLimit:    dailyLimit,
	}
}

// ResolveRequest identifies the caller of an HTTP request. Personal keys win
// over sessions, sessions win over the default key, so a request that also
// carries the default secret is never metered when a stronger credential is
// present.
func (r *Resolver) ResolveRequest(req *http.Request) (*Identity, error) {
	token := bearerToken(req)

	if strings.HasPrefix(token, "wk_") && r.keys != nil {
		key, err := r.keys.Verify(req.Context(), token)
		if err == nil {
			return &Identity{UserID: key.UserID, Tier: TierPersonalKey, KeyID: key.ID}, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("verifying api key: %w", err)
		}
	}

	if userID := sessionUser(r, req); userID != "" {
		return &Identity{UserID: userID, Tier: TierSession}, nil
	}

	if token != "" && r.defaultSecret != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(r.defaultSecret)) == 1 {
		return &Identity{Tier: TierDefaultKey}, nil
	}

	return nil, models.ErrUnauthenticated
}

// ResolveBearer identifies the caller of a bearer-authenticated request.
// fallbackUser supplies the target user for default-key calls that do not
// name one themselves; it may be empty.
func (r *Resolver) ResolveBearer(ctx context.Context, token, fallbackUser string) (*Identity, error) {
	if token == "" {
		return nil, models.ErrUnauthenticated
	}

	if strings.HasPrefix(token, "wk_") && r.keys != nil {
		key, err := r.keys.Verify(ctx, token)
		if err == nil {
			return &Identity{UserID: key.UserID, Tier: TierPersonalKey, KeyID: key.ID}, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("verifying api key: %w", err)
		}
	}

	if r.defaultSecret != "" && subtle.ConstantTimeCompare([]byte(token), []byte(r.defaultSecret)) == 1 {
		return &Identity{UserID: fallbackUser, Tier: TierDefaultKey}, nil
	}

	return nil, models.ErrUnauthenticated
}

// Meter charges a request against the daily default-key quota. Personal-key
// and session callers are never metered.
func (r *Resolver) Meter(ctx context.Context, id *Identity) error {
	if id == nil || id.Tier != TierDefaultKey {
		return nil
	}
	if id.UserID == "" {
		return fmt.Errorf("%w: default key requires a target user", models.ErrUnauthenticated)
	}

	if m := observability.GetMetrics(); m != nil {
		m.RecordDefaultKeyRequest()
	}

	count, err := r.ledger.IncrementAndCheck(ctx, id.UserID, r.dailyLimit)
	if err != nil {
		if errors.Is(err, models.ErrQuotaExceeded) {
			if m := observability.GetMetrics(); m != nil {
				m.RecordQuotaRejection()
			}
			observability.Warn("Default key quota exceeded",
				"user_id", id.UserID,
				"count", count,
				"limit", r.dailyLimit)
			return err
		}
		return fmt.Errorf("metering default key usage: %w", err)
	}
	return nil
}

func bearerToken(req *http.Request) string {
	header := req.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func sessionUser(r *Resolver, req *http.Request) string {
	if r.sessions == nil {
		return ""
	}
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	userID, err := r.sessions.Verify(cookie.Value)
	if err != nil {
		return ""
	}
	return userID
}
