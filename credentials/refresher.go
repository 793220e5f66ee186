package credentials

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"workpilot/config"
	"workpilot/models"
)

// OAuthRefresher refreshes access tokens against the Google token endpoint.
type OAuthRefresher struct {
	config *oauth2.Config
}

// NewOAuthRefresher creates a refresher from OAuth client configuration
func NewOAuthRefresher(cfg config.GoogleConfig) *OAuthRefresher {
	return &OAuthRefresher{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     google.Endpoint,
		},
	}
}

// Refresh exchanges the credential's refresh token for a fresh access token.
// A rejected refresh token (revoked grant, deauthorized client) maps to
// models.ErrAuthExpired; anything else is treated as transient.
func (r *OAuthRefresher) Refresh(ctx context.Context, cred *models.UserCredential) (*models.UserCredential, error) {
	if cred.RefreshToken == "" {
		return nil, models.ErrAuthExpired
	}

	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			return nil, fmt.Errorf("%w: %v", models.ErrAuthExpired, err)
		}
		return nil, models.NewCollaboratorError("identity", fmt.Errorf("token endpoint: %w", err))
	}

	out := *cred
	out.AccessToken = tok.AccessToken
	out.Expiry = tok.Expiry
	if tok.RefreshToken != "" {
		out.RefreshToken = tok.RefreshToken
	}
	return &out, nil
}

// isPermanentRefreshError reports whether a token-endpoint error means the
// grant is gone for good rather than the endpoint being flaky.
func isPermanentRefreshError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"invalid_grant", "unauthorized_client", "revoked", "expired or revoked"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
