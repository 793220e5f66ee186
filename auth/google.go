package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"workpilot/config"
	"workpilot/models"
)

const userInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// GoogleUser is the profile returned by the userinfo endpoint
type GoogleUser struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// GoogleAuthenticator drives the OAuth consent flow against Google
type GoogleAuthenticator struct {
	config *oauth2.Config
	client *http.Client
}

// NewGoogleAuthenticator creates an authenticator from app config
func NewGoogleAuthenticator(cfg config.GoogleConfig) *GoogleAuthenticator {
	return &GoogleAuthenticator{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes,
			Endpoint:     google.Endpoint,
		},
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// NewState generates a random state parameter for the consent redirect
func (g *GoogleAuthenticator) NewState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating oauth state: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// AuthURL builds the consent-screen URL. Offline access with forced consent
// guarantees a refresh token on every grant.
func (g *GoogleAuthenticator) AuthURL(state string) string {
	return g.config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange trades an authorization code for tokens
func (g *GoogleAuthenticator) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}
	return tok, nil
}

// FetchUser retrieves the profile of the user a token belongs to
func (g *GoogleAuthenticator) FetchUser(ctx context.Context, token *oauth2.Token) (*GoogleUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, userInfoURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, models.NewCollaboratorError("oauth", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, models.NewCollaboratorError("oauth",
			fmt.Errorf("userinfo returned %d: %s", resp.StatusCode, string(body)))
	}

	var user GoogleUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("decoding userinfo response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("userinfo response missing user id")
	}
	return &user, nil
}

// CredentialFromToken builds a stored credential from a fresh OAuth grant
func (g *GoogleAuthenticator) CredentialFromToken(userID string, token *oauth2.Token) *models.UserCredential {
	return &models.UserCredential{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Scopes:       g.config.Scopes,
	}
}
