package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"workpilot/auth"
	"workpilot/config"
	"workpilot/credentials"
	"workpilot/mcp"
	"workpilot/repository"
	"workpilot/scheduler"
	"workpilot/services"
	"workpilot/workflows"
)

// testConfig returns a test configuration
func testConfig() *config.Config {
	return &config.Config{
		Google: config.GoogleConfig{
			ClientID:     "test-client",
			ClientSecret: "test-secret",
			RedirectURI:  "http://localhost:8080/auth/google/callback",
			Scopes:       config.DefaultScopes,
		},
		Agent: config.AgentConfig{
			Provider:       "http",
			BaseURL:        "http://agent.invalid",
			TimeoutSeconds: 5,
		},
		Automation: config.AutomationConfig{
			Enabled:          false,
			IntervalMinutes:  30,
			ConcurrencyLimit: 2,
		},
		DefaultKey: config.DefaultKeyConfig{Secret: "test-default-key", DailyLimit: 50},
		HTTP: config.HTTPConfig{
			Addr:               ":0",
			SessionSecret:      "test-session-secret",
			SessionTTL:         time.Hour,
			CORSAllowedOrigins: "http://localhost:3000",
		},
	}
}

// testApp wires a full App over a throwaway database. No external collaborator
// is reachable; tests only exercise paths that stop before outbound calls.
func testApp(t *testing.T) *App {
	t.Helper()
	cfg := testConfig()

	db, err := repository.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	bootstrap := repository.NewBootstrapStore(db)
	keys := repository.NewAPIKeyStore(db)
	ledger := repository.NewUsageLedger(db)

	mail := services.NewMailService()
	chat := services.NewChatService()
	drive := services.NewDriveService()
	tasks := services.NewTasksService()
	agent := services.NewHTTPAgentService(cfg.Agent.BaseURL, "", 5*time.Second)

	creds := credentials.NewStore(bootstrap, drive, credentials.NewOAuthRefresher(cfg.Google))
	orchestrator := workflows.NewOrchestrator(creds, mail, chat, drive, tasks, agent)
	sched := scheduler.New(cfg.Automation, creds, orchestrator)

	sessions := auth.NewSessionManager(cfg.HTTP.SessionSecret, cfg.HTTP.SessionTTL)
	resolver := auth.NewResolver(sessions, keys, ledger, cfg.DefaultKey.Secret, cfg.DefaultKey.DailyLimit)
	google := auth.NewGoogleAuthenticator(cfg.Google)

	dbHealth := func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}

	return NewApp(cfg, creds, keys, ledger, orchestrator, sched, sessions, resolver, google, chat, tasks, agent, dbHealth)
}

func testRouter(app *App) http.Handler {
	handler := NewAPIHandler(app)
	mcpServer := mcp.NewServer(app.resolver, app.orchestrator, app.creds, app.chat, app.tasks)
	return NewRouter(handler, mcpServer, app.cfg)
}

func sessionCookie(t *testing.T, app *App, userID string) *http.Cookie {
	t.Helper()
	token, err := app.sessions.Issue(userID, userID+"@example.com")
	if err != nil {
		t.Fatalf("issuing session: %v", err)
	}
	return &http.Cookie{Name: auth.SessionCookieName, Value: token}
}

func TestHandleIndex(t *testing.T) {
	router := testRouter(testApp(t))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body struct {
		Service   string   `json:"service"`
		Workflows []string `json:"workflows"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Service != "workpilot" {
		t.Errorf("service = %q, want workpilot", body.Service)
	}
	if len(body.Workflows) == 0 {
		t.Error("expected the workflow catalog in the index response")
	}
}

func TestHandleHealth(t *testing.T) {
	router := testRouter(testApp(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s, want status ok", w.Body.String())
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	router := testRouter(testApp(t))

	for _, path := range []string{"/api/me", "/api/settings/", "/api/api-keys/"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", path, w.Code)
		}
	}
}

func TestMeWithoutCredential(t *testing.T) {
	app := testApp(t)
	router := testRouter(app)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(sessionCookie(t, app, "user-1"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// Signed in but never connected: the session is valid, the credential
	// lookup is not.
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	app := testApp(t)
	router := testRouter(app)
	cookie := sessionCookie(t, app, "user-1")

	mintReq := httptest.NewRequest(http.MethodPost, "/api/api-keys/", bytes.NewBufferString(`{"name": "laptop"}`))
	mintReq.AddCookie(cookie)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, mintReq)

	if w.Code != http.StatusOK {
		t.Fatalf("mint status = %d, body = %s", w.Code, w.Body.String())
	}
	var minted struct {
		APIKey string `json:"api_key"`
		ID     string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &minted); err != nil {
		t.Fatalf("decoding mint response: %v", err)
	}
	if !strings.HasPrefix(minted.APIKey, "wk_") {
		t.Errorf("api_key = %q, want wk_ prefix", minted.APIKey)
	}

	// The minted key authenticates as a bearer token.
	listReq := httptest.NewRequest(http.MethodGet, "/api/api-keys/", nil)
	listReq.Header.Set("Authorization", "Bearer "+minted.APIKey)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, listReq)

	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, body = %s", w.Code, w.Body.String())
	}
	var keys []repository.APIKey
	if err := json.Unmarshal(w.Body.Bytes(), &keys); err != nil {
		t.Fatalf("decoding list response: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != minted.ID {
		t.Fatalf("keys = %+v, want the one minted key", keys)
	}

	revokeReq := httptest.NewRequest(http.MethodDelete, "/api/api-keys/"+minted.ID, nil)
	revokeReq.AddCookie(cookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, revokeReq)

	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d, body = %s", w.Code, w.Body.String())
	}

	// The revoked key no longer authenticates.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, listReq)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status after revoke = %d, want 401", w.Code)
	}
}

func TestMCPRequiresBearer(t *testing.T) {
	router := testRouter(testApp(t))

	req := httptest.NewRequest(http.MethodPost, "/mcp",
		bytes.NewBufferString(`{"jsonrpc": "2.0", "id": 1, "method": "tools/list"}`))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestCallbackRejectsStateMismatch(t *testing.T) {
	router := testRouter(testApp(t))

	req := httptest.NewRequest(http.MethodGet, "/auth/google/callback?state=evil&code=x", nil)
	req.AddCookie(&http.Cookie{Name: oauthStateCookie, Value: "good"})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}
