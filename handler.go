package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"workpilot/auth"
	"workpilot/models"
	"workpilot/observability"
	"workpilot/workflows"
)

const oauthStateCookie = "workpilot_oauth_state"

// APIHandler handles HTTP API requests
type APIHandler struct {
	app *App
}

// NewAPIHandler creates a new APIHandler
func NewAPIHandler(app *App) *APIHandler {
	return &APIHandler{app: app}
}

// handleIndex returns service info
func (h *APIHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"service":   "workpilot",
		"workflows": h.app.orchestrator.Names(),
		"login":     "/auth/google",
	})
}

// handleHealth returns the health status of the application
func (h *APIHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "ok",
		"services": map[string]string{
			"database": "connected",
		},
	}

	if err := h.app.dbHealth(r.Context()); err != nil {
		status["services"].(map[string]string)["database"] = "disconnected"
		status["status"] = "degraded"
	}

	h.jsonResponse(w, status)
}

// handleAgentHealth checks the AI collaborator end to end
func (h *APIHandler) handleAgentHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.app.AgentHealth(r.Context()); err != nil {
		h.jsonError(w, "agent unreachable: "+err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// handleGoogleLogin redirects to the consent screen
func (h *APIHandler) handleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := h.app.google.NewState()
	if err != nil {
		h.jsonError(w, "could not start login", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.app.cfg.HTTP.Production,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.app.google.AuthURL(state), http.StatusFound)
}

// handleGoogleCallback completes the consent flow, stores the credential,
// and opens a session
func (h *APIHandler) handleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" || stateCookie.Value != r.URL.Query().Get("state") {
		h.jsonError(w, "state mismatch", http.StatusBadRequest)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		h.jsonError(w, "missing authorization code", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := h.app.google.Exchange(ctx, code)
	if err != nil {
		observability.WithError(err).Error("OAuth code exchange failed")
		h.jsonError(w, "login failed", http.StatusBadGateway)
		return
	}

	user, err := h.app.google.FetchUser(ctx, token)
	if err != nil {
		observability.WithError(err).Error("Fetching user profile failed")
		h.jsonError(w, "login failed", http.StatusBadGateway)
		return
	}

	cred := h.app.google.CredentialFromToken(user.ID, token)

	// Returning users keep their settings and, if the grant omitted one,
	// their refresh token.
	if existing, loadErr := h.app.creds.Load(ctx, user.ID); loadErr == nil {
		cred.Settings = existing.Settings
		if cred.RefreshToken == "" {
			cred.RefreshToken = existing.RefreshToken
		}
	}

	if err := h.app.creds.Save(ctx, cred); err != nil {
		var partial *models.PartialPersistError
		if !errors.As(err, &partial) {
			observability.WithError(err).Error("Persisting credential failed", "user_id", user.ID)
			h.jsonError(w, "login failed", http.StatusInternalServerError)
			return
		}
		observability.WithError(err).Warn("Credential saved to bootstrap only", "user_id", user.ID)
	}

	session, err := h.app.sessions.Issue(user.ID, user.Email)
	if err != nil {
		h.jsonError(w, "login failed", http.StatusInternalServerError)
		return
	}
	h.app.sessions.SetCookie(w, session, h.app.cfg.HTTP.Production)

	observability.WithUser(user.ID).Info("User signed in", "email", user.Email)
	http.Redirect(w, r, h.app.cfg.HTTP.BaseURL+"/", http.StatusFound)
}

// handleLogout clears the session cookie
func (h *APIHandler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.app.sessions.ClearCookie(w)
	h.jsonResponse(w, map[string]string{"status": "logged_out"})
}

// handleMe returns the caller's identity and connection state
func (h *APIHandler) handleMe(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	cred, err := h.app.creds.Load(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"user_id":            id.UserID,
		"tier":               id.Tier,
		"degraded":           cred.Degraded(),
		"scopes":             cred.Scopes,
		"automation_enabled": cred.Settings.Automation(),
	})
}

// handleRunWorkflow runs one named workflow for the caller
func (h *APIHandler) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	name := strings.ReplaceAll(chi.URLParam(r, "name"), "-", "_")

	var params workflows.Params
	if r.Body != nil {
		// An empty body means default params.
		_ = json.NewDecoder(r.Body).Decode(&params)
	}

	result, err := h.app.RunWorkflow(r.Context(), id.UserID, name, params)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, result)
}

// handleRunAll runs the caller's enabled automation set
func (h *APIHandler) handleRunAll(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		h.jsonError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	results, err := h.app.RunAllWorkflows(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, results)
}

// handleChatSpaces lists the caller's chat spaces
func (h *APIHandler) handleChatSpaces(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	spaces, err := h.app.ChatSpaces(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, spaces)
}

// handleGetSettings returns the caller's settings
func (h *APIHandler) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	settings, err := h.app.GetSettings(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}

	// The personal agent key is write-only; report only its presence.
	h.jsonResponse(w, map[string]any{
		"agent_key_set":      settings.AgentAPIKey != "",
		"automation_enabled": settings.Automation(),
		"workflow_toggles":   settings.WorkflowToggles,
	})
}

// handleSetAgentKey stores or clears the caller's personal agent key
func (h *APIHandler) handleSetAgentKey(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req struct {
		AgentAPIKey string `json:"agent_api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.app.SetAgentKey(r.Context(), id.UserID, req.AgentAPIKey); err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, map[string]bool{"agent_key_set": req.AgentAPIKey != ""})
}

// handleSetToggles applies per-workflow enablement choices
func (h *APIHandler) handleSetToggles(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req struct {
		WorkflowToggles models.WorkflowToggles `json:"workflow_toggles"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.WorkflowToggles) == 0 {
		h.jsonError(w, "workflow_toggles is required", http.StatusBadRequest)
		return
	}

	if err := h.app.SetWorkflowToggles(r.Context(), id.UserID, req.WorkflowToggles); err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, map[string]any{"workflow_toggles": req.WorkflowToggles})
}

// handleSetAutomation records the caller's scheduled-automation choice
func (h *APIHandler) handleSetAutomation(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		h.jsonError(w, "enabled is required", http.StatusBadRequest)
		return
	}

	if err := h.app.SetAutomation(r.Context(), id.UserID, *req.Enabled); err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, map[string]bool{"automation_enabled": *req.Enabled})
}

// handleMintAPIKey issues a personal API key; the plaintext appears in this
// response and nowhere else
func (h *APIHandler) handleMintAPIKey(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req struct {
		Name string `json:"name"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Name == "" {
		req.Name = "default"
	}

	plaintext, key, err := h.app.MintAPIKey(r.Context(), id.UserID, req.Name)
	if err != nil {
		h.domainError(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"api_key":    plaintext,
		"id":         key.ID,
		"name":       key.Name,
		"created_at": key.CreatedAt.Format(time.RFC3339),
	})
}

// handleListAPIKeys returns the caller's key metadata
func (h *APIHandler) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	keys, err := h.app.ListAPIKeys(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, keys)
}

// handleRevokeAPIKey deletes one of the caller's keys
func (h *APIHandler) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		h.jsonError(w, "missing key id", http.StatusBadRequest)
		return
	}

	if err := h.app.RevokeAPIKey(r.Context(), id.UserID, keyID); err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "revoked", "id": keyID})
}

// handleTaskLists lists the caller's task lists
func (h *APIHandler) handleTaskLists(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	lists, err := h.app.TaskLists(r.Context(), id.UserID)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, lists)
}

// handleListTasks lists tasks in one task list
func (h *APIHandler) handleListTasks(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	listID := chi.URLParam(r, "id")
	showCompleted := r.URL.Query().Get("show_completed") == "true"

	tasks, err := h.app.Tasks(r.Context(), id.UserID, listID, showCompleted)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, tasks)
}

// handleCreateTask creates a task for the caller
func (h *APIHandler) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())

	var req struct {
		Title      string `json:"title"`
		Notes      string `json:"notes"`
		TaskListID string `json:"task_list_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		h.jsonError(w, "title is required", http.StatusBadRequest)
		return
	}

	task, err := h.app.CreateTask(r.Context(), id.UserID, req.TaskListID, req.Title, req.Notes)
	if err != nil {
		h.domainError(w, err)
		return
	}
	h.jsonResponse(w, task)
}

// handleDisconnect deletes the caller's stored credential
func (h *APIHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFrom(r.Context())
	if err := h.app.DisconnectUser(r.Context(), id.UserID); err != nil {
		h.domainError(w, err)
		return
	}
	h.app.sessions.ClearCookie(w)
	h.jsonResponse(w, map[string]string{"status": "disconnected"})
}

// domainError maps the error taxonomy onto HTTP statuses. The distinctions
// matter to callers: re-login, wait, or retry later are different remedies.
func (h *APIHandler) domainError(w http.ResponseWriter, err error) {
	var collab *models.CollaboratorError
	var partial *models.PartialPersistError

	switch {
	case errors.Is(err, models.ErrAuthExpired):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]any{
			"error":  "reauthentication required",
			"reauth": true,
		})
	case errors.Is(err, models.ErrNotFound):
		h.jsonError(w, "not found", http.StatusNotFound)
	case errors.Is(err, models.ErrQuotaExceeded):
		h.jsonError(w, "daily request limit reached", http.StatusTooManyRequests)
	case errors.Is(err, models.ErrUnauthenticated):
		h.jsonError(w, "authentication required", http.StatusUnauthorized)
	case errors.As(err, &partial):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "saved",
			"warning": "remote store unreachable, change saved locally",
		})
	case errors.As(err, &collab):
		h.jsonError(w, collab.Source+" is unavailable", http.StatusBadGateway)
	default:
		observability.WithError(err).Error("Request failed")
		h.jsonError(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *APIHandler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *APIHandler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
