package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"workpilot/auth"
	"workpilot/models"
	"workpilot/observability"
	"workpilot/workflows"
)

const protocolVersion = "2024-11-05"

// JSON-RPC error codes. The -32000 range carries the backend's error
// taxonomy so callers can distinguish re-auth from rate-limiting from a
// failed collaborator.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603
	codeAuthExpired    = -32001
	codeQuotaExceeded  = -32002
	codeCollaborator   = -32003
)

// Authenticator resolves and meters bearer-authenticated callers
type Authenticator interface {
	ResolveBearer(ctx context.Context, token, fallbackUser string) (*auth.Identity, error)
	Meter(ctx context.Context, id *auth.Identity) error
}

// Runner executes workflows on behalf of a user
type Runner interface {
	Run(ctx context.Context, userID, workflowName string, params workflows.Params) (*workflows.Result, error)
	RunAll(ctx context.Context, userID string, opts workflows.RunAllOptions) (map[string]*workflows.Result, error)
}

// CredentialLoader supplies credentials for the direct workspace tools
type CredentialLoader interface {
	Load(ctx context.Context, userID string) (*models.UserCredential, error)
}

// ChatClient lists the user's chat spaces
type ChatClient interface {
	ListSpaces(ctx context.Context, accessToken string) ([]models.ChatSpace, error)
}

// TasksClient reads and writes the user's task lists
type TasksClient interface {
	ListTaskLists(ctx context.Context, accessToken string) ([]models.TaskList, error)
	ListTasks(ctx context.Context, accessToken, taskListID string, showCompleted bool) ([]models.Task, error)
	CreateTask(ctx context.Context, accessToken, taskListID, title, notes string) (*models.Task, error)
}

// Server is the JSON-RPC tool front end for non-browser clients. Only the
// API-key tiers are accepted here; the session-cookie path does not exist on
// this surface.
type Server struct {
	auth   Authenticator
	runner Runner
	creds  CredentialLoader
	chat   ChatClient
	tasks  TasksClient
}

// NewServer wires the tool handler over the resolver and orchestrator
func NewServer(authn Authenticator, runner Runner, creds CredentialLoader, chat ChatClient, tasks TasksClient) *Server {
	return &Server{auth: authn, runner: runner, creds: creds, chat: chat, tasks: tasks}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// toolContent is the text payload of a tool result
type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	Content []toolContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"name":            "workpilot",
			"protocolVersion": protocolVersion,
			"transport":       "http",
		})
	case http.MethodPost:
		s.handleRPC(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

// handleRPC authenticates the bearer before any dispatch. An invalid or
// missing secret is rejected at the HTTP layer without touching stored
// credentials.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "authentication required"})
		return
	}
	id, err := s.auth.ResolveBearer(r.Context(), token, "")
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRPCError(w, nil, codeParseError, "parse error", err.Error())
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		writeRPCError(w, req.ID, codeInvalidRequest, "invalid request", "")
		return
	}

	switch req.Method {
	case "initialize":
		writeRPCResult(w, req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo":      map[string]string{"name": "workpilot", "version": "1.0.0"},
			"capabilities":    map[string]any{"tools": map[string]any{}},
		})
	case "ping":
		writeRPCResult(w, req.ID, map[string]any{})
	case "tools/list":
		writeRPCResult(w, req.ID, map[string]any{"tools": toolCatalog})
	case "tools/call":
		s.handleCall(r.Context(), w, req, id)
	default:
		writeRPCError(w, req.ID, codeMethodNotFound, "method not found", req.Method)
	}
}

func (s *Server) handleCall(ctx context.Context, w http.ResponseWriter, req rpcRequest, id *auth.Identity) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		writeRPCError(w, req.ID, codeInvalidParams, "invalid params", "tool name is required")
		return
	}
	if _, ok := toolsByName[params.Name]; !ok {
		writeRPCError(w, req.ID, codeInvalidParams, "unknown tool", params.Name)
		return
	}

	var args toolArgs
	if len(params.Arguments) > 0 {
		if err := json.Unmarshal(params.Arguments, &args); err != nil {
			writeRPCError(w, req.ID, codeInvalidParams, "invalid params", err.Error())
			return
		}
	}
	if err := validateArgs(params.Name, args); err != nil {
		writeRPCError(w, req.ID, codeInvalidParams, "invalid params", err.Error())
		return
	}

	// Personal keys already carry the user; default-key callers must name one.
	if id.Tier == auth.TierDefaultKey {
		if args.UserID == "" {
			writeRPCError(w, req.ID, codeInvalidParams, "invalid params",
				"user_id is required when calling with the default key")
			return
		}
		id = &auth.Identity{UserID: args.UserID, Tier: auth.TierDefaultKey}
	}

	if workflowTools[params.Name] {
		if err := s.auth.Meter(ctx, id); err != nil {
			writeCallError(w, req.ID, err)
			return
		}
	}

	payload, err := s.dispatch(ctx, params.Name, id.UserID, args)
	if err != nil {
		writeCallError(w, req.ID, err)
		return
	}

	text, err := json.Marshal(payload)
	if err != nil {
		writeRPCError(w, req.ID, codeInternal, "internal error", err.Error())
		return
	}
	writeRPCResult(w, req.ID, toolResult{
		Content: []toolContent{{Type: "text", Text: string(text)}},
	})
}

// workflowTools are the tools that count against the default-key quota
var workflowTools = map[string]bool{
	ToolSmartInbox:           true,
	ToolFirstEmailDraft:      true,
	ToolDocumentIntelligence: true,
	ToolChatAutoReply:        true,
	ToolChatAssistant:        true,
	ToolRunAllWorkflows:      true,
}

func validateArgs(tool string, args toolArgs) error {
	switch tool {
	case ToolChatAutoReply:
		if args.SpaceName == "" {
			return errors.New("space_name is required")
		}
	case ToolListTasks:
		if args.TaskListID == "" {
			return errors.New("task_list_id is required")
		}
	case ToolCreateTask:
		if args.Title == "" {
			return errors.New("title is required")
		}
	}
	return nil
}

func (s *Server) dispatch(ctx context.Context, tool, userID string, args toolArgs) (any, error) {
	switch tool {
	case ToolSmartInbox:
		return s.runner.Run(ctx, userID, workflows.SmartInbox, workflows.Params{
			UserRequest: args.UserRequest,
			MaxEmails:   args.MaxEmails,
			SkipTasks:   args.SkipTasks,
		})
	case ToolFirstEmailDraft:
		return s.runner.Run(ctx, userID, workflows.FirstEmailDraft, workflows.Params{})
	case ToolDocumentIntelligence:
		return s.runner.Run(ctx, userID, workflows.DocumentIntelligence, workflows.Params{
			UserRequest: args.UserRequest,
		})
	case ToolChatAutoReply:
		return s.runner.Run(ctx, userID, workflows.ChatAutoReply, workflows.Params{
			SpaceName: args.SpaceName,
		})
	case ToolChatAssistant:
		return s.runner.Run(ctx, userID, workflows.ChatAssistant, workflows.Params{
			UserRequest: args.UserRequest,
			SpaceName:   args.SpaceName,
		})
	case ToolRunAllWorkflows:
		return s.runner.RunAll(ctx, userID, workflows.RunAllOptions{
			EnabledOnly:          true,
			IncludeChatAutoReply: true,
			Trigger:              "mcp",
		})
	case ToolChatSpaces:
		cred, err := s.creds.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.chat.ListSpaces(ctx, cred.AccessToken)
	case ToolListTaskLists:
		cred, err := s.creds.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.tasks.ListTaskLists(ctx, cred.AccessToken)
	case ToolListTasks:
		cred, err := s.creds.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.tasks.ListTasks(ctx, cred.AccessToken, args.TaskListID, args.ShowCompleted)
	case ToolCreateTask:
		cred, err := s.creds.Load(ctx, userID)
		if err != nil {
			return nil, err
		}
		return s.tasks.CreateTask(ctx, cred.AccessToken, args.TaskListID, args.Title, args.Notes)
	}
	return nil, fmt.Errorf("unknown tool %q", tool)
}

// writeCallError maps backend errors onto the protocol's stable codes so a
// caller can tell re-auth from rate-limiting from a failed collaborator
func writeCallError(w http.ResponseWriter, id json.RawMessage, err error) {
	var collab *models.CollaboratorError
	switch {
	case errors.Is(err, models.ErrAuthExpired):
		writeRPCError(w, id, codeAuthExpired, "reauthentication required", err.Error())
	case errors.Is(err, models.ErrNotFound):
		writeRPCError(w, id, codeAuthExpired, "no stored credential, sign in first", "")
	case errors.Is(err, models.ErrQuotaExceeded):
		writeRPCError(w, id, codeQuotaExceeded, "daily request limit reached", "")
	case errors.Is(err, models.ErrUnauthenticated):
		writeRPCError(w, id, codeInvalidParams, "invalid params", err.Error())
	case errors.As(err, &collab):
		writeRPCError(w, id, codeCollaborator, "collaborator failure", err.Error())
	default:
		observability.WithError(err).Error("Tool call failed")
		writeRPCError(w, id, codeInternal, "internal error", err.Error())
	}
}

func writeRPCResult(w http.ResponseWriter, id json.RawMessage, result any) {
	writeJSON(w, http.StatusOK, rpcResponse{JSONRPC: "2.0", ID: normalizeID(id), Result: result})
}

func writeRPCError(w http.ResponseWriter, id json.RawMessage, code int, message, data string) {
	writeJSON(w, http.StatusOK, rpcResponse{
		JSONRPC: "2.0",
		ID:      normalizeID(id),
		Error:   &rpcError{Code: code, Message: message, Data: data},
	})
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}
