package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// AgentClient is the AI collaborator behind every workflow. The apiKey
// argument is the per-user override; an empty string means the server-wide
// credential.
type AgentClient interface {
	Invoke(ctx context.Context, apiKey, message, conversationID string) (*models.AgentResponse, error)
	InvokeWithContext(ctx context.Context, apiKey, userMessage, workspaceContext, conversationID string) (*models.AgentResponse, error)
}

// AgentError carries the raw diagnostic from a failed or malformed agent
// response so workflow results can surface it verbatim.
type AgentError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("agent call failed: %v", e.Err)
	}
	return fmt.Sprintf("agent returned status %d: %s", e.StatusCode, e.Body)
}

func (e *AgentError) Unwrap() error { return e.Err }

// HTTPAgentService talks to the Oshaani agent REST API
type HTTPAgentService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewHTTPAgentService creates a new HTTPAgentService instance
func NewHTTPAgentService(baseURL, apiKey string, timeout time.Duration) *HTTPAgentService {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPAgentService{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// agentChatResponse is the agent's chat endpoint response
type agentChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
}

// Invoke sends one chat message to the agent
func (s *HTTPAgentService) Invoke(ctx context.Context, apiKey, message, conversationID string) (*models.AgentResponse, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveAgent("http")

	key := apiKey
	if key == "" {
		key = s.apiKey
	}

	payload := map[string]any{"message": message}
	if conversationID != "" {
		payload["conversation_id"] = conversationID
	}

	resp, err := WithCircuitBreaker(ctx, BreakerAgent, func() (*agentChatResponse, error) {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/api/v1/chat", bytes.NewReader(encoded))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "ApiKey "+key)
		req.Header.Set("Content-Type", "application/json")

		httpResp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, &AgentError{Err: err}
		}
		defer httpResp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
			return nil, &AgentError{StatusCode: httpResp.StatusCode, Body: string(body)}
		}

		var out agentChatResponse
		if err := json.Unmarshal(body, &out); err != nil {
			return nil, &AgentError{StatusCode: httpResp.StatusCode, Body: string(body), Err: err}
		}
		return &out, nil
	})
	if err != nil {
		metrics.RecordAgentError("http", "request_failed")
		return nil, err
	}

	return &models.AgentResponse{
		Response:       resp.Response,
		ConversationID: resp.ConversationID,
	}, nil
}

// InvokeWithContext sends a message alongside formatted workspace context so
// the agent can ground its answer in the user's data.
func (s *HTTPAgentService) InvokeWithContext(ctx context.Context, apiKey, userMessage, workspaceContext, conversationID string) (*models.AgentResponse, error) {
	return s.Invoke(ctx, apiKey, composeContextMessage(userMessage, workspaceContext), conversationID)
}

// composeContextMessage frames the user's request and the workspace snapshot
// as one agent prompt.
func composeContextMessage(userMessage, workspaceContext string) string {
	return fmt.Sprintf(`**User request:** %s

**Context from the user's workspace (emails, chat, files):**
%s

Please process the above and respond accordingly. Use the context to answer questions, draft replies, summarize, or take actions as appropriate.`, userMessage, workspaceContext)
}
