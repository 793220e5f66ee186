package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestRegistry() {
	SetGlobalRegistry(NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig))
}

func TestAgentInvoke(t *testing.T) {
	newTestRegistry()

	var gotAuth string
	var gotPayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chat" {
			t.Errorf("path = %s, want /api/v1/chat", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotPayload)
		json.NewEncoder(w).Encode(map[string]string{
			"response":        "summarized",
			"conversation_id": "conv-1",
		})
	}))
	defer server.Close()

	svc := NewHTTPAgentService(server.URL, "server-key", 5*time.Second)
	resp, err := svc.Invoke(context.Background(), "", "summarize my inbox", "conv-1")
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if resp.Response != "summarized" {
		t.Errorf("Response = %q, want summarized", resp.Response)
	}
	if gotAuth != "ApiKey server-key" {
		t.Errorf("Authorization = %q, want ApiKey server-key", gotAuth)
	}
	if gotPayload["conversation_id"] != "conv-1" {
		t.Errorf("conversation_id = %v, want conv-1", gotPayload["conversation_id"])
	}
}

func TestAgentInvokePersonalKeyOverride(t *testing.T) {
	newTestRegistry()

	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"response": "ok"})
	}))
	defer server.Close()

	svc := NewHTTPAgentService(server.URL, "server-key", 5*time.Second)
	if _, err := svc.Invoke(context.Background(), "personal-key", "hello", ""); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if gotAuth != "ApiKey personal-key" {
		t.Errorf("Authorization = %q, want the personal key override", gotAuth)
	}
}

func TestAgentInvokeNon2xx(t *testing.T) {
	newTestRegistry()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"agent offline"}`, http.StatusBadGateway)
	}))
	defer server.Close()

	svc := NewHTTPAgentService(server.URL, "server-key", 5*time.Second)
	_, err := svc.Invoke(context.Background(), "", "hello", "")

	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("Invoke() err = %v, want AgentError", err)
	}
	if agentErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", agentErr.StatusCode)
	}
}

func TestAgentInvokeMalformedBody(t *testing.T) {
	newTestRegistry()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	svc := NewHTTPAgentService(server.URL, "server-key", 5*time.Second)
	_, err := svc.Invoke(context.Background(), "", "hello", "")

	var agentErr *AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("Invoke() err = %v, want AgentError", err)
	}
	if agentErr.Body != "not json" {
		t.Errorf("Body = %q, want raw diagnostic", agentErr.Body)
	}
}
