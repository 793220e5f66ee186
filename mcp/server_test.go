package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"workpilot/auth"
	"workpilot/models"
	"workpilot/workflows"
)

type fakeAuth struct {
	validToken string
	identity   *auth.Identity
	meterErr   error
	metered    int
}

func (f *fakeAuth) ResolveBearer(_ context.Context, token, _ string) (*auth.Identity, error) {
	if token == f.validToken {
		return f.identity, nil
	}
	return nil, models.ErrUnauthenticated
}

func (f *fakeAuth) Meter(_ context.Context, _ *auth.Identity) error {
	f.metered++
	return f.meterErr
}

type fakeRunner struct {
	calls  int
	lastWf string
	result *workflows.Result
	err    error
}

func (f *fakeRunner) Run(_ context.Context, _, workflowName string, _ workflows.Params) (*workflows.Result, error) {
	f.calls++
	f.lastWf = workflowName
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeRunner) RunAll(_ context.Context, _ string, _ workflows.RunAllOptions) (map[string]*workflows.Result, error) {
	f.calls++
	f.lastWf = "run_all"
	return map[string]*workflows.Result{}, nil
}

type fakeLoader struct {
	loads int
	cred  *models.UserCredential
	err   error
}

func (f *fakeLoader) Load(_ context.Context, _ string) (*models.UserCredential, error) {
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	return f.cred, nil
}

type fakeChat struct{ spaces []models.ChatSpace }

func (f *fakeChat) ListSpaces(_ context.Context, _ string) ([]models.ChatSpace, error) {
	return f.spaces, nil
}

type fakeTasks struct{ created []string }

func (f *fakeTasks) ListTaskLists(_ context.Context, _ string) ([]models.TaskList, error) {
	return []models.TaskList{{ID: "l1", Title: "WorkPilot"}}, nil
}

func (f *fakeTasks) ListTasks(_ context.Context, _, _ string, _ bool) ([]models.Task, error) {
	return nil, nil
}

func (f *fakeTasks) CreateTask(_ context.Context, _, _, title, notes string) (*models.Task, error) {
	f.created = append(f.created, title)
	return &models.Task{ID: "t1", Title: title, Notes: notes}, nil
}

type testEnv struct {
	server *Server
	auth   *fakeAuth
	runner *fakeRunner
	loader *fakeLoader
	tasks  *fakeTasks
}

func newTestEnv() *testEnv {
	a := &fakeAuth{
		validToken: "wk_good.key",
		identity:   &auth.Identity{UserID: "user-1", Tier: auth.TierPersonalKey},
	}
	r := &fakeRunner{result: &workflows.Result{Workflow: workflows.SmartInbox, Status: workflows.StatusOK, Response: "done"}}
	l := &fakeLoader{cred: &models.UserCredential{UserID: "user-1", AccessToken: "at"}}
	tk := &fakeTasks{}
	return &testEnv{
		server: NewServer(a, r, l, &fakeChat{}, tk),
		auth:   a,
		runner: r,
		loader: l,
		tasks:  tk,
	}
}

func rpc(t *testing.T, env *testEnv, bearer string, body string) (*httptest.ResponseRecorder, *rpcResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(body))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)

	var resp rpcResponse
	if rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decoding response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, &resp
}

func callBody(tool string, args map[string]any) string {
	payload, _ := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	})
	return string(payload)
}

func TestMissingBearerRejectedBeforeDispatch(t *testing.T) {
	env := newTestEnv()

	rec, _ := rpc(t, env, "", callBody(ToolSmartInbox, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if env.loader.loads != 0 {
		t.Errorf("credential loads = %d, must not touch the store before auth", env.loader.loads)
	}
	if env.runner.calls != 0 {
		t.Errorf("runner calls = %d, want 0", env.runner.calls)
	}
}

func TestInvalidBearerRejected(t *testing.T) {
	env := newTestEnv()

	rec, _ := rpc(t, env, "wk_wrong.key", callBody(ToolSmartInbox, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if env.loader.loads != 0 || env.runner.calls != 0 {
		t.Error("nothing downstream may run for an invalid bearer")
	}
}

func TestUnknownToolSkipsOrchestrator(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", callBody("no_such_tool", nil))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeInvalidParams)
	}
	if env.runner.calls != 0 {
		t.Errorf("runner calls = %d, unknown tool must not reach the orchestrator", env.runner.calls)
	}
}

func TestUnknownMethod(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", `{"jsonrpc": "2.0", "id": 1, "method": "tools/delete"}`)
	if resp.Error == nil || resp.Error.Code != codeMethodNotFound {
		t.Errorf("error = %+v, want code %d", resp.Error, codeMethodNotFound)
	}
}

func TestParseError(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", `{not json`)
	if resp.Error == nil || resp.Error.Code != codeParseError {
		t.Errorf("error = %+v, want code %d", resp.Error, codeParseError)
	}
}

func TestToolsList(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", `{"jsonrpc": "2.0", "id": 7, "method": "tools/list"}`)
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}

	raw, _ := json.Marshal(resp.Result)
	var listed struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if len(listed.Tools) != len(toolCatalog) {
		t.Errorf("listed %d tools, want %d", len(listed.Tools), len(toolCatalog))
	}
}

func TestCallRunsWorkflow(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", callBody(ToolSmartInbox, map[string]any{"user_request": "focus on invoices"}))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if env.runner.lastWf != workflows.SmartInbox {
		t.Errorf("ran %q, want %q", env.runner.lastWf, workflows.SmartInbox)
	}
	if env.auth.metered != 1 {
		t.Errorf("metered = %d, want 1", env.auth.metered)
	}
}

func TestCallValidatesRequiredArgs(t *testing.T) {
	env := newTestEnv()

	for tool, args := range map[string]map[string]any{
		ToolChatAutoReply: {},
		ToolListTasks:     {},
		ToolCreateTask:    {"notes": "no title"},
	} {
		_, resp := rpc(t, env, "wk_good.key", callBody(tool, args))
		if resp.Error == nil || resp.Error.Code != codeInvalidParams {
			t.Errorf("%s: error = %+v, want code %d", tool, resp.Error, codeInvalidParams)
		}
	}
	if env.runner.calls != 0 || env.loader.loads != 0 {
		t.Error("invalid args must be rejected before any backend call")
	}
}

func TestDefaultKeyRequiresUserID(t *testing.T) {
	env := newTestEnv()
	env.auth.identity = &auth.Identity{Tier: auth.TierDefaultKey}
	env.auth.validToken = "shared-default"

	_, resp := rpc(t, env, "shared-default", callBody(ToolSmartInbox, nil))
	if resp.Error == nil || resp.Error.Code != codeInvalidParams {
		t.Fatalf("error = %+v, want code %d", resp.Error, codeInvalidParams)
	}

	_, resp = rpc(t, env, "shared-default", callBody(ToolSmartInbox, map[string]any{"user_id": "user-9"}))
	if resp.Error != nil {
		t.Fatalf("error = %+v, want success with explicit user_id", resp.Error)
	}
}

func TestQuotaExceededCode(t *testing.T) {
	env := newTestEnv()
	env.auth.meterErr = models.ErrQuotaExceeded

	_, resp := rpc(t, env, "wk_good.key", callBody(ToolSmartInbox, nil))
	if resp.Error == nil || resp.Error.Code != codeQuotaExceeded {
		t.Errorf("error = %+v, want code %d", resp.Error, codeQuotaExceeded)
	}
	if env.runner.calls != 0 {
		t.Errorf("runner calls = %d, over-quota calls must not run", env.runner.calls)
	}
}

func TestAuthExpiredCode(t *testing.T) {
	env := newTestEnv()
	env.runner.err = models.ErrAuthExpired

	_, resp := rpc(t, env, "wk_good.key", callBody(ToolSmartInbox, nil))
	if resp.Error == nil || resp.Error.Code != codeAuthExpired {
		t.Errorf("error = %+v, want code %d", resp.Error, codeAuthExpired)
	}
}

func TestCreateTaskTool(t *testing.T) {
	env := newTestEnv()

	_, resp := rpc(t, env, "wk_good.key", callBody(ToolCreateTask, map[string]any{
		"title": "Review budget",
		"notes": "from chat",
	}))
	if resp.Error != nil {
		t.Fatalf("error = %+v", resp.Error)
	}
	if env.loader.loads != 1 {
		t.Errorf("credential loads = %d, want 1", env.loader.loads)
	}
	if len(env.tasks.created) != 1 || env.tasks.created[0] != "Review budget" {
		t.Errorf("created = %v, want [Review budget]", env.tasks.created)
	}
	if env.auth.metered != 0 {
		t.Errorf("metered = %d, direct task tools are not workflow invocations", env.auth.metered)
	}
}
