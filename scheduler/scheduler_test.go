package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"workpilot/config"
	"workpilot/models"
	"workpilot/workflows"
)

type fakeSource struct {
	users map[string]*models.UserCredential
	order []string
}

func (f *fakeSource) ListKnownUsers(_ context.Context) ([]string, error) {
	return f.order, nil
}

func (f *fakeSource) Load(_ context.Context, userID string) (*models.UserCredential, error) {
	cred, ok := f.users[userID]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cred, nil
}

type fakeRunner struct {
	mu      sync.Mutex
	ran     []string
	failFor map[string]error
	block   chan struct{} // when set, RunAll waits until closed
}

func (f *fakeRunner) RunAll(_ context.Context, userID string, _ workflows.RunAllOptions) (map[string]*workflows.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.ran = append(f.ran, userID)
	f.mu.Unlock()
	if err := f.failFor[userID]; err != nil {
		return nil, err
	}
	return map[string]*workflows.Result{
		workflows.SmartInbox: {Workflow: workflows.SmartInbox, Status: workflows.StatusOK},
	}, nil
}

func testConfig() config.AutomationConfig {
	return config.AutomationConfig{
		Enabled:              true,
		IntervalMinutes:      30,
		InitialDelaySeconds:  10,
		ChatAutoReplyEnabled: true,
		ConcurrencyLimit:     4,
	}
}

func threeUsers() *fakeSource {
	users := map[string]*models.UserCredential{}
	order := []string{"a@example.com", "b@example.com", "c@example.com"}
	for _, id := range order {
		users[id] = &models.UserCredential{UserID: id, AccessToken: "tok"}
	}
	return &fakeSource{users: users, order: order}
}

func TestSweepIsolatesUserFailures(t *testing.T) {
	source := threeUsers()
	runner := &fakeRunner{failFor: map[string]error{
		"b@example.com": models.NewCollaboratorError("mail", fmt.Errorf("gmail 500")),
	}}
	s := New(testConfig(), source, runner)

	report := s.Sweep(context.Background())
	if report.Skipped {
		t.Fatal("sweep skipped unexpectedly")
	}
	if report.Outcomes["a@example.com"] != OutcomeOK {
		t.Errorf("user a outcome = %q, want ok", report.Outcomes["a@example.com"])
	}
	if report.Outcomes["b@example.com"] != OutcomeError {
		t.Errorf("user b outcome = %q, want error", report.Outcomes["b@example.com"])
	}
	if report.Outcomes["c@example.com"] != OutcomeOK {
		t.Errorf("user c outcome = %q, want ok", report.Outcomes["c@example.com"])
	}
}

func TestSweepSkipsAutomationDisabledUser(t *testing.T) {
	source := threeUsers()
	off := false
	source.users["b@example.com"].Settings.AutomationEnabled = &off
	runner := &fakeRunner{}
	s := New(testConfig(), source, runner)

	report := s.Sweep(context.Background())
	if report.Outcomes["b@example.com"] != OutcomeDisabled {
		t.Errorf("user b outcome = %q, want disabled", report.Outcomes["b@example.com"])
	}
	for _, ran := range runner.ran {
		if ran == "b@example.com" {
			t.Error("RunAll called for a user with automation off")
		}
	}
	if len(runner.ran) != 2 {
		t.Errorf("RunAll ran for %d users, want 2", len(runner.ran))
	}
}

func TestSweepRecordsAuthExpired(t *testing.T) {
	source := threeUsers()
	runner := &fakeRunner{failFor: map[string]error{
		"c@example.com": models.ErrAuthExpired,
	}}
	s := New(testConfig(), source, runner)

	report := s.Sweep(context.Background())
	if report.Outcomes["c@example.com"] != OutcomeAuthExpired {
		t.Errorf("user c outcome = %q, want auth_expired", report.Outcomes["c@example.com"])
	}
}

func TestOverlappingSweepSkipped(t *testing.T) {
	source := threeUsers()
	runner := &fakeRunner{block: make(chan struct{})}
	s := New(testConfig(), source, runner)

	firstDone := make(chan SweepReport)
	go func() {
		firstDone <- s.Sweep(context.Background())
	}()

	// Wait until the first sweep is committed, then fire the second.
	for !s.sweeping.Load() {
		time.Sleep(time.Millisecond)
	}
	second := s.Sweep(context.Background())
	if !second.Skipped {
		t.Error("overlapping sweep was not skipped")
	}

	close(runner.block)
	first := <-firstDone
	if first.Skipped {
		t.Error("first sweep reported skipped")
	}
	if len(first.Outcomes) != 3 {
		t.Errorf("first sweep outcomes = %d, want 3", len(first.Outcomes))
	}
}

func TestStartDisabledDoesNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	s := New(cfg, threeUsers(), &fakeRunner{})

	s.Start(context.Background())
	s.Stop() // returns immediately because no goroutine was launched
}
