package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"workpilot/config"
	"workpilot/models"
	"workpilot/observability"
	"workpilot/workflows"
)

// CredentialSource is the slice of the credential store the scheduler needs:
// the local user index and per-user loads for the automation-enabled check.
type CredentialSource interface {
	ListKnownUsers(ctx context.Context) ([]string, error)
	Load(ctx context.Context, userID string) (*models.UserCredential, error)
}

// Runner executes the automation workflow set for one user
type Runner interface {
	RunAll(ctx context.Context, userID string, opts workflows.RunAllOptions) (map[string]*workflows.Result, error)
}

// Per-user outcome kinds recorded in a sweep report.
const (
	OutcomeOK          = "ok"
	OutcomeDisabled    = "disabled"
	OutcomeAuthExpired = "auth_expired"
	OutcomeError       = "error"
)

// SweepReport summarizes one sweep
type SweepReport struct {
	ID       string
	Skipped  bool
	Started  time.Time
	Duration time.Duration
	Outcomes map[string]string // user id -> outcome kind
}

// Scheduler drives periodic automation sweeps over every locally known user.
// Sweeps never overlap: a timer firing mid-sweep drops the new sweep instead
// of queueing it.
type Scheduler struct {
	cfg    config.AutomationConfig
	creds  CredentialSource
	runner Runner

	interval     time.Duration
	initialDelay time.Duration

	sweeping atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler from automation configuration
func New(cfg config.AutomationConfig, creds CredentialSource, runner Runner) *Scheduler {
	return &Scheduler{
		cfg:          cfg,
		creds:        creds,
		runner:       runner,
		interval:     time.Duration(cfg.IntervalMinutes) * time.Minute,
		initialDelay: time.Duration(cfg.InitialDelaySeconds) * time.Second,
		stop:         make(chan struct{}),
	}
}

// Start launches the timer loop. An initial one-shot sweep fires after a
// short delay so fresh deployments do not idle a whole interval; both timers
// are owned here and cancelled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		observability.Info("automation disabled, scheduler not starting")
		return
	}

	observability.Info("automation scheduler starting",
		"interval", s.interval,
		"initial_delay", s.initialDelay)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		initial := time.NewTimer(s.initialDelay)
		defer initial.Stop()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-initial.C:
				s.Sweep(ctx)
			case <-ticker.C:
				s.Sweep(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the timers and waits for any in-flight sweep to finish
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	observability.Info("automation scheduler stopped")
}

// Sweep visits every locally known user once. One user's failure never
// aborts the others, and a sweep that finds another still in flight skips
// itself rather than overlapping.
func (s *Scheduler) Sweep(ctx context.Context) SweepReport {
	if !s.sweeping.CompareAndSwap(false, true) {
		observability.Warn("sweep still running, skipping this interval")
		observability.GetMetrics().RecordSweep("skipped", 0, 0)
		return SweepReport{Skipped: true}
	}
	defer s.sweeping.Store(false)

	sweepID := uuid.NewString()[:8]
	started := time.Now()
	report := SweepReport{ID: sweepID, Started: started, Outcomes: make(map[string]string)}
	observability.Info("sweep started", "sweep_id", sweepID)

	users, err := s.creds.ListKnownUsers(ctx)
	if err != nil {
		observability.Error("sweep could not list users", "sweep_id", sweepID, "error", err)
		observability.GetMetrics().RecordSweep("error", 0, time.Since(started))
		return report
	}

	limit := s.cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 1
	}
	sem := make(chan struct{}, limit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, userID := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(userID string) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome := s.sweepUser(ctx, userID)
			mu.Lock()
			report.Outcomes[userID] = outcome
			mu.Unlock()
		}(userID)
	}
	wg.Wait()

	report.Duration = time.Since(started)
	observability.GetMetrics().RecordSweep("completed", len(users), report.Duration)
	observability.Info("sweep completed",
		"sweep_id", sweepID,
		"users", len(users),
		"duration", report.Duration)

	return report
}

// sweepUser runs automation for one user, absorbing every failure kind into
// an outcome string.
func (s *Scheduler) sweepUser(ctx context.Context, userID string) (outcome string) {
	log := observability.WithUser(userID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("sweep iteration panicked", "panic", r)
			outcome = OutcomeError
		}
	}()

	cred, err := s.creds.Load(ctx, userID)
	switch {
	case errors.Is(err, models.ErrAuthExpired):
		log.Warn("skipping user, needs reauthentication")
		return OutcomeAuthExpired
	case err != nil:
		log.Warn("skipping user, credential load failed", "error", err)
		return OutcomeError
	}

	if !cred.Settings.Automation() {
		return OutcomeDisabled
	}

	results, err := s.runner.RunAll(ctx, userID, workflows.RunAllOptions{
		EnabledOnly:          true,
		IncludeChatAutoReply: s.cfg.ChatAutoReplyEnabled,
		Trigger:              "sweep",
	})
	if errors.Is(err, models.ErrAuthExpired) {
		log.Warn("skipping user, needs reauthentication")
		return OutcomeAuthExpired
	}
	if err != nil {
		log.Warn("automation run failed", "error", err)
		return OutcomeError
	}

	failed := 0
	for _, r := range results {
		if r.Status == workflows.StatusError || r.Status == workflows.StatusAgentError {
			failed++
		}
	}
	log.Info("automation run finished", "workflows", len(results), "failed", failed)
	return OutcomeOK
}
