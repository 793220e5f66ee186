package main

import (
	"context"
	"fmt"

	"workpilot/auth"
	"workpilot/config"
	"workpilot/credentials"
	"workpilot/models"
	"workpilot/repository"
	"workpilot/scheduler"
	"workpilot/services"
	"workpilot/workflows"
)

// App wires the stores, collaborator clients, and orchestrator together and
// carries the operations the HTTP surface exposes
type App struct {
	cfg          *config.Config
	creds        *credentials.Store
	keys         *repository.APIKeyStore
	ledger       *repository.UsageLedger
	orchestrator *workflows.Orchestrator
	scheduler    *scheduler.Scheduler
	sessions     *auth.SessionManager
	resolver     *auth.Resolver
	google       *auth.GoogleAuthenticator
	chat         *services.ChatService
	tasks        *services.TasksService
	agent        services.AgentClient
	dbHealth     func(ctx context.Context) error
}

// NewApp creates the application from its wired components
func NewApp(cfg *config.Config, creds *credentials.Store, keys *repository.APIKeyStore, ledger *repository.UsageLedger,
	orchestrator *workflows.Orchestrator, sched *scheduler.Scheduler, sessions *auth.SessionManager,
	resolver *auth.Resolver, google *auth.GoogleAuthenticator, chat *services.ChatService,
	tasks *services.TasksService, agent services.AgentClient, dbHealth func(ctx context.Context) error) *App {
	return &App{
		cfg:          cfg,
		creds:        creds,
		keys:         keys,
		ledger:       ledger,
		orchestrator: orchestrator,
		scheduler:    sched,
		sessions:     sessions,
		resolver:     resolver,
		google:       google,
		chat:         chat,
		tasks:        tasks,
		agent:        agent,
		dbHealth:     dbHealth,
	}
}

// RunWorkflow executes one named workflow for a user
func (a *App) RunWorkflow(ctx context.Context, userID, name string, params workflows.Params) (*workflows.Result, error) {
	return a.orchestrator.Run(ctx, userID, name, params)
}

// RunAllWorkflows executes the user's enabled automation set on demand
func (a *App) RunAllWorkflows(ctx context.Context, userID string) (map[string]*workflows.Result, error) {
	return a.orchestrator.RunAll(ctx, userID, workflows.RunAllOptions{
		EnabledOnly:          true,
		IncludeChatAutoReply: true,
		Trigger:              "request",
	})
}

// GetSettings returns the user's stored settings
func (a *App) GetSettings(ctx context.Context, userID string) (*models.Settings, error) {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &cred.Settings, nil
}

// updateSettings loads, mutates, and saves the user's credential. A partial
// persist still applies the change; the error is returned so callers can
// surface the degraded write.
func (a *App) updateSettings(ctx context.Context, userID string, mutate func(*models.Settings)) error {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return err
	}
	mutate(&cred.Settings)
	return a.creds.Save(ctx, cred)
}

// SetAgentKey stores or clears the user's personal AI-agent credential
func (a *App) SetAgentKey(ctx context.Context, userID, key string) error {
	return a.updateSettings(ctx, userID, func(s *models.Settings) {
		s.AgentAPIKey = key
	})
}

// SetWorkflowToggles applies explicit per-workflow enablement choices
func (a *App) SetWorkflowToggles(ctx context.Context, userID string, toggles models.WorkflowToggles) error {
	for name := range toggles {
		if !a.orchestrator.Known(name) {
			return fmt.Errorf("%w: unknown workflow %q", models.ErrNotFound, name)
		}
	}
	return a.updateSettings(ctx, userID, func(s *models.Settings) {
		s.WorkflowToggles = s.WorkflowToggles.Merge(toggles)
	})
}

// SetAutomation records the user's scheduled-automation choice
func (a *App) SetAutomation(ctx context.Context, userID string, enabled bool) error {
	return a.updateSettings(ctx, userID, func(s *models.Settings) {
		s.SetAutomation(enabled)
	})
}

// MintAPIKey issues a personal API key. The plaintext is returned exactly once.
func (a *App) MintAPIKey(ctx context.Context, userID, name string) (string, *repository.APIKey, error) {
	return a.keys.Mint(ctx, userID, name)
}

// ListAPIKeys returns the user's key metadata, never the secrets
func (a *App) ListAPIKeys(ctx context.Context, userID string) ([]repository.APIKey, error) {
	return a.keys.ListForUser(ctx, userID)
}

// RevokeAPIKey deletes one of the user's keys
func (a *App) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	return a.keys.Revoke(ctx, userID, keyID)
}

// ChatSpaces lists the chat spaces the user belongs to
func (a *App) ChatSpaces(ctx context.Context, userID string) ([]models.ChatSpace, error) {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.chat.ListSpaces(ctx, cred.AccessToken)
}

// TaskLists lists the user's task lists
func (a *App) TaskLists(ctx context.Context, userID string) ([]models.TaskList, error) {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.tasks.ListTaskLists(ctx, cred.AccessToken)
}

// Tasks lists open tasks in one of the user's task lists
func (a *App) Tasks(ctx context.Context, userID, taskListID string, showCompleted bool) ([]models.Task, error) {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.tasks.ListTasks(ctx, cred.AccessToken, taskListID, showCompleted)
}

// CreateTask creates a task, in the default list when none is named
func (a *App) CreateTask(ctx context.Context, userID, taskListID, title, notes string) (*models.Task, error) {
	cred, err := a.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	return a.tasks.CreateTask(ctx, cred.AccessToken, taskListID, title, notes)
}

// DisconnectUser deletes the user's stored credential and ends automation
// for them
func (a *App) DisconnectUser(ctx context.Context, userID string) error {
	return a.creds.Delete(ctx, userID)
}

// AgentHealth checks the AI collaborator with a minimal round trip
func (a *App) AgentHealth(ctx context.Context) error {
	if a.agent == nil {
		return fmt.Errorf("agent not configured")
	}
	_, err := a.agent.Invoke(ctx, "", "Reply with OK.", "")
	return err
}
