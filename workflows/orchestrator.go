package workflows

import (
	"context"
	"errors"
	"fmt"

	"workpilot/models"
	"workpilot/observability"
	"workpilot/services"
)

// Orchestrator runs named workflows against a user's workspace. One instance
// serves all users; the credential is loaded fresh per run so nothing is
// cached across requests.
type Orchestrator struct {
	creds CredentialLoader
	mail  MailClient
	chat  ChatClient
	drive DriveClient
	tasks TasksClient
	agent AgentClient

	registry map[string]workflow
	// order in which RunAll visits automation workflows
	automation []string
}

// NewOrchestrator creates an orchestrator over the given collaborators
func NewOrchestrator(creds CredentialLoader, mail MailClient, chat ChatClient, drive DriveClient, tasks TasksClient, agent AgentClient) *Orchestrator {
	o := &Orchestrator{
		creds: creds,
		mail:  mail,
		chat:  chat,
		drive: drive,
		tasks: tasks,
		agent: agent,
	}

	o.registry = map[string]workflow{}
	for _, wf := range []workflow{
		&smartInboxWorkflow{},
		&documentIntelligenceWorkflow{},
		&chatAutoReplyWorkflow{},
		&firstEmailDraftWorkflow{},
		&chatAssistantWorkflow{},
	} {
		o.registry[wf.name()] = wf
	}
	o.automation = []string{SmartInbox, DocumentIntelligence, ChatAutoReply}

	return o
}

// Names returns all registered workflow names
func (o *Orchestrator) Names() []string {
	return []string{SmartInbox, DocumentIntelligence, ChatAutoReply, FirstEmailDraft, ChatAssistant}
}

// Known reports whether a workflow name is registered
func (o *Orchestrator) Known(name string) bool {
	_, ok := o.registry[name]
	return ok
}

// Run executes one workflow for a user. Credential problems (unknown user,
// rejected refresh) come back as errors; collaborator and agent failures are
// folded into the Result so callers always see what the workflow attempted.
func (o *Orchestrator) Run(ctx context.Context, userID, workflowName string, params Params) (*Result, error) {
	wf, ok := o.registry[workflowName]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q: %w", workflowName, models.ErrNotFound)
	}

	cred, err := o.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	return o.execute(ctx, wf, cred, params, "request"), nil
}

// RunAllOptions tune a RunAll pass
type RunAllOptions struct {
	// EnabledOnly skips workflows the user has toggled off
	EnabledOnly bool
	// IncludeChatAutoReply gates the reply-posting workflow, which is the
	// only automation workflow with outward side effects in chat
	IncludeChatAutoReply bool
	// Trigger labels the run in logs and metrics ("request" or "sweep")
	Trigger string
}

// RunAll runs the automation workflow set for a user. One workflow's failure
// never stops the rest; the returned map always holds an entry per attempted
// workflow.
func (o *Orchestrator) RunAll(ctx context.Context, userID string, opts RunAllOptions) (map[string]*Result, error) {
	cred, err := o.creds.Load(ctx, userID)
	if err != nil {
		return nil, err
	}

	trigger := opts.Trigger
	if trigger == "" {
		trigger = "request"
	}

	results := make(map[string]*Result)
	for _, name := range o.automation {
		if name == ChatAutoReply && !opts.IncludeChatAutoReply {
			continue
		}
		if opts.EnabledOnly && !cred.Settings.WorkflowToggles.Enabled(name) {
			results[name] = &Result{Workflow: name, Status: StatusSkipped, Detail: "disabled by user"}
			continue
		}
		results[name] = o.execute(ctx, o.registry[name], cred, Params{}, trigger)
	}

	return results, nil
}

// execute runs one workflow with failure isolation: panics and errors become
// a Result, never a fault that escapes to the caller.
func (o *Orchestrator) execute(ctx context.Context, wf workflow, cred *models.UserCredential, params Params, trigger string) (result *Result) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	log := observability.WithUser(cred.UserID).With("workflow", wf.name())

	defer func() {
		if r := recover(); r != nil {
			log.Error("workflow panicked", "panic", r)
			metrics.RecordWorkflowError(wf.name(), "panic")
			result = &Result{
				Workflow: wf.name(),
				Status:   StatusError,
				Detail:   fmt.Sprintf("internal failure: %v", r),
			}
		}
		metrics.RecordWorkflowRun(wf.name(), trigger, result.Status, timer.Duration())
	}()

	in := &runInput{
		credential: cred,
		agentKey:   cred.Settings.AgentAPIKey,
		params:     params,
	}

	res, err := wf.run(ctx, o, in)
	if err != nil {
		log.Warn("workflow failed", "error", err)
		metrics.RecordWorkflowError(wf.name(), errorType(err))
		return &Result{
			Workflow: wf.name(),
			Status:   statusFor(err),
			Detail:   err.Error(),
		}
	}

	res.Workflow = wf.name()
	if res.Status == "" {
		res.Status = StatusOK
	}
	log.Info("workflow completed", "status", res.Status)
	return res
}

func statusFor(err error) string {
	var agentErr *services.AgentError
	if errors.As(err, &agentErr) {
		return StatusAgentError
	}
	return StatusError
}

func errorType(err error) string {
	switch {
	case errors.As(err, new(*services.AgentError)):
		return "agent"
	case errors.As(err, new(*models.CollaboratorError)):
		return "collaborator"
	default:
		return "internal"
	}
}
