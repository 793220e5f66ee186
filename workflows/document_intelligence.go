package workflows

import (
	"context"

	"workpilot/observability"
)

const documentIntelligenceDefaultRequest = "What are the key documents in my Drive? Summarize recent activity."

// documentIntelligenceWorkflow centers the agent on Drive activity, with a
// little email and chat context around it.
type documentIntelligenceWorkflow struct{}

func (w *documentIntelligenceWorkflow) name() string { return DocumentIntelligence }

func (w *documentIntelligenceWorkflow) run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error) {
	token := in.credential.AccessToken

	drive, err := o.drive.ListRecentFiles(ctx, token, 20)
	if err != nil {
		return nil, err
	}

	emails, err := o.mail.FetchInbox(ctx, token, 5)
	if err != nil {
		observability.WithUser(in.credential.UserID).Warn("mail context unavailable", "error", err)
	}
	chat := gatherChatContext(ctx, o, in, 1, 5)

	request := in.params.UserRequest
	if request == "" {
		request = documentIntelligenceDefaultRequest
	}

	resp, err := o.agent.InvokeWithContext(ctx, in.agentKey, request, formatContext(emails, chat, drive), in.params.ConversationID)
	if err != nil {
		return nil, err
	}

	return &Result{Status: StatusOK, Response: resp.Response}, nil
}
