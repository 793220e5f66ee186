package workflows

import (
	"context"

	"workpilot/models"
	"workpilot/observability"
)

// chatAssistantWorkflow answers a free-form question over chat history plus
// light email and file context. It posts nothing back; the response goes to
// the caller.
type chatAssistantWorkflow struct{}

func (w *chatAssistantWorkflow) name() string { return ChatAssistant }

func (w *chatAssistantWorkflow) run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error) {
	token := in.credential.AccessToken

	var chat []models.ChatMessage
	if in.params.SpaceName != "" {
		msgs, err := o.chat.ListMessages(ctx, token, in.params.SpaceName, 20)
		if err != nil {
			return nil, err
		}
		chat = msgs
	} else {
		chat = gatherChatContext(ctx, o, in, 3, 10)
	}

	emails, err := o.mail.FetchInbox(ctx, token, 5)
	if err != nil {
		observability.WithUser(in.credential.UserID).Warn("mail context unavailable", "error", err)
	}
	drive, err := o.drive.ListRecentFiles(ctx, token, 5)
	if err != nil {
		observability.WithUser(in.credential.UserID).Warn("drive context unavailable", "error", err)
	}

	request := in.params.UserRequest
	if request == "" {
		request = "Summarize the recent chat activity and flag anything that needs my attention."
	}

	resp, err := o.agent.InvokeWithContext(ctx, in.agentKey, request, formatContext(emails, chat, drive), in.params.ConversationID)
	if err != nil {
		return nil, err
	}

	return &Result{Status: StatusOK, Response: resp.Response}, nil
}
