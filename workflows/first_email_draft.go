package workflows

import (
	"context"
	"strings"

	"workpilot/models"
	"workpilot/services"
)

const firstEmailDraftPrompt = "Draft a professional, concise reply to this email. Keep it 1-3 short paragraphs. Output ONLY the reply body text, no greeting/signature needed."

// firstEmailDraftWorkflow reads the newest inbox message, has the agent
// write a reply, and saves it as a Gmail draft on the same thread.
type firstEmailDraftWorkflow struct{}

func (w *firstEmailDraftWorkflow) name() string { return FirstEmailDraft }

func (w *firstEmailDraftWorkflow) run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error) {
	token := in.credential.AccessToken

	emails, err := o.mail.FetchInbox(ctx, token, 1)
	if err != nil {
		return nil, err
	}
	if len(emails) == 0 {
		return &Result{Status: StatusNoData, Detail: "inbox is empty"}, nil
	}
	first := emails[0]

	prompt := in.params.UserRequest
	if prompt == "" {
		prompt = firstEmailDraftPrompt
	}

	resp, err := o.agent.InvokeWithContext(ctx, in.agentKey, prompt, formatContext(emails, nil, nil), in.params.ConversationID)
	if err != nil {
		return nil, err
	}

	draftText := strings.TrimSpace(resp.Response)
	if draftText == "" {
		return &Result{Status: StatusNoData, Detail: "agent produced no draft text", Email: &first}, nil
	}

	subject := first.Subject
	if subject != "" && !strings.HasPrefix(strings.ToUpper(subject), "RE:") {
		subject = "Re: " + subject
	}

	toAddr := services.ExtractAddress(first.From)
	if toAddr == "" {
		return &Result{Status: StatusError, Detail: "could not extract recipient address", Email: &first}, nil
	}

	refs := first.References
	if first.MessageID != "" && !strings.Contains(refs, first.MessageID) {
		refs = strings.TrimSpace(refs + " " + first.MessageID)
	}

	draft, err := o.mail.CreateDraft(ctx, token, models.DraftRequest{
		To:         toAddr,
		Subject:    subject,
		Body:       draftText,
		ThreadID:   first.ThreadID,
		InReplyTo:  first.MessageID,
		References: refs,
	})
	if err != nil {
		// The agent's draft text survives even when saving it fails.
		return &Result{
			Status:   StatusOK,
			Response: draftText,
			Email:    &first,
			SideEffectErrors: []string{
				"draft create: " + err.Error(),
			},
		}, nil
	}

	return &Result{
		Status:   StatusOK,
		Response: preview(draftText, 150),
		Email:    &first,
		Draft:    draft,
	}, nil
}
