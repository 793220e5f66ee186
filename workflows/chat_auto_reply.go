package workflows

import (
	"context"
	"fmt"
	"strings"

	"workpilot/models"
	"workpilot/observability"
)

const chatReplyPrompt = "You are a helpful assistant. Reply concisely and professionally to this chat message.\n\nGenerate a short, appropriate reply (1-3 sentences)."

// chatAutoReplySpaceLimit caps how many spaces one automation pass touches
const chatAutoReplySpaceLimit = 3

// chatAutoReplyWorkflow answers the latest message in each recent space.
// Replies post into the originating thread when one exists.
type chatAutoReplyWorkflow struct{}

func (w *chatAutoReplyWorkflow) name() string { return ChatAutoReply }

func (w *chatAutoReplyWorkflow) run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error) {
	token := in.credential.AccessToken

	var spaces []models.ChatSpace
	if in.params.SpaceName != "" {
		spaces = []models.ChatSpace{{Name: in.params.SpaceName}}
	} else {
		all, err := o.chat.ListSpaces(ctx, token)
		if err != nil {
			return nil, err
		}
		if len(all) > chatAutoReplySpaceLimit {
			all = all[:chatAutoReplySpaceLimit]
		}
		spaces = all
	}

	result := &Result{Status: StatusOK}
	for _, space := range spaces {
		outcome := w.replyInSpace(ctx, o, in, space)
		result.Replies = append(result.Replies, outcome...)
	}
	if len(result.Replies) == 0 {
		result.Status = StatusNoData
		result.Detail = "no messages to reply to"
	}
	return result, nil
}

// replyInSpace answers the most recent non-empty message in one space. A
// failing space only contributes an error outcome; the other spaces still
// get their replies.
func (w *chatAutoReplyWorkflow) replyInSpace(ctx context.Context, o *Orchestrator, in *runInput, space models.ChatSpace) []ReplyOutcome {
	token := in.credential.AccessToken
	label := space.DisplayName
	if label == "" {
		label = space.Name
	}

	messages, err := o.chat.ListMessages(ctx, token, space.Name, 6)
	if err != nil {
		observability.WithUser(in.credential.UserID).Warn("chat auto-reply space failed",
			"space", space.Name, "error", err)
		return []ReplyOutcome{{Space: label, Error: err.Error()}}
	}

	var outcomes []ReplyOutcome
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}

		msgContext := fmt.Sprintf("**Message from %s:**\n%s", msg.Creator, text)
		resp, err := o.agent.InvokeWithContext(ctx, in.agentKey, chatReplyPrompt, msgContext, "")
		if err != nil {
			outcomes = append(outcomes, ReplyOutcome{
				Space:    label,
				Message:  msg.Name,
				Original: preview(text, 100),
				Error:    err.Error(),
			})
			break
		}

		replyText := strings.TrimSpace(resp.Response)
		if replyText == "" {
			outcomes = append(outcomes, ReplyOutcome{
				Space:   label,
				Message: msg.Name,
				Error:   "empty agent response",
			})
			break
		}

		parent := msg.ReplyParent
		if parent == "" {
			parent = space.Name
		}
		_, postErr := o.chat.PostMessage(ctx, token, parent, replyText)
		outcomes = append(outcomes, ReplyOutcome{
			Space:    label,
			Message:  msg.Name,
			Original: preview(text, 100),
			Reply:    replyText,
			Posted:   postErr == nil,
			Error:    errString(postErr),
		})
		break // one reply per space per pass
	}
	return outcomes
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
