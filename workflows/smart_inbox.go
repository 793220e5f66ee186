package workflows

import (
	"context"
	"fmt"

	"workpilot/models"
	"workpilot/observability"
)

const smartInboxDefaultRequest = "Summarize my inbox and highlight urgent items. Suggest draft replies for the top 3 emails."

const taskInstruction = " At the end, list any follow-up action items. For each, output a line: TASK: [title] | [notes]"

// smartInboxWorkflow summarizes the inbox with light chat and file context,
// then turns agent-suggested action items into real tasks.
type smartInboxWorkflow struct{}

func (w *smartInboxWorkflow) name() string { return SmartInbox }

func (w *smartInboxWorkflow) run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error) {
	token := in.credential.AccessToken

	maxEmails := in.params.MaxEmails
	if maxEmails <= 0 {
		maxEmails = 15
	}
	emails, err := o.mail.FetchInbox(ctx, token, maxEmails)
	if err != nil {
		return nil, err
	}

	// Secondary context sources are best-effort.
	drive, err := o.drive.ListRecentFiles(ctx, token, 5)
	if err != nil {
		observability.WithUser(in.credential.UserID).Warn("drive context unavailable", "error", err)
	}
	chat := gatherChatContext(ctx, o, in, 2, 5)

	request := in.params.UserRequest
	if request == "" {
		request = smartInboxDefaultRequest
	}
	createTasks := !in.params.SkipTasks
	if createTasks {
		request += taskInstruction
	}

	resp, err := o.agent.InvokeWithContext(ctx, in.agentKey, request, formatContext(emails, chat, drive), in.params.ConversationID)
	if err != nil {
		return nil, err
	}

	result := &Result{Status: StatusOK, Response: resp.Response}

	if createTasks {
		for _, item := range parseTaskLines(resp.Response) {
			task, err := o.tasks.CreateTask(ctx, token, "", item.title, item.notes)
			if err != nil {
				// A failed side effect never discards the agent's output.
				result.SideEffectErrors = append(result.SideEffectErrors,
					fmt.Sprintf("task %q: %v", item.title, err))
				continue
			}
			result.TasksCreated = append(result.TasksCreated, *task)
		}
	}

	return result, nil
}

// gatherChatContext pulls a few recent messages from the user's first spaces.
// Chat is never the primary source here, so failures only log.
func gatherChatContext(ctx context.Context, o *Orchestrator, in *runInput, spaceLimit, perSpace int) []models.ChatMessage {
	token := in.credential.AccessToken
	log := observability.WithUser(in.credential.UserID)

	spaces, err := o.chat.ListSpaces(ctx, token)
	if err != nil {
		log.Warn("chat context unavailable", "error", err)
		return nil
	}
	if len(spaces) > spaceLimit {
		spaces = spaces[:spaceLimit]
	}

	var messages []models.ChatMessage
	for _, space := range spaces {
		msgs, err := o.chat.ListMessages(ctx, token, space.Name, perSpace)
		if err != nil {
			log.Warn("chat context unavailable", "space", space.Name, "error", err)
			continue
		}
		messages = append(messages, msgs...)
	}
	return messages
}
