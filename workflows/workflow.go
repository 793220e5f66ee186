package workflows

import (
	"context"
	"fmt"
	"strings"

	"workpilot/models"
)

// Registered workflow names.
const (
	SmartInbox           = "smart_inbox"
	DocumentIntelligence = "document_intelligence"
	ChatAutoReply        = "chat_auto_reply"
	FirstEmailDraft      = "first_email_draft"
	ChatAssistant        = "chat_assistant"
)

// Result statuses.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusAgentError = "agent_error"
	StatusNoData     = "no_data"
	StatusSkipped    = "skipped"
)

// Params tune a single workflow run. Zero values mean "use the workflow's
// defaults".
type Params struct {
	UserRequest    string `json:"user_request,omitempty"`
	SpaceName      string `json:"space_name,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	MaxEmails      int    `json:"max_emails,omitempty"`
	SkipTasks      bool   `json:"skip_tasks,omitempty"`
}

// ReplyOutcome records one attempted chat reply
type ReplyOutcome struct {
	Space    string `json:"space,omitempty"`
	Message  string `json:"message"`
	Original string `json:"original,omitempty"`
	Reply    string `json:"reply,omitempty"`
	Posted   bool   `json:"posted"`
	Error    string `json:"error,omitempty"`
}

// Result is the outcome of one workflow run. A failed agent call or
// collaborator fetch lands here as a non-OK status with the diagnostic in
// Detail; it is never surfaced as a process-level fault.
type Result struct {
	Workflow         string               `json:"workflow"`
	Status           string               `json:"status"`
	Response         string               `json:"response,omitempty"`
	Detail           string               `json:"detail,omitempty"`
	Email            *models.EmailMessage `json:"email,omitempty"`
	Draft            *models.MailDraft    `json:"draft,omitempty"`
	TasksCreated     []models.Task        `json:"tasks_created,omitempty"`
	Replies          []ReplyOutcome       `json:"replies,omitempty"`
	SideEffectErrors []string             `json:"side_effect_errors,omitempty"`
}

// runInput is everything a workflow needs for one run
type runInput struct {
	credential *models.UserCredential
	agentKey   string // personal override, empty for the server default
	params     Params
}

// workflow is one registered automation
type workflow interface {
	name() string
	run(ctx context.Context, o *Orchestrator, in *runInput) (*Result, error)
}

// preview truncates long agent output for logs and aggregate results
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// taskItem is one parsed action item from an agent response
type taskItem struct {
	title string
	notes string
}

// parseTaskLines extracts "TASK: title | notes" lines from an agent response
func parseTaskLines(response string) []taskItem {
	var items []taskItem
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(strings.ToUpper(line), "TASK:") {
			continue
		}
		rest := strings.TrimSpace(line[5:])
		title, notes := rest, ""
		if before, after, found := strings.Cut(rest, "|"); found {
			title = strings.TrimSpace(before)
			notes = strings.TrimSpace(after)
		}
		if title != "" {
			items = append(items, taskItem{title: title, notes: notes})
		}
	}
	return items
}

// formatContext renders workspace data into the agent's context block
func formatContext(emails []models.EmailMessage, chat []models.ChatMessage, drive []models.DriveFile) string {
	var b strings.Builder

	if len(emails) > 0 {
		b.WriteString("## Recent Emails\n\n")
		for i, e := range emails {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- **From:** %s\n- **Subject:** %s\n- **Preview:** %s...\n\n",
				e.From, e.Subject, preview(e.BodyPreview, 300))
		}
	}

	if len(chat) > 0 {
		b.WriteString("\n## Chat Messages\n\n")
		for i, m := range chat {
			if i >= 10 {
				break
			}
			fmt.Fprintf(&b, "- **%s:** %s\n", m.Creator, preview(m.Text, 150))
		}
	}

	if len(drive) > 0 {
		b.WriteString("\n## Recent Drive Files\n\n")
		for i, f := range drive {
			if i >= 5 {
				break
			}
			fmt.Fprintf(&b, "- %s (%s)\n", f.Name, f.MimeType)
		}
	}

	if b.Len() == 0 {
		return "No workspace data available."
	}
	return b.String()
}
