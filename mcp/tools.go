package mcp

import "encoding/json"

// Tool names exposed over the protocol.
const (
	ToolSmartInbox           = "smart_inbox"
	ToolFirstEmailDraft      = "first_email_draft"
	ToolDocumentIntelligence = "document_intelligence"
	ToolChatAutoReply        = "chat_auto_reply"
	ToolChatAssistant        = "chat_assistant"
	ToolChatSpaces           = "chat_spaces"
	ToolRunAllWorkflows      = "run_all_workflows"
	ToolListTaskLists        = "list_task_lists"
	ToolListTasks            = "list_tasks"
	ToolCreateTask           = "create_task"
)

// Tool is one entry in the static catalog
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// userIDProp is shared by every tool so default-key callers can name the
// target user.
const userIDProp = `"user_id": {"type": "string", "description": "Target user id. Required for default-key callers, ignored for personal keys."}`

var toolCatalog = []Tool{
	{
		Name:        ToolSmartInbox,
		Description: "Analyze recent inbox activity, summarize what needs attention, and create follow-up tasks.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"user_request": {"type": "string", "description": "Optional focus for the analysis."},
			"max_emails": {"type": "integer", "description": "How many recent emails to consider."},
			"skip_tasks": {"type": "boolean", "description": "Skip creating follow-up tasks."}}}`),
	},
	{
		Name:        ToolFirstEmailDraft,
		Description: "Draft a threaded reply to the most recent email in the inbox.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `}}`),
	},
	{
		Name:        ToolDocumentIntelligence,
		Description: "Review recent Drive activity and summarize notable documents and changes.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"user_request": {"type": "string", "description": "Optional focus for the review."}}}`),
	},
	{
		Name:        ToolChatAutoReply,
		Description: "Generate and post a reply to the latest message in a chat space.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"space_name": {"type": "string", "description": "Chat space to reply in, e.g. spaces/AAAA."}},
			"required": ["space_name"]}`),
	},
	{
		Name:        ToolChatAssistant,
		Description: "Answer a question using recent chat history as context.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"user_request": {"type": "string", "description": "The question to answer."},
			"space_name": {"type": "string", "description": "Optional chat space to focus on."}}}`),
	},
	{
		Name:        ToolChatSpaces,
		Description: "List the chat spaces the user belongs to.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `}}`),
	},
	{
		Name:        ToolRunAllWorkflows,
		Description: "Run every workflow the user has enabled and return the aggregate results.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `}}`),
	},
	{
		Name:        ToolListTaskLists,
		Description: "List the user's task lists.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `}}`),
	},
	{
		Name:        ToolListTasks,
		Description: "List open tasks in a task list.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"task_list_id": {"type": "string", "description": "Task list to read."},
			"show_completed": {"type": "boolean", "description": "Include completed tasks."}},
			"required": ["task_list_id"]}`),
	},
	{
		Name:        ToolCreateTask,
		Description: "Create a task, in the default list unless one is named.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {` + userIDProp + `,
			"title": {"type": "string", "description": "Task title."},
			"notes": {"type": "string", "description": "Optional details."},
			"task_list_id": {"type": "string", "description": "Optional target list."}},
			"required": ["title"]}`),
	},
}

var toolsByName = func() map[string]Tool {
	m := make(map[string]Tool, len(toolCatalog))
	for _, t := range toolCatalog {
		m[t.Name] = t
	}
	return m
}()

// toolArgs is the argument mapping accepted by every tool
type toolArgs struct {
	UserID        string `json:"user_id"`
	UserRequest   string `json:"user_request"`
	SpaceName     string `json:"space_name"`
	MaxEmails     int    `json:"max_emails"`
	SkipTasks     bool   `json:"skip_tasks"`
	TaskListID    string `json:"task_list_id"`
	ShowCompleted bool   `json:"show_completed"`
	Title         string `json:"title"`
	Notes         string `json:"notes"`
}
