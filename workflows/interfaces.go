package workflows

import (
	"context"

	"workpilot/models"
)

// CredentialLoader supplies the per-user credential each run starts from.
type CredentialLoader interface {
	Load(ctx context.Context, userID string) (*models.UserCredential, error)
}

// MailClient reads the inbox and creates drafts
type MailClient interface {
	FetchInbox(ctx context.Context, accessToken string, limit int) ([]models.EmailMessage, error)
	CreateDraft(ctx context.Context, accessToken string, req models.DraftRequest) (*models.MailDraft, error)
}

// ChatClient reads and posts chat messages
type ChatClient interface {
	ListSpaces(ctx context.Context, accessToken string) ([]models.ChatSpace, error)
	ListMessages(ctx context.Context, accessToken, spaceName string, limit int) ([]models.ChatMessage, error)
	PostMessage(ctx context.Context, accessToken, parent, text string) (*models.ChatReply, error)
}

// DriveClient lists recent files
type DriveClient interface {
	ListRecentFiles(ctx context.Context, accessToken string, limit int) ([]models.DriveFile, error)
}

// TasksClient records workflow action items
type TasksClient interface {
	CreateTask(ctx context.Context, accessToken, taskListID, title, notes string) (*models.Task, error)
}

// AgentClient is the AI collaborator
type AgentClient interface {
	Invoke(ctx context.Context, apiKey, message, conversationID string) (*models.AgentResponse, error)
	InvokeWithContext(ctx context.Context, apiKey, userMessage, workspaceContext, conversationID string) (*models.AgentResponse, error)
}
