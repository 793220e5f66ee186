package models

// EmailMessage is a mailbox message reduced to the fields workflows consume.
type EmailMessage struct {
	ID          string `json:"id"`
	ThreadID    string `json:"thread_id,omitempty"`
	Subject     string `json:"subject"`
	From        string `json:"from"`
	To          string `json:"to,omitempty"`
	Date        string `json:"date,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	References  string `json:"references,omitempty"`
	Snippet     string `json:"snippet,omitempty"`
	BodyPreview string `json:"body_preview,omitempty"`
}

// DraftRequest describes a reply draft to create in the user's mailbox.
type DraftRequest struct {
	To        string
	Subject   string
	Body      string
	ThreadID  string
	InReplyTo string
	// References is the RFC 2822 References chain for threading.
	References string
}

// MailDraft identifies a created draft.
type MailDraft struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id,omitempty"`
}

// ChatSpace is a chat room, group conversation, or direct message.
type ChatSpace struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name,omitempty"`
	Type        string `json:"type,omitempty"`
}

// ChatMessage is one message within a space.
type ChatMessage struct {
	Name       string `json:"name"`
	Text       string `json:"text"`
	Creator    string `json:"creator,omitempty"`
	CreateTime string `json:"create_time,omitempty"`
	ThreadName string `json:"thread_name,omitempty"`
	// ReplyParent is where a reply should be posted: the thread when one
	// exists, otherwise the space itself.
	ReplyParent string `json:"reply_parent,omitempty"`
}

// ChatReply records the outcome of one auto-reply attempt.
type ChatReply struct {
	Name     string `json:"name,omitempty"`
	Parent   string `json:"parent,omitempty"`
	Text     string `json:"text,omitempty"`
	Message  string `json:"message"`
	Original string `json:"original,omitempty"`
	Reply    string `json:"reply,omitempty"`
	Posted   bool   `json:"posted"`
	Error    string `json:"error,omitempty"`
}

// DriveFile is a stored document reduced to listing fields.
type DriveFile struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	MimeType     string `json:"mime_type,omitempty"`
	ModifiedTime string `json:"modified_time,omitempty"`
	WebViewLink  string `json:"web_view_link,omitempty"`
}

// TaskList is a user's task list.
type TaskList struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated string `json:"updated,omitempty"`
}

// Task is one task item.
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Notes      string `json:"notes,omitempty"`
	Status     string `json:"status,omitempty"`
	Due        string `json:"due,omitempty"`
	Completed  string `json:"completed,omitempty"`
	Updated    string `json:"updated,omitempty"`
	TaskListID string `json:"task_list_id,omitempty"`
}
