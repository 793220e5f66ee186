package models

// AgentResponse is the AI collaborator's answer to one invocation
type AgentResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id,omitempty"`
}
