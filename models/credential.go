package models

import (
	"time"
)

// CredentialOrigin records which storage tier a loaded credential came from.
type CredentialOrigin string

const (
	// OriginRemote means the authoritative vault answered the read.
	OriginRemote CredentialOrigin = "remote"
	// OriginBootstrap means the vault was unreachable and the local
	// bootstrap record served the read (degraded, distinct from not-found).
	OriginBootstrap CredentialOrigin = "bootstrap"
)

// UserCredential is the durable OAuth credential and settings for one user.
// It is only ever addressed by UserID.
type UserCredential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes"`
	Settings     Settings  `json:"settings"`

	// Origin is set on load and never persisted.
	Origin CredentialOrigin `json:"-"`
}

// Degraded reports whether this credential was served from the bootstrap
// fallback rather than the authoritative vault.
func (c *UserCredential) Degraded() bool {
	return c.Origin == OriginBootstrap
}

// Expired reports whether the access token is expired or expires within skew.
func (c *UserCredential) Expired(now time.Time, skew time.Duration) bool {
	if c.Expiry.IsZero() {
		return true
	}
	return !c.Expiry.After(now.Add(skew))
}

// Settings is the per-user settings blob carried inside the credential record.
type Settings struct {
	// AgentAPIKey overrides the server-wide agent credential when set.
	AgentAPIKey string `json:"agent_api_key,omitempty"`
	// AutomationEnabled is a tri-state flag; nil means enabled.
	AutomationEnabled *bool           `json:"automation_enabled,omitempty"`
	WorkflowToggles   WorkflowToggles `json:"workflow_toggles,omitempty"`
}

// Automation reports whether scheduled runs are enabled for the user.
// Absence of an explicit choice means enabled.
func (s Settings) Automation() bool {
	return s.AutomationEnabled == nil || *s.AutomationEnabled
}

// SetAutomation records an explicit automation choice.
func (s *Settings) SetAutomation(enabled bool) {
	s.AutomationEnabled = &enabled
}

// WorkflowToggles maps workflow names to their per-user enabled state.
type WorkflowToggles map[string]bool

// Enabled returns the toggle for a workflow. A workflow that was never
// toggled is enabled: absence is not disabled.
func (t WorkflowToggles) Enabled(name string) bool {
	v, ok := t[name]
	if !ok {
		return true
	}
	return v
}

// Merge applies explicit choices from other on top of t, allocating as needed.
func (t WorkflowToggles) Merge(other WorkflowToggles) WorkflowToggles {
	if t == nil {
		t = make(WorkflowToggles, len(other))
	}
	for name, enabled := range other {
		t[name] = enabled
	}
	return t
}
