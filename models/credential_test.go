package models

import (
	"testing"
	"time"
)

func TestWorkflowTogglesEnabled(t *testing.T) {
	toggles := WorkflowToggles{
		"smart_inbox":     false,
		"chat_auto_reply": true,
	}

	if toggles.Enabled("smart_inbox") {
		t.Error("explicitly disabled workflow should be disabled")
	}
	if !toggles.Enabled("chat_auto_reply") {
		t.Error("explicitly enabled workflow should be enabled")
	}
	if !toggles.Enabled("document_intelligence") {
		t.Error("absent workflow should default to enabled")
	}

	var nilToggles WorkflowToggles
	if !nilToggles.Enabled("smart_inbox") {
		t.Error("nil toggle set should default every workflow to enabled")
	}
}

func TestWorkflowTogglesMerge(t *testing.T) {
	base := WorkflowToggles{"smart_inbox": false}
	merged := base.Merge(WorkflowToggles{"smart_inbox": true, "first_email_draft": false})

	if !merged.Enabled("smart_inbox") {
		t.Error("merge should apply the newer explicit choice")
	}
	if merged.Enabled("first_email_draft") {
		t.Error("merge should carry new explicit disables")
	}

	var nilBase WorkflowToggles
	merged = nilBase.Merge(WorkflowToggles{"chat_auto_reply": false})
	if merged.Enabled("chat_auto_reply") {
		t.Error("merge into nil set should allocate and keep choices")
	}
}

func TestSettingsAutomationDefault(t *testing.T) {
	var s Settings
	if !s.Automation() {
		t.Error("automation should default to enabled")
	}

	s.SetAutomation(false)
	if s.Automation() {
		t.Error("explicit disable should stick")
	}

	s.SetAutomation(true)
	if !s.Automation() {
		t.Error("explicit enable should stick")
	}
}

func TestCredentialExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	skew := time.Minute

	cases := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"zero expiry", time.Time{}, true},
		{"past expiry", now.Add(-time.Hour), true},
		{"within skew", now.Add(30 * time.Second), true},
		{"at skew boundary", now.Add(skew), true},
		{"comfortably valid", now.Add(time.Hour), false},
	}

	for _, tc := range cases {
		cred := &UserCredential{Expiry: tc.expiry}
		if got := cred.Expired(now, skew); got != tc.want {
			t.Errorf("%s: Expired() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
