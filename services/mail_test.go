package services

import (
	"encoding/base64"
	"strings"
	"testing"

	"workpilot/models"
)

func TestExtractAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Alice Smith <alice@example.com>", "alice@example.com"},
		{"alice@example.com", "alice@example.com"},
		{"<bob@example.com>", "bob@example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ExtractAddress(tc.in); got != tc.want {
			t.Errorf("ExtractAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestBuildRFC2822(t *testing.T) {
	raw := string(buildRFC2822(models.DraftRequest{
		To:         "alice@example.com",
		Subject:    "Re: quarterly numbers",
		Body:       "Looks good to me.",
		InReplyTo:  "<msg-1@example.com>",
		References: "<msg-0@example.com> <msg-1@example.com>",
	}))

	for _, want := range []string{
		"To: alice@example.com\r\n",
		"Subject: Re: quarterly numbers\r\n",
		"In-Reply-To: <msg-1@example.com>\r\n",
		"References: <msg-0@example.com> <msg-1@example.com>\r\n",
		"\r\n\r\nLooks good to me.",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing %q:\n%s", want, raw)
		}
	}
}

func TestDecodeBodyPrefersPlainText(t *testing.T) {
	full := &messageResponse{}
	full.Payload.Parts = []struct {
		MimeType string `json:"mimeType"`
		Body     struct {
			Data string `json:"data"`
		} `json:"body"`
	}{
		{MimeType: "text/html"},
		{MimeType: "text/plain"},
	}
	full.Payload.Parts[0].Body.Data = base64.RawURLEncoding.EncodeToString([]byte("<b>html</b>"))
	full.Payload.Parts[1].Body.Data = base64.RawURLEncoding.EncodeToString([]byte("plain text"))

	if got := decodeBody(full); got != "plain text" {
		t.Errorf("decodeBody() = %q, want plain text", got)
	}
}

func TestDecodeWebSafePaddedAndUnpadded(t *testing.T) {
	plain := "hello, world!"
	if got := decodeWebSafe(base64.RawURLEncoding.EncodeToString([]byte(plain))); got != plain {
		t.Errorf("unpadded decode = %q, want %q", got, plain)
	}
	if got := decodeWebSafe(base64.URLEncoding.EncodeToString([]byte(plain))); got != plain {
		t.Errorf("padded decode = %q, want %q", got, plain)
	}
}
