package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// MailService handles communication with the Gmail REST API. Every call
// carries the acting user's access token because the service is shared
// across tenants.
type MailService struct {
	httpClient *http.Client
	baseURL    string
}

// NewMailService creates a new MailService instance
func NewMailService() *MailService {
	return &MailService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://gmail.googleapis.com/gmail/v1",
	}
}

// messageListResponse is the Gmail messages.list response
type messageListResponse struct {
	Messages []struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
	} `json:"messages"`
}

// messageResponse is the Gmail messages.get response
type messageResponse struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId"`
	Snippet  string `json:"snippet"`
	Payload  struct {
		MimeType string `json:"mimeType"`
		Headers  []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		Body struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []struct {
			MimeType string `json:"mimeType"`
			Body     struct {
				Data string `json:"data"`
			} `json:"body"`
		} `json:"parts"`
	} `json:"payload"`
}

// FetchInbox returns the most recent inbox messages with decoded previews
func (s *MailService) FetchInbox(ctx context.Context, accessToken string, limit int) ([]models.EmailMessage, error) {
	if limit <= 0 {
		limit = 10
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("mail", "messages.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("mail", "messages.list")

	list, err := WithCircuitBreaker(ctx, BreakerMail, func() (*messageListResponse, error) {
		var out messageListResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			params := url.Values{}
			params.Set("maxResults", fmt.Sprintf("%d", limit))
			return s.getJSON(ctx, accessToken, "/users/me/messages?"+params.Encode(), &out)
		})
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("mail", "messages.list", "request_failed")
		return nil, models.NewCollaboratorError("mail", err)
	}

	emails := make([]models.EmailMessage, 0, len(list.Messages))
	for _, m := range list.Messages {
		var full messageResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.getJSON(ctx, accessToken, "/users/me/messages/"+m.ID+"?format=full", &full)
		})
		if err != nil {
			// One unreadable message should not sink the whole fetch.
			observability.Warn("skipping unreadable message", "id", m.ID, "error", err)
			continue
		}
		emails = append(emails, messageToEmail(&full))
	}

	return emails, nil
}

// draftResponse is the Gmail drafts.create response
type draftResponse struct {
	ID      string `json:"id"`
	Message struct {
		ID string `json:"id"`
	} `json:"message"`
}

// CreateDraft creates a Gmail draft. Replies should carry the thread id and
// the In-Reply-To / References headers of the message being answered.
func (s *MailService) CreateDraft(ctx context.Context, accessToken string, req models.DraftRequest) (*models.MailDraft, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("mail", "drafts.create")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("mail", "drafts.create")

	raw := buildRFC2822(req)
	payload := map[string]any{
		"message": map[string]any{
			"raw": base64.URLEncoding.EncodeToString(raw),
		},
	}
	if req.ThreadID != "" {
		payload["message"].(map[string]any)["threadId"] = req.ThreadID
	}

	draft, err := WithCircuitBreaker(ctx, BreakerMail, func() (*draftResponse, error) {
		var out draftResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.postJSON(ctx, accessToken, "/users/me/drafts", payload, &out)
		})
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("mail", "drafts.create", "request_failed")
		return nil, models.NewCollaboratorError("mail", err)
	}

	return &models.MailDraft{ID: draft.ID, MessageID: draft.Message.ID}, nil
}

func (s *MailService) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from Gmail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Gmail returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *MailService) postJSON(ctx context.Context, accessToken, path string, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post to Gmail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Gmail returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func messageToEmail(full *messageResponse) models.EmailMessage {
	headers := make(map[string]string, len(full.Payload.Headers))
	for _, h := range full.Payload.Headers {
		headers[h.Name] = h.Value
	}

	body := decodeBody(full)
	if body == "" {
		body = full.Snippet
	}
	snippet := full.Snippet
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if len(body) > 500 {
		body = body[:500]
	}

	subject := headers["Subject"]
	if subject == "" {
		subject = "(No subject)"
	}

	return models.EmailMessage{
		ID:          full.ID,
		ThreadID:    full.ThreadID,
		Subject:     subject,
		From:        headers["From"],
		To:          headers["To"],
		Date:        headers["Date"],
		MessageID:   headers["Message-ID"],
		References:  headers["References"],
		Snippet:     snippet,
		BodyPreview: body,
	}
}

// decodeBody extracts a plain-text body from a Gmail payload, preferring the
// top-level body and falling back to the first text/plain part.
func decodeBody(full *messageResponse) string {
	if body := decodeWebSafe(full.Payload.Body.Data); body != "" {
		return body
	}
	for _, part := range full.Payload.Parts {
		if part.MimeType == "text/plain" {
			if body := decodeWebSafe(part.Body.Data); body != "" {
				return body
			}
		}
	}
	return ""
}

// decodeWebSafe handles Gmail's base64url bodies, padded or not
func decodeWebSafe(data string) string {
	if data == "" {
		return ""
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// buildRFC2822 assembles a minimal RFC 2822 message for the Gmail raw field
func buildRFC2822(req models.DraftRequest) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", req.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", req.Subject)
	if req.InReplyTo != "" {
		fmt.Fprintf(&buf, "In-Reply-To: %s\r\n", req.InReplyTo)
	}
	if req.References != "" {
		fmt.Fprintf(&buf, "References: %s\r\n", req.References)
	}
	buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(req.Body)
	return buf.Bytes()
}

var addressPattern = regexp.MustCompile(`<([^>]+)>`)

// ExtractAddress pulls the bare address out of a 'Name <addr>' header value
func ExtractAddress(headerValue string) string {
	if m := addressPattern.FindStringSubmatch(headerValue); m != nil {
		return m[1]
	}
	return headerValue
}
