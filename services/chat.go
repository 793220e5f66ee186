package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"workpilot/models"
	"workpilot/observability"
)

// ChatService handles communication with the Google Chat REST API
type ChatService struct {
	httpClient *http.Client
	baseURL    string
}

// NewChatService creates a new ChatService instance
func NewChatService() *ChatService {
	return &ChatService{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://chat.googleapis.com/v1",
	}
}

// spaceListResponse is the Chat spaces.list response
type spaceListResponse struct {
	Spaces []struct {
		Name        string `json:"name"`
		DisplayName string `json:"displayName"`
		SpaceType   string `json:"spaceType"`
	} `json:"spaces"`
	NextPageToken string `json:"nextPageToken"`
}

// ListSpaces returns every space the user is a member of, following
// pagination to the end.
func (s *ChatService) ListSpaces(ctx context.Context, accessToken string) ([]models.ChatSpace, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("chat", "spaces.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("chat", "spaces.list")

	spaces, err := WithCircuitBreaker(ctx, BreakerChat, func() ([]models.ChatSpace, error) {
		var all []models.ChatSpace
		pageToken := ""
		for {
			params := url.Values{}
			params.Set("pageSize", "100")
			if pageToken != "" {
				params.Set("pageToken", pageToken)
			}

			var page spaceListResponse
			err := WithRetry(ctx, DefaultRetryConfig, func() error {
				return s.getJSON(ctx, accessToken, "/spaces?"+params.Encode(), &page)
			})
			if err != nil {
				return nil, err
			}
			for _, sp := range page.Spaces {
				all = append(all, models.ChatSpace{
					Name:        sp.Name,
					DisplayName: sp.DisplayName,
					Type:        sp.SpaceType,
				})
			}
			if page.NextPageToken == "" {
				return all, nil
			}
			pageToken = page.NextPageToken
		}
	})
	if err != nil {
		metrics.RecordExternalAPIError("chat", "spaces.list", "request_failed")
		return nil, models.NewCollaboratorError("chat", err)
	}

	return spaces, nil
}

// messageListChatResponse is the Chat spaces.messages.list response
type messageListChatResponse struct {
	Messages []struct {
		Name    string `json:"name"`
		Text    string `json:"text"`
		Creator struct {
			DisplayName string `json:"displayName"`
		} `json:"sender"`
		CreateTime string `json:"createTime"`
		Thread     struct {
			Name string `json:"name"`
		} `json:"thread"`
	} `json:"messages"`
}

// ListMessages returns recent messages in a space. Each message carries a
// reply parent (the thread when present, otherwise the space) so replies
// land in the right place.
func (s *ChatService) ListMessages(ctx context.Context, accessToken, spaceName string, limit int) ([]models.ChatMessage, error) {
	if limit <= 0 {
		limit = 20
	}

	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("chat", "messages.list")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("chat", "messages.list")

	messages, err := WithCircuitBreaker(ctx, BreakerChat, func() ([]models.ChatMessage, error) {
		params := url.Values{}
		params.Set("pageSize", fmt.Sprintf("%d", limit))

		var page messageListChatResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			return s.getJSON(ctx, accessToken, "/"+spaceName+"/messages?"+params.Encode(), &page)
		})
		if err != nil {
			return nil, err
		}

		out := make([]models.ChatMessage, 0, len(page.Messages))
		for _, m := range page.Messages {
			replyParent := m.Thread.Name
			if replyParent == "" {
				replyParent = spaceName
			}
			out = append(out, models.ChatMessage{
				Name:        m.Name,
				Text:        m.Text,
				Creator:     m.Creator.DisplayName,
				CreateTime:  m.CreateTime,
				ThreadName:  m.Thread.Name,
				ReplyParent: replyParent,
			})
		}
		return out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("chat", "messages.list", "request_failed")
		return nil, models.NewCollaboratorError("chat", err)
	}

	return messages, nil
}

// postMessageResponse is the Chat spaces.messages.create response
type postMessageResponse struct {
	Name string `json:"name"`
}

// PostMessage posts a text message under the given parent, either a space
// (spaces/xxx) or a thread (spaces/xxx/threads/yyy) for replies.
func (s *ChatService) PostMessage(ctx context.Context, accessToken, parent, text string) (*models.ChatReply, error) {
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest("chat", "messages.create")
	timer := metrics.NewTimer()
	defer timer.ObserveExternalAPI("chat", "messages.create")

	// Thread parents carry a messageReplyOption so the reply threads
	// instead of opening a new conversation.
	space, thread := splitThreadParent(parent)
	path := "/" + space + "/messages"
	payload := map[string]any{"text": text}
	if thread != "" {
		path += "?messageReplyOption=REPLY_MESSAGE_FALLBACK_TO_NEW_THREAD"
		payload["thread"] = map[string]string{"name": thread}
	}

	posted, err := WithCircuitBreaker(ctx, BreakerChat, func() (*postMessageResponse, error) {
		var out postMessageResponse
		err := WithRetry(ctx, DefaultRetryConfig, func() error {
			encoded, err := json.Marshal(payload)
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
				return fmt.Errorf("failed to post to Chat: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("Chat returned status %d", resp.StatusCode)
			}
			return json.NewDecoder(resp.Body).Decode(&out)
		})
		if err != nil {
			return nil, err
		}
		return &out, nil
	})
	if err != nil {
		metrics.RecordExternalAPIError("chat", "messages.create", "request_failed")
		return nil, models.NewCollaboratorError("chat", err)
	}

	return &models.ChatReply{Name: posted.Name, Parent: parent, Text: text}, nil
}

func (s *ChatService) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch from Chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Chat returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// splitThreadParent separates "spaces/x/threads/y" into the space and the
// thread; a bare space comes back with an empty thread.
func splitThreadParent(parent string) (space, thread string) {
	if i := strings.Index(parent, "/threads/"); i >= 0 {
		return parent[:i], parent
	}
	return parent, ""
}
