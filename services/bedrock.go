package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"workpilot/models"
	"workpilot/observability"
)

// BedrockAgentService is the AgentClient backend for AWS Bedrock Claude
// models. Per-user API key overrides do not apply here; the AWS credential
// chain authenticates the whole server.
type BedrockAgentService struct {
	client    *bedrockruntime.Client
	model     string
	maxTokens int
}

// claudeRequest is the request format for Claude models via Bedrock
type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// claudeResponse is the response from Claude models
type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// NewBedrockAgentService creates a new BedrockAgentService instance
func NewBedrockAgentService(ctx context.Context, region, modelID string, maxTokens int) (*BedrockAgentService, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &BedrockAgentService{
		client:    bedrockruntime.NewFromConfig(cfg),
		model:     modelID,
		maxTokens: maxTokens,
	}, nil
}

const bedrockSystemPrompt = "You are a diligent workplace assistant with access to the user's email, chat, and file context. Be concise and practical."

// Invoke sends one message to the model
func (s *BedrockAgentService) Invoke(ctx context.Context, _, message, conversationID string) (*models.AgentResponse, error) {
	metrics := observability.GetMetrics()
	timer := metrics.NewTimer()
	defer timer.ObserveAgent("bedrock")

	request := claudeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        s.maxTokens,
		System:           bedrockSystemPrompt,
		Messages: []claudeMessage{
			{Role: "user", Content: message},
		},
	}

	reqBody, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	text, err := WithCircuitBreaker(ctx, BreakerBedrock, func() (string, error) {
		output, err := s.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(s.model),
			Body:        reqBody,
			ContentType: aws.String("application/json"),
		})
		if err != nil {
			return "", &AgentError{Err: err}
		}

		var response claudeResponse
		if err := json.Unmarshal(output.Body, &response); err != nil {
			return "", &AgentError{Body: string(output.Body), Err: err}
		}
		if len(response.Content) == 0 {
			return "", &AgentError{Body: string(output.Body), Err: fmt.Errorf("empty response from model")}
		}
		return response.Content[0].Text, nil
	})
	if err != nil {
		metrics.RecordAgentError("bedrock", "request_failed")
		return nil, err
	}

	return &models.AgentResponse{Response: text, ConversationID: conversationID}, nil
}

// InvokeWithContext frames workspace context the same way the HTTP backend
// does, so workflows don't care which backend is configured.
func (s *BedrockAgentService) InvokeWithContext(ctx context.Context, apiKey, userMessage, workspaceContext, conversationID string) (*models.AgentResponse, error) {
	return s.Invoke(ctx, apiKey, composeContextMessage(userMessage, workspaceContext), conversationID)
}
