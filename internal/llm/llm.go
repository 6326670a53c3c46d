package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/pavelanni/gradewise/internal/capability"
	"github.com/pavelanni/gradewise/internal/document"
)

// ErrUnsupportedMedia is returned for documents the chat API cannot take as an image part.
var ErrUnsupportedMedia = errors.New("openai-compatible provider accepts image documents only")

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Name implements capability.Provider.
func (c *Client) Name() string { return "openai" }

// Ping checks that the endpoint answers.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// Generate implements capability.Provider. The answer is requested as a JSON object.
func (c *Client) Generate(ctx context.Context, call capability.Call) (string, error) {
	user, err := userMessage(call)
	if err != nil {
		return "", err
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: call.System},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: call.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("LLM returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func userMessage(call capability.Call) (openai.ChatCompletionMessage, error) {
	if call.Document == nil {
		return openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: call.User}, nil
	}
	if !strings.HasPrefix(call.Document.MediaType, "image/") {
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: got %s", ErrUnsupportedMedia, call.Document.MediaType)
	}
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: call.User},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    document.DataURI(*call.Document),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		},
	}, nil
}
