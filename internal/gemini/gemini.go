// Package gemini is a capability provider backed by the Gemini API. Unlike the
// OpenAI-compatible provider it accepts PDF documents natively.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"

	"github.com/pavelanni/gradewise/internal/capability"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Client wraps a genai client.
type Client struct {
	client *genai.Client
	model  string
}

// Config holds the Gemini settings.
type Config struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint; empty uses the default.
	BaseURL string
}

// New creates a Gemini provider. An empty APIKey falls back to GEMINI_API_KEY.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      cfg.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Client{client: client, model: cfg.Model}, nil
}

// Name implements capability.Provider.
func (c *Client) Name() string { return "gemini" }

// Generate implements capability.Provider.
func (c *Client) Generate(ctx context.Context, call capability.Call) (string, error) {
	contents, config := buildRequest(call)
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil {
		return "", errors.New("gemini returned no response")
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("gemini returned no text content")
	}
	return text, nil
}

func buildRequest(call capability.Call) ([]*genai.Content, *genai.GenerateContentConfig) {
	parts := []*genai.Part{genai.NewPartFromText(call.User)}
	if call.Document != nil {
		parts = append(parts, genai.NewPartFromBytes(call.Document.Data, call.Document.MediaType))
	}
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(call.Temperature),
		ResponseMIMEType: "application/json",
	}
	if call.System != "" {
		config.SystemInstruction = genai.NewContentFromText(call.System, genai.RoleUser)
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config
}
