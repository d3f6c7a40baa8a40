package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// ErrModelDisabled is returned by NewGenAIClient when no API key is set.
// The service then runs without a model and builds replies locally.
var ErrModelDisabled = errors.New("assistant: language model not configured")

// ModelMessage is one prior turn passed to the model.
type ModelMessage struct {
	Role    string
	Content string
}

// ModelRequest is a single completion request.
type ModelRequest struct {
	System   string
	Messages []ModelMessage
}

// ModelReply is the raw model output before validation.
type ModelReply struct {
	Text string
}

// ModelClient is the language model transport.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelReply, error)
}

// GenAIClient calls Gemini through the google.golang.org/genai SDK.
type GenAIClient struct {
	client      *genai.Client
	model       string
	temperature float32
}

// NewGenAIClient creates a Gemini API client for model.
func NewGenAIClient(ctx context.Context, apiKey, model string) (*GenAIClient, error) {
	if apiKey == "" {
		return nil, ErrModelDisabled
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIClient{client: client, model: model, temperature: 0.4}, nil
}

// Complete sends req and returns the first candidate's text. The model is
// asked for JSON output; validation happens in ParseReply.
func (c *GenAIClient) Complete(ctx context.Context, req ModelRequest) (*ModelReply, error) {
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genaiRole(m.Role)))
	}
	if len(contents) == 0 {
		return nil, errors.New("assistant: empty model request")
	}

	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr(c.temperature),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}
	return &ModelReply{Text: resp.Text()}, nil
}

func genaiRole(role string) genai.Role {
	if role == "assistant" {
		return genai.RoleModel
	}
	return genai.RoleUser
}
