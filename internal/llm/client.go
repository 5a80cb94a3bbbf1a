// Package llm wraps the chat completion API used for planning and
// conversation, against any OpenAI-compatible endpoint.
package llm

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/citric-ai/citron/internal/memory"
)

// ModelInfo identifies one reachable model endpoint.
type ModelInfo struct {
	ModelName string `json:"model_name"`
	BaseURL   string `json:"api_url"`
	APIKey    string `json:"api_key"`
}

// Resolver maps a conversation's configured model (or the default) to
// a concrete endpoint.
type Resolver interface {
	Resolve(ctx context.Context, modelID *string) (*ModelInfo, error)
}

// TokenFunc receives each streamed token as it arrives.
type TokenFunc func(token string) error

// Client issues chat completions against one model endpoint.
type Client struct {
	api   *openai.Client
	model string
}

// NewClient builds a client for the given endpoint.
func NewClient(info *ModelInfo) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(info.APIKey),
	}
	if info.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(info.BaseURL))
	}
	api := openai.NewClient(opts...)
	return &Client{api: &api, model: info.ModelName}
}

// buildMessages converts conversation context into API message params.
// The system prompt, when present, leads.
func buildMessages(system string, msgs []memory.ContextMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, m := range msgs {
		switch m.Role {
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// Complete runs a non-streaming completion and returns the full text.
func (c *Client) Complete(ctx context.Context, system string, msgs []memory.ContextMessage) (string, error) {
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: buildMessages(system, msgs),
	})
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream runs a streaming completion, invoking onToken for every
// content delta, and returns the accumulated text.
func (c *Client) Stream(ctx context.Context, system string, msgs []memory.ContextMessage, onToken TokenFunc) (string, error) {
	stream := c.api.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: buildMessages(system, msgs),
	})
	defer stream.Close()

	var full string
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		token := chunk.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		full += token
		if onToken != nil {
			if err := onToken(token); err != nil {
				return full, err
			}
		}
	}
	if err := stream.Err(); err != nil {
		return full, fmt.Errorf("completion stream failed: %w", err)
	}
	return full, nil
}
