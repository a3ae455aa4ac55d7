// Package openai implements the ai.Provider interface on top of the OpenAI
// chat completions API.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/equa-app/truthkeeper/internal/ai"
)

var ErrNoChoices = errors.New("no choices returned")

// chatService is the minimal slice of the OpenAI client we call; tests swap
// in a mock.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type Client struct {
	chat chatService
}

// New creates a client. baseURL is optional and supports API-compatible
// gateways.
func New(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	cli := openai.NewClient(opts...)
	return &Client{chat: &cli.Chat.Completions}
}

func (c *Client) Complete(ctx context.Context, model string, prompt string) (string, error) {
	return c.Chat(ctx, model, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
}

func (c *Client) CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error) {
	return c.Chat(ctx, model, []ai.Message{
		{Role: ai.RoleSystem, Content: systemPrompt},
		{Role: ai.RoleUser, Content: prompt},
	})
}

func (c *Client) Chat(ctx context.Context, model string, messages []ai.Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    toParams(messages),
		Temperature: openai.Float(0.7),
		MaxTokens:   openai.Int(500),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func toParams(messages []ai.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case ai.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case ai.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
