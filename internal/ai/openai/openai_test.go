package openai

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	"github.com/equa-app/truthkeeper/internal/ai"
)

type mockChat struct {
	resp *openai.ChatCompletion
	err  error
	body openai.ChatCompletionNewParams
}

func (m *mockChat) New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.body = body
	return m.resp, m.err
}

func completion(content string) *openai.ChatCompletion {
	return &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}
}

func TestChatTrimsAndReturnsContent(t *testing.T) {
	mock := &mockChat{resp: completion("  a calm answer \n")}
	c := &Client{chat: mock}

	got, err := c.Chat(context.Background(), "gpt-4o", []ai.Message{
		{Role: ai.RoleSystem, Content: "be calm"},
		{Role: ai.RoleUser, Content: "help"},
	})
	require.NoError(t, err)
	require.Equal(t, "a calm answer", got)
	require.Equal(t, openai.ChatModel("gpt-4o"), mock.body.Model)
	require.Len(t, mock.body.Messages, 2)
}

func TestChatNoChoices(t *testing.T) {
	mock := &mockChat{resp: &openai.ChatCompletion{}}
	c := &Client{chat: mock}

	_, err := c.Chat(context.Background(), "gpt-4o", []ai.Message{{Role: ai.RoleUser, Content: "hi"}})
	require.ErrorIs(t, err, ErrNoChoices)
}

func TestChatPropagatesBackendError(t *testing.T) {
	mock := &mockChat{err: errors.New("rate limited")}
	c := &Client{chat: mock}

	_, err := c.Complete(context.Background(), "gpt-4o", "hi")
	require.Error(t, err)
}

func TestCompleteWithSystemBuildsBothRoles(t *testing.T) {
	mock := &mockChat{resp: completion("ok")}
	c := &Client{chat: mock}

	_, err := c.CompleteWithSystem(context.Background(), "gpt-4o", "sys", "usr")
	require.NoError(t, err)
	require.Len(t, mock.body.Messages, 2)
}
