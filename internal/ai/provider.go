package ai

import "context"

// Role tags a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a role-tagged conversation.
type Message struct {
	Role    Role
	Content string
}

// Provider is the LLM backend contract. Chat carries the accumulated
// conversation; Complete is the one-shot convenience form.
type Provider interface {
	Complete(ctx context.Context, model string, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, model string, systemPrompt string, prompt string) (string, error)
	Chat(ctx context.Context, model string, messages []Message) (string, error)
}
