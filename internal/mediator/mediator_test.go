package mediator

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/equa-app/truthkeeper/internal/ai"
	"github.com/equa-app/truthkeeper/internal/models"
)

type mockProvider struct {
	reply    string
	err      error
	messages []ai.Message
}

func (m *mockProvider) Complete(ctx context.Context, model, prompt string) (string, error) {
	return m.Chat(ctx, model, []ai.Message{{Role: ai.RoleUser, Content: prompt}})
}

func (m *mockProvider) CompleteWithSystem(ctx context.Context, model, system, prompt string) (string, error) {
	return m.Chat(ctx, model, []ai.Message{{Role: ai.RoleSystem, Content: system}, {Role: ai.RoleUser, Content: prompt}})
}

func (m *mockProvider) Chat(ctx context.Context, model string, messages []ai.Message) (string, error) {
	m.messages = messages
	if m.err != nil {
		return "", m.err
	}
	return m.reply, nil
}

func TestAnalyzeConflictParsesSuggestions(t *testing.T) {
	p := &mockProvider{reply: `I hear both of you.
1. Listen without interrupting
2. Name the feeling underneath
3. Ask what the other needs
4. This one is dropped
As a next step, try this exercise together tonight.`}
	med := New(p, "gpt-4o", zerolog.Nop())

	resp := med.AnalyzeConflict(context.Background(), "we argue about chores", "Alice", "Bob")

	require.Equal(t, models.PhaseTruth, resp.PillarFocus)
	require.Len(t, resp.Suggestions, 3, "suggestions are capped at three")
	require.Equal(t, "Listen without interrupting", resp.Suggestions[0])
	require.Contains(t, resp.NextStep, "try this")
}

func TestConversationHistoryAccumulates(t *testing.T) {
	p := &mockProvider{reply: "Thank you for sharing."}
	med := New(p, "gpt-4o", zerolog.Nop())

	med.AnalyzeConflict(context.Background(), "first", "Alice", "Bob")
	// system + user
	require.Len(t, p.messages, 2)
	require.Equal(t, ai.RoleSystem, p.messages[0].Role)

	med.ProcessTruthStatement(context.Background(), "I felt alone", "Alice", "Bob", nil)
	// system + user + assistant + user
	require.Len(t, p.messages, 4)
	require.Equal(t, ai.RoleAssistant, p.messages[2].Role)

	med.Reset()
	med.AnalyzeConflict(context.Background(), "fresh start", "Alice", "Bob")
	require.Len(t, p.messages, 2, "reset should drop accumulated turns")
}

func TestFallbackOnBackendFailure(t *testing.T) {
	p := &mockProvider{err: errors.New("backend down")}
	med := New(p, "gpt-4o", zerolog.Nop())
	ctx := context.Background()

	cases := []struct {
		name   string
		call   func() Response
		pillar models.Phase
	}{
		{"analyze", func() Response {
			return med.AnalyzeConflict(ctx, "desc", "Alice", "Bob")
		}, models.PhaseTruth},
		{"truth", func() Response {
			return med.ProcessTruthStatement(ctx, "stmt", "Alice", "Bob", []string{"earlier"})
		}, models.PhaseTruth},
		{"mediation", func() Response {
			return med.FacilitateMediation(ctx, []Attributed{{Speaker: "Alice", Text: "x"}}, "Alice", "Bob")
		}, models.PhaseMediation},
		{"reframe", func() Response {
			return med.SuggestReframe(ctx, "you never listen", "Alice", "argument")
		}, models.PhaseReframing},
		{"forgiveness", func() Response {
			return med.GuideForgiveness(ctx, "forgot anniversary", "Bob", "Alice")
		}, models.PhaseForgiveness},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := tc.call()
			require.Equal(t, FallbackContent, resp.Content)
			require.Equal(t, tc.pillar, resp.PillarFocus)
			require.Empty(t, resp.Suggestions)
		})
	}
}

func TestExtractNextStepVocabulary(t *testing.T) {
	require.Equal(t, "Moving forward, take turns", extractNextStep("Good work. Moving forward, take turns. Bye"))
	require.Equal(t, "I suggest a pause", extractNextStep("I suggest a pause. Then resume"))
	require.Empty(t, extractNextStep("Nothing actionable here"))
}

func TestExtractSuggestionsBullets(t *testing.T) {
	got := extractSuggestions("- first\n• second\n* third\nplain line")
	require.Equal(t, []string{"first", "second", "third"}, got)
}
