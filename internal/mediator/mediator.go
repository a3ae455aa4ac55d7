// Package mediator wraps the LLM backend in the five mediation operations.
// Every operation degrades to a fixed, in-character fallback when the
// backend fails; callers never see an error.
package mediator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/equa-app/truthkeeper/internal/ai"
	"github.com/equa-app/truthkeeper/internal/models"
)

// SystemPrompt frames the model as the EQuA mediator working through the six
// pillars.
const SystemPrompt = `You are EQuA, an AI mediator specializing in relationship conflict resolution. You guide couples and friends through six evidence-based pillars to move from contested stories to co-created reality: Truth, Mediation, Persuasion, Reframing, Qualia, Forgiveness.

Principles: separate people from the problem; focus on interests, not positions; validate both perspectives without taking sides; encourage "I" statements and perspective-taking.

Style: calm, empathetic, non-judgmental. Keep responses concise but thoughtful (2-4 sentences), acknowledge both partners' feelings, and suggest specific next steps.`

// FallbackContent is returned whenever the backend call fails.
const FallbackContent = "I'm experiencing some technical difficulties, but I'm here to help. Let's continue working through this together. What would you like to focus on next?"

// emptyContent covers the rare empty completion.
const emptyContent = "I apologize, but I need a moment to process that. Could you please rephrase your concern?"

// Response is the parsed result of one mediation call.
type Response struct {
	Content     string       `json:"content"`
	Suggestions []string     `json:"suggestions,omitempty"`
	NextStep    string       `json:"nextStep,omitempty"`
	PillarFocus models.Phase `json:"pillarFocus"`
}

// Attributed pairs a statement with its speaker for mediation context.
type Attributed struct {
	Speaker string
	Text    string
}

// Mediator holds the accumulated conversation and the backend provider.
// Safe for concurrent use, though calls serialize on the history.
type Mediator struct {
	mu       sync.Mutex
	provider ai.Provider
	model    string
	history  []ai.Message
	log      zerolog.Logger
}

func New(provider ai.Provider, model string, log zerolog.Logger) *Mediator {
	return &Mediator{
		provider: provider,
		model:    model,
		history:  []ai.Message{{Role: ai.RoleSystem, Content: SystemPrompt}},
		log:      log,
	}
}

// AnalyzeConflict asks for a first read of the described conflict.
func (m *Mediator) AnalyzeConflict(ctx context.Context, description, nameA, nameB string) Response {
	prompt := fmt.Sprintf(`Partners %s and %s have described their conflict:

"%s"

Please provide:
1. A brief analysis of the underlying issues
2. What pillar should we focus on first
3. A suggestion for the next step

Keep your response empathetic and solution-focused.`, nameA, nameB, description)

	return m.respond(ctx, prompt, models.PhaseTruth)
}

// ProcessTruthStatement reflects on a freshly shared statement.
func (m *Mediator) ProcessTruthStatement(ctx context.Context, statement, speakerName, partnerName string, previous []string) Response {
	prior := "This is the first truth statement."
	if len(previous) > 0 {
		prior = "Previous statements: " + strings.Join(previous, "; ")
	}
	prompt := fmt.Sprintf(`%s has shared: "%s"
%s

Please:
1. Acknowledge what %s has shared
2. Identify any emotional undertones
3. Suggest how %s might respond constructively
4. Note if this reveals underlying needs or interests

Focus on building understanding between the partners.`, speakerName, statement, prior, speakerName, partnerName)

	return m.respond(ctx, prompt, models.PhaseTruth)
}

// FacilitateMediation works the accumulated statements toward common ground.
func (m *Mediator) FacilitateMediation(ctx context.Context, statements []Attributed, nameA, nameB string) Response {
	lines := make([]string, 0, len(statements))
	for _, s := range statements {
		lines = append(lines, fmt.Sprintf("%s: \"%s\"", s.Speaker, s.Text))
	}
	prompt := fmt.Sprintf(`Based on these truth statements:
%s

Please facilitate the mediation by:
1. Identifying common ground between %s and %s
2. Highlighting underlying needs and interests
3. Suggesting areas for compromise or collaboration
4. Proposing specific discussion questions

Guide them toward mutual understanding and potential solutions.`, strings.Join(lines, "\n"), nameA, nameB)

	return m.respond(ctx, prompt, models.PhaseMediation)
}

// SuggestReframe proposes gentler phrasings of a charged statement.
func (m *Mediator) SuggestReframe(ctx context.Context, statement, speakerName, situation string) Response {
	prompt := fmt.Sprintf(`%s said: "%s"
Context: %s

Please suggest 2-3 alternative ways to express this that:
1. Focus on feelings and needs rather than blame
2. Use "I" statements
3. Open dialogue rather than shut it down
4. Show vulnerability and authenticity

Help them communicate more effectively.`, speakerName, statement, situation)

	return m.respond(ctx, prompt, models.PhaseReframing)
}

// GuideForgiveness walks the pair through the REACH forgiveness model.
func (m *Mediator) GuideForgiveness(ctx context.Context, offense, offenderName, victimName string) Response {
	prompt := fmt.Sprintf(`%s feels hurt by: "%s"

Using the REACH model (Recall, Empathize, Altruistic gift, Commit, Hold), please:
1. Help %s process their feelings
2. Guide %s toward genuine accountability
3. Suggest steps for rebuilding trust
4. Focus on healing and moving forward together

Be gentle but honest about the work required for reconciliation.`, victimName, offense, victimName, offenderName)

	return m.respond(ctx, prompt, models.PhaseForgiveness)
}

// Reset clears the conversation back to the system prompt.
func (m *Mediator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = []ai.Message{{Role: ai.RoleSystem, Content: SystemPrompt}}
}

func (m *Mediator) respond(ctx context.Context, prompt string, pillar models.Phase) Response {
	m.mu.Lock()
	m.history = append(m.history, ai.Message{Role: ai.RoleUser, Content: prompt})
	messages := make([]ai.Message, len(m.history))
	copy(messages, m.history)
	m.mu.Unlock()

	content, err := m.provider.Chat(ctx, m.model, messages)
	if err != nil {
		m.log.Warn().Err(err).Str("pillar", string(pillar)).Msg("mediation call failed, using fallback")
		return Response{Content: FallbackContent, PillarFocus: pillar}
	}
	if content == "" {
		content = emptyContent
	}

	m.mu.Lock()
	m.history = append(m.history, ai.Message{Role: ai.RoleAssistant, Content: content})
	m.mu.Unlock()

	return Response{
		Content:     content,
		Suggestions: extractSuggestions(content),
		NextStep:    extractNextStep(content),
		PillarFocus: pillar,
	}
}

var listItem = regexp.MustCompile(`^(\d+\.|[-•*])\s*`)

// extractSuggestions pulls up to three numbered or bulleted lines out of the
// response.
func extractSuggestions(content string) []string {
	var suggestions []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if listItem.MatchString(line) {
			suggestions = append(suggestions, strings.TrimSpace(listItem.ReplaceAllString(line, "")))
		}
	}
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

// nextStepPhrases is the fixed transition vocabulary scanned for in replies.
var nextStepPhrases = []string{
	"next step",
	"moving forward",
	"i suggest",
	"try this",
	"consider",
}

func extractNextStep(content string) string {
	for _, sentence := range strings.Split(content, ".") {
		lower := strings.ToLower(sentence)
		for _, phrase := range nextStepPhrases {
			if strings.Contains(lower, phrase) {
				return strings.TrimSpace(sentence)
			}
		}
	}
	return ""
}
