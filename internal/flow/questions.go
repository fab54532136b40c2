package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/models"
)

// Request limits for assisted phrasing.
const (
	assistedQuestionMaxTokens = 100
	assistedClarifyMaxTokens  = 100
	assistedTemperature       = 0.7
)

// QuestionGenerator produces the next question and clarifying follow-ups.
type QuestionGenerator interface {
	Question(ctx context.Context, subject string, pos Position) (string, error)
	Clarify(ctx context.Context, ft models.FeedbackType, response string) (string, error)
}

// PhraseBank picks questions from the domain's fixed phrasings.
type PhraseBank struct {
	domain *Domain
	intN   func(n int) int
}

// NewPhraseBank creates a phrase bank for the domain. A nil intN uses math/rand/v2.
func NewPhraseBank(d *Domain, intN func(n int) int) *PhraseBank {
	if intN == nil {
		intN = rand.IntN
	}
	return &PhraseBank{domain: d, intN: intN}
}

// Question returns a uniformly chosen phrasing for the position.
func (p *PhraseBank) Question(_ context.Context, subject string, pos Position) (string, error) {
	phrases := p.domain.Phrases[pos.FeedbackType]
	if len(phrases) == 0 {
		return "", fmt.Errorf("no phrases for feedback type %q", pos.FeedbackType)
	}
	return p.domain.Render(phrases[p.intN(len(phrases))], subject, pos), nil
}

// Clarify returns the fixed follow-up for the feedback type.
func (p *PhraseBank) Clarify(_ context.Context, ft models.FeedbackType, _ string) (string, error) {
	q, ok := p.domain.Clarify[ft]
	if !ok {
		return "", fmt.Errorf("no clarifying question for feedback type %q", ft)
	}
	return q, nil
}

// ErrEmptyPhrasing is returned when the text-completion capability answers
// with nothing usable.
var ErrEmptyPhrasing = errors.New("text-completion returned an empty phrasing")

// AssistedGenerator delegates phrasing to the text-completion capability.
// Its output is passed through unchecked. Capability failures are returned
// to the caller unless a fallback phrase bank was supplied.
type AssistedGenerator struct {
	domain   *Domain
	client   genai.ClientInterface
	fallback *PhraseBank
}

// NewAssistedGenerator creates an assisted generator. fallback may be nil.
func NewAssistedGenerator(d *Domain, client genai.ClientInterface, fallback *PhraseBank) *AssistedGenerator {
	return &AssistedGenerator{domain: d, client: client, fallback: fallback}
}

// Question asks the capability to rephrase the templated question.
func (g *AssistedGenerator) Question(ctx context.Context, subject string, pos Position) (string, error) {
	templated := g.domain.Render(g.domain.AssistedQuestion, subject, pos)
	prompt := fmt.Sprintf("Rephrase this question in a friendly and conversational tone: %q", templated)

	out, err := g.complete(ctx, prompt, assistedQuestionMaxTokens)
	if err == nil {
		return out, nil
	}
	if g.fallback == nil {
		return "", fmt.Errorf("assisted question for %s/%s: %w", pos.Category, pos.FeedbackType, err)
	}
	slog.Warn("AssistedGenerator.Question: falling back to phrase bank", "error", err, "category", pos.Category, "feedbackType", pos.FeedbackType)
	return g.fallback.Question(ctx, subject, pos)
}

// Clarify asks the capability for a follow-up seeded with the user's answer.
func (g *AssistedGenerator) Clarify(ctx context.Context, ft models.FeedbackType, response string) (string, error) {
	quality := "justifiable"
	if ft == models.FeedbackImprovements {
		quality = "actionable"
	}
	prompt := fmt.Sprintf("The user provided this feedback: %q. Generate a follow-up question that encourages the user to make the feedback more %s, in a friendly tone.", response, quality)

	out, err := g.complete(ctx, prompt, assistedClarifyMaxTokens)
	if err == nil {
		return out, nil
	}
	if g.fallback == nil {
		return "", fmt.Errorf("assisted clarify for %s: %w", ft, err)
	}
	slog.Warn("AssistedGenerator.Clarify: falling back to phrase bank", "error", err, "feedbackType", ft)
	return g.fallback.Clarify(ctx, ft, response)
}

func (g *AssistedGenerator) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	out, err := g.client.GeneratePromptWithContext(ctx, "", prompt,
		genai.MaxTokens(maxTokens), genai.Temperature(assistedTemperature))
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", ErrEmptyPhrasing
	}
	return out, nil
}
