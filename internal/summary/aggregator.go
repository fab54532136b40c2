// Package summary reduces a subject's full chat transcript into five
// categorized findings with supporting quotes.
package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/store"
	"github.com/BTreeMap/EvaluBot/internal/util"
)

const (
	// MaxTokens bounds the summary completion.
	MaxTokens = 1500
	// PlaceholderSummary stands in for a category the model left out.
	PlaceholderSummary = "No summary available"
	// PlaceholderQuotes is persisted when a category has no quotes.
	PlaceholderQuotes = "No quotes available"
)

var (
	// ErrNoMessages is returned when the subject has no recorded messages.
	ErrNoMessages = errors.New("no messages available for summarization")
	// ErrParseSummary is returned when the model's reply is not a JSON object.
	ErrParseSummary = errors.New("failed to parse summary response")
)

// CategorySummary is one category's finding.
type CategorySummary struct {
	Summary string   `json:"summary"`
	Quotes  []string `json:"quotes"`
}

// Set holds all five categories.
type Set map[models.SummaryCategory]CategorySummary

const promptTemplate = `The following is a conversation between a bot and a user. The bot asks targeted questions to gather feedback about a livestreamer.
The user's responses are feedback about the streamer's content, engagement, and overall performance. Summarize the feedback into five categories. For each category, include direct quotes from the user's responses to support the summary.

Messages:
%s

Do not include any surrounding code block markers in your response. Make each summary at least two sentences long so it is rich in information.
Respond with a valid JSON object in the following format:

{
  "why_viewers_watch": {"summary": "Summary of why viewers watch.", "quotes": ["Direct quote 1", "Direct quote 2"]},
  "how_to_improve": {"summary": "Summary of how the streamer can improve.", "quotes": ["Direct quote 1", "Direct quote 2"]},
  "content_production": {"summary": "Summary of feedback about content production.", "quotes": ["Direct quote 1", "Direct quote 2"]},
  "community_management": {"summary": "Summary of feedback about community management.", "quotes": ["Direct quote 1", "Direct quote 2"]},
  "marketing_strategy": {"summary": "Summary of feedback about marketing strategy.", "quotes": ["Direct quote 1", "Direct quote 2"]}
}`

// Aggregator generates and persists subject summaries.
type Aggregator struct {
	messages  store.MessageRepo
	summaries store.SummaryRepo
	client    genai.ClientInterface
	now       func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator reading messages from messages and
// upserting results into summaries.
func NewAggregator(messages store.MessageRepo, summaries store.SummaryRepo, client genai.ClientInterface, opts ...Option) *Aggregator {
	a := &Aggregator{messages: messages, summaries: summaries, client: client, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Generate summarizes every recorded message for subject, from any user,
// persists the result and returns it. Nothing is saved when the reply cannot
// be parsed.
func (a *Aggregator) Generate(ctx context.Context, subject string) (Set, error) {
	slog.Info("Aggregator.Generate: starting", "subject", subject)
	msgs, err := a.messages.GetMessages(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", subject, err)
	}
	if len(msgs) == 0 {
		slog.Info("Aggregator.Generate: no messages", "subject", subject)
		return nil, ErrNoMessages
	}

	prompt := fmt.Sprintf(promptTemplate, Transcript(msgs))
	raw, err := a.client.GeneratePromptWithContext(ctx, "", prompt, genai.MaxTokens(MaxTokens))
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary for %s: %w", subject, err)
	}

	set, err := Parse(raw)
	if err != nil {
		slog.Error("Aggregator.Generate: unparseable reply", "subject", subject, "error", err)
		return nil, err
	}

	if err := a.summaries.SaveSummary(ctx, set.ToSubjectSummary(subject, a.now())); err != nil {
		return nil, fmt.Errorf("failed to save summary for %s: %w", subject, err)
	}
	slog.Info("Aggregator.Generate: summaries saved", "subject", subject, "messages", len(msgs))
	return set, nil
}

// Load returns the stored summary for subject, or store.ErrSummaryNotFound.
func (a *Aggregator) Load(ctx context.Context, subject string) (Set, error) {
	stored, err := a.summaries.GetSummary(ctx, subject)
	if err != nil {
		return nil, err
	}
	return FromSubjectSummary(*stored), nil
}

// Transcript renders messages as role-prefixed lines.
func Transcript(msgs []models.ChatMessage) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}

// Parse reads a model reply into a complete Set. Code fences are stripped.
// The reply must be a JSON object; categories that are missing or malformed
// get placeholder values.
func Parse(raw string) (Set, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(util.StripCodeFence(raw)), &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseSummary, err)
	}

	set := make(Set, len(models.SummaryCategories))
	for _, c := range models.SummaryCategories {
		cs := parseCategory(c, fields[string(c)])
		if strings.TrimSpace(cs.Summary) == "" {
			cs.Summary = PlaceholderSummary
		}
		if cs.Quotes == nil {
			cs.Quotes = []string{}
		}
		set[c] = cs
	}
	return set, nil
}

// parseCategory decodes summary and quotes independently so one malformed
// field does not discard the other.
func parseCategory(c models.SummaryCategory, data json.RawMessage) CategorySummary {
	var cs CategorySummary
	if data == nil {
		return cs
	}
	var parts map[string]json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		slog.Warn("summary.Parse: malformed category", "category", c, "error", err)
		return cs
	}
	if v, ok := parts["summary"]; ok {
		if err := json.Unmarshal(v, &cs.Summary); err != nil {
			slog.Warn("summary.Parse: malformed summary", "category", c, "error", err)
		}
	}
	if v, ok := parts["quotes"]; ok {
		if err := json.Unmarshal(v, &cs.Quotes); err != nil {
			slog.Warn("summary.Parse: malformed quotes", "category", c, "error", err)
			cs.Quotes = nil
		}
	}
	return cs
}

// ToSubjectSummary converts to the persisted form with newline-joined quotes.
func (s Set) ToSubjectSummary(subject string, at time.Time) models.SubjectSummary {
	out := models.SubjectSummary{
		SubjectName: subject,
		Summaries:   make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
		Quotes:      make(map[models.SummaryCategory]string, len(models.SummaryCategories)),
		UpdatedAt:   at,
	}
	for _, c := range models.SummaryCategories {
		cs := s[c]
		out.Summaries[c] = cs.Summary
		if out.Summaries[c] == "" {
			out.Summaries[c] = PlaceholderSummary
		}
		out.Quotes[c] = strings.Join(cs.Quotes, "\n")
		if out.Quotes[c] == "" {
			out.Quotes[c] = PlaceholderQuotes
		}
	}
	return out
}

// FromSubjectSummary converts a persisted summary back into a Set.
func FromSubjectSummary(s models.SubjectSummary) Set {
	set := make(Set, len(models.SummaryCategories))
	for _, c := range models.SummaryCategories {
		cs := CategorySummary{Summary: s.Summaries[c], Quotes: []string{}}
		if cs.Summary == "" {
			cs.Summary = PlaceholderSummary
		}
		if q := s.Quotes[c]; q != "" && q != PlaceholderQuotes {
			cs.Quotes = strings.Split(q, "\n")
		}
		set[c] = cs
	}
	return set
}
