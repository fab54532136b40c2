package flow

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

// MinResponseLength is the shortest normalized answer that can count as specific.
const MinResponseLength = 5

// Default keyword tables.
var (
	DefaultNegativeKeywords     = []string{"bad", "terrible", "awful", "horrible", "disappointing", "useless"}
	DefaultVagueKeywords        = []string{"okay", "fine", "good", "bad", "meh", "average"}
	DefaultJustificationMarkers = []string{"because", "due to", "as a result"}
	DefaultActionabilityMarkers = []string{"should", "could", "need to", "try to"}
)

// SeenResponses records the normalized answers already judged in a conversation.
type SeenResponses []string

// Contains reports whether the normalized response was seen before.
func (s SeenResponses) Contains(normalized string) bool {
	return slices.Contains(s, normalized)
}

// Add records a normalized response.
func (s *SeenResponses) Add(normalized string) {
	*s = append(*s, normalized)
}

// Classification is the result of judging one answer.
type Classification struct {
	Negative     bool
	Unhelpful    bool
	Constructive bool
}

// Classifier applies keyword heuristics to free-text answers.
type Classifier struct {
	Negative      []string
	Vague         []string
	Justification []string
	Actionability []string
	MinLength     int
}

// NewClassifier returns a classifier with the default keyword tables.
func NewClassifier() *Classifier {
	return &Classifier{
		Negative:      DefaultNegativeKeywords,
		Vague:         DefaultVagueKeywords,
		Justification: DefaultJustificationMarkers,
		Actionability: DefaultActionabilityMarkers,
		MinLength:     MinResponseLength,
	}
}

// Normalize lowercases and trims an answer before comparison.
func Normalize(response string) string {
	return strings.ToLower(strings.TrimSpace(response))
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// IsNegative reports whether the answer contains a negative keyword.
func (c *Classifier) IsNegative(response string) bool {
	return containsAny(Normalize(response), c.Negative)
}

// IsUnhelpful reports whether the answer contains a vague keyword.
func (c *Classifier) IsUnhelpful(response string) bool {
	return containsAny(Normalize(response), c.Vague)
}

// IsConstructive reports whether the answer is specific, new and either
// justified (strengths) or actionable (improvements). Every evaluated answer
// is added to seen, whether or not it passes.
func (c *Classifier) IsConstructive(response string, ft models.FeedbackType, seen *SeenResponses) bool {
	normalized := Normalize(response)
	specific := utf8.RuneCountInString(normalized) >= c.MinLength

	repeated := seen.Contains(normalized)
	seen.Add(normalized)

	var qualified bool
	switch ft {
	case models.FeedbackStrengths:
		qualified = containsAny(normalized, c.Justification)
	case models.FeedbackImprovements:
		qualified = containsAny(normalized, c.Actionability)
	}
	return specific && !repeated && qualified
}

// Classify runs the checks in the order the dialogue applies them. The
// constructiveness check only runs, and only touches seen, when the answer
// is neither negative nor unhelpful.
func (c *Classifier) Classify(response string, ft models.FeedbackType, seen *SeenResponses) Classification {
	if c.IsNegative(response) {
		return Classification{Negative: true}
	}
	if c.IsUnhelpful(response) {
		return Classification{Unhelpful: true}
	}
	return Classification{Constructive: c.IsConstructive(response, ft, seen)}
}
