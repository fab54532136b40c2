package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/util"
)

const judgeMaxTokens = 200

// Verdict labels the capability may return.
const (
	VerdictConstructive = "constructive"
	VerdictNeedsWork    = "needs_work"
)

// Judgment is the hybrid-mode decision on one answer. Suggestion is the text
// to show the user when the answer does not pass.
type Judgment struct {
	Constructive bool
	Suggestion   string
}

// Judge decides whether an answer is constructive.
type Judge interface {
	Judge(ctx context.Context, response string, ft models.FeedbackType) (Judgment, error)
}

// AssistedJudge asks the text-completion capability for a verdict.
type AssistedJudge struct {
	client genai.ClientInterface
}

// NewAssistedJudge creates a judge backed by the capability.
func NewAssistedJudge(client genai.ClientInterface) *AssistedJudge {
	return &AssistedJudge{client: client}
}

// Judge sends the assessment prompt and parses the reply.
func (j *AssistedJudge) Judge(ctx context.Context, response string, ft models.FeedbackType) (Judgment, error) {
	quality := "justifiable (it explains why this is a strength)"
	if ft == models.FeedbackImprovements {
		quality = "actionable (it suggests how to improve)"
	}
	prompt := fmt.Sprintf(`Assess if the following feedback is constructive. Feedback: %q.
Constructive feedback is specific, %s, and not a repeat of earlier feedback.
Reply with JSON only, in the form {"verdict": "constructive" | "needs_work", "suggestion": "<a friendly request for what to add>"}.
Leave "suggestion" empty when the verdict is "constructive".`, response, quality)

	out, err := j.client.GeneratePromptWithContext(ctx, "", prompt, genai.MaxTokens(judgeMaxTokens))
	if err != nil {
		return Judgment{}, fmt.Errorf("assess response: %w", err)
	}
	return ParseJudgment(out), nil
}

type judgmentReply struct {
	Verdict    string `json:"verdict"`
	Suggestion string `json:"suggestion"`
}

// ParseJudgment reads a capability reply. A JSON reply must carry one of the
// closed verdict labels; an unknown label does not pass. A non-JSON reply
// passes when it contains "constructive" (case-insensitive) and otherwise is
// returned verbatim as the suggestion.
func ParseJudgment(raw string) Judgment {
	text := util.StripCodeFence(raw)

	var reply judgmentReply
	if err := json.Unmarshal([]byte(text), &reply); err == nil && reply.Verdict != "" {
		switch strings.ToLower(strings.TrimSpace(reply.Verdict)) {
		case VerdictConstructive:
			return Judgment{Constructive: true}
		default:
			return Judgment{Suggestion: strings.TrimSpace(reply.Suggestion)}
		}
	}

	if strings.Contains(strings.ToLower(text), VerdictConstructive) {
		return Judgment{Constructive: true}
	}
	return Judgment{Suggestion: strings.TrimSpace(raw)}
}
