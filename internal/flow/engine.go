package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/genai"
	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/openai/openai-go"
)

// Commands recognized case-insensitively in any stage.
const (
	CommandEnd     = "end"
	CommandConfirm = "ok"
)

const adaptiveMaxTokens = 200

// TurnResult is the outcome of one inbound message.
type TurnResult struct {
	Reply   string
	Mode    models.Mode
	Stage   Stage
	Subject string
}

// Engine runs the feedback dialogue of one domain. Turns for the same user
// are serialized; turns for different users run in parallel.
type Engine struct {
	domain     *Domain
	store      StateStore
	classifier *Classifier
	phrases    *PhraseBank
	assisted   QuestionGenerator
	judge      Judge
	client     genai.ClientInterface
	assigner   ModeAssigner
	fallback   bool
	locks      *keyedMutex
	now        func() time.Time
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGenAI enables adaptive and hybrid modes.
func WithGenAI(client genai.ClientInterface) EngineOption {
	return func(e *Engine) { e.client = client }
}

// WithModeAssigner sets the policy that picks a new conversation's mode.
func WithModeAssigner(a ModeAssigner) EngineOption {
	return func(e *Engine) { e.assigner = a }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithPhraseBank overrides the manual-mode phrase bank.
func WithPhraseBank(pb *PhraseBank) EngineOption {
	return func(e *Engine) { e.phrases = pb }
}

// WithPhraseFallback lets the default assisted generator answer from the
// phrase bank when the text-completion capability fails. Off by default.
func WithPhraseFallback() EngineOption {
	return func(e *Engine) { e.fallback = true }
}

// WithQuestionGenerator overrides the assisted question generator.
func WithQuestionGenerator(g QuestionGenerator) EngineOption {
	return func(e *Engine) { e.assisted = g }
}

// WithJudge overrides the hybrid-mode judge.
func WithJudge(j Judge) EngineOption {
	return func(e *Engine) { e.judge = j }
}

// WithClassifier overrides the manual-mode classifier.
func WithClassifier(c *Classifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// NewEngine creates an engine for the domain backed by store.
func NewEngine(d *Domain, store StateStore, opts ...EngineOption) *Engine {
	e := &Engine{
		domain:     d,
		store:      store,
		classifier: NewClassifier(),
		assigner:   FixedMode(d.Modes[0]),
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.phrases == nil {
		e.phrases = NewPhraseBank(d, nil)
	}
	if e.client != nil {
		if e.assisted == nil {
			var fallback *PhraseBank
			if e.fallback {
				fallback = e.phrases
			}
			e.assisted = NewAssistedGenerator(d, e.client, fallback)
		}
		if e.judge == nil {
			e.judge = NewAssistedJudge(e.client)
		}
	}
	slog.Debug("Engine created", "domain", d.Name, "genai", e.client != nil)
	return e
}

// Domain returns the engine's domain tables.
func (e *Engine) Domain() *Domain {
	return e.domain
}

// ActiveConversations returns the number of stored conversation states.
func (e *Engine) ActiveConversations(ctx context.Context) (int, error) {
	return e.store.Count(ctx)
}

// ConversationKey scopes a user's state to this engine's domain.
func (e *Engine) ConversationKey(userID string) string {
	return e.domain.Name + ":" + userID
}

// HandleMessage processes one inbound message and returns the reply text.
func (e *Engine) HandleMessage(ctx context.Context, userID, message, subject string) (string, error) {
	res, err := e.Turn(ctx, userID, message, subject)
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

// Turn processes one inbound message. subject is only used when the
// message starts a new conversation.
func (e *Engine) Turn(ctx context.Context, userID, message, subject string) (TurnResult, error) {
	if strings.TrimSpace(userID) == "" {
		return TurnResult{}, models.ErrEmptyUserID
	}
	key := e.ConversationKey(userID)
	unlock := e.locks.Lock(key)
	defer unlock()

	st, err := e.store.Get(ctx, key)
	if err != nil {
		return TurnResult{}, fmt.Errorf("failed to load conversation state: %w", err)
	}

	if st == nil {
		st = e.newConversation(key, userID, subject)
		if err := e.store.Put(ctx, st); err != nil {
			return TurnResult{}, fmt.Errorf("failed to save conversation state: %w", err)
		}
		slog.Info("Engine.Turn: conversation started", "key", key, "mode", st.Mode, "subject", st.SubjectName)
		return TurnResult{Reply: st.History[len(st.History)-1].Content, Mode: st.Mode, Stage: st.Stage, Subject: st.SubjectName}, nil
	}

	if isCommand(message, CommandEnd) {
		if err := e.store.Delete(ctx, key); err != nil {
			return TurnResult{}, fmt.Errorf("failed to delete conversation state: %w", err)
		}
		slog.Info("Engine.Turn: conversation ended", "key", key, "mode", st.Mode)
		return TurnResult{Reply: e.domain.Farewell, Mode: st.Mode, Stage: StageNew, Subject: st.SubjectName}, nil
	}

	from := st.Stage
	reply, changed := e.step(ctx, st, message)
	if changed {
		if err := e.store.Put(ctx, st); err != nil {
			return TurnResult{}, fmt.Errorf("failed to save conversation state: %w", err)
		}
	}
	slog.Debug("Engine.Turn: handled", "key", key, "mode", st.Mode, "from", from, "to", st.Stage,
		"category", st.CategoryIndex, "feedbackType", st.FeedbackTypeIndex)
	return TurnResult{Reply: reply, Mode: st.Mode, Stage: st.Stage, Subject: st.SubjectName}, nil
}

func (e *Engine) newConversation(key, userID, subject string) *ConversationState {
	if strings.TrimSpace(subject) == "" {
		subject = e.domain.DefaultSubject
	}
	mode := e.assigner.Assign(e.domain.Modes)
	if mode != models.ModeManual && e.client == nil {
		slog.Warn("Engine.newConversation: no text-completion client, using manual mode", "key", key, "assigned", mode)
		mode = models.ModeManual
	}
	now := e.now()
	st := &ConversationState{
		Key:         key,
		UserID:      userID,
		Domain:      e.domain.Name,
		SubjectName: subject,
		Mode:        mode,
		Stage:       StageAwaitingConfirmation,
		CreatedAt:   now,
	}
	st.appendHistory(models.RoleAssistant, e.domain.Render(e.domain.Intro, subject, Position{}), now)
	return st
}

// step applies one message to an existing state. It reports whether the
// state changed and must be saved.
func (e *Engine) step(ctx context.Context, st *ConversationState, message string) (string, bool) {
	switch st.Stage {
	case StageAwaitingConfirmation:
		if !isCommand(message, CommandConfirm) {
			return e.domain.ConfirmPrompt, false
		}
	case StageComplete:
		return e.completeTurn(st, message), true
	}

	if !e.supports(st.Mode) {
		slog.Warn("Engine.step: mode unavailable without text-completion", "key", st.Key, "mode", st.Mode)
		return e.domain.ErrorMessage, false
	}
	if st.Stage == StageAwaitingConfirmation {
		st.Stage = StageInProgress
		st.AwaitingFirstQuestion = true
	}

	switch st.Mode {
	case models.ModeAdaptive:
		return e.adaptiveTurn(ctx, st, message), true
	case models.ModeHybrid:
		return e.hybridTurn(ctx, st, message), true
	default:
		return e.manualTurn(ctx, st, message), true
	}
}

func (e *Engine) manualTurn(ctx context.Context, st *ConversationState, message string) string {
	st.appendHistory(models.RoleUser, message, e.now())

	var (
		reply string
		err   error
	)
	if st.AwaitingFirstQuestion {
		reply, err = e.phrases.Question(ctx, st.SubjectName, st.Position(e.domain))
		if err == nil {
			st.AwaitingFirstQuestion = false
		}
	} else {
		pos := st.Position(e.domain)
		c := e.classifier.Classify(message, pos.FeedbackType, &st.SeenResponses)
		switch {
		case c.Negative:
			reply = e.domain.NegativePrompt
		case c.Unhelpful:
			reply = e.domain.UnhelpfulPrompt
		case !c.Constructive:
			reply, err = e.phrases.Clarify(ctx, pos.FeedbackType, message)
		default:
			reply, err = e.advance(ctx, e.phrases, st)
		}
	}
	if err != nil {
		slog.Error("Engine.manualTurn: failed to build reply", "key", st.Key, "error", err)
		return e.domain.ErrorMessage
	}
	st.appendHistory(models.RoleAssistant, reply, e.now())
	return reply
}

func (e *Engine) hybridTurn(ctx context.Context, st *ConversationState, message string) string {
	st.appendHistory(models.RoleUser, message, e.now())

	var (
		reply string
		err   error
	)
	pos := st.Position(e.domain)
	if st.AwaitingFirstQuestion {
		reply, err = e.assisted.Question(ctx, st.SubjectName, pos)
		if err == nil {
			st.AwaitingFirstQuestion = false
		}
	} else {
		var j Judgment
		j, err = e.judge.Judge(ctx, message, pos.FeedbackType)
		switch {
		case err != nil:
		case j.Constructive:
			reply, err = e.advance(ctx, e.assisted, st)
		case j.Suggestion != "":
			reply = j.Suggestion
		default:
			reply, err = e.assisted.Clarify(ctx, pos.FeedbackType, message)
		}
	}
	if err != nil {
		slog.Error("Engine.hybridTurn: text-completion failure", "key", st.Key, "error", err)
		return e.domain.ErrorMessage
	}
	st.appendHistory(models.RoleAssistant, reply, e.now())
	return reply
}

// adaptiveTurn hands control to the text-completion capability. On the first
// turn the history is replaced by the interview instruction.
func (e *Engine) adaptiveTurn(ctx context.Context, st *ConversationState, message string) string {
	now := e.now()
	if st.AwaitingFirstQuestion {
		st.AwaitingFirstQuestion = false
		instruction := e.domain.Render(e.domain.AdaptiveInstruction, st.SubjectName, Position{})
		st.History = []models.ChatMessage{{Role: models.RoleSystem, Content: instruction, CreatedAt: now}}
	} else {
		st.appendHistory(models.RoleUser, message, now)
	}

	reply, err := e.client.GenerateWithMessages(ctx, toCompletionMessages(st.History), genai.MaxTokens(adaptiveMaxTokens))
	if err != nil {
		slog.Error("Engine.adaptiveTurn: text-completion failure", "key", st.Key, "error", err)
		return e.domain.ErrorMessage
	}
	st.appendHistory(models.RoleAssistant, reply, e.now())
	return reply
}

// completeTurn records additional feedback after the grid is exhausted.
func (e *Engine) completeTurn(st *ConversationState, message string) string {
	st.appendHistory(models.RoleUser, message, e.now())
	st.appendHistory(models.RoleAssistant, e.domain.Acknowledgment, e.now())
	return e.domain.Acknowledgment
}

// advance moves st to the next position and returns its question, or the
// completion message when the grid is exhausted. The indices only move once
// the question exists.
func (e *Engine) advance(ctx context.Context, gen QuestionGenerator, st *ConversationState) (string, error) {
	next := *st
	if !next.Advance(e.domain) {
		st.Stage = StageComplete
		return e.domain.Completion, nil
	}
	q, err := gen.Question(ctx, st.SubjectName, next.Position(e.domain))
	if err != nil {
		return "", err
	}
	st.CategoryIndex, st.FeedbackTypeIndex = next.CategoryIndex, next.FeedbackTypeIndex
	return q, nil
}

// supports reports whether the engine has the capabilities the mode needs.
func (e *Engine) supports(mode models.Mode) bool {
	switch mode {
	case models.ModeAdaptive:
		return e.client != nil
	case models.ModeHybrid:
		return e.assisted != nil && e.judge != nil
	}
	return true
}

// isCommand matches the whole message, ignoring case only.
func isCommand(message, command string) bool {
	return strings.EqualFold(message, command)
}

func toCompletionMessages(history []models.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
