// Package flow implements the per-user feedback dialogue: state, response
// classification, question generation and the turn engine.
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

// Stage is the explicit dialogue stage of a conversation.
type Stage string

const (
	// StageNew means no state exists for the user.
	StageNew Stage = "new"
	// StageAwaitingConfirmation waits for the literal "ok" after the intro.
	StageAwaitingConfirmation Stage = "awaiting_confirmation"
	// StageInProgress walks the category × feedback-type grid.
	StageInProgress Stage = "in_progress"
	// StageComplete accepts free text without advancing.
	StageComplete Stage = "complete"
)

// ErrStateConflict is returned by Put when the stored version moved on.
var ErrStateConflict = errors.New("conversation state was modified concurrently")

// ConversationState is the per-user dialogue state owned by the Engine.
type ConversationState struct {
	Key                   string               `json:"key"`
	UserID                string               `json:"user_id"`
	Domain                string               `json:"domain"`
	SubjectName           string               `json:"subject_name"`
	Mode                  models.Mode          `json:"mode"`
	Stage                 Stage                `json:"stage"`
	AwaitingFirstQuestion bool                 `json:"awaiting_first_question"`
	CategoryIndex         int                  `json:"category_index"`
	FeedbackTypeIndex     int                  `json:"feedback_type_index"`
	History               []models.ChatMessage `json:"history"`
	SeenResponses         SeenResponses        `json:"seen_responses"`
	Version               int64                `json:"version"`
	CreatedAt             time.Time            `json:"created_at"`
	UpdatedAt             time.Time            `json:"updated_at"`
}

// Position returns the current point in the domain's grid.
func (s *ConversationState) Position(d *Domain) Position {
	return Position{
		Category:     d.Categories[s.CategoryIndex],
		FeedbackType: models.FeedbackTypes[s.FeedbackTypeIndex],
	}
}

// Advance moves to the next feedback type, then the next category. It
// returns false and marks the state complete when the grid is exhausted.
func (s *ConversationState) Advance(d *Domain) bool {
	switch {
	case s.FeedbackTypeIndex < len(models.FeedbackTypes)-1:
		s.FeedbackTypeIndex++
	case s.CategoryIndex < len(d.Categories)-1:
		s.CategoryIndex++
		s.FeedbackTypeIndex = 0
	default:
		s.Stage = StageComplete
		return false
	}
	return true
}

func (s *ConversationState) appendHistory(role models.Role, content string, at time.Time) {
	s.History = append(s.History, models.ChatMessage{Role: role, Content: content, CreatedAt: at})
}

// Clone returns a deep copy.
func (s *ConversationState) Clone() *ConversationState {
	c := *s
	c.History = append([]models.ChatMessage(nil), s.History...)
	c.SeenResponses = append(SeenResponses(nil), s.SeenResponses...)
	return &c
}

// StateStore owns conversation states keyed by conversation key.
type StateStore interface {
	// Get returns the state for key, or nil when none exists.
	Get(ctx context.Context, key string) (*ConversationState, error)
	// Put stores st if the stored version still equals st.Version, then
	// increments st.Version. A new state has Version 0.
	Put(ctx context.Context, st *ConversationState) error
	// Delete removes the state for key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Count returns the number of stored states.
	Count(ctx context.Context) (int, error)
}
