// Package models defines the core data structures for EvaluBot.
//
// It includes the chat transcript, dashboard session and subject summary types
// shared between the dialogue engine, the summary aggregator, the stores and the API.
package models

import (
	"errors"
	"strings"
	"time"
)

// Mode is the dialogue strategy assigned to a conversation.
type Mode string

const (
	// ModeManual asks questions from a fixed phrase bank and judges answers locally.
	ModeManual Mode = "manual"
	// ModeAdaptive hands the whole interview to the text-completion capability.
	ModeAdaptive Mode = "adaptive"
	// ModeHybrid keeps the local state machine but delegates phrasing and judgment.
	ModeHybrid Mode = "hybrid"
)

// IsValidMode checks if the given mode is supported.
func IsValidMode(m Mode) bool {
	switch m {
	case ModeManual, ModeAdaptive, ModeHybrid:
		return true
	default:
		return false
	}
}

// ParseMode converts a case-insensitive string into a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !IsValidMode(m) {
		return "", ErrInvalidMode
	}
	return m, nil
}

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// FeedbackType is the nested strengths/improvements axis under each category.
type FeedbackType string

const (
	FeedbackStrengths    FeedbackType = "strengths"
	FeedbackImprovements FeedbackType = "improvements"
)

// FeedbackTypes is the fixed order in which feedback types are visited.
var FeedbackTypes = []FeedbackType{FeedbackStrengths, FeedbackImprovements}

// Validation constants for input validation
const (
	// MaxMessageLength defines the maximum allowed length of a single chat message
	MaxMessageLength = 4096
	// MaxSubjectNameLength defines the maximum allowed length of a subject name
	MaxSubjectNameLength = 200
)

// Error variables for better error handling and testability
var (
	ErrInvalidMode        = errors.New("invalid dialogue mode")
	ErrEmptyUserID        = errors.New("user ID cannot be empty")
	ErrEmptyMessage       = errors.New("message cannot be empty")
	ErrMessageTooLong     = errors.New("message exceeds maximum length")
	ErrEmptySubjectName   = errors.New("subject name cannot be empty")
	ErrSubjectNameTooLong = errors.New("subject name exceeds maximum length")
	ErrInvalidRole        = errors.New("invalid message role")
)

// ChatMessage is one entry of the append-only transcript.
type ChatMessage struct {
	ID          string    `json:"id,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	SubjectName string    `json:"subject_name,omitempty"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Mode        Mode      `json:"mode,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Validate checks a transcript entry before it is persisted.
func (m *ChatMessage) Validate() error {
	if m.UserID == "" {
		return ErrEmptyUserID
	}
	if err := ValidateSubjectName(m.SubjectName); err != nil {
		return err
	}
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return ErrInvalidRole
	}
	if len(m.Content) > MaxMessageLength {
		return ErrMessageTooLong
	}
	return nil
}

// ValidateSubjectName checks the subject name used to scope transcripts and summaries.
func ValidateSubjectName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptySubjectName
	}
	if len(name) > MaxSubjectNameLength {
		return ErrSubjectNameTooLong
	}
	return nil
}

// Session grants a subject access to their feedback dashboard.
type Session struct {
	SubjectName          string    `json:"subject_name"`
	Token                string    `json:"token"`
	FeedbackFromViewers  bool      `json:"feedback_from_viewers"`
	FeedbackFromExternal bool      `json:"feedback_from_external"`
	CreatedAt            time.Time `json:"created_at"`
}

// SummaryCategory is one of the five fixed summary buckets.
type SummaryCategory string

const (
	CategoryWhyViewersWatch     SummaryCategory = "why_viewers_watch"
	CategoryHowToImprove        SummaryCategory = "how_to_improve"
	CategoryContentProduction   SummaryCategory = "content_production"
	CategoryCommunityManagement SummaryCategory = "community_management"
	CategoryMarketingStrategy   SummaryCategory = "marketing_strategy"
)

// SummaryCategories lists the summary buckets in their canonical order.
var SummaryCategories = []SummaryCategory{
	CategoryWhyViewersWatch,
	CategoryHowToImprove,
	CategoryContentProduction,
	CategoryCommunityManagement,
	CategoryMarketingStrategy,
}

// SubjectSummary is the persisted form of a subject's summaries.
// Quotes are stored newline-joined, one string per category.
type SubjectSummary struct {
	SubjectName string                     `json:"subject_name"`
	Summaries   map[SummaryCategory]string `json:"summaries"`
	Quotes      map[SummaryCategory]string `json:"quotes"`
	UpdatedAt   time.Time                  `json:"updated_at"`
}
