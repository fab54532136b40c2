// Package store provides storage backends for EvaluBot.
//
// It persists the append-only chat transcript, dashboard sessions and subject
// summaries. Backends: in-memory, SQLite and PostgreSQL for everything, plus a
// MongoDB summary repository.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/EvaluBot/internal/models"
)

var (
	// ErrSessionNotFound is returned when no session matches a subject and token.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSummaryNotFound is returned when a subject has no stored summary.
	ErrSummaryNotFound = errors.New("summary not found")
)

// MessageRepo persists the chat transcript.
type MessageRepo interface {
	// SaveMessage appends one transcript entry.
	SaveMessage(ctx context.Context, m models.ChatMessage) error
	// GetMessages returns every entry for a subject, oldest first. Subject
	// names match case-insensitively.
	GetMessages(ctx context.Context, subject string) ([]models.ChatMessage, error)
	// GetUserMessages returns one user's entries for a subject, oldest first.
	GetUserMessages(ctx context.Context, subject, userID string) ([]models.ChatMessage, error)
	// CountUsers returns the number of distinct users who wrote about a subject.
	CountUsers(ctx context.Context, subject string) (int, error)
}

// SessionRepo persists dashboard sessions.
type SessionRepo interface {
	CreateSession(ctx context.Context, s models.Session) error
	// GetSession returns ErrSessionNotFound when nothing matches.
	GetSession(ctx context.Context, subject, token string) (*models.Session, error)
}

// SummaryRepo persists subject summaries.
type SummaryRepo interface {
	// SaveSummary upserts the summary keyed by subject name.
	SaveSummary(ctx context.Context, s models.SubjectSummary) error
	// GetSummary returns ErrSummaryNotFound when none is stored.
	GetSummary(ctx context.Context, subject string) (*models.SubjectSummary, error)
}

// Store is a complete storage backend.
type Store interface {
	MessageRepo
	SessionRepo
	SummaryRepo
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}

// subjectKey is the case-insensitive key a subject is stored under.
func subjectKey(subject string) string {
	return strings.ToLower(strings.TrimSpace(subject))
}

// InMemoryStore is a simple in-memory store.
type InMemoryStore struct {
	mu        sync.RWMutex
	messages  []models.ChatMessage
	sessions  []models.Session
	summaries map[string]models.SubjectSummary
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	slog.Debug("Creating InMemoryStore")
	return &InMemoryStore{summaries: make(map[string]models.SubjectSummary)}
}

func (s *InMemoryStore) SaveMessage(_ context.Context, m models.ChatMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
	return nil
}

func (s *InMemoryStore) GetMessages(_ context.Context, subject string) ([]models.ChatMessage, error) {
	return s.filter(subject, ""), nil
}

func (s *InMemoryStore) GetUserMessages(_ context.Context, subject, userID string) ([]models.ChatMessage, error) {
	return s.filter(subject, userID), nil
}

func (s *InMemoryStore) filter(subject, userID string) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := subjectKey(subject)
	var out []models.ChatMessage
	for _, m := range s.messages {
		if subjectKey(m.SubjectName) != key {
			continue
		}
		if userID != "" && m.UserID != userID {
			continue
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *InMemoryStore) CountUsers(_ context.Context, subject string) (int, error) {
	users := make(map[string]struct{})
	for _, m := range s.filter(subject, "") {
		users[m.UserID] = struct{}{}
	}
	return len(users), nil
}

func (s *InMemoryStore) CreateSession(_ context.Context, sess models.Session) error {
	if err := models.ValidateSubjectName(sess.SubjectName); err != nil {
		return err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = append(s.sessions, sess)
	return nil
}

func (s *InMemoryStore) GetSession(_ context.Context, subject, token string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := subjectKey(subject)
	for _, sess := range s.sessions {
		if sess.Token == token && subjectKey(sess.SubjectName) == key {
			found := sess
			return &found, nil
		}
	}
	return nil, ErrSessionNotFound
}

func (s *InMemoryStore) SaveSummary(_ context.Context, sum models.SubjectSummary) error {
	if err := models.ValidateSubjectName(sum.SubjectName); err != nil {
		return err
	}
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[subjectKey(sum.SubjectName)] = cloneSummary(sum)
	return nil
}

func (s *InMemoryStore) GetSummary(_ context.Context, subject string) (*models.SubjectSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum, ok := s.summaries[subjectKey(subject)]
	if !ok {
		return nil, ErrSummaryNotFound
	}
	out := cloneSummary(sum)
	return &out, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func cloneSummary(sum models.SubjectSummary) models.SubjectSummary {
	out := sum
	out.Summaries = make(map[models.SummaryCategory]string, len(sum.Summaries))
	out.Quotes = make(map[models.SummaryCategory]string, len(sum.Quotes))
	for k, v := range sum.Summaries {
		out.Summaries[k] = v
	}
	for k, v := range sum.Quotes {
		out.Quotes[k] = v
	}
	return out
}
