// This file implements a PostgreSQL-backed store for transcripts, sessions and summaries.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var (
	postgresUpsertSummary = upsertSummaryQuery(func(i int) string { return fmt.Sprintf("$%d", i) })
	postgresSelectSummary = selectSummaryQuery("$1")
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveMessage(ctx context.Context, m models.ChatMessage) error {
	if err := m.Validate(); err != nil {
		return err
	}
	if m.ID == "" {
		m.ID = util.GenerateMessageID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (id, user_id, subject_name, role, message, version, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.UserID, m.SubjectName, string(m.Role), m.Content, string(m.Mode), m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveMessage failed", "error", err, "userID", m.UserID, "subject", m.SubjectName)
		return fmt.Errorf("failed to insert chat message for %s: %w", m.UserID, err)
	}
	slog.Debug("PostgresStore SaveMessage succeeded", "userID", m.UserID, "role", m.Role)
	return nil
}

func (s *PostgresStore) GetMessages(ctx context.Context, subject string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, subject_name, role, message, version, created_at FROM chat_messages
		 WHERE LOWER(subject_name) = LOWER($1) ORDER BY created_at, id`, subject)
	if err != nil {
		slog.Error("PostgresStore GetMessages query failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) GetUserMessages(ctx context.Context, subject, userID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, subject_name, role, message, version, created_at FROM chat_messages
		 WHERE LOWER(subject_name) = LOWER($1) AND user_id = $2 ORDER BY created_at, id`, subject, userID)
	if err != nil {
		slog.Error("PostgresStore GetUserMessages query failed", "error", err, "subject", subject, "userID", userID)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *PostgresStore) CountUsers(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM chat_messages WHERE LOWER(subject_name) = LOWER($1)`, subject).Scan(&n)
	if err != nil {
		slog.Error("PostgresStore CountUsers failed", "error", err, "subject", subject)
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess models.Session) error {
	if err := models.ValidateSubjectName(sess.SubjectName); err != nil {
		return err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (subject_name, token, feedback_from_viewers, feedback_from_external, created_at) VALUES ($1, $2, $3, $4, $5)`,
		sess.SubjectName, sess.Token, sess.FeedbackFromViewers, sess.FeedbackFromExternal, sess.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "subject", sess.SubjectName)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	slog.Debug("PostgresStore CreateSession succeeded", "subject", sess.SubjectName)
	return nil
}

func (s *PostgresStore) GetSession(ctx context.Context, subject, token string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_name, token, feedback_from_viewers, feedback_from_external, created_at FROM sessions
		 WHERE LOWER(subject_name) = LOWER($1) AND token = $2`, subject, token).
		Scan(&sess.SubjectName, &sess.Token, &sess.FeedbackFromViewers, &sess.FeedbackFromExternal, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &sess, nil
}

func (s *PostgresStore) SaveSummary(ctx context.Context, sum models.SubjectSummary) error {
	if err := models.ValidateSubjectName(sum.SubjectName); err != nil {
		return err
	}
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, postgresUpsertSummary, summaryArgs(sum)...); err != nil {
		slog.Error("PostgresStore SaveSummary failed", "error", err, "subject", sum.SubjectName)
		return fmt.Errorf("failed to upsert summary for %s: %w", sum.SubjectName, err)
	}
	slog.Debug("PostgresStore SaveSummary succeeded", "subject", sum.SubjectName)
	return nil
}

func (s *PostgresStore) GetSummary(ctx context.Context, subject string) (*models.SubjectSummary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx, postgresSelectSummary, subjectKey(subject)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		slog.Error("PostgresStore GetSummary failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	return sum, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
