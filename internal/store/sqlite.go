// This file implements an SQLite-backed store for transcripts, sessions and summaries.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/EvaluBot/internal/models"
	"github.com/BTreeMap/EvaluBot/internal/util"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var (
	sqliteUpsertSummary = upsertSummaryQuery(func(int) string { return "?" })
	sqliteSelectSummary = selectSummaryQuery("?")
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// one writer avoids SQLITE_BUSY under concurrent chat turns
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully", "dir", dir)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, m models.ChatMessage) error {
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
		`INSERT INTO chat_messages (id, user_id, subject_name, role, message, version, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.SubjectName, string(m.Role), m.Content, string(m.Mode), m.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveMessage failed", "error", err, "userID", m.UserID, "subject", m.SubjectName)
		return fmt.Errorf("failed to insert chat message for %s: %w", m.UserID, err)
	}
	slog.Debug("SQLiteStore SaveMessage succeeded", "userID", m.UserID, "role", m.Role)
	return nil
}

func (s *SQLiteStore) GetMessages(ctx context.Context, subject string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, subject_name, role, message, version, created_at FROM chat_messages
		 WHERE subject_name = ? COLLATE NOCASE ORDER BY created_at, rowid`, subject)
	if err != nil {
		slog.Error("SQLiteStore GetMessages query failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) GetUserMessages(ctx context.Context, subject, userID string) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, subject_name, role, message, version, created_at FROM chat_messages
		 WHERE subject_name = ? COLLATE NOCASE AND user_id = ? ORDER BY created_at, rowid`, subject, userID)
	if err != nil {
		slog.Error("SQLiteStore GetUserMessages query failed", "error", err, "subject", subject, "userID", userID)
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *SQLiteStore) CountUsers(ctx context.Context, subject string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM chat_messages WHERE subject_name = ? COLLATE NOCASE`, subject).Scan(&n)
	if err != nil {
		slog.Error("SQLiteStore CountUsers failed", "error", err, "subject", subject)
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess models.Session) error {
	if err := models.ValidateSubjectName(sess.SubjectName); err != nil {
		return err
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (subject_name, token, feedback_from_viewers, feedback_from_external, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.SubjectName, sess.Token, sess.FeedbackFromViewers, sess.FeedbackFromExternal, sess.CreatedAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "subject", sess.SubjectName)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "subject", sess.SubjectName)
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, subject, token string) (*models.Session, error) {
	var sess models.Session
	err := s.db.QueryRowContext(ctx,
		`SELECT subject_name, token, feedback_from_viewers, feedback_from_external, created_at FROM sessions
		 WHERE subject_name = ? COLLATE NOCASE AND token = ?`, subject, token).
		Scan(&sess.SubjectName, &sess.Token, &sess.FeedbackFromViewers, &sess.FeedbackFromExternal, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return &sess, nil
}

func (s *SQLiteStore) SaveSummary(ctx context.Context, sum models.SubjectSummary) error {
	if err := models.ValidateSubjectName(sum.SubjectName); err != nil {
		return err
	}
	if sum.UpdatedAt.IsZero() {
		sum.UpdatedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsertSummary, summaryArgs(sum)...); err != nil {
		slog.Error("SQLiteStore SaveSummary failed", "error", err, "subject", sum.SubjectName)
		return fmt.Errorf("failed to upsert summary for %s: %w", sum.SubjectName, err)
	}
	slog.Debug("SQLiteStore SaveSummary succeeded", "subject", sum.SubjectName)
	return nil
}

func (s *SQLiteStore) GetSummary(ctx context.Context, subject string) (*models.SubjectSummary, error) {
	sum, err := scanSummary(s.db.QueryRowContext(ctx, sqliteSelectSummary, subjectKey(subject)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSummaryNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore GetSummary failed", "error", err, "subject", subject)
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	return sum, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
