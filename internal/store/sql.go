// ABOUTME: database/sql implementation of the Store interface for SQLite and PostgreSQL
// ABOUTME: Supports modernc sqlite, mattn go-sqlite3 and lib/pq with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver names accepted by NewSQLStore
const (
	DriverSQLite   = "sqlite"   // modernc.org/sqlite, pure Go
	DriverSQLite3  = "sqlite3"  // github.com/mattn/go-sqlite3, cgo
	DriverPostgres = "postgres" // github.com/lib/pq
)

// SQLStore implements Store and TranscriptStore on top of database/sql
type SQLStore struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewSQLiteStore creates a pure-Go SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLStore, error) {
	return NewSQLStore(DriverSQLite, path)
}

// NewSQLStore opens a store for the given driver. For the SQLite drivers dsn is
// a file path (or ":memory:"); for postgres it is a connection string.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	logger := slog.Default().With("component", "store")

	switch driver {
	case DriverSQLite, DriverSQLite3:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLStore{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if s.isSQLite() {
		// A single connection keeps ":memory:" databases shared and serializes writers
		if dsn == ":memory:" {
			db.SetMaxOpenConns(1)
		}
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting busy timeout: %w", err)
		}
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQL store initialized", "driver", driver)
	return s, nil
}

func (s *SQLStore) isSQLite() bool {
	return s.driver == DriverSQLite || s.driver == DriverSQLite3
}

// createSchema creates the database tables if they don't exist
func (s *SQLStore) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			conversation_id    TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			latest_response_id TEXT NOT NULL,
			title              TEXT NOT NULL,
			created_at         TEXT NOT NULL,
			last_updated_at    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_user_updated
			ON conversations(user_id, last_updated_at)`,
		`CREATE TABLE IF NOT EXISTS transcripts (
			response_id TEXT PRIMARY KEY,
			messages    TEXT NOT NULL,
			created_at  TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Close closes the database connection
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isConstraintViolation reports whether err is a primary key or unique violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	if isSQLite3Constraint(err) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// CreateConversation inserts a new conversation record
func (s *SQLStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	query := s.rebind(`
		INSERT INTO conversations (conversation_id, user_id, latest_response_id, title, created_at, last_updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err := s.db.ExecContext(ctx, query,
		conv.ConversationID,
		conv.UserID,
		conv.LatestResponseID,
		conv.Title,
		FormatTime(conv.CreatedAt),
		FormatTime(conv.LastUpdatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}

	s.logger.Debug("created conversation", "conversation_id", conv.ConversationID, "user_id", conv.UserID)
	return nil
}

// GetConversation retrieves a conversation by id
func (s *SQLStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	query := s.rebind(`
		SELECT conversation_id, user_id, latest_response_id, title, created_at, last_updated_at
		FROM conversations
		WHERE conversation_id = ?
	`)

	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	return conv, nil
}

// UpdateConversation advances the continuation token of an existing conversation
func (s *SQLStore) UpdateConversation(ctx context.Context, id, latestResponseID string, updatedAt time.Time) error {
	query := s.rebind(`
		UPDATE conversations
		SET latest_response_id = ?, last_updated_at = ?
		WHERE conversation_id = ?
	`)

	result, err := s.db.ExecContext(ctx, query, latestResponseID, FormatTime(updatedAt), id)
	if err != nil {
		return fmt.Errorf("updating conversation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated conversation", "conversation_id", id)
	return nil
}

// ListConversations returns the user's conversations, most recently updated first
func (s *SQLStore) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	query := s.rebind(`
		SELECT conversation_id, user_id, latest_response_id, title, created_at, last_updated_at
		FROM conversations
		WHERE user_id = ?
		ORDER BY last_updated_at DESC, conversation_id ASC
	`)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	convs := []*Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}
	return convs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var conv Conversation
	var createdAtStr, updatedAtStr string

	err := row.Scan(
		&conv.ConversationID,
		&conv.UserID,
		&conv.LatestResponseID,
		&conv.Title,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return nil, err
	}

	conv.CreatedAt, err = ParseTime(createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	conv.LastUpdatedAt, err = ParseTime(updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_updated_at: %w", err)
	}
	return &conv, nil
}

// GetTranscript returns the transcript saved under a response id
func (s *SQLStore) GetTranscript(ctx context.Context, responseID string) ([]TranscriptMessage, error) {
	query := s.rebind(`SELECT messages FROM transcripts WHERE response_id = ?`)

	var raw string
	err := s.db.QueryRowContext(ctx, query, responseID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying transcript: %w", err)
	}

	var messages []TranscriptMessage
	if err := json.Unmarshal([]byte(raw), &messages); err != nil {
		return nil, fmt.Errorf("decoding transcript: %w", err)
	}
	return messages, nil
}

// PutTranscript saves a transcript under a new response id
func (s *SQLStore) PutTranscript(ctx context.Context, responseID string, messages []TranscriptMessage) error {
	raw, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("encoding transcript: %w", err)
	}

	query := s.rebind(`INSERT INTO transcripts (response_id, messages, created_at) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, responseID, string(raw), FormatTime(time.Now())); err != nil {
		return fmt.Errorf("inserting transcript: %w", err)
	}
	return nil
}

var (
	_ Store           = (*SQLStore)(nil)
	_ TranscriptStore = (*SQLStore)(nil)
)
