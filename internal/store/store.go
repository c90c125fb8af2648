// ABOUTME: Store interface and data types for chatroom-gateway persistence
// ABOUTME: Defines the Conversation record, transcripts, sentinel errors and timestamp encoding

package store

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose id is already taken
var ErrDuplicateConversation = errors.New("conversation already exists")

// TimeFormat is the on-disk timestamp encoding. Fixed-width microseconds keep
// lexical order equal to chronological order in every backend.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// TitleLength is the number of characters of the first message kept as the title.
const TitleLength = 20

// Conversation is the one persisted record per conversation.
type Conversation struct {
	ConversationID   string    `json:"conversation_id"`
	UserID           string    `json:"user_id"`
	LatestResponseID string    `json:"latest_response_id"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`
}

// TranscriptMessage is one entry of a locally kept chat transcript.
type TranscriptMessage struct {
	Role    string `json:"role" dynamodbav:"role"`
	Content string `json:"content" dynamodbav:"content"`
}

// Store defines the persistence operations for conversations
type Store interface {
	// GetConversation returns ErrNotFound when no record has the id
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// CreateConversation inserts a full record; ErrDuplicateConversation if the id exists
	CreateConversation(ctx context.Context, conv *Conversation) error

	// UpdateConversation sets latest_response_id and last_updated_at only.
	// Returns ErrNotFound when the record does not exist.
	UpdateConversation(ctx context.Context, id, latestResponseID string, updatedAt time.Time) error

	// ListConversations returns the user's records, most recently updated first
	ListConversations(ctx context.Context, userID string) ([]*Conversation, error)

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}

// TranscriptStore keeps chat transcripts keyed by response id.
type TranscriptStore interface {
	GetTranscript(ctx context.Context, responseID string) ([]TranscriptMessage, error)
	PutTranscript(ctx context.Context, responseID string, messages []TranscriptMessage) error
}

// Title derives a conversation title from the first user message.
func Title(message string) string {
	if utf8.RuneCountInString(message) <= TitleLength {
		return message
	}
	return string([]rune(message)[:TitleLength]) + "..."
}

// FormatTime encodes t for storage.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// ParseTime decodes a stored timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeFormat, s)
}
