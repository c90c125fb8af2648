// ABOUTME: Persistence finalizer that records a turn's outcome in the conversation store
// ABOUTME: Writes only when a response id was captured and survives client disconnects

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/chatroom-gateway/internal/store"
)

// DefaultPersistTimeout bounds the finalizer's store write.
const DefaultPersistTimeout = 10 * time.Second

// ConversationWriter is the store surface the finalizer writes through.
type ConversationWriter interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	UpdateConversation(ctx context.Context, id, latestResponseID string, updatedAt time.Time) error
}

// Finalizer persists conversation metadata after a turn.
type Finalizer struct {
	store   ConversationWriter
	now     func() time.Time
	timeout time.Duration
	logger  *slog.Logger
}

// NewFinalizer creates a finalizer. A nil now uses time.Now; a zero timeout
// uses DefaultPersistTimeout.
func NewFinalizer(s ConversationWriter, now func() time.Time, timeout time.Duration, logger *slog.Logger) *Finalizer {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Finalizer{store: s, now: now, timeout: timeout, logger: logger}
}

// Finalize records the session's captured response id. The session's stream
// is closed first. Returns nil without writing when no id was captured.
func (f *Finalizer) Finalize(ctx context.Context, s *Session) error {
	s.Close()
	return f.Record(ctx, s.Turn, s.UserID, s.Message, s.LatestResponseID())
}

// Record writes the outcome of a turn. The write runs detached from ctx's
// cancellation so a client that hung up still keeps its continuation token.
func (f *Finalizer) Record(ctx context.Context, turn ResolvedTurn, userID, message, responseID string) error {
	logger := f.logger.With("conversation_id", turn.ConversationID)

	if responseID == "" {
		logger.Warn("no response id captured, leaving conversation unchanged")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()

	now := f.now().UTC()
	var err error
	if turn.IsNew {
		err = f.create(ctx, turn, userID, message, responseID, now)
	} else {
		err = f.store.UpdateConversation(ctx, turn.ConversationID, responseID, now)
	}
	if err != nil {
		logger.Error("failed to persist conversation", "response_id", responseID, "error", err)
		return &PersistenceError{ConversationID: turn.ConversationID, Err: err}
	}

	logger.Debug("conversation persisted", "response_id", responseID, "new", turn.IsNew)
	return nil
}

func (f *Finalizer) create(ctx context.Context, turn ResolvedTurn, userID, message, responseID string, now time.Time) error {
	err := f.store.CreateConversation(ctx, &store.Conversation{
		ConversationID:   turn.ConversationID,
		UserID:           userID,
		LatestResponseID: responseID,
		Title:            store.Title(message),
		CreatedAt:        now,
		LastUpdatedAt:    now,
	})
	if !errors.Is(err, store.ErrDuplicateConversation) {
		return err
	}

	// Another turn created this id while ours was streaming; advance it instead.
	f.logger.Warn("conversation created concurrently, updating instead",
		"conversation_id", turn.ConversationID)
	return f.store.UpdateConversation(ctx, turn.ConversationID, responseID, now)
}
