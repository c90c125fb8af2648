// ABOUTME: Resolver decides whether a turn starts a new conversation or continues one
// ABOUTME: Dangling conversation ids recover as new conversations under the client's id

package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/chatroom-gateway/internal/store"
)

// TurnRequest is one inbound user message.
type TurnRequest struct {
	UserID         string
	Message        string
	ConversationID string
}

// Validate reports the first missing required field.
func (r TurnRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return &ValidationError{Field: "user_id"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message"}
	}
	return nil
}

// ResolvedTurn is where a turn lands: which conversation, and the continuation
// token to hand the provider.
type ResolvedTurn struct {
	ConversationID     string
	PreviousResponseID string
	IsNew              bool
}

// ConversationGetter is the store lookup the resolver needs.
type ConversationGetter interface {
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// Resolver maps a TurnRequest to a ResolvedTurn.
type Resolver struct {
	store  ConversationGetter
	newID  func() string
	logger *slog.Logger
}

// NewResolver creates a resolver. newID may be nil to use random UUIDs.
func NewResolver(s ConversationGetter, newID func() string, logger *slog.Logger) *Resolver {
	if newID == nil {
		newID = func() string { return uuid.New().String() }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: s, newID: newID, logger: logger}
}

// lookup turns the store's sentinel into an explicit found flag.
func (r *Resolver) lookup(ctx context.Context, id string) (*store.Conversation, bool, error) {
	conv, err := r.store.GetConversation(ctx, id)
	switch {
	case err == nil:
		return conv, true, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, false, nil
	default:
		return nil, false, err
	}
}

// Resolve validates req and determines its conversation.
func (r *Resolver) Resolve(ctx context.Context, req TurnRequest) (ResolvedTurn, error) {
	if err := req.Validate(); err != nil {
		return ResolvedTurn{}, err
	}

	// A blank id is the same as none
	if strings.TrimSpace(req.ConversationID) == "" {
		return ResolvedTurn{ConversationID: r.newID(), IsNew: true}, nil
	}

	conv, found, err := r.lookup(ctx, req.ConversationID)
	if err != nil {
		return ResolvedTurn{}, &StoreError{Op: "get conversation", Err: err}
	}

	if !found {
		r.logger.Info("conversation not found, starting a new one under the supplied id",
			"conversation_id", req.ConversationID,
			"user_id", req.UserID,
		)
		return ResolvedTurn{ConversationID: req.ConversationID, IsNew: true}, nil
	}

	return ResolvedTurn{
		ConversationID:     conv.ConversationID,
		PreviousResponseID: conv.LatestResponseID,
	}, nil
}
