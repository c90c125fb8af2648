// ABOUTME: Service ties the resolver, relay and finalizer into one conversation turn
// ABOUTME: A Turn is a scoped resource: its Close runs the finalizer exactly once on every exit path

package conversation

import (
	"context"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/chatroom-gateway/internal/completion"
	"github.com/2389/chatroom-gateway/internal/store"
)

// ConversationStore defines what the service needs from storage
type ConversationStore interface {
	ConversationGetter
	ConversationWriter
	ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error)
}

// Options tunes a Service. The zero value is ready to use.
type Options struct {
	// Now is the clock used for timestamps
	Now func() time.Time
	// NewID generates conversation ids for new conversations
	NewID func() string
	// PersistTimeout bounds the finalizer's write
	PersistTimeout time.Duration
}

// Service runs conversation turns against a store and a completion client.
type Service struct {
	store     ConversationStore
	client    completion.Client
	resolver  *Resolver
	relay     *Relay
	finalizer *Finalizer
	logger    *slog.Logger
}

// New creates a conversation service.
func New(s ConversationStore, client completion.Client, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "conversation")

	return &Service{
		store:     s,
		client:    client,
		resolver:  NewResolver(s, opts.NewID, logger),
		relay:     NewRelay(client, logger),
		finalizer: NewFinalizer(s, opts.Now, opts.PersistTimeout, logger),
		logger:    logger,
	}
}

// Turn is an in-progress streaming turn.
type Turn struct {
	session   *Session
	finalizer *Finalizer
	ctx       context.Context

	closeOnce sync.Once
	closeErr  error
}

// Begin validates and resolves req and opens the provider stream. On success
// the caller must Close the turn, typically with defer, whether or not the
// chunks were consumed.
func (s *Service) Begin(ctx context.Context, req TurnRequest) (*Turn, error) {
	resolved, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	session, err := s.relay.Open(ctx, resolved, req)
	if err != nil {
		s.logger.Error("failed to open provider stream",
			"conversation_id", resolved.ConversationID, "error", err)
		return nil, err
	}

	s.logger.Debug("turn started",
		"conversation_id", resolved.ConversationID,
		"user_id", req.UserID,
		"new", resolved.IsNew,
		"previous_response_id", resolved.PreviousResponseID,
	)

	return &Turn{session: session, finalizer: s.finalizer, ctx: ctx}, nil
}

// ConversationID is the id this turn will be recorded under.
func (t *Turn) ConversationID() string { return t.session.Turn.ConversationID }

// IsNew reports whether the turn starts a new conversation record.
func (t *Turn) IsNew() bool { return t.session.Turn.IsNew }

// Chunks yields the reply fragments in provider order. Single use.
func (t *Turn) Chunks() iter.Seq[[]byte] { return t.session.Chunks() }

// ResponseID is the provider response id captured so far.
func (t *Turn) ResponseID() string { return t.session.LatestResponseID() }

// Err returns the provider error that cut the stream short, if any.
func (t *Turn) Err() error { return t.session.Err() }

// Close closes the provider stream and persists the turn. The finalizer runs
// once no matter how many times Close is called; later calls return the first
// result. A non-nil error is a *PersistenceError.
func (t *Turn) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.finalizer.Finalize(t.ctx, t.session)
	})
	return t.closeErr
}

// Result summarizes a completed streaming turn.
type Result struct {
	ConversationID string
	ResponseID     string
	IsNew          bool
}

// Stream runs a whole turn, passing each fragment to emit. An emit error stops
// the relay early; the turn is still finalized. The returned error is the
// first of: the emit error, the provider error, the persistence error.
func (s *Service) Stream(ctx context.Context, req TurnRequest, emit func([]byte) error) (*Result, error) {
	turn, err := s.Begin(ctx, req)
	if err != nil {
		return nil, err
	}

	var emitErr error
	for chunk := range turn.Chunks() {
		if emitErr = emit(chunk); emitErr != nil {
			break
		}
	}
	persistErr := turn.Close()

	result := &Result{
		ConversationID: turn.ConversationID(),
		ResponseID:     turn.ResponseID(),
		IsNew:          turn.IsNew(),
	}
	switch {
	case emitErr != nil:
		return result, emitErr
	case turn.Err() != nil:
		return result, turn.Err()
	case persistErr != nil:
		return result, persistErr
	}
	return result, nil
}

// Reply is the outcome of a non-streaming turn.
type Reply struct {
	ConversationID string `json:"conversation_id"`
	ResponseID     string `json:"response_id"`
	Reply          string `json:"reply"`
}

// Reply runs a turn without streaming and returns the whole reply.
// Persistence failures are logged and returned alongside the reply.
func (s *Service) Reply(ctx context.Context, req TurnRequest) (*Reply, error) {
	resolved, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Create(ctx, completion.Request{
		Input:              req.Message,
		PreviousResponseID: resolved.PreviousResponseID,
		Store:              true,
	})
	if err != nil {
		s.logger.Error("completion failed", "conversation_id", resolved.ConversationID, "error", err)
		return nil, &ProviderError{Err: err}
	}

	reply := &Reply{
		ConversationID: resolved.ConversationID,
		ResponseID:     resp.ID,
		Reply:          resp.Text,
	}
	if err := s.finalizer.Record(ctx, resolved, req.UserID, req.Message, resp.ID); err != nil {
		return reply, err
	}
	return reply, nil
}

// ListConversations returns a user's conversations, newest first.
func (s *Service) ListConversations(ctx context.Context, userID string) ([]*store.Conversation, error) {
	convs, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, &StoreError{Op: "list conversations", Err: err}
	}
	return convs, nil
}
