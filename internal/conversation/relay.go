// ABOUTME: Streaming relay that pulls provider events and yields reply fragments in order
// ABOUTME: Captures the response id for the finalizer and ends with one error fragment on failure

package conversation

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"

	"github.com/2389/chatroom-gateway/internal/completion"
)

// ErrorFragment is written in-band when the provider fails after streaming began.
var ErrorFragment = []byte(`{"error":"An error occurred during streaming."}`)

// Relay opens provider streams for resolved turns.
type Relay struct {
	client completion.Client
	logger *slog.Logger
}

// NewRelay creates a relay over client.
func NewRelay(client completion.Client, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{client: client, logger: logger}
}

// Session is the in-memory state of one streaming turn. It belongs to the
// goroutine handling the request and is not safe for concurrent use.
type Session struct {
	Turn    ResolvedTurn
	UserID  string
	Message string

	stream   completion.Stream
	logger   *slog.Logger
	consumed bool
	latestID string
	err      error

	closeOnce sync.Once
}

// Open starts the provider stream for a turn. Nothing has been sent to the
// client yet when it fails, so the error can still become an HTTP status.
func (r *Relay) Open(ctx context.Context, turn ResolvedTurn, req TurnRequest) (*Session, error) {
	stream, err := r.client.Stream(ctx, completion.Request{
		Input:              req.Message,
		PreviousResponseID: turn.PreviousResponseID,
		Store:              true,
	})
	if err != nil {
		return nil, &ProviderError{Err: err}
	}

	return &Session{
		Turn:    turn,
		UserID:  req.UserID,
		Message: req.Message,
		stream:  stream,
		logger:  r.logger.With("conversation_id", turn.ConversationID),
	}, nil
}

// Chunks returns the reply as a sequence of byte fragments. The sequence can
// be consumed once; later calls yield nothing. The provider stream is closed
// when the sequence ends, including when the consumer stops early.
func (s *Session) Chunks() iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		if s.consumed {
			return
		}
		s.consumed = true
		defer s.Close()

		for s.stream.Next() {
			ev := s.stream.Event()
			switch ev.Kind {
			case completion.EventCreated:
				if ev.ResponseID != "" {
					s.latestID = ev.ResponseID
				}
			case completion.EventDelta:
				if ev.Text == "" {
					continue
				}
				if !yield([]byte(ev.Text)) {
					s.logger.Debug("consumer stopped reading, closing provider stream")
					return
				}
			default:
				s.logger.Debug("ignoring provider event", "type", ev.Type)
			}
		}

		if err := s.stream.Err(); err != nil {
			s.err = &ProviderError{Err: err}
			if errors.Is(err, context.Canceled) {
				s.logger.Info("provider stream cancelled", "response_id", s.latestID)
			} else {
				s.logger.Error("provider stream failed", "response_id", s.latestID, "error", err)
			}
			yield(ErrorFragment)
		}
	}
}

// LatestResponseID is the response id captured so far, or "" if none.
func (s *Session) LatestResponseID() string {
	return s.latestID
}

// Err returns the *ProviderError that ended the stream, if any.
func (s *Session) Err() error {
	return s.err
}

// Close releases the provider stream. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if err := s.stream.Close(); err != nil {
			s.logger.Debug("closing provider stream", "error", err)
		}
	})
}
