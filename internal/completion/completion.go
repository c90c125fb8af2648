// ABOUTME: Completion provider interfaces: non-streaming create and pull-based event streams
// ABOUTME: Events are tagged Created{id}, Delta{text} or Other so consumers need one loop

package completion

import (
	"context"
	"errors"
	"fmt"
)

// DefaultModel is used when no model is configured
const DefaultModel = "gpt-4o"

// ErrUnknownResponse is returned when a continuation token does not name a stored response
var ErrUnknownResponse = errors.New("unknown previous response")

// EventKind tags a stream event.
type EventKind int

const (
	// EventOther is any event the relay does not act on
	EventOther EventKind = iota
	// EventCreated carries the durable response identifier
	EventCreated
	// EventDelta carries an incremental text fragment
	EventDelta
)

func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventDelta:
		return "delta"
	default:
		return "other"
	}
}

// Event is one item of a provider stream.
type Event struct {
	Kind       EventKind
	ResponseID string // set for EventCreated
	Text       string // set for EventDelta
	Type       string // provider's raw event type
}

// Request is a single turn sent to the provider.
type Request struct {
	Input              string
	PreviousResponseID string
	// Store asks the provider to retain the turn for later continuation
	Store bool
}

// Response is the result of a non-streaming call.
type Response struct {
	ID   string
	Text string
}

// Stream is a pull-based sequence of events. Next advances and reports whether
// an event is available; after it returns false, Err reports why. Close releases
// the upstream connection and is safe to call more than once.
type Stream interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}

// Client is a completion provider.
type Client interface {
	Create(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (Stream, error)
}

// APIError is a non-success answer from the provider.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("provider error: %s", e.Message)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}
