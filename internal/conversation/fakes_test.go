// ABOUTME: Scripted completion client and stream fakes shared by the conversation tests
// ABOUTME: Records every request so tests can check continuation tokens and close calls

package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/2389/chatroom-gateway/internal/completion"
)

// fakeStream replays a fixed list of events, then reports err.
type fakeStream struct {
	ctx    context.Context
	events []completion.Event
	err    error

	pos    int
	cur    completion.Event
	failed error
	closed int
}

func (s *fakeStream) Next() bool {
	if s.ctx != nil && s.ctx.Err() != nil {
		s.failed = s.ctx.Err()
		return false
	}
	if s.pos >= len(s.events) {
		s.failed = s.err
		return false
	}
	s.cur = s.events[s.pos]
	s.pos++
	return true
}

func (s *fakeStream) Event() completion.Event { return s.cur }
func (s *fakeStream) Err() error              { return s.failed }

func (s *fakeStream) Close() error {
	s.closed++
	return nil
}

// fakeClient hands out one scripted stream per call.
type fakeClient struct {
	mu        sync.Mutex
	events    []completion.Event
	streamErr error
	openErr   error

	reply     *completion.Response
	createErr error

	requests []completion.Request
	streams  []*fakeStream
}

func (c *fakeClient) Stream(ctx context.Context, req completion.Request) (completion.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.openErr != nil {
		return nil, c.openErr
	}
	s := &fakeStream{ctx: ctx, events: c.events, err: c.streamErr}
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeClient) Create(ctx context.Context, req completion.Request) (*completion.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.createErr != nil {
		return nil, c.createErr
	}
	if c.reply == nil {
		return nil, errors.New("no reply scripted")
	}
	return c.reply, nil
}

func (c *fakeClient) lastRequest() completion.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}

func created(id string) completion.Event {
	return completion.Event{Kind: completion.EventCreated, ResponseID: id, Type: "response.created"}
}

func delta(text string) completion.Event {
	return completion.Event{Kind: completion.EventDelta, Text: text, Type: "response.output_text.delta"}
}

func other(typ string) completion.Event {
	return completion.Event{Kind: completion.EventOther, Type: typ}
}
