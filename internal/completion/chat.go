// ABOUTME: Chat-completions backend for OpenAI-compatible providers via go-openai
// ABOUTME: Emulates server-side continuation by keeping transcripts keyed by response id

package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/2389/chatroom-gateway/internal/store"
)

// ChatConfig configures a ChatClient.
type ChatConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client

	// Transcripts stores the message history behind each response id
	Transcripts store.TranscriptStore

	// NewID generates response ids; defaults to "chatresp_" + uuid
	NewID func() string
}

// ChatClient implements Client on the chat completions API. Providers without
// a Responses API keep no conversation state, so the history is loaded from
// Transcripts and the grown transcript is saved under a fresh id after each turn.
type ChatClient struct {
	client      *openai.Client
	model       string
	transcripts store.TranscriptStore
	newID       func() string
}

// NewChatClient validates cfg and returns a client.
func NewChatClient(cfg ChatConfig) (*ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key must be provided")
	}
	if cfg.Transcripts == nil {
		return nil, errors.New("chat backend needs a transcript store")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return "chatresp_" + uuid.New().String() }
	}

	return &ChatClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		transcripts: cfg.Transcripts,
		newID:       newID,
	}, nil
}

// history loads the transcript behind a continuation token.
func (c *ChatClient) history(ctx context.Context, previousResponseID string) ([]store.TranscriptMessage, error) {
	if previousResponseID == "" {
		return nil, nil
	}
	msgs, err := c.transcripts.GetTranscript(ctx, previousResponseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResponse, previousResponseID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading transcript: %w", err)
	}
	return msgs, nil
}

func toChatMessages(msgs []store.TranscriptMessage) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// prepare returns the transcript for this turn including the new user message.
func (c *ChatClient) prepare(ctx context.Context, req Request) ([]store.TranscriptMessage, error) {
	history, err := c.history(ctx, req.PreviousResponseID)
	if err != nil {
		return nil, err
	}
	turn := make([]store.TranscriptMessage, 0, len(history)+2)
	turn = append(turn, history...)
	turn = append(turn, store.TranscriptMessage{Role: openai.ChatMessageRoleUser, Content: req.Input})
	return turn, nil
}

// save stores the completed transcript under a new response id.
func (c *ChatClient) save(ctx context.Context, req Request, turn []store.TranscriptMessage, reply string) (string, error) {
	id := c.newID()
	if !req.Store {
		return id, nil
	}
	full := append(turn, store.TranscriptMessage{Role: openai.ChatMessageRoleAssistant, Content: reply})
	if err := c.transcripts.PutTranscript(ctx, id, full); err != nil {
		return "", fmt.Errorf("saving transcript: %w", err)
	}
	return id, nil
}

// Create performs a non-streaming chat completion.
func (c *ChatClient) Create(ctx context.Context, req Request) (*Response, error) {
	turn, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toChatMessages(turn),
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}

	reply := resp.Choices[0].Message.Content
	id, err := c.save(ctx, req, turn, reply)
	if err != nil {
		return nil, err
	}
	return &Response{ID: id, Text: reply}, nil
}

// Stream opens a streaming chat completion. The Created event is emitted last,
// once the transcript behind its id has been saved.
func (c *ChatClient) Stream(ctx context.Context, req Request) (Stream, error) {
	turn, err := c.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: toChatMessages(turn),
		Stream:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion stream: %w", err)
	}

	return &chatStream{
		ctx:    ctx,
		client: c,
		req:    req,
		turn:   turn,
		stream: stream,
	}, nil
}

type chatStream struct {
	ctx    context.Context
	client *ChatClient
	req    Request
	turn   []store.TranscriptMessage
	stream *openai.ChatCompletionStream

	reply  strings.Builder
	event  Event
	err    error
	done   bool
	closed bool
}

func (s *chatStream) Next() bool {
	if s.done {
		return false
	}
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.done = true
			return s.finish()
		}
		if err != nil {
			s.done = true
			s.err = err
			return false
		}
		if len(resp.Choices) == 0 {
			continue
		}

		text := resp.Choices[0].Delta.Content
		s.reply.WriteString(text)
		s.event = Event{Kind: EventDelta, Text: text, Type: "chat.completion.chunk"}
		return true
	}
}

func (s *chatStream) finish() bool {
	id, err := s.client.save(s.ctx, s.req, s.turn, s.reply.String())
	if err != nil {
		s.err = err
		return false
	}
	s.event = Event{Kind: EventCreated, ResponseID: id, Type: "response.created"}
	return true
}

func (s *chatStream) Event() Event { return s.event }

func (s *chatStream) Err() error { return s.err }

func (s *chatStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.stream.Close()
}

var _ Client = (*ChatClient)(nil)
