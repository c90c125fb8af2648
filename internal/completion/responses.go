// ABOUTME: Client for the OpenAI Responses API with server-side continuation
// ABOUTME: Built on the official openai-go SDK; maps its stream events onto the Event contract

package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// ResponsesConfig configures a ResponsesClient.
type ResponsesConfig struct {
	APIKey string

	// BaseURL defaults to the SDK's https://api.openai.com/v1/.
	BaseURL string
	Model   string

	// HTTPClient defaults to the SDK's client, which has no overall timeout;
	// streams are bounded by the caller's context instead.
	HTTPClient *http.Client

	// RequestTimeout bounds non-streaming calls. Zero means no extra bound.
	RequestTimeout time.Duration
}

// ResponsesClient talks to POST {base}/responses.
type ResponsesClient struct {
	client         openai.Client
	model          string
	requestTimeout time.Duration
}

// NewResponsesClient validates cfg and returns a client.
func NewResponsesClient(cfg ResponsesConfig) (*ResponsesClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("api key must be provided")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	// Retries stay with the caller; a retried stream could replay half a turn.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &ResponsesClient{
		client:         openai.NewClient(opts...),
		model:          model,
		requestTimeout: cfg.RequestTimeout,
	}, nil
}

func (c *ResponsesClient) params(req Request) responses.ResponseNewParams {
	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(c.model),
		Input: responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)},
		Store: openai.Bool(req.Store),
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}
	return params
}

// Create performs a non-streaming call and concatenates the message output text.
func (c *ResponsesClient) Create(ctx context.Context, req Request) (*Response, error) {
	if c.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	resp, err := c.client.Responses.New(ctx, c.params(req))
	if err != nil {
		return nil, providerError(err)
	}
	if resp.Status == responses.ResponseStatusFailed {
		return nil, &APIError{Message: resp.Error.Message}
	}

	var text strings.Builder
	for _, item := range resp.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				text.WriteString(part.Text)
			}
		}
	}

	return &Response{ID: resp.ID, Text: text.String()}, nil
}

// Stream opens a streaming call. The returned stream must be closed.
//
// The SDK reports HTTP failures on the first read, so Stream reads ahead one
// event: a call the provider refuses fails here, before any output exists.
func (c *ResponsesClient) Stream(ctx context.Context, req Request) (Stream, error) {
	s := &responsesStream{sdk: c.client.Responses.NewStreaming(ctx, c.params(req))}
	if !s.advance() && s.err != nil {
		s.Close()
		return nil, s.err
	}
	s.primed = true
	return s, nil
}

// providerError turns SDK errors into APIError where the provider answered.
func providerError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}
	return fmt.Errorf("responses request: %w", err)
}

// responsesStream adapts the SDK stream to Stream.
type responsesStream struct {
	sdk *ssestream.Stream[responses.ResponseStreamEventUnion]

	// primed means event already holds the read-ahead result of advance.
	primed  bool
	pending bool

	event    Event
	err      error
	done     bool
	terminal bool

	closeOnce sync.Once
	closeErr  error
}

func (s *responsesStream) Next() bool {
	if s.primed {
		s.primed = false
		if s.pending {
			s.pending = false
			return true
		}
		return false
	}
	return s.advance()
}

// advance reads one event. A stream that ends before response.completed or
// response.incomplete was truncated and fails with io.ErrUnexpectedEOF.
func (s *responsesStream) advance() bool {
	if s.done {
		return false
	}
	if s.sdk.Next() {
		ev := s.sdk.Current()
		switch ev.Type {
		case "response.created":
			s.event = Event{Kind: EventCreated, ResponseID: ev.AsResponseCreated().Response.ID, Type: ev.Type}
		case "response.output_text.delta":
			s.event = Event{Kind: EventDelta, Text: ev.AsResponseOutputTextDelta().Delta, Type: ev.Type}
		case "error":
			return s.fail(&APIError{Message: ev.AsError().Message})
		case "response.failed":
			return s.fail(&APIError{Message: ev.AsResponseFailed().Response.Error.Message})
		case "response.completed", "response.incomplete":
			s.terminal = true
			s.event = Event{Kind: EventOther, Type: ev.Type}
		default:
			s.event = Event{Kind: EventOther, Type: ev.Type}
		}
		s.pending = true
		return true
	}

	if err := s.sdk.Err(); err != nil {
		return s.fail(providerError(err))
	}
	if !s.terminal {
		return s.fail(fmt.Errorf("stream ended before response.completed: %w", io.ErrUnexpectedEOF))
	}
	s.done = true
	return false
}

func (s *responsesStream) fail(err error) bool {
	s.err = err
	s.done = true
	s.pending = false
	return false
}

func (s *responsesStream) Event() Event { return s.event }

func (s *responsesStream) Err() error { return s.err }

func (s *responsesStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.sdk.Close()
	})
	return s.closeErr
}

var _ Client = (*ResponsesClient)(nil)
