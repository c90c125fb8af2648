// ABOUTME: Process-wide completion client built on first use
// ABOUTME: Resolves the API key through a secret provider and picks the configured backend

package completion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/chatroom-gateway/internal/lazy"
	"github.com/2389/chatroom-gateway/internal/secrets"
	"github.com/2389/chatroom-gateway/internal/store"
)

// Backend names accepted in Options.API
const (
	APIResponses = "responses"
	APIChat      = "chat"
)

// Options describes how to build the shared client.
type Options struct {
	API        string // APIResponses (default) or APIChat
	BaseURL    string
	Model      string
	SecretName string
	Secrets    secrets.Provider

	// Transcripts is required by the chat backend
	Transcripts store.TranscriptStore

	HTTPClient     *http.Client
	RequestTimeout time.Duration
}

// Shared is a Client whose underlying backend is constructed once, on the first
// call, and reused by every later turn. A failed build is retried next time.
type Shared struct {
	client *lazy.Value[Client]
}

// NewShared returns a Shared client built from opts on first use.
func NewShared(opts Options) *Shared {
	return &Shared{client: lazy.New(func(ctx context.Context) (Client, error) {
		return build(ctx, opts)
	})}
}

// NewSharedWithClient wraps an already-built client.
func NewSharedWithClient(c Client) *Shared {
	return &Shared{client: lazy.Of(c)}
}

func build(ctx context.Context, opts Options) (Client, error) {
	if opts.Secrets == nil {
		return nil, fmt.Errorf("no secret provider configured")
	}
	cred, err := opts.Secrets.Resolve(ctx, opts.SecretName)
	if err != nil {
		return nil, fmt.Errorf("resolving api key: %w", err)
	}

	slog.Info("completion client initialized", "api", apiName(opts.API), "model", opts.Model)

	switch opts.API {
	case "", APIResponses:
		return NewResponsesClient(ResponsesConfig{
			APIKey:         cred.APIKey,
			BaseURL:        opts.BaseURL,
			Model:          opts.Model,
			HTTPClient:     opts.HTTPClient,
			RequestTimeout: opts.RequestTimeout,
		})
	case APIChat:
		return NewChatClient(ChatConfig{
			APIKey:      cred.APIKey,
			BaseURL:     opts.BaseURL,
			Model:       opts.Model,
			HTTPClient:  opts.HTTPClient,
			Transcripts: opts.Transcripts,
		})
	default:
		return nil, fmt.Errorf("unknown completion api %q", opts.API)
	}
}

func apiName(api string) string {
	if api == "" {
		return APIResponses
	}
	return api
}

// Create implements Client.
func (s *Shared) Create(ctx context.Context, req Request) (*Response, error) {
	c, err := s.client.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Create(ctx, req)
}

// Stream implements Client.
func (s *Shared) Stream(ctx context.Context, req Request) (Stream, error) {
	c, err := s.client.Get(ctx)
	if err != nil {
		return nil, err
	}
	return c.Stream(ctx, req)
}

// Ready reports whether the backend has been built.
func (s *Shared) Ready() bool {
	return s.client.Loaded()
}

var _ Client = (*Shared)(nil)
