// ABOUTME: Credential resolution for the completion provider
// ABOUTME: Providers read from AWS Secrets Manager, the environment, or static config; Cached resolves once

package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/2389/chatroom-gateway/internal/lazy"
)

// ErrEmptySecret is returned when a secret resolves to an empty API key
var ErrEmptySecret = errors.New("secret resolved to an empty api key")

// Credential is what a secret resolves to.
type Credential struct {
	APIKey string
}

// Provider resolves a named secret into a Credential.
type Provider interface {
	Resolve(ctx context.Context, name string) (*Credential, error)
}

// Static always returns the configured key.
type Static struct {
	APIKey string
}

// Resolve implements Provider.
func (s Static) Resolve(ctx context.Context, name string) (*Credential, error) {
	if strings.TrimSpace(s.APIKey) == "" {
		return nil, fmt.Errorf("static secret %q: %w", name, ErrEmptySecret)
	}
	return &Credential{APIKey: s.APIKey}, nil
}

// Env reads the secret from the environment variable with the secret's name.
type Env struct {
	// Lookup defaults to os.LookupEnv
	Lookup func(string) (string, bool)
}

// Resolve implements Provider.
func (e Env) Resolve(ctx context.Context, name string) (*Credential, error) {
	lookup := e.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	val, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	if strings.TrimSpace(val) == "" {
		return nil, fmt.Errorf("environment variable %s: %w", name, ErrEmptySecret)
	}
	return &Credential{APIKey: val}, nil
}

// Cached resolves each secret name at most once per process.
// Failed resolutions are not cached so a later request can retry.
type Cached struct {
	provider Provider

	mu     sync.Mutex
	values map[string]*lazy.Value[*Credential]
}

// NewCached wraps a provider with a per-name cache.
func NewCached(provider Provider) *Cached {
	return &Cached{
		provider: provider,
		values:   make(map[string]*lazy.Value[*Credential]),
	}
}

// Resolve implements Provider.
func (c *Cached) Resolve(ctx context.Context, name string) (*Credential, error) {
	c.mu.Lock()
	v, ok := c.values[name]
	if !ok {
		v = lazy.New(func(ctx context.Context) (*Credential, error) {
			return c.provider.Resolve(ctx, name)
		})
		c.values[name] = v
	}
	c.mu.Unlock()

	return v.Get(ctx)
}
