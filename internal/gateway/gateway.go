// ABOUTME: Gateway orchestrator that wires the store, completion client and HTTP server
// ABOUTME: Manages listeners (TCP or Tailscale), health endpoints and graceful shutdown

package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/chatroom-gateway/internal/completion"
	"github.com/2389/chatroom-gateway/internal/config"
	"github.com/2389/chatroom-gateway/internal/conversation"
	"github.com/2389/chatroom-gateway/internal/lazy"
	"github.com/2389/chatroom-gateway/internal/ratelimit"
	"github.com/2389/chatroom-gateway/internal/secrets"
	"github.com/2389/chatroom-gateway/internal/store"
)

// Gateway orchestrates the chatroom-gateway server components.
type Gateway struct {
	config       *config.Config
	store        store.Store
	conversation *conversation.Service
	httpServer   *http.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger

	// limiter caps POST /message per user; nil when rate limiting is disabled
	limiter *ratelimit.Limiter

	// now is the clock for response timestamps
	now func() time.Time
}

// newAWSConfig returns a lazily loaded AWS config shared by every AWS client.
func newAWSConfig(cfg *config.Config) *lazy.Value[aws.Config] {
	return lazy.New(func(ctx context.Context) (aws.Config, error) {
		var opts []func(*awsconfig.LoadOptions) error
		if cfg.AWS.Region != "" {
			opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
		}
		return awsCfg, nil
	})
}

// initStore opens the configured conversation store backend.
func initStore(cfg *config.Config, awsCfg *lazy.Value[aws.Config]) (store.Store, error) {
	switch cfg.Database.Driver {
	case store.DriverSQLite, store.DriverSQLite3:
		s, err := store.NewSQLStore(cfg.Database.Driver, cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening %s store: %w", cfg.Database.Driver, err)
		}
		return s, nil
	case store.DriverPostgres:
		s, err := store.NewSQLStore(store.DriverPostgres, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	case "dynamodb":
		endpoint := cfg.DynamoDB.Endpoint
		s, err := store.NewDynamoStore(store.DynamoConfig{
			Table:           cfg.DynamoDB.Table,
			UserIndex:       cfg.DynamoDB.UserIndex,
			TranscriptTable: cfg.DynamoDB.TranscriptTable,
		}, func(ctx context.Context) (store.DynamoAPI, error) {
			c, err := awsCfg.Get(ctx)
			if err != nil {
				return nil, err
			}
			return dynamodb.NewFromConfig(c, func(o *dynamodb.Options) {
				if endpoint != "" {
					o.BaseEndpoint = aws.String(endpoint)
				}
			}), nil
		})
		if err != nil {
			return nil, fmt.Errorf("opening dynamodb store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// initSecrets builds the cached provider for the completion API key.
func initSecrets(cfg *config.Config, awsCfg *lazy.Value[aws.Config]) (secrets.Provider, error) {
	var provider secrets.Provider
	switch cfg.Secrets.Source {
	case "aws":
		provider = secrets.NewSecretsManager(cfg.Secrets.Key, func(ctx context.Context) (secrets.SecretsManagerAPI, error) {
			c, err := awsCfg.Get(ctx)
			if err != nil {
				return nil, err
			}
			return secretsmanager.NewFromConfig(c), nil
		})
	case "env", "":
		provider = secrets.Env{}
	case "static":
		provider = secrets.Static{APIKey: cfg.Secrets.Value}
	default:
		return nil, fmt.Errorf("unsupported secrets source %q", cfg.Secrets.Source)
	}
	return secrets.NewCached(provider), nil
}

// initProvider builds the shared completion client. It is not contacted and
// no secret is resolved until the first turn.
func initProvider(cfg *config.Config, s store.Store, provider secrets.Provider) (completion.Client, error) {
	opts := completion.Options{
		API:            cfg.Provider.API,
		BaseURL:        cfg.Provider.BaseURL,
		Model:          cfg.Provider.Model,
		SecretName:     cfg.Secrets.Name,
		Secrets:        provider,
		RequestTimeout: cfg.Provider.RequestTimeout,
	}
	if cfg.Provider.API == completion.APIChat {
		transcripts, ok := s.(store.TranscriptStore)
		if !ok {
			return nil, errors.New("provider.api chat needs a store that keeps transcripts")
		}
		opts.Transcripts = transcripts
	}
	return completion.NewShared(opts), nil
}

// New creates a new Gateway instance with the given configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	awsCfg := newAWSConfig(cfg)

	s, err := initStore(cfg, awsCfg)
	if err != nil {
		return nil, err
	}

	provider, err := initSecrets(cfg, awsCfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	client, err := initProvider(cfg, s, provider)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	logger.Info("gateway configured",
		"driver", cfg.Database.Driver,
		"provider_api", cfg.Provider.API,
		"model", cfg.Provider.Model,
		"secrets", cfg.Secrets.Source,
		"ratelimit", cfg.RateLimit.Enabled,
	)
	return newGateway(cfg, s, client, logger), nil
}

// newGateway assembles a Gateway around already-built dependencies.
func newGateway(cfg *config.Config, s store.Store, client completion.Client, logger *slog.Logger) *Gateway {
	gw := &Gateway{
		config: cfg,
		store:  s,
		conversation: conversation.New(s, client, logger, conversation.Options{
			PersistTimeout: cfg.Persistence.Timeout,
		}),
		logger: logger.With("component", "gateway"),
		now:    time.Now,
	}

	if cfg.RateLimit.Enabled {
		gw.limiter = ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Burst, cfg.RateLimit.IdleTTL, cfg.RateLimit.MaxKeys)
	}

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health", gw.handleHealth)
	mux.HandleFunc("/health/ready", gw.handleReady)

	gw.registerRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           gw.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw
}

// Handler returns the gateway's root HTTP handler.
func (g *Gateway) Handler() http.Handler {
	return g.httpServer.Handler
}

// setupTCPListener creates a standard TCP listener for HTTP.
func (g *Gateway) setupTCPListener() (net.Listener, error) {
	g.logger.Info("starting gateway", "http_addr", g.config.Server.HTTPAddr)

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// setupListener creates the HTTP listener based on configuration (Tailscale or TCP).
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}
	return g.setupTCPListener()
}

// startServer starts the HTTP server in a goroutine, returning its error channel.
func (g *Gateway) startServer(ln net.Listener) chan error {
	errCh := make(chan error, 1)

	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	return errCh
}

// Run starts the gateway and blocks until the context is canceled.
// Returns nil on graceful shutdown (context canceled), or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := g.startServer(ln)

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()

	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "chatroom-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListener joins the tailnet and returns the HTTP listener.
func (g *Gateway) setupTailscaleListener(ctx context.Context) (net.Listener, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	return g.createTailscaleHTTPListener(tsCfg)
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// createTailscaleHTTPListener creates the appropriate HTTP listener based on config.
func (g *Gateway) createTailscaleHTTPListener(tsCfg config.TailscaleConfig) (net.Listener, error) {
	switch {
	case tsCfg.Funnel:
		g.logger.Info("enabling tailscale funnel (public HTTPS) on :443")
		ln, err := g.tsnetServer.ListenFunnel("tcp", ":443")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale funnel port: %w", err)
		}
		return ln, nil
	case tsCfg.HTTPS:
		return g.createTailscaleTLSListener()
	default:
		ln, err := g.tsnetServer.Listen("tcp", ":80")
		if err != nil {
			_ = g.tsnetServer.Close()
			return nil, fmt.Errorf("listening on tailscale HTTP port: %w", err)
		}
		return ln, nil
	}
}

// createTailscaleTLSListener creates a TLS listener using Tailscale's auto-provisioned certs.
func (g *Gateway) createTailscaleTLSListener() (net.Listener, error) {
	g.logger.Info("enabling HTTPS with Tailscale certs on :443")
	ln, err := g.tsnetServer.Listen("tcp", ":443")
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("listening on tailscale HTTPS port: %w", err)
	}
	lc, err := g.tsnetServer.LocalClient()
	if err != nil {
		_ = ln.Close()
		_ = g.tsnetServer.Close()
		return nil, fmt.Errorf("getting tailscale local client: %w", err)
	}
	return tls.NewListener(ln, &tls.Config{
		GetCertificate: lc.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}), nil
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the HTTP server and releases resources.
// In-flight turns finish (and persist) before the store is closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}
	errs = appendCloseError(errs, "store close", g.store.Close())

	if g.limiter != nil {
		g.limiter.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if the conversation store is reachable.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := g.store.Ping(ctx); err != nil {
		g.logger.Warn("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
