// ABOUTME: Configuration loading and parsing for chatroom-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion, overrides and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied by Load when a field is left empty.
const (
	DefaultHTTPAddr       = "0.0.0.0:8080"
	DefaultDriver         = "sqlite"
	DefaultModel          = "gpt-4o"
	DefaultAPI            = "responses"
	DefaultSecretSource   = "env"
	DefaultSecretName     = "OPENAI_API_KEY"
	DefaultUserIndex      = "user-id-index"
	DefaultStreamTimeout  = 5 * time.Minute
	DefaultRequestTimeout = 60 * time.Second
	DefaultPersistTimeout = 10 * time.Second
	DefaultRateLimitTTL   = 10 * time.Minute
	DefaultRateLimitKeys  = 10000
)

// Config represents the complete chatroom-gateway configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Tailscale   TailscaleConfig   `yaml:"tailscale" toml:"tailscale"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	AWS         AWSConfig         `yaml:"aws" toml:"aws"`
	DynamoDB    DynamoDBConfig    `yaml:"dynamodb" toml:"dynamodb"`
	Provider    ProviderConfig    `yaml:"provider" toml:"provider"`
	Secrets     SecretsConfig     `yaml:"secrets" toml:"secrets"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" toml:"ratelimit"`
	Persistence PersistenceConfig `yaml:"persistence" toml:"persistence"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr    string   `yaml:"http_addr" toml:"http_addr"`
	CORSOrigins []string `yaml:"cors_origins" toml:"cors_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve :443 with Tailscale-issued certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// DatabaseConfig selects the conversation store backend
type DatabaseConfig struct {
	// Driver is one of sqlite, sqlite3, postgres or dynamodb
	Driver string `yaml:"driver" toml:"driver"`
	// Path is the SQLite database file
	Path string `yaml:"path" toml:"path"`
	// DSN is the postgres connection string
	DSN string `yaml:"dsn" toml:"dsn"`
}

// AWSConfig holds shared AWS settings
type AWSConfig struct {
	Region string `yaml:"region" toml:"region"`
}

// DynamoDBConfig names the DynamoDB tables
type DynamoDBConfig struct {
	Table           string `yaml:"table" toml:"table"`
	UserIndex       string `yaml:"user_index" toml:"user_index"`
	TranscriptTable string `yaml:"transcript_table" toml:"transcript_table"`
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local
	Endpoint string `yaml:"endpoint" toml:"endpoint"`
}

// ProviderConfig configures the completion provider
type ProviderConfig struct {
	API     string `yaml:"api" toml:"api"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
	Model   string `yaml:"model" toml:"model"`

	StreamTimeout  time.Duration `yaml:"-" toml:"-"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	StreamTimeoutRaw  string `yaml:"stream_timeout" toml:"stream_timeout"`
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
}

// SecretsConfig says where the provider API key comes from
type SecretsConfig struct {
	// Source is one of aws, env or static
	Source string `yaml:"source" toml:"source"`
	// Name is the Secrets Manager secret id or the environment variable name
	Name string `yaml:"name" toml:"name"`
	// Key is the JSON field inside an AWS secret
	Key string `yaml:"key" toml:"key"`
	// Value is the key itself, for source static
	Value string `yaml:"value" toml:"value"`
}

// RateLimitConfig holds per-user rate limiting for POST /message
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" toml:"enabled"`
	Rate    float64 `yaml:"rate" toml:"rate"` // turns per second
	Burst   int     `yaml:"burst" toml:"burst"`
	MaxKeys int     `yaml:"max_keys" toml:"max_keys"`

	IdleTTL    time.Duration `yaml:"-" toml:"-"`
	IdleTTLRaw string        `yaml:"idle_ttl" toml:"idle_ttl"`
}

// PersistenceConfig bounds the post-stream conversation write
type PersistenceConfig struct {
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg, os.LookupEnv)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets the deployment environment win over the file.
func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("AWS_REGION_NAME"); ok && v != "" {
		cfg.AWS.Region = v
	}
	if v, ok := lookup("DYNAMODB_TABLE_NAME"); ok && v != "" {
		cfg.DynamoDB.Table = v
	}
	if v, ok := lookup("OPENAI_API_KEY_SECRET_NAME"); ok && v != "" {
		cfg.Secrets.Name = v
	}
	if v, ok := lookup("CHATROOM_DB_PATH"); ok && v != "" {
		cfg.Database.Path = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DefaultDriver
	}
	if cfg.DynamoDB.UserIndex == "" {
		cfg.DynamoDB.UserIndex = DefaultUserIndex
	}
	if cfg.Provider.API == "" {
		cfg.Provider.API = DefaultAPI
	}
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = DefaultModel
	}
	if cfg.Provider.StreamTimeout == 0 {
		cfg.Provider.StreamTimeout = DefaultStreamTimeout
	}
	if cfg.Provider.RequestTimeout == 0 {
		cfg.Provider.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Secrets.Source == "" {
		cfg.Secrets.Source = DefaultSecretSource
	}
	if cfg.Secrets.Name == "" {
		cfg.Secrets.Name = DefaultSecretName
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit.Rate = 1
	}
	if cfg.RateLimit.Burst == 0 {
		cfg.RateLimit.Burst = 5
	}
	if cfg.RateLimit.IdleTTL == 0 {
		cfg.RateLimit.IdleTTL = DefaultRateLimitTTL
	}
	if cfg.RateLimit.MaxKeys == 0 {
		cfg.RateLimit.MaxKeys = DefaultRateLimitKeys
	}
	if cfg.Persistence.Timeout == 0 {
		cfg.Persistence.Timeout = DefaultPersistTimeout
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %s", c.Database.Driver)
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver postgres")
		}
	case "dynamodb":
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb.table is required for driver dynamodb")
		}
		if c.Provider.API == "chat" && c.DynamoDB.TranscriptTable == "" {
			return fmt.Errorf("dynamodb.transcript_table is required when provider.api is chat")
		}
	default:
		return fmt.Errorf("database.driver %q is not one of sqlite, sqlite3, postgres, dynamodb", c.Database.Driver)
	}

	switch c.Provider.API {
	case "responses", "chat":
	default:
		return fmt.Errorf("provider.api %q is not one of responses, chat", c.Provider.API)
	}

	switch c.Secrets.Source {
	case "aws":
		if c.Secrets.Name == "" {
			return fmt.Errorf("secrets.name is required for source aws")
		}
	case "env":
	case "static":
		if c.Secrets.Value == "" {
			return fmt.Errorf("secrets.value is required for source static")
		}
	default:
		return fmt.Errorf("secrets.source %q is not one of aws, env, static", c.Secrets.Source)
	}

	if c.RateLimit.Enabled && (c.RateLimit.Rate <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("ratelimit.rate and ratelimit.burst must be positive")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"provider.stream_timeout", cfg.Provider.StreamTimeoutRaw, &cfg.Provider.StreamTimeout},
		{"provider.request_timeout", cfg.Provider.RequestTimeoutRaw, &cfg.Provider.RequestTimeout},
		{"ratelimit.idle_ttl", cfg.RateLimit.IdleTTLRaw, &cfg.RateLimit.IdleTTL},
		{"persistence.timeout", cfg.Persistence.TimeoutRaw, &cfg.Persistence.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
