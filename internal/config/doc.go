// Package config handles configuration loading for chatroom-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by the .toml
// extension) with environment variable expansion, a few environment
// overrides, defaults, and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CHATROOM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/chatroom/gateway.yaml
//  3. ~/.config/chatroom/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	secrets:
//	  source: static
//	  value: "${OPENAI_API_KEY}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to the empty string.
//
// # Environment Overrides
//
// These variables replace the file's value when set and non-empty:
//
//	AWS_REGION_NAME             aws.region
//	DYNAMODB_TABLE_NAME         dynamodb.table
//	OPENAI_API_KEY_SECRET_NAME  secrets.name
//	CHATROOM_DB_PATH            database.path
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	provider:
//	  stream_timeout: "5m"
//	  request_timeout: "60s"
//	persistence:
//	  timeout: "10s"
//
// # Configuration Sections
//
// Store backend:
//
//	database:
//	  driver: dynamodb        # sqlite (default), sqlite3, postgres, dynamodb
//	  path: ./chatroom.db     # sqlite drivers
//	  dsn: postgres://...     # postgres
//	dynamodb:
//	  table: Conversations
//	  user_index: user-id-index
//	  transcript_table: ChatTranscripts  # needed by provider.api chat
//	  endpoint: http://localhost:8000    # optional, DynamoDB Local
//
// Completion provider and its key:
//
//	provider:
//	  api: responses          # or chat, for OpenAI-compatible chat completions
//	  base_url: https://api.openai.com/v1
//	  model: gpt-4o
//	secrets:
//	  source: aws             # aws, env (default), static
//	  name: prod/openai
//	  key: OPENAI_API_KEY     # JSON field inside the AWS secret
//
// Per-user rate limiting of POST /message:
//
//	ratelimit:
//	  enabled: true
//	  rate: 1                 # turns per second
//	  burst: 5
//	  idle_ttl: 10m
//	  max_keys: 10000
//
// Server, Tailscale and logging sections follow the same shape as the
// struct fields in this package.
package config
