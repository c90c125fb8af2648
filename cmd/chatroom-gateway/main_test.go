// ABOUTME: Tests for the gateway binary's flag parsing, client commands and log handler
// ABOUTME: Client commands run against an httptest server standing in for the gateway

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/2389/chatroom-gateway/internal/config"
	"github.com/2389/chatroom-gateway/internal/gateway"
)

func TestGetConfigPath(t *testing.T) {
	t.Setenv("CHATROOM_CONFIG", "/etc/chatroom.yaml")
	assert.Equal(t, "/etc/chatroom.yaml", getConfigPath())

	t.Setenv("CHATROOM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "chatroom", "gateway.yaml"), getConfigPath())
}

func TestParseFlags(t *testing.T) {
	flags, rest, err := parseFlags([]string{"--user", "alice", "hello", "--conversation=c1", "world"}, "user", "conversation")
	require.NoError(t, err)
	assert.Equal(t, "alice", flags["user"])
	assert.Equal(t, "c1", flags["conversation"])
	assert.Equal(t, []string{"hello", "world"}, rest)

	_, _, err = parseFlags([]string{"--bogus", "x"}, "user")
	assert.ErrorContains(t, err, "unknown flag")

	_, _, err = parseFlags([]string{"--user"}, "user")
	assert.ErrorContains(t, err, "requires a value")
}

func TestAsk(t *testing.T) {
	var got gateway.MessageRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/message", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("X-Conversation-Id", "conv-42")
		w.Write([]byte("Hi "))
		w.Write([]byte("there"))
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	err := ask(context.Background(), srv.URL, []string{"--user", "alice", "--conversation", "conv-42", "how", "are", "you"}, &out, &errOut)
	require.NoError(t, err)

	assert.Equal(t, "alice", got.UserID)
	assert.Equal(t, "how are you", got.Message)
	assert.Equal(t, "conv-42", got.ConversationID)
	assert.Equal(t, "Hi there\n", out.String())
	assert.Contains(t, errOut.String(), "conv-42")
}

func TestAsk_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"user_id and message are required!"}`))
	}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	err := ask(context.Background(), srv.URL, []string{"hello"}, &out, &errOut)
	assert.ErrorContains(t, err, "--user flag is required")

	err = ask(context.Background(), srv.URL, []string{"--user", "alice"}, &out, &errOut)
	assert.ErrorContains(t, err, "message is required")

	err = ask(context.Background(), srv.URL, []string{"--user", "alice", "hi"}, &out, &errOut)
	assert.ErrorContains(t, err, "gateway returned 400: user_id and message are required!")
}

func TestListConversations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bob smith", r.URL.Query().Get("user_id"))
		json.NewEncoder(w).Encode([]gateway.ConversationResponse{
			{ConversationID: "c2", Title: "Planning the trip...", LastUpdatedAt: "2024-01-02T00:00:00.000000Z"},
			{ConversationID: "c1", Title: "hi", LastUpdatedAt: "2024-01-01T00:00:00.000000Z"},
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listConversations(context.Background(), srv.URL, []string{"--user", "bob smith"}, &out))

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Contains(t, string(lines[0]), "TITLE")
	assert.Contains(t, string(lines[1]), "c2")
	assert.Contains(t, string(lines[1]), "Planning the trip...")
	assert.Contains(t, string(lines[2]), "c1")
}

func TestListConversations_Empty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, listConversations(context.Background(), srv.URL, []string{"--user", "nobody"}, &out))
	assert.Equal(t, "No conversations.\n", out.String())
}

func TestInitConfig(t *testing.T) {
	t.Setenv("CHATROOM_DB_PATH", "")
	dir := t.TempDir()
	answers := map[string]string{
		"HTTP address":      "0.0.0.0:9000",
		"Enable Tailscale?": "y",
		"Ephemeral node?":   "yes",
	}
	ask := func(question, defaultVal string) string {
		if a, ok := answers[question]; ok {
			return a
		}
		return defaultVal
	}

	cfg := initConfig(ask, filepath.Join(dir, "chatroom.db"))
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Tailscale.Enabled)
	assert.Equal(t, "chatroom", cfg.Tailscale.Hostname)
	assert.True(t, cfg.Tailscale.Ephemeral)
	assert.False(t, cfg.Tailscale.Funnel)

	data, err := yaml.Marshal(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, data, 0600))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", loaded.Server.HTTPAddr)
	assert.Equal(t, filepath.Join(dir, "chatroom.db"), loaded.Database.Path)
	assert.Equal(t, config.DefaultModel, loaded.Provider.Model)
	assert.Equal(t, "info", loaded.Logging.Level)
}

func TestPrintStartup(t *testing.T) {
	color.NoColor = true

	cfg := &config.Config{}
	cfg.Server.HTTPAddr = "localhost:8080"
	cfg.Database.Driver = "dynamodb"
	cfg.DynamoDB.Table = "Conversations"
	cfg.Provider.API = "responses"
	cfg.Provider.Model = "gpt-4o"

	var buf bytes.Buffer
	printStartup(&buf, "/etc/chatroom.yaml", cfg)
	out := buf.String()
	assert.Contains(t, out, "/etc/chatroom.yaml")
	assert.Contains(t, out, "localhost:8080")
	assert.Contains(t, out, "dynamodb Conversations")
	assert.Contains(t, out, "gpt-4o via responses")

	cfg.Tailscale.Enabled = true
	cfg.Tailscale.Hostname = "chatroom"
	cfg.Tailscale.Funnel = true
	buf.Reset()
	printStartup(&buf, "/etc/chatroom.yaml", cfg)
	assert.Contains(t, buf.String(), "tailnet chatroom [funnel]")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelError, parseLevel(" error "))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
	assert.Equal(t, slog.LevelInfo, parseLevel("chatty"))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newHandler(config.LoggingConfig{Level: "info"}, &buf))

	logger.Debug("hidden")
	logger.With("component", "gateway").WithGroup("turn").Info("persisted", "conversation_id", "c1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF persisted")
	assert.Contains(t, out, "component=gateway")
	assert.Contains(t, out, "turn.conversation_id=c1")
}

func TestJSONHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newHandler(config.LoggingConfig{Level: "warn", Format: "json"}, &buf))

	logger.Info("skipped")
	logger.Warn("rate limit exceeded", "user_id", "alice")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "rate limit exceeded", entry["msg"])
	assert.Equal(t, "alice", entry["user_id"])
}
