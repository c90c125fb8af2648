// ABOUTME: Client commands that talk to a running gateway over its HTTP API
// ABOUTME: health checks liveness and readiness, ask streams one turn, conversations lists a user's chats

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/2389/chatroom-gateway/internal/config"
	"github.com/2389/chatroom-gateway/internal/gateway"
)

// gatewayURL returns the base URL for client commands.
// Priority: CHATROOM_GATEWAY_URL > server.http_addr from the config file > localhost:8080
func gatewayURL() string {
	if u := os.Getenv("CHATROOM_GATEWAY_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	cfg, err := config.Load(getConfigPath())
	if err != nil || cfg.Server.HTTPAddr == "" {
		return "http://localhost:8080"
	}
	return "http://" + cfg.Server.HTTPAddr
}

// parseFlags splits args into --name value pairs and positional arguments.
// Both "--name value" and "--name=value" are accepted.
func parseFlags(args []string, names ...string) (map[string]string, []string, error) {
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	flags := make(map[string]string)
	var rest []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			rest = append(rest, arg)
			continue
		}
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		flags[name] = value
	}
	return flags, rest, nil
}

func runHealth(ctx context.Context) error {
	base := gatewayURL()

	for _, path := range []string{"/health", "/health/ready"} {
		body, status, err := get(ctx, base+path)
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		if status != http.StatusOK {
			return fmt.Errorf("unhealthy: %s returned %d: %s", path, status, strings.TrimSpace(string(body)))
		}
	}

	fmt.Println("healthy")
	return nil
}

func runAsk(ctx context.Context, args []string) error {
	return ask(ctx, gatewayURL(), args, os.Stdout, os.Stderr)
}

func ask(ctx context.Context, base string, args []string, out, errOut io.Writer) error {
	flags, rest, err := parseFlags(args, "user", "conversation")
	if err != nil {
		return err
	}
	if flags["user"] == "" {
		return errors.New("--user flag is required")
	}
	if len(rest) == 0 {
		return errors.New("message is required")
	}

	payload, err := json.Marshal(gateway.MessageRequest{
		UserID:         flags["user"],
		Message:        strings.Join(rest, " "),
		ConversationID: flags["conversation"],
	})
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/message", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", resp.StatusCode, errorMessage(resp.Body))
	}

	// Conversation id goes to stderr so stdout carries only the reply
	fmt.Fprintln(errOut, color.HiBlackString("conversation: %s", resp.Header.Get("X-Conversation-Id")))

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("reading reply: %w", err)
	}
	fmt.Fprintln(out)
	return nil
}

func runConversations(ctx context.Context, args []string) error {
	return listConversations(ctx, gatewayURL(), args, os.Stdout)
}

func listConversations(ctx context.Context, base string, args []string, out io.Writer) error {
	flags, _, err := parseFlags(args, "user")
	if err != nil {
		return err
	}
	if flags["user"] == "" {
		return errors.New("--user flag is required")
	}

	body, status, err := get(ctx, base+"/conversations?user_id="+url.QueryEscape(flags["user"]))
	if err != nil {
		return fmt.Errorf("listing conversations: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("gateway returned %d: %s", status, errorMessage(bytes.NewReader(body)))
	}

	var convs []gateway.ConversationResponse
	if err := json.Unmarshal(body, &convs); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(convs) == 0 {
		fmt.Fprintln(out, "No conversations.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.ConversationID, c.Title, c.LastUpdatedAt)
	}
	return w.Flush()
}

func get(ctx context.Context, target string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// errorMessage extracts {"error": "..."} from a response body, or returns it raw.
func errorMessage(r io.Reader) string {
	body, _ := io.ReadAll(io.LimitReader(r, 4096))
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
