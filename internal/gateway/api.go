// ABOUTME: HTTP API handlers for the chat backend: hello, conversation listing and messaging
// ABOUTME: POST /message streams the reply as raw text fragments and persists the turn afterwards

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/2389/chatroom-gateway/internal/conversation"
	"github.com/2389/chatroom-gateway/internal/store"
)

// Fixed response messages
const (
	helloMessage       = "Hello from your AI Chatroom backend."
	missingFieldsError = "user_id and message are required!"
	internalError      = "internal server error"
)

// MessageRequest is the JSON request body for POST /message.
type MessageRequest struct {
	UserID         string `json:"user_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`

	// Stream defaults to true; false returns the whole reply as JSON
	Stream *bool `json:"stream,omitempty"`
}

// HelloResponse is the JSON response for GET /hello.
type HelloResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// ConversationResponse is one element of the GET /conversations response.
type ConversationResponse struct {
	ConversationID   string `json:"conversation_id"`
	UserID           string `json:"user_id"`
	LatestResponseID string `json:"latest_response_id"`
	Title            string `json:"title"`
	CreatedAt        string `json:"created_at"`
	LastUpdatedAt    string `json:"last_updated_at"`
}

// registerRoutes adds the chat API to mux. Unknown paths get a JSON 404.
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/hello", g.handleHello)
	mux.HandleFunc("/conversations", g.handleConversations)
	mux.HandleFunc("/message", g.handleMessage)
	mux.HandleFunc("/", g.handleNotFound)
}

// withCORS adds CORS headers and answers preflight requests.
func (g *Gateway) withCORS(next http.Handler) http.Handler {
	origins := g.config.Server.CORSOrigins
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case allowAll:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(origins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Expose-Headers", "X-Conversation-Id")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHello handles GET /hello, a liveness check for clients.
func (g *Gateway) handleHello(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	g.sendJSON(w, http.StatusOK, HelloResponse{
		Status:    "OK",
		Message:   helloMessage,
		Timestamp: g.now().UTC().Format(time.RFC3339),
	})
}

// handleConversations handles GET /conversations?user_id=U.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "user_id query parameter is required")
		return
	}

	convs, err := g.conversation.ListConversations(r.Context(), userID)
	if err != nil {
		g.logger.Error("failed to list conversations", "user_id", userID, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, internalError)
		return
	}

	resp := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		resp = append(resp, toConversationResponse(c))
	}
	g.sendJSON(w, http.StatusOK, resp)
}

func toConversationResponse(c *store.Conversation) ConversationResponse {
	return ConversationResponse{
		ConversationID:   c.ConversationID,
		UserID:           c.UserID,
		LatestResponseID: c.LatestResponseID,
		Title:            c.Title,
		CreatedAt:        store.FormatTime(c.CreatedAt),
		LastUpdatedAt:    store.FormatTime(c.LastUpdatedAt),
	}
}

// handleMessage handles POST /message.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		g.sendJSONError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	turnReq := conversation.TurnRequest{
		UserID:         req.UserID,
		Message:        req.Message,
		ConversationID: req.ConversationID,
	}
	if err := turnReq.Validate(); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, missingFieldsError)
		return
	}

	if g.limiter != nil && !g.limiter.Allow(req.UserID) {
		g.logger.Warn("rate limit exceeded", "user_id", req.UserID)
		w.Header().Set("Retry-After", "1")
		g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	ctx := r.Context()
	if timeout := g.config.Provider.StreamTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if req.Stream != nil && !*req.Stream {
		g.replyJSON(ctx, w, turnReq)
		return
	}
	g.streamReply(ctx, w, turnReq)
}

// streamReply runs a streaming turn, writing each fragment as it arrives.
func (g *Gateway) streamReply(ctx context.Context, w http.ResponseWriter, req conversation.TurnRequest) {
	// Check streaming support before starting the turn (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	turn, err := g.conversation.Begin(ctx, req)
	if err != nil {
		g.sendTurnError(w, err)
		return
	}
	// Persistence failures are logged by the finalizer; the reply is already out.
	defer func() { _ = turn.Close() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Conversation-Id", turn.ConversationID())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for chunk := range turn.Chunks() {
		if _, err := w.Write(chunk); err != nil {
			g.logger.Debug("client went away mid-stream", "conversation_id", turn.ConversationID(), "error", err)
			return
		}
		flusher.Flush()
	}
}

// replyJSON runs a non-streaming turn and writes the whole reply.
func (g *Gateway) replyJSON(ctx context.Context, w http.ResponseWriter, req conversation.TurnRequest) {
	reply, err := g.conversation.Reply(ctx, req)

	var persistErr *conversation.PersistenceError
	if err != nil && !(errors.As(err, &persistErr) && reply != nil) {
		g.sendTurnError(w, err)
		return
	}

	w.Header().Set("X-Conversation-Id", reply.ConversationID)
	g.sendJSON(w, http.StatusOK, reply)
}

// sendTurnError maps a turn error raised before any reply byte was written.
func (g *Gateway) sendTurnError(w http.ResponseWriter, err error) {
	var (
		validationErr *conversation.ValidationError
		storeErr      *conversation.StoreError
		providerErr   *conversation.ProviderError
	)
	switch {
	case errors.As(err, &validationErr):
		g.sendJSONError(w, http.StatusBadRequest, missingFieldsError)
	case errors.As(err, &storeErr):
		g.logger.Error("store failure before streaming", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, internalError)
	case errors.As(err, &providerErr):
		g.logger.Error("completion provider failure", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "completion provider error")
	default:
		g.logger.Error("turn failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, internalError)
	}
}

// handleNotFound answers every unregistered path.
func (g *Gateway) handleNotFound(w http.ResponseWriter, r *http.Request) {
	g.sendJSONError(w, http.StatusNotFound, "Not Found")
}

// sendJSON writes v as a JSON response.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.sendJSON(w, status, map[string]string{"error": message})
}
