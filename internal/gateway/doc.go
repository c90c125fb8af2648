// Package gateway wires the chatroom-gateway server together.
//
// # Overview
//
// The Gateway owns the conversation store, the shared completion client,
// the conversation service, the optional per-user rate limiter, and the HTTP
// server. New builds everything from a config.Config; nothing that needs the
// network (AWS config, the API key, the provider) is contacted until the first
// request that needs it.
//
// # HTTP API
//
//   - GET /hello - Greeting with a server timestamp
//   - GET /conversations?user_id=U - The user's conversations, newest first
//   - POST /message - Run one turn; the reply streams back as raw text
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (store ping)
//
// Every other path answers 404 with {"error":"Not Found"}.
//
// # POST /message
//
// The body is {"user_id", "message", "conversation_id"?, "stream"?}. Errors
// found before the first byte is written map to JSON errors:
//
//   - 400: invalid JSON, or a missing user_id or message
//   - 429: the user's rate limit is exhausted
//   - 500: store lookup failure or the provider refused the request
//
// Once streaming starts the status is 200, the conversation id is in the
// X-Conversation-Id header, and each text fragment is flushed as it arrives.
// A provider failure mid-stream ends the body with a JSON error fragment.
// The turn is persisted after the stream ends, even if the client went away.
//
// With "stream": false the whole reply is returned as JSON.
//
// # Listeners
//
// The server listens on server.http_addr, or joins a tailnet via tsnet when
// tailscale.enabled is set (plain HTTP, HTTPS with Tailscale certs, or Funnel).
//
// # Shutdown
//
// Shutdown drains in-flight requests (and their persistence) before closing
// the store, the tailnet node and the limiter.
package gateway
