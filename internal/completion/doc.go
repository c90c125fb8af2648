// ABOUTME: Package documentation for the completion provider clients
// ABOUTME: Describes the two backends and the shared lazily-built client

// Package completion talks to the language model provider.
//
// Two backends implement Client:
//
//   - ResponsesClient speaks the Responses API directly. The provider keeps
//     conversation state server-side; each turn names the previous response id.
//   - ChatClient uses go-openai against any chat-completions endpoint and keeps
//     the transcript behind each response id in a store.TranscriptStore.
//
// Both expose turns as a Stream of tagged events: EventCreated carries the
// response id, EventDelta carries text and EventOther is everything else.
//
// Shared wraps either backend so that it is built once per process, after the
// API key has been resolved through a secrets.Provider.
package completion
