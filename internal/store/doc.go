// Package store provides persistent storage for conversation records.
//
// # Architecture
//
// Two interfaces describe what the rest of the gateway needs:
//
//   - Store: one record per conversation, looked up by id and listed by user
//   - TranscriptStore: chat transcripts keyed by response id, used only when the
//     completion backend cannot continue a conversation server-side
//
// Implementations:
//
//   - SQLStore: database/sql with the "sqlite" (modernc.org/sqlite), "sqlite3"
//     (github.com/mattn/go-sqlite3, cgo builds only) or "postgres"
//     (github.com/lib/pq) driver. The schema is created on open.
//   - DynamoStore: DynamoDB through aws-sdk-go-v2. The client is built lazily on
//     first use.
//   - MockStore: in-memory, for tests.
//
// # Data Model
//
//   - Conversation: conversation_id, user_id, latest_response_id, title,
//     created_at, last_updated_at
//   - TranscriptMessage: role and content of one chat message
//
// # Writes
//
// Each turn performs exactly one write: CreateConversation for a new
// conversation or UpdateConversation for an existing one. Both are single
// statements (or single conditional DynamoDB requests), so a failed turn never
// leaves a partial record. CreateConversation reports ErrDuplicateConversation
// when the id is taken; UpdateConversation reports ErrNotFound when the record
// is missing.
//
// # Ordering
//
// Timestamps are stored as fixed-width UTC strings (TimeFormat), so ordering by
// the stored text is chronological. ListConversations returns the most recently
// updated conversation first. The DynamoDB table needs a global secondary index
// (default "user-id-index") with user_id as hash key and last_updated_at as
// range key.
package store
