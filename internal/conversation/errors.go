// ABOUTME: Error types for a conversation turn, one per failure class
// ABOUTME: Handlers match them with errors.As to pick the HTTP status or in-band fragment

package conversation

import "fmt"

// ValidationError reports a turn request missing required fields.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// StoreError reports a conversation store failure outside the finalizer.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// ProviderError reports a completion provider failure, either while opening
// the stream or mid-flight.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider: %v", e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// PersistenceError reports a failed finalizer write. By the time it is
// returned the reply has already been delivered.
type PersistenceError struct {
	ConversationID string
	Err            error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting conversation %s: %v", e.ConversationID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
