// ABOUTME: Package documentation for the conversation turn pipeline
// ABOUTME: Explains the resolve, relay and finalize stages and their failure rules

// Package conversation runs a single chat turn end to end.
//
// # Stages
//
// A turn passes through three stages:
//
//  1. Resolver: validates the request and decides whether it starts a new
//     conversation or continues one. A conversation id that the store does not
//     know is not an error; the turn becomes a new conversation under that id.
//  2. Relay: opens the provider stream with the previous response id and yields
//     text fragments in the order the provider sent them. The provider's
//     response id is captured as it passes. A mid-stream failure yields one
//     JSON error fragment and ends the sequence.
//  3. Finalizer: after the stream ends, for any reason, writes the captured
//     response id. New conversations are created with a title taken from the
//     first message; existing ones only advance latest_response_id and
//     last_updated_at. Nothing is written when no response id was captured.
//
// # Usage
//
//	turn, err := svc.Begin(ctx, req)
//	if err != nil {
//		// nothing was sent; map err to a status code
//	}
//	defer turn.Close()
//	for chunk := range turn.Chunks() {
//		w.Write(chunk)
//	}
//
// Errors are typed: *ValidationError, *StoreError, *ProviderError and
// *PersistenceError.
package conversation
