// ABOUTME: Package documentation for per-user rate limiting
// ABOUTME: Describes bucket semantics and key table bounds

// Package ratelimit provides per-key token buckets built on
// golang.org/x/time/rate.
//
// Each key (the gateway uses the user id) gets its own bucket that refills at
// a fixed rate up to a burst size. The key table is bounded two ways: keys
// idle longer than the TTL are removed every minute, and once MaxKeys is
// reached the least recently used key is evicted on insert.
package ratelimit
