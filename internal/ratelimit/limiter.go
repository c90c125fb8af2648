// ABOUTME: Per-key token-bucket rate limiting with an idle-TTL, size-bounded key table
// ABOUTME: Used by the HTTP gateway to cap how fast one user can start conversation turns

package ratelimit

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// entry holds one key's bucket and its position in the LRU list.
type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	element  *list.Element
}

// Limiter hands out one token bucket per key. Keys idle for longer than ttl are
// dropped by a background loop, and when the table is full the least recently
// used key is evicted. An evicted key starts again with a full bucket.
type Limiter struct {
	mu      sync.Mutex
	keys    map[string]*entry
	order   *list.List // least recently used at front
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	maxKeys int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a limiter allowing perSecond events per key with the given burst.
// A background goroutine removes idle keys; call Close to stop it.
func New(perSecond float64, burst int, ttl time.Duration, maxKeys int) *Limiter {
	l := &Limiter{
		keys:    make(map[string]*entry),
		order:   list.New(),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		ttl:     ttl,
		maxKeys: maxKeys,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Allow reports whether one event for key may happen now, consuming a token if so.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	return l.getLocked(key, now).AllowN(now, 1)
}

// Len returns the number of keys currently tracked.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

// getLocked returns key's bucket, creating it if needed. Must be called with mu held.
func (l *Limiter) getLocked(key string, now time.Time) *rate.Limiter {
	if e, ok := l.keys[key]; ok {
		e.lastSeen = now
		l.order.MoveToBack(e.element)
		return e.limiter
	}

	if l.maxKeys > 0 && len(l.keys) >= l.maxKeys {
		l.evictOldest()
	}

	e := &entry{
		limiter:  rate.NewLimiter(l.limit, l.burst),
		lastSeen: now,
	}
	e.element = l.order.PushBack(key)
	l.keys[key] = e
	return e.limiter
}

// evictOldest removes the least recently used key. Must be called with mu held.
func (l *Limiter) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.keys, key)
}

func (l *Limiter) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.runCleanup()
		case <-l.done:
			return
		}
	}
}

// runCleanup drops keys idle for longer than ttl. The list is in recency
// order, so it stops at the first key that is still fresh.
func (l *Limiter) runCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		key, _ := front.Value.(string)
		if now.Sub(l.keys[key].lastSeen) <= l.ttl {
			return
		}
		l.order.Remove(front)
		delete(l.keys, key)
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
