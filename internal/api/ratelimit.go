package api

import (
	"sync"
	"time"
)

// callRateLimiter caps paid service calls per session over a sliding window.
type callRateLimiter struct {
	limit  int
	window time.Duration
	mu     sync.Mutex
	hits   map[string][]time.Time
	swept  time.Time
}

func newCallRateLimiter(limit int, window time.Duration) *callRateLimiter {
	return &callRateLimiter{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

func (l *callRateLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := now.Add(-l.window)
	if now.Sub(l.swept) >= l.window {
		l.sweep(cutoff)
		l.swept = now
	}
	queue := l.hits[key]
	idx := 0
	for _, t := range queue {
		if t.After(cutoff) {
			break
		}
		idx++
	}
	if idx > 0 {
		queue = queue[idx:]
	}
	if len(queue) >= l.limit {
		l.hits[key] = queue
		return false
	}
	l.hits[key] = append(queue, now)
	return true
}

// sweep drops keys with no hit inside the window, such as sessions that
// left memory without an explicit delete.
func (l *callRateLimiter) sweep(cutoff time.Time) {
	for key, queue := range l.hits {
		if len(queue) == 0 || !queue[len(queue)-1].After(cutoff) {
			delete(l.hits, key)
		}
	}
}

// Forget drops the history of key.
func (l *callRateLimiter) Forget(key string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	delete(l.hits, key)
	l.mu.Unlock()
}
