// Package ratelimit provides per-client-IP rate limiting.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	requestsPerSecond float64
	burst             int

	buckets    map[string]*bucket
	bucketsMu  sync.RWMutex
	lastClean  time.Time
	cleanEvery time.Duration

	allowed atomic.Int64
	denied  atomic.Int64
}

// bucket wraps a rate.Limiter with last-used tracking for cleanup
type bucket struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // Unix timestamp
}

// Snapshot returns a point-in-time copy of metrics
type Snapshot struct {
	TotalAllowed  int64 `json:"total_allowed"`
	TotalDenied   int64 `json:"total_denied"`
	ActiveClients int64 `json:"active_clients"`
}

func New(requestsPerSecond float64, burst int) *Limiter {
	return &Limiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		buckets:           make(map[string]*bucket),
		cleanEvery:        5 * time.Minute,
	}
}

// Allow reports whether a request from clientIP may proceed. When
// denied, retryAfter is rounded up to whole seconds for the
// Retry-After header.
func (l *Limiter) Allow(clientIP string) (bool, time.Duration) {
	b := l.getOrCreateBucket(clientIP)
	b.lastUsed.Store(time.Now().Unix())

	reservation := b.limiter.Reserve()
	delay := reservation.Delay()

	defer l.maybeCleanup()

	if delay == 0 {
		l.allowed.Add(1)
		return true, 0
	}

	reservation.Cancel()
	l.denied.Add(1)
	return false, delay.Truncate(time.Second) + time.Second
}

func (l *Limiter) getOrCreateBucket(key string) *bucket {
	l.bucketsMu.RLock()
	b, exists := l.buckets[key]
	l.bucketsMu.RUnlock()

	if exists {
		return b
	}

	l.bucketsMu.Lock()
	defer l.bucketsMu.Unlock()

	// Double-check after acquiring write lock
	if b, exists = l.buckets[key]; exists {
		return b
	}

	b = &bucket{
		limiter: rate.NewLimiter(rate.Limit(l.requestsPerSecond), l.burst),
	}
	b.lastUsed.Store(time.Now().Unix())
	l.buckets[key] = b

	return b
}

// maybeCleanup removes stale buckets periodically
func (l *Limiter) maybeCleanup() {
	now := time.Now()
	l.bucketsMu.RLock()
	needsClean := now.Sub(l.lastClean) > l.cleanEvery
	l.bucketsMu.RUnlock()

	if !needsClean {
		return
	}

	l.bucketsMu.Lock()
	defer l.bucketsMu.Unlock()

	if now.Sub(l.lastClean) <= l.cleanEvery {
		return
	}

	// Remove buckets not used in the last 10 minutes
	threshold := now.Add(-10 * time.Minute).Unix()
	for key, b := range l.buckets {
		if b.lastUsed.Load() < threshold {
			delete(l.buckets, key)
		}
	}

	l.lastClean = now
}

// Snapshot returns current metrics
func (l *Limiter) Snapshot() *Snapshot {
	l.bucketsMu.RLock()
	active := int64(len(l.buckets))
	l.bucketsMu.RUnlock()

	return &Snapshot{
		TotalAllowed:  l.allowed.Load(),
		TotalDenied:   l.denied.Load(),
		ActiveClients: active,
	}
}

// Reset clears all buckets, returning the count cleared.
func (l *Limiter) Reset() int {
	l.bucketsMu.Lock()
	defer l.bucketsMu.Unlock()

	count := len(l.buckets)
	l.buckets = make(map[string]*bucket)
	l.lastClean = time.Now()
	return count
}
