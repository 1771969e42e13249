package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// localEntry wraps a cached value with its expiration time.
type localEntry struct {
	data      []byte
	expiresAt time.Time
}

// Local is the per-process tier: a W-TinyLFU cache backed by otter, with
// per-entry TTLs checked lazily on read.
type Local struct {
	cache *otter.Cache[string, localEntry]

	// expiry index for the periodic sweep; otter eviction handles capacity,
	// the sweep handles entries that are expired but never read again.
	mu      sync.Mutex
	expires map[string]time.Time
}

// NewLocal creates a local cache with the given max entry count and default TTL.
func NewLocal(maxSize int, defaultTTL time.Duration) (*Local, error) {
	c, err := otter.New[string, localEntry](&otter.Options[string, localEntry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, localEntry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create local cache: %w", err)
	}
	return &Local{
		cache:   c,
		expires: make(map[string]time.Time),
	}, nil
}

// Get retrieves a value if present and not expired.
func (l *Local) Get(key string) ([]byte, bool) {
	e, ok := l.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		l.Delete(key)
		return nil, false
	}
	return e.data, true
}

// Set stores a value with a per-entry TTL.
func (l *Local) Set(key string, val []byte, ttl time.Duration) {
	expiresAt := time.Now().Add(ttl)
	l.cache.Set(key, localEntry{data: val, expiresAt: expiresAt})
	l.mu.Lock()
	l.expires[key] = expiresAt
	l.mu.Unlock()
}

// Delete removes a value.
func (l *Local) Delete(key string) {
	l.cache.Invalidate(key)
	l.mu.Lock()
	delete(l.expires, key)
	l.mu.Unlock()
}

// SweepExpired drops every entry whose TTL has elapsed and returns the count.
func (l *Local) SweepExpired() int {
	now := time.Now()
	l.mu.Lock()
	var stale []string
	for key, expiresAt := range l.expires {
		if now.After(expiresAt) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		delete(l.expires, key)
	}
	l.mu.Unlock()

	for _, key := range stale {
		l.cache.Invalidate(key)
	}
	return len(stale)
}

// Len returns the number of tracked entries, expired or not.
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.expires)
}
