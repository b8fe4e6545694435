// Package ratelimit provides fixed-window rate limiting keyed by identity or
// address. It protects both the HTTP edge and the synchronization channel.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures one fixed-window limit. Distinct limits exist for general
// API traffic, authentication attempts, and sync channel connections, since
// abuse tolerance differs by endpoint sensitivity.
type Config struct {
	// Max is the number of calls allowed per window.
	Max int
	// Window is the fixed window length.
	Window time.Duration
	// Enabled controls whether the limit is enforced.
	Enabled bool
}

// DefaultAPIConfig limits general API traffic.
func DefaultAPIConfig() Config {
	return Config{Max: 100, Window: time.Minute, Enabled: true}
}

// DefaultAuthConfig limits authentication attempts.
func DefaultAuthConfig() Config {
	return Config{Max: 10, Window: 5 * time.Minute, Enabled: true}
}

// DefaultSyncConfig limits synchronization channel connections.
func DefaultSyncConfig() Config {
	return Config{Max: 30, Window: time.Minute, Enabled: true}
}

// DefaultChannelConfig limits in-channel messages per connected user. The
// budget is sized for throttled presence traffic plus edits, not raw input
// event rates.
func DefaultChannelConfig() Config {
	return Config{Max: 120, Window: time.Second, Enabled: true}
}

type window struct {
	count     int
	resetTime time.Time
}

// Limiter tracks fixed-window counters per key. Windows reset lazily on
// access; Sweep evicts entries whose window has long expired so the tracked
// key set stays bounded.
type Limiter struct {
	mu      sync.Mutex
	config  Config
	entries map[string]*window
	maxKeys int
	nowFunc func() time.Time
}

// NewLimiter creates a limiter for one configured limit.
func NewLimiter(config Config) *Limiter {
	if config.Max <= 0 {
		config.Max = 100
	}
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	return &Limiter{
		config:  config,
		entries: make(map[string]*window),
		maxKeys: 10000,
		nowFunc: time.Now,
	}
}

// SetNowFunc sets a custom time source for testing.
func (l *Limiter) SetNowFunc(fn func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nowFunc = fn
}

// Allow counts one call for the key. It returns false when the window budget
// is exhausted, along with how long until the window resets so the caller can
// back off intelligently rather than hot-looping.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	if !l.config.Enabled {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	entry, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxKeys {
			l.pruneLocked(now)
		}
		entry = &window{}
		l.entries[key] = entry
	}
	if now.After(entry.resetTime) {
		entry.count = 0
		entry.resetTime = now.Add(l.config.Window)
	}

	entry.count++
	if entry.count > l.config.Max {
		return false, entry.resetTime.Sub(now)
	}
	return true, 0
}

// Reset clears the counter for a key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, key)
}

// Sweep evicts entries whose window expired before now. Lazy resets handle
// correctness; this bounds memory for keys never seen again.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, entry := range l.entries {
		if now.After(entry.resetTime) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked drops expired entries when the key table is full.
func (l *Limiter) pruneLocked(now time.Time) {
	for key, entry := range l.entries {
		if now.After(entry.resetTime) {
			delete(l.entries, key)
		}
	}
}

// Set bundles the configured limits.
type Set struct {
	API     *Limiter
	Auth    *Limiter
	Sync    *Limiter
	Channel *Limiter
}

// NewSet builds the standard limiter set.
func NewSet(api, auth, sync, channel Config) *Set {
	return &Set{
		API:     NewLimiter(api),
		Auth:    NewLimiter(auth),
		Sync:    NewLimiter(sync),
		Channel: NewLimiter(channel),
	}
}

// Sweep sweeps all limiters in the set.
func (s *Set) Sweep(now time.Time) {
	if s == nil {
		return
	}
	s.API.Sweep(now)
	s.Auth.Sweep(now)
	s.Sync.Sweep(now)
	s.Channel.Sweep(now)
}
