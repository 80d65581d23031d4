// Package ratelimit provides sliding-window rate limiting keyed by principal.
package ratelimit

import (
	"sync"
	"time"
)

// Config configures rate limiting behavior.
type Config struct {
	// Window is the sliding window duration.
	Window time.Duration `yaml:"window"`
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int `yaml:"max_requests"`
	// MaxTokens is the token budget allowed per window.
	MaxTokens int `yaml:"max_tokens"`
	// Enabled controls whether rate limiting is active.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default rate limit configuration.
func DefaultConfig() Config {
	return Config{
		Window:      time.Minute,
		MaxRequests: 60,
		MaxTokens:   100000,
		Enabled:     true,
	}
}

type entry struct {
	at     time.Time
	tokens int
}

// window tracks request timestamps and token spend for one principal.
type window struct {
	mu      sync.Mutex
	entries []entry
}

// prune drops entries older than the window (must be called with lock held).
func (w *window) prune(now time.Time, span time.Duration) {
	cutoff := now.Add(-span)
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
}

func (w *window) allow(now time.Time, cfg Config, tokens int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune(now, cfg.Window)

	if len(w.entries)+1 > cfg.MaxRequests {
		return false
	}
	if cfg.MaxTokens > 0 {
		spent := tokens
		for _, e := range w.entries {
			spent += e.tokens
		}
		if spent > cfg.MaxTokens {
			return false
		}
	}
	w.entries = append(w.entries, entry{at: now, tokens: tokens})
	return true
}

func (w *window) remaining(now time.Time, cfg Config) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now, cfg.Window)
	return cfg.MaxRequests - len(w.entries)
}

// Limiter manages sliding windows for multiple principals.
type Limiter struct {
	mu      sync.RWMutex
	windows map[string]*window
	config  Config
	maxKeys int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter.
func NewLimiter(config Config) *Limiter {
	if config.Window <= 0 {
		config.Window = time.Minute
	}
	if config.MaxRequests <= 0 {
		config.MaxRequests = 60
	}
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		maxKeys: 10000,
		now:     time.Now,
	}
}

// Allow checks if one request for the given principal should be allowed.
func (l *Limiter) Allow(principal string) bool {
	return l.AllowN(principal, 0)
}

// AllowN checks if a request spending n tokens should be allowed, and
// records it if so. Denied requests are not recorded against the window.
func (l *Limiter) AllowN(principal string, tokens int) bool {
	if !l.config.Enabled {
		return true
	}
	return l.getWindow(principal).allow(l.now(), l.config, tokens)
}

// getWindow returns or creates the window for the given principal.
func (l *Limiter) getWindow(principal string) *window {
	l.mu.RLock()
	w, exists := l.windows[principal]
	l.mu.RUnlock()
	if exists {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if w, exists = l.windows[principal]; exists {
		return w
	}

	if len(l.windows) >= l.maxKeys {
		l.pruneIdle()
	}

	w = &window{}
	l.windows[principal] = w
	return w
}

// pruneIdle removes principals with no activity in the current window.
func (l *Limiter) pruneIdle() {
	now := l.now()
	for key, w := range l.windows {
		if w.remaining(now, l.config) >= l.config.MaxRequests {
			delete(l.windows, key)
		}
	}
}

// Reset clears the window for a principal.
func (l *Limiter) Reset(principal string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, principal)
}

// Status reports the rate limit state for a principal.
type Status struct {
	Principal         string `json:"principal"`
	AllowedNow        bool   `json:"allowed_now"`
	RequestsRemaining int    `json:"requests_remaining"`
}

// GetStatus returns the rate limit status for a principal without consuming
// a request.
func (l *Limiter) GetStatus(principal string) Status {
	if !l.config.Enabled {
		return Status{Principal: principal, AllowedNow: true, RequestsRemaining: l.config.MaxRequests}
	}
	remaining := l.getWindow(principal).remaining(l.now(), l.config)
	return Status{
		Principal:         principal,
		AllowedNow:        remaining > 0,
		RequestsRemaining: remaining,
	}
}

// CompositeKey creates a rate limit key from multiple parts.
func CompositeKey(parts ...string) string {
	key := ""
	for i, part := range parts {
		if i > 0 {
			key += ":"
		}
		key += part
	}
	return key
}
