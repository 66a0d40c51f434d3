// Package idempotency implements the write idempotency service: a TTL
// cache keyed by (tool, explicit key or content-hash of key parts) that
// returns a prior result instead of re-invoking a side-effecting tool.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Config controls whether the service caches and for how long.
type Config struct {
	Enabled    bool
	TTL        time.Duration
	MaxEntries int
}

// DefaultConfig returns a 5-minute TTL, 10,000-entry cache, enabled.
func DefaultConfig() Config {
	return Config{Enabled: true, TTL: 5 * time.Minute, MaxEntries: 10_000}
}

type entry struct {
	value     any
	err       error
	expiresAt time.Time
}

// Service caches side-effecting tool results by idempotency key, and
// de-duplicates concurrent calls for the same key via singleflight so
// that a stampede of identical requests invokes fn exactly once.
// Grounded on internal/cache/dedupe.go's TTL-plus-LRU-by-timestamp eviction
// idiom, generalized from a boolean membership check to a value cache.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]entry
	group   singleflight.Group
}

// New creates an idempotency service with the given config.
func New(cfg Config) *Service {
	return &Service{cfg: cfg, entries: make(map[string]entry)}
}

// Execute runs fn, or returns a cached result for the composed key if one
// exists and has not expired. When disabled, fn is always called and
// nothing is cached.
func (s *Service) Execute(toolName, explicitKey string, keyParts []string, fn func() (any, error)) (any, error) {
	if !s.cfg.Enabled {
		return fn()
	}

	key := s.composeKey(toolName, explicitKey, keyParts)

	if cached, ok := s.lookup(key); ok {
		return cached.value, cached.err
	}

	result, err, _ := s.group.Do(key, func() (any, error) {
		if cached, ok := s.lookup(key); ok {
			return cached.value, cached.err
		}
		value, fnErr := fn()
		s.store(key, value, fnErr)
		return value, fnErr
	})
	return result, err
}

func (s *Service) composeKey(toolName, explicitKey string, keyParts []string) string {
	suffix := explicitKey
	if suffix == "" {
		suffix = hashKeyParts(keyParts)
	}
	return toolName + ":" + suffix
}

func hashKeyParts(parts []string) string {
	h := sha256.New()
	h.Write([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Service) lookup(key string) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if s.cfg.TTL > 0 && time.Now().After(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Service) store(key string, value any, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt := time.Now().Add(s.cfg.TTL)
	if s.cfg.TTL <= 0 {
		expiresAt = time.Now().Add(24 * 365 * time.Hour)
	}
	s.entries[key] = entry{value: value, err: err, expiresAt: expiresAt}
	s.evictOldestIfOverCapacity()
}

func (s *Service) evictOldestIfOverCapacity() {
	if s.cfg.MaxEntries <= 0 {
		return
	}
	for len(s.entries) > s.cfg.MaxEntries {
		var oldestKey string
		var oldestExpiry time.Time
		first := true
		for k, e := range s.entries {
			if first || e.expiresAt.Before(oldestExpiry) {
				oldestKey = k
				oldestExpiry = e.expiresAt
				first = false
			}
		}
		if oldestKey == "" {
			return
		}
		delete(s.entries, oldestKey)
	}
}
