// Package memorystore implements the session-scoped conversation memory
// store: a capped, per-session message ring with LRU-by-last-access
// session eviction and token-budget tail windowing.
package memorystore

import (
	"container/list"
	"math"
	"sync"
	"time"
	"unicode"

	"github.com/agentcore/runtime/pkg/models"
)

// Config bounds store-wide capacity.
type Config struct {
	MaxSessions int
	MaxMessages int
	TTL         time.Duration
}

// DefaultConfig returns 1000 sessions, 200 messages/session, no TTL.
func DefaultConfig() Config {
	return Config{MaxSessions: 1000, MaxMessages: 200}
}

// ConversationMemory is one session's capped message ring. Grounded on
// internal/sessions/memory.go's MemoryStore.AppendMessage trim-from-front
// mechanics, generalized from a fixed 1000-message constant into a
// per-store configurable maxMessages.
type ConversationMemory struct {
	mu          sync.RWMutex
	sessionID   string
	maxMessages int
	messages    []models.Message
	lastAccess  time.Time
}

func newConversationMemory(sessionID string, maxMessages int) *ConversationMemory {
	return &ConversationMemory{sessionID: sessionID, maxMessages: maxMessages, lastAccess: time.Now()}
}

// Append adds a message, trimming the oldest entries once maxMessages is
// exceeded.
func (c *ConversationMemory) Append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	c.messages = append(c.messages, msg)
	if c.maxMessages > 0 && len(c.messages) > c.maxMessages {
		excess := len(c.messages) - c.maxMessages
		c.messages = c.messages[excess:]
	}
	c.lastAccess = time.Now()
}

// History returns a point-in-time copy of every stored message, oldest
// first.
func (c *ConversationMemory) History() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// HistoryWithinTokenLimit returns the longest tail of History() whose
// estimated token count does not exceed tokenBudget. Messages are kept
// whole; it never truncates within a single message, so the result is
// empty when the most recent message alone exceeds tokenBudget. A
// tokenBudget <= 0 returns the whole history.
func (c *ConversationMemory) HistoryWithinTokenLimit(tokenBudget int) []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if tokenBudget <= 0 || len(c.messages) == 0 {
		out := make([]models.Message, len(c.messages))
		copy(out, c.messages)
		return out
	}

	used := 0
	start := len(c.messages)
	for i := len(c.messages) - 1; i >= 0; i-- {
		cost := EstimateTokens(c.messages[i].Content)
		if used+cost > tokenBudget {
			break
		}
		used += cost
		start = i
	}

	out := make([]models.Message, len(c.messages)-start)
	copy(out, c.messages[start:])
	return out
}

func (c *ConversationMemory) isExpired(ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Since(c.lastAccess) > ttl
}

// EstimateTokens approximates token count for text by splitting ASCII and
// CJK runes into separate per-character rates, per the spec's
// max(1, ceil(asciiChars/4 + cjkChars/1.5)) estimator — extending the
// teacher's flat char/4 ratio (internal/context/window.go's EstimateTokens)
// to account for CJK's denser token packing.
func EstimateTokens(text string) int {
	var ascii, cjk int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			ascii++
		}
	}
	if ascii == 0 && cjk == 0 {
		return 0
	}
	estimate := math.Ceil(float64(ascii)/4.0 + float64(cjk)/1.5)
	if estimate < 1 {
		estimate = 1
	}
	return int(estimate)
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Store is the process-wide session map with LRU-by-last-access eviction,
// the standard container/list + map idiom, bounding total sessions held in
// memory regardless of how many distinct sessionIds are seen.
type Store struct {
	mu       sync.Mutex
	cfg      Config
	sessions map[string]*list.Element
	order    *list.List // front = most recently used
}

type sessionEntry struct {
	sessionID string
	memory    *ConversationMemory
}

// New creates a memory store bounded by cfg.
func New(cfg Config) *Store {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 200
	}
	return &Store{
		cfg:      cfg,
		sessions: make(map[string]*list.Element),
		order:    list.New(),
	}
}

// GetOrCreate atomically returns the session's memory, creating it (and
// evicting the least-recently-used session if at capacity) if absent.
func (s *Store) GetOrCreate(sessionID string) *ConversationMemory {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.sessions[sessionID]; ok {
		s.order.MoveToFront(elem)
		return elem.Value.(*sessionEntry).memory
	}

	mem := newConversationMemory(sessionID, s.cfg.MaxMessages)
	elem := s.order.PushFront(&sessionEntry{sessionID: sessionID, memory: mem})
	s.sessions[sessionID] = elem

	s.evictOverCapacityLocked()
	return mem
}

func (s *Store) evictOverCapacityLocked() {
	if s.cfg.MaxSessions <= 0 {
		return
	}
	for len(s.sessions) > s.cfg.MaxSessions {
		oldest := s.order.Back()
		if oldest == nil {
			return
		}
		entry := oldest.Value.(*sessionEntry)
		s.order.Remove(oldest)
		delete(s.sessions, entry.sessionID)
	}
}

// Remove deletes a session's memory entirely.
func (s *Store) Remove(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.sessions[sessionID]; ok {
		s.order.Remove(elem)
		delete(s.sessions, sessionID)
	}
}

// CleanupExpiredSessions removes sessions whose memory has not been
// touched within ttl. Returns the number removed.
func (s *Store) CleanupExpiredSessions(ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for elem := s.order.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*sessionEntry)
		if entry.memory.isExpired(ttl) {
			s.order.Remove(elem)
			delete(s.sessions, entry.sessionID)
			removed++
		}
		elem = next
	}
	return removed
}

// Len returns the number of sessions currently held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
