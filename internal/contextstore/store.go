// Package contextstore keeps per-conversation working context: a
// timestamped key/value map that tool results and user facts merge into,
// pruned when it outgrows its serialised budget.
package contextstore

import (
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// maxSerializedChars is the pruning threshold for one conversation's
// serialised context.
const maxSerializedChars = 1000

// keepRecent is how many non-important entries survive a prune.
const keepRecent = 10

// importantKeys always survive pruning.
var importantKeys = map[string]bool{
	"user_preferences": true,
	"session_data":     true,
}

type entry struct {
	value     any
	updatedAt time.Time
}

// Store is a concurrent per-conversation context store. Conversations are
// fully isolated from each other.
type Store struct {
	mu    sync.RWMutex
	convs map[string]map[string]*entry

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		convs: make(map[string]map[string]*entry),
		now:   time.Now,
	}
}

// Get returns a copy of one conversation's context. Mutating the returned
// map does not affect the store.
func (s *Store) Get(conversationID string) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.convs[conversationID]
	out := make(map[string]any, len(entries))
	for k, e := range entries {
		out[k] = e.value
	}
	return out
}

// Set stores one value and prunes if the context outgrew its budget.
func (s *Store) Set(conversationID, key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(conversationID, key, value)
	s.prune(conversationID)
}

// Merge stores every entry of values, stamping each, then prunes once.
func (s *Store) Merge(conversationID string, values map[string]any) {
	if len(values) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range values {
		s.set(conversationID, k, v)
	}
	s.prune(conversationID)
}

// set stamps the entry with a strictly increasing timestamp within the
// conversation so prune ordering is total.
func (s *Store) set(conversationID, key string, value any) {
	entries, ok := s.convs[conversationID]
	if !ok {
		entries = make(map[string]*entry)
		s.convs[conversationID] = entries
	}

	at := s.now()
	for _, e := range entries {
		if !e.updatedAt.Before(at) {
			at = e.updatedAt.Add(time.Nanosecond)
		}
	}
	entries[key] = &entry{value: value, updatedAt: at}
}

// Delete drops one conversation's context entirely.
func (s *Store) Delete(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.convs, conversationID)
}

// Len returns the number of entries for a conversation.
func (s *Store) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs[conversationID])
}

// prune drops the oldest non-important entries once the serialised context
// exceeds the budget, keeping the important keys and the most recently
// updated entries. Caller holds the write lock.
func (s *Store) prune(conversationID string) {
	entries := s.convs[conversationID]
	if len(entries) == 0 {
		return
	}

	plain := make(map[string]any, len(entries))
	for k, e := range entries {
		plain[k] = e.value
	}
	raw, err := json.Marshal(plain)
	if err != nil || len(raw) <= maxSerializedChars {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	var candidates []aged
	for k, e := range entries {
		if importantKeys[k] {
			continue
		}
		candidates = append(candidates, aged{key: k, at: e.updatedAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.After(candidates[j].at)
	})

	for i, c := range candidates {
		if i < keepRecent {
			continue
		}
		delete(entries, c.key)
	}
}
