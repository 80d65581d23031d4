package orchestrator

import "sync"

// convLocks hands out one mutex per conversation so different conversations
// proceed in parallel while a single conversation serialises its turns.
// Entries are reference counted and removed when the last holder releases.
type convLocks struct {
	mu    sync.Mutex
	locks map[string]*convLock
}

type convLock struct {
	mu   sync.Mutex
	refs int
}

func newConvLocks() *convLocks {
	return &convLocks{locks: make(map[string]*convLock)}
}

// acquire blocks until the conversation lock is held and returns the
// release function.
func (c *convLocks) acquire(id string) func() {
	c.mu.Lock()
	l, ok := c.locks[id]
	if !ok {
		l = &convLock{}
		c.locks[id] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, id)
		}
		c.mu.Unlock()
	}
}
