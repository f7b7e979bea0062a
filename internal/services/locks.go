package services

import (
	"sync"
)

// ContactLocks serializes all read-then-write work on a single contact.
// Guard evaluation, state transition and audit append run as one critical
// section per phone, so a concurrent STOP and an in-flight campaign send to
// the same contact cannot interleave. Entries are never evicted; the table
// is bounded by the contact population.
type ContactLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewContactLocks creates an empty keyed lock table.
func NewContactLocks() *ContactLocks {
	return &ContactLocks{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for phone and returns its unlock func.
func (c *ContactLocks) Lock(phone string) func() {
	c.mu.Lock()
	l, ok := c.locks[phone]
	if !ok {
		l = &sync.Mutex{}
		c.locks[phone] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}
