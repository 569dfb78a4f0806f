package appointment

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes overlap check-then-write per (tenant, assignee).
// Entries are kept for the process lifetime; the key space is bounded by
// active tenant/assignee pairs.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(tenantID, assigneeID uuid.UUID) (unlock func()) {
	key := tenantID.String() + ":" + assigneeID.String()

	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
