package service

import (
	"bytes"
	"sync"

	"github.com/google/uuid"
)

// tableLocks serializes engine operations per table. Operations that touch
// two tables (transfer, merge) must call lockPair/lockAll so both locks are
// taken in a fixed global order, which rules out deadlock between two
// concurrent transfers in opposite directions.
type tableLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (t *tableLocks) get(tableID uuid.UUID) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[tableID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[tableID] = l
	}
	return l
}

// lock acquires the lock for one table and returns the unlock func.
func (t *tableLocks) lock(tableID uuid.UUID) func() {
	l := t.get(tableID)
	l.Lock()
	return l.Unlock
}

// lockAll acquires locks for all given tables in ascending UUID byte order.
// Duplicate IDs are locked once.
func (t *tableLocks) lockAll(tableIDs ...uuid.UUID) func() {
	ordered := make([]uuid.UUID, 0, len(tableIDs))
	for _, id := range tableIDs {
		dup := false
		for _, seen := range ordered {
			if seen == id {
				dup = true
				break
			}
		}
		if !dup {
			ordered = append(ordered, id)
		}
	}
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && bytes.Compare(ordered[j][:], ordered[j-1][:]) < 0; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	unlocks := make([]func(), 0, len(ordered))
	for _, id := range ordered {
		unlocks = append(unlocks, t.lock(id))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
