package session

import (
	"fmt"
	"sync"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// lockTable holds one exclusive lock per live session ID. Locks are created
// at session creation, deleted at cleanup, and never reused across IDs.
type lockTable struct {
	locks cmap.ConcurrentMap[string, *sync.Mutex]
}

func newLockTable() *lockTable {
	return &lockTable{locks: cmap.New[*sync.Mutex]()}
}

// create installs a fresh lock for id. Creation is the only place a lock may
// come into existence; a duplicate is a bug in ID generation.
func (t *lockTable) create(id string) error {
	if !t.locks.SetIfAbsent(id, &sync.Mutex{}) {
		return fmt.Errorf("session: lock for %q already exists", id)
	}
	return nil
}

// get returns the lock for id. Absence means the session was never created
// or has already been cleaned.
func (t *lockTable) get(id string) (*sync.Mutex, bool) {
	return t.locks.Get(id)
}

// remove deletes the lock for id so it cannot leak.
func (t *lockTable) remove(id string) {
	t.locks.Remove(id)
}

// size returns the number of live locks.
func (t *lockTable) size() int {
	return t.locks.Count()
}
