package dedup

import (
	"slices"
	"sync"
)

// recordLock is a mutex shared by every holder of one record id.
type recordLock struct {
	sync.Mutex
	refs int
}

// recordLocks serializes read-modify-write of individual records within this
// process. Entries are dropped once no goroutine holds or waits for them,
// so the map stays as small as the number of records in flight.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

// lock acquires the locks of every id in sorted order and returns the
// function releasing them. Duplicate ids are locked once.
func (l *recordLocks) lock(ids ...string) (unlock func()) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	held := make([]*recordLock, len(ids))
	for i, id := range ids {
		held[i] = l.acquire(id)
		held[i].Lock()
	}

	return func() {
		for i := len(ids) - 1; i >= 0; i-- {
			held[i].Unlock()
			l.release(ids[i])
		}
	}
}

func (l *recordLocks) acquire(id string) *recordLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk, ok := l.locks[id]
	if !ok {
		lk = &recordLock{}
		l.locks[id] = lk
	}
	lk.refs++
	return lk
}

func (l *recordLocks) release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *recordLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
