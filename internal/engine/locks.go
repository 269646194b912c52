package engine

import "sync"

// meterLocks serializes refreshes per meter id so unrelated meters never
// contend. Locks are created on first use and kept for the process
// lifetime; the set of tracked meters is small.
type meterLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newMeterLocks() *meterLocks {
	return &meterLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *meterLocks) lock(meterID int64) (unlock func()) {
	l.mu.Lock()
	m, ok := l.locks[meterID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[meterID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
