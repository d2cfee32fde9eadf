// Package locks provides per-database locks for the catalog's callers.
// The catalog itself does not take these locks; it only asserts that the
// intent-exclusive lock is held where an operation requires it.
package locks

import (
	"fmt"
	"sync"
)

// Manager tracks per-database locks. Intent-exclusive (IX) holders are
// compatible with each other; an exclusive (X) holder excludes everyone.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond
	dbs  map[string]*dbLock
}

type dbLock struct {
	ix int  // count of intent-exclusive holders
	x  bool // exclusive holder present
}

// NewManager creates a lock manager.
func NewManager() *Manager {
	m := &Manager{dbs: make(map[string]*dbLock)}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// LockIX acquires an intent-exclusive lock on the database, blocking while
// an exclusive holder is present. Multiple IX holders may coexist.
func (m *Manager) LockIX(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		l := m.dbs[db]
		if l == nil {
			l = &dbLock{}
			m.dbs[db] = l
		}
		if !l.x {
			l.ix++
			return
		}
		m.cond.Wait()
	}
}

// UnlockIX releases an intent-exclusive hold. It is a run-time error to
// release a lock that is not held.
func (m *Manager) UnlockIX(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.dbs[db]
	if l == nil || l.ix == 0 {
		panic(fmt.Sprintf("locks: unlock of unheld IX lock on %q", db))
	}
	l.ix--
	m.release(db, l)
}

// IsLockedIX reports whether at least one intent-exclusive hold exists on
// the database.
func (m *Manager) IsLockedIX(db string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.dbs[db]
	return l != nil && l.ix > 0
}

// LockX acquires the exclusive lock on the database, blocking until all
// other holders release.
func (m *Manager) LockX(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		l := m.dbs[db]
		if l == nil {
			l = &dbLock{}
			m.dbs[db] = l
		}
		if !l.x && l.ix == 0 {
			l.x = true
			return
		}
		m.cond.Wait()
	}
}

// UnlockX releases the exclusive lock. It is a run-time error to release a
// lock that is not held.
func (m *Manager) UnlockX(db string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.dbs[db]
	if l == nil || !l.x {
		panic(fmt.Sprintf("locks: unlock of unheld X lock on %q", db))
	}
	l.x = false
	m.release(db, l)
}

// release drops empty lock records and wakes waiters. Deleting idle
// entries keeps the map from growing with every database ever touched.
func (m *Manager) release(db string, l *dbLock) {
	if l.ix == 0 && !l.x {
		delete(m.dbs, db)
	}
	m.cond.Broadcast()
}
