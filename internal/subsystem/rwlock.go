// ABOUTME: Scoped read/write lock guarding a subsystem's mutable state
// ABOUTME: Callers pass a closure so the lock is released on every exit path

package subsystem

import "sync"

// RWLock admits many concurrent readers or a single writer.
//
// It is a thin wrapper over sync.RWMutex that only exposes scoped
// acquisition: the lock is held for the duration of fn and released by a
// deferred unlock, including when fn panics. A writer that is waiting blocks
// new readers from entering, so continuous read pressure cannot starve
// writers. Read sections must not re-enter ReadLocked on the same lock while
// a writer may be queued, or they will deadlock against it.
type RWLock struct {
	mu sync.RWMutex
}

// ReadLocked runs fn while holding the lock in shared mode.
func (l *RWLock) ReadLocked(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}

// WriteLocked runs fn while holding the lock exclusively.
func (l *RWLock) WriteLocked(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn()
}
