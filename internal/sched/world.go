package sched

import (
	"sync"
	"sync/atomic"
)

// world is the process-wide stop-the-world critical section shared by both
// backends: a single exclusive lock, skipped entirely while the scheduler is
// not running (single-threaded boot).
//
// The started flip happens exactly once, inside Start, and Start must not
// race an open critical section — the boot thread owns both, the same
// discipline the embedded original imposes on its scheduler start.
type world struct {
	mu      sync.Mutex
	started atomic.Bool
}

func (w *world) SuspendAll() {
	if w.started.Load() {
		w.mu.Lock()
	}
}

func (w *world) ResumeAll() {
	if w.started.Load() {
		w.mu.Unlock()
	}
}

func (w *world) State() State {
	if w.started.Load() {
		return StateRunning
	}
	return StateNotStarted
}
