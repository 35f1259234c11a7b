// Package process provides the process-wide shared/exclusive lock spec §5
// describes: normal session operations take a shared slot, while any
// operation that must mutate process-wide state — the current working
// directory, the environment, or (as here) the process's stdout/stderr —
// takes the exclusive slot instead. No new shared slot is granted while a
// waiter holds or is waiting for the exclusive slot; the exclusive slot
// waits for every outstanding shared slot to drain first. sync.RWMutex
// already implements exactly this discipline, matching the teacher's own
// CommandQueue.mu (internal/process/command_queue.go) use of an RWMutex to
// gate per-lane access.
package process

import "sync"

// Lock is a process-wide shared/exclusive lock. Global is the single
// instance every package in this module that touches process-wide state
// shares — there is exactly one OS process's worth of stdout/stderr/env/CWD
// to coordinate, mirroring how internal/session's globalToken is the one
// process-wide token cell.
type Lock struct {
	mu sync.RWMutex
}

// Global is the process-wide lock instance.
var Global = &Lock{}

// Shared acquires the shared slot and returns a function that releases it.
// Callers performing a normal, CWD/env-agnostic operation hold this for its
// duration.
func (l *Lock) Shared() func() {
	l.mu.RLock()
	return l.mu.RUnlock
}

// Exclusive acquires the exclusive slot and returns a function that
// releases it. Callers must hold this for the entire window during which
// process-wide state (CWD, environment, stdout/stderr) is non-default.
func (l *Lock) Exclusive() func() {
	l.mu.Lock()
	return l.mu.Unlock
}
