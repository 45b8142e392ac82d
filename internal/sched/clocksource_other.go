//go:build !linux

package sched

// monotonicNanos falls back to the runtime's monotonic reading where no raw
// clock syscall is wired up.
func monotonicNanos() int64 { return fallbackNanos() }
