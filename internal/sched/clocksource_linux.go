//go:build linux

package sched

import "golang.org/x/sys/unix"

// monotonicNanos reads CLOCK_MONOTONIC_RAW, the NTP-undisturbed counter,
// matching the raw high-resolution source the original host build prefers.
func monotonicNanos() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC_RAW, &ts); err != nil {
		return fallbackNanos()
	}
	return ts.Nano()
}
