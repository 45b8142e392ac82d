//go:build linux

package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName labels the calling OS thread so dedicated units show up by
// name in ps/top, like pthread_setname_np on the original host build.
// The kernel caps comm names at 15 bytes plus the terminator.
func setThreadName(name string) {
	buf := make([]byte, 16)
	copy(buf[:15], name)
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(&buf[0])), 0, 0, 0)
}
