//go:build !linux

package sched

func setThreadName(name string) {}
