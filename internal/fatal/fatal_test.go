package fatal

import (
	"strings"
	"testing"
)

func TestCauseString(t *testing.T) {
	tests := []struct {
		cause Cause
		want  string
	}{
		{CauseOutOfMemory, "out of memory"},
		{CauseStackOverflow, "stack overflow"},
		{CauseUsageViolation, "usage violation"},
		{CauseAbort, "abort"},
		{CauseUnknown, "unknown"},
		{Cause(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.cause.String(); got != tt.want {
			t.Errorf("Cause(%d).String() = %q, want %q", tt.cause, got, tt.want)
		}
	}
}

func TestDieInvokesHandler(t *testing.T) {
	var gotCause Cause
	var gotMsg string
	prev := SetHandler(func(c Cause, m string) {
		gotCause = c
		gotMsg = m
		panic("fatal handler")
	})
	t.Cleanup(func() { SetHandler(prev) })

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("Die returned without invoking the handler")
			}
		}()
		Die(CauseOutOfMemory, "no bytes left in %s", "primary")
	}()

	if gotCause != CauseOutOfMemory {
		t.Errorf("handler cause = %v, want %v", gotCause, CauseOutOfMemory)
	}
	if gotMsg != "no bytes left in primary" {
		t.Errorf("handler msg = %q", gotMsg)
	}
}

func TestDeathPoint(t *testing.T) {
	prev := SetHandler(func(Cause, string) { panic("fatal handler") })
	t.Cleanup(func() { SetHandler(prev) })

	func() {
		defer func() { _ = recover() }()
		DieTask(CauseStackOverflow, "thread.07", "scratch overrun")
	}()

	file, line, task := DeathPoint()
	if !strings.HasSuffix(file, "fatal_test.go") {
		t.Errorf("death file = %q, want this test file", file)
	}
	if line == 0 {
		t.Error("death line not recorded")
	}
	if task != "thread.07" {
		t.Errorf("death task = %q, want thread.07", task)
	}
}
