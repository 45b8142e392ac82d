// Package fatal is the process-terminating error path of the runtime core.
//
// The core underlies every other subsystem, so once one of its invariants is
// broken (heap exhausted, task stack overrun, misuse of a once flag) there is
// no caller that can meaningfully recover. All such conditions funnel through
// Die, which records where death happened and hands off to an installable
// handler. The default handler terminates the process; tests install a
// handler that panics instead so the death path becomes observable.
package fatal

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/phuslu/log"
)

// Cause classifies conditions the core cannot continue past.
type Cause uint8

const (
	CauseUnknown Cause = iota
	CauseOutOfMemory
	CauseStackOverflow
	CauseUsageViolation
	CauseAbort
)

func (c Cause) String() string {
	switch c {
	case CauseOutOfMemory:
		return "out of memory"
	case CauseStackOverflow:
		return "stack overflow"
	case CauseUsageViolation:
		return "usage violation"
	case CauseAbort:
		return "abort"
	default:
		return "unknown"
	}
}

// Handler receives the cause and a formatted message. A handler is expected
// not to return; if it does anyway, Die exits the process as a backstop.
type Handler func(cause Cause, msg string)

var (
	mu      sync.Mutex
	handler Handler

	// Point of death, kept for post-mortem inspection (debuggers, tests).
	deathFile string
	deathLine int
	deathTask string
)

// SetHandler installs h as the fatal handler and returns the previous one.
// A nil h restores the default terminating handler.
func SetHandler(h Handler) Handler {
	mu.Lock()
	defer mu.Unlock()
	prev := handler
	handler = h
	return prev
}

// DeathPoint reports the call site and task name recorded by the most recent
// Die. Task is empty unless the failure was attributed to a specific
// execution unit.
func DeathPoint() (file string, line int, task string) {
	mu.Lock()
	defer mu.Unlock()
	return deathFile, deathLine, deathTask
}

// Die reports a fatal condition and does not return.
func Die(cause Cause, format string, args ...any) {
	die(cause, "", fmt.Sprintf(format, args...))
}

// DieTask is Die attributed to a named execution unit (stack overflow
// reports name the overflowed task).
func DieTask(cause Cause, task string, format string, args ...any) {
	die(cause, task, fmt.Sprintf(format, args...))
}

func die(cause Cause, task, msg string) {
	_, file, line, _ := runtime.Caller(2)

	mu.Lock()
	deathFile = file
	deathLine = line
	deathTask = task
	h := handler
	mu.Unlock()

	if h != nil {
		h(cause, msg)
		// A returning handler leaves the core in a broken state.
		os.Exit(255)
	}

	log.Fatal().
		Str("cause", cause.String()).
		Str("task", task).
		Str("at", fmt.Sprintf("%s:%d", file, line)).
		Msg(msg)
	// log.Fatal terminates the process; this is unreachable.
	os.Exit(255)
}
