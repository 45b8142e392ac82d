// Package once provides the at-most-once initialization primitive the rest
// of the firmware leans on for lazy shared-resource setup. It differs from
// sync.Once in the ways the embedded model demands: a tri-state flag that
// callers can inspect, a usable pre-scheduler path, waiters that poll with a
// fixed backoff instead of blocking on a primitive that may not exist yet,
// and reentrancy treated as a programming error rather than a deadlock.
package once

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"oscore/internal/fatal"
	"oscore/internal/sched"
)

// State is the lifecycle of a Flag. Transitions only ever move forward:
// Never → InProgress → Done.
type State int32

const (
	Never State = iota
	InProgress
	Done
)

func (s State) String() string {
	switch s {
	case Never:
		return "never"
	case InProgress:
		return "in-progress"
	case Done:
		return "done"
	default:
		return "invalid"
	}
}

// Flag tracks one initializer. The zero value is ready to use. Flags must
// not be copied after first use.
type Flag struct {
	state atomic.Int32
	owner atomic.Int64 // goid running the initializer, while InProgress
}

// State reports the flag's current state.
func (f *Flag) State() State { return State(f.state.Load()) }

// scheduler is the slice of the backend the runner needs.
type scheduler interface {
	State() sched.State
}

const defaultBackoff = 10 * time.Millisecond

// Runner executes initializers against flags. One process-wide mutex
// serializes the state transitions of every flag — transitions are brief,
// and a single lock keeps the pre-scheduler reasoning simple.
type Runner struct {
	sched   scheduler
	backoff time.Duration
	mu      sync.Mutex
}

// NewRunner binds a runner to backend b. A backoff of 0 selects the 10ms
// default wait between rechecks by callers that find an initializer already
// in progress.
func NewRunner(b scheduler, backoff time.Duration) *Runner {
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	return &Runner{sched: b, backoff: backoff}
}

// Do runs init exactly once across every caller sharing f, and returns only
// once f is Done.
//
// The first caller moves the flag to InProgress under the lock, runs init
// outside it (so a slow initializer never holds up transitions on other
// flags), then marks Done. Callers that find InProgress sleep the backoff
// interval and recheck; their latency is bounded by init's duration plus one
// backoff. Before the scheduler runs the whole dance is skipped — the boot
// thread is alone by construction and takes the unlocked path.
//
// A caller reentering Do on a flag whose initializer it is itself running
// dies with the usage-violation cause; silently returning would hand the
// caller un-initialized state.
func (r *Runner) Do(f *Flag, init func()) {
	if r.sched.State() == sched.StateNotStarted {
		switch State(f.state.Load()) {
		case Done:
			return
		case InProgress:
			// Single-threaded boot: InProgress here can only mean the
			// initializer called back into itself.
			fatal.Die(fatal.CauseUsageViolation, "reentrant once during single-threaded boot")
		}
		f.state.Store(int32(InProgress))
		init()
		f.state.Store(int32(Done))
		return
	}

	me := log.Goid()
	r.mu.Lock()
	for {
		switch State(f.state.Load()) {
		case Never:
			f.owner.Store(me)
			f.state.Store(int32(InProgress))
			r.mu.Unlock()

			init()

			r.mu.Lock()
			f.state.Store(int32(Done))
			f.owner.Store(0)
			r.mu.Unlock()
			return

		case InProgress:
			owner := f.owner.Load()
			r.mu.Unlock()
			if owner == me {
				fatal.Die(fatal.CauseUsageViolation, "reentrant once: initializer reentered its own flag")
			}
			time.Sleep(r.backoff)
			r.mu.Lock()

		case Done:
			r.mu.Unlock()
			return
		}
	}
}
