// Package sched provides the execution backends the runtime core runs on: a
// simulated preemptive embedded scheduler (rtos) and a plain goroutine-backed
// host backend. Both expose the same surface — unit creation, the
// process-wide stop-the-world critical section, a raw clock source, stack
// headroom queries and an idle-cycle hook — so the layers above never branch
// on the execution model.
package sched

import (
	"errors"
	"sync/atomic"

	"oscore/internal/fatal"
)

// State reports whether a backend's scheduler is running. The rtos backend
// is single-threaded until Start; the host backend is running from
// construction.
type State int32

const (
	StateNotStarted State = iota
	StateRunning
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	default:
		return "invalid"
	}
}

// ErrUnitLimit is returned by Spawn when the backend's configured unit limit
// is exhausted. Only the host backend can report it; on the embedded model
// creation failure is a heap-exhaustion death, not an error.
var ErrUnitLimit = errors.New("execution unit limit reached")

// Backend is the execution model the core is wired over.
//
// SuspendAll/ResumeAll bracket the stop-the-world critical section that
// serializes every task-registry mutation and every heap allocation. It is a
// single process-wide exclusive section, deliberately not a per-object lock,
// and it is not reentrant: recursive acquisition from the same unit is a
// caller bug. Both calls are no-ops while State is StateNotStarted, when the
// single-threaded boot assumption holds by construction.
type Backend interface {
	// Kind is the config-facing backend name ("rtos" or "host").
	Kind() string

	State() State

	// Start transitions the backend to running. On rtos this launches every
	// unit spawned so far (in descending priority order) plus the tick and
	// idle loops; on host it only starts the maintenance pass.
	Start() error

	// Stop tears down backend-owned loops. Units themselves run until their
	// bodies return; nothing can terminate them externally.
	Stop()

	// Spawn creates an execution unit running body. Before Start on the rtos
	// backend the unit is queued and launched by Start. The error is always
	// nil on rtos; the host backend reports ErrUnitLimit.
	Spawn(name string, priority, stackSize int, body func(*Unit)) (*Unit, error)

	SuspendAll()
	ResumeAll()

	// StackHeadroom reports the bytes of u's stack never handed out.
	StackHeadroom(u *Unit) int

	// ReadClock is the backend's raw nanosecond time source. Resolution and
	// monotonicity are source-dependent; the clock service layers the
	// strict-increase guarantee on top.
	ReadClock() int64

	// MaxPriority is the highest usable priority; DefaultPriority is what a
	// creation request of priority 0 maps to.
	MaxPriority() int
	DefaultPriority() int

	// OnIdle registers fn to run once per idle cycle.
	OnIdle(fn func())

	// Yield hints the scheduler to run other units.
	Yield()
}

// Unit is one concurrent execution unit.
type Unit struct {
	id       uint64
	name     string
	priority int
	stack    *stackArena
}

func (u *Unit) ID() uint64    { return u.id }
func (u *Unit) Name() string  { return u.name }
func (u *Unit) Priority() int { return u.priority }

// StackSize is the unit's total stack capacity in bytes.
func (u *Unit) StackSize() int { return len(u.stack.buf) }

// Scratch hands out n bytes of task-local scratch from the unit's stack.
// Scratch space is never returned; the high-water offset only advances, and
// requesting more than remains is the stack-overflow death path. Only the
// owning unit may call this.
func (u *Unit) Scratch(n int) []byte {
	b, ok := u.stack.alloc(n)
	if !ok {
		fatal.DieTask(fatal.CauseStackOverflow, u.name,
			"stack overflow: %d byte scratch request, %d of %d bytes free",
			n, u.stack.headroom(), len(u.stack.buf))
	}
	return b
}

// watermark fills fresh stacks so untouched memory is recognizable in dumps.
const watermark = 0xA5

// stackArena models a unit's fixed stack: a bump-allocated buffer whose
// high-water offset doubles as the headroom measurement.
type stackArena struct {
	buf  []byte
	next atomic.Int64
}

func newStackArena(buf []byte) *stackArena {
	for i := range buf {
		buf[i] = watermark
	}
	return &stackArena{buf: buf}
}

func (a *stackArena) alloc(n int) ([]byte, bool) {
	if n <= 0 {
		return nil, true
	}
	end := a.next.Add(int64(n))
	if end > int64(len(a.buf)) {
		return nil, false
	}
	return a.buf[end-int64(n) : end], true
}

func (a *stackArena) headroom() int {
	h := int64(len(a.buf)) - a.next.Load()
	if h < 0 {
		return 0
	}
	return int(h)
}
