package task

import (
	"math/rand"
	"sync/atomic"
	"time"

	"oscore/internal/sched"
)

// RunState is the per-thread runtime-state block the trampoline installs
// before the entry function runs: private state that would be corrupted if
// threads shared one instance. The embedded original carries a C-library
// reentrancy context here; the equivalents that matter in this runtime are a
// per-thread random source and an error slot.
//
// Fields are owned by the thread the block is installed on; nothing else may
// touch them.
type RunState struct {
	Rand    *rand.Rand
	LastErr error
}

var stateSeq atomic.Uint64

// NewRunState is the default runtime-state allocator. Targets with richer
// per-thread context inject their own through ManagerConfig.
func NewRunState() *RunState {
	seed := time.Now().UnixNano() ^ int64(stateSeq.Add(1)<<32)
	return &RunState{Rand: rand.New(rand.NewSource(seed))}
}

// Context is the per-thread block owned by the lifecycle manager from
// creation until the entry function returns: the entry closure and argument,
// the installed runtime state, and the event-bit word collaborators use for
// cross-thread signaling.
type Context struct {
	unit  *sched.Unit
	entry func(arg any)
	arg   any
	state *RunState

	events atomic.Uint32
}

// Unit is the execution unit this context is installed on.
func (c *Context) Unit() *sched.Unit { return c.unit }

// State is the thread's runtime-state block; nil once the thread has exited.
func (c *Context) State() *RunState { return c.state }

// SetEvents ORs mask into the event-bit word.
func (c *Context) SetEvents(mask uint32) {
	for {
		old := c.events.Load()
		if c.events.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

// ClearEvents removes mask from the event-bit word.
func (c *Context) ClearEvents(mask uint32) {
	for {
		old := c.events.Load()
		if c.events.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// Events reads the event-bit word.
func (c *Context) Events() uint32 { return c.events.Load() }
