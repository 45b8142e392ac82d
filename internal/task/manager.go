package task

import (
	"fmt"
	"sync/atomic"

	"github.com/phuslu/log"

	"oscore/internal/logger"
	"oscore/internal/maps"
	"oscore/internal/sched"
)

// DefaultStackSize backs creation requests that leave the stack size at 0.
const DefaultStackSize = 2048

// ManagerConfig tunes unit creation.
type ManagerConfig struct {
	// DefaultStackSize replaces a stack-size request of 0. Defaults to
	// DefaultStackSize.
	DefaultStackSize int

	// StateAlloc produces the runtime-state block installed on each new
	// thread. Defaults to NewRunState; targets with richer per-thread
	// context inject their own.
	StateAlloc func() *RunState
}

func (c *ManagerConfig) applyDefaults() {
	if c.DefaultStackSize <= 0 {
		c.DefaultStackSize = DefaultStackSize
	}
	if c.StateAlloc == nil {
		c.StateAlloc = NewRunState
	}
}

// Manager creates execution units and owns their contexts from creation to
// teardown. Collaborators hand it an entry function and get back a live,
// registered unit; everything else — naming, priority and stack defaults,
// runtime-state installation, registry bookkeeping, exit cleanup — happens
// in here and cannot be skipped or observed by the entry function.
type Manager struct {
	backend  sched.Backend
	registry *Registry
	cfg      ManagerConfig
	log      log.Logger

	// nameCounter drives auto-generated names. Shared process-wide and
	// advanced only by unnamed creations.
	nameCounter atomic.Uint32

	// contexts binds goroutine ids to installed contexts for Current.
	contexts maps.ConcurrentMap[int64, *Context]
}

func NewManager(b sched.Backend, reg *Registry, cfg ManagerConfig) *Manager {
	cfg.applyDefaults()
	return &Manager{
		backend:  b,
		registry: reg,
		cfg:      cfg,
		log:      logger.NewLoggerWithContext("task_manager"),
		contexts: maps.NewConcurrentMap[int64, *Context](),
	}
}

// Create spawns a new unit running entry(arg).
//
// An empty name draws the next auto-generated one: thread.NN with NN a
// zero-padded counter cycling 00 through 09, shared process-wide and not
// reset by explicitly named creations. Priority 0 maps to the backend's
// default; values at or above the backend maximum clamp to the maximum,
// never reject. A stack size of 0 takes the configured default.
//
// On success the unit is live and registered. On backends whose creation
// path can fail, the error is returned and nothing is registered.
func (m *Manager) Create(name string, priority, stackSize int, entry func(arg any), arg any) (*sched.Unit, error) {
	if name == "" {
		n := m.nameCounter.Add(1) - 1
		name = fmt.Sprintf("thread.%02d", n%10)
	}
	switch {
	case priority <= 0:
		priority = m.backend.DefaultPriority()
	case priority >= m.backend.MaxPriority():
		priority = m.backend.MaxPriority()
	}
	if stackSize <= 0 {
		stackSize = m.cfg.DefaultStackSize
	}

	ctx := &Context{entry: entry, arg: arg, state: m.cfg.StateAlloc()}

	// The gate holds the trampoline until the record is registered, so no
	// unit can exit — and tombstone — before it exists in the registry.
	ready := make(chan struct{})
	u, err := m.backend.Spawn(name, priority, stackSize, func(u *sched.Unit) {
		m.trampoline(u, ctx, ready)
	})
	if err != nil {
		return nil, fmt.Errorf("create thread %q: %w", name, err)
	}

	ctx.unit = u
	m.registry.Register(u, name)
	close(ready)

	m.log.Debug().
		Str("name", name).
		Int("priority", priority).
		Int("stack_size", stackSize).
		Msg("Thread created")
	return u, nil
}

// trampoline installs the thread's context, runs the entry function, and
// performs the non-skippable exit sequence: tombstone the unit's own
// record, unbind the context, release the runtime state.
func (m *Manager) trampoline(u *sched.Unit, ctx *Context, ready <-chan struct{}) {
	<-ready
	goid := log.Goid()
	m.contexts.Store(goid, ctx)
	defer func() {
		m.registry.Tombstone(u)
		m.contexts.Delete(goid)
		ctx.state = nil
	}()
	ctx.entry(ctx.arg)
}

// Current returns the context installed on the calling unit, or nil when
// called from a goroutine the manager does not own.
func (m *Manager) Current() *Context {
	ctx, _ := m.contexts.Load(log.Goid())
	return ctx
}

// Registry exposes the registry the manager registers into.
func (m *Manager) Registry() *Registry { return m.registry }
