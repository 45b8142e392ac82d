// Package core assembles the runtime: scheduler backend, allocator guard,
// heap regions, task registry and lifecycle manager, once-init runner and
// the monotonic clock, brought up in the fixed order the embedded model
// requires — construction single-threaded, then the scheduler, then the
// application main thread.
package core

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"oscore/internal/config"
	"oscore/internal/fatal"
	"oscore/internal/heap"
	"oscore/internal/logger"
	"oscore/internal/monoclock"
	"oscore/internal/once"
	"oscore/internal/sched"
	"oscore/internal/task"
)

// Hooks are the application's three entry points into the boot order.
type Hooks struct {
	// Init runs during New, before the scheduler exists. Strictly
	// single-threaded; the place for hardware-init style setup.
	Init func(c *Core)

	// PostInit runs on the main thread once the scheduler is live, before
	// the application main function.
	PostInit func(c *Core)

	// Idle runs once per idle cycle, before the registry sweep check.
	Idle func()
}

const defaultSweepInterval = time.Second

// Core owns the assembled runtime.
type Core struct {
	hooks Hooks
	log   log.Logger

	backend sched.Backend
	rtos    *sched.RTOS // nil on the host backend

	guard    *heap.Guard
	heap     *heap.Heap
	registry *task.Registry
	manager  *task.Manager
	clock    *monoclock.Clock
	once     *once.Runner

	sweepInterval time.Duration
	lastSweep     atomic.Int64

	booted atomic.Bool
	start  time.Time
}

// New assembles a core from configuration. Order matters: the backend first,
// the allocator guard over its stop-the-world section, the heap over the
// guard, then the registry, manager, clock and once runner over all of it.
// On the rtos backend with stacks_from_heap, unit stacks are carved out of
// the heap regions, so thread creation consumes heap exactly like the
// embedded target.
func New(rcfg config.RuntimeConfig, hcfg config.HeapConfig, hooks Hooks) (*Core, error) {
	c := &Core{
		hooks: hooks,
		log:   logger.NewLoggerWithContext("core"),
		start: time.Now(),
	}

	switch rcfg.Backend {
	case "rtos":
		bcfg := sched.RTOSConfig{
			TickShift:   rcfg.TickShift,
			MaxPriority: rcfg.MaxPriority,
		}
		if hcfg.StacksFromHeap {
			// c.heap is assigned below, before anything can spawn.
			bcfg.StackAlloc = func(n int) []byte { return c.heap.Alloc(n).Bytes }
		}
		b := sched.NewRTOS(bcfg)
		c.backend, c.rtos = b, b

	case "host":
		c.backend = sched.NewHost(sched.HostConfig{
			MaxUnits:         rcfg.MaxUnits,
			DedicateOSThread: rcfg.DedicateOSThread,
			IdleInterval:     time.Duration(rcfg.IdleIntervalMS) * time.Millisecond,
			MaxPriority:      rcfg.MaxPriority,
		})

	default:
		return nil, fmt.Errorf("unknown runtime backend %q", rcfg.Backend)
	}

	c.guard = heap.NewGuard(c.backend)
	c.heap = heap.New(heap.Config{
		PrimarySize:   hcfg.PrimarySize,
		SecondarySize: hcfg.SecondarySize,
	}, c.guard)
	c.registry = task.NewRegistry(c.backend)
	c.manager = task.NewManager(c.backend, c.registry, task.ManagerConfig{
		DefaultStackSize: rcfg.DefaultStackSize,
	})
	c.clock = monoclock.New(c.backend.ReadClock)
	c.once = once.NewRunner(c.backend, 0)

	c.sweepInterval = time.Duration(rcfg.SweepIntervalMS) * time.Millisecond
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}

	if c.hooks.Init != nil {
		c.hooks.Init(c)
	}

	c.log.Info().
		Str("backend", c.backend.Kind()).
		Int("max_priority", c.backend.MaxPriority()).
		Msg("Runtime core assembled")
	return c, nil
}

// Boot starts the scheduler and hands control to appMain on the main
// thread.
//
// On the rtos backend the main thread is created first so the scheduler
// launches it: it publishes the scheduler's own units to the registry,
// yields once, runs the PostInit hook, then appMain — and if appMain ever
// returns, that is a fatal abort, because the embedded model has nowhere to
// return to. On the host backend appMain returning simply ends the main
// thread. Boot itself returns as soon as the scheduler is live.
func (c *Core) Boot(appMain func()) error {
	if !c.booted.CompareAndSwap(false, true) {
		return fmt.Errorf("core already booted")
	}

	c.lastSweep.Store(time.Now().UnixNano())
	c.backend.OnIdle(c.idlePass)

	if c.rtos != nil {
		if _, err := c.manager.Create("thread.main", 0, 0, func(any) {
			c.mainThread(appMain)
		}, nil); err != nil {
			return fmt.Errorf("create main thread: %w", err)
		}
		if err := c.backend.Start(); err != nil {
			return err
		}
		c.log.Info().Str("backend", "rtos").Msg("Runtime core booted")
		return nil
	}

	if err := c.backend.Start(); err != nil {
		return err
	}
	if _, err := c.manager.Create("thread.main", 0, 0, func(any) {
		if c.hooks.PostInit != nil {
			c.hooks.PostInit(c)
		}
		appMain()
	}, nil); err != nil {
		return fmt.Errorf("create main thread: %w", err)
	}
	c.log.Info().Str("backend", "host").Msg("Runtime core booted")
	return nil
}

// mainThread is the rtos main thread body, mirroring the embedded bring-up:
// the scheduler's timer and idle units get registry records (their headroom
// shows up in diagnostics like any thread's), one yield lets higher-priority
// units run first, then PostInit and the application main.
func (c *Core) mainThread(appMain func()) {
	if u := c.rtos.TimerUnit(); u != nil {
		c.registry.Register(u, u.Name())
	}
	if u := c.rtos.IdleUnit(); u != nil {
		c.registry.Register(u, u.Name())
	}
	c.backend.Yield()

	if c.hooks.PostInit != nil {
		c.hooks.PostInit(c)
	}
	appMain()

	fatal.Die(fatal.CauseAbort, "application main returned on the embedded backend")
}

// idlePass runs every idle cycle: the application idle hook each pass, the
// registry sweep at its own throttled cadence.
func (c *Core) idlePass() {
	if c.hooks.Idle != nil {
		c.hooks.Idle()
	}

	now := time.Now().UnixNano()
	last := c.lastSweep.Load()
	if now-last < c.sweepInterval.Nanoseconds() {
		return
	}
	if !c.lastSweep.CompareAndSwap(last, now) {
		return
	}
	c.registry.Sweep()
}

// Shutdown stops the backend's own loops. Threads run to completion on
// their own; nothing here can terminate them.
func (c *Core) Shutdown() {
	c.backend.Stop()
	c.log.Info().Msg("Runtime core stopped")
}

func (c *Core) Backend() sched.Backend   { return c.backend }
func (c *Core) Heap() *heap.Heap         { return c.heap }
func (c *Core) Registry() *task.Registry { return c.registry }
func (c *Core) Manager() *task.Manager   { return c.manager }
func (c *Core) Clock() *monoclock.Clock  { return c.clock }
func (c *Core) Once() *once.Runner       { return c.once }
