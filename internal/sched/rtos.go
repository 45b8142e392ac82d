package sched

import (
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"oscore/internal/logger"
)

// RTOSConfig configures the embedded scheduler simulation.
type RTOSConfig struct {
	// TickShift is log2 of the nanoseconds per scheduler tick. The default
	// of 20 gives a ~1.05 ms tick, coarse enough that the raw clock visibly
	// needs the monotonic substitution layered above it.
	TickShift int

	// MaxPriority is the highest usable unit priority. The default creation
	// priority is half of it.
	MaxPriority int

	// StackAlloc carves unit stacks. The core wires this to the heap region
	// allocator so unit creation consumes heap like the embedded target; nil
	// falls back to ordinary buffers.
	StackAlloc func(n int) []byte

	// PartialTick is the sub-tick clock refinement hook. Targets with a
	// fine-grained counter inject one; the default contributes nothing.
	PartialTick func() int64
}

const (
	defaultTickShift   = 20
	defaultMaxPriority = 8

	// Stack capacity for the scheduler's own units (idle loop, tick loop).
	systemStackSize = 512
)

func (c *RTOSConfig) applyDefaults() {
	if c.TickShift <= 0 {
		c.TickShift = defaultTickShift
	}
	if c.MaxPriority <= 0 {
		c.MaxPriority = defaultMaxPriority
	}
	if c.StackAlloc == nil {
		c.StackAlloc = func(n int) []byte { return make([]byte, n) }
	}
}

type pendingUnit struct {
	unit *Unit
	body func(*Unit)
}

// RTOS simulates the embedded preemptive scheduler: units spawned before
// Start are queued and launched by it in priority order, a tick loop drives
// the coarse clock, and an idle loop runs the registered idle pass. After
// launch, priorities are advisory — the underlying Go scheduler preempts as
// it pleases, which is within the "no real-time guarantees" contract.
type RTOS struct {
	world
	cfg RTOSConfig
	log log.Logger

	nextID atomic.Uint64

	pmu     sync.Mutex
	pending []pendingUnit

	ticks atomic.Int64

	imu     sync.Mutex
	idleFns []func()

	idleUnit  *Unit
	timerUnit *Unit

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRTOS builds the embedded backend. The scheduler is not running until
// Start; everything before that executes on the boot thread alone.
func NewRTOS(cfg RTOSConfig) *RTOS {
	cfg.applyDefaults()
	return &RTOS{
		cfg:  cfg,
		log:  logger.NewLoggerWithContext("rtos_sched"),
		stop: make(chan struct{}),
	}
}

func (b *RTOS) Kind() string { return "rtos" }

func (b *RTOS) MaxPriority() int     { return b.cfg.MaxPriority }
func (b *RTOS) DefaultPriority() int { return b.cfg.MaxPriority / 2 }

func (b *RTOS) newUnit(name string, priority, stackSize int) *Unit {
	return &Unit{
		id:       b.nextID.Add(1),
		name:     name,
		priority: priority,
		stack:    newStackArena(b.cfg.StackAlloc(stackSize)),
	}
}

// Spawn creates a unit. Stack memory comes from the configured stack
// allocator, so on a fully wired core an oversized request dies with the
// out-of-memory cause instead of failing over to an error — the embedded
// primitives expose no failure path.
func (b *RTOS) Spawn(name string, priority, stackSize int, body func(*Unit)) (*Unit, error) {
	u := b.newUnit(name, priority, stackSize)
	if b.State() == StateNotStarted {
		b.pmu.Lock()
		b.pending = append(b.pending, pendingUnit{unit: u, body: body})
		b.pmu.Unlock()
		b.log.Debug().Str("name", name).Int("priority", priority).Msg("Unit queued until scheduler start")
		return u, nil
	}
	go body(u)
	return u, nil
}

// Start launches the tick and idle loops and every queued unit, highest
// priority first, then marks the scheduler running.
func (b *RTOS) Start() error {
	if b.State() == StateRunning {
		return fmt.Errorf("rtos scheduler already running")
	}

	b.timerUnit = b.newUnit("Tmr Svc", b.cfg.MaxPriority, systemStackSize)
	b.idleUnit = b.newUnit("IDLE", 0, systemStackSize)

	b.pmu.Lock()
	queued := b.pending
	b.pending = nil
	b.pmu.Unlock()
	sort.SliceStable(queued, func(i, j int) bool {
		return queued[i].unit.priority > queued[j].unit.priority
	})

	b.started.Store(true)

	go b.tickLoop(b.timerUnit)
	for _, p := range queued {
		go p.body(p.unit)
	}
	go b.idleLoop(b.idleUnit)

	b.log.Info().
		Dur("tick_period", b.tickPeriod()).
		Int("max_priority", b.cfg.MaxPriority).
		Int("launched", len(queued)).
		Msg("Scheduler started")
	return nil
}

// Stop halts the tick and idle loops. Application units are not touched;
// they end when their bodies return.
func (b *RTOS) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *RTOS) tickPeriod() time.Duration {
	return time.Duration(int64(1) << b.cfg.TickShift)
}

func (b *RTOS) tickLoop(u *Unit) {
	t := time.NewTicker(b.tickPeriod())
	defer t.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-t.C:
			b.ticks.Add(1)
		}
	}
}

func (b *RTOS) idleLoop(u *Unit) {
	period := b.tickPeriod()
	for {
		select {
		case <-b.stop:
			return
		default:
		}
		b.imu.Lock()
		fns := b.idleFns
		b.imu.Unlock()
		for _, fn := range fns {
			fn()
		}
		time.Sleep(period)
	}
}

// ReadClock is tick count scaled to nanoseconds plus the injected sub-tick
// refinement. With the default refinement the source resolution is a whole
// tick, which the monotonic clock service papers over.
func (b *RTOS) ReadClock() int64 {
	t := b.ticks.Load() << b.cfg.TickShift
	if b.cfg.PartialTick != nil {
		t += b.cfg.PartialTick()
	}
	return t
}

func (b *RTOS) StackHeadroom(u *Unit) int { return u.stack.headroom() }

func (b *RTOS) OnIdle(fn func()) {
	b.imu.Lock()
	b.idleFns = append(b.idleFns, fn)
	b.imu.Unlock()
}

func (b *RTOS) Yield() { runtime.Gosched() }

// IdleUnit and TimerUnit expose the scheduler-internal units after Start so
// the boot sequence can add them to the task registry for diagnostics.
func (b *RTOS) IdleUnit() *Unit  { return b.idleUnit }
func (b *RTOS) TimerUnit() *Unit { return b.timerUnit }
