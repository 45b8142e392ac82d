package sched

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"

	"oscore/internal/logger"
)

// HostConfig configures the goroutine-backed host backend.
type HostConfig struct {
	// MaxUnits bounds live units; 0 means unlimited. Exceeding it is the
	// host's recoverable creation failure.
	MaxUnits int

	// DedicateOSThread locks each unit to its own OS thread and, where the
	// platform allows, names that thread after the unit.
	DedicateOSThread bool

	// IdleInterval is the cadence of the maintenance pass that stands in
	// for the embedded idle hook. Defaults to 250ms.
	IdleInterval time.Duration

	// MaxPriority mirrors the embedded priority model so creation-time
	// clamping behaves identically; the host scheduler itself ignores
	// priorities.
	MaxPriority int
}

const defaultIdleInterval = 250 * time.Millisecond

func (c *HostConfig) applyDefaults() {
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaultIdleInterval
	}
	if c.MaxPriority <= 0 {
		c.MaxPriority = defaultMaxPriority
	}
}

// Host runs units as plain goroutines. There is no scheduler to start — the
// backend reports running from construction and the stop-the-world section
// is always a real lock — but Start still begins the maintenance pass so
// sweeping behaves the same on both backends.
type Host struct {
	world
	cfg HostConfig
	log log.Logger

	nextID atomic.Uint64
	live   atomic.Int64

	imu     sync.Mutex
	idleFns []func()

	stop     chan struct{}
	stopOnce sync.Once
}

func NewHost(cfg HostConfig) *Host {
	cfg.applyDefaults()
	b := &Host{
		cfg:  cfg,
		log:  logger.NewLoggerWithContext("host_sched"),
		stop: make(chan struct{}),
	}
	b.started.Store(true)
	return b
}

func (b *Host) Kind() string { return "host" }

func (b *Host) MaxPriority() int     { return b.cfg.MaxPriority }
func (b *Host) DefaultPriority() int { return b.cfg.MaxPriority / 2 }

// Spawn launches body on a new goroutine. Past the unit limit it returns
// ErrUnitLimit and creates nothing.
func (b *Host) Spawn(name string, priority, stackSize int, body func(*Unit)) (*Unit, error) {
	n := b.live.Add(1)
	if b.cfg.MaxUnits > 0 && n > int64(b.cfg.MaxUnits) {
		b.live.Add(-1)
		b.log.Warn().Str("name", name).Int("limit", b.cfg.MaxUnits).Msg("Unit limit exhausted")
		return nil, fmt.Errorf("spawn %q: %w", name, ErrUnitLimit)
	}

	u := &Unit{
		id:       b.nextID.Add(1),
		name:     name,
		priority: priority,
		stack:    newStackArena(make([]byte, stackSize)),
	}
	go func() {
		defer b.live.Add(-1)
		if b.cfg.DedicateOSThread {
			runtime.LockOSThread()
			setThreadName(u.name)
			defer runtime.UnlockOSThread()
		}
		body(u)
	}()
	return u, nil
}

// Start begins the maintenance pass that runs the registered idle functions.
func (b *Host) Start() error {
	go func() {
		t := time.NewTicker(b.cfg.IdleInterval)
		defer t.Stop()
		for {
			select {
			case <-b.stop:
				return
			case <-t.C:
				b.imu.Lock()
				fns := b.idleFns
				b.imu.Unlock()
				for _, fn := range fns {
					fn()
				}
			}
		}
	}()
	return nil
}

func (b *Host) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// Live reports the number of units currently running.
func (b *Host) Live() int { return int(b.live.Load()) }

func (b *Host) ReadClock() int64 { return monotonicNanos() }

func (b *Host) StackHeadroom(u *Unit) int { return u.stack.headroom() }

func (b *Host) OnIdle(fn func()) {
	b.imu.Lock()
	b.idleFns = append(b.idleFns, fn)
	b.imu.Unlock()
}

func (b *Host) Yield() { runtime.Gosched() }

// clockBase anchors the portable fallback time source.
var clockBase = time.Now()

func fallbackNanos() int64 { return int64(time.Since(clockBase)) }
