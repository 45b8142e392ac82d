// workload.go
package main

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	plog "github.com/phuslu/log"

	"oscore/internal/config"
	"oscore/internal/core"
	"oscore/internal/heap"
	"oscore/internal/once"
)

// Workload drives the runtime core so the exported metrics show real
// activity: a set of long-lived worker threads plus, on the host backend, a
// churn loop creating short-lived auto-named threads for the registry sweep
// to reclaim. The embedded backend gets no churn — there every thread stack
// permanently consumes heap, and the bump allocator never gives it back.
type Workload struct {
	cfg  config.WorkloadConfig
	core *core.Core
	log  plog.Logger

	// tableOnce guards the shared lookup table all workers use; the first
	// worker to arrive builds it.
	tableOnce once.Flag
	table     heap.Block

	churned  atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once
}

func NewWorkload(cfg config.WorkloadConfig, c *core.Core) *Workload {
	return &Workload{
		cfg:  cfg,
		core: c,
		log:  plog.DefaultLogger,
		stop: make(chan struct{}),
	}
}

func (w *Workload) interval() time.Duration {
	if w.cfg.ChurnIntervalMS <= 0 {
		return 500 * time.Millisecond
	}
	return time.Duration(w.cfg.ChurnIntervalMS) * time.Millisecond
}

// Main is the application main thread. It spawns the workers, churns
// short-lived threads until stopped, and on the embedded backend parks
// forever afterwards — an embedded main has nowhere to return to.
func (w *Workload) Main() {
	if w.cfg.Enabled {
		for i := 0; i < w.cfg.Workers; i++ {
			name := fmt.Sprintf("worker.%d", i)
			if _, err := w.core.Manager().Create(name, 0, 0, w.worker, i); err != nil {
				w.log.Error().Err(err).Str("name", name).Msg("Failed to create worker thread")
			}
		}
		w.churnLoop()
	} else {
		<-w.stop
	}

	if w.core.Backend().Kind() == "rtos" {
		select {}
	}
}

func (w *Workload) churnLoop() {
	if w.core.Backend().Kind() != "host" {
		<-w.stop
		return
	}

	t := time.NewTicker(w.interval())
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.churn()
		}
	}
}

// churn creates one short-lived auto-named thread. Its whole life — create,
// run, exit, tombstone, sweep — cycles the registry machinery.
func (w *Workload) churn() {
	_, err := w.core.Manager().Create("", 0, 0, func(any) {
		ctx := w.core.Manager().Current()
		scratch := ctx.Unit().Scratch(32)
		binary.LittleEndian.PutUint64(scratch, uint64(w.core.Clock().Now()))
	}, nil)
	if err != nil {
		// Hitting the unit limit is survivable; the next tick retries.
		w.log.Warn().Err(err).Msg("Churn thread creation failed")
		return
	}
	w.churned.Add(1)
}

// worker is a long-lived thread body: it takes a fixed heap block and stack
// scratch up front, then touches them on every tick. All its allocation
// happens at startup, so a running workload never grows the heap.
func (w *Workload) worker(arg any) {
	ctx := w.core.Manager().Current()
	rnd := ctx.State().Rand

	w.core.Once().Do(&w.tableOnce, func() {
		w.table = w.core.Heap().Alloc(1024)
		for i := range w.table.Bytes {
			w.table.Bytes[i] = byte(i * 31)
		}
		w.log.Debug().Int("size", len(w.table.Bytes)).Msg("Shared worker table allocated")
	})

	var block heap.Block
	if w.cfg.AllocBytes > 0 {
		block = w.core.Heap().Alloc(w.cfg.AllocBytes)
	}
	scratch := ctx.Unit().Scratch(64)

	t := time.NewTicker(w.interval())
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			now := w.core.Clock().Now()
			binary.LittleEndian.PutUint64(scratch, uint64(now))
			if len(block.Bytes) > 0 {
				block.Bytes[rnd.Intn(len(block.Bytes))]++
			}
			// The shared table is written once at init and read-only after.
			if n := len(w.table.Bytes); n > 0 {
				scratch[8] ^= w.table.Bytes[int(now)%n]
			}
		}
	}
}

// Stop ends the churn loop and the workers. The main thread itself finishes
// on the host backend and parks on the embedded one.
func (w *Workload) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Churned reports how many short-lived threads the workload has created.
func (w *Workload) Churned() uint64 { return w.churned.Load() }
