// Package task tracks and manages the execution units of the runtime core:
// a registry of live and recently-exited units, swept from the idle cycle,
// and the lifecycle manager that creates units, trampolines their entry
// functions and tears them down on return.
package task

import (
	"github.com/phuslu/log"

	"oscore/internal/logger"
	"oscore/internal/sched"
)

// reclaimSentinel is stored in a tombstoned record's unused-stack field so
// half-dead records are unmistakable in memory dumps.
const reclaimSentinel = 0xb5c5d5e5

// record is one registry slot. Three shapes: live (unit set), tombstoned
// (unit cleared, unused-stack holds the sentinel, name retained for
// diagnostics), or free (zero value, on the free list).
type record struct {
	unit        *sched.Unit
	name        string
	unusedStack uint32
}

func (r *record) tombstoned() bool {
	return r.unit == nil && r.unusedStack == reclaimSentinel
}

// RecordInfo is the exported snapshot view of one record. Unit is 0 for
// tombstoned records, whose handle is already gone.
type RecordInfo struct {
	Unit        uint64
	Name        string
	UnusedStack uint32
	StackSize   int
	Tombstoned  bool
}

// Registry is the live-unit bookkeeping table. Records live in an arena of
// stable slots with a free list — the garbage-collected rendition of the
// original's hand-linked list. Every mutation and read runs inside the
// stop-the-world critical section, which also serializes it against all
// heap allocation.
type Registry struct {
	backend sched.Backend
	log     log.Logger

	// Guarded by the stop-the-world section.
	recs      []record
	free      []int
	sweeps    uint64
	reclaimed uint64
}

func NewRegistry(b sched.Backend) *Registry {
	return &Registry{
		backend: b,
		log:     logger.NewLoggerWithContext("task_registry"),
	}
}

// Register inserts a record for u. The initial unused-stack measurement is
// the unit's current headroom.
func (r *Registry) Register(u *sched.Unit, name string) {
	rec := record{unit: u, name: name, unusedStack: uint32(r.backend.StackHeadroom(u))}

	r.backend.SuspendAll()
	if n := len(r.free); n > 0 {
		slot := r.free[n-1]
		r.free = r.free[:n-1]
		r.recs[slot] = rec
	} else {
		r.recs = append(r.recs, rec)
	}
	r.backend.ResumeAll()

	r.log.Debug().Str("name", name).Uint64("unit", u.ID()).Msg("Unit registered")
}

// Tombstone marks u's record as exited: handle cleared, unused-stack set to
// the reclaim sentinel. The slot itself is only released by the next sweep.
// A unit with no record is silently ignored — it may simply be untracked.
func (r *Registry) Tombstone(u *sched.Unit) {
	r.backend.SuspendAll()
	for i := range r.recs {
		if r.recs[i].unit == u {
			r.recs[i].unit = nil
			r.recs[i].unusedStack = reclaimSentinel
			break
		}
	}
	r.backend.ResumeAll()
}

// Sweep reclaims and refreshes the registry in two passes under the
// stop-the-world section. Pass one releases every tombstoned slot. Pass two
// re-measures each live unit's stack headroom, reopening the critical
// section between records so the sweep never holds the world for more than
// one measurement at a time. Runs once per idle cycle.
func (r *Registry) Sweep() {
	var reclaimed uint64

	r.backend.SuspendAll()
	for i := range r.recs {
		if r.recs[i].tombstoned() {
			r.recs[i] = record{}
			r.free = append(r.free, i)
			reclaimed++
		}
	}

	for i := 0; i < len(r.recs); i++ {
		if r.recs[i].unit == nil {
			continue
		}
		r.recs[i].unusedStack = uint32(r.backend.StackHeadroom(r.recs[i].unit))
		r.backend.ResumeAll()
		r.backend.SuspendAll()
	}

	r.sweeps++
	r.reclaimed += reclaimed
	r.backend.ResumeAll()

	if reclaimed > 0 {
		r.log.Debug().Uint64("reclaimed", reclaimed).Msg("Sweep reclaimed exited units")
	}
}

// Snapshot copies the occupied records (live and tombstoned, not free
// slots) for diagnostics.
func (r *Registry) Snapshot() []RecordInfo {
	var out []RecordInfo
	r.backend.SuspendAll()
	for i := range r.recs {
		rec := &r.recs[i]
		switch {
		case rec.unit != nil:
			out = append(out, RecordInfo{
				Unit:        rec.unit.ID(),
				Name:        rec.name,
				UnusedStack: rec.unusedStack,
				StackSize:   rec.unit.StackSize(),
				Tombstoned:  false,
			})
		case rec.tombstoned():
			out = append(out, RecordInfo{
				Name:        rec.name,
				UnusedStack: rec.unusedStack,
				Tombstoned:  true,
			})
		}
	}
	r.backend.ResumeAll()
	return out
}

// Live counts records with a unit still attached.
func (r *Registry) Live() int {
	n := 0
	r.backend.SuspendAll()
	for i := range r.recs {
		if r.recs[i].unit != nil {
			n++
		}
	}
	r.backend.ResumeAll()
	return n
}

// Sweeps and Reclaimed report lifetime sweep activity.
func (r *Registry) Sweeps() uint64 {
	r.backend.SuspendAll()
	defer r.backend.ResumeAll()
	return r.sweeps
}

func (r *Registry) Reclaimed() uint64 {
	r.backend.SuspendAll()
	defer r.backend.ResumeAll()
	return r.reclaimed
}
