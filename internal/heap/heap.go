// Package heap implements the fixed two-region bump allocator of the
// embedded memory model: a primary region, an optional secondary region an
// allocation spills into when the primary cannot hold it, and nothing else —
// no free, no compaction, no growth. Exhausting both regions is
// unrecoverable by design and terminates the process.
package heap

import (
	"sync/atomic"

	"github.com/phuslu/log"

	"oscore/internal/fatal"
	"oscore/internal/logger"
)

// Config fixes the region geometry. Regions are created once and never
// relocated.
type Config struct {
	// PrimarySize is the primary region's capacity in bytes.
	PrimarySize int

	// SecondarySize is the spill region's capacity; 0 configures no
	// secondary region.
	SecondarySize int
}

// Block is one satisfied allocation: which region it came from, the byte
// offset within that region, and the bytes themselves. Bytes are zeroed on
// the first pass through a region; after a Reset their content is
// unspecified.
type Block struct {
	Region string
	Offset int
	Bytes  []byte
}

// RegionStats is a point-in-time view of one region.
type RegionStats struct {
	Name     string
	Capacity int
	Used     int
}

// Stats is a point-in-time view of the whole heap.
type Stats struct {
	Regions    []RegionStats
	Allocs     uint64
	Spills     uint64
	BytesTotal uint64
}

type region struct {
	name string
	buf  []byte
	next int // guarded by the allocator guard
}

func (r *region) remaining() int { return len(r.buf) - r.next }

// Heap is the two-region allocator. All mutation runs under the allocator
// guard, which serializes it against every task-registry mutation as well.
type Heap struct {
	guard   *Guard
	regions []*region
	log     log.Logger

	allocs atomic.Uint64
	spills atomic.Uint64
	bytes  atomic.Uint64
}

// New builds the heap over guard. The primary region always exists (possibly
// empty, in which case the first allocation dies); the secondary only when
// configured.
func New(cfg Config, guard *Guard) *Heap {
	h := &Heap{
		guard: guard,
		log:   logger.NewLoggerWithContext("heap"),
	}
	if cfg.PrimarySize < 0 {
		cfg.PrimarySize = 0
	}
	h.regions = append(h.regions, &region{name: "primary", buf: make([]byte, cfg.PrimarySize)})
	if cfg.SecondarySize > 0 {
		h.regions = append(h.regions, &region{name: "secondary", buf: make([]byte, cfg.SecondarySize)})
	}
	h.log.Debug().
		Int("primary", cfg.PrimarySize).
		Int("secondary", cfg.SecondarySize).
		Msg("Heap regions created")
	return h
}

// Alloc returns n contiguous bytes: from the primary region's bump offset,
// or spilled whole into the secondary when the primary cannot hold the
// request, or death with the out-of-memory cause. Requests consume exactly n
// bytes — there is no alignment padding, the caller aligns if it must.
// A non-positive n yields an empty block and consumes nothing.
func (h *Heap) Alloc(n int) Block {
	if n <= 0 {
		return Block{Region: h.regions[0].name}
	}

	h.guard.Lock()
	for i, r := range h.regions {
		if r.next+n <= len(r.buf) {
			off := r.next
			r.next += n
			h.guard.Unlock()

			h.allocs.Add(1)
			h.bytes.Add(uint64(n))
			if i > 0 {
				h.spills.Add(1)
				h.log.Debug().Int("size", n).Str("region", r.name).Msg("Allocation spilled")
			}
			return Block{Region: r.name, Offset: off, Bytes: r.buf[off : off+n]}
		}
	}
	h.guard.Unlock()

	fatal.Die(fatal.CauseOutOfMemory, "heap exhausted: %d byte request exceeds all regions", n)
	return Block{} // unreachable outside tests that trap the death path
}

// Stats snapshots the heap under the guard.
func (h *Heap) Stats() Stats {
	s := Stats{
		Allocs:     h.allocs.Load(),
		Spills:     h.spills.Load(),
		BytesTotal: h.bytes.Load(),
	}
	h.guard.Lock()
	for _, r := range h.regions {
		s.Regions = append(s.Regions, RegionStats{Name: r.name, Capacity: len(r.buf), Used: r.next})
	}
	h.guard.Unlock()
	return s
}

// Reset rewinds every region's bump offset without clearing bytes, so
// subsequently handed-out memory is unspecified rather than zeroed. Test and
// bench support; production targets never reclaim.
func (h *Heap) Reset() {
	h.guard.Lock()
	for _, r := range h.regions {
		r.next = 0
	}
	h.guard.Unlock()
}
