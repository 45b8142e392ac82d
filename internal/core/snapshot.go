package core

import "time"

// Snapshot is the point-in-time diagnostic view served on the state
// endpoint.
type Snapshot struct {
	Backend       string  `json:"backend"`
	SchedState    string  `json:"sched_state"`
	UptimeSeconds float64 `json:"uptime_seconds"`

	Clock ClockSnapshot `json:"clock"`
	Heap  HeapSnapshot  `json:"heap"`

	Tasks     []TaskSnapshot `json:"tasks"`
	LiveTasks int            `json:"live_tasks"`
	Sweeps    uint64         `json:"sweeps"`
	Reclaimed uint64         `json:"reclaimed"`
}

type ClockSnapshot struct {
	NowNS         int64  `json:"now_ns"`
	Substitutions uint64 `json:"substitutions"`
}

type HeapSnapshot struct {
	Regions    []RegionSnapshot `json:"regions"`
	Allocs     uint64           `json:"allocs"`
	Spills     uint64           `json:"spills"`
	BytesTotal uint64           `json:"bytes_total"`
}

type RegionSnapshot struct {
	Name     string `json:"name"`
	Capacity int    `json:"capacity"`
	Used     int    `json:"used"`
}

type TaskSnapshot struct {
	Unit        uint64 `json:"unit,omitempty"`
	Name        string `json:"name"`
	UnusedStack uint32 `json:"unused_stack"`
	StackSize   int    `json:"stack_size,omitempty"`
	Tombstoned  bool   `json:"tombstoned"`
}

// Snapshot collects the current runtime state. Reading the clock here is a
// real clock consumption, so consecutive snapshots always show it advancing.
func (c *Core) Snapshot() Snapshot {
	s := Snapshot{
		Backend:       c.backend.Kind(),
		SchedState:    c.backend.State().String(),
		UptimeSeconds: time.Since(c.start).Seconds(),
		Clock: ClockSnapshot{
			NowNS:         c.clock.Now(),
			Substitutions: c.clock.Substitutions(),
		},
		LiveTasks: c.registry.Live(),
		Sweeps:    c.registry.Sweeps(),
		Reclaimed: c.registry.Reclaimed(),
	}

	hs := c.heap.Stats()
	s.Heap = HeapSnapshot{
		Allocs:     hs.Allocs,
		Spills:     hs.Spills,
		BytesTotal: hs.BytesTotal,
	}
	for _, r := range hs.Regions {
		s.Heap.Regions = append(s.Heap.Regions, RegionSnapshot{
			Name:     r.Name,
			Capacity: r.Capacity,
			Used:     r.Used,
		})
	}

	for _, rec := range c.registry.Snapshot() {
		s.Tasks = append(s.Tasks, TaskSnapshot{
			Unit:        rec.Unit,
			Name:        rec.Name,
			UnusedStack: rec.UnusedStack,
			StackSize:   rec.StackSize,
			Tombstoned:  rec.Tombstoned,
		})
	}
	return s
}
