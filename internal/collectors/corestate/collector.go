// Package corestate exports the runtime core's internal state as Prometheus
// metrics: registry occupancy, per-task stack headroom, heap region usage
// and the clock's substitution counter.
package corestate

import (
	"strconv"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"oscore/internal/core"
	"oscore/internal/logger"
)

// CoreCollector implements prometheus.Collector over a runtime core. Every
// value is read fresh at scrape time from the core's passive counters; a
// scrape never advances the monotonic clock or mutates the registry.
type CoreCollector struct {
	core *core.Core
	log  log.Logger

	// Metric Descriptors
	tasksLiveDesc       *prometheus.Desc
	tasksTombstonedDesc *prometheus.Desc
	taskStackUnusedDesc *prometheus.Desc
	taskStackSizeDesc   *prometheus.Desc
	sweepsDesc          *prometheus.Desc
	reclaimedDesc       *prometheus.Desc
	heapUsedDesc        *prometheus.Desc
	heapCapacityDesc    *prometheus.Desc
	heapAllocsDesc      *prometheus.Desc
	heapSpillsDesc      *prometheus.Desc
	heapBytesDesc       *prometheus.Desc
	clockSubsDesc       *prometheus.Desc
	schedInfoDesc       *prometheus.Desc
}

// NewCoreCollector creates the runtime state custom collector.
func NewCoreCollector(c *core.Core) *CoreCollector {
	return &CoreCollector{
		core: c,
		log:  logger.NewLoggerWithContext("corestate_collector"),

		// Initialize descriptors once
		tasksLiveDesc: prometheus.NewDesc(
			"oscore_tasks_live",
			"Number of live execution units tracked by the task registry",
			nil, nil,
		),
		tasksTombstonedDesc: prometheus.NewDesc(
			"oscore_tasks_tombstoned",
			"Number of exited units whose records await the next registry sweep",
			nil, nil,
		),
		taskStackUnusedDesc: prometheus.NewDesc(
			"oscore_task_stack_unused_bytes",
			"Bytes of a task's stack never handed out, as of the last sweep refresh",
			[]string{"task", "unit"}, nil,
		),
		taskStackSizeDesc: prometheus.NewDesc(
			"oscore_task_stack_bytes",
			"Total stack capacity of a task",
			[]string{"task", "unit"}, nil,
		),
		sweepsDesc: prometheus.NewDesc(
			"oscore_registry_sweeps_total",
			"Total registry sweep passes",
			nil, nil,
		),
		reclaimedDesc: prometheus.NewDesc(
			"oscore_registry_reclaimed_total",
			"Total tombstoned records reclaimed by sweeps",
			nil, nil,
		),
		heapUsedDesc: prometheus.NewDesc(
			"oscore_heap_region_used_bytes",
			"Bytes allocated from a heap region",
			[]string{"region"}, nil,
		),
		heapCapacityDesc: prometheus.NewDesc(
			"oscore_heap_region_capacity_bytes",
			"Total capacity of a heap region",
			[]string{"region"}, nil,
		),
		heapAllocsDesc: prometheus.NewDesc(
			"oscore_heap_allocs_total",
			"Total allocations satisfied by the heap",
			nil, nil,
		),
		heapSpillsDesc: prometheus.NewDesc(
			"oscore_heap_spills_total",
			"Total allocations that spilled into the secondary region",
			nil, nil,
		),
		heapBytesDesc: prometheus.NewDesc(
			"oscore_heap_allocated_bytes_total",
			"Total bytes handed out by the heap",
			nil, nil,
		),
		clockSubsDesc: prometheus.NewDesc(
			"oscore_clock_substitutions_total",
			"Total clock readings synthesized to preserve strict monotonicity",
			nil, nil,
		),
		schedInfoDesc: prometheus.NewDesc(
			"oscore_sched_info",
			"Scheduler backend identity, value fixed at 1",
			[]string{"backend", "state"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
// It sends the descriptors of all the metrics the collector can possibly
// export to the provided channel. This is called once during registration.
func (c *CoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasksLiveDesc
	ch <- c.tasksTombstonedDesc
	ch <- c.taskStackUnusedDesc
	ch <- c.taskStackSizeDesc
	ch <- c.sweepsDesc
	ch <- c.reclaimedDesc
	ch <- c.heapUsedDesc
	ch <- c.heapCapacityDesc
	ch <- c.heapAllocsDesc
	ch <- c.heapSpillsDesc
	ch <- c.heapBytesDesc
	ch <- c.clockSubsDesc
	ch <- c.schedInfoDesc
}

// Collect implements prometheus.Collector.
// It is called by Prometheus on each scrape and must create new metrics
// each time to avoid race conditions and ensure stale metrics are not
// exposed.
func (c *CoreCollector) Collect(ch chan<- prometheus.Metric) {
	reg := c.core.Registry()

	// --- Task registry metrics ---

	tombstoned := 0
	live := 0
	for _, rec := range reg.Snapshot() {
		if rec.Tombstoned {
			// A tombstoned record's unused-stack field holds the reclaim
			// sentinel, not a measurement; only count it.
			tombstoned++
			continue
		}
		live++
		unit := strconv.FormatUint(rec.Unit, 10)
		ch <- prometheus.MustNewConstMetric(
			c.taskStackUnusedDesc,
			prometheus.GaugeValue,
			float64(rec.UnusedStack),
			rec.Name, unit,
		)
		ch <- prometheus.MustNewConstMetric(
			c.taskStackSizeDesc,
			prometheus.GaugeValue,
			float64(rec.StackSize),
			rec.Name, unit,
		)
	}
	ch <- prometheus.MustNewConstMetric(c.tasksLiveDesc, prometheus.GaugeValue, float64(live))
	ch <- prometheus.MustNewConstMetric(c.tasksTombstonedDesc, prometheus.GaugeValue, float64(tombstoned))
	ch <- prometheus.MustNewConstMetric(c.sweepsDesc, prometheus.CounterValue, float64(reg.Sweeps()))
	ch <- prometheus.MustNewConstMetric(c.reclaimedDesc, prometheus.CounterValue, float64(reg.Reclaimed()))

	// --- Heap metrics ---

	hs := c.core.Heap().Stats()
	for _, r := range hs.Regions {
		ch <- prometheus.MustNewConstMetric(
			c.heapUsedDesc,
			prometheus.GaugeValue,
			float64(r.Used),
			r.Name,
		)
		ch <- prometheus.MustNewConstMetric(
			c.heapCapacityDesc,
			prometheus.GaugeValue,
			float64(r.Capacity),
			r.Name,
		)
	}
	ch <- prometheus.MustNewConstMetric(c.heapAllocsDesc, prometheus.CounterValue, float64(hs.Allocs))
	ch <- prometheus.MustNewConstMetric(c.heapSpillsDesc, prometheus.CounterValue, float64(hs.Spills))
	ch <- prometheus.MustNewConstMetric(c.heapBytesDesc, prometheus.CounterValue, float64(hs.BytesTotal))

	// --- Clock and scheduler metrics ---

	ch <- prometheus.MustNewConstMetric(
		c.clockSubsDesc,
		prometheus.CounterValue,
		float64(c.core.Clock().Substitutions()),
	)
	ch <- prometheus.MustNewConstMetric(
		c.schedInfoDesc,
		prometheus.GaugeValue,
		1,
		c.core.Backend().Kind(),
		c.core.Backend().State().String(),
	)

	c.log.Debug().Msg("Collected core state metrics")
}
