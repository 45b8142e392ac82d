package corestate

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"oscore/internal/config"
	"oscore/internal/core"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached before timeout")
}

// bootedCore builds a host core whose main thread stays alive until cleanup.
func bootedCore(t *testing.T) *core.Core {
	t.Helper()
	c, err := core.New(config.RuntimeConfig{
		Backend:          "host",
		MaxPriority:      8,
		DefaultStackSize: 1024,
		IdleIntervalMS:   10,
		SweepIntervalMS:  20,
	}, config.HeapConfig{
		PrimarySize:   64 << 10,
		SecondarySize: 16 << 10,
	}, core.Hooks{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Shutdown)

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	if err := c.Boot(func() { <-release }); err != nil {
		t.Fatalf("Boot: %v", err)
	}
	waitFor(t, time.Second, func() bool { return c.Registry().Live() == 1 })
	return c
}

func TestCollectorRegistersAndLints(t *testing.T) {
	collector := NewCoreCollector(bootedCore(t))

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather: %v", err)
	}

	problems, err := testutil.CollectAndLint(collector)
	if err != nil {
		t.Fatalf("CollectAndLint: %v", err)
	}
	for _, p := range problems {
		t.Errorf("lint: %s: %s", p.Metric, p.Text)
	}
}

func TestSchedInfoMetric(t *testing.T) {
	collector := NewCoreCollector(bootedCore(t))

	expected := `
# HELP oscore_sched_info Scheduler backend identity, value fixed at 1
# TYPE oscore_sched_info gauge
oscore_sched_info{backend="host",state="running"} 1
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "oscore_sched_info"); err != nil {
		t.Errorf("unexpected sched info metric: %v", err)
	}
}

func TestHeapRegionMetrics(t *testing.T) {
	collector := NewCoreCollector(bootedCore(t))

	expected := `
# HELP oscore_heap_region_capacity_bytes Total capacity of a heap region
# TYPE oscore_heap_region_capacity_bytes gauge
oscore_heap_region_capacity_bytes{region="primary"} 65536
oscore_heap_region_capacity_bytes{region="secondary"} 16384
`
	if err := testutil.CollectAndCompare(collector, strings.NewReader(expected), "oscore_heap_region_capacity_bytes"); err != nil {
		t.Errorf("unexpected heap capacity metrics: %v", err)
	}
}

func TestPerTaskMetricsSurviveDuplicateNames(t *testing.T) {
	c := bootedCore(t)
	collector := NewCoreCollector(c)

	// Two live threads sharing a name must still yield distinct series;
	// the unit id label disambiguates them.
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	for i := 0; i < 2; i++ {
		if _, err := c.Manager().Create("worker", 0, 0, func(any) { <-release }, nil); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	waitFor(t, time.Second, func() bool { return c.Registry().Live() == 3 })

	if got := testutil.CollectAndCount(collector, "oscore_task_stack_bytes"); got != 3 {
		t.Errorf("stack size series = %d, want 3", got)
	}

	// A pedantic registry rejects any duplicate label sets outright.
	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(collector); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather with duplicate task names: %v", err)
	}
}
