package task

import (
	"testing"
	"time"

	"oscore/internal/sched"
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

func hostBackend(t *testing.T) *sched.Host {
	t.Helper()
	b := sched.NewHost(sched.HostConfig{})
	t.Cleanup(b.Stop)
	return b
}

// spawnHeld creates a raw unit whose body blocks until the returned channel
// is closed.
func spawnHeld(t *testing.T, b *sched.Host, name string, stackSize int) (*sched.Unit, chan struct{}) {
	t.Helper()
	release := make(chan struct{})
	u, err := b.Spawn(name, 0, stackSize, func(*sched.Unit) { <-release })
	if err != nil {
		t.Fatalf("Spawn %s: %v", name, err)
	}
	return u, release
}

func TestRegisterAndSnapshot(t *testing.T) {
	b := hostBackend(t)
	r := NewRegistry(b)

	u, release := spawnHeld(t, b, "worker", 1024)
	defer close(release)
	r.Register(u, "worker")

	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	if snap[0].Name != "worker" || snap[0].Tombstoned {
		t.Errorf("snapshot = %+v", snap[0])
	}
	if snap[0].UnusedStack != 1024 {
		t.Errorf("initial unused stack = %d, want full 1024", snap[0].UnusedStack)
	}
	if r.Live() != 1 {
		t.Errorf("Live = %d, want 1", r.Live())
	}
}

func TestTombstoneSetsSentinel(t *testing.T) {
	b := hostBackend(t)
	r := NewRegistry(b)

	u, release := spawnHeld(t, b, "doomed", 256)
	defer close(release)
	r.Register(u, "doomed")
	r.Tombstone(u)

	snap := r.Snapshot()
	if len(snap) != 1 || !snap[0].Tombstoned {
		t.Fatalf("snapshot = %+v, want one tombstoned record", snap)
	}
	if snap[0].UnusedStack != reclaimSentinel {
		t.Errorf("unused stack = %#x, want sentinel %#x", snap[0].UnusedStack, uint32(reclaimSentinel))
	}
	if snap[0].Name != "doomed" {
		t.Errorf("tombstoned record lost its name: %q", snap[0].Name)
	}
	if r.Live() != 0 {
		t.Errorf("Live = %d, want 0", r.Live())
	}
}

func TestTombstoneUnknownUnitIsNoop(t *testing.T) {
	b := hostBackend(t)
	r := NewRegistry(b)

	u, release := spawnHeld(t, b, "untracked", 256)
	defer close(release)
	r.Tombstone(u) // never registered

	if snap := r.Snapshot(); len(snap) != 0 {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func TestSweepReclaimsTombstones(t *testing.T) {
	b := hostBackend(t)
	r := NewRegistry(b)

	var releases []chan struct{}
	var units []*sched.Unit
	for _, name := range []string{"a", "b", "c"} {
		u, release := spawnHeld(t, b, name, 256)
		releases = append(releases, release)
		units = append(units, u)
		r.Register(u, name)
	}
	defer func() {
		for _, c := range releases {
			close(c)
		}
	}()

	r.Tombstone(units[1])
	r.Sweep()

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot len = %d after sweep, want 2", len(snap))
	}
	for _, rec := range snap {
		if rec.Tombstoned {
			t.Errorf("tombstoned record %q survived the sweep", rec.Name)
		}
	}
	if got := r.Reclaimed(); got != 1 {
		t.Errorf("Reclaimed = %d, want 1", got)
	}
	if got := r.Sweeps(); got != 1 {
		t.Errorf("Sweeps = %d, want 1", got)
	}

	// The freed slot is reused rather than growing the arena.
	u, release := spawnHeld(t, b, "d", 256)
	releases = append(releases, release)
	r.Register(u, "d")
	if n := len(r.recs); n != 3 {
		t.Errorf("arena holds %d slots, want 3 (slot reuse)", n)
	}
}

func TestSweepRefreshesHeadroom(t *testing.T) {
	b := hostBackend(t)
	r := NewRegistry(b)

	scratched := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	u, err := b.Spawn("scratcher", 0, 1024, func(u *sched.Unit) {
		u.Scratch(50)
		close(scratched)
		<-release
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	r.Register(u, "scratcher")
	<-scratched

	r.Sweep()
	snap := r.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d", len(snap))
	}
	if snap[0].UnusedStack != 974 {
		t.Errorf("unused stack = %d after sweep, want 974", snap[0].UnusedStack)
	}
}
