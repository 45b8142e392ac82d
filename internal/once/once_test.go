package once

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"oscore/internal/fatal"
	"oscore/internal/sched"
)

func trapDeath(t *testing.T, fn func()) (died bool, cause fatal.Cause) {
	t.Helper()
	prev := fatal.SetHandler(func(c fatal.Cause, _ string) {
		died = true
		cause = c
		panic("fatal handler")
	})
	t.Cleanup(func() { fatal.SetHandler(prev) })
	func() {
		defer func() { _ = recover() }()
		fn()
	}()
	return died, cause
}

func runningBackend(t *testing.T) *sched.Host {
	t.Helper()
	b := sched.NewHost(sched.HostConfig{})
	t.Cleanup(b.Stop)
	return b
}

func TestRunsExactlyOnceSequential(t *testing.T) {
	r := NewRunner(runningBackend(t), 0)
	var f Flag
	runs := 0
	for i := 0; i < 3; i++ {
		r.Do(&f, func() { runs++ })
	}
	if runs != 1 {
		t.Errorf("initializer ran %d times", runs)
	}
	if f.State() != Done {
		t.Errorf("flag state = %v, want Done", f.State())
	}
}

func TestRunsExactlyOnceConcurrent(t *testing.T) {
	r := NewRunner(runningBackend(t), time.Millisecond)
	var f Flag
	var runs atomic.Int32

	const callers = 16
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Do(&f, func() {
				time.Sleep(20 * time.Millisecond)
				runs.Add(1)
			})
			// Every caller must observe completion before Do returns.
			if f.State() != Done {
				t.Errorf("Do returned with state %v", f.State())
			}
		}()
	}
	wg.Wait()

	if n := runs.Load(); n != 1 {
		t.Errorf("initializer ran %d times with %d callers", n, callers)
	}
}

func TestIndependentFlags(t *testing.T) {
	r := NewRunner(runningBackend(t), 0)
	var a, b Flag
	runs := 0
	r.Do(&a, func() { runs++ })
	r.Do(&b, func() { runs++ })
	if runs != 2 {
		t.Errorf("runs = %d, want 2 for two flags", runs)
	}
}

func TestPreSchedulerUnlockedPath(t *testing.T) {
	b := sched.NewRTOS(sched.RTOSConfig{})
	t.Cleanup(b.Stop)
	if b.State() != sched.StateNotStarted {
		t.Fatal("backend unexpectedly running")
	}

	r := NewRunner(b, 0)
	var f Flag
	ran := false
	r.Do(&f, func() { ran = true })
	if !ran || f.State() != Done {
		t.Fatalf("boot-path init ran=%v state=%v", ran, f.State())
	}
	// Second call is a no-op.
	r.Do(&f, func() { t.Error("initializer reran") })
}

func TestReentrantFatalPreScheduler(t *testing.T) {
	b := sched.NewRTOS(sched.RTOSConfig{})
	t.Cleanup(b.Stop)
	r := NewRunner(b, 0)
	var f Flag

	died, cause := trapDeath(t, func() {
		r.Do(&f, func() {
			r.Do(&f, func() {})
		})
	})
	if !died {
		t.Fatal("reentrant once did not die")
	}
	if cause != fatal.CauseUsageViolation {
		t.Errorf("cause = %v, want %v", cause, fatal.CauseUsageViolation)
	}
}

func TestReentrantFatalWhileRunning(t *testing.T) {
	r := NewRunner(runningBackend(t), time.Millisecond)
	var f Flag

	died, cause := trapDeath(t, func() {
		r.Do(&f, func() {
			r.Do(&f, func() {})
		})
	})
	if !died {
		t.Fatal("reentrant once did not die")
	}
	if cause != fatal.CauseUsageViolation {
		t.Errorf("cause = %v, want %v", cause, fatal.CauseUsageViolation)
	}
}

func TestWaiterSeesCompletion(t *testing.T) {
	r := NewRunner(runningBackend(t), time.Millisecond)
	var f Flag

	started := make(chan struct{})
	release := make(chan struct{})
	go r.Do(&f, func() {
		close(started)
		<-release
	})
	<-started

	// A second caller arriving mid-initialization must not return until the
	// initializer finishes.
	waiterDone := make(chan struct{})
	go func() {
		r.Do(&f, func() { t.Error("second caller ran the initializer") })
		close(waiterDone)
	}()

	time.Sleep(10 * time.Millisecond)
	select {
	case <-waiterDone:
		t.Fatal("waiter returned while the initializer was still in progress")
	default:
	}

	close(release)
	<-waiterDone
	if f.State() != Done {
		t.Errorf("state = %v after waiting", f.State())
	}
}
