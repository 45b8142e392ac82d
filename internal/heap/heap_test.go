package heap

import (
	"sort"
	"sync"
	"testing"

	"oscore/internal/fatal"
	"oscore/internal/sched"
)

// trapDeath routes the fatal path into a recoverable panic and reports
// whether fn died.
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

func TestPrimaryThenSecondarySpill(t *testing.T) {
	h := New(Config{PrimarySize: 1024, SecondarySize: 512}, NewGuard(nil))

	first := h.Alloc(900)
	if first.Region != "primary" || first.Offset != 0 {
		t.Fatalf("first = %s@%d, want primary@0", first.Region, first.Offset)
	}
	if len(first.Bytes) != 900 {
		t.Fatalf("first len = %d, want 900", len(first.Bytes))
	}

	s := h.Stats()
	if used := s.Regions[0].Used; used != 900 {
		t.Errorf("primary used = %d, want 900", used)
	}
	if rem := s.Regions[0].Capacity - s.Regions[0].Used; rem != 124 {
		t.Errorf("primary remaining = %d, want 124", rem)
	}

	// 200 bytes no longer fit the primary's 124, so the request spills.
	second := h.Alloc(200)
	if second.Region != "secondary" || second.Offset != 0 {
		t.Fatalf("second = %s@%d, want secondary@0", second.Region, second.Offset)
	}

	s = h.Stats()
	if s.Spills != 1 {
		t.Errorf("spills = %d, want 1", s.Spills)
	}
	if s.Allocs != 2 || s.BytesTotal != 1100 {
		t.Errorf("allocs = %d bytes = %d, want 2 and 1100", s.Allocs, s.BytesTotal)
	}
}

func TestSmallRequestsStayInPrimary(t *testing.T) {
	h := New(Config{PrimarySize: 256, SecondarySize: 256}, NewGuard(nil))
	a := h.Alloc(100)
	b := h.Alloc(100)
	if a.Region != "primary" || b.Region != "primary" {
		t.Fatalf("regions = %s, %s, want primary twice", a.Region, b.Region)
	}
	if b.Offset != 100 {
		t.Errorf("second offset = %d, want 100", b.Offset)
	}
}

func TestExhaustionIsFatal(t *testing.T) {
	h := New(Config{PrimarySize: 64, SecondarySize: 32}, NewGuard(nil))
	if blk := h.Alloc(64); blk.Region != "primary" {
		t.Fatalf("warmup region = %s", blk.Region)
	}

	died, cause := trapDeath(t, func() { h.Alloc(33) })
	if !died {
		t.Fatal("oversized allocation did not die")
	}
	if cause != fatal.CauseOutOfMemory {
		t.Errorf("cause = %v, want %v", cause, fatal.CauseOutOfMemory)
	}
	// No partial progress: the failed request consumed nothing.
	s := h.Stats()
	if s.Regions[1].Used != 0 {
		t.Errorf("secondary used = %d after failed alloc", s.Regions[1].Used)
	}
	if s.Allocs != 1 {
		t.Errorf("allocs = %d, want 1", s.Allocs)
	}
}

func TestNoSecondaryConfigured(t *testing.T) {
	h := New(Config{PrimarySize: 64}, NewGuard(nil))
	if died, _ := trapDeath(t, func() { h.Alloc(65) }); !died {
		t.Fatal("allocation beyond the only region did not die")
	}
}

func TestFreshBytesZeroed(t *testing.T) {
	h := New(Config{PrimarySize: 128}, NewGuard(nil))
	blk := h.Alloc(128)
	for i, b := range blk.Bytes {
		if b != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, b)
		}
	}
}

func TestZeroSizeAlloc(t *testing.T) {
	h := New(Config{PrimarySize: 64}, NewGuard(nil))
	blk := h.Alloc(0)
	if len(blk.Bytes) != 0 {
		t.Errorf("zero alloc returned %d bytes", len(blk.Bytes))
	}
	if s := h.Stats(); s.Regions[0].Used != 0 || s.Allocs != 0 {
		t.Errorf("zero alloc consumed state: %+v", s)
	}
}

func TestReset(t *testing.T) {
	h := New(Config{PrimarySize: 64}, NewGuard(nil))
	h.Alloc(40)
	h.Reset()
	if s := h.Stats(); s.Regions[0].Used != 0 {
		t.Fatalf("used = %d after Reset", s.Regions[0].Used)
	}
	if blk := h.Alloc(8); blk.Offset != 0 {
		t.Errorf("offset = %d after Reset, want 0", blk.Offset)
	}
}

func TestConcurrentAllocationsDoNotOverlap(t *testing.T) {
	backend := sched.NewHost(sched.HostConfig{})
	defer backend.Stop()
	h := New(Config{PrimarySize: 16384}, NewGuard(backend))

	const (
		workers = 8
		each    = 50
		size    = 16
	)
	offsets := make([][]int, workers)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				blk := h.Alloc(size)
				offsets[w] = append(offsets[w], blk.Offset)
			}
		}(w)
	}
	wg.Wait()

	var all []int
	for _, ofs := range offsets {
		all = append(all, ofs...)
	}
	sort.Ints(all)
	for i := 1; i < len(all); i++ {
		if all[i] < all[i-1]+size {
			t.Fatalf("overlapping blocks at offsets %d and %d", all[i-1], all[i])
		}
	}
	if s := h.Stats(); s.Regions[0].Used != workers*each*size {
		t.Errorf("used = %d, want %d", s.Regions[0].Used, workers*each*size)
	}
}
