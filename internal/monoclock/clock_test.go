package monoclock

import (
	"sort"
	"sync"
	"testing"
)

func TestFrozenSourceStillIncreases(t *testing.T) {
	c := New(func() int64 { return 100 })

	prev := c.Now()
	if prev != 100 {
		t.Fatalf("first reading = %d, want 100", prev)
	}
	for i := 0; i < 50; i++ {
		v := c.Now()
		if v != prev+1 {
			t.Fatalf("reading = %d after %d, want +1 steps", v, prev)
		}
		prev = v
	}
	if subs := c.Substitutions(); subs != 50 {
		t.Errorf("substitutions = %d, want 50", subs)
	}
}

func TestAdvancingSourcePassesThrough(t *testing.T) {
	var src int64
	c := New(func() int64 { return src })

	src = 1000
	if v := c.Now(); v != 1000 {
		t.Fatalf("reading = %d, want 1000", v)
	}
	src = 5000
	if v := c.Now(); v != 5000 {
		t.Fatalf("reading = %d, want 5000", v)
	}
	if subs := c.Substitutions(); subs != 0 {
		t.Errorf("substitutions = %d, want 0", subs)
	}
	if c.Last() != 5000 {
		t.Errorf("Last = %d, want 5000", c.Last())
	}
}

func TestBackwardsSourceClamped(t *testing.T) {
	readings := []int64{500, 200, 200, 501}
	i := 0
	c := New(func() int64 { v := readings[i]; i++; return v })

	want := []int64{500, 501, 502, 503}
	for n, w := range want {
		if v := c.Now(); v != w {
			t.Fatalf("reading %d = %d, want %d", n, v, w)
		}
	}
}

func TestConcurrentCallersStrictlyIncrease(t *testing.T) {
	// A frozen source forces every reading through the substitution rule,
	// the worst case for strictness under contention.
	c := New(func() int64 { return 0 })

	const (
		callers = 8
		reads   = 1000
	)
	seqs := make([][]int64, callers)
	var wg sync.WaitGroup
	for g := 0; g < callers; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			seq := make([]int64, 0, reads)
			for i := 0; i < reads; i++ {
				seq = append(seq, c.Now())
			}
			seqs[g] = seq
		}(g)
	}
	wg.Wait()

	var all []int64
	for g, seq := range seqs {
		for i := 1; i < len(seq); i++ {
			if seq[i] <= seq[i-1] {
				t.Fatalf("caller %d saw %d then %d", g, seq[i-1], seq[i])
			}
		}
		all = append(all, seq...)
	}

	// Strict global increase means no two callers ever got the same value.
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i := 1; i < len(all); i++ {
		if all[i] == all[i-1] {
			t.Fatalf("duplicate reading %d", all[i])
		}
	}
}
