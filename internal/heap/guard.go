package heap

// Suspender is the slice of the scheduler backend the allocator guard needs:
// the process-wide stop-the-world critical section.
type Suspender interface {
	SuspendAll()
	ResumeAll()
}

// Guard brackets every heap operation with the stop-the-world section
// instead of a private mutex, so allocation is atomic with respect to every
// other unit — including units that never touch the heap — and safe to call
// before the scheduler runs (the backend skips locking then).
//
// Not reentrant: acquiring the guard while holding it is a caller bug, the
// classic way being an interrupt-context allocation on the embedded target.
type Guard struct {
	s Suspender
}

// NewGuard wraps s. A nil s yields an unguarded instance for strictly
// single-threaded use.
func NewGuard(s Suspender) *Guard {
	return &Guard{s: s}
}

func (g *Guard) Lock() {
	if g.s != nil {
		g.s.SuspendAll()
	}
}

func (g *Guard) Unlock() {
	if g.s != nil {
		g.s.ResumeAll()
	}
}
