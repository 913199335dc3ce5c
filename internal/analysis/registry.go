package analysis

import (
	"fmt"

	"github.com/google/btree"
)

// Subroutine is a heuristically identified procedure body.
//
// End is the delay slot of the instruction that concludes the routine
// (inclusive). Stack fields are 0 when unknown.
type Subroutine struct {
	Start           uint32
	End             uint32
	StackAllocStart uint32
	StackAllocEnd   uint32
	StackSize       uint32
	ReturnAddrPos   uint32
}

// Contains reports whether addr lies in [Start, End].
func (s *Subroutine) Contains(addr uint32) bool {
	return addr >= s.Start && addr <= s.End
}

// InvariantError reports broken registry bookkeeping. It is raised with
// panic: it means the discovery passes disagree about ownership of an
// address, which is a programming error rather than a heuristic miss.
type InvariantError struct {
	Op   string
	Addr uint32
	Msg  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("analysis: %s 0x%08X: %s", e.Op, e.Addr, e.Msg)
}

// Registry is the ordered set of known subroutines keyed by start address.
// Intervals never overlap.
type Registry struct {
	tree *btree.BTreeG[*Subroutine]
}

func lessByStart(a, b *Subroutine) bool { return a.Start < b.Start }

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tree: btree.NewG(16, lessByStart)}
}

// Len returns the number of subroutines.
func (r *Registry) Len() int { return r.tree.Len() }

// Clear removes every subroutine.
func (r *Registry) Clear() { r.tree.Clear(false) }

// Find returns the subroutine whose [Start, End] contains addr, or nil.
func (r *Registry) Find(addr uint32) *Subroutine {
	s := r.floor(addr)
	if s == nil || !s.Contains(addr) {
		return nil
	}
	return s
}

// floor returns the subroutine with the greatest Start <= addr.
func (r *Registry) floor(addr uint32) *Subroutine {
	var found *Subroutine
	r.tree.DescendLessOrEqual(&Subroutine{Start: addr}, func(s *Subroutine) bool {
		found = s
		return false
	})
	return found
}

// Next returns the subroutine with the smallest Start > addr, or nil.
func (r *Registry) Next(addr uint32) *Subroutine {
	if addr == 0xFFFFFFFF {
		return nil
	}
	var found *Subroutine
	r.tree.AscendGreaterOrEqual(&Subroutine{Start: addr + 1}, func(s *Subroutine) bool {
		found = s
		return false
	})
	return found
}

// Subroutines returns a snapshot of all subroutines in address order.
func (r *Registry) Subroutines() []Subroutine {
	out := make([]Subroutine, 0, r.tree.Len())
	r.tree.Ascend(func(s *Subroutine) bool {
		out = append(out, *s)
		return true
	})
	return out
}

// Insert records a new subroutine. It panics with *InvariantError if the
// new interval touches or overlaps an existing one.
func (r *Registry) Insert(s Subroutine) {
	if err := r.insert(s); err != nil {
		panic(err)
	}
}

// Overlaps reports whether [start, end] intersects any registered interval.
func (r *Registry) Overlaps(start, end uint32) bool {
	return r.overlapping(start, end, nil) != nil
}

func (r *Registry) insert(s Subroutine) error {
	switch {
	case s.End < s.Start:
		return &InvariantError{Op: "insert", Addr: s.Start, Msg: fmt.Sprintf("end 0x%08X before start", s.End)}
	case r.Find(s.Start) != nil:
		return &InvariantError{Op: "insert", Addr: s.Start, Msg: "start already covered"}
	case r.Find(s.End) != nil:
		return &InvariantError{Op: "insert", Addr: s.End, Msg: "end already covered"}
	case r.overlapping(s.Start, s.End, nil) != nil:
		return &InvariantError{Op: "insert", Addr: s.Start, Msg: "interval overlaps an existing subroutine"}
	}
	r.tree.ReplaceOrInsert(&s)
	return nil
}

// overlapping returns a registered subroutine other than skip whose
// interval intersects [start, end].
func (r *Registry) overlapping(start, end uint32, skip *Subroutine) *Subroutine {
	var found *Subroutine
	r.tree.DescendLessOrEqual(&Subroutine{Start: end}, func(s *Subroutine) bool {
		if s == skip {
			return true
		}
		if s.End >= start {
			found = s
		}
		return false
	})
	return found
}

// ChangeStart re-keys the subroutine starting at currStart to newStart.
// It panics if currStart is not a registered start or the new interval
// would overlap another subroutine.
func (r *Registry) ChangeStart(currStart, newStart uint32) {
	s, ok := r.tree.Get(&Subroutine{Start: currStart})
	if !ok {
		panic(&InvariantError{Op: "change start", Addr: currStart, Msg: "no such subroutine"})
	}
	if newStart > s.End {
		panic(&InvariantError{Op: "change start", Addr: newStart, Msg: fmt.Sprintf("past end 0x%08X", s.End)})
	}
	if other := r.overlapping(newStart, s.End, s); other != nil {
		panic(&InvariantError{Op: "change start", Addr: newStart, Msg: fmt.Sprintf("overlaps subroutine at 0x%08X", other.Start)})
	}
	r.tree.Delete(s)
	s.Start = newStart
	r.tree.ReplaceOrInsert(s)
}

// ChangeEnd moves the end of the subroutine starting at start. newEnd must
// be greater than start.
func (r *Registry) ChangeEnd(start, newEnd uint32) {
	if newEnd <= start {
		panic(&InvariantError{Op: "change end", Addr: start, Msg: fmt.Sprintf("end 0x%08X not after start", newEnd)})
	}
	s, ok := r.tree.Get(&Subroutine{Start: start})
	if !ok {
		panic(&InvariantError{Op: "change end", Addr: start, Msg: "no such subroutine"})
	}
	if other := r.overlapping(start, newEnd, s); other != nil {
		panic(&InvariantError{Op: "change end", Addr: newEnd, Msg: fmt.Sprintf("overlaps subroutine at 0x%08X", other.Start)})
	}
	s.End = newEnd
}
