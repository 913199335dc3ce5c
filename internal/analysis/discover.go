package analysis

import (
	"slices"

	"unstrip/internal/disasm"
)

// findByStackAllocation records routines bracketed by ADDIU SP, SP, -K and
// a matching ADDIU SP, SP, K next to their JR RA or J.
func (a *Analysis) findByStackAllocation(start, end uint32) int {
	found := 0
	for cand := start; cand < end; cand += 4 {
		size, ok := disasm.StackAlloc(a.instruction(cand))
		if !ok || a.subs.Find(cand) != nil {
			continue
		}

		var raPos uint32
		for addr := cand; addr < end; addr += 4 {
			op := a.instruction(addr)
			if off, ok := disasm.ReturnAddrSpill(op); ok {
				raPos = off
			}
			if !disasm.IsTerminator(op) {
				continue
			}

			// Release before the jump.
			if a.releasesStack(addr-4, size) {
				if a.tryInsert(Subroutine{
					Start: cand, End: addr + 4,
					StackAllocStart: cand, StackAllocEnd: addr - 4,
					StackSize: size, ReturnAddrPos: raPos,
				}) {
					found++
				}
				if addr+4 >= end {
					return found
				}
				cand = addr + 4
				break
			}

			// Release in the delay slot. Any stack adjustment there ends
			// the search for this candidate.
			if _, ok := disasm.StackAdjust(a.instruction(addr + 4)); ok {
				if a.releasesStack(addr+4, size) {
					if a.tryInsert(Subroutine{
						Start: cand, End: addr + 4,
						StackAllocStart: cand, StackAllocEnd: addr + 4,
						StackSize: size, ReturnAddrPos: raPos,
					}) {
						found++
					}
					if addr+4 >= end {
						return found
					}
					cand = addr + 4
				}
				break
			}
		}
	}
	return found
}

// releasesStack reports whether the instruction at addr is ADDIU SP, SP, size.
func (a *Analysis) releasesStack(addr, size uint32) bool {
	delta, ok := disasm.StackAdjust(a.instruction(addr))
	return ok && delta > 0 && uint32(delta) == size
}

// tryInsert records s unless it would overlap a known subroutine.
func (a *Analysis) tryInsert(s Subroutine) bool {
	if a.subs.Overlaps(s.Start, s.End) {
		log.Debugf("dropping candidate [0x%08X, 0x%08X]: overlaps a known subroutine", s.Start, s.End)
		return false
	}
	a.subs.Insert(s)
	return true
}

// jumpTargets collects J/JAL targets inside [start, end) plus the entry
// point, sorted and unique.
func (a *Analysis) jumpTargets(start, end, entryPoint uint32) []uint32 {
	var targets []uint32
	for addr := start; addr < end; addr += 4 {
		op := a.instruction(addr)
		if !disasm.IsJAL(op) && !disasm.IsJ(op) {
			continue
		}
		target := disasm.JumpTarget(op, addr)
		if target < start || target >= end {
			continue
		}
		targets = append(targets, target)
	}
	if entryPoint != NoEntryPoint {
		if ep := entryPoint &^ 3; ep >= start && ep < end {
			targets = append(targets, ep)
		}
	}
	slices.Sort(targets)
	return slices.Compact(targets)
}

// findByJumpTargets records routines starting at call and jump targets.
// A target that runs into a known routine before reaching a terminator
// becomes that routine's new start.
func (a *Analysis) findByJumpTargets(start, end, entryPoint uint32) int {
	found := 0
	for _, target := range a.jumpTargets(start, end, entryPoint) {
		if target == 0 || a.subs.Find(target) != nil {
			continue
		}
		for addr := target; addr < end && addr-target < searchLimit; addr += 4 {
			if s := a.subs.Find(addr); s != nil {
				a.subs.ChangeStart(s.Start, target)
				break
			}
			if disasm.IsTerminator(a.instruction(addr)) {
				if a.tryInsert(Subroutine{Start: target, End: addr + 4}) {
					found++
				}
				break
			}
		}
	}
	return found
}

// expandSubroutines extends routines over cold paths reached by forward
// branches past their current end.
func (a *Analysis) expandSubroutines(start, end uint32) int {
	var subs []*Subroutine
	a.subs.tree.Ascend(func(s *Subroutine) bool {
		subs = append(subs, s)
		return true
	})

	extended := 0
	for _, sub := range subs {
		if sub.Start < start || sub.End > end {
			continue
		}
		// sub.End may grow while scanning. The subtraction form stops at
		// the top of the address space.
		for addr := sub.Start; addr-sub.Start <= sub.End-sub.Start; addr += 4 {
			op := a.instruction(addr)
			if a.branches.Classify(addr, op) != disasm.NormalBranch {
				continue
			}
			target, ok := a.branches.EffectiveTarget(addr, op)
			if !ok || target <= sub.End || target-sub.End > searchLimit || target >= end {
				continue
			}
			if a.subs.Find(target) != nil {
				continue
			}

			routineEnd, ok := a.findFreeEnd(target)
			if !ok {
				continue
			}
			if next := a.subs.Next(sub.Start); next != nil && next.Start <= routineEnd {
				continue
			}

			if delta, ok := disasm.StackAdjust(a.instruction(routineEnd)); ok && uint32(uint16(delta)) == sub.StackSize {
				sub.StackAllocEnd = max(sub.StackAllocEnd, routineEnd)
			}
			if routineEnd > sub.End {
				a.subs.ChangeEnd(sub.Start, routineEnd)
				extended++
			}
		}
	}
	return extended
}

// findFreeEnd scans forward from begin for JR RA, J or B and returns its
// delay slot. It fails on reaching a known subroutine.
func (a *Analysis) findFreeEnd(begin uint32) (uint32, bool) {
	for addr := begin; addr >= begin && addr-begin <= searchLimit; addr += 4 {
		if a.subs.Find(addr) != nil {
			return 0, false
		}
		op := a.instruction(addr)
		if disasm.IsTerminator(op) || disasm.IsBranchAlways(op) {
			if addr+4 < addr {
				return 0, false
			}
			return addr + 4, true
		}
	}
	return 0, false
}
