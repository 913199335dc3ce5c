package analysis

// maxCallDepth caps the number of frames CallStack returns; corrupt stack
// memory could otherwise cycle forever.
const maxCallDepth = 1024

// WordReader reads 32-bit words from physical memory.
type WordReader interface {
	Word(addr uint32) uint32
}

// ValidProgramAddress reports whether addr can be a frame address:
// non-zero and word aligned.
func ValidProgramAddress(addr uint32) bool {
	return addr != 0 && addr&3 == 0
}

// CallStack unwinds the stack described by pc, sp and ra using the stack
// metadata in subs. Frames are returned innermost first. sp is translated
// once; saved return addresses are read from mem at physical addresses.
func CallStack(subs *Registry, mem WordReader, tr Translator, pc, sp, ra uint32) []uint32 {
	psp := tr.Translate(sp)
	var frames []uint32

	routine := subs.Find(pc)
	if routine == nil {
		if ValidProgramAddress(pc) {
			frames = append(frames, pc)
		}
		if pc != ra && ValidProgramAddress(ra) {
			frames = append(frames, ra)
		}
		return frames
	}

	if r := subs.Find(ra); r != nil && r.Start == routine.Start {
		// RA was clobbered by a nested call; this frame's return address is
		// in its spill slot.
		ra = mem.Word(psp + routine.ReturnAddrPos)
		psp += routine.StackSize
	} else if pc > routine.StackAllocStart && pc <= routine.StackAllocEnd {
		// Prologue already ran.
		psp += routine.StackSize
	}

	for len(frames) < maxCallDepth {
		frames = append(frames, pc)
		pc = ra

		routine = subs.Find(pc)
		if routine == nil {
			if ValidProgramAddress(ra) {
				frames = append(frames, ra)
			}
			break
		}

		ra = mem.Word(psp + routine.ReturnAddrPos)
		psp += routine.StackSize

		if pc == ra && routine.StackSize == 0 {
			if ValidProgramAddress(ra) {
				frames = append(frames, ra)
			}
			break
		}
	}
	return frames
}
