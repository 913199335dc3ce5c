package analysis

import (
	"encoding/binary"
	"slices"
	"testing"
	"time"
)

// testImage is little-endian memory starting at address 0.
type testImage struct {
	data []byte
}

func newTestImage(size int) *testImage { return &testImage{data: make([]byte, size)} }

func (m *testImage) Byte(addr uint32) uint8 {
	if int(addr) >= len(m.data) {
		return 0
	}
	return m.data[addr]
}

func (m *testImage) Word(addr uint32) uint32 {
	if int(addr)+4 > len(m.data) {
		return 0
	}
	return binary.LittleEndian.Uint32(m.data[addr:])
}

func (m *testImage) Instruction(addr uint32) uint32 { return m.Word(addr) }

// put stores consecutive instruction words starting at addr.
func (m *testImage) put(addr uint32, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(m.data[addr+uint32(i*4):], w)
	}
}

func (m *testImage) putBytes(addr uint32, b ...byte) {
	copy(m.data[addr:], b)
}

// tagMap is an in-memory AnnotationStore.
type tagMap struct {
	tags     map[uint32]string
	notified int
}

func newTagMap() *tagMap { return &tagMap{tags: make(map[uint32]string)} }

func (t *tagMap) Has(addr uint32) bool         { _, ok := t.tags[addr]; return ok }
func (t *tagMap) Set(addr uint32, text string) { t.tags[addr] = text }
func (t *tagMap) NotifyChanged()               { t.notified++ }

// MIPS encodings used by the synthesized programs.
const (
	opNOP  = 0x00000000
	opJRRA = 0x03E00008
)

func addiuSP(delta int16) uint32 { return 0x27BD0000 | uint32(uint16(delta)) }
func swRA(off uint16) uint32     { return 0xAFBF0000 | uint32(off) }
func lwRA(off uint16) uint32     { return 0x8FBF0000 | uint32(off) }
func jal(target uint32) uint32   { return 0x0C000000 | (target>>2)&0x03FFFFFF }
func jump(target uint32) uint32  { return 0x08000000 | (target>>2)&0x03FFFFFF }
func lui(rt int, imm uint16) uint32 {
	return 0x3C000000 | uint32(rt)<<16 | uint32(imm)
}
func addiu(rt, rs int, imm int16) uint32 {
	return 0x24000000 | uint32(rs)<<21 | uint32(rt)<<16 | uint32(uint16(imm))
}

// bne encodes BNE rs, ZERO to target from pc.
func bne(rs int, pc, target uint32) uint32 {
	off := (int32(target) - int32(pc+4)) >> 2
	return 0x14000000 | uint32(rs)<<21 | uint32(uint16(off))
}

func newTestAnalysis(mem *testImage, tags *tagMap) *Analysis {
	opts := Options{Source: mem}
	if tags != nil {
		opts.Comments = tags
	}
	return New(opts)
}

func TestAnalyzeSingleRoutine(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x20),
		swRA(0x1C),
		opNOP,
		lwRA(0x1C),
		addiuSP(0x20),
		opJRRA,
		opNOP,
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, 0x1000)

	subs := a.Subroutines()
	if len(subs) != 1 {
		t.Fatalf("subroutines = %d, want 1: %+v", len(subs), subs)
	}
	want := Subroutine{
		Start: 0x1000, End: 0x1018,
		StackAllocStart: 0x1000, StackAllocEnd: 0x1010,
		StackSize: 0x20, ReturnAddrPos: 0x1C,
	}
	if subs[0] != want {
		t.Errorf("subroutine = %+v, want %+v", subs[0], want)
	}
}

func TestAnalyzeReleaseInDelaySlot(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x10),
		swRA(0x0C),
		lwRA(0x0C),
		opJRRA,
		addiuSP(0x10),
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	s, ok := a.FindSubroutine(0x1000)
	if !ok {
		t.Fatal("routine not found")
	}
	if s.End != 0x1010 || s.StackAllocEnd != 0x1010 || s.StackSize != 0x10 || s.ReturnAddrPos != 0x0C {
		t.Errorf("subroutine = %+v", s)
	}
}

func TestAnalyzeNoReleaseDropped(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x10),
		opJRRA,
		opNOP,
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)
	if n := len(a.Subroutines()); n != 0 {
		t.Errorf("subroutines = %d, want 0", n)
	}

	// The entry point still yields a frameless routine.
	a.Analyze(0x1000, 0x2000, 0x1000)
	s, ok := a.FindSubroutine(0x1004)
	if !ok {
		t.Fatal("entry point routine not found")
	}
	if s.Start != 0x1000 || s.End != 0x1008 || s.StackSize != 0 {
		t.Errorf("subroutine = %+v", s)
	}
}

func TestAnalyzeDelaySlotSizeMismatch(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x10),
		opJRRA,
		addiuSP(0x20),
		opNOP,
		addiuSP(0x10),
		opJRRA,
		opNOP,
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)
	if subs := a.Subroutines(); len(subs) != 0 {
		t.Errorf("subroutines = %+v, want none", subs)
	}
}

func TestAnalyzeTailJumpWithoutRelease(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x18),
		swRA(0x14),
		jump(0x1010),
		opNOP,
		lwRA(0x14),
		addiuSP(0x18),
		opJRRA,
		opNOP,
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	subs := a.Subroutines()
	if len(subs) != 1 {
		t.Fatalf("subroutines = %d, want 1: %+v", len(subs), subs)
	}
	want := Subroutine{
		Start: 0x1000, End: 0x101C,
		StackAllocStart: 0x1000, StackAllocEnd: 0x1014,
		StackSize: 0x18, ReturnAddrPos: 0x14,
	}
	if subs[0] != want {
		t.Errorf("subroutine = %+v, want %+v", subs[0], want)
	}
}

// sparseImage is an instruction source over a word table, for code placed
// anywhere in the 32-bit address space.
type sparseImage map[uint32]uint32

func (m sparseImage) Word(addr uint32) uint32        { return m[addr] }
func (m sparseImage) Instruction(addr uint32) uint32 { return m[addr] }
func (m sparseImage) Byte(addr uint32) uint8 {
	return uint8(m[addr&^3] >> (8 * (addr & 3)))
}

func TestAnalyzeTopOfAddressSpace(t *testing.T) {
	mem := sparseImage{
		0xFFFFFFF0: addiuSP(-0x10),
		0xFFFFFFF4: addiuSP(0x10),
		0xFFFFFFF8: opJRRA,
		0xFFFFFFFC: opNOP,
	}
	a := New(Options{Source: mem})

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.Analyze(0xFFFFF000, 0xFFFFFFFF, NoEntryPoint)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Analyze did not return")
	}

	s, ok := a.FindSubroutine(0xFFFFFFF8)
	if !ok {
		t.Fatal("routine not found")
	}
	want := Subroutine{
		Start: 0xFFFFFFF0, End: 0xFFFFFFFC,
		StackAllocStart: 0xFFFFFFF0, StackAllocEnd: 0xFFFFFFF4,
		StackSize: 0x10,
	}
	if s != want {
		t.Errorf("subroutine = %+v, want %+v", s, want)
	}
	if n := len(a.Subroutines()); n != 1 {
		t.Errorf("subroutines = %d, want 1", n)
	}
}

func TestAnalyzeJumpTargets(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		jal(0x1100),
		opNOP,
		opJRRA,
		opNOP,
	)
	mem.put(0x1100,
		opNOP,
		opJRRA,
		opNOP,
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	subs := a.Subroutines()
	if len(subs) != 1 || subs[0].Start != 0x1100 || subs[0].End != 0x1108 {
		t.Fatalf("subroutines = %+v, want [0x1100, 0x1108]", subs)
	}

	a.Clear()
	a.Analyze(0x1000, 0x2000, 0x1000)
	if _, ok := a.FindSubroutine(0x1000); !ok {
		t.Error("entry point routine not found")
	}
	if n := len(a.Subroutines()); n != 2 {
		t.Errorf("subroutines = %d, want 2", n)
	}
}

func TestAnalyzeJumpTargetOutOfRange(t *testing.T) {
	mem := newTestImage(0x4000)
	mem.put(0x1000, jal(0x3000), opNOP)
	mem.put(0x3000, opJRRA, opNOP)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, 0x3000)
	if n := len(a.Subroutines()); n != 0 {
		t.Errorf("subroutines = %d, want 0", n)
	}
}

func TestAnalyzeMergeLowersStart(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		opNOP,
		opNOP,
		addiuSP(-0x10), // 0x1008: stack pass starts here
		addiuSP(0x10),
		opJRRA,
		opNOP,
	)
	mem.put(0x1800, jal(0x1000), opNOP)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	subs := a.Subroutines()
	if len(subs) != 1 {
		t.Fatalf("subroutines = %+v, want 1", subs)
	}
	s := subs[0]
	if s.Start != 0x1000 || s.End != 0x1014 {
		t.Errorf("range = [0x%x, 0x%x], want [0x1000, 0x1014]", s.Start, s.End)
	}
	// Only the start moves.
	if s.StackAllocStart != 0x1008 || s.StackSize != 0x10 {
		t.Errorf("stack metadata changed: %+v", s)
	}
}

func TestAnalyzeExpandColdPath(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x10),
		bne(4, 0x1004, 0x1020),
		opNOP,
		addiuSP(0x10), // 0x100C
		opJRRA,
		opNOP, // 0x1014
	)
	mem.put(0x1020,
		opNOP,
		opJRRA,
		addiuSP(0x10), // 0x1028
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	subs := a.Subroutines()
	if len(subs) != 1 {
		t.Fatalf("subroutines = %+v, want 1", subs)
	}
	if subs[0].End != 0x1028 {
		t.Errorf("end = 0x%x, want 0x1028", subs[0].End)
	}
	if subs[0].StackAllocEnd != 0x1028 {
		t.Errorf("stack alloc end = 0x%x, want 0x1028", subs[0].StackAllocEnd)
	}
}

func TestAnalyzeExpandStopsAtKnownRoutine(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x10),
		bne(4, 0x1004, 0x1020),
		opNOP,
		addiuSP(0x10),
		opJRRA,
		opNOP,
	)
	mem.put(0x1020,
		addiuSP(-0x8),
		opJRRA,
		addiuSP(0x8),
	)

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, NoEntryPoint)

	subs := a.Subroutines()
	if len(subs) != 2 {
		t.Fatalf("subroutines = %+v, want 2", subs)
	}
	if subs[0].End != 0x1014 {
		t.Errorf("first routine grew into the second: %+v", subs[0])
	}
}

func TestAnalyzeIdempotent(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000,
		addiuSP(-0x20), swRA(0x1C), jal(0x1100), opNOP,
		lwRA(0x1C), addiuSP(0x20), opJRRA, opNOP,
	)
	mem.put(0x1100, opNOP, opJRRA, opNOP)
	mem.put(0x1200, addiuSP(-0x10), bne(4, 0x1204, 0x1240), opNOP, opJRRA, addiuSP(0x10))
	mem.put(0x1240, opJRRA, addiuSP(0x10))

	a := newTestAnalysis(mem, nil)
	a.Analyze(0x1000, 0x2000, 0x1000)
	first := a.Subroutines()
	if len(first) == 0 {
		t.Fatal("nothing discovered")
	}

	a.Clear()
	if n := len(a.Subroutines()); n != 0 {
		t.Fatalf("Clear left %d subroutines", n)
	}
	a.Analyze(0x1000, 0x2000, 0x1000)
	if second := a.Subroutines(); !slices.Equal(first, second) {
		t.Errorf("second run differs:\n%+v\n%+v", first, second)
	}

	// Re-running without Clear must not disturb the registry.
	a.Analyze(0x1000, 0x2000, 0x1000)
	if third := a.Subroutines(); !slices.Equal(first, third) {
		t.Errorf("re-analysis changed the registry:\n%+v\n%+v", first, third)
	}
}

func TestAnalyzeTranslatesAddresses(t *testing.T) {
	mem := newTestImage(0x2000)
	mem.put(0x1000, addiuSP(-0x10), addiuSP(0x10), opJRRA, opNOP)

	a := New(Options{
		Source:     mem,
		Translator: TranslatorFunc(func(addr uint32) uint32 { return addr & 0x1FFFFFFF }),
	})
	a.Analyze(0x80001000, 0x80002000, NoEntryPoint)

	s, ok := a.FindSubroutine(0x80001004)
	if !ok {
		t.Fatal("routine not found at logical address")
	}
	if s.Start != 0x80001000 || s.End != 0x8000100C {
		t.Errorf("subroutine = %+v", s)
	}
}
