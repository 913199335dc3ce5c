package disasm

import "fmt"

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation. Receives the full Inst for access
// to both raw encoding and address.
type Annotator func(inst Inst) string

// CommentAnnotator annotates instructions that carry a stored comment
// (string references found by the analysis, user comments).
func CommentAnnotator(comments SymbolLookup) Annotator {
	return func(inst Inst) string {
		if comments == nil {
			return ""
		}
		if s, ok := comments(inst.Addr); ok {
			return fmt.Sprintf("%q", s)
		}
		return ""
	}
}

// CallAnnotator annotates JAL sites with the callee's name.
func CallAnnotator(symbols SymbolLookup) Annotator {
	return func(inst Inst) string {
		if symbols == nil || !IsJAL(inst.Raw) {
			return ""
		}
		if name, ok := symbols(JumpTarget(inst.Raw, inst.Addr)); ok {
			return "-> " + name
		}
		return ""
	}
}

// PeepholeState tracks LUI results for multi-instruction address patterns.
type PeepholeState struct {
	symbols SymbolLookup
	hi      [32]uint32
	valid   [32]bool
}

// NewPeepholeState creates a peephole annotator for LUI+ADDIU/ORI address
// materialisation. symbols may be nil.
func NewPeepholeState(symbols SymbolLookup) *PeepholeState {
	return &PeepholeState{symbols: symbols}
}

// Reset clears the peephole state. Call between functions.
func (p *PeepholeState) Reset() {
	p.valid = [32]bool{}
}

// Annotate checks for LUI rt, hi followed by ADDIU/ORI rx, rt, lo.
// Call this for each instruction in sequence. Returns the materialised
// address for the second instruction of the pair.
func (p *PeepholeState) Annotate(inst Inst) string {
	raw := inst.Raw
	if rt, value, ok := LUI(raw); ok {
		p.hi[rt] = value
		p.valid[rt] = true
		return ""
	}

	var addr uint32
	var dst int
	switch {
	case opcodeOf(raw) == opADDIU && p.valid[rsOf(raw)]:
		addr = p.hi[rsOf(raw)] + uint32(simm16(raw))
		dst = rtOf(raw)
	case opcodeOf(raw) == opORI && p.valid[rsOf(raw)]:
		addr = p.hi[rsOf(raw)] | (raw & 0xFFFF)
		dst = rtOf(raw)
	default:
		if rd := dstRegOfInst(raw); rd >= 0 {
			p.valid[rd] = false
		}
		return ""
	}
	p.valid[dst] = false

	if p.symbols != nil {
		if name, ok := p.symbols(addr); ok {
			return fmt.Sprintf("&%s", name)
		}
	}
	return fmt.Sprintf("&0x%08x", addr)
}
