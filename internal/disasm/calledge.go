package disasm

import "fmt"

// CallEdge represents a call site extracted from disassembly.
type CallEdge struct {
	FromPC     uint32 `json:"from_pc"`
	Kind       string `json:"kind"`                // "jal", "bal" or "jalr"
	TargetPC   uint32 `json:"target_pc,omitempty"` // resolved address for jal/bal
	TargetName string `json:"target_name,omitempty"`
	Reg        string `json:"reg,omitempty"` // register for jalr (e.g. "t9")
	Via        string `json:"via,omitempty"` // provenance: "&0x00123450", "sub_00123450", ""
}

// RegDef records the last definition of a register within the window.
type RegDef struct {
	Annotation string // e.g. "sub_00102340" or "&0x00102340"
	Age        int    // instructions since definition
	Hi         uint32 // LUI value while a pair is being assembled
	HasHi      bool
}

// RegTracker tracks last-def provenance for GP registers r0-r31.
// Definitions older than the window size are expired.
type RegTracker struct {
	defs [32]RegDef
	w    int
}

// NewRegTracker creates a tracker with the given window size.
func NewRegTracker(w int) *RegTracker {
	return &RegTracker{w: w}
}

// Reset clears all tracked definitions. Call between functions.
func (rt *RegTracker) Reset() {
	for i := range rt.defs {
		rt.defs[i] = RegDef{}
	}
}

// Tick ages all definitions by 1 and expires those beyond the window.
func (rt *RegTracker) Tick() {
	for i := range rt.defs {
		if rt.defs[i].Annotation != "" || rt.defs[i].HasHi {
			rt.defs[i].Age++
			if rt.defs[i].Age > rt.w {
				rt.defs[i] = RegDef{}
			}
		}
	}
}

// Define records that register rd was defined with the given annotation.
func (rt *RegTracker) Define(rd int, annotation string) {
	if rd <= RegZero || rd > 31 {
		return
	}
	rt.defs[rd] = RegDef{Annotation: annotation}
}

// defineHi records the upper half loaded by LUI.
func (rt *RegTracker) defineHi(rd int, value uint32) {
	if rd <= RegZero || rd > 31 {
		return
	}
	rt.defs[rd] = RegDef{Hi: value, HasHi: true}
}

// Lookup returns the annotation for register rd, or "" if expired/unknown.
func (rt *RegTracker) Lookup(rd int) string {
	if rd < 0 || rd > 31 {
		return ""
	}
	return rt.defs[rd].Annotation
}

// Kill clears the definition for a register (e.g. when overwritten by a
// non-annotated instruction).
func (rt *RegTracker) Kill(rd int) {
	if rd < 0 || rd > 31 {
		return
	}
	rt.defs[rd] = RegDef{}
}

// isJALR detects JALR rd, rs and returns the jump register.
//
// Encoding: 000000 | rs | 00000 | rd | 00000 | 001001
func isJALR(raw uint32) (rs int, ok bool) {
	if opcodeOf(raw) != opSpecial || functOf(raw) != 0x09 {
		return 0, false
	}
	return rsOf(raw), true
}

// isBAL detects PC-relative linking branches (BLTZAL/BGEZAL and likely forms).
func isBAL(raw, pc uint32) (target uint32, ok bool) {
	if opcodeOf(raw) != opRegimm || rtOf(raw)&0x10 == 0 || rtOf(raw) > 0x13 {
		return 0, false
	}
	return pc + 4 + uint32(simm16(raw)<<2), true
}

// ExtractCallEdges scans instructions for JAL, BAL and JALR call sites.
// Uses register tracking with window w to resolve JALR targets built by
// LUI+ADDIU/ORI pairs. symbols resolves target addresses to names.
func ExtractCallEdges(insts []Inst, symbols SymbolLookup, w int) []CallEdge {
	rt := NewRegTracker(w)
	var edges []CallEdge

	name := func(addr uint32) string {
		if symbols == nil {
			return ""
		}
		n, _ := symbols(addr)
		return n
	}

	for _, inst := range insts {
		raw := inst.Raw

		if IsJAL(raw) {
			target := JumpTarget(raw, inst.Addr)
			edges = append(edges, CallEdge{
				FromPC:     inst.Addr,
				Kind:       "jal",
				TargetPC:   target,
				TargetName: name(target),
			})
			rt.Tick()
			rt.Kill(RegRA)
			continue
		}

		if target, ok := isBAL(raw, inst.Addr); ok {
			edges = append(edges, CallEdge{
				FromPC:     inst.Addr,
				Kind:       "bal",
				TargetPC:   target,
				TargetName: name(target),
			})
			rt.Tick()
			rt.Kill(RegRA)
			continue
		}

		if rs, ok := isJALR(raw); ok {
			edges = append(edges, CallEdge{
				FromPC: inst.Addr,
				Kind:   "jalr",
				Reg:    RegName(rs),
				Via:    rt.Lookup(rs),
			})
			rt.Tick()
			rt.Kill(rdOf(raw))
			continue
		}

		if r, value, ok := LUI(raw); ok {
			rt.Tick()
			rt.defineHi(r, value)
			continue
		}

		// Second half of an address pair: resolve to a name when possible.
		src := rsOf(raw)
		if (opcodeOf(raw) == opADDIU || opcodeOf(raw) == opORI) && src > RegZero && rt.defs[src].HasHi {
			addr := rt.defs[src].Hi + uint32(simm16(raw))
			if opcodeOf(raw) == opORI {
				addr = rt.defs[src].Hi | (raw & 0xFFFF)
			}
			ann := name(addr)
			if ann == "" {
				ann = fmt.Sprintf("&0x%08x", addr)
			}
			rt.Tick()
			rt.Define(rtOf(raw), ann)
			continue
		}

		// Register copies keep provenance: move rd, rs (OR rd, rs, zero / ADDU rd, rs, zero).
		if opcodeOf(raw) == opSpecial && (functOf(raw) == 0x25 || functOf(raw) == 0x21) && rtOf(raw) == RegZero {
			ann := rt.Lookup(src)
			rt.Tick()
			if ann != "" {
				rt.Define(rdOf(raw), ann)
			} else {
				rt.Kill(rdOf(raw))
			}
			continue
		}

		if rd := dstRegOfInst(raw); rd >= 0 {
			rt.Kill(rd)
		}
		rt.Tick()
	}

	return edges
}
