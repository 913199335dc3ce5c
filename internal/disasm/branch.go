package disasm

// MIPS branch instruction detection from raw 32-bit encoding.
// These functions identify basic-block terminators and extract branch targets.

// BranchType classifies an instruction for control-flow analysis.
type BranchType int

const (
	NotABranch BranchType = iota
	NormalBranch
	Call
)

func (t BranchType) String() string {
	switch t {
	case NormalBranch:
		return "branch"
	case Call:
		return "call"
	default:
		return "none"
	}
}

// BranchInfo describes a decoded control transfer.
type BranchInfo struct {
	Target    uint32 // absolute target address (valid if HasTarget)
	HasTarget bool   // false for register jumps (JR, JALR)
	Cond      bool   // true if conditional (has fallthrough)
	IsRet     bool   // true for JR RA
	Link      bool   // true if the instruction writes RA (call)
	Likely    bool   // delay slot is annulled when not taken
}

// DecodeBranch attempts to decode a control transfer from raw encoding at pc.
// Returns nil if the instruction does not transfer control.
func DecodeBranch(raw, pc uint32) *BranchInfo {
	rel := func() uint32 { return pc + 4 + uint32(simm16(raw)<<2) }

	switch op := opcodeOf(raw); op {
	case opSpecial:
		switch functOf(raw) {
		case 0x08: // JR rs
			return &BranchInfo{IsRet: rsOf(raw) == RegRA}
		case 0x09: // JALR rd, rs
			return &BranchInfo{Link: true}
		}
		return nil

	case opRegimm:
		rt := rtOf(raw)
		switch rt {
		case 0x00, 0x01, 0x02, 0x03, // BLTZ, BGEZ, BLTZL, BGEZL
			0x10, 0x11, 0x12, 0x13: // BLTZAL, BGEZAL, BLTZALL, BGEZALL
			return &BranchInfo{
				Target:    rel(),
				HasTarget: true,
				Cond:      true,
				Link:      rt&0x10 != 0,
				Likely:    rt&0x02 != 0,
			}
		}
		return nil

	case opJ:
		return &BranchInfo{Target: JumpTarget(raw, pc), HasTarget: true}

	case opJAL:
		return &BranchInfo{Target: JumpTarget(raw, pc), HasTarget: true, Link: true}

	case opBEQ:
		// BEQ R0, R0 is the assembler's unconditional "b".
		return &BranchInfo{Target: rel(), HasTarget: true, Cond: !IsBranchAlways(raw)}

	case opBNE, opBLEZ, opBGTZ:
		return &BranchInfo{Target: rel(), HasTarget: true, Cond: true}

	case opBEQL, opBNEL, opBLEZL, opBGTZL:
		return &BranchInfo{Target: rel(), HasTarget: true, Cond: true, Likely: true}

	case opCOP0, opCOP1, opCOP2:
		// BCzF, BCzT, BCzFL, BCzTL
		if rsOf(raw) == 0x08 {
			return &BranchInfo{Target: rel(), HasTarget: true, Cond: true, Likely: rtOf(raw)&0x02 != 0}
		}
	}
	return nil
}

// IsBranchTerminator returns true if the instruction terminates a basic block
// (after its delay slot). Calls are not terminators: they return to the
// instruction following the delay slot.
func IsBranchTerminator(raw uint32) bool {
	bi := DecodeBranch(raw, 0)
	return bi != nil && !bi.Link
}

// Classifier is the default branch classifier for the analysis engine.
type Classifier struct{}

// Classify reports whether the instruction at addr is a call, an ordinary
// branch or not a control transfer at all.
func (Classifier) Classify(addr, raw uint32) BranchType {
	bi := DecodeBranch(raw, addr)
	switch {
	case bi == nil:
		return NotABranch
	case bi.Link:
		return Call
	default:
		return NormalBranch
	}
}

// EffectiveTarget returns the statically known target of the control
// transfer at addr. Register jumps have no static target.
func (Classifier) EffectiveTarget(addr, raw uint32) (uint32, bool) {
	bi := DecodeBranch(raw, addr)
	if bi == nil || !bi.HasTarget {
		return 0, false
	}
	return bi.Target, true
}
