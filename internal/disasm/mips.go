package disasm

// MIPS raw-encoding predicates. All instructions are 32-bit little-endian
// words; every control transfer has one delay slot.

// MIPS register numbers.
const (
	RegZero = 0
	RegGP   = 28
	RegSP   = 29
	RegRA   = 31
)

// Primary opcodes (bits 31..26).
const (
	opSpecial = 0x00
	opRegimm  = 0x01
	opJ       = 0x02
	opJAL     = 0x03
	opBEQ     = 0x04
	opBNE     = 0x05
	opBLEZ    = 0x06
	opBGTZ    = 0x07
	opADDI    = 0x08
	opADDIU   = 0x09
	opSLTI    = 0x0A
	opSLTIU   = 0x0B
	opANDI    = 0x0C
	opORI     = 0x0D
	opXORI    = 0x0E
	opLUI     = 0x0F
	opCOP0    = 0x10
	opCOP1    = 0x11
	opCOP2    = 0x12
	opBEQL    = 0x14
	opBNEL    = 0x15
	opBLEZL   = 0x16
	opBGTZL   = 0x17
	opDADDIU  = 0x19
	opLQ      = 0x1E
	opSQ      = 0x1F
	opLB      = 0x20
	opLH      = 0x21
	opLW      = 0x23
	opLBU     = 0x24
	opLHU     = 0x25
	opSB      = 0x28
	opSH      = 0x29
	opSW      = 0x2B
	opLWC1    = 0x31
	opLD      = 0x37
	opSWC1    = 0x39
	opSD      = 0x3F
)

// Fixed encodings used by the subroutine heuristics.
const (
	rawJRRA = 0x03E00008 // JR RA

	stackAdjustMask  = 0xFFFF0000
	stackAdjustValue = 0x27BD0000 // ADDIU SP, SP, imm

	branchAlwaysMask  = 0xFFFF0000
	branchAlwaysValue = 0x10000000 // BEQ R0, R0, off

	jumpMask  = 0xFC000000
	jumpValue = 0x08000000 // J target
	jalValue  = 0x0C000000 // JAL target
)

func opcodeOf(raw uint32) uint32 { return raw >> 26 }
func rsOf(raw uint32) int        { return int((raw >> 21) & 0x1F) }
func rtOf(raw uint32) int        { return int((raw >> 16) & 0x1F) }
func rdOf(raw uint32) int        { return int((raw >> 11) & 0x1F) }
func saOf(raw uint32) uint32     { return (raw >> 6) & 0x1F }
func functOf(raw uint32) uint32  { return raw & 0x3F }
func simm16(raw uint32) int32    { return int32(int16(raw & 0xFFFF)) }

// StackAdjust matches ADDIU SP, SP, imm and returns the signed immediate.
//
// Encoding: 001001 | rs=11101 | rt=11101 | imm16
// Mask: 0xFFFF0000, Value: 0x27BD0000
func StackAdjust(raw uint32) (delta int32, ok bool) {
	if raw&stackAdjustMask != stackAdjustValue {
		return 0, false
	}
	return simm16(raw), true
}

// StackAlloc matches a prologue ADDIU SP, SP, -K and returns K.
func StackAlloc(raw uint32) (size uint32, ok bool) {
	delta, ok := StackAdjust(raw)
	if !ok || delta >= 0 {
		return 0, false
	}
	return uint32(-delta), true
}

// ReturnAddrSpill matches SW/SD/SQ RA, off(SP) and returns the unsigned
// 16-bit offset field.
func ReturnAddrSpill(raw uint32) (offset uint32, ok bool) {
	switch raw & 0xFFFF0000 {
	case 0xAFBF0000, // SW RA, off(SP)
		0xFFBF0000, // SD RA, off(SP)
		0x7FBF0000: // SQ RA, off(SP)
		return raw & 0xFFFF, true
	}
	return 0, false
}

// IsJRRA reports whether raw is exactly JR RA.
func IsJRRA(raw uint32) bool { return raw == rawJRRA }

// IsJ reports whether raw is an unconditional J.
func IsJ(raw uint32) bool { return raw&jumpMask == jumpValue }

// IsJAL reports whether raw is a direct JAL.
func IsJAL(raw uint32) bool { return raw&jumpMask == jalValue }

// IsBranchAlways reports whether raw is the BEQ R0, R0, off idiom.
func IsBranchAlways(raw uint32) bool { return raw&branchAlwaysMask == branchAlwaysValue }

// IsTerminator reports whether raw ends a routine for the discovery passes:
// JR RA or an unconditional J.
func IsTerminator(raw uint32) bool { return IsJRRA(raw) || IsJ(raw) }

// JumpTarget computes the absolute target of a J/JAL at pc: the 256MB
// segment of pc combined with the encoded word index.
func JumpTarget(raw, pc uint32) uint32 {
	return (pc & 0xF0000000) | ((raw & 0x03FFFFFF) << 2)
}

// LUI matches LUI rt, imm and returns rt and imm<<16.
//
// Encoding: 001111 | 00000 | rt | imm16
func LUI(raw uint32) (rt int, value uint32, ok bool) {
	if raw&0xFC000000 != 0x3C000000 {
		return 0, 0, false
	}
	return rtOf(raw), (raw & 0xFFFF) << 16, true
}

// ADDIU matches ADDIU rt, rs, imm and returns the sign-extended immediate.
//
// Encoding: 001001 | rs | rt | imm16
func ADDIU(raw uint32) (rt, rs int, imm int32, ok bool) {
	if raw&0xFC000000 != 0x24000000 {
		return 0, 0, 0, false
	}
	return rtOf(raw), rsOf(raw), simm16(raw), true
}

// dstRegOfInst returns the general purpose register written by raw, or -1.
// Used by the register tracker to expire stale provenance.
func dstRegOfInst(raw uint32) int {
	switch opcodeOf(raw) {
	case opSpecial:
		switch functOf(raw) {
		case 0x08, 0x0C, 0x0D, 0x0F, 0x11, 0x13, 0x18, 0x19, 0x1A, 0x1B: // JR, SYSCALL, BREAK, SYNC, MTHI, MTLO, MULT*, DIV*
			return -1
		}
		if rd := rdOf(raw); rd != RegZero {
			return rd
		}
		return -1
	case opJAL:
		return RegRA
	case opADDI, opADDIU, opSLTI, opSLTIU, opANDI, opORI, opXORI, opLUI, opDADDIU,
		opLB, opLH, opLW, opLBU, opLHU, opLD, opLQ:
		if rt := rtOf(raw); rt != RegZero {
			return rt
		}
	case opRegimm:
		if rtOf(raw)&0x10 != 0 { // BLTZAL, BGEZAL and likely forms link RA
			return RegRA
		}
	}
	return -1
}
