// Package disasm provides MIPS instruction decoding, branch classification and
// disassembly text for the subroutine analysis engine.
package disasm

import (
	"fmt"
	"strings"
)

// Inst is a decoded MIPS instruction with address and raw encoding.
type Inst struct {
	Addr     uint32
	Raw      uint32
	Mnemonic string
	Operands string
	Text     string // full disassembly line
}

// InstructionReader fetches instruction words by address.
type InstructionReader interface {
	Instruction(addr uint32) uint32
}

// SymbolLookup resolves an address to a symbolic name. Returns ("", false) if unknown.
type SymbolLookup func(addr uint32) (name string, ok bool)

// Disassemble decodes the instructions in [start, end).
func Disassemble(src InstructionReader, start, end uint32) []Inst {
	start &^= 3
	end &^= 3
	if end <= start {
		return nil
	}

	result := make([]Inst, 0, (end-start)/4)
	for addr := start; addr < end; addr += 4 {
		raw := src.Instruction(addr)
		mnemonic, operands := decode(raw, addr)
		text := mnemonic
		if operands != "" {
			text += " " + operands
		}
		result = append(result, Inst{
			Addr:     addr,
			Raw:      raw,
			Mnemonic: mnemonic,
			Operands: operands,
			Text:     text,
		})
	}
	return result
}

// Format renders a slice of instructions as stable text output.
// Each line: <addr>  <raw word>  <disasm>  ; <comments>
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, lookup SymbolLookup, annotators ...Annotator) string {
	var b strings.Builder
	for _, inst := range insts {
		if lookup != nil {
			if name, ok := lookup(inst.Addr); ok {
				fmt.Fprintf(&b, "%s:\n", name)
			}
		}
		line := fmt.Sprintf("0x%08x  %08x  %-32s", inst.Addr, inst.Raw, inst.Text)
		for _, ann := range annotators {
			if s := ann(inst); s != "" {
				line += "  ; " + s
				break
			}
		}
		b.WriteString(strings.TrimRight(line, " "))
		b.WriteByte('\n')
	}
	return b.String()
}

// DisasmOne decodes a single MIPS instruction from its raw encoding.
func DisasmOne(raw, addr uint32) string {
	mnemonic, operands := decode(raw, addr)
	if operands == "" {
		return mnemonic
	}
	return mnemonic + " " + operands
}

// PlaceholderLookup returns a SymbolLookup backed by a fixed name table,
// typically sub_<hexaddr> names for discovered subroutine entry points.
func PlaceholderLookup(entryPoints map[uint32]string) SymbolLookup {
	return func(addr uint32) (string, bool) {
		if name, ok := entryPoints[addr]; ok {
			return name, true
		}
		return "", false
	}
}

// SubroutineName returns the placeholder name for an entry point.
func SubroutineName(addr uint32) string {
	return fmt.Sprintf("sub_%08x", addr)
}

var regNames = [32]string{
	"zero", "at", "v0", "v1", "a0", "a1", "a2", "a3",
	"t0", "t1", "t2", "t3", "t4", "t5", "t6", "t7",
	"s0", "s1", "s2", "s3", "s4", "s5", "s6", "s7",
	"t8", "t9", "k0", "k1", "gp", "sp", "fp", "ra",
}

// RegName returns the ABI name of a general purpose register.
func RegName(r int) string {
	if r < 0 || r >= len(regNames) {
		return fmt.Sprintf("r%d", r)
	}
	return regNames[r]
}

var specialNames = map[uint32]string{
	0x04: "sllv", 0x06: "srlv", 0x07: "srav",
	0x0A: "movz", 0x0B: "movn",
	0x14: "dsllv", 0x16: "dsrlv", 0x17: "dsrav",
	0x20: "add", 0x21: "addu", 0x22: "sub", 0x23: "subu",
	0x24: "and", 0x25: "or", 0x26: "xor", 0x27: "nor",
	0x2A: "slt", 0x2B: "sltu", 0x2C: "dadd", 0x2D: "daddu",
	0x2E: "dsub", 0x2F: "dsubu",
}

var immNames = map[uint32]string{
	opADDI: "addi", opADDIU: "addiu", opSLTI: "slti", opSLTIU: "sltiu",
	opANDI: "andi", opORI: "ori", opXORI: "xori", opDADDIU: "daddiu",
}

var memNames = map[uint32]string{
	opLB: "lb", opLH: "lh", opLW: "lw", opLBU: "lbu", opLHU: "lhu",
	opSB: "sb", opSH: "sh", opSW: "sw", opLD: "ld", opSD: "sd",
	opLQ: "lq", opSQ: "sq", opLWC1: "lwc1", opSWC1: "swc1",
}

var branchNames = map[uint32]string{
	opBEQ: "beq", opBNE: "bne", opBLEZ: "blez", opBGTZ: "bgtz",
	opBEQL: "beql", opBNEL: "bnel", opBLEZL: "blezl", opBGTZL: "bgtzl",
}

var regimmNames = map[int]string{
	0x00: "bltz", 0x01: "bgez", 0x02: "bltzl", 0x03: "bgezl",
	0x10: "bltzal", 0x11: "bgezal", 0x12: "bltzall", 0x13: "bgezall",
}

// decode returns mnemonic and operand text. Unknown encodings render as .word.
func decode(raw, addr uint32) (string, string) {
	rs, rt := RegName(rsOf(raw)), RegName(rtOf(raw))
	imm := simm16(raw)
	target := addr + 4 + uint32(imm<<2)

	op := opcodeOf(raw)
	switch op {
	case opSpecial:
		return decodeSpecial(raw)

	case opRegimm:
		if name, ok := regimmNames[rtOf(raw)]; ok {
			return name, fmt.Sprintf("%s, 0x%08x", rs, target)
		}

	case opJ:
		return "j", fmt.Sprintf("0x%08x", JumpTarget(raw, addr))

	case opJAL:
		return "jal", fmt.Sprintf("0x%08x", JumpTarget(raw, addr))

	case opBEQ, opBNE, opBEQL, opBNEL:
		if IsBranchAlways(raw) {
			return "b", fmt.Sprintf("0x%08x", target)
		}
		return branchNames[op], fmt.Sprintf("%s, %s, 0x%08x", rs, rt, target)

	case opBLEZ, opBGTZ, opBLEZL, opBGTZL:
		return branchNames[op], fmt.Sprintf("%s, 0x%08x", rs, target)

	case opLUI:
		return "lui", fmt.Sprintf("%s, 0x%04x", rt, raw&0xFFFF)

	case opANDI, opORI, opXORI:
		return immNames[op], fmt.Sprintf("%s, %s, 0x%04x", rt, rs, raw&0xFFFF)

	case opADDI, opADDIU, opSLTI, opSLTIU, opDADDIU:
		return immNames[op], fmt.Sprintf("%s, %s, %s", rt, rs, signedHex(imm))

	case opCOP0, opCOP1, opCOP2:
		if rsOf(raw) == 0x08 {
			cond := "f"
			if rtOf(raw)&1 != 0 {
				cond = "t"
			}
			likely := ""
			if rtOf(raw)&2 != 0 {
				likely = "l"
			}
			return fmt.Sprintf("bc%d%s%s", op-opCOP0, cond, likely), fmt.Sprintf("0x%08x", target)
		}
	}

	if name, ok := memNames[op]; ok {
		dst := rt
		if op == opLWC1 || op == opSWC1 {
			dst = fmt.Sprintf("f%d", rtOf(raw))
		}
		return name, fmt.Sprintf("%s, %s(%s)", dst, signedHex(imm), rs)
	}
	return ".word", fmt.Sprintf("0x%08x", raw)
}

func decodeSpecial(raw uint32) (string, string) {
	rs, rt, rd := RegName(rsOf(raw)), RegName(rtOf(raw)), RegName(rdOf(raw))
	switch fn := functOf(raw); fn {
	case 0x00:
		if raw == 0 {
			return "nop", ""
		}
		return "sll", fmt.Sprintf("%s, %s, %d", rd, rt, saOf(raw))
	case 0x02:
		return "srl", fmt.Sprintf("%s, %s, %d", rd, rt, saOf(raw))
	case 0x03:
		return "sra", fmt.Sprintf("%s, %s, %d", rd, rt, saOf(raw))
	case 0x08:
		return "jr", rs
	case 0x09:
		if rdOf(raw) == RegRA {
			return "jalr", rs
		}
		return "jalr", fmt.Sprintf("%s, %s", rd, rs)
	case 0x0C:
		return "syscall", ""
	case 0x0D:
		return "break", ""
	case 0x0F:
		return "sync", ""
	case 0x10:
		return "mfhi", rd
	case 0x11:
		return "mthi", rs
	case 0x12:
		return "mflo", rd
	case 0x13:
		return "mtlo", rs
	case 0x18, 0x19, 0x1A, 0x1B:
		name := [...]string{"mult", "multu", "div", "divu"}[fn-0x18]
		return name, fmt.Sprintf("%s, %s", rs, rt)
	default:
		if name, ok := specialNames[fn]; ok {
			if fn == 0x25 && rtOf(raw) == RegZero {
				return "move", fmt.Sprintf("%s, %s", rd, rs)
			}
			if fn&0x38 == 0x00 || fn&0x38 == 0x10 {
				// Variable shifts take the shift amount in rs.
				return name, fmt.Sprintf("%s, %s, %s", rd, rt, rs)
			}
			return name, fmt.Sprintf("%s, %s, %s", rd, rs, rt)
		}
	}
	return ".word", fmt.Sprintf("0x%08x", raw)
}

func signedHex(v int32) string {
	if v < 0 {
		return fmt.Sprintf("-0x%x", -v)
	}
	return fmt.Sprintf("0x%x", v)
}
