package analysis

import (
	"strings"

	"unstrip/internal/disasm"
)

// maxStringLen bounds string decoding in unterminated memory.
const maxStringLen = 0x10000

// ByteReader reads single bytes.
type ByteReader interface {
	Byte(addr uint32) uint8
}

// regValue is the string scanner's view of one register: the value of the
// last LUI and whether it is still unconsumed.
type regValue struct {
	value   uint32
	defined bool
}

type translatedBytes struct {
	src InstructionSource
	tr  Translator
}

func (m translatedBytes) Byte(addr uint32) uint8 { return m.src.Byte(m.tr.Translate(addr)) }

// analyzeStringReferences walks every subroutine looking for LUI+ADDIU
// pairs that point at text and annotates the ADDIU with the decoded string.
func (a *Analysis) analyzeStringReferences() int {
	mem := translatedBytes{src: a.src, tr: a.tr}
	inserted := 0

	a.subs.tree.Ascend(func(s *Subroutine) bool {
		var regs [32]regValue
		for addr := s.Start; addr-s.Start <= s.End-s.Start; addr += 4 {
			op := a.instruction(addr)
			if rt, value, ok := disasm.LUI(op); ok {
				regs[rt] = regValue{value: value, defined: true}
				continue
			}
			_, rs, imm, ok := disasm.ADDIU(op)
			if !ok || !regs[rs].defined {
				continue
			}
			target := regs[rs].value + uint32(imm)
			regs[rs].defined = false

			text, ok := DecodeString(mem, target)
			if !ok || a.comments.Has(addr) {
				continue
			}
			a.comments.Set(addr, text)
			inserted++
		}
		return true
	})

	if inserted > 0 {
		a.comments.NotifyChanged()
	}
	log.Debugf("string scan: %d references annotated", inserted)
	return inserted
}

// DecodeString tries DecodeASCII, then DecodeLatin.
func DecodeString(mem ByteReader, addr uint32) (string, bool) {
	if s, ok := DecodeASCII(mem, addr); ok {
		return s, true
	}
	return DecodeLatin(mem, addr)
}

// DecodeASCII decodes a 0-terminated printable ASCII string starting at
// addr. The byte before addr must be 0 and the string must be longer than
// one character. Tab, newline and carriage return are allowed.
func DecodeASCII(mem ByteReader, addr uint32) (string, bool) {
	if mem.Byte(addr-1) != 0 {
		return "", false
	}
	var b strings.Builder
	for i := uint32(0); i < maxStringLen; i++ {
		c := mem.Byte(addr + i)
		if c == 0 {
			return b.String(), b.Len() > 1
		}
		if !isTextByte(c) {
			return "", false
		}
		b.WriteByte(c)
	}
	return "", false
}

func isTextByte(c byte) bool {
	return (c >= 0x20 && c < 0x80) || c == '\t' || c == '\n' || c == '\r'
}

type latinState int

const (
	latinNormal latinState = iota
	latinLead81
	latinLead82
)

// latinStep advances the Shift-JIS Latin decoder by one non-zero byte.
// It returns the next state, the decoded ASCII byte if emit is set, and
// ok=false if b is not accepted in state.
func latinStep(state latinState, b byte) (next latinState, out byte, emit, ok bool) {
	switch state {
	case latinNormal:
		switch {
		case b == 0x81:
			return latinLead81, 0, false, true
		case b == 0x82:
			return latinLead82, 0, false, true
		case isTextByte(b):
			return latinNormal, b, true, true
		}
	case latinLead81:
		switch b {
		case 0x40:
			return latinNormal, ' ', true, true
		case 0x44:
			return latinNormal, '.', true, true
		case 0x46:
			return latinNormal, ':', true, true
		case 0x5E:
			return latinNormal, '/', true, true
		case 0x69:
			return latinNormal, '(', true, true
		case 0x6A:
			return latinNormal, ')', true, true
		}
	case latinLead82:
		switch {
		case b >= 0x4F && b < 0x59:
			return latinNormal, b - 0x4F + '0', true, true
		case b >= 0x60 && b < 0x7A:
			return latinNormal, b - 0x60 + 'A', true, true
		case b >= 0x81 && b < 0x9B:
			return latinNormal, b - 0x81 + 'a', true, true
		}
	}
	return state, 0, false, false
}

// DecodeLatin decodes a 0-terminated string in which full-width Shift-JIS
// Latin characters (digits, letters and common punctuation) are mapped to
// ASCII. Plain ASCII passes through. The result must be longer than one
// character.
func DecodeLatin(mem ByteReader, addr uint32) (string, bool) {
	state := latinNormal
	var b strings.Builder
	for i := uint32(0); i < maxStringLen; i++ {
		c := mem.Byte(addr + i)
		if c == 0 {
			return b.String(), b.Len() > 1
		}
		next, out, emit, ok := latinStep(state, c)
		if !ok {
			return "", false
		}
		if emit {
			b.WriteByte(out)
		}
		state = next
	}
	return "", false
}
