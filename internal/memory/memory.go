// Package memory provides a flat little-endian memory image for analysis.
package memory

import (
	"encoding/binary"
	"fmt"
	"os"
)

// DefaultMask folds the KSEG0/KSEG1 mirrors onto physical memory.
const DefaultMask = 0x1FFFFFFF

// Image is physical memory covering [Base, Base+len(data)). Reads outside
// the image return 0.
type Image struct {
	Base uint32
	Mask uint32 // logical to physical translation mask
	data []byte
}

// New returns a zeroed image of size bytes at base.
func New(base uint32, size int) *Image {
	return &Image{Base: base, Mask: DefaultMask, data: make([]byte, size)}
}

// FromBytes wraps data as an image at base. data is not copied.
func FromBytes(base uint32, data []byte) *Image {
	return &Image{Base: base, Mask: DefaultMask, data: data}
}

// ReadFile loads a raw memory dump placed at base.
func ReadFile(path string, base uint32) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("memory: read dump: %w", err)
	}
	return FromBytes(base, data), nil
}

// Size returns the image size in bytes.
func (m *Image) Size() int { return len(m.data) }

// Bytes returns the backing store.
func (m *Image) Bytes() []byte { return m.data }

// End returns the first physical address past the image.
func (m *Image) End() uint32 { return m.Base + uint32(len(m.data)) }

// Translate maps a logical address to a physical one.
func (m *Image) Translate(addr uint32) uint32 { return addr & m.Mask }

// Store copies data to physical address addr.
func (m *Image) Store(addr uint32, data []byte) error {
	off, ok := m.offset(addr, len(data))
	if !ok {
		return fmt.Errorf("memory: store 0x%08X+0x%x outside image [0x%08X, 0x%08X)", addr, len(data), m.Base, m.End())
	}
	copy(m.data[off:], data)
	return nil
}

// Byte reads one byte at a physical address.
func (m *Image) Byte(addr uint32) uint8 {
	off, ok := m.offset(addr, 1)
	if !ok {
		return 0
	}
	return m.data[off]
}

// Word reads a little-endian 32-bit word at a physical address.
func (m *Image) Word(addr uint32) uint32 {
	off, ok := m.offset(addr, 4)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(m.data[off:])
}

// Instruction reads the instruction word at a physical address.
func (m *Image) Instruction(addr uint32) uint32 { return m.Word(addr &^ 3) }

func (m *Image) offset(addr uint32, n int) (int, bool) {
	if addr < m.Base {
		return 0, false
	}
	off := uint64(addr - m.Base)
	if off+uint64(n) > uint64(len(m.data)) {
		return 0, false
	}
	return int(off), true
}

// Logical adapts an image to logical addressing: every read is translated
// first. Used by the disassembler, which works on logical addresses.
type Logical struct{ *Image }

func (l Logical) Instruction(addr uint32) uint32 { return l.Image.Instruction(l.Translate(addr)) }
func (l Logical) Byte(addr uint32) uint8         { return l.Image.Byte(l.Translate(addr)) }
func (l Logical) Word(addr uint32) uint32        { return l.Image.Word(l.Translate(addr)) }
