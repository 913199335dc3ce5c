// Package elfx provides ELF loading helpers for 32-bit little-endian MIPS
// executables.
package elfx

import (
	"debug/elf"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"unstrip/internal/memory"
)

var (
	ErrNotELF       = errors.New("elfx: not an ELF file")
	ErrNotMIPS      = errors.New("elfx: not MIPS (EM_MIPS)")
	ErrNot32Bit     = errors.New("elfx: not 32-bit ELF")
	ErrNotLittle    = errors.New("elfx: not little-endian")
	ErrNoSymbol     = errors.New("elfx: symbol not found")
	ErrNoSegment    = errors.New("elfx: no PT_LOAD segment covers address")
	ErrNoExecutable = errors.New("elfx: no executable code")
)

// File wraps a debug/elf.File with convenience methods for MIPS analysis.
type File struct {
	ELF  *elf.File
	raw  io.ReaderAt
	size int64
}

// Open opens an ELF file and validates it is a 32-bit little-endian MIPS image.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("elfx: open: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("elfx: stat: %w", err)
	}

	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %v", ErrNotELF, err)
	}

	if ef.Class != elf.ELFCLASS32 {
		ef.Close()
		f.Close()
		return nil, ErrNot32Bit
	}
	if ef.Data != elf.ELFDATA2LSB {
		ef.Close()
		f.Close()
		return nil, ErrNotLittle
	}
	if ef.Machine != elf.EM_MIPS {
		ef.Close()
		f.Close()
		return nil, ErrNotMIPS
	}

	return &File{ELF: ef, raw: f, size: info.Size()}, nil
}

// Close releases resources.
func (f *File) Close() error {
	err := f.ELF.Close()
	if c, ok := f.raw.(io.Closer); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// FileSize returns the size of the underlying file.
func (f *File) FileSize() int64 { return f.size }

// Entry returns the program entry point.
func (f *File) Entry() uint32 { return uint32(f.ELF.Entry) }

// Symbol is a function symbol from the static symbol table.
type Symbol struct {
	Name string
	Addr uint32
	Size uint32
}

// Symbols returns the function symbols sorted by address. A stripped
// image yields no symbols and no error.
func (f *File) Symbols() ([]Symbol, error) {
	syms, err := f.ELF.Symbols()
	if errors.Is(err, elf.ErrNoSymbols) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("elfx: symtab: %w", err)
	}
	var out []Symbol
	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		out = append(out, Symbol{Name: s.Name, Addr: uint32(s.Value), Size: uint32(s.Size)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out, nil
}

// Symbol looks up a function symbol by exact name.
func (f *File) Symbol(name string) (Symbol, error) {
	syms, err := f.Symbols()
	if err != nil {
		return Symbol{}, err
	}
	for _, s := range syms {
		if s.Name == name {
			return s, nil
		}
	}
	return Symbol{}, fmt.Errorf("%w: %s", ErrNoSymbol, name)
}

// VAToFileOffset converts a virtual address to a file offset using PT_LOAD segments.
func (f *File) VAToFileOffset(va uint32) (uint32, error) {
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		if uint64(va) >= p.Vaddr && uint64(va) < p.Vaddr+p.Filesz {
			offset := uint64(va) - p.Vaddr + p.Off
			if offset >= uint64(f.size) {
				return 0, fmt.Errorf("elfx: VA 0x%x maps to offset 0x%x beyond file size 0x%x", va, offset, f.size)
			}
			return uint32(offset), nil
		}
	}
	return 0, fmt.Errorf("%w: VA 0x%x", ErrNoSegment, va)
}

// ReadBytesAtVA reads n bytes starting at the given virtual address.
func (f *File) ReadBytesAtVA(va uint32, n int) ([]byte, error) {
	off, err := f.VAToFileOffset(va)
	if err != nil {
		return nil, err
	}
	// Clamp to file size.
	avail := f.size - int64(off)
	if int64(n) > avail {
		n = int(avail)
	}
	buf := make([]byte, n)
	_, err = f.raw.ReadAt(buf, int64(off))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("elfx: read at 0x%x: %w", off, err)
	}
	return buf, nil
}

// SegmentInfo describes a PT_LOAD segment.
type SegmentInfo struct {
	Vaddr  uint32
	Memsz  uint32
	Filesz uint32
	Offset uint32
	Flags  elf.ProgFlag
}

// LoadSegments returns all PT_LOAD segments.
func (f *File) LoadSegments() []SegmentInfo {
	var segs []SegmentInfo
	for _, p := range f.ELF.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		segs = append(segs, SegmentInfo{
			Vaddr:  uint32(p.Vaddr),
			Memsz:  uint32(p.Memsz),
			Filesz: uint32(p.Filesz),
			Offset: uint32(p.Off),
			Flags:  p.Flags,
		})
	}
	return segs
}

// TextRange returns the address range [start, end) holding executable
// code: the executable sections if the image has a section table,
// otherwise the executable PT_LOAD segments.
func (f *File) TextRange() (start, end uint32, err error) {
	start, end = ^uint32(0), 0
	for _, s := range f.ELF.Sections {
		if s.Flags&elf.SHF_EXECINSTR == 0 || s.Size == 0 {
			continue
		}
		start = min(start, uint32(s.Addr))
		end = max(end, uint32(s.Addr+s.Size))
	}
	if end == 0 {
		for _, seg := range f.LoadSegments() {
			if seg.Flags&elf.PF_X == 0 || seg.Filesz == 0 {
				continue
			}
			start = min(start, seg.Vaddr)
			end = max(end, seg.Vaddr+seg.Filesz)
		}
	}
	if end == 0 {
		return 0, 0, ErrNoExecutable
	}
	return start, end, nil
}

// NewImage allocates a memory image spanning every PT_LOAD segment (at
// physical addresses under mask) and loads the segments into it.
func (f *File) NewImage(mask uint32) (*memory.Image, error) {
	segs := f.LoadSegments()
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: no PT_LOAD segments", ErrNoSegment)
	}
	lo, hi := ^uint32(0), uint32(0)
	for _, seg := range segs {
		lo = min(lo, seg.Vaddr&mask)
		hi = max(hi, (seg.Vaddr&mask)+seg.Memsz)
	}

	img := memory.New(lo, int(hi-lo))
	img.Mask = mask
	if err := f.Load(img); err != nil {
		return nil, err
	}
	return img, nil
}

// Load copies the file-backed part of every PT_LOAD segment into img.
func (f *File) Load(img *memory.Image) error {
	for _, seg := range f.LoadSegments() {
		if seg.Filesz == 0 {
			continue
		}
		buf := make([]byte, seg.Filesz)
		if _, err := f.raw.ReadAt(buf, int64(seg.Offset)); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("elfx: read segment 0x%08X: %w", seg.Vaddr, err)
		}
		if err := img.Store(img.Translate(seg.Vaddr), buf); err != nil {
			return fmt.Errorf("elfx: load segment 0x%08X: %w", seg.Vaddr, err)
		}
	}
	return nil
}
