package main

import (
	"debug/elf"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"unstrip/internal/elfx"
)

type scanSegment struct {
	Vaddr  string `json:"vaddr"`
	Memsz  uint32 `json:"memsz"`
	Filesz uint32 `json:"filesz"`
	Offset uint32 `json:"offset"`
	Perm   string `json:"perm"`
}

type scanResult struct {
	FileSize  int64         `json:"file_size"`
	Entry     string        `json:"entry"`
	TextStart string        `json:"text_start,omitempty"`
	TextEnd   string        `json:"text_end,omitempty"`
	Symbols   int           `json:"symbols"`
	Segments  []scanSegment `json:"segments"`
}

func cmdScan(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	path := fs.String("elf", "", "path to MIPS ELF executable")
	jsonOut := fs.Bool("json", false, "output as JSON")
	verbose := addVerbose(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(*verbose)

	if *path == "" {
		return fmt.Errorf("--elf is required")
	}

	ef, err := elfx.Open(*path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer ef.Close()

	res := scanResult{
		FileSize: ef.FileSize(),
		Entry:    fmt.Sprintf("0x%08x", ef.Entry()),
	}
	if start, end, err := ef.TextRange(); err == nil {
		res.TextStart = fmt.Sprintf("0x%08x", start)
		res.TextEnd = fmt.Sprintf("0x%08x", end)
	} else {
		log.Warningf("%s: %v", *path, err)
	}
	syms, err := ef.Symbols()
	if err != nil {
		return err
	}
	res.Symbols = len(syms)
	for _, s := range ef.LoadSegments() {
		res.Segments = append(res.Segments, scanSegment{
			Vaddr:  fmt.Sprintf("0x%08x", s.Vaddr),
			Memsz:  s.Memsz,
			Filesz: s.Filesz,
			Offset: s.Offset,
			Perm:   permString(s.Flags),
		})
	}

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Printf("ELF: MIPS32 little-endian executable, %d bytes\n", res.FileSize)
	fmt.Printf("entry: %s\n", res.Entry)
	if res.TextStart != "" {
		fmt.Printf("text: [%s, %s)\n", res.TextStart, res.TextEnd)
	}
	fmt.Printf("function symbols: %d\n", res.Symbols)
	fmt.Printf("PT_LOAD segments: %d\n", len(res.Segments))
	for _, s := range res.Segments {
		fmt.Printf("  %s  memsz=0x%x filesz=0x%x off=0x%x %s\n", s.Vaddr, s.Memsz, s.Filesz, s.Offset, s.Perm)
	}
	return nil
}

func permString(f elf.ProgFlag) string {
	perm := ""
	if f&elf.PF_R != 0 {
		perm += "R"
	}
	if f&elf.PF_W != 0 {
		perm += "W"
	}
	if f&elf.PF_X != 0 {
		perm += "X"
	}
	return perm
}
