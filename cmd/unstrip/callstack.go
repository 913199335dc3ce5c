package main

import (
	"flag"
	"fmt"

	"unstrip/internal/analysis"
	"unstrip/internal/config"
	"unstrip/internal/disasm"
	"unstrip/internal/memory"
	"unstrip/internal/output"
)

func cmdCallStack(args []string) error {
	fs := flag.NewFlagSet("callstack", flag.ExitOnError)
	regPath := fs.String("registry", "", "registry.cbor written by analyze")
	memPath := fs.String("mem", "", "raw physical memory dump")
	base := fs.String("base", "0", "physical address of the dump (hex)")
	mask := fs.String("mask", "0x1FFFFFFF", "logical to physical address mask (hex)")
	pcStr := fs.String("pc", "", "program counter (hex)")
	spStr := fs.String("sp", "", "stack pointer (hex)")
	raStr := fs.String("ra", "", "return address register (hex)")
	verbose := addVerbose(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(*verbose)

	if *regPath == "" || *memPath == "" || *pcStr == "" || *spStr == "" || *raStr == "" {
		return fmt.Errorf("--registry, --mem, --pc, --sp and --ra are required")
	}

	var regs [5]uint32
	for i, s := range []string{*base, *mask, *pcStr, *spStr, *raStr} {
		v, err := config.ParseAddr(s)
		if err != nil {
			return err
		}
		regs[i] = v
	}
	pc, sp, ra := regs[2], regs[3], regs[4]

	reg, err := output.ReadRegistry(*regPath)
	if err != nil {
		return err
	}
	img, err := memory.ReadFile(*memPath, regs[0])
	if err != nil {
		return err
	}
	img.Mask = regs[1]

	a := analysis.New(analysis.Options{Source: img, Translator: img})
	a.Load(reg)

	for i, frame := range a.CallStack(pc, sp, ra) {
		fmt.Printf("#%-3d 0x%08x  %s\n", i, frame, frameName(a, frame))
	}
	return nil
}

// frameName renders addr as sub_XXXXXXXX+off, or "?" outside every subroutine.
func frameName(a *analysis.Analysis, addr uint32) string {
	s, ok := a.FindSubroutine(addr)
	if !ok {
		return "?"
	}
	if addr == s.Start {
		return disasm.SubroutineName(s.Start)
	}
	return fmt.Sprintf("%s+0x%x", disasm.SubroutineName(s.Start), addr-s.Start)
}
