package main

import (
	"flag"
	"fmt"

	"unstrip/internal/annot"
	"unstrip/internal/disasm"
)

func cmdStrings(args []string) error {
	fs := flag.NewFlagSet("strings", flag.ExitOnError)
	lf := addLoadFlags(fs)
	verbose := addVerbose(fs)

	if err := fs.Parse(args); err != nil {
		return err
	}
	configureLogging(*verbose)

	prog, err := lf.load()
	if err != nil {
		return err
	}
	defer prog.Close()

	comments := annot.NewTags()
	a := prog.analyze(comments)

	for _, t := range comments.Entries() {
		owner := "?"
		if s, ok := a.FindSubroutine(t.Addr); ok {
			owner = disasm.SubroutineName(s.Start)
		}
		fmt.Printf("0x%08x  %-12s  %q\n", t.Addr, owner, t.Text)
	}
	return nil
}
