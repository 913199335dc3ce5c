package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("unstrip.cmd")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "scan":
		err = cmdScan(os.Args[2:])
	case "analyze":
		err = cmdAnalyze(os.Args[2:])
	case "callstack":
		err = cmdCallStack(os.Args[2:])
	case "strings":
		err = cmdStrings(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `unstrip: subroutine recovery for stripped MIPS executables

Usage:
  unstrip scan      --elf <path>                    Print ELF segments, entry and text range
  unstrip analyze   --elf <path> --out <dir>        Discover subroutines and string references
  unstrip callstack --registry <file> --mem <dump> --pc <a> --sp <a> --ra <a>
                                                    Reconstruct a call stack from a memory dump
  unstrip strings   --elf <path>                    Print string references found by analysis

Flags:
  --elf <path>       32-bit little-endian MIPS ELF executable
  --raw <path>       Raw memory image (with --base)
  --config <path>    Project file (default: nearest unstrip.toml)
  --start/--end <a>  Analysis range override (hex)
  --entry <a>        Entry point override (hex)
  --mask <m>         Logical to physical address mask (default 0x1FFFFFFF)
  --graph            Write callgraph.dot and cfg/*.dot
  --asm              Write asm/<name>.txt per subroutine
  --db <path>        SQLite debug-tags package to update
  -v <n>             Log verbosity (1 = info, 2 = debug)
`)
}

// configureLogging maps the -v flag onto commonlog verbosity.
func configureLogging(verbosity int) {
	commonlog.Configure(verbosity, nil)
}

func addVerbose(fs *flag.FlagSet) *int {
	return fs.Int("v", 0, "log verbosity (1 = info, 2 = debug)")
}
