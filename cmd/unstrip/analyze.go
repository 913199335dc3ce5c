package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"
	"unstrip/internal/analysis"
	"unstrip/internal/annot"
	"unstrip/internal/callgraph"
	"unstrip/internal/disasm"
	"unstrip/internal/memory"
	"unstrip/internal/output"
	"unstrip/internal/render"
)

// callEdgeWindow is the register provenance window for JALR resolution.
const callEdgeWindow = 8

func cmdAnalyze(args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	lf := addLoadFlags(fs)
	outDir := fs.String("out", "", "output directory")
	graph := fs.Bool("graph", false, "write lattice call graph and per-subroutine CFG (DOT files)")
	asm := fs.Bool("asm", false, "write per-subroutine disassembly")
	dbPath := fs.String("db", "", "SQLite debug-tags package to load and update")
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

	if cfg := prog.cfg; cfg != nil {
		if *outDir == "" {
			*outDir = cfg.OutputDir()
		}
		*graph = *graph || cfg.Output.Graph
		*asm = *asm || cfg.Output.ASM
		if *dbPath == "" && cfg.Output.Database != "" {
			*dbPath = cfg.Output.Database
			if !filepath.IsAbs(*dbPath) {
				*dbPath = filepath.Join(cfg.Dir, *dbPath)
			}
		}
	}
	if *outDir == "" {
		return fmt.Errorf("--out is required")
	}
	if err := os.MkdirAll(*outDir, 0755); err != nil {
		return fmt.Errorf("mkdir output: %w", err)
	}

	comments := annot.NewTags()
	functions := annot.NewTags()
	comments.OnChange(func() { log.Infof("comment list changed: %d comments", comments.Len()) })
	functions.OnChange(func() { log.Infof("function list changed: %d functions", functions.Len()) })

	var db *annot.DB
	if *dbPath != "" {
		if db, err = annot.OpenDB(*dbPath); err != nil {
			return err
		}
		defer db.Close()
		images, err := db.Images()
		if err != nil {
			return err
		}
		log.Debugf("%s holds tags for %d images: %v", *dbPath, len(images), images)
		for kind, tags := range map[annot.Kind]*annot.Tags{annot.KindComments: comments, annot.KindFunctions: functions} {
			n, err := db.Load(prog.name, kind, tags)
			if err != nil {
				return err
			}
			log.Infof("loaded %d %s tags for %s", n, kind, prog.name)
		}
	}

	a := prog.analyze(comments)

	symbols, err := prog.symbolNames()
	if err != nil {
		return err
	}

	summary, err := writeResults(*outDir, prog, a, resultOptions{
		comments:  comments,
		functions: functions,
		symbols:   symbols,
		graph:     *graph,
		asm:       *asm,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "subroutines: %d (%d with stack frame)\n", summary.Subroutines, summary.WithStackFrame)
	fmt.Fprintf(os.Stderr, "string refs: %d\n", summary.StringRefs)
	fmt.Fprintf(os.Stderr, "call edges: %d (jalr: %d, resolved %d)\n", summary.CallEdges, summary.JALR, summary.JALRResolved)
	if summary.ELFSymbols > 0 {
		fmt.Fprintf(os.Stderr, "elf symbols: %d, %d start a discovered subroutine\n", summary.ELFSymbols, summary.SymbolsMatched)
	}

	if db != nil {
		if err := db.Save(prog.name, annot.KindComments, comments); err != nil {
			return err
		}
		if err := db.Save(prog.name, annot.KindFunctions, functions); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s (%d comments, %d functions)\n", *dbPath, comments.Len(), functions.Len())
	}
	return nil
}

type resultOptions struct {
	comments  *annot.Tags
	functions *annot.Tags
	symbols   map[uint32]string // ELF symbols, may be nil
	graph     bool
	asm       bool
}

// writeResults names every subroutine, registers the names as function
// tags and writes the per-run output files.
func writeResults(outDir string, prog *program, a *analysis.Analysis, opts resultOptions) (*output.Summary, error) {
	subs := a.Subroutines()

	names := make(map[uint32]string, len(subs)+len(opts.symbols))
	for addr, name := range opts.symbols {
		names[addr] = name
	}
	for _, s := range subs {
		name, ok := opts.functions.Get(s.Start)
		if !ok {
			name, ok = opts.symbols[s.Start]
		}
		if !ok {
			name = disasm.SubroutineName(s.Start)
		}
		names[s.Start] = name
		if !opts.functions.Has(s.Start) {
			opts.functions.Set(s.Start, name)
		}
	}
	opts.functions.NotifyChanged()
	lookup := disasm.PlaceholderLookup(names)

	funcsOut, err := output.CreateJSONL(filepath.Join(outDir, "subroutines.jsonl"))
	if err != nil {
		return nil, err
	}
	defer funcsOut.Close()
	edgesOut, err := output.CreateJSONL(filepath.Join(outDir, "call_edges.jsonl"))
	if err != nil {
		return nil, err
	}
	defer edgesOut.Close()
	stringsOut, err := output.CreateJSONL(filepath.Join(outDir, "string_refs.jsonl"))
	if err != nil {
		return nil, err
	}
	defer stringsOut.Close()

	summary := &output.Summary{Image: prog.name, Subroutines: len(subs), ELFSymbols: len(opts.symbols)}
	if prog.entry != analysis.NoEntryPoint {
		summary.Entry = fmt.Sprintf("0x%08x", prog.entry)
	}
	for _, r := range prog.ranges {
		summary.Ranges = append(summary.Ranges, fmt.Sprintf("0x%08x-0x%08x", r.Start, r.End))
	}

	mem := memory.Logical{Image: prog.img}
	peephole := disasm.NewPeepholeState(lookup)
	var funcInfos []callgraph.FuncInfo
	var summaries []*lattice.FuncCFG
	var symEntries []output.SymbolEntry
	var funcRecs []disasm.FuncRecord
	var edgeRecs []disasm.CallEdgeRecord
	cfgCount := 0

	for _, s := range subs {
		name := names[s.Start]
		insts := disasm.Disassemble(mem, s.Start, s.End+4)

		rec := disasm.FuncRecord{
			PC:            fmt.Sprintf("0x%08x", s.Start),
			End:           fmt.Sprintf("0x%08x", s.End),
			Size:          int(s.End - s.Start + 4),
			Name:          name,
			StackSize:     s.StackSize,
			ReturnAddrPos: s.ReturnAddrPos,
			Symbol:        opts.symbols[s.Start],
		}
		if s.StackSize != 0 {
			rec.StackAllocStart = fmt.Sprintf("0x%08x", s.StackAllocStart)
			rec.StackAllocEnd = fmt.Sprintf("0x%08x", s.StackAllocEnd)
			summary.WithStackFrame++
		}
		if err := funcsOut.Encode(rec); err != nil {
			return nil, err
		}
		funcRecs = append(funcRecs, rec)
		symEntries = append(symEntries, output.SymbolEntry{Address: s.Start, Name: name, Size: s.End - s.Start + 4})

		edges := disasm.ExtractCallEdges(insts, lookup, callEdgeWindow)
		for _, e := range edges {
			er := disasm.CallEdgeRecord{
				FromFunc: name,
				FromPC:   fmt.Sprintf("0x%08x", e.FromPC),
				Kind:     e.Kind,
				Reg:      e.Reg,
				Via:      e.Via,
			}
			if e.Kind == "jalr" {
				summary.JALR++
				if e.Via != "" {
					summary.JALRResolved++
				}
			} else if e.TargetName != "" {
				er.Target = e.TargetName
			} else {
				er.Target = fmt.Sprintf("0x%08x", e.TargetPC)
			}
			if err := edgesOut.Encode(er); err != nil {
				return nil, err
			}
			edgeRecs = append(edgeRecs, er)
		}

		strRefs := make(map[uint32]string)
		for _, inst := range insts {
			val, ok := opts.comments.Get(inst.Addr)
			if !ok {
				continue
			}
			strRefs[inst.Addr] = val
			if err := stringsOut.Encode(disasm.StringRefRecord{
				Func:  name,
				PC:    fmt.Sprintf("0x%08x", inst.Addr),
				Value: val,
			}); err != nil {
				return nil, err
			}
		}

		if opts.asm {
			peephole.Reset()
			annotators := []disasm.Annotator{
				disasm.CommentAnnotator(opts.comments.Get),
				disasm.CallAnnotator(lookup),
				peephole.Annotate,
			}
			if err := output.WriteASM(outDir, name, insts, lookup, annotators...); err != nil {
				return nil, fmt.Errorf("write asm %s: %w", name, err)
			}
		}

		if opts.graph {
			fi := callgraph.FuncInfo{Name: name, Insts: insts, CallEdges: edges, StringRefs: strRefs}
			lcfg, nblocks := callgraph.BuildFuncCFG(fi)
			if nblocks > 1 {
				g := &lattice.CFGGraph{Funcs: []*lattice.FuncCFG{lcfg}}
				if err := output.WriteDOT(outDir, filepath.Join("cfg", name), lrender.DOTCFG(g, name)); err != nil {
					return nil, err
				}
				cfgCount++
			}
			if sc := callgraph.BuildSummaryCFG(fi); sc != nil {
				summaries = append(summaries, sc)
			}
			// Call graph needs names and edges only.
			funcInfos = append(funcInfos, callgraph.FuncInfo{Name: name, CallEdges: edges})
		}
	}

	summary.CallEdges = edgesOut.Count()
	summary.StringRefs = stringsOut.Count()
	for addr := range opts.symbols {
		if s, ok := a.FindSubroutine(addr); ok && s.Start == addr {
			summary.SymbolsMatched++
		}
	}

	roots := render.FindRoots(funcRecs, edgeRecs)
	summary.Roots = len(roots)
	entries := roots
	if s, ok := a.FindSubroutine(prog.entry); ok {
		entries = []string{names[s.Start]}
	}
	reachable := render.ReachableSet(entries, edgeRecs)
	summary.Reachable = len(reachable)

	if err := output.WriteRegistry(outDir, a.Registry()); err != nil {
		return nil, err
	}
	if err := output.WriteSymbolsJSON(outDir, symEntries); err != nil {
		return nil, err
	}
	if err := output.WriteSummaryJSON(outDir, summary); err != nil {
		return nil, err
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d entries)\n", filepath.Join(outDir, "subroutines.jsonl"), funcsOut.Count())

	if opts.graph {
		cg := callgraph.BuildCallGraph(funcInfos)
		if err := output.WriteDOT(outDir, "callgraph", lrender.DOT(cg, prog.name)); err != nil {
			return nil, err
		}
		dot := render.ReachabilityDOT(funcRecs, edgeRecs, reachable, entries, prog.name+" reachable", render.NASA)
		if err := output.WriteDOT(outDir, "reachable", dot); err != nil {
			return nil, err
		}
		if len(summaries) > 0 {
			g := &lattice.CFGGraph{Funcs: summaries}
			if err := output.WriteDOT(outDir, "summary", lrender.DOTCFG(g, prog.name+" calls and strings")); err != nil {
				return nil, err
			}
		}
		fmt.Fprintf(os.Stderr, "wrote callgraph.dot (%d nodes, %d edges), %d cfg files\n", len(cg.Nodes), len(cg.Edges), cfgCount)
	}
	return summary, nil
}
