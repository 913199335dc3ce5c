package callgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/zboralski/lattice"
	"unstrip/internal/disasm"
)

// maxLabel bounds string reference labels in rendered graphs.
const maxLabel = 50

// BuildCFG constructs a lattice.CFGGraph from disassembled subroutines.
// Each FuncInfo is converted with disasm.BuildCFG and mapped to lattice
// types. String references appear as call sites labelled with the quoted
// string.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		lcfg, _ := BuildFuncCFG(f)
		cg.Funcs = append(cg.Funcs, lcfg)
	}
	return cg
}

// BuildFuncCFG builds a single-subroutine lattice.FuncCFG. Returns the
// FuncCFG and the number of basic blocks (for filtering trivial routines).
func BuildFuncCFG(f FuncInfo) (*lattice.FuncCFG, int) {
	dcfg := disasm.BuildCFG(f.Name, f.Insts)
	lcfg := convertFuncCFG(&dcfg, f.CallEdges)
	injectStringRefs(lcfg, &dcfg, f.StringRefs)
	return lcfg, len(dcfg.Blocks)
}

// BuildSummaryCFG builds a one-block FuncCFG listing the named calls and
// string references of a subroutine, in program order. Placeholder callees
// (sub_*, raw addresses) are left out. Returns nil if nothing remains.
func BuildSummaryCFG(f FuncInfo) *lattice.FuncCFG {
	edgeByPC := make(map[uint32]disasm.CallEdge, len(f.CallEdges))
	for _, e := range f.CallEdges {
		edgeByPC[e.FromPC] = e
	}

	seen := make(map[string]bool)
	var calls []lattice.CallSite
	add := func(label string) {
		if seen[label] {
			return
		}
		seen[label] = true
		calls = append(calls, lattice.CallSite{Offset: len(calls), Callee: label})
	}
	for _, inst := range f.Insts {
		if e, ok := edgeByPC[inst.Addr]; ok && isNamedCallee(calleeName(e)) {
			add(calleeName(e))
		}
		if val, ok := f.StringRefs[inst.Addr]; ok {
			add(stringLabel(val))
		}
	}
	if len(calls) == 0 {
		return nil
	}
	return &lattice.FuncCFG{
		Name: f.Name,
		Blocks: []*lattice.BasicBlock{{
			ID:    0,
			Start: 0,
			End:   1,
			Term:  true,
			Calls: calls,
		}},
	}
}

// isNamedCallee reports whether name is a real symbol rather than a
// placeholder for an unnamed subroutine or address.
func isNamedCallee(name string) bool {
	switch {
	case name == "":
		return false
	case strings.HasPrefix(name, "sub_"):
		return false
	case strings.HasPrefix(name, "0x"), strings.HasPrefix(name, "&0x"):
		return false
	}
	return true
}

func stringLabel(val string) string {
	if len(val) > maxLabel {
		val = val[:maxLabel-3] + "..."
	}
	return fmt.Sprintf("%q", val)
}

// injectStringRefs adds string reference CallSite entries into the appropriate blocks.
func injectStringRefs(lcfg *lattice.FuncCFG, dcfg *disasm.FuncCFG, strRefs map[uint32]string) {
	if len(strRefs) == 0 {
		return
	}
	for bi, db := range dcfg.Blocks {
		added := false
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if val, ok := strRefs[dcfg.Insts[idx].Addr]; ok {
				lcfg.Blocks[bi].Calls = append(lcfg.Blocks[bi].Calls, lattice.CallSite{
					Offset: idx,
					Callee: stringLabel(val),
				})
				added = true
			}
		}
		if added {
			sort.SliceStable(lcfg.Blocks[bi].Calls, func(i, j int) bool {
				return lcfg.Blocks[bi].Calls[i].Offset < lcfg.Blocks[bi].Calls[j].Offset
			})
		}
	}
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call edges are mapped into blocks by matching instruction PCs.
func convertFuncCFG(dcfg *disasm.FuncCFG, edges []disasm.CallEdge) *lattice.FuncCFG {
	edgeByPC := make(map[uint32]disasm.CallEdge, len(edges))
	for _, e := range edges {
		edgeByPC[e.FromPC] = e
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}

		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}

		// Populate calls from edges that fall within this block's instruction range.
		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			if e, ok := edgeByPC[dcfg.Insts[idx].Addr]; ok {
				callee := calleeName(e)
				if callee == "" {
					callee = fmt.Sprintf("0x%08x", e.TargetPC)
				}
				lb.Calls = append(lb.Calls, lattice.CallSite{
					Offset: idx,
					Callee: callee,
				})
			}
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
