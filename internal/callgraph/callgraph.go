// Package callgraph converts disassembled subroutines into lattice call
// graphs and control flow graphs for rendering.
package callgraph

import (
	"github.com/zboralski/lattice"
	"unstrip/internal/disasm"
)

// FuncInfo holds the data needed to build call graph and CFG for one subroutine.
type FuncInfo struct {
	Name       string
	Insts      []disasm.Inst
	CallEdges  []disasm.CallEdge
	StringRefs map[uint32]string // ADDIU address -> referenced string
}

// BuildCallGraph constructs a lattice.Graph from disassembled subroutines.
// Each subroutine becomes a node. Each resolved call edge becomes an edge.
// Unresolved JALR targets (no TargetName or Via) are skipped.
func BuildCallGraph(funcs []FuncInfo) *lattice.Graph {
	g := &lattice.Graph{}
	for _, f := range funcs {
		g.Nodes = append(g.Nodes, f.Name)
		for _, e := range f.CallEdges {
			callee := calleeName(e)
			if callee == "" {
				continue
			}
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: f.Name,
				Callee: callee,
			})
		}
	}
	g.Dedup()
	return g
}

func calleeName(e disasm.CallEdge) string {
	if e.TargetName != "" {
		return e.TargetName
	}
	return e.Via
}
