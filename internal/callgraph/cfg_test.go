package callgraph

import (
	"strings"
	"testing"

	"github.com/zboralski/lattice/render"
	"unstrip/internal/disasm"
)

func inst(addr, raw uint32) disasm.Inst {
	return disasm.Inst{Addr: addr, Raw: raw, Text: disasm.DisasmOne(raw, addr)}
}

// sampleFunc is a small MIPS routine with a conditional branch and calls:
//
// entry (B0):
//
//	0x1000: JAL 0x1100          ; call sub_00001100
//	0x1004: ADDIU A0, A0, 0x10  ; "hello"
//	0x1008: BNE A0, ZERO, 0x1018
//	0x100C: NOP
//
// fallthrough (B1):
//
//	0x1010: JR RA
//	0x1014: NOP
//
// taken (B2):
//
//	0x1018: JAL 0x1200          ; call memcpy
//	0x101C: NOP
//	0x1020: JR RA
//	0x1024: NOP
func sampleFunc() FuncInfo {
	return FuncInfo{
		Name: "sub_00001000",
		Insts: []disasm.Inst{
			inst(0x1000, 0x0C000440),
			inst(0x1004, 0x24840010),
			inst(0x1008, 0x14800003),
			inst(0x100C, 0x00000000),
			inst(0x1010, 0x03E00008),
			inst(0x1014, 0x00000000),
			inst(0x1018, 0x0C000480),
			inst(0x101C, 0x00000000),
			inst(0x1020, 0x03E00008),
			inst(0x1024, 0x00000000),
		},
		CallEdges: []disasm.CallEdge{
			{FromPC: 0x1000, Kind: "jal", TargetPC: 0x1100, TargetName: "sub_00001100"},
			{FromPC: 0x1018, Kind: "jal", TargetPC: 0x1200, TargetName: "memcpy"},
		},
		StringRefs: map[uint32]string{0x1004: "hello"},
	}
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	cfg := BuildCFG([]FuncInfo{sampleFunc()})

	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "sub_00001000" {
		t.Errorf("func name = %q", f.Name)
	}
	if len(f.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(f.Blocks))
	}

	// B0: call then string reference, 2 successors (T->B2, F->B1)
	b0 := f.Blocks[0]
	if len(b0.Calls) != 2 || b0.Calls[0].Callee != "sub_00001100" || b0.Calls[1].Callee != `"hello"` {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	}

	if !f.Blocks[1].Term || len(f.Blocks[1].Calls) != 0 {
		t.Errorf("B1 = %+v, want terminal without calls", f.Blocks[1])
	}

	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "memcpy" {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}
	if !b2.Term {
		t.Error("B2 should be terminal")
	}

	dot := render.DOTCFG(cfg, "unstrip CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildSummaryCFG(t *testing.T) {
	s := BuildSummaryCFG(sampleFunc())
	if s == nil || len(s.Blocks) != 1 {
		t.Fatalf("summary = %+v", s)
	}
	var got []string
	for _, c := range s.Blocks[0].Calls {
		got = append(got, c.Callee)
	}
	if strings.Join(got, ",") != `"hello",memcpy` {
		t.Errorf("summary calls = %v", got)
	}

	if BuildSummaryCFG(FuncInfo{Name: "empty", Insts: sampleFunc().Insts}) != nil {
		t.Error("expected nil summary for routine without named calls or strings")
	}
}

func TestStringLabelTruncates(t *testing.T) {
	long := strings.Repeat("x", 80)
	got := stringLabel(long)
	if len(got) != maxLabel+2 || !strings.HasSuffix(got, `..."`) {
		t.Errorf("label = %s", got)
	}
}

func TestBuildCallGraph_DOTOutput(t *testing.T) {
	funcs := []FuncInfo{
		{
			Name: "main",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x1004, Kind: "jal", TargetPC: 0x2000, TargetName: "sub_00002000"},
				{FromPC: 0x1010, Kind: "jal", TargetPC: 0x3000, TargetName: "sub_00003000"},
				{FromPC: 0x1018, Kind: "jal", TargetPC: 0x3000, TargetName: "sub_00003000"},
			},
		},
		{
			Name: "sub_00002000",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x2008, Kind: "jal", TargetPC: 0x4000, TargetName: "sub_00004000"},
			},
		},
		{
			Name: "sub_00003000",
			CallEdges: []disasm.CallEdge{
				{FromPC: 0x3004, Kind: "jal", TargetPC: 0x4000, TargetName: "sub_00004000"},
				{FromPC: 0x3010, Kind: "jalr", Reg: "t9", Via: "&0x00005000"},
				{FromPC: 0x3018, Kind: "jalr", Reg: "v0"},
			},
		},
		{
			Name: "sub_00004000",
		},
	}

	cg := BuildCallGraph(funcs)

	if len(cg.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(cg.Nodes))
	}
	var viaEdge bool
	for _, e := range cg.Edges {
		if e.Callee == "" {
			t.Errorf("edge with empty callee: %+v", e)
		}
		if e.Caller == "sub_00003000" && e.Callee == "&0x00005000" {
			viaEdge = true
		}
	}
	if !viaEdge {
		t.Errorf("missing JALR edge resolved through provenance: %+v", cg.Edges)
	}

	dot := render.DOT(cg, "unstrip call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}
