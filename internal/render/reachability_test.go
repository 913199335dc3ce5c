package render

import (
	"strings"
	"testing"

	"unstrip/internal/disasm"
)

func sampleGraph() ([]disasm.FuncRecord, []disasm.CallEdgeRecord) {
	funcs := []disasm.FuncRecord{
		{Name: "sub_80010000", StackSize: 0x18},
		{Name: "sub_80010100"},
		{Name: "sub_80010200"},
		{Name: "sub_80010300"}, // only reached through a register
	}
	edges := []disasm.CallEdgeRecord{
		{FromFunc: "sub_80010000", Kind: "jal", Target: "sub_80010100"},
		{FromFunc: "sub_80010000", Kind: "jal", Target: "sub_80010100"},
		{FromFunc: "sub_80010100", Kind: "bal", Target: "sub_80010200"},
		{FromFunc: "sub_80010200", Kind: "jalr", Reg: "t9", Via: "sub_80010300"},
	}
	return funcs, edges
}

func TestFindRoots(t *testing.T) {
	funcs, edges := sampleGraph()
	roots := FindRoots(funcs, edges)
	want := []string{"sub_80010000", "sub_80010300"}
	if strings.Join(roots, ",") != strings.Join(want, ",") {
		t.Errorf("roots = %v, want %v", roots, want)
	}
}

func TestReachableSet(t *testing.T) {
	_, edges := sampleGraph()
	r := ReachableSet([]string{"sub_80010000"}, edges)
	for _, name := range []string{"sub_80010000", "sub_80010100", "sub_80010200"} {
		if !r[name] {
			t.Errorf("%s not reachable", name)
		}
	}
	if r["sub_80010300"] {
		t.Error("register call target should not be reachable through direct edges")
	}
}

func TestReachabilityDOT(t *testing.T) {
	funcs, edges := sampleGraph()
	entry := []string{"sub_80010000"}
	dot := ReachabilityDOT(funcs, edges, ReachableSet(entry, edges), entry, "game.elf", NASA)

	if !strings.HasPrefix(dot, "digraph reachable {") || !strings.HasSuffix(dot, "}\n") {
		t.Fatalf("dot = %q", dot)
	}
	if strings.Count(dot, "n_sub_80010000 -> n_sub_80010100") != 1 {
		t.Error("duplicate jal edges should be merged")
	}
	if !strings.Contains(dot, "penwidth=0.7") {
		t.Error("merged edge should be weighted")
	}
	if strings.Contains(dot, "sub_80010300") {
		t.Error("unreachable subroutine rendered")
	}
	if !strings.Contains(dot, NASA.FrameFill) || !strings.Contains(dot, NASA.EntryColor) {
		t.Error("missing frame fill or entry highlight")
	}
}

func TestDotID(t *testing.T) {
	if got := dotID("sub_80010000"); got != "n_sub_80010000" {
		t.Errorf("dotID = %q", got)
	}
	if got := dotID("a.b"); got != "n_a_002eb" {
		t.Errorf("dotID = %q", got)
	}
}

func TestTruncLabel(t *testing.T) {
	tests := []struct {
		in   string
		max  int
		want string
	}{
		{"sub_80010000", 50, "sub_80010000"},
		{"sub_80010000", 8, "sub_8..."},
		{"タイトル画面の初期化", 6, "タイト..."},
	}
	for _, tt := range tests {
		if got := truncLabel(tt.in, tt.max); got != tt.want {
			t.Errorf("truncLabel(%q, %d) = %q, want %q", tt.in, tt.max, got, tt.want)
		}
	}
}

func TestDotEscape(t *testing.T) {
	if got := dotEscape(`a<b> & "c"`); got != "a&lt;b&gt; &amp; &quot;c&quot;" {
		t.Errorf("dotEscape = %q", got)
	}
}
