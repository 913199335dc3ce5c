package disasm

import "testing"

// makeInst creates a synthetic Inst at the given address with raw encoding.
func makeInst(addr, raw uint32) Inst {
	return Inst{Addr: addr, Raw: raw}
}

const (
	rawNOP  = 0x00000000
	rawJRRA = 0x03E00008
)

func TestBuildCFG_Linear(t *testing.T) {
	insts := []Inst{
		makeInst(0x1000, rawNOP),
		makeInst(0x1004, rawNOP),
		makeInst(0x1008, rawJRRA),
		makeInst(0x100C, rawNOP), // delay slot
	}
	cfg := BuildCFG("linear", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	blk := cfg.Blocks[0]
	if blk.Start != 0 || blk.End != 4 {
		t.Errorf("block range = [%d,%d), want [0,4)", blk.Start, blk.End)
	}
	if !blk.IsTerm {
		t.Error("block should be terminal (JR RA)")
	}
	if len(blk.Succs) != 0 {
		t.Errorf("succs = %d, want 0", len(blk.Succs))
	}
}

func TestBuildCFG_ConditionalBranch(t *testing.T) {
	//   0x1000: BNE A0, ZERO → 0x1010
	//   0x1004: NOP          (delay slot)
	//   0x1008: JR RA
	//   0x100C: NOP          (delay slot)
	//   0x1010: JR RA        (branch target)
	//   0x1014: NOP          (delay slot)
	insts := []Inst{
		makeInst(0x1000, 0x14800003),
		makeInst(0x1004, rawNOP),
		makeInst(0x1008, rawJRRA),
		makeInst(0x100C, rawNOP),
		makeInst(0x1010, rawJRRA),
		makeInst(0x1014, rawNOP),
	}
	cfg := BuildCFG("cond", insts)

	// Leaders: 0 (entry), 2 (after delay slot), 4 (target and after delay slot)
	if len(cfg.Blocks) != 3 {
		t.Fatalf("blocks = %d, want 3", len(cfg.Blocks))
	}

	b0 := cfg.Blocks[0]
	if b0.Start != 0 || b0.End != 2 {
		t.Errorf("block 0 range = [%d,%d), want [0,2)", b0.Start, b0.End)
	}
	if len(b0.Succs) != 2 {
		t.Fatalf("block 0 succs = %d, want 2", len(b0.Succs))
	}
	var hasT, hasF bool
	for _, s := range b0.Succs {
		switch {
		case s.Cond == "T" && s.BlockID == 2:
			hasT = true
		case s.Cond == "F" && s.BlockID == 1:
			hasF = true
		}
	}
	if !hasT || !hasF {
		t.Errorf("block 0 succs = %+v, want T→2 and F→1", b0.Succs)
	}

	if !cfg.Blocks[1].IsTerm || !cfg.Blocks[2].IsTerm {
		t.Error("blocks 1 and 2 should be terminal")
	}
}

func TestBuildCFG_Loop(t *testing.T) {
	//   0x1000: ADDIU A0, A0, -1
	//   0x1004: BNE A0, ZERO → 0x1000
	//   0x1008: NOP
	//   0x100C: JR RA
	//   0x1010: NOP
	insts := []Inst{
		makeInst(0x1000, 0x2484FFFF),
		makeInst(0x1004, 0x1480FFFE),
		makeInst(0x1008, rawNOP),
		makeInst(0x100C, rawJRRA),
		makeInst(0x1010, rawNOP),
	}
	cfg := BuildCFG("loop", insts)
	if len(cfg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Blocks))
	}
	b0 := cfg.Blocks[0]
	if b0.End != 3 {
		t.Errorf("block 0 end = %d, want 3 (includes delay slot)", b0.End)
	}
	foundBack := false
	for _, s := range b0.Succs {
		if s.BlockID == 0 && s.Cond == "T" {
			foundBack = true
		}
	}
	if !foundBack {
		t.Errorf("missing back edge, succs = %+v", b0.Succs)
	}
}

func TestBuildCFG_CallNotTerminator(t *testing.T) {
	insts := []Inst{
		makeInst(0x1000, 0x0C000800), // JAL 0x2000
		makeInst(0x1004, rawNOP),
		makeInst(0x1008, rawJRRA),
		makeInst(0x100C, rawNOP),
	}
	cfg := BuildCFG("call", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1 (calls do not split blocks)", len(cfg.Blocks))
	}
	if !cfg.Blocks[0].IsTerm {
		t.Error("block should end in JR RA")
	}
}

func TestBuildCFG_TailJump(t *testing.T) {
	insts := []Inst{
		makeInst(0x1000, rawNOP),
		makeInst(0x1004, 0x08000800), // J 0x2000 (outside)
		makeInst(0x1008, rawNOP),
	}
	cfg := BuildCFG("tail", insts)
	if len(cfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(cfg.Blocks))
	}
	if !cfg.Blocks[0].IsTerm {
		t.Error("jump out of the function should be terminal")
	}
}

func TestBuildCFG_Empty(t *testing.T) {
	cfg := BuildCFG("empty", nil)
	if len(cfg.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(cfg.Blocks))
	}
	if cfg.Name != "empty" {
		t.Errorf("name = %q", cfg.Name)
	}
}
