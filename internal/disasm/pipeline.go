package disasm

// FuncRecord is one line in subroutines.jsonl.
type FuncRecord struct {
	PC              string `json:"pc"`
	End             string `json:"end"` // delay slot of the last return (inclusive)
	Size            int    `json:"size"`
	Name            string `json:"name"`
	StackSize       uint32 `json:"stack_size,omitempty"`
	ReturnAddrPos   uint32 `json:"ra_pos,omitempty"`
	StackAllocStart string `json:"stack_alloc_start,omitempty"`
	StackAllocEnd   string `json:"stack_alloc_end,omitempty"`
	Symbol          string `json:"symbol,omitempty"` // ELF symbol at PC, if any
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc string `json:"from_func"`
	FromPC   string `json:"from_pc"`
	Kind     string `json:"kind"`             // "jal", "bal" or "jalr"
	Target   string `json:"target,omitempty"` // resolved name or "0x..." for jal/bal
	Reg      string `json:"reg,omitempty"`    // "t9" etc for jalr
	Via      string `json:"via,omitempty"`    // provenance for jalr
}

// StringRefRecord is one line in string_refs.jsonl.
type StringRefRecord struct {
	Func  string `json:"func"`
	PC    string `json:"pc"`
	Value string `json:"value"` // raw string value (unquoted)
}
