// Package output writes unstrip analysis results to files.
package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"unstrip/internal/analysis"
	"unstrip/internal/disasm"
)

// SymbolEntry represents a named code address.
type SymbolEntry struct {
	Address uint32 `json:"address"`
	Name    string `json:"name"`
	Size    uint32 `json:"size,omitempty"`
}

// WriteSymbolsJSON writes symbols to symbols.json.
func WriteSymbolsJSON(dir string, symbols []SymbolEntry) error {
	return writeJSON(filepath.Join(dir, "symbols.json"), symbols)
}

// Summary is the run overview written to summary.json.
type Summary struct {
	Image          string   `json:"image"`
	Entry          string   `json:"entry,omitempty"`
	Ranges         []string `json:"ranges"`
	Subroutines    int      `json:"subroutines"`
	WithStackFrame int      `json:"with_stack_frame"`
	StringRefs     int      `json:"string_refs"`
	CallEdges      int      `json:"call_edges"`
	JALR           int      `json:"jalr"`
	JALRResolved   int      `json:"jalr_resolved"`
	ELFSymbols     int      `json:"elf_symbols,omitempty"`
	SymbolsMatched int      `json:"symbols_matched,omitempty"` // ELF symbols that start a discovered subroutine
	Roots          int      `json:"roots,omitempty"`           // subroutines without a direct caller
	Reachable      int      `json:"reachable,omitempty"`       // subroutines reachable from the entry point
}

// WriteSummaryJSON writes the run summary to summary.json.
func WriteSummaryJSON(dir string, s *Summary) error {
	return writeJSON(filepath.Join(dir, "summary.json"), s)
}

// WriteASM writes disassembled instructions to asm/<name>.txt.
func WriteASM(dir string, name string, insts []disasm.Inst, lookup disasm.SymbolLookup, annotators ...disasm.Annotator) error {
	path := filepath.Join(dir, "asm", name+".txt")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir asm: %w", err)
	}

	text := disasm.Format(insts, lookup, annotators...)
	return os.WriteFile(path, []byte(text), 0644)
}

// WriteDOT writes a rendered graph to <dir>/<name>.dot.
// name may contain path separators (e.g., "cfg/sub_80010000").
func WriteDOT(dir, name, dot string) error {
	path := filepath.Join(dir, name+".dot")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("output: mkdir %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(dot), 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// WriteRegistry writes the subroutine registry to registry.cbor.
func WriteRegistry(dir string, r *analysis.Registry) error {
	data, err := analysis.MarshalRegistry(r)
	if err != nil {
		return fmt.Errorf("output: encode registry: %w", err)
	}
	path := filepath.Join(dir, "registry.cbor")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// ReadRegistry loads a registry written by WriteRegistry.
func ReadRegistry(path string) (*analysis.Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("output: read registry: %w", err)
	}
	return analysis.UnmarshalRegistry(data)
}

// JSONL streams records to a file, one JSON document per line.
type JSONL struct {
	f   *os.File
	enc *json.Encoder
	n   int
}

// CreateJSONL creates (or truncates) path for streaming records.
func CreateJSONL(path string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("output: create %s: %w", path, err)
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &JSONL{f: f, enc: enc}, nil
}

// Encode appends one record.
func (w *JSONL) Encode(v any) error {
	if err := w.enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", w.f.Name(), err)
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *JSONL) Count() int { return w.n }

// Close flushes and closes the file.
func (w *JSONL) Close() error { return w.f.Close() }

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("output: create %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("output: encode %s: %w", path, err)
	}
	return nil
}
