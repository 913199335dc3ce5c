// Package analysis recovers subroutine boundaries, string references and
// call stacks from raw MIPS code without symbol information.
package analysis

import (
	"sync"

	"github.com/tliron/commonlog"

	"unstrip/internal/disasm"
)

var log = commonlog.GetLogger("unstrip.analysis")

// NoEntryPoint is passed to Analyze when the entry point is unknown.
const NoEntryPoint = 0xFFFFFFFF

// searchLimit bounds the forward scans of the jump-target and
// branch-expansion passes, in bytes.
const searchLimit = 0x1000

// InstructionSource reads the physical address space.
type InstructionSource interface {
	Instruction(addr uint32) uint32
	Byte(addr uint32) uint8
	Word(addr uint32) uint32
}

// Translator maps a logical address to a physical one.
type Translator interface {
	Translate(addr uint32) uint32
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(addr uint32) uint32

func (f TranslatorFunc) Translate(addr uint32) uint32 { return f(addr) }

// BranchClassifier identifies control transfers and their static targets.
type BranchClassifier interface {
	Classify(addr, raw uint32) disasm.BranchType
	EffectiveTarget(addr, raw uint32) (uint32, bool)
}

// AnnotationStore receives string-reference comments.
type AnnotationStore interface {
	Has(addr uint32) bool
	Set(addr uint32, text string)
	NotifyChanged()
}

// Options configures an Analysis.
type Options struct {
	Source     InstructionSource
	Translator Translator       // nil means identity
	Branches   BranchClassifier // nil means disasm.Classifier
	Comments   AnnotationStore  // nil disables the string scan
}

// Analysis is the subroutine analysis engine for one program image.
//
// Analyze and Clear are serialized with each other; FindSubroutine and
// CallStack may run concurrently with each other but not with Analyze.
type Analysis struct {
	mu       sync.RWMutex
	subs     *Registry
	src      InstructionSource
	tr       Translator
	branches BranchClassifier
	comments AnnotationStore
}

// New creates an analysis engine over opts.Source.
func New(opts Options) *Analysis {
	a := &Analysis{
		subs:     NewRegistry(),
		src:      opts.Source,
		tr:       opts.Translator,
		branches: opts.Branches,
		comments: opts.Comments,
	}
	if a.tr == nil {
		a.tr = TranslatorFunc(func(addr uint32) uint32 { return addr })
	}
	if a.branches == nil {
		a.branches = disasm.Classifier{}
	}
	return a
}

// Analyze discovers subroutines in [start, end) and then annotates string
// references found in every known subroutine. entryPoint may be
// NoEntryPoint.
func (a *Analysis) Analyze(start, end, entryPoint uint32) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.analyzeSubroutines(start, end, entryPoint)
	if a.comments != nil {
		a.analyzeStringReferences()
	}
}

// Clear forgets every discovered subroutine.
func (a *Analysis) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs.Clear()
}

// FindSubroutine returns the subroutine containing addr.
func (a *Analysis) FindSubroutine(addr uint32) (Subroutine, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if s := a.subs.Find(addr); s != nil {
		return *s, true
	}
	return Subroutine{}, false
}

// Subroutines returns all known subroutines in address order.
func (a *Analysis) Subroutines() []Subroutine {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.subs.Subroutines()
}

// Load replaces the registry with subs, as read back from a snapshot.
func (a *Analysis) Load(subs *Registry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = subs
}

// Registry returns the underlying registry. Callers must not mutate it
// while Analyze runs.
func (a *Analysis) Registry() *Registry { return a.subs }

// CallStack reconstructs the call stack for the given register state.
func (a *Analysis) CallStack(pc, sp, ra uint32) []uint32 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return CallStack(a.subs, a.src, a.tr, pc, sp, ra)
}

func (a *Analysis) instruction(addr uint32) uint32 {
	return a.src.Instruction(a.tr.Translate(addr))
}

func (a *Analysis) analyzeSubroutines(start, end, entryPoint uint32) {
	start &^= 3
	end &^= 3

	before := a.subs.Len()

	n := a.findByStackAllocation(start, end)
	log.Debugf("stack allocation pass: %d subroutines", n)
	n = a.findByJumpTargets(start, end, entryPoint)
	log.Debugf("jump target pass: %d subroutines", n)
	n = a.expandSubroutines(start, end)
	log.Debugf("branch expansion pass: %d subroutines extended", n)

	log.Infof("found %d subroutines in the range [0x%08X, 0x%08X]", a.subs.Len()-before, start, end)
}
