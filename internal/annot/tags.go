// Package annot stores address annotations: string-reference comments and
// function names, in memory and in a SQLite debug-tags package.
package annot

import (
	"sort"
	"sync"
)

// Tag is one annotation.
type Tag struct {
	Addr uint32 `json:"addr"`
	Text string `json:"text"`
}

// Tags is an address-keyed annotation list. Listeners registered with
// OnChange run when NotifyChanged is called, not on every Set.
type Tags struct {
	mu        sync.RWMutex
	tags      map[uint32]string
	listeners []func()
}

// NewTags returns an empty tag list.
func NewTags() *Tags {
	return &Tags{tags: make(map[uint32]string)}
}

// Has reports whether addr carries a tag.
func (t *Tags) Has(addr uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.tags[addr]
	return ok
}

// Get returns the tag at addr. Its signature matches disasm.SymbolLookup.
func (t *Tags) Get(addr uint32) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.tags[addr]
	return s, ok
}

// Set tags addr with text, replacing any previous tag.
func (t *Tags) Set(addr uint32, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tags[addr] = text
}

// Len returns the number of tags.
func (t *Tags) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tags)
}

// Entries returns all tags sorted by address.
func (t *Tags) Entries() []Tag {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Tag, 0, len(t.tags))
	for addr, text := range t.tags {
		out = append(out, Tag{Addr: addr, Text: text})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// OnChange registers fn to run on NotifyChanged.
func (t *Tags) OnChange(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// NotifyChanged signals listeners that the tag list changed.
func (t *Tags) NotifyChanged() {
	t.mu.RLock()
	listeners := append([]func(){}, t.listeners...)
	t.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}
