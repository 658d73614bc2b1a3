// Package cell implements the tag registry: the compile-time description of every cell layout in
// the heap, and the three derived operations (size_of, walk, type_of) that let the heap, the
// group-commit engine, and the recovery engine traverse cells without per-type state.
//
// No operation in this package allocates, mutates heap contents, or suspends. Variable-length
// cells must express their size as a pure function of the header word alone (plus, where the
// descriptor declares it, a bounded number of immediately following words) so that a GC walker
// never needs auxiliary state.
package cell

import (
	"fmt"

	"github.com/GunterMueller/shades/internal/word"
)

// Tag identifies a cell's type. It occupies the high 8 bits of a cell's header word.
type Tag uint8

// SlotKind classifies a non-header word of a cell for the GC walker.
type SlotKind uint8

const (
	// WORD is an ordinary payload word; the walker copies it verbatim and never interprets it as
	// a pointer.
	WORD SlotKind = iota

	// PTR is a word that may be either the null pointer or a pointer into the heap. The walker
	// must skip null pointers without attempting to follow them.
	PTR

	// NONNULL_PTR is a pointer slot that is never null: the walker can always follow it, and
	// code that writes this slot must never write the null pointer.
	NONNULL_PTR

	// TAGGED is a word.Tagged value, which is a pointer only when its Tag() is TagPointer.
	TAGGED
)

func (k SlotKind) String() string {
	switch k {
	case WORD:
		return "WORD"
	case PTR:
		return "PTR"
	case NONNULL_PTR:
		return "NONNULL_PTR"
	case TAGGED:
		return "TAGGED"
	default:
		return fmt.Sprintf("SlotKind(%d)", uint8(k))
	}
}

const (
	// headerTagShift and headerDataMask split a header word into its 8-bit tag and 24-bit
	// per-type data, per spec.
	headerTagShift = 24
	headerDataMask = word.Word(1<<headerTagShift) - 1

	// MinCellWords is the lower bound on every cell's size, per spec: two words. The upper bound
	// (no cell larger than a page, except for the unregistered, hand-rolled root page) has no
	// constant here; internal/heap's AllocateInGeneration enforces it.
	MinCellWords = 2
)

// NewHeader packs a tag and up to 24 bits of per-type data into a header word.
func NewHeader(tag Tag, data uint32) word.Word {
	return word.Word(tag)<<headerTagShift | (word.Word(data) & headerDataMask)
}

// HeaderTag extracts the type tag from a header word.
func HeaderTag(header word.Word) Tag {
	return Tag(header >> headerTagShift)
}

// HeaderData extracts the 24-bit per-type data from a header word.
func HeaderData(header word.Word) uint32 {
	return uint32(header & headerDataMask)
}

// Descriptor is implemented once per cell kind and registered at init time with Register. It is
// the registry's sum-type variant: a distinct Go type per cell kind, each owning its own size
// expression and slot-kind vector, rather than a single runtime table keyed by reflection.
type Descriptor interface {
	// Tag returns the constant tag this descriptor answers for.
	Tag() Tag

	// Name returns a human-readable name, used in diagnostics such as Register's duplicate-tag
	// panic.
	Name() string

	// PeekWords bounds how many leading words of the cell SizeOf needs to see in order to compute
	// the cell's total size. It is a compile-time constant per cell kind (e.g. the fixed metadata
	// prefix of a bcode cell), never a function of cell contents, so a GC walker can always safely
	// read this many words before deciding how much more of the cell to copy.
	PeekWords() int

	// SizeOf evaluates the cell's size, in words, including the header. peek holds at least
	// PeekWords() leading words of the cell, peek[0] being the header.
	SizeOf(peek []word.Word) int

	// Walk invokes visit once for every non-header word of the cell, identifying its slot kind and
	// its index (1-based; index 0 is the header and is never visited). cell holds exactly SizeOf
	// words, so the visitor may index it directly.
	Walk(cellWords []word.Word, visit func(index int, kind SlotKind))
}

var registry = map[Tag]Descriptor{}

// Register adds a descriptor to the tag registry. It panics if the tag is already registered,
// which is the Go rendering of "the registry refuses ambiguous tags" — callers are expected to
// invoke Register from an init function, so a duplicate tag is a build-time programming error,
// not a runtime condition to recover from.
func Register(d Descriptor) {
	if existing, ok := registry[d.Tag()]; ok {
		panic(fmt.Sprintf("cell: tag %d already registered to %s, cannot register %s", d.Tag(), existing.Name(), d.Name()))
	}

	registry[d.Tag()] = d
}

// Lookup returns the descriptor for a tag, or false if no descriptor was ever registered for it —
// the caller has encountered a corrupt or foreign header word.
func Lookup(tag Tag) (Descriptor, bool) {
	d, ok := registry[tag]
	return d, ok
}

// TypeOf returns the tag encoded in a cell's header word.
func TypeOf(header word.Word) Tag {
	return HeaderTag(header)
}

// descriptorFor looks up the descriptor for the cell whose header word is given, panicking if the
// tag is unregistered: a corrupt heap is not a recoverable condition for a size or walk computation
// that GC depends on for correctness.
func descriptorFor(header word.Word) Descriptor {
	d, ok := Lookup(HeaderTag(header))
	if !ok {
		panic(fmt.Sprintf("cell: unregistered tag %d in header %s", HeaderTag(header), header))
	}

	return d
}

// PeekWords returns how many leading words of a cell with the given header SizeOf needs to see.
func PeekWords(header word.Word) int {
	return descriptorFor(header).PeekWords()
}

// SizeOf returns the size, in words, of the cell whose leading words are given in peek.
func SizeOf(peek []word.Word) int {
	return descriptorFor(peek[0]).SizeOf(peek)
}

// Walk invokes visit once per non-header slot of the cell. cellWords must hold exactly SizeOf(cellWords)
// words.
func Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	descriptorFor(cellWords[0]).Walk(cellWords, visit)
}
