// Package shtring implements the interned-string service spec.md §4.H names: create, intern, and
// look-up-by-id. It is grounded on _examples/original_source/hibase-0.1.3/shtring.c for the
// interface those three operations expose, not for its internal representation: the original is a
// rope-like structure built for cheap substring and concatenation; nothing the bytecode loader or
// VM need here ever slices or concatenates an interned string; they always intern a whole
// identifier once and look it up by id afterward. So a shtring here is just an immutable
// byte vector cell, deduplicated by content hash, with a second trie for O(log n) id lookup.
package shtring

import (
	"hash/crc32"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/word"
)

// Create allocates a standalone shtring cell holding b's bytes and returns its pointer. It is not
// interned: two calls with equal bytes produce two distinct cells. Most callers want Intern
// instead, which deduplicates.
func Create(h *heap.Heap, b []byte) word.Pointer {
	n := cell.ShtringWords(len(b))
	p := h.Allocate(n, cell.ShtringTag)
	cell.NewShtringCell(h.RawCellAt(p, n), b)

	return p
}

func newTable(h *heap.Heap) (word.Pointer, cell.ShtringTableView) {
	p := h.Allocate(cell.ShtringTableWords(), cell.ShtringTableTag)
	t := cell.ShtringTableView(h.RawCellAt(p, cell.ShtringTableWords()))
	t[0] = cell.NewShtringTableHeader()
	t.SetNextID(1)

	return p, t
}

func loadTable(h *heap.Heap, root word.Pointer) (word.Pointer, cell.ShtringTableView) {
	if root.IsNull() {
		return newTable(h)
	}

	return root, cell.ShtringTableView(h.Cell(root))
}

// Intern inserts s into the table rooted at root if no equal string is already present, returning
// the (possibly unchanged) new root, s's stable interned id, a pointer to its shtring cell, and
// whether this call actually inserted a new entry. Ids are never reused, including across a
// content hash collision: a colliding hash simply causes the two distinct strings to be treated as
// unrelated, each getting its own id (see DESIGN.md).
func Intern(h *heap.Heap, root word.Pointer, s []byte) (newRoot word.Pointer, id word.Word, ptr word.Pointer, wasNew bool) {
	tableRoot, table := loadTable(h, root)

	hash := word.Word(crc32.ChecksumIEEE(s))

	if candidate, ok := trie.Find(h, table.ByContent(), hash); ok {
		candidateID := word.Word(candidate.Fixnum())
		if existingPtr, ok := LookupByID(h, tableRoot, candidateID); ok {
			if bytesEqual(cell.ShtringView(h.Cell(existingPtr)).Bytes(), s) {
				return tableRoot, candidateID, existingPtr, false
			}
		}
	}

	id = table.NextID()
	ptr = Create(h, s)

	newByID := trie.Insert(h, table.ByID(), id, word.NewPointer(ptr))
	newByContent := trie.Insert(h, table.ByContent(), hash, word.NewFixnum(int32(id)))

	newRootPtr, newTableView := newTable(h)
	newTableView.SetByID(newByID)
	newTableView.SetByContent(newByContent)
	newTableView.SetNextID(id + 1)

	return newRootPtr, id, ptr, true
}

// LookupByID returns the shtring cell interned under id in the table rooted at root.
func LookupByID(h *heap.Heap, root word.Pointer, id word.Word) (word.Pointer, bool) {
	if root.IsNull() {
		return word.Null, false
	}

	table := cell.ShtringTableView(h.Cell(root))

	v, ok := trie.Find(h, table.ByID(), id)
	if !ok {
		return word.Null, false
	}

	return v.Pointer(), true
}

// String reads an interned shtring's bytes back out as a Go string, a convenience for callers
// (the loader tests, for one) that never touch the raw cell otherwise.
func String(h *heap.Heap, ptr word.Pointer) string {
	return string(cell.ShtringView(h.Cell(ptr)).Bytes())
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
