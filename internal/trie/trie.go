// Package trie implements the persistent, non-destructive binary trie that backs every
// integer-keyed root named in spec.md: bcodes, globals, and blocked_threads. Grounded on
// hibase-0.1.3/trie.c's shape (a key is consumed one bit at a time, most significant first, and a
// branch node exists only where two keys actually diverge), implemented here over internal/heap
// and internal/cell rather than porting the C library's array-hybrid internal representation,
// which spec.md §6 scopes to "a cell type the consumer registers" and does not specify further.
package trie

import (
	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/word"
)

const keyBits = 32

func bitAt(key word.Word, level int) int {
	return int((key >> uint(keyBits-1-level)) & 1)
}

// Find looks up key in the trie rooted at root, returning its value and true if present.
func Find(h *heap.Heap, root word.Pointer, key word.Word) (word.Tagged, bool) {
	p := root

	for !p.IsNull() {
		words := h.Cell(p)

		switch cell.HeaderTag(words[0]) {
		case cell.TrieLeafTag:
			leaf := cell.TrieLeafView(words)
			if leaf.Key() == key {
				return leaf.Value(), true
			}

			return 0, false

		case cell.TrieBranchTag:
			branch := cell.TrieBranchView(words)
			if bitAt(key, branch.Level()) == 0 {
				p = branch.Left()
			} else {
				p = branch.Right()
			}

		default:
			return 0, false
		}
	}

	return 0, false
}

// Insert returns a new trie root with key bound to value, sharing every subtree of root that
// insert did not need to change. The previous root remains valid and unaffected: this is the
// non-destructive update spec.md §8 requires.
func Insert(h *heap.Heap, root word.Pointer, key word.Word, value word.Tagged) word.Pointer {
	return insertAt(h, root, key, value, 0)
}

func insertAt(h *heap.Heap, p word.Pointer, key word.Word, value word.Tagged, level int) word.Pointer {
	if p.IsNull() {
		return newLeaf(h, key, value)
	}

	words := h.Cell(p)

	switch cell.HeaderTag(words[0]) {
	case cell.TrieLeafTag:
		leaf := cell.TrieLeafView(words)
		if leaf.Key() == key {
			return newLeaf(h, key, value)
		}

		return split(h, leaf.Key(), leaf.Value(), key, value, level)

	case cell.TrieBranchTag:
		branch := cell.TrieBranchView(words)
		newBranchPtr := h.Allocate(cell.TrieBranchWords(), cell.TrieBranchTag)
		newBranch := cell.TrieBranchView(h.RawCellAt(newBranchPtr, cell.TrieBranchWords()))
		newBranch[0] = cell.NewTrieBranchHeader(branch.Level())

		if bitAt(key, branch.Level()) == 0 {
			newBranch.SetLeft(insertAt(h, branch.Left(), key, value, branch.Level()+1))
			newBranch.SetRight(branch.Right())
		} else {
			newBranch.SetLeft(branch.Left())
			newBranch.SetRight(insertAt(h, branch.Right(), key, value, branch.Level()+1))
		}

		return newBranchPtr

	default:
		panic("trie: pointer does not reference a trie cell")
	}
}

// split builds the minimal chain of branch nodes needed to separate two distinct keys that agree
// on every bit from level up to wherever they first diverge.
func split(h *heap.Heap, keyA word.Word, valueA word.Tagged, keyB word.Word, valueB word.Tagged, level int) word.Pointer {
	for bitAt(keyA, level) == bitAt(keyB, level) {
		level++
	}

	leafA := newLeaf(h, keyA, valueA)
	leafB := newLeaf(h, keyB, valueB)

	branchPtr := h.Allocate(cell.TrieBranchWords(), cell.TrieBranchTag)
	branch := cell.TrieBranchView(h.RawCellAt(branchPtr, cell.TrieBranchWords()))
	branch[0] = cell.NewTrieBranchHeader(level)

	if bitAt(keyA, level) == 0 {
		branch.SetLeft(leafA)
		branch.SetRight(leafB)
	} else {
		branch.SetLeft(leafB)
		branch.SetRight(leafA)
	}

	return branchPtr
}

func newLeaf(h *heap.Heap, key word.Word, value word.Tagged) word.Pointer {
	p := h.Allocate(cell.TrieLeafWords(), cell.TrieLeafTag)
	leaf := cell.TrieLeafView(h.RawCellAt(p, cell.TrieLeafWords()))
	leaf[0] = cell.NewTrieLeafHeader()
	leaf.SetKey(key)
	leaf.SetValue(value)

	return p
}
