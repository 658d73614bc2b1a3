package commit

import (
	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/word"
)

// forwarder runs one Cheney-style copying pass: any pointer whose target satisfies inSource is
// copied into dst (once — a forward_pointer cell left at the old location makes every subsequent
// encounter a cache hit) and every pointer field is rewritten to point at the copy.
type forwarder struct {
	heap     *heap.Heap
	dst      *heap.Generation
	inSource func(word.Pointer) bool
}

// forward returns p's copy in dst, copying it there (and installing a forward pointer at p) on
// the first call for a given p. The null pointer, and any p for which inSource is false, pass
// through unchanged.
func (f *forwarder) forward(p word.Pointer) word.Pointer {
	if p.IsNull() || !f.inSource(p) {
		return p
	}

	if cell.HeaderTag(f.heap.Word(p)) == cell.ForwardTag {
		return cell.ForwardView(f.heap.Cell(p)).Target()
	}

	src := f.heap.Cell(p)
	dst := f.heap.AllocateInGeneration(f.dst, len(src))
	copy(f.heap.RawCellAt(dst, len(src)), src)

	old := f.heap.RawCellAt(p, cell.ForwardWords)
	old[0] = cell.NewForwardHeader()
	old[1] = word.Word(dst)

	return dst
}

// forwardTagged is forward for a word.Tagged value, which is a pointer only when its tag says so.
func (f *forwarder) forwardTagged(t word.Tagged) word.Tagged {
	if t.Tag() != word.TagPointer {
		return t
	}

	return word.NewPointer(f.forward(t.Pointer()))
}

// patchSlots rewrites every pointer-bearing slot of words in place, using the tag registry's slot
// kinds to tell pointers from raw payload.
func (f *forwarder) patchSlots(words []word.Word) {
	cell.Walk(words, func(idx int, kind cell.SlotKind) {
		switch kind {
		case cell.PTR:
			if p := word.Pointer(words[idx]); !p.IsNull() {
				words[idx] = word.Word(f.forward(p))
			}
		case cell.NONNULL_PTR:
			words[idx] = word.Word(f.forward(word.Pointer(words[idx])))
		case cell.TAGGED:
			words[idx] = word.Word(f.forwardTagged(word.Tagged(words[idx])))
		case cell.WORD:
			// raw payload, never interpreted as a pointer.
		}
	})
}

// drain scans dst page by page, patching every cell's pointer slots, until it catches up with
// dst's current allocation point — which may itself grow while draining, since a cell copied late
// in the scan can itself contain pointers that cause further copies. It re-reads dst.Pages and the
// last page's Free mark on every step (rather than computing a single top bound up front) since
// both grow out from under it as forward allocates. Scanning must stay page-aware: a page that
// rolled over before filling completely leaves unused words at its tail that are not a cell.
func (f *forwarder) drain() {
	g := f.dst
	page, off := 0, 0

	for page < len(g.Pages) {
		limit := f.heap.WordsPerPage()
		if page == len(g.Pages)-1 {
			limit = g.Free
		}

		if off >= limit {
			page++
			off = 0

			continue
		}

		p := g.Pages[page].Base + word.Pointer(off)
		words := f.heap.Cell(p)
		f.patchSlots(words)
		off += len(words)
	}
}
