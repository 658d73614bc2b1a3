// Package recovery implements the recovery engine: reopening a backing file, locating the most
// recent durable root block, and reconstructing the heap's mature-generation bookkeeping from the
// generation_pinfo chain that block anchors.
//
// Grounded on the teacher's internal/vm/loader.go error-wrapping idiom ("load this structured
// image into memory, failing loudly and specifically on a torn or missing one") retargeted from
// loading an assembled object file to loading a committed heap image.
package recovery

import (
	"errors"
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

// ErrNoRootBlock is returned when neither reserved root page holds a block with a valid checksum:
// the backing file carries no recoverable database, and the caller must decide whether to create
// a fresh one or abort (spec.md §4.E).
var ErrNoRootBlock = errors.New("recovery: no valid root block")

// Result is what a process needs to resume operating on a recovered database: the live heap, the
// decoded root block (whose Suspended* fields tell the VM whether a thread was mid-flight when the
// process last committed), and a fresh externally-rooted pointer list. SmartPtrs are process-local
// bookkeeping, never persisted, so recovery always returns an empty one; no user code runs during
// recovery to repopulate it (spec.md §4.E).
type Result struct {
	Heap      *heap.Heap
	Root      *root.Block
	SmartPtrs *root.SmartPtrs
}

// Recover reopens a heap's backing file (cfg.BackingFile must name an existing image written by a
// prior commit) and reconstructs the database state as of the most recent group commit.
func Recover(cfg heap.Config) (*Result, error) {
	h, err := heap.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("recovery: open heap: %w", err)
	}

	block, err := readNewestRoot(h)
	if err != nil {
		h.Close()
		return nil, err
	}

	gens := reconstructGenerations(h, block.Generations)

	var matureTop word.Pointer

	for _, g := range gens {
		for _, pg := range g.Pages {
			if top := pg.Base + word.Pointer(h.WordsPerPage()); top > matureTop {
				matureTop = top
			}
		}
	}

	h.SetMature(gens, matureTop)

	return &Result{Heap: h, Root: block, SmartPtrs: root.NewSmartPtrs()}, nil
}

// readNewestRoot tries both reserved root pages and keeps whichever decodes with a valid checksum
// and the higher timestamp. A page a crash tore mid-write fails its checksum and is ignored in
// favor of the other; this is exactly why the commit engine never writes both root pages at once.
func readNewestRoot(h *heap.Heap) (*root.Block, error) {
	var best *root.Block

	for slot := 0; slot < heap.NumRootPages; slot++ {
		b, err := root.Decode(h.RootPage(slot))
		if err != nil {
			continue
		}

		if best == nil || b.Timestamp > best.Timestamp {
			best = b
		}
	}

	if best == nil {
		return nil, ErrNoRootBlock
	}

	return best, nil
}

// reconstructGenerations walks the generation_pinfo chain starting at head (the newest
// generation, per Block.Generations), and rebuilds the heap's Generation bookkeeping in
// oldest-to-newest order, matching how the commit engine maintains h.Mature.
func reconstructGenerations(h *heap.Heap, head word.Pointer) []*heap.Generation {
	var infos []cell.GenInfoView

	for p := head; !p.IsNull(); {
		view := cell.GenInfoView(h.Cell(p))
		infos = append(infos, view)
		p = view.PrevGeneration()
	}

	gens := make([]*heap.Generation, len(infos))

	for i, view := range infos {
		g := &heap.Generation{
			Ordinal:   int(view.Ordinal()),
			LiveRefIn: int(view.LiveRefIn()),
		}

		pages := view.Pages()
		total := int(view.TotalWords())

		for pageIdx := 0; pageIdx < pages; pageIdx++ {
			memPage, _ := view.PageEntry(pageIdx)
			base := word.Pointer(int(memPage) * h.WordsPerPage())
			g.Pages = append(g.Pages, h.PageAt(base))
		}

		if pages > 0 {
			g.Free = total - (pages-1)*h.WordsPerPage()
		}

		// infos is newest-first (the order the PrevGeneration walk visits them in); gens must end
		// up oldest-first, so the i-th info lands at the mirrored position.
		gens[len(infos)-1-i] = g
	}

	return gens
}
