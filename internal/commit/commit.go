// Package commit implements the group-commit engine: the staged pipeline that promotes
// first-generation survivors into a mature generation, optionally collects an older mature
// generation by copying, patches every pointer the copy moved, and durably writes the result.
//
// Engine.Run is staged as discrete, individually testable methods called in sequence
// (snapshotRegisters, copySurvivors, collectMature, writeGenerationInfo, writeDirtyPages, reset),
// in the staged-pipeline style of the teacher's instruction cycle applied one level up: a commit
// is itself one instruction in the database's outer loop.
package commit

import (
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

// RegisterSnapshot carries the VM's suspendable register state into a commit so it can be
// persisted in the root block and recovered verbatim by a later process.
type RegisterSnapshot struct {
	Cont      word.Pointer
	Accu      word.Tagged
	AccuType  cell.SlotKind
	ThreadID  word.Word
	Priority  root.Priority
}

// Policy selects which mature generation, if any, to collect on a given commit. SelectGeneration
// returns nil to skip mature-generation collection entirely this commit.
type Policy interface {
	SelectGeneration(h *heap.Heap) *heap.Generation
}

// NoCollection never collects a mature generation; only first-generation survivors are promoted.
type NoCollection struct{}

func (NoCollection) SelectGeneration(*heap.Heap) *heap.Generation { return nil }

// Threshold collects the oldest mature generation whenever the first generation's free space
// falls below LowWaterWords, bounding the generation it will pick to ones no larger than
// MaxWords — the "configurable word count" bound from spec.md §4.D.1. This implementation always
// fully drains a selected generation in one commit (see DESIGN.md for the scoping rationale); the
// word bound is therefore enforced by generation selection rather than by interrupting a
// collection mid-flight.
type Threshold struct {
	LowWaterWords int
	MaxWords      int
}

func (t Threshold) SelectGeneration(h *heap.Heap) *heap.Generation {
	if h.FirstGenerationFree() >= t.LowWaterWords {
		return nil
	}

	for _, g := range h.Mature {
		if generationWords(h, g) <= t.MaxWords {
			return g
		}
	}

	return nil
}

func generationWords(h *heap.Heap, g *heap.Generation) int {
	n := 0
	h.WalkGeneration(g, func(_ word.Pointer, words []word.Word) { n += len(words) })

	return n
}

// Engine runs the group-commit protocol against one heap, root block, and smart-pointer list.
type Engine struct {
	Heap      *heap.Heap
	Root      *root.Block
	SmartPtrs *root.SmartPtrs
	Policy    Policy

	batch uint64
	log   *log.Logger

	// rootSlot alternates between the two reserved root pages on each commit, so a crash mid-
	// write never destroys both copies.
	rootSlot int
}

// NewEngine constructs a commit Engine. A nil Policy is equivalent to NoCollection{}.
func NewEngine(h *heap.Heap, r *root.Block, sp *root.SmartPtrs, policy Policy) *Engine {
	if policy == nil {
		policy = NoCollection{}
	}

	return &Engine{
		Heap:      h,
		Root:      r,
		SmartPtrs: sp,
		Policy:    policy,
		log:       log.DefaultLogger(),
	}
}

// Run executes one group commit: snapshot registers, copy first-generation survivors, optionally
// collect one mature generation, write every touched page plus the root block, and reset the
// first generation's bump pointer.
func (e *Engine) Run(snapshot RegisterSnapshot) error {
	e.snapshotRegisters(snapshot)

	survivors := e.copySurvivors()
	collected, replaced := e.collectMature(survivors)
	e.writeGenerationInfo(survivors)

	if err := e.writeDirtyPages(survivors, collected); err != nil {
		return err
	}

	e.reset(replaced)

	e.log.Info("commit", "batch", e.batch, "survivors", survivors.Ordinal)

	return nil
}

// snapshotRegisters records the VM's suspendable state into the root block, so it survives the
// commit (and a crash immediately after it) regardless of whether any thread was actually
// suspended.
func (e *Engine) snapshotRegisters(s RegisterSnapshot) {
	e.Root.SuspendedCont = s.Cont
	e.Root.SuspendedAccu = s.Accu
	e.Root.SuspendedAccuType = s.AccuType
	e.Root.SuspendedThreadID = s.ThreadID
	e.Root.SuspendedPriority = s.Priority
}

// copySurvivors performs the Cheney-style breadth-first copy of every first-generation cell
// reachable from the root set into a fresh mature generation, installing forward pointers at the
// old locations. It returns the new generation.
func (e *Engine) copySurvivors() *heap.Generation {
	h := e.Heap
	dst := h.NewGeneration(nil)

	fwd := &forwarder{
		heap: h,
		dst:  dst,
		inSource: func(p word.Pointer) bool {
			return h.IsInFirstGeneration(p)
		},
	}

	e.Root.WalkPointers(func(p *root.Ptr) { *p = fwd.forward(*p) })
	e.Root.WalkTagged(func(t *word.Tagged) { *t = fwd.forwardTagged(*t) })
	e.SmartPtrs.Walk(func(p *word.Pointer) { *p = fwd.forward(*p) })

	fwd.drain()

	return dst
}

// collectMature asks the Policy to pick a mature generation and, if it picks one, copies that
// generation's contents into a fresh successor, then patches every pointer anywhere in the live
// heap (the root set, the smart pointers, the brand-new survivor generation, and every other
// mature generation) that referenced the collected generation. It returns the collected
// generation (nil if none was collected) and its replacement.
func (e *Engine) collectMature(survivors *heap.Generation) (collected, replacement *heap.Generation) {
	h := e.Heap

	collected = e.Policy.SelectGeneration(h)
	if collected == nil || collected == survivors {
		// A Policy has no way to know about this commit's brand-new survivor generation; refuse
		// to collect it; there's nothing to reclaim from a generation just created.
		return nil, nil
	}

	// NewGeneration's ordinary side effect is to append to h.Mature, which would leave
	// replacement appearing twice once it is swapped into collected's slot below. Build it by
	// hand instead and append nothing.
	replacement = &heap.Generation{
		Ordinal:   collected.Ordinal,
		LiveRefIn: collected.LiveRefIn,
		Prev:      collected.Prev,
	}

	fwd := &forwarder{
		heap: h,
		dst:  replacement,
		inSource: func(p word.Pointer) bool {
			return generationContains(h, collected, p)
		},
	}

	e.Root.WalkPointers(func(p *root.Ptr) { *p = fwd.forward(*p) })
	e.Root.WalkTagged(func(t *word.Tagged) { *t = fwd.forwardTagged(*t) })
	e.SmartPtrs.Walk(func(p *word.Pointer) { *p = fwd.forward(*p) })

	for _, g := range h.Mature {
		if g == collected {
			continue
		}

		h.WalkGeneration(g, func(_ word.Pointer, words []word.Word) {
			fwd.patchSlots(words)
		})
	}

	fwd.drain()

	for i, g := range h.Mature {
		if g == collected {
			h.Mature[i] = replacement
			break
		}
	}

	return collected, replacement
}

// writeGenerationInfo rebuilds the persisted generation_pinfo chain from h.Mature's current
// state, allocating the fresh cells inside survivors (guaranteed to exist, and to be written out,
// every commit). A generation's pinfo cell describes that generation's page layout at the moment
// of this commit; once a generation is collected its old pinfo cell is never consulted again —
// Root.Generations is repointed at the new chain head before writeDirtyPages runs, so the stale
// cell simply becomes unreachable garbage inside whatever generation happened to hold it.
func (e *Engine) writeGenerationInfo(survivors *heap.Generation) {
	h := e.Heap

	// Snapshot every generation's layout before allocating anything: survivors is among
	// h.Mature, and allocating its own pinfo cell into it can append a fresh page, which would
	// corrupt an in-flight read of survivors.Pages taken after that allocation started.
	type snapshot struct {
		ordinal, liveRefIn, totalWords int
		bases                          []word.Pointer
	}

	snapshots := make([]snapshot, len(h.Mature))

	for i, g := range h.Mature {
		bases := make([]word.Pointer, len(g.Pages))
		for j, pg := range g.Pages {
			bases[j] = pg.Base
		}

		snapshots[i] = snapshot{
			ordinal:    g.Ordinal,
			liveRefIn:  g.LiveRefIn,
			totalWords: generationWordCount(h, g),
			bases:      bases,
		}
	}

	var prev word.Pointer

	for _, s := range snapshots {
		n := cell.GenInfoWords(len(s.bases))
		p := h.AllocateInGeneration(survivors, n)
		words := h.RawCellAt(p, n)

		words[0] = cell.NewGenInfoHeader(len(s.bases))

		view := cell.GenInfoView(words)
		view.SetPrevGeneration(prev)
		view.SetOrdinal(word.Word(s.ordinal))
		view.SetLiveRefIn(word.Word(s.liveRefIn))
		view.SetTotalWords(word.Word(s.totalWords))

		for i, base := range s.bases {
			page := word.Word(int(base) / h.WordsPerPage())
			view.SetPageEntry(i, page, page)
		}

		prev = p
	}

	e.Root.Generations = prev
}

func generationWordCount(h *heap.Heap, g *heap.Generation) int {
	if len(g.Pages) == 0 {
		return 0
	}

	return (len(g.Pages)-1)*h.WordsPerPage() + g.Free
}

// writeDirtyPages marks every page touched this commit as dirty (for diagnostics and the
// generation_pinfo bookkeeping the recovery engine relies on) and flushes the heap.
func (e *Engine) writeDirtyPages(gens ...*heap.Generation) error {
	h := e.Heap

	for _, g := range gens {
		if g == nil {
			continue
		}

		for i := range g.Pages {
			g.Pages[i].Dirty = true
		}
	}

	root := h.RootPage(e.rootSlot)
	e.Root.Timestamp = e.batch + 1
	e.Root.Encode(root)

	if err := h.Sync(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	return nil
}

// reset advances the batch counter and resets the first generation's bump pointer, ending the
// commit. Cells the copying pass did not reach (unreachable first-generation garbage) are
// discarded implicitly: nothing ever points to them again.
func (e *Engine) reset(*heap.Generation) {
	e.Heap.ResetFirstGeneration()
	e.batch++
	e.rootSlot = (e.rootSlot + 1) % 2
}

func generationContains(h *heap.Heap, g *heap.Generation, p word.Pointer) bool {
	for _, pg := range g.Pages {
		if p >= pg.Base && p < pg.Base+word.Pointer(h.WordsPerPage()) {
			return true
		}
	}

	return false
}
