package commit

import (
	"testing"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

func newTestEngine(t *testing.T) (*Engine, *heap.Heap) {
	t.Helper()

	h, err := heap.New(heap.Config{HeapSize: 256 * 1024, PageSize: 4096})
	if err != nil {
		t.Fatalf("heap.New: %s", err)
	}

	r := &root.Block{}
	sp := root.NewSmartPtrs()
	e := NewEngine(h, r, sp, nil)

	return e, h
}

// newContext allocates a context cell in the first generation and returns its pointer.
func newContext(h *heap.Heap, threadID word.Word) word.Pointer {
	p := h.Allocate(cell.ContextFixedWords, cell.ContextTag)
	view := cell.ContextView(h.Cell(p))
	view.SetCont(word.Null)
	view.SetAccu(word.NewFixnum(0))
	view.SetThreadID(threadID)
	view.SetPriority(word.Word(0))

	return p
}

func TestEngine_RunPromotesRootedSurvivors(t *testing.T) {
	t.Parallel()

	e, h := newTestEngine(t)

	p := newContext(h, 7)
	e.Root.Contexts[0] = p

	if err := e.Run(RegisterSnapshot{}); err != nil {
		t.Fatalf("Run: %s", err)
	}

	newPtr := e.Root.Contexts[0]
	if newPtr == p {
		t.Fatalf("root pointer was not forwarded to the mature copy")
	}

	if h.IsInFirstGeneration(newPtr) {
		t.Errorf("survivor %s was not promoted out of the first generation", newPtr)
	}

	got := cell.ContextView(h.Cell(newPtr))
	if got.ThreadID() != 7 {
		t.Errorf("ThreadID() after copy = %d, want 7", got.ThreadID())
	}

	if word.Pointer(h.AllocationPoint()) != h.FirstGenerationTop() {
		t.Errorf("first generation was not reset after commit")
	}
}

func TestEngine_RunDiscardsUnreachableFirstGeneration(t *testing.T) {
	t.Parallel()

	e, h := newTestEngine(t)

	newContext(h, 1) // never rooted

	if err := e.Run(RegisterSnapshot{}); err != nil {
		t.Fatalf("Run: %s", err)
	}

	if len(h.Mature) != 1 {
		t.Fatalf("len(Mature) = %d, want 1", len(h.Mature))
	}

	seen := 0
	// The survivor generation always holds this commit's own generation_pinfo cell; any other
	// cell in it was promoted.
	h.WalkGeneration(h.Mature[0], func(_ word.Pointer, words []word.Word) {
		if cell.HeaderTag(words[0]) != cell.GenInfoTag {
			seen++
		}
	})

	if seen != 0 {
		t.Errorf("unreachable cell was promoted: saw %d cells in the survivor generation", seen)
	}
}

func TestEngine_RunPreservesChainOfPointers(t *testing.T) {
	t.Parallel()

	e, h := newTestEngine(t)

	tail := newContext(h, 2)
	head := newContext(h, 1)
	cell.ContextView(h.Cell(head)).SetCont(tail)

	e.Root.Contexts[0] = head

	if err := e.Run(RegisterSnapshot{}); err != nil {
		t.Fatalf("Run: %s", err)
	}

	newHead := e.Root.Contexts[0]
	newTail := cell.ContextView(h.Cell(newHead)).Cont()

	if newTail.IsNull() {
		t.Fatalf("chained pointer was dropped during copy")
	}

	if got := cell.ContextView(h.Cell(newTail)).ThreadID(); got != 2 {
		t.Errorf("chained cell ThreadID() = %d, want 2", got)
	}
}

func TestEngine_RunCollectsMatureGeneration(t *testing.T) {
	t.Parallel()

	e, h := newTestEngine(t)

	p := newContext(h, 9)
	e.Root.Contexts[0] = p

	if err := e.Run(RegisterSnapshot{}); err != nil {
		t.Fatalf("first Run: %s", err)
	}

	e.Policy = Threshold{LowWaterWords: h.FirstGenerationFree() + 1, MaxWords: 1 << 20}

	newContext(h, 10) // first-generation filler, copied again on the second commit

	if err := e.Run(RegisterSnapshot{}); err != nil {
		t.Fatalf("second Run: %s", err)
	}

	got := cell.ContextView(h.Cell(e.Root.Contexts[0]))
	if got.ThreadID() != 9 {
		t.Errorf("ThreadID() after mature collection = %d, want 9", got.ThreadID())
	}
}

func TestEngine_RunRecordsSuspendedRegisters(t *testing.T) {
	t.Parallel()

	e, h := newTestEngine(t)

	cont := newContext(h, 3)
	snap := RegisterSnapshot{
		Cont:     cont,
		Accu:     word.NewFixnum(42),
		AccuType: cell.WORD,
		ThreadID: 3,
		Priority: root.Priority(1),
	}

	if err := e.Run(snap); err != nil {
		t.Fatalf("Run: %s", err)
	}

	if e.Root.SuspendedThreadID != 3 {
		t.Errorf("SuspendedThreadID = %d, want 3", e.Root.SuspendedThreadID)
	}

	if e.Root.SuspendedCont.IsNull() {
		t.Errorf("SuspendedCont was not forwarded")
	}
}
