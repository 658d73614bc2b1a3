package recovery

import (
	"path/filepath"
	"testing"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/commit"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/root"
)

func TestRecover_NoBackingFileData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := heap.Config{HeapSize: 64 * 1024, PageSize: 4096, BackingFile: filepath.Join(dir, "heap.img")}

	_, err := Recover(cfg)
	if err != ErrNoRootBlock {
		t.Errorf("Recover() err = %v, want ErrNoRootBlock", err)
	}
}

func TestRecover_RoundTripAfterCommit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := heap.Config{HeapSize: 256 * 1024, PageSize: 4096, BackingFile: filepath.Join(dir, "heap.img")}

	h, err := heap.New(cfg)
	if err != nil {
		t.Fatalf("heap.New: %s", err)
	}

	r := &root.Block{}
	sp := root.NewSmartPtrs()
	e := commit.NewEngine(h, r, sp, nil)

	p := h.Allocate(cell.ContextFixedWords, cell.ContextTag)
	view := cell.ContextView(h.Cell(p))
	view.SetThreadID(11)
	view.SetPriority(2)
	r.Contexts[0] = p

	if err := e.Run(commit.RegisterSnapshot{ThreadID: 11, Priority: root.Priority(2)}); err != nil {
		t.Fatalf("Run: %s", err)
	}

	committedPtr := r.Contexts[0]

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	res, err := Recover(cfg)
	if err != nil {
		t.Fatalf("Recover: %s", err)
	}
	defer res.Heap.Close()

	if res.Root.Contexts[0] != committedPtr {
		t.Errorf("recovered root Contexts[0] = %s, want %s", res.Root.Contexts[0], committedPtr)
	}

	got := cell.ContextView(res.Heap.Cell(res.Root.Contexts[0]))
	if got.ThreadID() != 11 {
		t.Errorf("recovered ThreadID() = %d, want 11", got.ThreadID())
	}

	if res.Heap.IsInFirstGeneration(res.Root.Contexts[0]) {
		t.Errorf("recovered context should live in a mature generation")
	}

	if res.Heap.AllocationPoint() != heap.Ptr(res.Heap.FirstGenerationTop()) {
		t.Errorf("first generation did not recover empty: allocation point=%d, top=%d",
			res.Heap.AllocationPoint(), res.Heap.FirstGenerationTop())
	}

	if got := res.Root.SuspendedThreadID; got != 11 {
		t.Errorf("SuspendedThreadID = %d, want 11", got)
	}
}

func TestRecover_PicksNewerRootPage(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := heap.Config{HeapSize: 256 * 1024, PageSize: 4096, BackingFile: filepath.Join(dir, "heap.img")}

	h, err := heap.New(cfg)
	if err != nil {
		t.Fatalf("heap.New: %s", err)
	}

	r := &root.Block{}
	sp := root.NewSmartPtrs()
	e := commit.NewEngine(h, r, sp, nil)

	first := h.Allocate(cell.ContextFixedWords, cell.ContextTag)
	cell.ContextView(h.Cell(first)).SetThreadID(1)
	r.Contexts[0] = first

	if err := e.Run(commit.RegisterSnapshot{}); err != nil {
		t.Fatalf("first Run: %s", err)
	}

	second := h.Allocate(cell.ContextFixedWords, cell.ContextTag)
	cell.ContextView(h.Cell(second)).SetThreadID(2)
	r.Contexts[0] = second

	if err := e.Run(commit.RegisterSnapshot{}); err != nil {
		t.Fatalf("second Run: %s", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	res, err := Recover(cfg)
	if err != nil {
		t.Fatalf("Recover: %s", err)
	}
	defer res.Heap.Close()

	got := cell.ContextView(res.Heap.Cell(res.Root.Contexts[0]))
	if got.ThreadID() != 2 {
		t.Errorf("recovered ThreadID() = %d, want 2 (the later commit)", got.ThreadID())
	}
}
