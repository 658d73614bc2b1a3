package heap

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/word"
)

func newTestHeap(tt *testing.T) *Heap {
	tt.Helper()

	h, err := New(Config{HeapSize: 64 * 1024, PageSize: 4096})
	if err != nil {
		tt.Fatalf("New: %s", err)
	}

	return h
}

func TestHeap_CanAllocate(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	free := h.FirstGenerationFree()

	if !h.CanAllocate(free) {
		t.Errorf("CanAllocate(%d) = false, want true", free)
	}

	if h.CanAllocate(free + 1) {
		t.Errorf("CanAllocate(%d) = true, want false", free+1)
	}
}

func TestHeap_Allocate(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)

	p := h.Allocate(cell.ContextFixedWords, cell.ContextTag)

	if !h.IsInFirstGeneration(p) {
		t.Errorf("allocated cell %s is not in the first generation", p)
	}

	header := h.Word(p)
	if tag := cell.HeaderTag(header); tag != cell.ContextTag {
		t.Errorf("HeaderTag() = %d, want %d", tag, cell.ContextTag)
	}

	got := h.Cell(p)
	if len(got) != cell.ContextFixedWords {
		t.Errorf("len(Cell()) = %d, want %d", len(got), cell.ContextFixedWords)
	}
}

func TestHeap_AllocatePanicsWithoutCanAllocate(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	free := h.FirstGenerationFree()

	defer func() {
		if recover() == nil {
			t.Errorf("RawAllocate(too big) did not panic")
		}
	}()

	h.RawAllocate(free + 1)
}

func TestHeap_AllocationPointRestore(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)

	ap := h.AllocationPoint()
	h.Allocate(cell.ContextFixedWords, cell.ContextTag)

	if word.Pointer(ap) == h.firstGenFree {
		t.Fatalf("setup: allocation did not move the bump pointer")
	}

	h.Restore(ap)

	if word.Pointer(ap) != h.firstGenFree {
		t.Errorf("Restore did not reset the bump pointer: got %s, want %s", h.firstGenFree, word.Pointer(ap))
	}
}

func TestHeap_BcodeVariableSize(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)

	codeLen := 3
	contSize := 5 // 2 stack slots beyond the minimum 3
	total := 7 + codeLen + (contSize - 3)

	p := h.Allocate(total, cell.BcodeTag)
	words := h.cells[p : int(p)+total]
	words[3] = word.Word(codeLen)
	words[6] = word.Word(contSize)

	got := h.Cell(p)
	if len(got) != total {
		t.Errorf("len(Cell()) = %d, want %d", len(got), total)
	}
}

func TestHeap_AllocateInGeneration(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	g := h.NewGeneration(nil)

	var ptrs []word.Pointer
	n := cell.ContextFixedWords

	for i := 0; i < h.WordsPerPage()/n+2; i++ {
		p := h.AllocateInGeneration(g, n)
		h.RawCellAt(p, n)[0] = cell.NewContextHeader()
		ptrs = append(ptrs, p)
	}

	if len(g.Pages) < 2 {
		t.Fatalf("expected AllocateInGeneration to span multiple pages, got %d", len(g.Pages))
	}

	seen := map[word.Pointer]bool{}
	h.WalkGeneration(g, func(p word.Pointer, words []word.Word) {
		seen[p] = true
		if len(words) != n {
			t.Errorf("WalkGeneration cell at %s has %d words, want %d", p, len(words), n)
		}
	})

	for _, p := range ptrs {
		if !seen[p] {
			t.Errorf("WalkGeneration did not visit allocated cell %s", p)
		}
	}
}

func TestHeap_BackingFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "heap.img")

	h, err := New(Config{HeapSize: 4096 * 4, PageSize: 4096, BackingFile: path})
	if err != nil {
		t.Fatalf("New: %s", err)
	}

	p := h.Allocate(cell.ContextFixedWords, cell.ContextTag)
	h.SetWord(p+1, word.Word(0xdeadbeef))

	if err := h.Sync(); err != nil {
		t.Fatalf("Sync: %s", err)
	}

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %s", err)
	}

	h2, err := New(Config{HeapSize: 4096 * 4, PageSize: 4096, BackingFile: path})
	if err != nil {
		t.Fatalf("reopen: %s", err)
	}
	defer h2.Close()

	if got := h2.Word(p + 1); got != word.Word(0xdeadbeef) {
		t.Errorf("Word(%s) after reopen = %s, want 0xdeadbeef", p+1, got)
	}
}

func TestConfig_validate(t *testing.T) {
	t.Parallel()

	_, err := New(Config{HeapSize: 100, PageSize: 4096})
	if !errors.Is(err, errConfig) {
		t.Errorf("New() err = %v, want wrapping errConfig", err)
	}
}
