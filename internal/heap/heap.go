// Package heap implements the tagged-cell heap: a bump-allocated first generation plus zero or
// more paged mature generations, all carved out of one contiguous backing array that is,
// optionally, an mmap'd file.
//
// No operation in this package runs concurrently with another; the database has a single OS
// thread driving the heap, and the commit engine runs only between instruction boundaries (see
// internal/commit). Heap is therefore free to mutate its bump pointer and generation list without
// any locking.
package heap

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/word"
)

// Default sizing, in bytes, used when a Config leaves a field zero.
const (
	DefaultHeapSize = 32 << 20 // 32 MiB
	DefaultPageSize = 4096

	wordSize = 4

	// NumRootPages is the number of reserved pages at the front of the heap that carry root
	// block images. Two alternating pages let recovery pick whichever was written most recently
	// without ever reading a page that a crash could have torn (see internal/root, internal/commit).
	NumRootPages = 2
)

var (
	// ErrOutOfMemory names the out-of-memory condition; no function in this repository returns
	// it. Allocate itself never returns an error: its precondition is that CanAllocate
	// just answered true for this very request (see spec.md §4.B), and callers that violate that
	// precondition have a bug, not a recoverable runtime condition.
	ErrOutOfMemory = errors.New("heap: out of memory")

	// ErrBackingFile wraps failures opening, mapping, or syncing a disk-backed heap.
	ErrBackingFile = errors.New("heap: backing file")

	errConfig = errors.New("heap: config")
)

// Config parameterizes a Heap.
type Config struct {
	// HeapSize is the total size, in bytes, of the heap region: root pages, the mature-generation
	// space, and the first generation all share this one budget.
	HeapSize int

	// PageSize is the granularity, in bytes, at which mature generations are organized and
	// written to the backing file.
	PageSize int

	// BackingFile, when non-empty, names a file the heap mmaps and periodically msyncs. When
	// empty the heap runs purely in Go-heap memory.
	BackingFile string
}

func (c Config) withDefaults() Config {
	if c.HeapSize <= 0 {
		c.HeapSize = DefaultHeapSize
	}

	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}

	return c
}

func (c Config) validate() error {
	if c.PageSize%wordSize != 0 {
		return fmt.Errorf("%w: page size %d is not word-aligned", errConfig, c.PageSize)
	}

	if c.HeapSize < (NumRootPages+2)*c.PageSize {
		return fmt.Errorf("%w: heap size %d too small for %d page(s) plus at least one generation", errConfig, c.HeapSize, NumRootPages)
	}

	return nil
}

// Page is one page's worth of words belonging to a mature generation: a real sub-slice of the
// heap's backing array, so that writes through it are writes to the mapped file (when one is
// configured) with no intervening copy.
type Page struct {
	// Base is this page's starting word offset in the heap.
	Base word.Pointer

	Words []word.Word

	// Dirty marks a page touched during the commit currently in progress; the commit engine's
	// write-dirty-pages step sets it before flushing. Disk persistence itself is a single
	// whole-heap msync (see Heap.Sync): page-level dirty tracking here is bookkeeping and
	// diagnostic, not a separate per-page I/O path.
	Dirty bool

	// DiskPage is this page's position in the backing file's page array.
	DiskPage int
}

// Generation is the heap package's in-memory bookkeeping for one mature generation: the page set
// that survived copying, plus the fields persisted by a generation_pinfo cell (see
// internal/cell.GenInfoDescriptor). The commit and recovery engines translate between this struct
// and its on-heap cell representation; Heap itself only manages the page storage.
type Generation struct {
	Ordinal   int
	LiveRefIn int
	Prev      *Generation
	Pages     []Page

	// Free is the bump offset, in words, of the next free slot in the generation's current
	// (last) page; generations grow by appending pages, never by bump-allocating across a page
	// boundary, since no cell may be as large as a page.
	Free int
}

// Ptr is an allocation point captured by AllocationPoint and consumed by Restore.
type Ptr word.Pointer

// Heap is the tagged-cell heap.
type Heap struct {
	cfg Config

	cells []word.Word

	firstGenTop  word.Pointer // fixed: len(cells)
	firstGenFree word.Pointer // bump pointer, decrements toward matureTop

	Mature []*Generation

	// matureTop is the next unused word offset in the mature-generation region, which grows
	// upward from just past the root pages toward the first generation.
	matureTop word.Pointer

	pageWords int

	mapping []byte
	file    *os.File

	log *log.Logger
}

// New creates a Heap, pre-allocating its backing array once at process start and, if
// Config.BackingFile is set, mapping the backing file over it.
func New(cfg Config) (*Heap, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	h := &Heap{
		cfg:       cfg,
		pageWords: cfg.PageSize / wordSize,
		log:       log.DefaultLogger(),
	}

	totalWords := cfg.HeapSize / wordSize

	if cfg.BackingFile != "" {
		if err := h.mapFile(cfg.BackingFile, cfg.HeapSize); err != nil {
			return nil, err
		}
	} else {
		h.cells = make([]word.Word, totalWords)
	}

	h.firstGenTop = word.Pointer(len(h.cells))
	h.firstGenFree = h.firstGenTop
	h.matureTop = word.Pointer(NumRootPages * h.pageWords)

	return h, nil
}

// mapFile opens (creating if necessary) and mmaps size bytes of path, overlaying Heap.cells on
// top of the mapping so that writes to the heap are writes to the file.
func (h *Heap) mapFile(path string, size int) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrBackingFile, path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return fmt.Errorf("%w: truncate %s: %w", ErrBackingFile, path, err)
	}

	mapping, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return fmt.Errorf("%w: mmap %s: %w", ErrBackingFile, path, err)
	}

	h.file = f
	h.mapping = mapping
	h.cells = bytesToWords(mapping)

	return nil
}

// Sync flushes the heap's mapped pages to the backing file. It is a no-op for an in-memory heap.
func (h *Heap) Sync() error {
	if h.mapping == nil {
		return nil
	}

	if err := unix.Msync(h.mapping, unix.MS_SYNC); err != nil {
		return fmt.Errorf("%w: msync: %w", ErrBackingFile, err)
	}

	return nil
}

// Close unmaps and closes the backing file, if any. It is a no-op for an in-memory heap.
func (h *Heap) Close() error {
	if h.mapping == nil {
		return nil
	}

	if err := unix.Munmap(h.mapping); err != nil {
		return fmt.Errorf("%w: munmap: %w", ErrBackingFile, err)
	}

	h.mapping = nil
	h.cells = nil

	return h.file.Close()
}

// WordsPerPage reports how many words fit in one page at the heap's configured page size.
func (h *Heap) WordsPerPage() int { return h.pageWords }

// RootPage returns the reserved root page at the given slot (0 or 1), for the commit and
// recovery engines to encode/decode a root.Block image into.
func (h *Heap) RootPage(slot int) []word.Word {
	if slot < 0 || slot >= NumRootPages {
		panic(fmt.Sprintf("heap: invalid root page slot %d", slot))
	}

	return h.cells[slot*h.pageWords : (slot+1)*h.pageWords]
}

// CanAllocate reports whether n more words fit in the first generation's current bump budget,
// without colliding with the mature-generation region. It is pure and side-effect-free.
func (h *Heap) CanAllocate(n int) bool {
	return h.firstGenFree-word.Pointer(n) >= h.matureTop
}

// Allocate decrements the bump pointer by n words, stamps tag into the new cell's header, and
// returns the cell's pointer. Its precondition is that CanAllocate(n) has just returned true for
// this very request; Allocate panics if that precondition was violated, mirroring the source's
// abort-on-violation discipline (see spec.md §4.B).
func (h *Heap) Allocate(n int, tag cell.Tag) word.Pointer {
	p := h.RawAllocate(n)
	h.cells[p] = cell.NewHeader(tag, 0)

	return word.Pointer(p)
}

// RawAllocate is Allocate without stamping a header, for callers that are about to overwrite the
// entire cell from another cell (e.g. the commit engine's copying pass).
func (h *Heap) RawAllocate(n int) word.Pointer {
	if !h.CanAllocate(n) {
		panic(fmt.Sprintf("heap: RawAllocate(%d) violates a prior CanAllocate precondition", n))
	}

	h.firstGenFree -= word.Pointer(n)

	return h.firstGenFree
}

// AllocationPoint captures the current bump pointer so that speculative first-generation
// allocation can later be discarded with Restore. No commit may occur between a capture and its
// matching Restore.
func (h *Heap) AllocationPoint() Ptr {
	return Ptr(h.firstGenFree)
}

// Restore resets the bump pointer to a previously captured allocation point, discarding every
// cell allocated since.
func (h *Heap) Restore(p Ptr) {
	h.firstGenFree = word.Pointer(p)
}

// ResetFirstGeneration resets the bump pointer to the top of the heap, discarding every
// first-generation cell. The commit engine calls this once every survivor has been copied
// elsewhere.
func (h *Heap) ResetFirstGeneration() {
	h.firstGenFree = h.firstGenTop
}

// IsInFirstGeneration reports whether p addresses a cell in the first generation.
func (h *Heap) IsInFirstGeneration(p word.Pointer) bool {
	return p >= h.firstGenFree && p < h.firstGenTop
}

// FirstGenerationFree reports how many words remain in the first generation's bump budget.
func (h *Heap) FirstGenerationFree() int {
	return int(h.firstGenFree - h.matureTop)
}

// FirstGenerationTop exposes the fixed top of the first generation's address range.
func (h *Heap) FirstGenerationTop() word.Pointer { return h.firstGenTop }

// Peek returns the leading words of the cell at p, bounded by n, for callers (principally the tag
// registry's SizeOf) that need to see a cell's header and possibly a few metadata words before
// knowing its full size.
func (h *Heap) Peek(p word.Pointer, n int) []word.Word {
	return h.cells[p : int(p)+n]
}

// Cell returns the full word slice of the cell at p, computing its length via the tag registry.
func (h *Heap) Cell(p word.Pointer) []word.Word {
	n := cell.PeekWords(h.cells[p])
	size := cell.SizeOf(h.cells[p : int(p)+n])

	return h.cells[p : int(p)+size]
}

// RawCellAt returns a mutable slice of exactly n words starting at p without consulting the
// registry. It exists for the commit engine, which must write a freshly allocated destination
// cell's words before that cell has a valid header for Cell to parse.
func (h *Heap) RawCellAt(p word.Pointer, n int) []word.Word {
	return h.cells[p : int(p)+n]
}

// Word reads a single word at a raw heap offset.
func (h *Heap) Word(p word.Pointer) word.Word { return h.cells[p] }

// SetWord writes a single word at a raw heap offset.
func (h *Heap) SetWord(p word.Pointer, w word.Word) { h.cells[p] = w }

// NewGeneration creates a fresh, empty mature generation and returns it. The commit engine calls
// this once per commit, for the survivors of that commit's copying pass, and again whenever
// mature-generation collection runs.
func (h *Heap) NewGeneration(prev *Generation) *Generation {
	g := &Generation{
		Ordinal: len(h.Mature),
		Prev:    prev,
	}

	h.Mature = append(h.Mature, g)

	return g
}

// AllocateInGeneration bump-allocates n words within g, appending a fresh page if the current
// page cannot hold the request. n must not exceed WordsPerPage(), per the registry's one-page
// cell size limit. It panics if doing so would collide with the first generation: the caller
// (the commit engine) is expected to have sized generations against the configured heap budget.
func (h *Heap) AllocateInGeneration(g *Generation, n int) word.Pointer {
	if n > h.pageWords {
		panic(fmt.Sprintf("heap: AllocateInGeneration(%d) exceeds the page size %d", n, h.pageWords))
	}

	if len(g.Pages) == 0 || g.Free+n > h.pageWords {
		if h.matureTop+word.Pointer(h.pageWords) > h.firstGenFree {
			panic("heap: mature-generation growth collided with the first generation")
		}

		base := h.matureTop
		g.Pages = append(g.Pages, Page{
			Base:     base,
			Words:    h.cells[base : base+word.Pointer(h.pageWords)],
			DiskPage: int(base) / h.pageWords,
		})
		h.matureTop += word.Pointer(h.pageWords)
		g.Free = 0
	}

	last := &g.Pages[len(g.Pages)-1]
	addr := last.Base + word.Pointer(g.Free)
	g.Free += n

	return addr
}

// WalkGeneration invokes visit once per cell in g, in page then address order.
func (h *Heap) WalkGeneration(g *Generation, visit func(p word.Pointer, words []word.Word)) {
	for i, pg := range g.Pages {
		limit := h.pageWords
		if i == len(g.Pages)-1 {
			limit = g.Free
		}

		off := 0
		for off < limit {
			p := pg.Base + word.Pointer(off)
			words := h.Cell(p)
			visit(p, words)
			off += len(words)
		}
	}
}

// PageAt builds a Page header for the page starting at base, for recovery reconstructing mature
// generations from the generation_pinfo chain.
func (h *Heap) PageAt(base word.Pointer) Page {
	return Page{
		Base:     base,
		Words:    h.cells[base : base+word.Pointer(h.pageWords)],
		DiskPage: int(base) / h.pageWords,
	}
}

// SetMature installs a reconstructed mature-generation list, for recovery, and advances the
// mature/first-generation boundary past the highest recovered page. The first generation always
// recovers empty: spec.md §4.E requires no first-generation survivor to be reachable after a
// crash, since anything not yet promoted to a mature generation was never durably committed.
func (h *Heap) SetMature(gens []*Generation, matureTop word.Pointer) {
	h.Mature = gens
	h.matureTop = matureTop
	h.firstGenFree = h.firstGenTop
}

// bytesToWords reinterprets an mmap'd byte slice as a word slice in place, so that writes through
// Heap.cells are writes to the mapping itself and Sync's msync sees them directly. The heap
// region is always mapped at a word-aligned size, so the reinterpretation is sound on every
// little-endian platform this database targets.
func bytesToWords(b []byte) []word.Word {
	return unsafe.Slice((*word.Word)(unsafe.Pointer(&b[0])), len(b)/wordSize)
}
