// Package root implements the root block: the fixed, dedicated page of named slots from which
// every reachable cell in the heap is, transitively, reached. It also implements externally-rooted
// pointers ("smart pointers"), the host-language side of the root set.
package root

import (
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/word"
)

// Ptr is a root slot: either the null pointer or a heap pointer.
type Ptr = word.Pointer

// Priority is a runnable-thread priority. Contexts are queued in NumPriorities separate lists so
// the scheduler can always run the highest-priority runnable thread without scanning.
type Priority uint8

// NumPriorities is the number of distinct thread priorities the scheduler supports.
const NumPriorities = 4

func (p Priority) String() string {
	if int(p) >= NumPriorities {
		return fmt.Sprintf("Priority(%d)", uint8(p))
	}

	return [NumPriorities]string{"low", "normal", "high", "urgent"}[p]
}

// Block is the root block: a statically declared, numbered set of named slots, populated at
// create or recover time. It is a Go struct of named fields rather than a map so that the
// commit engine's "walk every root" pass is a handwritten field list instead of reflection,
// matching the tag registry's no-auxiliary-state discipline (see internal/cell).
type Block struct {
	// Timestamp is written by the commit engine on every commit of this root page; recovery
	// picks whichever of the two root pages has the higher timestamp and a valid Checksum.
	Timestamp uint64

	Bcodes           Ptr // trie of compiled routines, keyed by interned id
	Globals          Ptr // trie of global values, keyed by interned id
	InternedShtrings Ptr // root of the shtring interning structure

	Contexts [NumPriorities]Ptr // runnable-thread queues, indexed by priority

	BlockedThreads  Ptr // trie of suspended threads, keyed by thread id
	HighestThreadID word.Word

	// Generations points at the generation_pinfo cell of the newest mature generation; each
	// cell's PrevGeneration field chains back to the one before it. Recovery walks this chain to
	// rebuild the heap's mature-generation list; it is the only way that list survives a restart.
	Generations Ptr

	// Suspended* carry VM register state across a group commit, so that a commit which
	// interrupts a running sequence (a flush-and-retry, or process shutdown) can resume exactly
	// where it left off on recovery.
	SuspendedCont      Ptr
	SuspendedAccu      word.Tagged
	SuspendedAccuType  cell.SlotKind
	SuspendedThreadID  word.Word
	SuspendedPriority  Priority
}

// Word offsets of a Block's persisted fields within its page. Timestamp and Checksum occupy
// reserved header words so recovery can find them without decoding the rest of the page.
const (
	slotTimestampLow  = 0
	slotTimestampHigh = 1
	slotChecksum      = 2

	slotBcodes           = 3
	slotGlobals          = 4
	slotInternedShtrings = 5
	slotContextsBase     = 6
	slotBlockedThreads   = slotContextsBase + NumPriorities
	slotHighestThreadID  = slotBlockedThreads + 1
	slotGenerations      = slotHighestThreadID + 1
	slotSuspendedCont    = slotGenerations + 1
	slotSuspendedAccu    = slotSuspendedCont + 1
	slotSuspendedAccuType = slotSuspendedAccu + 1
	slotSuspendedThreadID = slotSuspendedAccuType + 1
	slotSuspendedPriority = slotSuspendedThreadID + 1

	// BlockWords is the number of leading words of the root page that Encode/Decode use. The
	// remainder of the page is reserved.
	BlockWords = slotSuspendedPriority + 1
)

var ErrChecksum = errors.New("root: checksum mismatch")

// Encode serializes b into the leading BlockWords of page, computing and writing its checksum.
// page must be at least BlockWords long.
func (b *Block) Encode(page []word.Word) {
	page[slotTimestampLow] = word.Word(b.Timestamp)
	page[slotTimestampHigh] = word.Word(b.Timestamp >> 32)

	page[slotBcodes] = word.Word(b.Bcodes)
	page[slotGlobals] = word.Word(b.Globals)
	page[slotInternedShtrings] = word.Word(b.InternedShtrings)

	for i, ctx := range b.Contexts {
		page[slotContextsBase+i] = word.Word(ctx)
	}

	page[slotBlockedThreads] = word.Word(b.BlockedThreads)
	page[slotHighestThreadID] = b.HighestThreadID
	page[slotGenerations] = word.Word(b.Generations)
	page[slotSuspendedCont] = word.Word(b.SuspendedCont)
	page[slotSuspendedAccu] = word.Word(b.SuspendedAccu)
	page[slotSuspendedAccuType] = word.Word(b.SuspendedAccuType)
	page[slotSuspendedThreadID] = b.SuspendedThreadID
	page[slotSuspendedPriority] = word.Word(b.SuspendedPriority)

	page[slotChecksum] = checksum(page)
}

// Decode reads a Block out of page, validating its checksum first. An invalid checksum means this
// root page was torn by a partial write and must be rejected in favor of the other root page.
func Decode(page []word.Word) (*Block, error) {
	if page[slotChecksum] != checksum(page) {
		return nil, ErrChecksum
	}

	b := &Block{
		Timestamp:        uint64(page[slotTimestampLow]) | uint64(page[slotTimestampHigh])<<32,
		Bcodes:           word.Pointer(page[slotBcodes]),
		Globals:          word.Pointer(page[slotGlobals]),
		InternedShtrings: word.Pointer(page[slotInternedShtrings]),
		BlockedThreads:   word.Pointer(page[slotBlockedThreads]),
		HighestThreadID:  page[slotHighestThreadID],
		Generations:      word.Pointer(page[slotGenerations]),

		SuspendedCont:     word.Pointer(page[slotSuspendedCont]),
		SuspendedAccu:     word.Tagged(page[slotSuspendedAccu]),
		SuspendedAccuType: cell.SlotKind(page[slotSuspendedAccuType]),
		SuspendedThreadID: page[slotSuspendedThreadID],
		SuspendedPriority: Priority(page[slotSuspendedPriority]),
	}

	for i := range b.Contexts {
		b.Contexts[i] = word.Pointer(page[slotContextsBase+i])
	}

	return b, nil
}

// checksum covers every persisted word of the page except the checksum slot itself.
func checksum(page []word.Word) word.Word {
	h := crc32.NewIEEE()

	for i, w := range page[:BlockWords] {
		if i == slotChecksum {
			continue
		}

		var buf [4]byte
		buf[0] = byte(w)
		buf[1] = byte(w >> 8)
		buf[2] = byte(w >> 16)
		buf[3] = byte(w >> 24)
		h.Write(buf[:])
	}

	return word.Word(h.Sum32())
}

// WalkPointers invokes visit once for every plain pointer-valued field of the block, for the
// commit engine's rooted copying pass.
func (b *Block) WalkPointers(visit func(p *Ptr)) {
	visit(&b.Bcodes)
	visit(&b.Globals)
	visit(&b.InternedShtrings)

	for i := range b.Contexts {
		visit(&b.Contexts[i])
	}

	visit(&b.BlockedThreads)
	visit(&b.Generations)
	visit(&b.SuspendedCont)
}

// WalkTagged invokes visit once for every tagged-value field of the block that may itself hold a
// pointer.
func (b *Block) WalkTagged(visit func(t *word.Tagged)) {
	visit(&b.SuspendedAccu)
}
