// Package loader implements the bytecode loader: spec.md §4.G's entry point for turning an
// assembled routine into a bcode cell reachable from the root block.
//
// Grounded on the teacher's internal/vm/loader.go error-wrapping idiom ("load this structured
// image into memory, failing loudly and specifically"), moved to its own package once building the
// call convention out in internal/vm made clear that loading bcodes is a distinct concern from
// interpreting them (see DESIGN.md).
package loader

import (
	"errors"
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/shtring"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

// MaxContWords is the largest a continuation cell is ever allowed to be, per spec.md §4.G. An
// entry point whose declared stack depth would push its prototype cont past this bound is
// rejected at load time rather than at the first call that tries to allocate one.
const MaxContWords = 254

var (
	// ErrContTooLarge means an entry point's prototype cont (3 fixed words plus its declared max
	// stack depth) would exceed MaxContWords.
	ErrContTooLarge = errors.New("loader: entry point cont exceeds maximum size")

	errStringRef = errors.New("loader: string reference out of bounds")
	errBadSpec   = errors.New("loader: malformed bcode spec")
)

// StringRef names a byte string to intern and splice into the instruction stream at Index, so an
// assembler can hand the loader a literal without interning it itself.
type StringRef struct {
	Index int
	Bytes []byte
}

// Spec describes one routine to load: everything spec.md §4.G says the loader accepts. Instrs is
// the raw instruction word stream exactly as it will run, except for any StringRefs (resolved in
// place during Load) and any unspecialized call/tail-call opcodes (specialized in place where
// possible).
type Spec struct {
	Name          string
	AccuType      cell.SlotKind
	Reusable      bool
	IsEntryPoint  bool
	EntryDepth    int
	MaxStackDepth int
	Instrs        []word.Word
	StackTypes    []word.Word // length must equal MaxStackDepth
	StringRefs    []StringRef
}

// pending records one not-yet-specialized call site so it can be retried once its callee is
// loaded, mirroring the teacher's asm.SymbolTable idiom of carrying forward-referenced symbols as
// an explicit worklist rather than failing the assembly outright.
type pending struct {
	bcode      word.Pointer
	instrIndex int
	global     word.Word
	tail       bool
	fused      bool
}

// Loader loads routines into a heap's bcode and global tries. It keeps its own worklist of call
// sites left unresolved because their callee was not yet loaded; ResolvePending retries them, and
// is meant to be called once per commit (spec.md §4.G: "resolution is attempted again for every
// pending bcode at every commit").
type Loader struct {
	Heap *heap.Heap
	Root *root.Block

	log     *log.Logger
	pending []pending
}

// New constructs a Loader over h and r.
func New(h *heap.Heap, r *root.Block) *Loader {
	return &Loader{
		Heap: h,
		Root: r,
		log:  log.DefaultLogger(),
	}
}

// Load installs spec as a bcode cell, interning its name and registering it under that id in the
// bcodes trie. If spec.IsEntryPoint, a zero-argument prototype continuation is also installed
// under the same id in the globals trie, so OpCall/OpSpawn can find it.
func (l *Loader) Load(spec Spec) (id word.Word, bcodePtr word.Pointer, err error) {
	if len(spec.StackTypes) != spec.MaxStackDepth {
		return 0, word.Null, fmt.Errorf("%w: %d stack types for max depth %d", errBadSpec, len(spec.StackTypes), spec.MaxStackDepth)
	}

	contSize := cell.ContFixedWords + spec.MaxStackDepth
	if spec.IsEntryPoint && contSize > MaxContWords {
		return 0, word.Null, fmt.Errorf("%w: %q needs %d words", ErrContTooLarge, spec.Name, contSize)
	}

	nameRoot, id, _, _ := shtring.Intern(l.Heap, l.Root.InternedShtrings, []byte(spec.Name))
	l.Root.InternedShtrings = nameRoot

	instrs := append([]word.Word(nil), spec.Instrs...)

	if err := l.resolveStringRefs(instrs, spec.StringRefs); err != nil {
		return 0, word.Null, err
	}

	maxAlloc := l.computeMaxAlloc(instrs, contSize)

	n := cell.BcodeWords(len(instrs), contSize)
	bcodePtr = l.Heap.Allocate(n, cell.BcodeTag)
	cell.NewBcodeCell(l.Heap.RawCellAt(bcodePtr, n), word.Word(spec.AccuType), spec.EntryDepth, maxAlloc, contSize, spec.Reusable, instrs, spec.StackTypes)

	l.resolveCalls(bcodePtr)

	l.Root.Bcodes = trie.Insert(l.Heap, l.Root.Bcodes, id, word.NewPointer(bcodePtr))

	if spec.IsEntryPoint {
		protoPtr := l.Heap.Allocate(contSize, cell.ContTag)
		cell.NewProtoCont(l.Heap.RawCellAt(protoPtr, contSize), bcodePtr)
		l.Root.Globals = trie.Insert(l.Heap, l.Root.Globals, id, word.NewPointer(protoPtr))
	}

	l.log.Info("load", "name", spec.Name, "id", id, "entry-point", spec.IsEntryPoint, "words", n)

	return id, bcodePtr, nil
}

// resolveStringRefs interns each referenced string and splices the resulting shtring pointer into
// the instruction stream in place of the raw bytes an assembler could not intern itself (it has no
// heap handle).
func (l *Loader) resolveStringRefs(instrs []word.Word, refs []StringRef) error {
	for _, ref := range refs {
		if ref.Index < 0 || ref.Index >= len(instrs) {
			return fmt.Errorf("%w: index %d (%d instructions)", errStringRef, ref.Index, len(instrs))
		}

		newRoot, _, ptr, _ := shtring.Intern(l.Heap, l.Root.InternedShtrings, ref.Bytes)
		l.Root.InternedShtrings = newRoot
		instrs[ref.Index] = word.Word(word.NewPointer(ptr))
	}

	return nil
}

// resolveCalls walks bcodePtr's instruction stream once, specializing every generic call/tail-call
// site whose callee is already loaded to a fixed-arity opcode (vm.CallArityOpcode), per spec.md
// §4.G. A site whose callee is not yet loaded is left generic and recorded in l.pending for
// ResolvePending to retry later.
func (l *Loader) resolveCalls(bcodePtr word.Pointer) {
	bcode := cell.BcodeView(l.Heap.Cell(bcodePtr))
	instrs := bcode.Instructions()

	for i := 0; i < len(instrs); {
		op := vm.Opcode(instrs[i])
		width, isCall := instrWidth(op)

		if !isCall {
			i += width
			continue
		}

		if callArity(op) >= 0 {
			// already specialized by whoever assembled this stream; nothing to resolve.
			i += width
			continue
		}

		globalID := instrs[i+1]
		base, fused, tail := callFamily(op)

		if !l.specializeCall(instrs, i, base, fused, globalID) {
			l.pending = append(l.pending, pending{bcode: bcodePtr, instrIndex: i, global: globalID, tail: tail, fused: fused})
		}

		i += width
	}
}

// specializeCall rewrites the opcode at instrs[at] to its fixed-arity form if globalID already
// names a loaded prototype continuation, reporting whether it did.
func (l *Loader) specializeCall(instrs []word.Word, at int, base vm.Opcode, fused bool, globalID word.Word) bool {
	protoTagged, ok := trie.Find(l.Heap, l.Root.Globals, globalID)
	if !ok || protoTagged.Tag() != word.TagPointer {
		return false
	}

	proto := cell.ContView(l.Heap.Cell(protoTagged.Pointer()))
	calleeBcode := cell.BcodeView(l.Heap.Cell(proto.Bcode()))

	arity := int(calleeBcode.EntryDepth())

	specialized := vm.CallArityOpcode(base, arity)
	if fused {
		specialized = specialized.Fused()
	}

	instrs[at] = word.Word(specialized)

	return true
}

// ResolvePending retries every call site left generic by a prior Load because its callee was not
// yet loaded; a site resolved this time is dropped from the worklist. Meant to run once per commit
// (spec.md §4.G).
func (l *Loader) ResolvePending() {
	remaining := l.pending[:0]

	for _, p := range l.pending {
		bcode := cell.BcodeView(l.Heap.Cell(p.bcode))
		instrs := bcode.Instructions()

		base := vm.OpCall
		if p.tail {
			base = vm.OpTailCall
		}

		if !l.specializeCall(instrs, p.instrIndex, base, p.fused, p.global) {
			remaining = append(remaining, p)
		}
	}

	l.pending = remaining
}

// PendingCount reports how many call sites are still waiting for their callee to load, mostly
// useful for tests and diagnostics.
func (l *Loader) PendingCount() int { return len(l.pending) }

// computeMaxAlloc reports the most words any single call site in instrs could need to allocate: a
// callee cont sized by its own ContSize() where the callee is already known, or ownContSize
// (the caller's own size, a safe if pessimistic stand-in) where it is not. ResolvePending does not
// revise this figure after the fact: raising a MaxAlloc already baked into an immutable bcode cell
// would mean rewriting its metadata word, not just its instruction stream, which Load never does
// once a cell is installed.
func (l *Loader) computeMaxAlloc(instrs []word.Word, ownContSize int) int {
	maxAlloc := 0

	for i := 0; i < len(instrs); {
		op := vm.Opcode(instrs[i])
		width, isCall := instrWidth(op)

		if !isCall {
			i += width
			continue
		}

		need := ownContSize

		if protoTagged, ok := trie.Find(l.Heap, l.Root.Globals, instrs[i+1]); ok && protoTagged.Tag() == word.TagPointer {
			proto := cell.ContView(l.Heap.Cell(protoTagged.Pointer()))
			callee := cell.BcodeView(l.Heap.Cell(proto.Bcode()))
			need = callee.ContSize()
		}

		if need > maxAlloc {
			maxAlloc = need
		}

		i += width
	}

	return maxAlloc
}

// callArity mirrors internal/vm's callArity enough to tell an already-specialized call opcode from
// a generic one; -1 means generic (unresolved arity).
func callArity(op vm.Opcode) int {
	switch unfuseLoader(op) {
	case vm.OpCall, vm.OpTailCall:
		return -1
	case vm.OpCallArity01, vm.OpTailCallArity01:
		return 1
	case vm.OpCallArity2, vm.OpTailCallArity2:
		return 2
	case vm.OpCallArity3, vm.OpTailCallArity3:
		return 3
	case vm.OpCallArity4, vm.OpTailCallArity4:
		return 4
	default:
		return -1
	}
}

// callFamily reports the generic base opcode (OpCall or OpTailCall) and fused-ness of a call-site
// opcode, for handing to vm.CallArityOpcode.
func callFamily(op vm.Opcode) (base vm.Opcode, fused, tail bool) {
	plain := unfuseLoader(op)
	fused = plain != op

	if plain == vm.OpTailCall {
		return vm.OpTailCall, fused, true
	}

	return vm.OpCall, fused, false
}

// instrWidth reports how many words op and its operands occupy in an instruction stream, and
// whether op is a call-family opcode (generic or already arity-specialized; resolveCalls only acts
// on the generic forms, but computeMaxAlloc's scan needs to skip every call variant alike). Must be
// kept in lock-step with internal/vm/ops.go's decode — see DESIGN.md Open Question 3.
func instrWidth(op vm.Opcode) (width int, isCall bool) {
	switch unfuseLoader(op) {
	case vm.OpHalt, vm.OpDie, vm.OpPop, vm.OpReturn,
		vm.OpAdd, vm.OpSub, vm.OpCmpEq, vm.OpCmpLt, vm.OpBind,
		vm.OpNetListen, vm.OpNetAccept, vm.OpNetReadChar, vm.OpNetWrite, vm.OpNetClose:
		return 1, false
	case vm.OpPushLiteral, vm.OpLoadLocal, vm.OpStoreLocal,
		vm.OpBranchIfFalse, vm.OpBranch, vm.OpGetGlobal, vm.OpSetGlobal, vm.OpSpawn:
		return 2, false
	case vm.OpCall, vm.OpCallArity01, vm.OpCallArity2, vm.OpCallArity3, vm.OpCallArity4,
		vm.OpTailCall, vm.OpTailCallArity01, vm.OpTailCallArity2, vm.OpTailCallArity3, vm.OpTailCallArity4:
		return 3, true
	default:
		return 1, false
	}
}

func unfuseLoader(op vm.Opcode) vm.Opcode {
	if op.IsFused() {
		return op - 1
	}

	return op
}
