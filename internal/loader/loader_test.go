package loader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/shtring"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/vm"
	"github.com/GunterMueller/shades/internal/word"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()

	h, err := heap.New(heap.Config{HeapSize: 64 * 1024, PageSize: 4096})
	require.NoError(t, err)

	return h
}

// doubleSpec is "double(n) = n + n": one argument, no calls, pushed then added.
func doubleSpec() Spec {
	return Spec{
		Name:          "double",
		AccuType:      cell.TAGGED,
		IsEntryPoint:  true,
		EntryDepth:    1,
		MaxStackDepth: 1,
		StackTypes:    []word.Word{word.Word(cell.TAGGED)},
		Instrs: []word.Word{
			word.Word(vm.OpLoadLocal), 0,
			word.Word(vm.OpAdd),
			word.Word(vm.OpReturn),
		},
	}
}

func TestLoad_InstallsBcodeAndGlobal(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	id, bcodePtr, err := l.Load(doubleSpec())
	require.NoError(t, err)
	require.NotZero(t, id)

	bcode := cell.BcodeView(h.Cell(bcodePtr))
	require.Equal(t, 4, bcode.CodeLength())
	require.EqualValues(t, 1, bcode.EntryDepth())

	protoTagged, ok := trie.Find(h, r.Globals, id)
	require.True(t, ok)
	require.Equal(t, bcodePtr, cell.ContView(h.Cell(protoTagged.Pointer())).Bcode())

	name, ok := shtring.LookupByID(h, r.InternedShtrings, id)
	require.True(t, ok)
	require.Equal(t, "double", shtring.String(h, name))
}

func TestLoad_NonEntryPointInstallsNoGlobal(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	spec := doubleSpec()
	spec.IsEntryPoint = false

	id, _, err := l.Load(spec)
	require.NoError(t, err)

	_, ok := trie.Find(h, r.Globals, id)
	require.False(t, ok)
}

func TestLoad_DistinctNamesGetDistinctIDs(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	id1, _, err := l.Load(doubleSpec())
	require.NoError(t, err)

	spec2 := doubleSpec()
	spec2.Name = "triple"
	id2, _, err := l.Load(spec2)
	require.NoError(t, err)

	require.NotEqual(t, id1, id2)
}

func TestLoad_RejectsOversizedEntryPointCont(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	spec := doubleSpec()
	spec.MaxStackDepth = MaxContWords // + ContFixedWords would overflow MaxContWords
	spec.StackTypes = make([]word.Word, spec.MaxStackDepth)

	_, _, err := l.Load(spec)
	require.ErrorIs(t, err, ErrContTooLarge)
}

func TestLoad_RejectsMismatchedStackTypeVector(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	spec := doubleSpec()
	spec.StackTypes = nil

	_, _, err := l.Load(spec)
	require.Error(t, err)
}

func TestLoad_ResolvesStringRef(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	spec := Spec{
		Name:          "greet",
		AccuType:      cell.TAGGED,
		EntryDepth:    0,
		MaxStackDepth: 0,
		StackTypes:    []word.Word{},
		Instrs: []word.Word{
			word.Word(vm.OpPushLiteral), 0, // patched by StringRefs
			word.Word(vm.OpReturn),
		},
		StringRefs: []StringRef{{Index: 1, Bytes: []byte("hello")}},
	}

	_, bcodePtr, err := l.Load(spec)
	require.NoError(t, err)

	bcode := cell.BcodeView(h.Cell(bcodePtr))
	literal := word.Tagged(bcode.Instructions()[1])
	require.Equal(t, word.TagPointer, literal.Tag())
	require.Equal(t, "hello", shtring.String(h, literal.Pointer()))
}

// TestLoad_SpecializesKnownCallee loads "double" first, then a caller that calls it by name; the
// caller's call site should come back arity-specialized immediately since double is already known,
// leaving nothing pending.
func TestLoad_SpecializesKnownCallee(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	doubleID, _, err := l.Load(doubleSpec())
	require.NoError(t, err)

	callerSpec := Spec{
		Name:          "caller",
		AccuType:      cell.TAGGED,
		EntryDepth:    0,
		MaxStackDepth: 1,
		StackTypes:    []word.Word{word.Word(cell.TAGGED)},
		Instrs: []word.Word{
			word.Word(vm.OpCall), word.Word(doubleID), word.Word(doubleID),
			word.Word(vm.OpReturn),
		},
	}

	_, callerPtr, err := l.Load(callerSpec)
	require.NoError(t, err)
	require.Zero(t, l.PendingCount())

	bcode := cell.BcodeView(h.Cell(callerPtr))
	instrs := bcode.Instructions()
	require.Equal(t, vm.CallArityOpcode(vm.OpCall, 1), vm.Opcode(instrs[0]))
}

// TestLoad_PendingResolvesAfterCalleeLoads loads a caller referencing a callee id before that
// callee is loaded, confirming the call site is left generic and queued, then resolves once the
// callee loads and ResolvePending runs (the per-commit retry spec.md §4.G describes).
func TestLoad_PendingResolvesAfterCalleeLoads(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	// Reserve an id for "double" before it is loaded, the way a mutually-recursive pair of
	// routines would reference each other by a name agreed on ahead of time.
	newShtringRoot, forwardID, _, _ := shtring.Intern(h, r.InternedShtrings, []byte("double"))
	r.InternedShtrings = newShtringRoot

	callerSpec := Spec{
		Name:          "caller",
		AccuType:      cell.TAGGED,
		EntryDepth:    0,
		MaxStackDepth: 1,
		StackTypes:    []word.Word{word.Word(cell.TAGGED)},
		Instrs: []word.Word{
			word.Word(vm.OpCall), word.Word(forwardID), word.Word(forwardID),
			word.Word(vm.OpReturn),
		},
	}

	_, callerPtr, err := l.Load(callerSpec)
	require.NoError(t, err)
	require.Equal(t, 1, l.PendingCount())

	bcode := cell.BcodeView(h.Cell(callerPtr))
	require.Equal(t, vm.OpCall, vm.Opcode(bcode.Instructions()[0]))

	spec := doubleSpec()
	spec.Name = "double"
	doubleID, _, err := l.Load(spec)
	require.NoError(t, err)
	require.Equal(t, forwardID, doubleID)

	l.ResolvePending()
	require.Zero(t, l.PendingCount())

	bcode = cell.BcodeView(h.Cell(callerPtr))
	require.Equal(t, vm.CallArityOpcode(vm.OpCall, 1), vm.Opcode(bcode.Instructions()[0]))
}

func TestLoad_ComputesMaxAllocFromKnownCallee(t *testing.T) {
	t.Parallel()

	h := newTestHeap(t)
	r := &root.Block{}
	l := New(h, r)

	_, doubleBcodePtr, err := l.Load(doubleSpec())
	require.NoError(t, err)

	doubleContSize := cell.BcodeView(h.Cell(doubleBcodePtr)).ContSize()

	// Re-interning "double" returns its existing id rather than minting a new one.
	nameRoot, id, _, _ := shtring.Intern(h, r.InternedShtrings, []byte("double"))
	r.InternedShtrings = nameRoot

	callerSpec := Spec{
		Name:          "caller",
		AccuType:      cell.TAGGED,
		EntryDepth:    0,
		MaxStackDepth: 0,
		StackTypes:    []word.Word{},
		Instrs: []word.Word{
			word.Word(vm.OpCall), word.Word(id), word.Word(id),
			word.Word(vm.OpReturn),
		},
	}

	_, callerPtr, err := l.Load(callerSpec)
	require.NoError(t, err)

	callerBcode := cell.BcodeView(h.Cell(callerPtr))
	require.Equal(t, doubleContSize, callerBcode.MaxAlloc())
}
