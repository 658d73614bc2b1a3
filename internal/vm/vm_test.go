package vm

import (
	"testing"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()

	h, err := heap.New(heap.Config{HeapSize: 64 * 1024, PageSize: 4096})
	if err != nil {
		t.Fatalf("heap.New: %s", err)
	}

	return h
}

// allocBcode lays out a bcode cell by hand, following the word layout documented on
// cell.BcodeView: header, accuType, entryDepth, codeLength, reusable, maxAlloc, contSize,
// instructions, stack-slot types.
func allocBcode(h *heap.Heap, instrs []word.Word, entryDepth, maxAlloc, contSize int, accuType word.Word) word.Pointer {
	stackWords := contSize - 3
	total := 7 + len(instrs) + stackWords

	p := h.Allocate(total, cell.BcodeTag)
	words := h.RawCellAt(p, total)

	words[0] = cell.NewBcodeHeader()
	words[1] = accuType
	words[2] = word.Word(entryDepth)
	words[3] = word.Word(len(instrs))
	words[4] = 0
	words[5] = word.Word(maxAlloc)
	words[6] = word.Word(contSize)

	copy(words[7:7+len(instrs)], instrs)

	for i := 7 + len(instrs); i < total; i++ {
		words[i] = word.Word(cell.TAGGED)
	}

	return p
}

// allocProtoCont lays out a prototype continuation sized by its bcode's own declared ContSize (as
// opCall.Execute does for every cont it allocates): boundArgs occupy stack slots 0..len-1, and the
// cont's declared depth is exactly len(boundArgs). Sizing from the bcode rather than from
// len(boundArgs) alone leaves room for a cont that is run directly (bypassing opCall) to push
// beyond its bound arguments, as a hand-built test driver does.
func allocProtoCont(h *heap.Heap, bcodePtr word.Pointer, boundArgs ...word.Tagged) word.Pointer {
	bcode := cell.BcodeView(h.Cell(bcodePtr))
	total := bcode.ContSize()

	p := h.Allocate(total, cell.ContTag)
	c := cell.ContView(h.RawCellAt(p, total))
	c[0] = cell.NewContHeader(total, len(boundArgs))
	c.SetBcode(bcodePtr)
	c.SetReturnLink(word.Null)

	for i, v := range boundArgs {
		c.SetStackSlot(i, v)
	}

	return p
}

func newTestMachine(t *testing.T) (*Machine, *heap.Heap) {
	t.Helper()

	h := newTestHeap(t)
	r := &root.Block{}
	m := New(h, r, nil)

	return m, h
}

// runToYield drives runSequence in a loop until the thread yields for a reason other than a jiffy
// boundary (outcomeRun), mimicking what Run's scheduler loop would do for a single always-runnable
// thread without needing a scheduler or commit engine in the test.
func runToYield(t *testing.T, m *Machine) outcome {
	t.Helper()

	for i := 0; i < 10_000; i++ {
		out, err := m.runSequence()
		if err != nil {
			t.Fatalf("runSequence: %s", err)
		}

		if out != outcomeRun {
			return out
		}
	}

	t.Fatal("runSequence never yielded")

	return outcomeHalt
}

func TestMachine_CallAndReturn(t *testing.T) {
	t.Parallel()

	m, h := newTestMachine(t)

	// "double": arity 1, accu holds the argument on entry; returns 2*accu.
	doubleBcode := allocBcode(h, []word.Word{
		word.Word(OpLoadLocal), 0,
		word.Word(OpAdd),
		word.Word(OpReturn),
	}, 1, 5, 5, word.Word(cell.TAGGED))
	doubleProto := allocProtoCont(h, doubleBcode)

	// "after": the caller resumes here once double returns; just halts with accu untouched.
	afterBcode := allocBcode(h, []word.Word{word.Word(OpHalt)}, 0, 0, 3, word.Word(cell.TAGGED))

	const doubleID, afterID word.Word = 1, 2
	m.setGlobal(doubleID, word.NewPointer(doubleProto))
	m.setGlobal(afterID, word.NewPointer(afterBcode))

	callerBcode := allocBcode(h, []word.Word{
		word.Word(CallArityOpcode(OpCall, 1)), doubleID, afterID,
	}, 0, 5, 3, word.Word(cell.TAGGED))
	callerCont := allocProtoCont(h, callerBcode)

	m.Cont = callerCont
	m.PC = 0
	m.SP = 0
	m.Accu = word.NewFixnum(21)
	m.AccuType = AccuTagged

	if out := runToYield(t, m); out != outcomeRun && out != outcomeHalt {
		t.Fatalf("unexpected outcome %d", out)
	}

	if got := m.Accu.Fixnum(); got != 42 {
		t.Errorf("accu after call/return = %d, want 42", got)
	}
}

// TestMachine_ChainedCalls calls "double" twice in sequence (double(double(5)) == 20) through two
// distinct "next" bcodes sharing one physical continuation, the way a loader-specialized multi-call
// bcode would chain calls: the first call's next-operand swaps the frame's bcode pointer to the
// code that issues the second call, and the second call's next-operand swaps it again to the code
// that halts. A recursive fib harness needs a branch-target-patching assembler to build safely by
// hand and is not exercised here.
func TestMachine_ChainedCalls(t *testing.T) {
	t.Parallel()

	m, h := newTestMachine(t)

	doubleBcode := allocBcode(h, []word.Word{
		word.Word(OpLoadLocal), 0,
		word.Word(OpAdd),
		word.Word(OpReturn),
	}, 1, 5, 5, word.Word(cell.TAGGED))
	doubleProto := allocProtoCont(h, doubleBcode)

	finalBcode := allocBcode(h, []word.Word{word.Word(OpHalt)}, 0, 0, 3, word.Word(cell.TAGGED))

	stepBBcode := allocBcode(h, []word.Word{
		word.Word(CallArityOpcode(OpCall, 1)), 0, 0, // global/next operands patched in below
	}, 0, 0, 3, word.Word(cell.TAGGED))

	const doubleID, stepBID, finalID word.Word = 1, 2, 3
	m.setGlobal(doubleID, word.NewPointer(doubleProto))
	m.setGlobal(stepBID, word.NewPointer(stepBBcode))
	m.setGlobal(finalID, word.NewPointer(finalBcode))

	// stepBBcode's CALL operands (doubleID, finalID) were allocated as zero placeholders above
	// since the bcode must exist before finalID's value can be wired in; patch them now.
	words := h.RawCellAt(stepBBcode, 10)
	words[7+1] = word.Word(doubleID)
	words[7+2] = word.Word(finalID)

	entryBcode := allocBcode(h, []word.Word{
		word.Word(CallArityOpcode(OpCall, 1)), doubleID, stepBID,
	}, 1, 4, 4, word.Word(cell.TAGGED))
	entryCont := allocProtoCont(h, entryBcode)

	m.Cont = entryCont
	m.PC = 0
	m.SP = 1
	m.Accu = word.NewFixnum(5)
	m.AccuType = AccuTagged

	if out := runToYield(t, m); out != outcomeHalt {
		t.Fatalf("outcome = %d, want outcomeHalt", out)
	}

	if got := m.Accu.Fixnum(); got != 20 {
		t.Errorf("accu after chained calls = %d, want 20", got)
	}
}

func TestMachine_ArithmeticAndLocals(t *testing.T) {
	t.Parallel()

	m, h := newTestMachine(t)

	bcode := allocBcode(h, []word.Word{
		word.Word(OpPushLiteral), word.Word(word.NewFixnum(2)),
		word.Word(OpPushLiteral), word.Word(word.NewFixnum(3)),
		word.Word(OpAdd),
		word.Word(OpHalt),
	}, 0, 0, 5, word.Word(cell.TAGGED))

	cont := allocProtoCont(h, bcode)

	m.Cont = cont
	m.PC = 0
	m.SP = 0
	m.Accu = word.NewFixnum(0)
	m.AccuType = AccuTagged

	if out := runToYield(t, m); out != outcomeHalt {
		t.Fatalf("outcome = %d, want outcomeHalt", out)
	}

	if got := m.Accu.Fixnum(); got != 5 {
		t.Errorf("accu = %d, want 5", got)
	}
}

func TestMachine_Branch(t *testing.T) {
	t.Parallel()

	m, h := newTestMachine(t)

	// if 1 < 2 { accu = 99 } else { accu = -1 }; halt
	bcode := allocBcode(h, []word.Word{
		word.Word(OpPushLiteral), word.Word(word.NewFixnum(1)), // accu = 1, stack = [0]
		word.Word(OpPushLiteral), word.Word(word.NewFixnum(2)), // accu = 2, stack = [0, 1]
		word.Word(OpCmpLt),            // accu = (1 < 2) = true
		word.Word(OpBranchIfFalse), 2, // taken only if accu is false; skip the next 2 words
		word.Word(OpPushLiteral), word.Word(word.NewFixnum(99)),
		word.Word(OpHalt),
	}, 0, 0, 5, word.Word(cell.TAGGED))

	cont := allocProtoCont(h, bcode)

	m.Cont = cont
	m.PC = 0
	m.SP = 0
	m.Accu = word.NewFixnum(0)
	m.AccuType = AccuTagged

	if out := runToYield(t, m); out != outcomeHalt {
		t.Fatalf("outcome = %d, want outcomeHalt", out)
	}

	if got := m.Accu.Fixnum(); got != 99 {
		t.Errorf("accu = %d, want 99", got)
	}
}
