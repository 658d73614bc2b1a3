package vm

// calls.go implements the call/tail-call/return/spawn calling convention from spec.md §4.F and
// the globals get/set path backed by the two-way cache plus the persistent trie. No native Go
// call stack is involved: a call switches m.Cont/m.PC to the callee's frame and returns to the
// top of Machine.runSequence's loop, exactly like the CPS interpreter the design notes describe
// ("every call is a continuation allocation, tail calls are frame replacement").
import (
	"errors"
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/trie"
	"github.com/GunterMueller/shades/internal/word"
)

var (
	ErrUnknownCallee  = errors.New("vm: callee not found in globals")
	ErrContTooLarge   = errors.New("vm: cont exceeds bcode's declared size")
	ErrInsufficientAllocation = errors.New("vm: batch cannot satisfy bcode's declared maximum allocation")
)

// getGlobal reads a global's value, consulting the two-way cache before the persistent trie.
func (m *Machine) getGlobal(id word.Word) (word.Tagged, bool) {
	if v, ok := m.globals.lookup(id); ok {
		return v, true
	}

	v, ok := trie.Find(m.Heap, m.Root.Globals, id)
	if ok {
		m.globals.insert(id, v)
	}

	return v, ok
}

// setGlobal writes a global's value into the persistent trie (non-destructively: the previous
// root remains valid) and refreshes the cache.
func (m *Machine) setGlobal(id word.Word, v word.Tagged) {
	m.Root.Globals = trie.Insert(m.Heap, m.Root.Globals, id, v)
	m.globals.insert(id, v)
}

// opCall implements the generic and arity-specialized call and tail-call opcodes.
type opCall struct {
	mo
	global word.Word // interned id of the callee's prototype cont, under "globals"
	next   word.Word // interned id of the bcode to resume the caller at ("the next")
	arity  int       // -1 for the generic (runtime-determined) form
	tail   bool
	fused  bool
}

func (o *opCall) Bound() int {
	return 0 // the bound actually enforced is the callee bcode's own MaxAlloc, checked in Execute.
}

func (o *opCall) Execute() outcome {
	m := o.m

	if o.fused {
		m.push(m.Accu)
	}

	protoTagged, ok := m.getGlobal(o.global)
	if !ok || protoTagged.Tag() != word.TagPointer {
		return o.fail(fmt.Errorf("%w: id %d", ErrUnknownCallee, o.global))
	}

	protoCont := cell.ContView(m.Heap.Cell(protoTagged.Pointer()))
	bcode := cell.BcodeView(m.Heap.Cell(protoCont.Bcode()))

	if !m.Heap.CanAllocate(bcode.MaxAlloc()) {
		return outcomeFlushAndRetry
	}

	boundDepth, _ := protoCont.Depth()

	arity := o.arity
	if arity < 0 || (arity == 1 && int(bcode.EntryDepth()) == boundDepth) {
		// The generic form, and the shared arity-0/1 form when the proto already binds every entry
		// slot, take the arity from the callee bcode's entry depth minus the proto's bound argument
		// count.
		arity = int(bcode.EntryDepth()) - boundDepth
	}

	newContPtr := m.Heap.Allocate(bcode.ContSize(), cell.ContTag)
	newCont := cell.ContView(m.Heap.RawCellAt(newContPtr, bcode.ContSize()))
	newCont[0] = cell.NewContHeader(bcode.ContSize(), int(bcode.EntryDepth()))
	newCont.SetBcode(protoCont.Bcode())

	for i := 0; i < boundDepth; i++ {
		newCont.SetStackSlot(i, protoCont.StackSlot(i))
	}

	for i := 0; i < arity-1; i++ {
		newCont.SetStackSlot(boundDepth+arity-2-i, m.pop())
	}

	if arity > 0 {
		newCont.SetStackSlot(boundDepth+arity-1, m.Accu)
	}

	caller := m.currentCont()

	if o.tail {
		newCont.SetReturnLink(caller.ReturnLink())
	} else {
		nextBcode, ok := m.getGlobal(o.next)
		if ok && nextBcode.Tag() == word.TagPointer {
			caller.SetBcode(nextBcode.Pointer())
		}

		newCont.SetReturnLink(m.Cont)
	}

	m.Cont = newContPtr
	m.PC = 0
	m.SP = int(bcode.EntryDepth())
	m.AccuType = AccuType(cell.SlotKind(bcode.AccuType()))

	return outcomeRun
}

type opReturn struct{ mo }

func (o *opReturn) Execute() outcome {
	m := o.m
	cur := m.currentCont()
	link := cur.ReturnLink()

	if link.IsNull() {
		return outcomeDie
	}

	m.Cont = link
	next := m.currentCont()
	bcode := cell.BcodeView(m.Heap.Cell(next.Bcode()))
	m.PC = 0
	m.SP = int(bcode.EntryDepth())
	m.AccuType = AccuType(cell.SlotKind(bcode.AccuType()))

	return outcomeRun
}

// spawn allocates a fresh context from a prototype cont pointer (exactly like a zero-argument
// call's frame setup, minus a caller to link back to: a spawned thread's return link is null, so
// an OpReturn in its root sequence ends the thread via OpDie's path).
func (m *Machine) spawn(protoPtr word.Pointer, priority Priority) (word.Pointer, error) {
	protoCont := cell.ContView(m.Heap.Cell(protoPtr))
	bcode := cell.BcodeView(m.Heap.Cell(protoCont.Bcode()))

	if !m.Heap.CanAllocate(bcode.MaxAlloc() + cell.ContextFixedWords) {
		return word.Null, ErrInsufficientAllocation
	}

	newContPtr := m.Heap.Allocate(bcode.ContSize(), cell.ContTag)
	newCont := cell.ContView(m.Heap.RawCellAt(newContPtr, bcode.ContSize()))
	newCont[0] = cell.NewContHeader(bcode.ContSize(), int(bcode.EntryDepth()))
	newCont.SetBcode(protoCont.Bcode())
	newCont.SetReturnLink(word.Null)

	boundDepth, _ := protoCont.Depth()
	for i := 0; i < boundDepth; i++ {
		newCont.SetStackSlot(i, protoCont.StackSlot(i))
	}

	m.Root.HighestThreadID++
	threadID := m.Root.HighestThreadID

	ctxPtr := m.Heap.Allocate(cell.ContextFixedWords, cell.ContextTag)
	ctx := cell.ContextView(m.Heap.Cell(ctxPtr))
	ctx.SetCont(newContPtr)
	ctx.SetThreadID(threadID)
	ctx.SetPriority(word.Word(priority))
	ctx.SetPC(0)

	return ctxPtr, nil
}

// Spawn starts a new thread from a prototype cont pointer (as installed by loader.Load for an
// entry-point routine) and enqueues it to run at priority. It is the bootstrapping counterpart to
// OpSpawn: a driver program has no bytecode of its own to execute a SPAWN instruction from, so it
// calls this directly to get the first thread or threads running before the first Run.
func (m *Machine) Spawn(protoPtr word.Pointer, priority Priority) (word.Pointer, error) {
	ctxPtr, err := m.spawn(protoPtr, priority)
	if err != nil {
		return word.Null, err
	}

	m.sched.enqueue(priority, ctxPtr)

	return ctxPtr, nil
}
