package vm

// ops.go defines the operation interface family and per-opcode dispatch, following the teacher's
// internal/vm/ops.go Decode/Execute struct idiom. Shades instructions may allocate (a call's fresh
// cont, a spawn's fresh context) where LC-3 instructions never touch the heap, so the teacher's
// addressable/fetchable/executable/storable family is reduced to operation (Execute) and
// allocator (Bound): every Shades opcode implements operation, since its "address" is always the
// current cont's stack, never a computed memory reference the way LC-3's EvalAddress stage exists
// for. The call family is the one allocator (see calls.go); nothing calls Bound, and the call
// family checks its callee's allocation bound inside Execute.

import (
	"errors"
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/word"
)

// outcome reports what happened to a bytecode sequence: the Go rendering of the source's
// RUN_CONT/DIE_CONT/BLOCK_CONT/FLUSH_AND_RETRY_CONT macros (see SPEC_FULL.md's design notes).
type outcome uint8

const (
	outcomeRun outcome = iota
	outcomeDie
	outcomeBlocked
	outcomeFlushAndRetry
	outcomeHalt
)

var (
	errBadOperand  = errors.New("vm: bad instruction operand")
	errStackBounds = errors.New("vm: stack index out of bounds")
	errUnresolved  = errors.New("vm: unresolved global reference")
)

// mo ("machine operation") is the base embedded by every per-opcode struct: it carries the
// machine and any fault raised while executing, mirroring the teacher's mo{vm, err}.
type mo struct {
	m   *Machine
	err error
}

func (o *mo) Err() error { return o.err }

func (o *mo) fail(err error) outcome {
	o.err = err
	return outcomeHalt
}

// operation is implemented by every decoded instruction.
type operation interface {
	Execute() outcome
}

// allocator is implemented by instructions that allocate first-generation space; only the call
// family (whose need depends on a callee resolved at runtime) implements it; see calls.go. No
// allocation check runs when a sequence starts, and nothing calls Bound: opCall.Execute checks
// CanAllocate against the callee bcode's MaxAlloc before allocating the callee's frame, and spawn
// makes the same check for a new thread.
type allocator interface {
	Bound() int
}

// decode reads one instruction (opcode plus any operand words) from the current bcode at m.PC,
// advances m.PC past it, and returns the operation to run.
func (m *Machine) decode(bcode cell.BcodeView) (operation, error) {
	instrs := bcode.Instructions()
	if m.PC >= len(instrs) {
		return nil, fmt.Errorf("vm: pc %d past end of sequence (len %d)", m.PC, len(instrs))
	}

	op := Opcode(instrs[m.PC])
	m.PC++

	operand := func() word.Word {
		w := instrs[m.PC]
		m.PC++

		return w
	}

	fused := op.IsFused()

	switch plain := unfuse(op); plain {
	case OpHalt:
		return &opHalt{mo: mo{m: m}}, nil
	case OpDie:
		return &opDie{mo: mo{m: m}}, nil
	case OpPushLiteral:
		return &opPushLiteral{mo: mo{m: m}, literal: word.Tagged(operand())}, nil
	case OpLoadLocal:
		return &opLoadLocal{mo: mo{m: m}, index: int(operand())}, nil
	case OpStoreLocal:
		return &opStoreLocal{mo: mo{m: m}, index: int(operand())}, nil
	case OpPop:
		return &opPop{mo: mo{m: m}}, nil
	case OpAdd:
		return &opBinary{mo: mo{m: m}, fn: func(a, b int32) int32 { return a + b }, fused: fused}, nil
	case OpSub:
		return &opBinary{mo: mo{m: m}, fn: func(a, b int32) int32 { return a - b }, fused: fused}, nil
	case OpCmpEq:
		return &opCompare{mo: mo{m: m}, fn: func(a, b int32) bool { return a == b }, fused: fused}, nil
	case OpCmpLt:
		return &opCompare{mo: mo{m: m}, fn: func(a, b int32) bool { return a < b }, fused: fused}, nil
	case OpBranchIfFalse:
		return &opBranch{mo: mo{m: m}, offset: int(operand()), conditional: true}, nil
	case OpBranch:
		return &opBranch{mo: mo{m: m}, offset: int(operand())}, nil
	case OpGetGlobal:
		return &opGetGlobal{mo: mo{m: m}, id: operand()}, nil
	case OpSetGlobal:
		return &opSetGlobal{mo: mo{m: m}, id: operand(), fused: fused}, nil
	case OpBind:
		return &opBind{mo: mo{m: m}, fused: fused}, nil
	case OpReturn:
		return &opReturn{mo: mo{m: m}}, nil
	case OpSpawn:
		return &opSpawn{mo: mo{m: m}, priority: Priority(operand())}, nil
	case OpNetListen:
		return &opNetListen{mo: mo{m: m}}, nil
	case OpNetAccept:
		return &opNetAccept{mo: mo{m: m}}, nil
	case OpNetReadChar:
		return &opNetReadChar{mo: mo{m: m}}, nil
	case OpNetWrite:
		return &opNetWrite{mo: mo{m: m}}, nil
	case OpNetClose:
		return &opNetClose{mo: mo{m: m}}, nil
	default:
		if arity, tail, ok := callArity(plain); ok {
			return &opCall{mo: mo{m: m}, global: operand(), next: operand(), arity: arity, tail: tail, fused: fused}, nil
		}

		return nil, fmt.Errorf("vm: %w: opcode %s", errBadOperand, op)
	}
}

// unfuse returns the plain form of a (possibly fused) opcode.
func unfuse(op Opcode) Opcode {
	if op.IsFused() {
		return op - 1
	}

	return op
}

// callArity reports the statically-known arity and tail-ness of a call-family plain opcode, if op
// is one. Arity 01 is resolved to 1 here; opCall.Execute distinguishes 0 from 1 by whether the
// proto's bound-argument count already equals the bcode's entry depth, matching the "+2 for arity
// 0/1" numbering from spec.md §6 (both share one opcode and carry the same operands).
func callArity(op Opcode) (arity int, tail bool, ok bool) {
	switch op {
	case OpCall:
		return -1, false, true
	case OpCallArity01:
		return 1, false, true
	case OpCallArity2:
		return 2, false, true
	case OpCallArity3:
		return 3, false, true
	case OpCallArity4:
		return 4, false, true
	case OpTailCall:
		return -1, true, true
	case OpTailCallArity01:
		return 1, true, true
	case OpTailCallArity2:
		return 2, true, true
	case OpTailCallArity3:
		return 3, true, true
	case OpTailCallArity4:
		return 4, true, true
	default:
		return 0, false, false
	}
}

// currentCont/currentBcode are convenience views over the machine's active frame.
func (m *Machine) currentCont() cell.ContView { return cell.ContView(m.Heap.Cell(m.Cont)) }

func (m *Machine) currentBcode() cell.BcodeView {
	return cell.BcodeView(m.Heap.Cell(m.currentCont().Bcode()))
}

func (m *Machine) push(v word.Tagged) {
	m.currentCont().SetStackSlot(m.SP, v)
	m.SP++
}

func (m *Machine) pop() word.Tagged {
	m.SP--
	return m.currentCont().StackSlot(m.SP)
}

// --- control ---

type opHalt struct{ mo }

func (o *opHalt) Execute() outcome { return outcomeHalt }

type opDie struct{ mo }

func (o *opDie) Execute() outcome { return outcomeDie }

// --- literals and locals ---

// opPushLiteral and opLoadLocal are themselves the "push" primitives: each always pushes the
// accumulator's old value before replacing it, which is why neither needs a separate PUSH_AND_
// opcode the way OpAdd/OpSetGlobal/the call family do.
type opPushLiteral struct {
	mo
	literal word.Tagged
}

func (o *opPushLiteral) Execute() outcome {
	o.m.push(o.m.Accu)
	o.m.Accu = o.literal
	o.m.AccuType = AccuTagged

	return outcomeRun
}

type opLoadLocal struct {
	mo
	index int
}

func (o *opLoadLocal) Execute() outcome {
	if o.index < 0 || o.index >= o.m.SP {
		return o.fail(errStackBounds)
	}

	o.m.push(o.m.Accu)
	o.m.Accu = o.m.currentCont().StackSlot(o.index)
	o.m.AccuType = AccuTagged

	return outcomeRun
}

type opStoreLocal struct {
	mo
	index int
}

func (o *opStoreLocal) Execute() outcome {
	if o.index < 0 || o.index >= o.m.SP {
		return o.fail(errStackBounds)
	}

	o.m.currentCont().SetStackSlot(o.index, o.m.Accu)

	return outcomeRun
}

type opPop struct{ mo }

func (o *opPop) Execute() outcome {
	if o.m.SP == 0 {
		return o.fail(errStackBounds)
	}

	o.m.pop()

	return outcomeRun
}

// --- arithmetic and comparison ---

type opBinary struct {
	mo
	fn    func(a, b int32) int32
	fused bool
}

// Execute's fused form pushes accu and then runs the plain body, like every PUSH_AND_ opcode, so
// PUSH_AND_ADD leaves accu + accu in accu and the stack as it was.
func (o *opBinary) Execute() outcome {
	if o.fused {
		o.m.push(o.m.Accu)
	}

	if o.m.SP == 0 {
		return o.fail(errStackBounds)
	}

	lhs := o.m.pop().Fixnum()
	rhs := o.m.Accu.Fixnum()
	o.m.Accu = word.NewFixnum(o.fn(lhs, rhs))
	o.m.AccuType = AccuTagged

	return outcomeRun
}

type opCompare struct {
	mo
	fn    func(a, b int32) bool
	fused bool
}

func (o *opCompare) Execute() outcome {
	if o.fused {
		o.m.push(o.m.Accu)
	}

	if o.m.SP == 0 {
		return o.fail(errStackBounds)
	}

	lhs := o.m.pop().Fixnum()
	rhs := o.m.Accu.Fixnum()
	o.m.Accu = word.NewBool(o.fn(lhs, rhs))
	o.m.AccuType = AccuTagged

	return outcomeRun
}

// --- branches ---

type opBranch struct {
	mo
	offset      int
	conditional bool
}

func (o *opBranch) Execute() outcome {
	if o.conditional && o.m.Accu.Bool() {
		return outcomeRun
	}

	o.m.PC += o.offset

	return outcomeRun
}

// --- globals ---

type opGetGlobal struct {
	mo
	id word.Word
}

func (o *opGetGlobal) Execute() outcome {
	v, ok := o.m.getGlobal(o.id)
	if !ok {
		return o.fail(fmt.Errorf("%w: id %d", errUnresolved, o.id))
	}

	o.m.Accu = v
	o.m.AccuType = AccuTagged

	return outcomeRun
}

type opSetGlobal struct {
	mo
	id    word.Word
	fused bool
}

func (o *opSetGlobal) Execute() outcome {
	if o.fused {
		o.m.push(o.m.Accu)
	}

	o.m.setGlobal(o.id, o.m.Accu)

	return outcomeRun
}

// --- bind ---

// opBind binds accu into the next unbound stack slot of the cont currently under construction
// (the loader's own bootstrap code uses this to build prototype conts; ordinary call frames are
// populated directly by opCall instead). It is, deliberately, just a push: "binding" and "pushing"
// are the same heap operation here, distinguished only by which code path calls it. The fused form
// exists purely for opcode-table uniformity with the rest of the plain/fused pairs; a loader never
// needs to push twice in a row, so it is expected to go unused in practice.
type opBind struct {
	mo
	fused bool
}

func (o *opBind) Execute() outcome {
	if o.fused {
		o.m.push(o.m.Accu)
	}

	o.m.push(o.m.Accu)

	return outcomeRun
}

// --- spawn ---

type opSpawn struct {
	mo
	priority Priority
}

func (o *opSpawn) Execute() outcome {
	if o.m.Accu.Tag() != word.TagPointer {
		return o.fail(errBadOperand)
	}

	ctxPtr, err := o.m.spawn(o.m.Accu.Pointer(), o.priority)
	if err != nil {
		return o.fail(err)
	}

	o.m.sched.enqueue(o.priority, ctxPtr)
	o.m.Accu = word.NewPointer(ctxPtr)
	o.m.AccuType = AccuPointer

	return outcomeRun
}

// --- net I/O ---
//
// Every net instruction reads its connection/listener id from accu (a tagged fixnum) and, on
// success, leaves its result in accu the same way; NET_WRITE additionally pops the byte to write
// off the stack. A !ok response from the poller (would block, not an error) suspends the thread
// without advancing past this instruction, so it is retried verbatim on the next scheduling turn.

type opNetListen struct{ mo }

func (o *opNetListen) Execute() outcome {
	if o.m.Net == nil {
		return o.fail(errNoPoller)
	}

	id, ok, err := o.m.Net.TryListen(o.m.Accu.Fixnum())
	if err != nil {
		return o.fail(err)
	}

	if !ok {
		return outcomeBlocked
	}

	o.m.Accu = word.NewFixnum(int32(id))

	return outcomeRun
}

type opNetAccept struct{ mo }

func (o *opNetAccept) Execute() outcome {
	if o.m.Net == nil {
		return o.fail(errNoPoller)
	}

	conn, ok, err := o.m.Net.TryAccept(word.Word(o.m.Accu.Fixnum()))
	if err != nil {
		return o.fail(err)
	}

	if !ok {
		return outcomeBlocked
	}

	o.m.Accu = word.NewFixnum(int32(conn))

	return outcomeRun
}

type opNetReadChar struct{ mo }

func (o *opNetReadChar) Execute() outcome {
	if o.m.Net == nil {
		return o.fail(errNoPoller)
	}

	ch, ok, err := o.m.Net.TryReadChar(word.Word(o.m.Accu.Fixnum()))
	if err != nil {
		return o.fail(err)
	}

	if !ok {
		return outcomeBlocked
	}

	o.m.Accu = word.NewChar(uint32(ch))

	return outcomeRun
}

type opNetWrite struct{ mo }

func (o *opNetWrite) Execute() outcome {
	if o.m.Net == nil {
		return o.fail(errNoPoller)
	}

	if o.m.SP == 0 {
		return o.fail(errStackBounds)
	}

	conn := word.Word(o.m.Accu.Fixnum())
	b := byte(o.m.currentCont().StackSlot(o.m.SP - 1).Fixnum())

	ok, err := o.m.Net.TryWrite(conn, b)
	if err != nil {
		return o.fail(err)
	}

	if !ok {
		return outcomeBlocked
	}

	o.m.pop()

	return outcomeRun
}

type opNetClose struct{ mo }

func (o *opNetClose) Execute() outcome {
	if o.m.Net == nil {
		return o.fail(errNoPoller)
	}

	if err := o.m.Net.Close(word.Word(o.m.Accu.Fixnum())); err != nil {
		return o.fail(err)
	}

	o.m.AccuType = AccuVoid

	return outcomeRun
}

var errNoPoller = errors.New("vm: no net poller configured")
