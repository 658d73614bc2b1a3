package vm

// types.go defines the opcode space and the numbering discipline opcode resolution depends on:
// every plain instruction X with a fused form has opcode(PUSH_AND_X) == opcode(X) + 1, and the
// call/tail-call families carry their arity-specialized variants at a fixed offset from the
// generic form, mirroring the teacher's JSRR = Opcode(JSR | 0x0f00) numeric-offset trick.

import (
	"fmt"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

// Priority and NumPriorities are the scheduler's priority space; both are defined once in
// internal/root (the root block persists Contexts indexed by priority) and reused here so the VM
// and the root block never disagree about how many queues exist.
type Priority = root.Priority

const NumPriorities = root.NumPriorities

// AccuType classifies the accumulator's word-type, fixed per bcode. It reuses cell.SlotKind for
// the four cases that can also appear as a cell slot kind, plus Void for bcodes whose sequences
// never leave a meaningful value in accu (control-only routines).
type AccuType cell.SlotKind

const (
	AccuWord       = AccuType(cell.WORD)
	AccuPointer    = AccuType(cell.PTR)
	AccuNonNullPtr = AccuType(cell.NONNULL_PTR)
	AccuTagged     = AccuType(cell.TAGGED)
	AccuVoid       = AccuType(4)
)

func (t AccuType) String() string {
	if t == AccuVoid {
		return "VOID"
	}

	return cell.SlotKind(t).String()
}

// Opcode identifies one instruction. Only the arithmetic and comparison opcodes, SET_GLOBAL, BIND
// and every call-family opcode have a fused form, laid out as plain/fused pairs; the control,
// literal, local, branch, GET_GLOBAL, RETURN, SPAWN and NET_ opcodes have none. The call families
// carry their arity-specialized variants at the offsets documented on CallArityOpcode.
type Opcode word.Word

const (
	OpHalt Opcode = iota // stop the machine entirely (process shutdown, not a thread exit)
	OpDie                // end the current thread voluntarily; drop its context

	OpPushLiteral // push a small tagged immediate into accu, after pushing the old accu
	OpLoadLocal   // accu = stack[index], after pushing the old accu
	OpStoreLocal  // stack[index] = accu
	OpPop         // discard the top stack slot

	OpAdd
	OpPushAndAdd
	OpSub
	OpPushAndSub
	OpCmpEq
	OpPushAndCmpEq
	OpCmpLt
	OpPushAndCmpLt

	OpBranchIfFalse // forward-only: operand is a positive word offset from the next instruction
	OpBranch        // unconditional forward branch

	OpGetGlobal
	OpSetGlobal
	OpPushAndSetGlobal

	OpBind // bind accu into the callee's next unbound stack slot during frame setup
	OpPushAndBind

	OpReturn
	OpSpawn // allocate a fresh context from a prototype cont and enqueue it at a given priority

	OpNetListen
	OpNetAccept
	OpNetReadChar
	OpNetWrite
	OpNetClose

	// Call family. CallArityOpcode documents the offsets; OpCall is the generic (runtime-arity)
	// form, read from an operand word.
	OpCall
	OpPushAndCall
	OpCallArity01 // OpCall + 2: arity 0 or 1, told apart at run time by opCall.Execute
	OpPushAndCallArity01
	OpCallArity2 // OpCall + 4
	OpPushAndCallArity2
	OpCallArity3 // OpCall + 6
	OpPushAndCallArity3
	OpCallArity4 // OpCall + 8
	OpPushAndCallArity4

	// Tail-call family, identical shape and offsets, based at OpTailCall instead of OpCall.
	OpTailCall
	OpPushAndTailCall
	OpTailCallArity01
	OpPushAndTailCallArity01
	OpTailCallArity2
	OpPushAndTailCallArity2
	OpTailCallArity3
	OpPushAndTailCallArity3
	OpTailCallArity4
	OpPushAndTailCallArity4

	numOpcodes
)

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}

	return fmt.Sprintf("Opcode(%d)", word.Word(op))
}

var opcodeNames = map[Opcode]string{
	OpHalt: "HALT", OpDie: "DIE",
	OpPushLiteral: "PUSH_LITERAL", OpLoadLocal: "LOAD_LOCAL", OpStoreLocal: "STORE_LOCAL", OpPop: "POP",
	OpAdd: "ADD", OpPushAndAdd: "PUSH_AND_ADD",
	OpSub: "SUB", OpPushAndSub: "PUSH_AND_SUB",
	OpCmpEq: "CMP_EQ", OpPushAndCmpEq: "PUSH_AND_CMP_EQ",
	OpCmpLt: "CMP_LT", OpPushAndCmpLt: "PUSH_AND_CMP_LT",
	OpBranchIfFalse: "BRANCH_IF_FALSE", OpBranch: "BRANCH",
	OpGetGlobal: "GET_GLOBAL", OpSetGlobal: "SET_GLOBAL", OpPushAndSetGlobal: "PUSH_AND_SET_GLOBAL",
	OpBind: "BIND", OpPushAndBind: "PUSH_AND_BIND",
	OpReturn: "RETURN", OpSpawn: "SPAWN",
	OpNetListen: "NET_LISTEN", OpNetAccept: "NET_ACCEPT", OpNetReadChar: "NET_READ_CHAR",
	OpNetWrite: "NET_WRITE", OpNetClose: "NET_CLOSE",
	OpCall: "CALL", OpPushAndCall: "PUSH_AND_CALL",
	OpCallArity01: "CALL_ARITY_01", OpPushAndCallArity01: "PUSH_AND_CALL_ARITY_01",
	OpCallArity2: "CALL_ARITY_2", OpPushAndCallArity2: "PUSH_AND_CALL_ARITY_2",
	OpCallArity3: "CALL_ARITY_3", OpPushAndCallArity3: "PUSH_AND_CALL_ARITY_3",
	OpCallArity4: "CALL_ARITY_4", OpPushAndCallArity4: "PUSH_AND_CALL_ARITY_4",
	OpTailCall: "TAIL_CALL", OpPushAndTailCall: "PUSH_AND_TAIL_CALL",
	OpTailCallArity01: "TAIL_CALL_ARITY_01", OpPushAndTailCallArity01: "PUSH_AND_TAIL_CALL_ARITY_01",
	OpTailCallArity2: "TAIL_CALL_ARITY_2", OpPushAndTailCallArity2: "PUSH_AND_TAIL_CALL_ARITY_2",
	OpTailCallArity3: "TAIL_CALL_ARITY_3", OpPushAndTailCallArity3: "PUSH_AND_TAIL_CALL_ARITY_3",
	OpTailCallArity4: "TAIL_CALL_ARITY_4", OpPushAndTailCallArity4: "PUSH_AND_TAIL_CALL_ARITY_4",
}

// CallArityOpcode returns the specialized call opcode for a statically known arity, offset from
// base (OpCall or OpTailCall) per spec.md §6: "+2 for arity 0/1, +2*arity for arity 2/3/4". Arity
// 0 and 1 share one opcode, which opCall.Execute splits at run time by comparing the proto's
// bound-argument count with the callee bcode's entry depth; arities 2
// through 4 get a fully separate opcode each since those are the hot loop this numbering exists
// to keep branch-free.
func CallArityOpcode(base Opcode, arity int) Opcode {
	if arity <= 1 {
		return base + 2
	}

	return base + Opcode(2*arity)
}

// Fused returns the PUSH_AND_ variant of a plain opcode. Only the opcodes listed with a fused form
// on Opcode have one; for any other opcode the result is simply the next opcode, so callers check
// first (internal/asm's fusable table lists the mnemonics that qualify).
func (op Opcode) Fused() Opcode { return op + 1 }

// IsFused reports whether op is itself a PUSH_AND_ variant.
func (op Opcode) IsFused() bool {
	_, ok := fusedOpcodes[op]
	return ok
}

var fusedOpcodes = map[Opcode]bool{
	OpPushAndAdd: true, OpPushAndSub: true, OpPushAndCmpEq: true, OpPushAndCmpLt: true,
	OpPushAndSetGlobal: true, OpPushAndBind: true,
	OpPushAndCall: true, OpPushAndCallArity01: true, OpPushAndCallArity2: true,
	OpPushAndCallArity3: true, OpPushAndCallArity4: true,
	OpPushAndTailCall: true, OpPushAndTailCallArity01: true, OpPushAndTailCallArity2: true,
	OpPushAndTailCallArity3: true, OpPushAndTailCallArity4: true,
}
