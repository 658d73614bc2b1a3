/*
Package vm implements the Shades bytecode interpreter.

A Machine holds a fixed set of registers: the active continuation (Cont), a stack pointer within
it (SP), an accumulator (Accu) and its static type (AccuType), a program counter into the current
bcode (PC), and the running thread's identity and priority. There is no native Go call stack behind
a Shades call: CALL and TAIL_CALL retarget Cont/PC/SP to a freshly allocated continuation and return
control to the dispatch loop in runSequence, and RETURN does the same in reverse using the
continuation's stored return link. A thread's entire state of execution is therefore always fully
described by its current context cell, which is what lets the scheduler suspend one thread and
resume another just by swapping which context's fields are loaded into the registers.

# Instructions #

Opcodes and their "push-fused" counterparts are numbered so that opcode(PUSH_AND_X) is always
opcode(X)+1: PUSH_AND_X pushes the accumulator's current value before running X, saving a separate
PUSH instruction in the common case of building up an operand list. The call family additionally
carries arity-specialized variants at fixed offsets from the generic (runtime-arity) opcode, so a
bcode that always calls with, say, three arguments never pays for the generic form's runtime
dispatch.

# Scheduling #

Machine.Run is a cooperative scheduler over per-priority run queues: each turn pops the
highest-priority runnable thread, runs it for up to one jiffy's worth of instructions, and reacts to
how it yielded. A thread that blocks on network I/O is parked until the configured NetPoller reports
progress; a thread that cannot satisfy its bcode's declared maximum allocation triggers a commit (a
flush) and retries the same instruction once first-generation space has been reclaimed.

# Globals #

GET_GLOBAL and SET_GLOBAL read and write a persistent, non-destructive trie keyed by interned id,
fronted by a small process-local two-way associative cache that is flushed on every commit, since a
collection can move the cells a cached value points at.
*/
package vm
