package vm

// machine.go defines the virtual machine and assembles it from smaller parts.

import (
	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/commit"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/log"
	"github.com/GunterMueller/shades/internal/root"
	"github.com/GunterMueller/shades/internal/word"
)

// JiffyLength is the number of instructions runSequence executes for one thread before the
// scheduler considers switching to the next runnable thread. It counts instructions, not bytecode
// sequences: a turn can end partway through a sequence or span several.
const JiffyLength = 64

// Machine is the Shades bytecode interpreter: register state plus the handles it needs to read
// and mutate the heap, commit, and schedule. Its register fields mirror the teacher's LC3 struct
// shape; where the teacher has a CPU register per hardware purpose, Machine has one per spec.md
// §4.F virtual register.
type Machine struct {
	Cont     word.Pointer // current continuation frame
	SP       int          // stack depth within Cont, 0..bcode.MaxStackDepth
	Accu     word.Tagged
	AccuType AccuType
	PC       int // word index into the current bcode's instruction stream
	ThreadID word.Word
	Priority Priority

	Heap   *heap.Heap
	Root   *root.Block
	Commit *commit.Engine
	Net    NetPoller

	sched   *scheduler
	globals *globalCache
	jiffy   int

	log *log.Logger
}

// OptionFn configures a Machine at construction.
type OptionFn func(*Machine)

// WithLogger configures the machine to log through l instead of the package default logger.
func WithLogger(l *log.Logger) OptionFn {
	return func(m *Machine) { m.log = l }
}

// WithNetPoller attaches the suspend/wake poller the network-I/O instruction family delegates to.
func WithNetPoller(p NetPoller) OptionFn {
	return func(m *Machine) { m.Net = p }
}

// New assembles a Machine over an already-open heap, root block, and commit engine. Options run
// once, after every field has its default (AccuVoid, a fresh scheduler and global cache, the
// default logger), mirroring the teacher's New(opts ...OptionFn)
// shape (minus the early/late split, which existed only to sequence device mapping around
// privilege-dropping — Shades has no analogous two-phase bring-up).
func New(h *heap.Heap, r *root.Block, ce *commit.Engine, opts ...OptionFn) *Machine {
	m := &Machine{
		Heap:     h,
		Root:     r,
		Commit:   ce,
		sched:    newScheduler(),
		globals:  newGlobalCache(),
		AccuType: AccuVoid,
		log:      log.DefaultLogger(),
	}

	for _, fn := range opts {
		fn(m)
	}

	return m
}

func (m *Machine) LogValue() log.Value {
	return log.GroupValue(
		log.String("CONT", m.Cont.String()),
		log.Any("ACCU", m.Accu),
		log.String("ACCU_TYPE", m.AccuType.String()),
		log.Any("PC", m.PC),
		log.Any("THREAD", m.ThreadID),
		log.Any("PRIORITY", m.Priority),
	)
}

// contextView is a convenience accessor over a context cell's words.
func (m *Machine) contextView(p word.Pointer) cell.ContextView {
	return cell.ContextView(m.Heap.Cell(p))
}

// snapshot captures the suspendable register state for a group commit.
func (m *Machine) snapshot() commit.RegisterSnapshot {
	return commit.RegisterSnapshot{
		Cont:     m.Cont,
		Accu:     m.Accu,
		AccuType: cell.SlotKind(m.AccuType),
		ThreadID: m.ThreadID,
		Priority: m.Priority,
	}
}

// suspendPoint runs a group commit, carrying the machine's current register state through it so
// it can be resumed byte-for-bit if the process stops before the next commit.
func (m *Machine) suspendPoint() error {
	m.globals.flush()

	return m.Commit.Run(m.snapshot())
}

// Checkpoint forces a group commit outside the scheduler loop, durably writing whatever the
// machine has loaded or run so far. A driver calls this after loading routines into a fresh
// database and again before a clean shutdown, so that a process that never runs long enough to
// hit groupCommitInterval on its own still leaves a recoverable image.
func (m *Machine) Checkpoint() error {
	return m.suspendPoint()
}
