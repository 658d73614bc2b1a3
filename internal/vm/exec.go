package vm

// exec.go implements the outer scheduler loop and the per-turn instruction dispatch, the Shades
// counterpart to the teacher's LC3.Run/fetch/execute cycle: Run picks a runnable thread,
// runSequence drives it instruction by instruction until it yields, and the outcome switch below
// decides what happens next, mirroring how the teacher's cycle dispatches on an instruction's
// result to decide whether to trap, interrupt, or continue.
import (
	"context"
	"errors"

	"github.com/GunterMueller/shades/internal/word"
)

// ErrHalted is returned by Run when a thread executes HALT, stopping the whole machine rather than
// just that thread (see OpHalt's doc comment).
var ErrHalted = errors.New("vm: machine halted")

// groupCommitInterval is how many scheduler turns pass between periodic commits, independent of
// any flush-and-retry forced by allocation pressure. A real deployment would tune this against
// durability/throughput; spec.md leaves the exact cadence unspecified beyond batching several
// threads' work between syncs.
const groupCommitInterval = 64

// Run drives the scheduler until every thread has ended, the machine halts, or goCtx is
// cancelled. It is safe to call Run again afterward (e.g. after external code enqueues more
// contexts) as long as the machine was not halted.
func (m *Machine) Run(goCtx context.Context) error {
	for {
		select {
		case <-goCtx.Done():
			return goCtx.Err()
		default:
		}

		threadPtr, priority, ok := m.sched.dequeueHighest()
		if !ok {
			if m.pollNet() {
				continue
			}

			return nil
		}

		m.load(threadPtr)
		m.Priority = priority

		out, err := m.runSequence()
		if err != nil {
			return err
		}

		m.jiffy++
		if m.jiffy%groupCommitInterval == 0 && out != outcomeDie && out != outcomeHalt {
			if cerr := m.suspendPoint(); cerr != nil {
				return cerr
			}
		}

		switch out {
		case outcomeRun:
			m.save(threadPtr)
			m.sched.enqueue(priority, threadPtr)
		case outcomeBlocked:
			m.save(threadPtr)
			m.sched.block(m.ThreadID, threadPtr)
		case outcomeFlushAndRetry:
			if cerr := m.suspendPoint(); cerr != nil {
				return cerr
			}

			m.save(threadPtr)
			m.sched.enqueue(priority, threadPtr)
		case outcomeDie:
			// The context cell is simply dropped: unreachable from any root, it is reclaimed by
			// the next generational collection like any other dead cell.
		case outcomeHalt:
			return ErrHalted
		}
	}
}

// runSequence executes instructions from the current thread until it yields: a full jiffy
// elapses, the thread blocks on I/O, needs a flush, dies, or the whole machine halts. Calls and
// returns switch bcodes inside the loop without yielding.
func (m *Machine) runSequence() (outcome, error) {
	for i := 0; i < JiffyLength; i++ {
		bcode := m.currentBcode()
		pc0 := m.PC

		op, err := m.decode(bcode)
		if err != nil {
			return outcomeHalt, err
		}

		out := op.Execute()

		if o, ok := op.(interface{ Err() error }); ok {
			if err := o.Err(); err != nil {
				return outcomeHalt, err
			}
		}

		switch out {
		case outcomeRun:
			continue
		case outcomeBlocked:
			m.PC = pc0
			return out, nil
		default:
			return out, nil
		}
	}

	return outcomeRun, nil
}

// load populates the machine's registers from a context cell ahead of running its thread for one
// turn.
func (m *Machine) load(ctxPtr word.Pointer) {
	ctx := m.contextView(ctxPtr)

	m.Cont = ctx.Cont()
	m.Accu = ctx.Accu()
	m.ThreadID = ctx.ThreadID()
	m.Priority = Priority(ctx.Priority())
	m.PC = ctx.PC()
	m.SP = m.resolveDepth()
}

// save writes the machine's current registers back into a context cell after its thread yields.
func (m *Machine) save(ctxPtr word.Pointer) {
	ctx := m.contextView(ctxPtr)

	ctx.SetCont(m.Cont)
	ctx.SetAccu(m.Accu)
	ctx.SetThreadID(m.ThreadID)
	ctx.SetPriority(word.Word(m.Priority))
	ctx.SetPC(m.PC)
	m.currentCont().SetHeader(m.SP)
}

// resolveDepth recovers the live stack depth of the machine's current cont: either its own
// declared depth, or (if it is mid-execution, marked by the sentinel depth) its bcode's entry
// depth.
func (m *Machine) resolveDepth() int {
	cont := m.currentCont()

	depth, executing := cont.Depth()
	if !executing {
		return depth
	}

	return int(m.currentBcode().EntryDepth())
}

// pollNet asks the net poller for progress and wakes any thread it reports, returning whether any
// thread became runnable as a result. With no poller configured, or nothing to report, it reports
// false so Run can end cleanly once every thread has died or blocked forever.
func (m *Machine) pollNet() bool {
	if m.Net == nil {
		return false
	}

	if m.Net.Poll() == 0 {
		return false
	}

	woke := false

	for {
		threadID, _, ok := m.Net.Drain()
		if !ok {
			break
		}

		if ctxPtr, ok := m.sched.wake(threadID); ok {
			ctx := m.contextView(ctxPtr)
			m.sched.enqueue(Priority(ctx.Priority()), ctxPtr)
			woke = true
		}
	}

	return woke
}
