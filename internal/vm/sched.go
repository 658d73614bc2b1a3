package vm

// sched.go implements the in-process mirror of the persisted scheduler state: per-priority
// run queues of heap-resident context cells, plus a map of currently-blocked threads. Grounded on
// spec.md §4.F's scheduling model and generalized from the teacher's single hardwired keyboard
// listener (internal/vm/kbd.go, internal/vm/disp.go) to many concurrently-blocked threads.
//
// The queues here hold only word.Pointer handles into the heap's context cells; the actual thread
// state (cont, accu, priority) lives in the context cell itself, since a context is a persistent
// cell per spec.md §3 and must survive a commit. root.Block.Contexts/BlockedThreads are the
// durable counterpart rebuilt by recovery; this struct is the process-local index over them.
import (
	"github.com/GunterMueller/shades/internal/queue"
	"github.com/GunterMueller/shades/internal/word"
)

type scheduler struct {
	runnable [NumPriorities]queue.FIFO[word.Pointer]
	blocked  map[word.Word]word.Pointer
}

func newScheduler() *scheduler {
	return &scheduler{blocked: make(map[word.Word]word.Pointer)}
}

// enqueue makes a context runnable at its priority.
func (s *scheduler) enqueue(p Priority, ctx word.Pointer) {
	s.runnable[p].Push(ctx)
}

// dequeueHighest pops the head of the highest non-empty priority queue. Priority 0 is reserved for
// idle-only work, so the scan runs from the top down.
func (s *scheduler) dequeueHighest() (ctx word.Pointer, priority Priority, ok bool) {
	for p := int(NumPriorities) - 1; p >= 0; p-- {
		if ctx, ok = s.runnable[p].Pop(); ok {
			return ctx, Priority(p), true
		}
	}

	return word.Null, 0, false
}

// empty reports whether every run queue is empty.
func (s *scheduler) empty() bool {
	for p := range s.runnable {
		if !s.runnable[p].Empty() {
			return false
		}
	}

	return true
}

// block parks ctx as waiting on some external event, keyed by its thread id.
func (s *scheduler) block(threadID word.Word, ctx word.Pointer) {
	s.blocked[threadID] = ctx
}

// wake removes a blocked thread and returns its context, ready to be enqueued by the caller at its
// saved priority.
func (s *scheduler) wake(threadID word.Word) (ctx word.Pointer, ok bool) {
	ctx, ok = s.blocked[threadID]
	if ok {
		delete(s.blocked, threadID)
	}

	return ctx, ok
}
