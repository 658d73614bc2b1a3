package vm

// netio_iface.go declares the three primitives spec.md §4.F requires of the external I/O layer,
// as an interface so the VM never imports net or time directly. No implementation of it is in
// this repository; a Machine built without WithNetPoller fails every net instruction with
// errNoPoller.
import "github.com/GunterMueller/shades/internal/word"

// Event classifies a wakeup delivered for a blocked thread.
type Event uint8

const (
	EventReadable Event = iota
	EventAccepted
	EventWritable
	EventClosed
	EventError
)

// NetPoller is the suspend/wake contract the network-I/O instruction family delegates to. Poll is
// a non-blocking check for new activity; Drain reports one pending wakeup at a time so the VM can
// requeue blocked threads between jiffies without the poller itself touching the heap.
//
// The Try* methods are the non-blocking attempt each net instruction makes before suspending: each
// returns ok=false (never an error) when the operation would block, in which case the VM parks the
// thread and the instruction is retried, unchanged, the next time that thread is scheduled.
type NetPoller interface {
	Poll() (n int)
	Drain() (threadID word.Word, event Event, ok bool)

	TryListen(port int32) (listenerID word.Word, ok bool, err error)
	TryAccept(listenerID word.Word) (connID word.Word, ok bool, err error)
	TryReadChar(connID word.Word) (ch byte, ok bool, err error)
	TryWrite(connID word.Word, b byte) (ok bool, err error)
	Close(connID word.Word) error
}
