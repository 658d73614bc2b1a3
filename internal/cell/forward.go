package cell

import "github.com/GunterMueller/shades/internal/word"

// ForwardTag marks a cell that has already been copied to its destination generation during a
// group commit. It is never written by anything but the commit engine's copying pass, and it is
// never present in a cell image that has been written to disk: recovery never observes it.
const ForwardTag Tag = 4

const forwardTarget = 1
const ForwardWords = 2

// ForwardDescriptor registers the forward_pointer cell kind. Overwriting a cell with a forward
// pointer always shrinks it to exactly ForwardWords; SizeOf therefore ignores whatever the
// original cell's size was and returns the fixed forwarding-cell size, per spec: the walker
// dereferences one indirection and continues with the target.
type ForwardDescriptor struct{}

var _ Descriptor = ForwardDescriptor{}

func (ForwardDescriptor) Tag() Tag       { return ForwardTag }
func (ForwardDescriptor) Name() string   { return "forward_pointer" }
func (ForwardDescriptor) PeekWords() int { return 1 }

func (ForwardDescriptor) SizeOf(peek []word.Word) int {
	return ForwardWords
}

func (ForwardDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(forwardTarget, NONNULL_PTR)
}

// NewForwardHeader builds the header word written over a cell's first word once it has been
// copied elsewhere during commit.
func NewForwardHeader() word.Word {
	return NewHeader(ForwardTag, 0)
}

// ForwardView is a convenience accessor over a forward_pointer cell's words.
type ForwardView []word.Word

func (f ForwardView) Target() word.Pointer        { return word.Pointer(f[forwardTarget]) }
func (f ForwardView) SetTarget(p word.Pointer)     { f[forwardTarget] = word.Word(p) }

func init() {
	Register(ForwardDescriptor{})
}
