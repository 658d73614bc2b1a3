package cell

import "github.com/GunterMueller/shades/internal/word"

// ContextTag identifies a runnable thread: the fixed-size cell the scheduler queues and the VM
// resumes from.
const ContextTag Tag = 3

const (
	contextContPtr    = 1
	contextAccu       = 2
	contextThreadID   = 3
	contextPriority   = 4
	contextPC         = 5
	ContextFixedWords = 6
)

// ContextDescriptor registers the context cell kind. A context is always exactly
// ContextFixedWords long; it carries no variable-length payload.
type ContextDescriptor struct{}

var _ Descriptor = ContextDescriptor{}

func (ContextDescriptor) Tag() Tag       { return ContextTag }
func (ContextDescriptor) Name() string   { return "context" }
func (ContextDescriptor) PeekWords() int { return 1 }

func (ContextDescriptor) SizeOf(peek []word.Word) int {
	return ContextFixedWords
}

func (ContextDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(contextContPtr, NONNULL_PTR)
	visit(contextAccu, TAGGED)
	visit(contextThreadID, WORD)
	visit(contextPriority, WORD)
	visit(contextPC, WORD)
}

// NewContextHeader builds the header word for a context cell. Context carries no per-type header
// data; its fields are all explicit words.
func NewContextHeader() word.Word {
	return NewHeader(ContextTag, 0)
}

// ContextView is a convenience accessor over a context cell's words.
type ContextView []word.Word

func (c ContextView) Cont() word.Pointer  { return word.Pointer(c[contextContPtr]) }
func (c ContextView) Accu() word.Tagged   { return word.Tagged(c[contextAccu]) }
func (c ContextView) ThreadID() word.Word { return c[contextThreadID] }
func (c ContextView) Priority() word.Word { return c[contextPriority] }
func (c ContextView) PC() int             { return int(c[contextPC]) }

func (c ContextView) SetCont(p word.Pointer)   { c[contextContPtr] = word.Word(p) }
func (c ContextView) SetAccu(v word.Tagged)    { c[contextAccu] = word.Word(v) }
func (c ContextView) SetThreadID(id word.Word) { c[contextThreadID] = id }
func (c ContextView) SetPriority(p word.Word)  { c[contextPriority] = p }
func (c ContextView) SetPC(pc int)             { c[contextPC] = word.Word(pc) }

func init() {
	Register(ContextDescriptor{})
}
