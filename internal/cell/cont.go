package cell

import "github.com/GunterMueller/shades/internal/word"

// ContTag identifies a continuation frame cell: the activation record of a running or suspended
// bytecode thread.
const ContTag Tag = 2

// Cont header data packs total size and current stack depth into disjoint bitfields, per spec.
const (
	contSizeBits  = 12
	contDepthBits = 12
	contSizeMask  = uint32(1<<contSizeBits) - 1
	contDepthMask = uint32(1<<contDepthBits) - 1

	// ContExecutingDepth is the sentinel depth value meaning "fully populated, currently
	// executing", so GC knows to consult the bcode for the live depth rather than trusting this
	// field.
	ContExecutingDepth = contDepthMask

	contBcodePtr  = 1
	contReturnPtr = 2
	contFixedWords = 3

	// ContFixedWords is the number of words (including the header) a cont cell has before its
	// stack-slot area begins: header, bcode pointer, return link.
	ContFixedWords = contFixedWords
)

// NewContHeader packs a cont cell's total size (in words, including the header) and its current
// stack depth into a header word.
func NewContHeader(totalWords int, depth int) word.Word {
	data := uint32(totalWords)&contSizeMask | (uint32(depth)&contDepthMask)<<contSizeBits
	return NewHeader(ContTag, data)
}

func contTotalWords(header word.Word) int {
	return int(HeaderData(header) & contSizeMask)
}

func contDepth(header word.Word) int {
	return int((HeaderData(header) >> contSizeBits) & contDepthMask)
}

// ContDescriptor registers the cont cell kind.
type ContDescriptor struct{}

var _ Descriptor = ContDescriptor{}

func (ContDescriptor) Tag() Tag       { return ContTag }
func (ContDescriptor) Name() string   { return "cont" }
func (ContDescriptor) PeekWords() int { return 1 }

func (ContDescriptor) SizeOf(peek []word.Word) int {
	return contTotalWords(peek[0])
}

func (ContDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(contBcodePtr, NONNULL_PTR)
	visit(contReturnPtr, PTR)

	for i := contFixedWords; i < len(cellWords); i++ {
		visit(i, TAGGED)
	}
}

// ContView is a convenience accessor over a cont cell's words.
type ContView []word.Word

func (c ContView) TotalWords() int { return contTotalWords(c[0]) }

// Depth returns the cont's declared stack depth, or (true) if it is the sentinel
// "fully populated, currently executing" value that must be resolved against its bcode's entry
// depth instead.
func (c ContView) Depth() (depth int, executing bool) {
	d := contDepth(c[0])
	return d, d == int(ContExecutingDepth)
}

func (c ContView) Bcode() word.Pointer   { return word.Pointer(c[contBcodePtr]) }
func (c ContView) ReturnLink() word.Pointer { return word.Pointer(c[contReturnPtr]) }
func (c ContView) Stack() []word.Tagged {
	words := c[contFixedWords:]
	stack := make([]word.Tagged, len(words))

	for i, w := range words {
		stack[i] = word.Tagged(w)
	}

	return stack
}

func (c ContView) StackSlot(i int) word.Tagged { return word.Tagged(c[contFixedWords+i]) }

func (c ContView) SetBcode(p word.Pointer)      { c[contBcodePtr] = word.Word(p) }
func (c ContView) SetReturnLink(p word.Pointer) { c[contReturnPtr] = word.Word(p) }
func (c ContView) SetStackSlot(i int, v word.Tagged) {
	c[contFixedWords+i] = word.Word(v)
}

func (c ContView) SetHeader(depth int) {
	total := c.TotalWords()
	c[0] = NewContHeader(total, depth)
}

// NewProtoCont formats a freshly allocated, zeroed cell slice as a zero-argument prototype
// continuation for bcode: no bound arguments, no return link, depth zero. Callers allocate
// bcode's own ContSize() words and pass the raw slice here.
func NewProtoCont(words []word.Word, bcode word.Pointer) ContView {
	c := ContView(words)
	c[0] = NewContHeader(len(words), 0)
	c.SetBcode(bcode)
	c.SetReturnLink(word.Null)

	return c
}

func init() {
	Register(ContDescriptor{})
}
