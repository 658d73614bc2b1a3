package cell

import "github.com/GunterMueller/shades/internal/word"

// BcodeTag identifies an immutable compiled routine cell.
const BcodeTag Tag = 1

// Bcode word offsets, per spec.md §6 ("Bcode cell binary layout").
const (
	bcodeAccuType    = 1
	bcodeEntryDepth  = 2
	bcodeCodeLength  = 3
	bcodeReusable    = 4
	bcodeMaxAlloc    = 5
	bcodeContSize    = 6
	bcodeFixedWords  = 7 // header + the six metadata words above.
	bcodeContSizeMin = 3 // a prototype cont is always at least 3 words: header, bcode ptr, return link.
)

// BcodeDescriptor registers the bcode cell kind. A bcode cell never changes after it is loaded —
// its instruction stream and stack-slot-type vector are treated as opaque WORD payload by the
// walker. Pointers a bcode needs to keep alive (callees, "next" continuations) are kept alive
// through the root-rooted bcodes/globals tries and the VM's two-way associative cache, never by
// embedding heap pointers inside the instruction stream itself: this keeps the cell's slot-kind
// vector a pure function of the header, with no per-instruction-opcode knowledge required by GC.
type BcodeDescriptor struct{}

var _ Descriptor = BcodeDescriptor{}

func (BcodeDescriptor) Tag() Tag        { return BcodeTag }
func (BcodeDescriptor) Name() string    { return "bcode" }
func (BcodeDescriptor) PeekWords() int  { return bcodeFixedWords }

func (BcodeDescriptor) SizeOf(peek []word.Word) int {
	codeLen := int(peek[bcodeCodeLength])
	contSize := int(peek[bcodeContSize])
	stackVectorLen := contSize - bcodeContSizeMin

	return bcodeFixedWords + codeLen + stackVectorLen
}

func (d BcodeDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	for i := 1; i < len(cellWords); i++ {
		visit(i, WORD)
	}
}

// BcodeView is a convenience accessor over a bcode cell's words.
type BcodeView []word.Word

func (b BcodeView) AccuType() word.Word   { return b[bcodeAccuType] }
func (b BcodeView) EntryDepth() word.Word { return b[bcodeEntryDepth] }
func (b BcodeView) CodeLength() int       { return int(b[bcodeCodeLength]) }
func (b BcodeView) Reusable() bool        { return b[bcodeReusable] != 0 }
func (b BcodeView) MaxAlloc() int         { return int(b[bcodeMaxAlloc]) }
func (b BcodeView) ContSize() int         { return int(b[bcodeContSize]) }
func (b BcodeView) MaxStackDepth() int    { return b.ContSize() - bcodeContSizeMin }

func (b BcodeView) Instructions() []word.Word {
	start := bcodeFixedWords
	return b[start : start+b.CodeLength()]
}

func (b BcodeView) StackTypes() []word.Word {
	start := bcodeFixedWords + b.CodeLength()
	return b[start : start+b.MaxStackDepth()]
}

// NewBcodeHeader builds the header word for a bcode cell. Bcode carries no per-type header data;
// all of its size-determining fields are explicit metadata words, per spec.
func NewBcodeHeader() word.Word {
	return NewHeader(BcodeTag, 0)
}

// BcodeWords reports how many words a bcode cell occupies, including its header, for an
// instruction stream of length codeLen and a cont size of contSize (the same contSize that will be
// passed to NewBcodeCell).
func BcodeWords(codeLen, contSize int) int {
	return bcodeFixedWords + codeLen + (contSize - bcodeContSizeMin)
}

// NewBcodeCell formats a freshly allocated, zeroed cell slice as a bcode holding instrs and
// stackTypes. Callers allocate BcodeWords(len(instrs), contSize) words and pass the raw slice here.
func NewBcodeCell(words []word.Word, accuType word.Word, entryDepth, maxAlloc, contSize int, reusable bool, instrs, stackTypes []word.Word) BcodeView {
	b := BcodeView(words)
	words[0] = NewBcodeHeader()
	b[bcodeAccuType] = accuType
	b[bcodeEntryDepth] = word.Word(entryDepth)
	b[bcodeCodeLength] = word.Word(len(instrs))
	b[bcodeMaxAlloc] = word.Word(maxAlloc)
	b[bcodeContSize] = word.Word(contSize)

	if reusable {
		b[bcodeReusable] = 1
	}

	copy(b.Instructions(), instrs)
	copy(b.StackTypes(), stackTypes)

	return b
}

func init() {
	Register(BcodeDescriptor{})
}
