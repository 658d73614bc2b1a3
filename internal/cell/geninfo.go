package cell

import "github.com/GunterMueller/shades/internal/word"

// GenInfoTag identifies a generation_pinfo cell: the per-mature-generation bookkeeping record
// that tracks which disk pages back a generation's memory pages, and how many live references
// point into it from younger generations.
const GenInfoTag Tag = 5

const (
	genInfoPrevGen    = 1
	genInfoOrdinal    = 2
	genInfoLiveRefIn  = 3
	genInfoTotalWords = 4
	genInfoFixedWords = 5

	// Each tracked page contributes one (memPage, diskPage) word pair after the fixed prefix.
	genInfoWordsPerPage = 2
)

// GenInfoDescriptor registers the generation_pinfo cell kind. The page count needed to compute
// total size lives entirely in the header's 24-bit data field, so PeekWords is 1: SizeOf never
// needs to look past the header.
type GenInfoDescriptor struct{}

var _ Descriptor = GenInfoDescriptor{}

func (GenInfoDescriptor) Tag() Tag       { return GenInfoTag }
func (GenInfoDescriptor) Name() string   { return "generation_pinfo" }
func (GenInfoDescriptor) PeekWords() int { return 1 }

func (GenInfoDescriptor) SizeOf(peek []word.Word) int {
	pages := int(HeaderData(peek[0]))
	return genInfoFixedWords + pages*genInfoWordsPerPage
}

func (GenInfoDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(genInfoPrevGen, PTR)
	visit(genInfoOrdinal, WORD)
	visit(genInfoLiveRefIn, WORD)
	visit(genInfoTotalWords, WORD)

	for i := genInfoFixedWords; i < len(cellWords); i += genInfoWordsPerPage {
		visit(i, WORD)   // mem page number
		visit(i+1, WORD) // disk page number
	}
}

// NewGenInfoHeader builds the header word for a generation_pinfo cell tracking the given number
// of pages.
func NewGenInfoHeader(pages int) word.Word {
	return NewHeader(GenInfoTag, uint32(pages))
}

// GenInfoWords returns the cell size, in words, of a generation_pinfo cell tracking the given
// number of pages.
func GenInfoWords(pages int) int {
	return genInfoFixedWords + pages*genInfoWordsPerPage
}

// GenInfoView is a convenience accessor over a generation_pinfo cell's words.
type GenInfoView []word.Word

func (g GenInfoView) Pages() int                   { return int(HeaderData(g[0])) }
func (g GenInfoView) PrevGeneration() word.Pointer { return word.Pointer(g[genInfoPrevGen]) }
func (g GenInfoView) Ordinal() word.Word           { return g[genInfoOrdinal] }
func (g GenInfoView) LiveRefIn() word.Word         { return g[genInfoLiveRefIn] }

// TotalWords is the number of live words across every page of the generation this cell
// describes: (Pages()-1) full pages plus however much of the last page was in use. Recovery needs
// this to know where the last page's real cells end and unused tail words begin.
func (g GenInfoView) TotalWords() word.Word { return g[genInfoTotalWords] }

func (g GenInfoView) SetPrevGeneration(p word.Pointer) { g[genInfoPrevGen] = word.Word(p) }
func (g GenInfoView) SetOrdinal(o word.Word)           { g[genInfoOrdinal] = o }
func (g GenInfoView) SetLiveRefIn(n word.Word)         { g[genInfoLiveRefIn] = n }
func (g GenInfoView) SetTotalWords(n word.Word)        { g[genInfoTotalWords] = n }

func (g GenInfoView) PageEntry(i int) (memPage, diskPage word.Word) {
	base := genInfoFixedWords + i*genInfoWordsPerPage
	return g[base], g[base+1]
}

func (g GenInfoView) SetPageEntry(i int, memPage, diskPage word.Word) {
	base := genInfoFixedWords + i*genInfoWordsPerPage
	g[base] = memPage
	g[base+1] = diskPage
}

func init() {
	Register(GenInfoDescriptor{})
}
