package cell

import "github.com/GunterMueller/shades/internal/word"

// ShtringTableTag identifies the small fixed cell that anchors the interning service: the two
// tries it needs (by interned id, and by content hash, for dedup) plus the monotonic id counter,
// all reachable from root.Block.InternedShtrings through this one slot.
const ShtringTableTag Tag = 9

const (
	shtringTableByID      = 1
	shtringTableByContent = 2
	shtringTableNextID    = 3
	shtringTableWords     = 4
)

// NewShtringTableHeader builds the header word for a shtring table cell.
func NewShtringTableHeader() word.Word { return NewHeader(ShtringTableTag, 0) }

// ShtringTableWords is the fixed size, in words including the header, of a shtring table cell.
func ShtringTableWords() int { return shtringTableWords }

// ShtringTableDescriptor registers the shtring table cell kind.
type ShtringTableDescriptor struct{}

var _ Descriptor = ShtringTableDescriptor{}

func (ShtringTableDescriptor) Tag() Tag                     { return ShtringTableTag }
func (ShtringTableDescriptor) Name() string                 { return "shtring-table" }
func (ShtringTableDescriptor) PeekWords() int                { return shtringTableWords }
func (ShtringTableDescriptor) SizeOf([]word.Word) int         { return shtringTableWords }

func (ShtringTableDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(shtringTableByID, PTR)
	visit(shtringTableByContent, PTR)
	visit(shtringTableNextID, WORD)
}

// ShtringTableView is a convenience accessor over a shtring table cell's words.
type ShtringTableView []word.Word

func (v ShtringTableView) ByID() word.Pointer      { return word.Pointer(v[shtringTableByID]) }
func (v ShtringTableView) ByContent() word.Pointer { return word.Pointer(v[shtringTableByContent]) }
func (v ShtringTableView) NextID() word.Word       { return v[shtringTableNextID] }

func (v ShtringTableView) SetByID(p word.Pointer)      { v[shtringTableByID] = word.Word(p) }
func (v ShtringTableView) SetByContent(p word.Pointer) { v[shtringTableByContent] = word.Word(p) }
func (v ShtringTableView) SetNextID(id word.Word)      { v[shtringTableNextID] = id }

func init() {
	Register(ShtringTableDescriptor{})
}
