package cell

import "github.com/GunterMueller/shades/internal/word"

// TrieBranchTag and TrieLeafTag together implement the persistent binary trie that backs every
// "trie of X keyed by an integer id" root named in spec.md §3/§4.C (bcodes, globals,
// blocked_threads) and the §8 "bump-allocate one trie" / "non-destructive update" scenarios.
// Grounded on the shape of hibase-0.1.3/trie.c: a key is walked one bit at a time from the most
// significant bit down, branching into an existing subtree only where two keys actually diverge,
// so a trie holding one key is a single leaf and branch nodes appear only at genuine collisions.
// Insert is non-destructive: it path-copies every branch node from the root down to the new or
// changed leaf, sharing every untouched subtree with the previous root.
const (
	TrieBranchTag Tag = 6
	TrieLeafTag   Tag = 7
)

const (
	trieBranchLeft  = 1
	trieBranchRight = 2
	trieBranchWords = 3

	trieLeafKey   = 1
	trieLeafValue = 2
	trieLeafWords = 3
)

// TrieBranchWords and TrieLeafWords are the fixed cell sizes, in words including the header, of
// the two trie cell kinds.
func TrieBranchWords() int { return trieBranchWords }
func TrieLeafWords() int   { return trieLeafWords }

// NewTrieBranchHeader builds the header word for a branch cell. level is the 0-based bit position
// (0 = most significant bit of the key) this branch discriminates on; it is recovered from the
// header so a find/insert walk never needs a side channel for depth.
func NewTrieBranchHeader(level int) word.Word {
	return NewHeader(TrieBranchTag, uint32(level))
}

func trieBranchLevel(header word.Word) int {
	return int(HeaderData(header))
}

// NewTrieLeafHeader builds the header word for a leaf cell. Leaves carry no header data.
func NewTrieLeafHeader() word.Word {
	return NewHeader(TrieLeafTag, 0)
}

type TrieBranchDescriptor struct{}

var _ Descriptor = TrieBranchDescriptor{}

func (TrieBranchDescriptor) Tag() Tag        { return TrieBranchTag }
func (TrieBranchDescriptor) Name() string    { return "trie-branch" }
func (TrieBranchDescriptor) PeekWords() int  { return trieBranchWords }
func (TrieBranchDescriptor) SizeOf([]word.Word) int { return trieBranchWords }

func (TrieBranchDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(trieBranchLeft, PTR)
	visit(trieBranchRight, PTR)
}

// TrieBranchView is a convenience accessor over a branch cell's words.
type TrieBranchView []word.Word

func (b TrieBranchView) Level() int            { return trieBranchLevel(b[0]) }
func (b TrieBranchView) Left() word.Pointer     { return word.Pointer(b[trieBranchLeft]) }
func (b TrieBranchView) Right() word.Pointer    { return word.Pointer(b[trieBranchRight]) }
func (b TrieBranchView) SetLeft(p word.Pointer)  { b[trieBranchLeft] = word.Word(p) }
func (b TrieBranchView) SetRight(p word.Pointer) { b[trieBranchRight] = word.Word(p) }

type TrieLeafDescriptor struct{}

var _ Descriptor = TrieLeafDescriptor{}

func (TrieLeafDescriptor) Tag() Tag        { return TrieLeafTag }
func (TrieLeafDescriptor) Name() string    { return "trie-leaf" }
func (TrieLeafDescriptor) PeekWords() int  { return trieLeafWords }
func (TrieLeafDescriptor) SizeOf([]word.Word) int { return trieLeafWords }

func (TrieLeafDescriptor) Walk(cellWords []word.Word, visit func(index int, kind SlotKind)) {
	visit(trieLeafKey, WORD)
	visit(trieLeafValue, TAGGED)
}

// TrieLeafView is a convenience accessor over a leaf cell's words.
type TrieLeafView []word.Word

func (l TrieLeafView) Key() word.Word         { return l[trieLeafKey] }
func (l TrieLeafView) Value() word.Tagged     { return word.Tagged(l[trieLeafValue]) }
func (l TrieLeafView) SetKey(k word.Word)     { l[trieLeafKey] = k }
func (l TrieLeafView) SetValue(v word.Tagged) { l[trieLeafValue] = word.Word(v) }

func init() {
	Register(TrieBranchDescriptor{})
	Register(TrieLeafDescriptor{})
}
