package root

import (
	"errors"
	"testing"

	"github.com/GunterMueller/shades/internal/word"
)

func TestBlock_EncodeDecode(t *testing.T) {
	t.Parallel()

	b := &Block{
		Timestamp:        42,
		Bcodes:           word.Pointer(100),
		Globals:          word.Pointer(200),
		InternedShtrings: word.Pointer(300),
		BlockedThreads:   word.Pointer(400),
		HighestThreadID:  7,
	}
	b.Contexts[0] = word.Pointer(10)
	b.Contexts[NumPriorities-1] = word.Pointer(20)

	page := make([]word.Word, 128)
	b.Encode(page)

	got, err := Decode(page)
	if err != nil {
		t.Fatalf("Decode: %s", err)
	}

	if got.Timestamp != b.Timestamp {
		t.Errorf("Timestamp = %d, want %d", got.Timestamp, b.Timestamp)
	}

	if got.Bcodes != b.Bcodes || got.Globals != b.Globals {
		t.Errorf("Bcodes/Globals round trip mismatch: got %+v", got)
	}

	if got.Contexts != b.Contexts {
		t.Errorf("Contexts = %v, want %v", got.Contexts, b.Contexts)
	}
}

func TestBlock_DecodeChecksumMismatch(t *testing.T) {
	t.Parallel()

	b := &Block{Timestamp: 1}
	page := make([]word.Word, 128)
	b.Encode(page)

	page[slotBcodes] = word.Word(999) // corrupt a field without recomputing the checksum

	_, err := Decode(page)
	if !errors.Is(err, ErrChecksum) {
		t.Errorf("Decode() err = %v, want ErrChecksum", err)
	}
}

func TestSmartPtrs_InitAssignUninit(t *testing.T) {
	t.Parallel()

	s := NewSmartPtrs()

	var a, b SmartPtr
	s.Init(&a, word.Pointer(1))
	s.Init(&b, word.Pointer(2))

	if a.Ref() != 1 || b.Ref() != 2 {
		t.Fatalf("Ref() after Init: a=%s b=%s", a.Ref(), b.Ref())
	}

	a.Assign(word.Pointer(10))
	if a.Ref() != 10 {
		t.Errorf("Ref() after Assign = %s, want 10", a.Ref())
	}

	seen := map[word.Pointer]bool{}
	s.Walk(func(p *word.Pointer) { seen[*p] = true })

	if !seen[10] || !seen[2] {
		t.Errorf("Walk did not visit both slots: %v", seen)
	}

	s.Uninit(&a)
	s.Uninit(&b)

	seen = map[word.Pointer]bool{}
	s.Walk(func(p *word.Pointer) { seen[*p] = true })

	if len(seen) != 0 {
		t.Errorf("Walk after Uninit saw %v, want empty", seen)
	}
}

func TestSmartPtrs_DoubleInitPanics(t *testing.T) {
	t.Parallel()

	s := NewSmartPtrs()

	var a SmartPtr
	s.Init(&a, word.Pointer(1))

	defer func() {
		if recover() == nil {
			t.Errorf("double Init did not panic")
		}
	}()

	s.Init(&a, word.Pointer(2))
}

func TestSmartPtrs_UninitWithoutInitPanics(t *testing.T) {
	t.Parallel()

	s := NewSmartPtrs()

	var a SmartPtr

	defer func() {
		if recover() == nil {
			t.Errorf("Uninit without Init did not panic")
		}
	}()

	s.Uninit(&a)
}
