package shtring

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GunterMueller/shades/internal/cell"
	"github.com/GunterMueller/shades/internal/heap"
	"github.com/GunterMueller/shades/internal/word"
)

func newTestHeap(t *testing.T) *heap.Heap {
	t.Helper()

	h, err := heap.New(heap.Config{HeapSize: 64 * 1024, PageSize: 4096})
	require.NoError(t, err)

	return h
}

func TestInternDeduplicates(t *testing.T) {
	h := newTestHeap(t)

	root, id1, ptr1, wasNew1 := Intern(h, word.Null, []byte("fib"))
	require.True(t, wasNew1)
	require.EqualValues(t, 1, id1)

	root2, id2, ptr2, wasNew2 := Intern(h, root, []byte("fib"))
	require.False(t, wasNew2)
	require.Equal(t, id1, id2)
	require.Equal(t, ptr1, ptr2)
	require.Equal(t, root, root2)
}

func TestInternDistinctStringsGetDistinctIDs(t *testing.T) {
	h := newTestHeap(t)

	root, fibID, _, _ := Intern(h, word.Null, []byte("fib"))
	root, doubleID, _, wasNew := Intern(h, root, []byte("double"))

	require.True(t, wasNew)
	require.NotEqual(t, fibID, doubleID)

	ptr, ok := LookupByID(h, root, fibID)
	require.True(t, ok)
	require.Equal(t, "fib", String(h, ptr))

	ptr, ok = LookupByID(h, root, doubleID)
	require.True(t, ok)
	require.Equal(t, "double", String(h, ptr))
}

func TestLookupByIDUnknown(t *testing.T) {
	h := newTestHeap(t)

	root, _, _, _ := Intern(h, word.Null, []byte("only"))

	_, ok := LookupByID(h, root, 999)
	require.False(t, ok)
}

func TestLookupByIDEmptyTable(t *testing.T) {
	h := newTestHeap(t)

	_, ok := LookupByID(h, word.Null, 1)
	require.False(t, ok)
}

func TestCreateIsNotInterned(t *testing.T) {
	h := newTestHeap(t)

	p1 := Create(h, []byte("same"))
	p2 := Create(h, []byte("same"))

	require.NotEqual(t, p1, p2)
	require.Equal(t, "same", String(h, p1))
	require.Equal(t, "same", String(h, p2))
}

func TestInternManyIDsAreMonotonicAndStable(t *testing.T) {
	h := newTestHeap(t)

	root := word.Null
	ids := make([]word.Word, 0, 50)

	for i := 0; i < 50; i++ {
		var id word.Word

		root, id, _, _ = Intern(h, root, []byte{byte(i), byte(i >> 8)})
		ids = append(ids, id)
	}

	for i, id := range ids {
		require.EqualValues(t, i+1, id)
	}

	for i, id := range ids {
		ptr, ok := LookupByID(h, root, id)
		require.True(t, ok)

		want := []byte{byte(i), byte(i >> 8)}
		require.Equal(t, want, cell.ShtringView(h.Cell(ptr)).Bytes())
	}
}
