package vm

// globals.go implements the two-way associative cache spec.md §4.F calls for in front of the
// persisted globals trie: 128 lines, each line holding one of two candidate slots for an interned
// id, so a lookup never has to walk the trie on a hit. Process-local and non-persistent: flushed
// at every commit, since cell addresses move (spec.md §5, "Bcode and global caches").
import "github.com/GunterMueller/shades/internal/word"

const globalCacheLines = 128

type globalCacheEntry struct {
	id    word.Word
	value word.Tagged
	valid bool
}

type globalCache struct {
	lines [globalCacheLines][2]globalCacheEntry
	// next picks which of the two ways to evict on a line's next miss, alternating per line
	// (a cheap approximation of LRU that needs no extra bookkeeping per access).
	next [globalCacheLines]uint8
}

func newGlobalCache() *globalCache {
	return &globalCache{}
}

func (c *globalCache) index(id word.Word) int {
	return int(id) % globalCacheLines
}

// lookup returns the cached value for id, if present.
func (c *globalCache) lookup(id word.Word) (word.Tagged, bool) {
	line := &c.lines[c.index(id)]

	for _, way := range line {
		if way.valid && way.id == id {
			return way.value, true
		}
	}

	return 0, false
}

// insert records id -> value, evicting the line's alternating way if both are occupied by a
// different id.
func (c *globalCache) insert(id word.Word, value word.Tagged) {
	idx := c.index(id)
	line := &c.lines[idx]

	for i := range line {
		if line[i].valid && line[i].id == id {
			line[i].value = value
			return
		}
	}

	for i := range line {
		if !line[i].valid {
			line[i] = globalCacheEntry{id: id, value: value, valid: true}
			return
		}
	}

	way := c.next[idx] % 2
	line[way] = globalCacheEntry{id: id, value: value, valid: true}
	c.next[idx]++
}

// flush discards every cached line. Called by the machine at every commit; subsequent lookups
// fall through to the persisted globals trie and repopulate the cache from there.
func (c *globalCache) flush() {
	for i := range c.lines {
		c.lines[i] = [2]globalCacheEntry{}
	}
}
