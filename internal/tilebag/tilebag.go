// Package tilebag implements the Tile Bag (C1): the multiset of tiles
// not yet drawn, seeded with the standard English Scrabble
// distribution. Grounded on the retrieved original_source/tile_bag.py.
package tilebag

import (
	"sync"

	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
)

// Bag is a mapping from Tile to remaining count. It is safe for
// concurrent use.
type Bag struct {
	mu   sync.Mutex
	hist map[scrabblelib.Tile]int
}

// New seeds a Bag with the standard starting distribution (100 tiles
// total, including 2 blanks).
func New() *Bag {
	hist := make(map[scrabblelib.Tile]int, len(scrabblelib.StartingBag))
	for letter, count := range scrabblelib.StartingBag {
		hist[scrabblelib.MustTile(letter)] = count
	}
	return &Bag{hist: hist}
}

// IsFeasible reports whether every tile in m is available in at least
// the requested count.
func (b *Bag) IsFeasible(m map[scrabblelib.Tile]int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.isFeasibleLocked(m)
}

func (b *Bag) isFeasibleLocked(m map[scrabblelib.Tile]int) bool {
	for tile, count := range m {
		if b.hist[tile] < count {
			return false
		}
	}
	return true
}

// Remove atomically removes m from the bag. It leaves the bag
// unmutated and returns false if any tile in m is not feasible.
func (b *Bag) Remove(m map[scrabblelib.Tile]int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isFeasibleLocked(m) {
		return false
	}
	for tile, count := range m {
		b.hist[tile] -= count
	}
	return true
}

// Add adds m to the bag. Unlike Remove, it does not check against the
// starting distribution — Empty+Add is a deliberate test seam for
// setting up bag contents that couldn't otherwise be reached by play.
func (b *Bag) Add(m map[scrabblelib.Tile]int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tile, count := range m {
		b.hist[tile] += count
	}
	return true
}

// Empty drains every tile from the bag. Test aid.
func (b *Bag) Empty() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for tile := range b.hist {
		b.hist[tile] = 0
	}
}

// NTiles returns the total number of tiles remaining in the bag.
func (b *Bag) NTiles() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nTilesLocked()
}

func (b *Bag) nTilesLocked() int {
	n := 0
	for _, count := range b.hist {
		n += count
	}
	return n
}

// ExpectedOnRack returns how many tiles a rack should hold after
// drawing back up from currentRack, capped at 7 by the bag running
// dry.
func (b *Bag) ExpectedOnRack(currentRack map[scrabblelib.Tile]int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	onRack := 0
	for _, count := range currentRack {
		onRack += count
	}
	expected := onRack + b.nTilesLocked()
	if expected > 7 {
		expected = 7
	}
	return expected
}
