// Package scrabblelib stands in for the external Scrabble rules engine
// that spec.md treats as a library dependency (Board, Move, Tile, Pos
// with the methods enumerated in the sensor RPC / HTTP control
// surfaces). The move-validity geometry (single-axis placement,
// contiguity, connects-to-existing-tiles) follows the board/axis
// concepts used by the retrieved GoSkrafl move generator, simplified
// to validity-checking a single already-placed move instead of
// generating every legal one.
package scrabblelib

import "fmt"

// BlankLetter is the rune used for an unresolved blank tile.
const BlankLetter = '?'

// BoardSize is the standard 15x15 Scrabble board dimension.
const BoardSize = 15

// CenterRow and CenterCol mark the star square that the opening move
// must cover.
const (
	CenterRow = 7
	CenterCol = 7
)

var tileValues = map[byte]int{
	'A': 1, 'B': 3, 'C': 3, 'D': 2, 'E': 1, 'F': 4, 'G': 2, 'H': 4, 'I': 1,
	'J': 8, 'K': 5, 'L': 1, 'M': 3, 'N': 1, 'O': 1, 'P': 3, 'Q': 10, 'R': 1,
	'S': 1, 'T': 1, 'U': 1, 'V': 4, 'W': 4, 'X': 8, 'Y': 4, 'Z': 10,
	BlankLetter: 0,
}

// StartingBag is the standard English Scrabble tile distribution,
// total 100 tiles, used to seed a new Tile Bag.
var StartingBag = map[byte]int{
	'A': 9, 'B': 2, 'C': 2, 'D': 4, 'E': 12, 'F': 2, 'G': 3, 'H': 2, 'I': 9,
	'J': 1, 'K': 1, 'L': 4, 'M': 2, 'N': 6, 'O': 8, 'P': 2, 'Q': 1, 'R': 6,
	'S': 4, 'T': 6, 'U': 4, 'V': 2, 'W': 2, 'X': 1, 'Y': 2, 'Z': 1,
	BlankLetter: 2,
}

// Tile is a single letter tile, A-Z, or the blank marker. Equality is
// by letter: two blanks are equal regardless of any letter later
// assigned to either of them on the board.
type Tile struct {
	letter byte
}

// NewTile constructs a Tile from an uppercase A-Z letter or the blank
// marker '?'. It returns an error for anything else.
func NewTile(letter byte) (Tile, error) {
	if letter == BlankLetter {
		return Tile{letter: letter}, nil
	}
	if letter < 'A' || letter > 'Z' {
		return Tile{}, fmt.Errorf("invalid tile letter %q", letter)
	}
	return Tile{letter: letter}, nil
}

// MustTile is NewTile for callers (tests, constants) that already know
// the letter is valid.
func MustTile(letter byte) Tile {
	t, err := NewTile(letter)
	if err != nil {
		panic(err)
	}
	return t
}

// Letter returns the tile's letter (or the blank marker).
func (t Tile) Letter() byte { return t.letter }

// IsBlank reports whether this tile is the blank marker.
func (t Tile) IsBlank() bool { return t.letter == BlankLetter }

// Value returns the tile's point value; blanks are always worth 0,
// even after a letter has been assigned to them on the board.
func (t Tile) Value() int { return tileValues[t.letter] }

func (t Tile) String() string { return string(t.letter) }
