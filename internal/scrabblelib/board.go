package scrabblelib

import (
	"fmt"
	"strings"
)

type cell struct {
	tile          Tile
	displayLetter byte // 0 until a blank's letter has been resolved
}

type appliedMove struct {
	positions  []Pos
	tiles      []Tile
	scoreDelta int
}

// Board is a 15x15 Scrabble board. It is not safe for concurrent use;
// callers (the Game State) serialize access with their own lock.
type Board struct {
	cells   [BoardSize][BoardSize]*cell
	score   int
	history []appliedMove
}

// NewBoard returns an empty board.
func NewBoard() *Board {
	return &Board{}
}

// GetTile returns the tile occupying pos, if any. Blank tiles are
// always reported with the blank marker, never their assigned display
// letter, since Tile identity ignores later letter assignment.
func (b *Board) GetTile(pos Pos) (Tile, bool) {
	c := b.cells[pos.Row][pos.Col]
	if c == nil {
		return Tile{}, false
	}
	return c.tile, true
}

// IsEmpty reports whether no tile has been placed yet.
func (b *Board) IsEmpty() bool {
	for _, row := range b.cells {
		for _, c := range row {
			if c != nil {
				return false
			}
		}
	}
	return true
}

// IsValidMove checks move geometry: a single row or column, no gaps
// along that axis (accounting for tiles already on the board), and —
// unless this is the opening move of the game — that the move touches
// at least one tile already on the board, either by extending a line
// or by crossing it perpendicularly. The opening move must cover the
// center square.
func (b *Board) IsValidMove(move Move) bool {
	if move.isEmpty() || len(move.Positions) != len(move.Tiles) {
		return false
	}
	if hasDuplicatePos(move.Positions) {
		return false
	}

	rows := map[int]bool{}
	cols := map[int]bool{}
	for _, p := range move.Positions {
		rows[p.Row] = true
		cols[p.Col] = true
	}
	horizontal := len(rows) == 1
	vertical := len(cols) == 1
	if !horizontal && !vertical {
		return false
	}

	placed := make(map[Pos]Tile, len(move.Positions))
	for i, p := range move.Positions {
		placed[p] = move.Tiles[i]
	}

	var spanLen int
	if horizontal {
		row := move.Positions[0].Row
		minCol, maxCol := minMax(colsOf(move.Positions))
		for col := minCol; col <= maxCol; col++ {
			pos := Pos{Row: row, Col: col}
			if _, onBoard := b.GetTile(pos); !onBoard {
				if _, inMove := placed[pos]; !inMove {
					return false // gap in the row
				}
			}
		}
		spanLen = maxCol - minCol + 1
	} else {
		col := move.Positions[0].Col
		minRow, maxRow := minMax(rowsOf(move.Positions))
		for row := minRow; row <= maxRow; row++ {
			pos := Pos{Row: row, Col: col}
			if _, onBoard := b.GetTile(pos); !onBoard {
				if _, inMove := placed[pos]; !inMove {
					return false // gap in the column
				}
			}
		}
		spanLen = maxRow - minRow + 1
	}

	if b.IsEmpty() {
		for pos := range placed {
			if pos.Row == CenterRow && pos.Col == CenterCol {
				return true
			}
		}
		return false
	}

	// Extends an existing line: the axis span is longer than the
	// number of newly placed tiles, so at least one cell in the span
	// was already occupied.
	if spanLen > len(move.Positions) {
		return true
	}

	// Otherwise it must cross an existing tile perpendicularly.
	for pos := range placed {
		for _, nb := range []Pos{
			{Row: pos.Row - 1, Col: pos.Col},
			{Row: pos.Row + 1, Col: pos.Col},
			{Row: pos.Row, Col: pos.Col - 1},
			{Row: pos.Row, Col: pos.Col + 1},
		} {
			if nb.Row < 0 || nb.Row >= BoardSize || nb.Col < 0 || nb.Col >= BoardSize {
				continue
			}
			if _, inMove := placed[nb]; inMove {
				continue
			}
			if _, onBoard := b.GetTile(nb); onBoard {
				return true
			}
		}
	}
	return false
}

// ApplyMove places move's tiles on the board and adds their point
// values to the cumulative score. It fails without mutating the board
// if the move is not valid.
func (b *Board) ApplyMove(move Move) error {
	if !b.IsValidMove(move) {
		return fmt.Errorf("invalid move: %v at %v", move.Tiles, move.Positions)
	}

	delta := 0
	for i, pos := range move.Positions {
		tile := move.Tiles[i]
		b.cells[pos.Row][pos.Col] = &cell{tile: tile}
		delta += tile.Value()
	}
	b.score += delta

	b.history = append(b.history, appliedMove{
		positions:  append([]Pos(nil), move.Positions...),
		tiles:      append([]Tile(nil), move.Tiles...),
		scoreDelta: delta,
	})
	return nil
}

// UndoMove reverts the most recently applied move, clearing its
// squares and subtracting its score contribution.
func (b *Board) UndoMove() error {
	if len(b.history) == 0 {
		return fmt.Errorf("no move to undo")
	}
	last := b.history[len(b.history)-1]
	b.history = b.history[:len(b.history)-1]

	for _, pos := range last.positions {
		b.cells[pos.Row][pos.Col] = nil
	}
	b.score -= last.scoreDelta
	return nil
}

// GetScore returns the cumulative score across every applied move
// still standing (i.e. not undone).
func (b *Board) GetScore() int { return b.score }

// GetChallengeWords returns every word formed by the most recently
// applied move: the main line plus any perpendicular word each newly
// placed tile crosses. Unresolved blanks render as the blank marker,
// which never matches a dictionary entry until /blanks resolves them.
func (b *Board) GetChallengeWords() []string {
	if len(b.history) == 0 {
		return nil
	}
	last := b.history[len(b.history)-1]
	return b.wordsForPositions(last.positions)
}

// SetBlanks assigns display letters, in placement order, to the blank
// tiles from the most recently applied move. The number of letters
// must exactly match the number of unresolved blanks in that move.
func (b *Board) SetBlanks(letters string) error {
	if len(b.history) == 0 {
		return fmt.Errorf("no move to assign blanks to")
	}
	last := b.history[len(b.history)-1]

	var blankPositions []Pos
	for i, t := range last.tiles {
		if t.IsBlank() {
			blankPositions = append(blankPositions, last.positions[i])
		}
	}
	if len(letters) != len(blankPositions) {
		return fmt.Errorf("expected %d blank letters, got %d", len(blankPositions), len(letters))
	}
	for i, pos := range blankPositions {
		letter := letters[i]
		if letter < 'A' || letter > 'Z' {
			return fmt.Errorf("invalid blank letter %q", letter)
		}
		b.cells[pos.Row][pos.Col].displayLetter = letter
	}
	return nil
}

func (b *Board) String() string {
	var sb strings.Builder
	for row := 0; row < BoardSize; row++ {
		for col := 0; col < BoardSize; col++ {
			c := b.cells[row][col]
			if c == nil {
				sb.WriteByte('.')
				continue
			}
			sb.WriteByte(displayChar(c))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func displayChar(c *cell) byte {
	if c.tile.IsBlank() {
		if c.displayLetter != 0 {
			return c.displayLetter
		}
		return BlankLetter
	}
	return c.tile.Letter()
}

func (b *Board) wordsForPositions(positions []Pos) []string {
	rows := map[int]bool{}
	cols := map[int]bool{}
	for _, p := range positions {
		rows[p.Row] = true
		cols[p.Col] = true
	}
	horizontal := len(rows) == 1 && len(positions) > 1
	vertical := len(cols) == 1 && len(positions) > 1

	seen := map[string]bool{}
	var words []string
	add := func(w string) {
		if len(w) > 1 && !seen[w] {
			seen[w] = true
			words = append(words, w)
		}
	}

	switch {
	case len(positions) == 1:
		add(b.runAt(positions[0], true))
		add(b.runAt(positions[0], false))
	case horizontal:
		add(b.runAt(positions[0], true))
		for _, p := range positions {
			add(b.runAt(p, false))
		}
	case vertical:
		add(b.runAt(positions[0], false))
		for _, p := range positions {
			add(b.runAt(p, true))
		}
	}
	return words
}

// runAt walks outward from pos along the given axis and returns the
// contiguous run of letters it belongs to.
func (b *Board) runAt(pos Pos, horizontal bool) string {
	dRow, dCol := 1, 0
	if horizontal {
		dRow, dCol = 0, 1
	}

	start := pos
	for {
		prev := Pos{Row: start.Row - dRow, Col: start.Col - dCol}
		if prev.Row < 0 || prev.Row >= BoardSize || prev.Col < 0 || prev.Col >= BoardSize {
			break
		}
		if b.cells[prev.Row][prev.Col] == nil {
			break
		}
		start = prev
	}

	var sb strings.Builder
	cur := start
	for cur.Row >= 0 && cur.Row < BoardSize && cur.Col >= 0 && cur.Col < BoardSize {
		c := b.cells[cur.Row][cur.Col]
		if c == nil {
			break
		}
		sb.WriteByte(displayChar(c))
		cur = Pos{Row: cur.Row + dRow, Col: cur.Col + dCol}
	}
	return sb.String()
}

func hasDuplicatePos(positions []Pos) bool {
	seen := make(map[Pos]bool, len(positions))
	for _, p := range positions {
		if seen[p] {
			return true
		}
		seen[p] = true
	}
	return false
}

func colsOf(positions []Pos) []int {
	cols := make([]int, len(positions))
	for i, p := range positions {
		cols[i] = p.Col
	}
	return cols
}

func rowsOf(positions []Pos) []int {
	rows := make([]int, len(positions))
	for i, p := range positions {
		rows[i] = p.Row
	}
	return rows
}

func minMax(vals []int) (int, int) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
