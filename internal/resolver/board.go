package resolver

import (
	"fmt"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
)

const (
	boardMaxSnapshotAge = 2000 * time.Millisecond
	boardMinConfidence  = 2
)

// BoardDelta is a sensor's observation of tiles newly visible on the
// board since the last commit.
type BoardDelta map[scrabblelib.Pos]scrabblelib.Tile

// BoardResolver is the Board Delta Resolver (C3): it filters sensor
// noise out of repeated board snapshots and, at end-of-turn, commits
// the confirmed delta as a Move against the shared Board.
type BoardResolver struct {
	board *scrabblelib.Board
	log   *obs.Logger

	delta      BoardDelta
	confidence int
	lastUpdate time.Time
}

// NewBoardResolver constructs a resolver for the match's shared board.
func NewBoardResolver(board *scrabblelib.Board, log *obs.Logger) *BoardResolver {
	return &BoardResolver{board: board, log: log, delta: BoardDelta{}}
}

// ProcessDelta trims positions that merely confirm tiles already
// committed to the board, then validates what remains as a candidate
// move. It never mutates the board itself.
func (r *BoardResolver) ProcessDelta(now time.Time, d BoardDelta) error {
	trimmed := make(BoardDelta, len(d))
	for pos, tile := range d {
		if existing, ok := r.board.GetTile(pos); ok {
			if existing != tile {
				return fmt.Errorf("board delta tile %v at %v conflicts with confirmed tile %v", tile, pos, existing)
			}
			continue // confirmed, not new
		}
		trimmed[pos] = tile
	}

	if len(trimmed) > 7 {
		return fmt.Errorf("board delta has %d new tiles, more than a full rack", len(trimmed))
	}

	if len(trimmed) > 0 {
		if !r.board.IsValidMove(deltaToMove(trimmed)) {
			return fmt.Errorf("board delta %v does not form a valid move", trimmed)
		}
	}

	if boardDeltasEqual(trimmed, r.delta) {
		r.confidence++
	}
	r.delta = trimmed
	r.lastUpdate = now
	return nil
}

// EndTurn commits the resolver's confirmed delta: an empty delta
// succeeds without touching the board (a pass or exchange turn);
// otherwise it is applied to the board as a Move.
func (r *BoardResolver) EndTurn(now time.Time) error {
	if age := now.Sub(r.lastUpdate); age > boardMaxSnapshotAge && len(r.delta) > 0 {
		return fmt.Errorf("most recent board snapshot is %s old, too stale for end-of-turn resolution", age)
	}

	if len(r.delta) == 0 {
		r.confidence = 0
		return nil
	}

	move := deltaToMove(r.delta)
	if !r.board.IsValidMove(move) {
		return fmt.Errorf("committed board delta %v is no longer a valid move", r.delta)
	}

	if r.confidence < boardMinConfidence {
		r.log.Warn("committing board end-of-turn with low confidence delta")
	}

	if err := r.board.ApplyMove(move); err != nil {
		return fmt.Errorf("applying move from board delta: %w", err)
	}

	r.delta = BoardDelta{}
	r.confidence = 0
	return nil
}

// Delta returns the resolver's last confirmed (trimmed) delta.
func (r *BoardResolver) Delta() BoardDelta { return r.delta }

// DeltaToMove converts a BoardDelta into the Move it represents, for
// callers outside this package that need to hand it to a Board or a
// Move Confirmer.
func DeltaToMove(d BoardDelta) scrabblelib.Move { return deltaToMove(d) }

func deltaToMove(d BoardDelta) scrabblelib.Move {
	move := scrabblelib.Move{
		Tiles:     make([]scrabblelib.Tile, 0, len(d)),
		Positions: make([]scrabblelib.Pos, 0, len(d)),
	}
	for pos, tile := range d {
		move.Positions = append(move.Positions, pos)
		move.Tiles = append(move.Tiles, tile)
	}
	return move
}

func boardDeltasEqual(a, b BoardDelta) bool {
	if len(a) != len(b) {
		return false
	}
	for pos, tile := range a {
		if other, ok := b[pos]; !ok || other != tile {
			return false
		}
	}
	return true
}
