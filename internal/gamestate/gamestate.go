package gamestate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/resolver"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/tilebag"
)

// ErrInitialMisdraw is returned from ProcessRackDelta when player1's
// rack overshoots seven tiles during the start-of-game implicit draw,
// a state the noise filter alone cannot resolve.
var ErrInitialMisdraw = errors.New("gamestate: player1 initial rack exceeds seven tiles")

// GameState is the Game State (C4): the per-match orchestrator owning
// the shared Tile Bag and Board, one Board Resolver, two Rack
// Resolvers, two Player Infos and the turn counter. All exported
// methods serialize on an internal mutex — the owning Socket Handlers
// call in from their own goroutines.
type GameState struct {
	mu sync.Mutex

	matchID   string
	bag       *tilebag.Bag
	board     *scrabblelib.Board
	boardRes  *resolver.BoardResolver
	rackRes   map[Role]*resolver.RackResolver
	players   map[Role]*PlayerInfo
	turnN     int
	confirmer MoveConfirmer
	log       *obs.Logger
}

// New constructs a fresh Game State for a newly assigned match. Both
// rack resolvers start in Drawing state, matching a rack sensor that
// has not yet reported a full seven-tile hand.
func New(matchID string, player1, player2 PlayerInfo, confirmer MoveConfirmer, log *obs.Logger) *GameState {
	bag := tilebag.New()
	board := scrabblelib.NewBoard()
	gs := &GameState{
		matchID:  matchID,
		bag:      bag,
		board:    board,
		boardRes: resolver.NewBoardResolver(board, log.WithField("resolver", "board")),
		rackRes: map[Role]*resolver.RackResolver{
			RolePlayer1: resolver.NewRackResolver(bag, log.WithField("resolver", "rack"), string(RolePlayer1)),
			RolePlayer2: resolver.NewRackResolver(bag, log.WithField("resolver", "rack"), string(RolePlayer2)),
		},
		players: map[Role]*PlayerInfo{
			RolePlayer1: &player1,
			RolePlayer2: &player2,
		},
		confirmer: confirmer,
		log:       log.WithField("match_id", matchID),
	}
	return gs
}

// MatchID returns the match this Game State belongs to.
func (gs *GameState) MatchID() string { return gs.matchID }

// PlayingRole is the seat expected to place tiles (or pass/exchange)
// this turn.
func (gs *GameState) PlayingRole() Role {
	if gs.turnN%2 == 0 {
		return RolePlayer1
	}
	return RolePlayer2
}

// Player returns a copy of the named seat's public record.
func (gs *GameState) Player(role Role) PlayerInfo {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return *gs.players[role]
}

// Board exposes the shared board for read-only queries (challengeable
// words, rendering). Callers must not mutate it directly.
func (gs *GameState) Board() *scrabblelib.Board { return gs.board }

// TurnNumber returns the current turn counter, used by the HTTP
// control adapter's turn-number desync check.
func (gs *GameState) TurnNumber() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.turnN
}

// ProcessBoardDelta routes a board sensor's snapshot to the Board
// Resolver.
func (gs *GameState) ProcessBoardDelta(now time.Time, d resolver.BoardDelta) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.boardRes.ProcessDelta(now, d)
}

// ProcessRackDelta routes a rack sensor's snapshot to the matching
// seat's Rack Resolver. For player1 specifically, it also implements
// the start-of-game special case: since nothing ever calls end_turn
// before turn zero's first real play, the resolver would otherwise
// never leave Drawing state. Once player1's rack reaches exactly seven
// tiles with turn_n still at zero, an implicit end_turn is synthesized
// so player1's resolver is ready to play.
func (gs *GameState) ProcessRackDelta(now time.Time, role Role, snapshot resolver.Tiles) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	r, ok := gs.rackRes[role]
	if !ok {
		return fmt.Errorf("gamestate: role %q has no rack resolver", role)
	}
	if err := r.ProcessDelta(now, snapshot); err != nil {
		return err
	}

	if role == RolePlayer1 && gs.turnN == 0 && r.State() == resolver.Drawing {
		switch n := r.NTiles(); {
		case n == 7:
			if err := r.EndTurn(now); err != nil {
				gs.log.Errorf(err, "implicit start-of-game end_turn for player1 failed")
			}
		case n > 7:
			return ErrInitialMisdraw
		}
	}
	return nil
}

// EndTurn resolves the current turn: it validates both rack resolvers
// are in the expected states, commits all three resolvers, classifies
// the turn as play, exchange, or pass, and — for a play — notifies the
// board sensor via the Move Confirmer and checks for the end-of-game
// bonus.
func (gs *GameState) EndTurn(ctx context.Context, now time.Time, playerTimeMs int64) (EndOfTurnInfo, TurnKind, error) {
	gs.mu.Lock()

	playingRole := gs.playingRoleLocked()
	drawingRole := playingRole.Opposite()
	playingRes := gs.rackRes[playingRole]
	drawingRes := gs.rackRes[drawingRole]

	if playingRes.State() != resolver.Playing {
		gs.mu.Unlock()
		return EndOfTurnInfo{}, "", fmt.Errorf("gamestate: playing resolver for %s not in Playing state", playingRole)
	}
	if drawingRes.NTiles() > 7 {
		gs.mu.Unlock()
		return EndOfTurnInfo{}, "", fmt.Errorf("gamestate: drawing resolver for %s has more than seven tiles", drawingRole)
	}

	playingDelta := playingRes.Delta()
	boardDelta := gs.boardRes.Delta()
	move := resolver.DeltaToMove(boardDelta)

	if err := playingRes.EndTurn(now); err != nil {
		gs.mu.Unlock()
		return EndOfTurnInfo{}, "", fmt.Errorf("committing playing rack resolver: %w", err)
	}
	if err := drawingRes.EndTurn(now); err != nil {
		gs.mu.Unlock()
		return EndOfTurnInfo{}, "", fmt.Errorf("committing drawing rack resolver: %w", err)
	}
	if err := gs.boardRes.EndTurn(now); err != nil {
		gs.mu.Unlock()
		return EndOfTurnInfo{}, "", fmt.Errorf("committing board resolver: %w", err)
	}

	playedCount := total(playingDelta)
	kind := KindPass
	switch {
	case playedCount > 0 && len(boardDelta) == 0:
		kind = KindExchange
	case playedCount == 0 && len(boardDelta) == 0:
		kind = KindPass
	default:
		kind = KindPlay
		boardHist := histogramOf(boardDelta)
		if !tilesEqual(boardHist, playingDelta) {
			gs.mu.Unlock()
			return EndOfTurnInfo{}, "", fmt.Errorf("gamestate: tiles played %v do not match tiles removed from rack %v", boardHist, playingDelta)
		}
	}

	var bonus *int
	if kind == KindPlay && gs.bag.NTiles() == 0 && playingRes.NTiles() == 0 {
		if v := 2 * rackValue(drawingRes.CurrentRack()); v != 0 {
			bonus = &v
		}
	}

	gs.players[playingRole].AccumulatedTimeMs = playerTimeMs

	info := EndOfTurnInfo{
		Score:          gs.board.GetScore(),
		NOfUnsetBlanks: move.NUnsetBlanks(),
		EndGameBonus:   bonus,
	}
	gs.players[playingRole].CumulativeScore = info.Score

	gs.turnN++
	matchID := gs.matchID
	confirmer := gs.confirmer
	gs.mu.Unlock()

	// The board sensor is confirmed after the commit and outside
	// gs.mu: the move is already fully materialized, and ConfirmMove
	// retries with backoff (assign.go) — a slow or down board sensor
	// must not stall every other ProcessRackDelta/ProcessBoardDelta/
	// TurnNumber call against this match while it retries.
	if kind == KindPlay {
		if err := confirmer.ConfirmMove(ctx, matchID, move); err != nil {
			gs.log.Errorf(err, "confirming move with board sensor")
		}
	}

	return info, kind, nil
}

func (gs *GameState) playingRoleLocked() Role {
	if gs.turnN%2 == 0 {
		return RolePlayer1
	}
	return RolePlayer2
}

func total(t resolver.Tiles) int {
	n := 0
	for _, c := range t {
		n += c
	}
	return n
}

func histogramOf(d resolver.BoardDelta) resolver.Tiles {
	h := resolver.Tiles{}
	for _, tile := range d {
		h[tile]++
	}
	return h
}

func tilesEqual(a, b resolver.Tiles) bool {
	if len(a) != len(b) {
		return false
	}
	for tile, count := range a {
		if b[tile] != count {
			return false
		}
	}
	return true
}

func rackValue(rack resolver.Tiles) int {
	v := 0
	for tile, count := range rack {
		v += tile.Value() * count
	}
	return v
}
