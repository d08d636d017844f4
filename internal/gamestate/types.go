// Package gamestate implements the Game State coordinator (C4) and the
// Game State Store (C5): the per-match orchestrator that routes sensor
// deltas to the right resolver, enforces turn ordering, and reconciles
// rack vs. board deltas at end-of-turn. Grounded on
// original_source/matchdata.py and web_server.py's end-turn handling.
package gamestate

import (
	"context"

	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
)

// Role identifies one of the three sensors attached to a match.
type Role string

const (
	RoleBoard   Role = "board"
	RolePlayer1 Role = "player1"
	RolePlayer2 Role = "player2"
)

// Opposite returns the role that is board↔board, player1↔player2.
func (r Role) Opposite() Role {
	switch r {
	case RolePlayer1:
		return RolePlayer2
	case RolePlayer2:
		return RolePlayer1
	default:
		return RoleBoard
	}
}

// PlayerInfo is the public record the HTTP control surface and sensors
// see for one seat at the table.
type PlayerInfo struct {
	Name              string `json:"name"`
	CumulativeScore   int    `json:"cumulative_score"`
	AccumulatedTimeMs int64  `json:"accumulated_time_ms"`
}

// TurnKind is the mutually exclusive classification end-of-turn
// resolution produces.
type TurnKind string

const (
	KindPlay     TurnKind = "play"
	KindExchange TurnKind = "exchange"
	KindPass     TurnKind = "pass"
)

// EndOfTurnInfo is what the HTTP control surface reports back after a
// successful /end-turn call. EndGameBonus is omitted entirely (not
// just zero-valued) when no bonus applies — literal zero is
// suppressed, matching the source's to_dict behavior.
type EndOfTurnInfo struct {
	Score          int  `json:"score"`
	NOfUnsetBlanks int  `json:"blanks"`
	EndGameBonus   *int `json:"end_game_bonus,omitempty"`
}

// MoveConfirmer is how a Game State tells the sensor fleet that a play
// move was committed, so the board sensor can be informed. The
// Connection Handler implements this; Game State depends only on the
// interface to avoid an import cycle.
type MoveConfirmer interface {
	ConfirmMove(ctx context.Context, matchID string, move scrabblelib.Move) error
}
