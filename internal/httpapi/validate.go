package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/wricardo/scrabble-table-server/internal/gamestate"
)

// validate implements the validate(request) helper from §4.9: it
// parses match_id and turn_number, resolves the Game State, and
// checks that game_state.turn_number + turnModifier == turn_number.
// turnModifier is 0 for most endpoints and -1 for challenge and
// blank-resolution, which reference the turn that just ended rather
// than the one about to be played.
func (s *Server) validate(r *http.Request, turnModifier int) (*gamestate.GameState, error) {
	q := r.URL.Query()

	matchID := q.Get("match_id")
	if matchID == "" {
		return nil, fmt.Errorf("match_id is required")
	}

	turnNumberStr := q.Get("turn_number")
	turnNumber, err := strconv.Atoi(turnNumberStr)
	if err != nil {
		return nil, fmt.Errorf("turn_number must be an integer: %w", err)
	}

	gs, ok := s.store.Get(matchID)
	if !ok {
		return nil, fmt.Errorf("no match with id %s", matchID)
	}

	if gs.TurnNumber()+turnModifier != turnNumber {
		return nil, fmt.Errorf("turn_number %d does not match expected %d", turnNumber, gs.TurnNumber()+turnModifier)
	}
	return gs, nil
}
