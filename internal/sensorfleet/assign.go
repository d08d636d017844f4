package sensorfleet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jpillora/backoff"

	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/sensorrpc"
)

const (
	assignMatchMaxAttempts = 5
	assignMatchAggTimeout  = 1500 * time.Millisecond
	confirmMoveMaxAttempts = 5
	confirmMoveCallTimeout = 1 * time.Second
)

// AssignMatch implements assign_match (§4.7): a bounded retry loop
// that pops one board sensor and two rack sensors from the available
// pool and hands each a DataFeed over a 1.5s aggregate RPC timeout.
//
// Resource-shortage checks happen before any sensor is popped, so a
// shortage leaves the pool untouched (scenario S5). Once sensors are
// popped for an attempt, a later failure on that attempt does not
// return them to the pool — this mirrors an at-least-once assignment
// behavior in the source that looks like a resource leak on retry; it
// is preserved deliberately rather than "fixed" (see DESIGN.md).
func (c *ConnectionHandler) AssignMatch(ctx context.Context, matchID string, player1, player2 gamestate.PlayerInfo) error {
	for attempt := 0; attempt < assignMatchMaxAttempts; attempt++ {
		board, rack1, rack2, err := c.popTriple()
		if err != nil {
			return err
		}

		attemptCtx, cancel := context.WithTimeout(ctx, assignMatchAggTimeout)
		ok := c.assignTriple(attemptCtx, matchID, board, rack1, rack2)
		cancel()

		if !ok {
			c.log.WithField("match_id", matchID).Warn("assign_match attempt failed, sensors consumed without replacement")
			continue
		}

		c.mu.Lock()
		c.assigned[board.MacAddress()] = assignment{matchID: matchID, role: gamestate.RoleBoard}
		c.assigned[rack1.MacAddress()] = assignment{matchID: matchID, role: gamestate.RolePlayer1}
		c.assigned[rack2.MacAddress()] = assignment{matchID: matchID, role: gamestate.RolePlayer2}
		c.active[matchID] = &matchSensors{board: board, player1: rack1, player2: rack2}
		c.mu.Unlock()

		board.SetAssignment(gamestate.RoleBoard, matchID)
		rack1.SetAssignment(gamestate.RolePlayer1, matchID)
		rack2.SetAssignment(gamestate.RolePlayer2, matchID)

		if _, err := c.store.Create(matchID, player1, player2, c); err != nil {
			return fmt.Errorf("creating game state for match %s: %w", matchID, err)
		}
		return nil
	}
	return fmt.Errorf("sensorfleet: assign_match exhausted %d attempts for match %s", assignMatchMaxAttempts, matchID)
}

// popTriple pops one board sensor and two rack sensors from the
// available pool, or returns an error without mutating the pool if
// fewer than that are available.
func (c *ConnectionHandler) popTriple() (board, rack1, rack2 *SocketHandler, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.available[sensorrpc.SensorBoard]) < 1 {
		return nil, nil, nil, fmt.Errorf("sensorfleet: insufficient available boards")
	}
	if len(c.available[sensorrpc.SensorRack]) < 2 {
		return nil, nil, nil, fmt.Errorf("sensorfleet: insufficient available racks")
	}

	board = popAny(c.available[sensorrpc.SensorBoard])
	rack1 = popAny(c.available[sensorrpc.SensorRack])
	rack2 = popAny(c.available[sensorrpc.SensorRack])
	return board, rack1, rack2, nil
}

func popAny(pool map[uint64]*SocketHandler) *SocketHandler {
	for mac, h := range pool {
		delete(pool, mac)
		return h
	}
	return nil
}

// assignTriple sends assignMatch to all three sensors in parallel and
// requires every reply to report success with the sensor still
// connected. It gives up once ctx is done, even if a call is still
// blocked.
func (c *ConnectionHandler) assignTriple(ctx context.Context, matchID string, board, rack1, rack2 *SocketHandler) bool {
	type outcome struct {
		ok bool
	}
	results := make(chan outcome, 3)

	call := func(h *SocketHandler, role gamestate.Role) {
		reply, err := h.Call(ctx, sensorrpc.OpAssignMatch, sensorrpc.AssignMatchPayload{MatchID: matchID, Role: string(role)})
		if err != nil || !h.IsConnected() {
			results <- outcome{ok: false}
			return
		}
		var result sensorrpc.SuccessResult
		if err := json.Unmarshal(reply.Payload, &result); err != nil {
			results <- outcome{ok: false}
			return
		}
		results <- outcome{ok: result.Success}
	}

	go call(board, gamestate.RoleBoard)
	go call(rack1, gamestate.RolePlayer1)
	go call(rack2, gamestate.RolePlayer2)

	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			if !r.ok {
				return false
			}
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// ConfirmMove implements confirm_move (§4.7) and satisfies
// gamestate.MoveConfirmer: up to five attempts, each with a 1s RPC
// timeout, against the match's board sensor. It aborts early on
// persistent disconnect rather than exhausting every attempt.
func (c *ConnectionHandler) ConfirmMove(ctx context.Context, matchID string, move scrabblelib.Move) error {
	c.mu.Lock()
	sensors, ok := c.active[matchID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("sensorfleet: no active sensors for match %s", matchID)
	}
	board := sensors.board

	payload := sensorrpc.ConfirmMovePayload{Tiles: observationsFromMove(move)}

	b := &backoff.Backoff{Min: 100 * time.Millisecond, Max: 800 * time.Millisecond, Factor: 2}
	var lastErr error
	for attempt := 0; attempt < confirmMoveMaxAttempts; attempt++ {
		if !board.IsConnected() {
			return fmt.Errorf("sensorfleet: board sensor for match %s is disconnected", matchID)
		}

		callCtx, cancel := context.WithTimeout(ctx, confirmMoveCallTimeout)
		reply, err := board.Call(callCtx, sensorrpc.OpConfirmMove, payload)
		cancel()
		if err != nil {
			lastErr = err
			time.Sleep(b.Duration())
			continue
		}

		var result sensorrpc.SuccessResult
		if err := json.Unmarshal(reply.Payload, &result); err != nil {
			lastErr = err
			time.Sleep(b.Duration())
			continue
		}
		if result.Success {
			return nil
		}
		lastErr = fmt.Errorf("board sensor reported confirmMove failure")
		time.Sleep(b.Duration())
	}
	return fmt.Errorf("sensorfleet: confirm_move exhausted %d attempts for match %s: %w", confirmMoveMaxAttempts, matchID, lastErr)
}

func observationsFromMove(move scrabblelib.Move) []sensorrpc.BoardTileObservation {
	out := make([]sensorrpc.BoardTileObservation, len(move.Tiles))
	for i, tile := range move.Tiles {
		pos := move.Positions[i]
		out[i] = sensorrpc.BoardTileObservation{
			Value: tile.Letter(),
			Pos:   sensorrpc.PosOnWire{Row: pos.Row, Col: pos.Col},
		}
	}
	return out
}
