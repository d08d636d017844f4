package sensorfleet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/resolver"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/sensorrpc"
)

type assignment struct {
	matchID string
	role    gamestate.Role
}

type matchSensors struct {
	board   *SocketHandler
	player1 *SocketHandler
	player2 *SocketHandler
}

func (m *matchSensors) byRole(role gamestate.Role) *SocketHandler {
	switch role {
	case gamestate.RolePlayer1:
		return m.player1
	case gamestate.RolePlayer2:
		return m.player2
	default:
		return m.board
	}
}

func (m *matchSensors) setRole(role gamestate.Role, h *SocketHandler) {
	switch role {
	case gamestate.RolePlayer1:
		m.player1 = h
	case gamestate.RolePlayer2:
		m.player2 = h
	default:
		m.board = h
	}
}

// ConnectionHandler is the Connection Handler (C7): the matchmaking
// pool that tracks sensors by mac address, assigns triples to new
// matches with bounded retry, and handles reconnection-by-mac.
// Grounded on original_source's connection bookkeeping described in
// spec.md §4.7, with confirm_move retry backoff via jpillora/backoff.
type ConnectionHandler struct {
	mu        sync.Mutex
	available map[sensorrpc.SensorType]map[uint64]*SocketHandler
	assigned  map[uint64]assignment
	active    map[string]*matchSensors

	store *gamestate.Store
	log   *obs.Logger
}

// NewConnectionHandler constructs an empty pool backed by store.
func NewConnectionHandler(store *gamestate.Store, log *obs.Logger) *ConnectionHandler {
	return &ConnectionHandler{
		available: map[sensorrpc.SensorType]map[uint64]*SocketHandler{
			sensorrpc.SensorBoard: {},
			sensorrpc.SensorRack:  {},
		},
		assigned: map[uint64]assignment{},
		active:   map[string]*matchSensors{},
		store:    store,
		log:      log,
	}
}

func compatible(st sensorrpc.SensorType, role gamestate.Role) bool {
	if role == gamestate.RoleBoard {
		return st == sensorrpc.SensorBoard
	}
	return st == sensorrpc.SensorRack
}

// handleRegister implements register_sensor (§4.7).
func (c *ConnectionHandler) handleRegister(h *SocketHandler, raw json.RawMessage) (interface{}, error) {
	var p sensorrpc.RegisterPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding register payload: %w", err)
	}

	c.mu.Lock()
	entry, alreadyAssigned := c.assigned[p.MacAddress]
	_, alreadyAvailable := c.available[p.SensorType][p.MacAddress]
	c.mu.Unlock()

	switch {
	case alreadyAssigned:
		if !compatible(p.SensorType, entry.role) {
			go h.Close()
			return sensorrpc.RegisterResult{Assigned: false}, nil
		}
		h.SetIdentity(p.MacAddress, p.SensorType)
		if c.reconnectSensor(entry.matchID, entry.role, h, p.MacAddress) {
			return sensorrpc.RegisterResult{Assigned: true}, nil
		}
		go h.Close()
		return sensorrpc.RegisterResult{Assigned: false}, nil

	case alreadyAvailable:
		go h.Close()
		return sensorrpc.RegisterResult{Assigned: false}, nil

	default:
		h.SetIdentity(p.MacAddress, p.SensorType)
		c.mu.Lock()
		c.available[p.SensorType][p.MacAddress] = h
		c.mu.Unlock()
		return sensorrpc.RegisterResult{Assigned: false}, nil
	}
}

// reconnectSensor succeeds only if the prior handler for that role is
// no longer connected and the macs match.
func (c *ConnectionHandler) reconnectSensor(matchID string, role gamestate.Role, newHandler *SocketHandler, mac uint64) bool {
	c.mu.Lock()
	sensors, ok := c.active[matchID]
	if !ok {
		c.mu.Unlock()
		return false
	}
	old := sensors.byRole(role)
	if old == nil || old.IsConnected() || old.MacAddress() != mac {
		c.mu.Unlock()
		return false
	}
	sensors.setRole(role, newHandler)
	c.mu.Unlock()

	newHandler.SetAssignment(role, matchID)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()
	reply, err := newHandler.Call(ctx, sensorrpc.OpAssignMatch, sensorrpc.AssignMatchPayload{MatchID: matchID, Role: string(role)})
	if err != nil {
		c.log.Errorf(err, "reconnect assignMatch call failed")
		return false
	}
	var result sensorrpc.SuccessResult
	if err := json.Unmarshal(reply.Payload, &result); err != nil {
		return false
	}
	return result.Success
}

// handleSendRack implements RackFeed.sendRack.
func (c *ConnectionHandler) handleSendRack(h *SocketHandler, raw json.RawMessage) (interface{}, error) {
	var p sensorrpc.SendRackPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding sendRack payload: %w", err)
	}

	role := h.Role()
	matchID := h.MatchID()
	if matchID == "" {
		return nil, fmt.Errorf("sensorfleet: rack sensor is not assigned to a match")
	}
	gs, ok := c.store.Get(matchID)
	if !ok {
		return nil, fmt.Errorf("sensorfleet: match %s not found", matchID)
	}

	snapshot, err := tilesFromString(p.Tiles)
	if err != nil {
		return sensorrpc.AcceptedResult{Accepted: false}, nil
	}
	if err := gs.ProcessRackDelta(time.Now(), role, snapshot); err != nil {
		c.log.Errorf(err, "rack delta rejected")
		return sensorrpc.AcceptedResult{Accepted: false}, nil
	}
	return sensorrpc.AcceptedResult{Accepted: true}, nil
}

// handleSendMove implements BoardFeed.sendMove.
func (c *ConnectionHandler) handleSendMove(h *SocketHandler, raw json.RawMessage) (interface{}, error) {
	var p sensorrpc.SendMovePayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decoding sendMove payload: %w", err)
	}

	matchID := h.MatchID()
	if matchID == "" {
		return nil, fmt.Errorf("sensorfleet: board sensor is not assigned to a match")
	}
	gs, ok := c.store.Get(matchID)
	if !ok {
		return nil, fmt.Errorf("sensorfleet: match %s not found", matchID)
	}

	delta, err := boardDeltaFromObservations(p.Tiles)
	if err != nil {
		return sensorrpc.AcceptedResult{Accepted: false}, nil
	}
	if err := gs.ProcessBoardDelta(time.Now(), delta); err != nil {
		c.log.Errorf(err, "board delta rejected")
		return sensorrpc.AcceptedResult{Accepted: false}, nil
	}
	return sensorrpc.AcceptedResult{Accepted: true}, nil
}

// onDisconnect implements on_disconnect (§4.7): available entries are
// dropped; assigned entries are left in place for the reconnect path.
func (c *ConnectionHandler) onDisconnect(h *SocketHandler) {
	mac := h.MacAddress()
	if mac == 0 {
		c.log.WithField("mac", mac).Warn("disconnect of an unregistered sensor")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pool := range c.available {
		if pool[mac] == h {
			delete(pool, mac)
			return
		}
	}
	// if mac is in c.assigned, it stays — the reconnect path revives it.
}

func tilesFromString(s string) (resolver.Tiles, error) {
	tiles := resolver.Tiles{}
	for i := 0; i < len(s); i++ {
		letter := s[i]
		if letter >= 'a' && letter <= 'z' {
			letter -= 'a' - 'A'
		}
		t, err := scrabblelib.NewTile(letter)
		if err != nil {
			return nil, err
		}
		tiles[t]++
	}
	return tiles, nil
}

func boardDeltaFromObservations(observations []sensorrpc.BoardTileObservation) (resolver.BoardDelta, error) {
	delta := resolver.BoardDelta{}
	for _, o := range observations {
		pos, err := scrabblelib.NewPos(o.Pos.Row, o.Pos.Col)
		if err != nil {
			return nil, err
		}
		if _, dup := delta[pos]; dup {
			return nil, fmt.Errorf("sensorfleet: duplicate board position %v in observation", pos)
		}
		t, err := scrabblelib.NewTile(o.Value)
		if err != nil {
			return nil, err
		}
		delta[pos] = t
	}
	return delta, nil
}
