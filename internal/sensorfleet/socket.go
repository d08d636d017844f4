// Package sensorfleet implements the Socket Handler (C6) and
// Connection Handler (C7): the per-connection sensor session and the
// mac-address-keyed matchmaking pool that assigns sensor triples to
// matches. Grounded on wricardo-tesla-road-trip-game's
// transport/websocket hub (register/unregister channels, read/write
// pumps, heartbeat via ping/pong) adapted from a per-session hub to a
// per-sensor TCP session with an explicit heartbeat watcher instead of
// gorilla/websocket's ping/pong, since this transport is raw TCP.
package sensorfleet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/sensorrpc"
)

const (
	heartbeatInterval = 1 * time.Second
	heartbeatTimeout  = 5 * time.Second
)

// SocketHandler owns one TCP connection to a sensor: the framed RPC
// codec, a heartbeat timer, and — once registered — the sensor's
// identity and, once assigned, its role in a match.
type SocketHandler struct {
	conn  net.Conn
	codec *sensorrpc.Codec
	log   *obs.Logger
	fleet *ConnectionHandler

	connected atomicBool
	closeOnce sync.Once

	mu         sync.Mutex
	macAddress uint64
	sensorType sensorrpc.SensorType
	role       gamestate.Role
	matchID    string
	lastPulse  time.Time

	pendingMu sync.Mutex
	pending   map[string]chan sensorrpc.Envelope
}

// atomicBool is a tiny bool guarded by a mutex — the teacher's
// codebase doesn't reach for sync/atomic, so neither do we for a
// single flag read from a handful of goroutines.
type atomicBool struct {
	mu sync.Mutex
	v  bool
}

func (b *atomicBool) Store(v bool) { b.mu.Lock(); b.v = v; b.mu.Unlock() }
func (b *atomicBool) Load() bool   { b.mu.Lock(); defer b.mu.Unlock(); return b.v }

// NewSocketHandler wraps an accepted connection. fleet is the owning
// Connection Handler, kept as a back-reference per spec.md §9's note
// on the Socket Handler / Connection Handler cyclic reference.
func NewSocketHandler(conn net.Conn, fleet *ConnectionHandler, log *obs.Logger) *SocketHandler {
	h := &SocketHandler{
		conn:      conn,
		codec:     sensorrpc.NewCodec(conn),
		log:       log,
		fleet:     fleet,
		lastPulse: time.Now(),
		pending:   map[string]chan sensorrpc.Envelope{},
	}
	h.connected.Store(true)
	return h
}

// Serve runs the connection's reader loop and heartbeat watcher until
// EOF, a protocol error, or the heartbeat expires. It always returns
// after the connection has been closed.
func (h *SocketHandler) Serve(ctx context.Context) error {
	readErr := make(chan error, 1)
	go h.readLoop(readErr)

	heartbeatDone := make(chan struct{})
	go h.heartbeatWatch(heartbeatDone)

	var err error
	select {
	case err = <-readErr:
	case <-heartbeatDone:
		err = fmt.Errorf("sensorfleet: heartbeat expired for mac %d", h.MacAddress())
	case <-ctx.Done():
		err = ctx.Err()
	}

	h.Close()
	return err
}

func (h *SocketHandler) readLoop(done chan<- error) {
	for {
		env, err := h.codec.ReadEnvelope()
		if err != nil {
			done <- err
			return
		}
		if env.IsReply() {
			h.deliverReply(env)
			continue
		}
		h.dispatch(env)
	}
}

func (h *SocketHandler) heartbeatWatch(done chan<- struct{}) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for range ticker.C {
		if !h.connected.Load() {
			return
		}
		h.mu.Lock()
		age := time.Since(h.lastPulse)
		h.mu.Unlock()
		if age > heartbeatTimeout {
			close(done)
			return
		}
	}
}

// dispatch handles a sensor-initiated call (register, pulse, sendRack,
// sendMove) and writes the matching reply.
func (h *SocketHandler) dispatch(env sensorrpc.Envelope) {
	if env.Op == sensorrpc.OpRegister {
		// handleRegister's reconnect path issues a server-initiated
		// assignMatch call back over this same connection and blocks
		// for its reply (Call). That reply can only reach Call via
		// this handler's own readLoop delivering it, so register must
		// not be handled inline here — doing so would have this very
		// goroutine blocked waiting on itself. Run it off-goroutine so
		// readLoop stays free to read and deliver that reply; the
		// spawned goroutine writes the register reply itself once
		// handleRegister resolves.
		go h.handleAsync(env, func() (interface{}, error) {
			return h.fleet.handleRegister(h, env.Payload)
		})
		return
	}

	var (
		payload interface{}
		callErr error
	)
	switch env.Op {
	case sensorrpc.OpPulse:
		h.touchPulse()
		payload = sensorrpc.AcceptedResult{Accepted: true}
	case sensorrpc.OpSendRack:
		payload, callErr = h.fleet.handleSendRack(h, env.Payload)
	case sensorrpc.OpSendMove:
		payload, callErr = h.fleet.handleSendMove(h, env.Payload)
	default:
		callErr = fmt.Errorf("sensorfleet: unknown op %q", env.Op)
	}
	h.writeReply(env.ID, payload, callErr)
}

// handleAsync runs fn off the reader goroutine and writes env's reply
// once fn resolves.
func (h *SocketHandler) handleAsync(env sensorrpc.Envelope, fn func() (interface{}, error)) {
	payload, callErr := fn()
	h.writeReply(env.ID, payload, callErr)
}

func (h *SocketHandler) writeReply(id string, payload interface{}, callErr error) {
	reply := sensorrpc.Envelope{ID: id, OK: sensorrpc.Bool(callErr == nil)}
	if callErr != nil {
		reply.Error = callErr.Error()
	} else if payload != nil {
		reply.Payload = sensorrpc.MustPayload(payload)
	}
	if err := h.codec.WriteEnvelope(reply); err != nil {
		h.log.Errorf(err, "writing reply envelope")
	}
}

func (h *SocketHandler) deliverReply(env sensorrpc.Envelope) {
	h.pendingMu.Lock()
	ch, ok := h.pending[env.ID]
	if ok {
		delete(h.pending, env.ID)
	}
	h.pendingMu.Unlock()
	if ok {
		ch <- env
	}
}

// Call issues a server-initiated RPC (assignMatch, confirmMove,
// getFullBoardState) and blocks for the matching reply or ctx's
// deadline.
func (h *SocketHandler) Call(ctx context.Context, op sensorrpc.Op, payload interface{}) (sensorrpc.Envelope, error) {
	id := uuid.NewString()
	ch := make(chan sensorrpc.Envelope, 1)

	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()
	defer func() {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
	}()

	env := sensorrpc.Envelope{ID: id, Op: op, Payload: sensorrpc.MustPayload(payload)}
	if err := h.codec.WriteEnvelope(env); err != nil {
		return sensorrpc.Envelope{}, fmt.Errorf("sensorfleet: writing call %s: %w", op, err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		return sensorrpc.Envelope{}, ctx.Err()
	}
}

func (h *SocketHandler) touchPulse() {
	h.mu.Lock()
	h.lastPulse = time.Now()
	h.mu.Unlock()
}

// SetIdentity records the sensor's self-reported identity after a
// successful register call.
func (h *SocketHandler) SetIdentity(mac uint64, st sensorrpc.SensorType) {
	h.mu.Lock()
	h.macAddress = mac
	h.sensorType = st
	h.mu.Unlock()
}

// SetAssignment records this handler's role and match once placed.
func (h *SocketHandler) SetAssignment(role gamestate.Role, matchID string) {
	h.mu.Lock()
	h.role = role
	h.matchID = matchID
	h.mu.Unlock()
}

func (h *SocketHandler) MacAddress() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.macAddress
}

func (h *SocketHandler) SensorType() sensorrpc.SensorType {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sensorType
}

func (h *SocketHandler) Role() gamestate.Role {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.role
}

func (h *SocketHandler) MatchID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.matchID
}

// IsConnected reports whether the connection is still open.
func (h *SocketHandler) IsConnected() bool { return h.connected.Load() }

// Close tears down the connection. Safe to call more than once.
func (h *SocketHandler) Close() {
	h.closeOnce.Do(func() {
		h.connected.Store(false)
		h.conn.Close()
		h.fleet.onDisconnect(h)
	})
}
