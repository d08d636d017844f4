package sensorfleet

import (
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/sensorrpc"
)

func testLogger() *obs.Logger { return obs.New(obs.Config{Level: obs.LevelError}) }

// newPipeHandler wraps one end of an in-memory net.Pipe as a
// SocketHandler with its reader loop running, and returns the other
// end for a test to play the remote sensor.
func newPipeHandler(t *testing.T, fleet *ConnectionHandler) (*SocketHandler, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { server.Close(); client.Close() })
	h := NewSocketHandler(server, fleet, testLogger())
	go h.readLoop(make(chan error, 1))
	return h, client
}

func registerPayload(mac uint64, st sensorrpc.SensorType) json.RawMessage {
	return sensorrpc.MustPayload(sensorrpc.RegisterPayload{MacAddress: mac, SensorType: st})
}

// respondSuccess plays a remote sensor that answers exactly one
// server-initiated call with a success=true reply.
func respondSuccess(conn net.Conn) {
	codec := sensorrpc.NewCodec(conn)
	env, err := codec.ReadEnvelope()
	if err != nil {
		return
	}
	reply := sensorrpc.Envelope{
		ID:      env.ID,
		OK:      sensorrpc.Bool(true),
		Payload: sensorrpc.MustPayload(sensorrpc.SuccessResult{Success: true}),
	}
	codec.WriteEnvelope(reply)
}

func TestHandleRegister_NewSensorBecomesAvailable(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h, _ := newPipeHandler(t, c)

	result, err := c.handleRegister(h, registerPayload(1, sensorrpc.SensorBoard))
	if err != nil {
		t.Fatalf("handleRegister: %v", err)
	}
	if result.(sensorrpc.RegisterResult).Assigned {
		t.Fatal("a brand-new sensor should not be reported as already assigned")
	}
	if _, ok := c.available[sensorrpc.SensorBoard][1]; !ok {
		t.Fatal("a newly registered sensor should land in the available pool")
	}
}

func TestHandleRegister_DuplicateMacWhileAvailableIsRejected(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h1, _ := newPipeHandler(t, c)
	h2, _ := newPipeHandler(t, c)

	if _, err := c.handleRegister(h1, registerPayload(7, sensorrpc.SensorRack)); err != nil {
		t.Fatalf("first handleRegister: %v", err)
	}
	result, err := c.handleRegister(h2, registerPayload(7, sensorrpc.SensorRack))
	if err != nil {
		t.Fatalf("second handleRegister: %v", err)
	}
	if result.(sensorrpc.RegisterResult).Assigned {
		t.Fatal("a duplicate mac already in the available pool should not be reported assigned")
	}

	time.Sleep(20 * time.Millisecond) // handleRegister closes the duplicate asynchronously
	if h2.IsConnected() {
		t.Fatal("the duplicate registration's connection should have been closed")
	}
}

func TestHandleRegister_CompatibilityMismatchOnAssignedMacIsRejected(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h, _ := newPipeHandler(t, c)

	c.assigned[3] = assignment{matchID: "MATCH01", role: gamestate.RolePlayer1}

	// Mac 3 is assigned as a rack sensor; a board sensor re-registering
	// under the same mac is an incompatible identity and is rejected.
	result, err := c.handleRegister(h, registerPayload(3, sensorrpc.SensorBoard))
	if err != nil {
		t.Fatalf("handleRegister: %v", err)
	}
	if result.(sensorrpc.RegisterResult).Assigned {
		t.Fatal("a sensor-type mismatch against an assigned mac should not report assigned")
	}
}

func TestReconnectSensor_SucceedsWhenOldHandlerDisconnected(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())

	oldH, _ := newPipeHandler(t, c)
	oldH.SetIdentity(42, sensorrpc.SensorRack)
	oldH.connected.Store(false)
	c.active["MATCH01"] = &matchSensors{player1: oldH}

	newH, newClient := newPipeHandler(t, c)
	go respondSuccess(newClient)

	if !c.reconnectSensor("MATCH01", gamestate.RolePlayer1, newH, 42) {
		t.Fatal("reconnect should succeed when the prior handler is disconnected and macs match")
	}
	if c.active["MATCH01"].player1 != newH {
		t.Fatal("reconnect should install the new handler under the match's player1 slot")
	}
}

func TestReconnectSensor_FailsWhileOldHandlerStillConnected(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())

	oldH, _ := newPipeHandler(t, c)
	oldH.SetIdentity(42, sensorrpc.SensorRack)
	c.active["MATCH01"] = &matchSensors{player1: oldH}

	newH, _ := newPipeHandler(t, c)
	if c.reconnectSensor("MATCH01", gamestate.RolePlayer1, newH, 42) {
		t.Fatal("reconnect should fail while the prior handler for that role is still connected")
	}
}

func TestReconnectSensor_FailsOnMacMismatch(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())

	oldH, _ := newPipeHandler(t, c)
	oldH.SetIdentity(42, sensorrpc.SensorRack)
	oldH.connected.Store(false)
	c.active["MATCH01"] = &matchSensors{player1: oldH}

	newH, _ := newPipeHandler(t, c)
	if c.reconnectSensor("MATCH01", gamestate.RolePlayer1, newH, 99) {
		t.Fatal("reconnect should fail when the reconnecting mac doesn't match the seat's prior mac")
	}
}

// TestReconnectSensor_ThroughRealDispatchPathDoesNotDeadlock drives the
// reconnect through the actual server path (readLoop -> dispatch ->
// handleRegister -> reconnectSensor) instead of calling reconnectSensor
// directly, to catch the self-RPC deadlock a direct call would miss:
// reconnectSensor's assignMatch call rides the same connection whose
// readLoop is the one currently dispatching the register call.
func TestReconnectSensor_ThroughRealDispatchPathDoesNotDeadlock(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())

	oldH, _ := newPipeHandler(t, c)
	oldH.SetIdentity(42, sensorrpc.SensorRack)
	oldH.connected.Store(false)
	c.active["MATCH01"] = &matchSensors{player1: oldH}
	c.assigned[42] = assignment{matchID: "MATCH01", role: gamestate.RolePlayer1}

	_, newClient := newPipeHandler(t, c)
	codec := sensorrpc.NewCodec(newClient)

	registerCall := sensorrpc.Envelope{
		ID:      "reg-1",
		Op:      sensorrpc.OpRegister,
		Payload: registerPayload(42, sensorrpc.SensorRack),
	}
	if err := codec.WriteEnvelope(registerCall); err != nil {
		t.Fatalf("writing register call: %v", err)
	}

	newClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	assignCall, err := codec.ReadEnvelope()
	if err != nil {
		t.Fatalf("reading the server's reconnect assignMatch call: %v", err)
	}
	if assignCall.Op != sensorrpc.OpAssignMatch {
		t.Fatalf("expected the server to issue an assignMatch call during reconnect, got op %q", assignCall.Op)
	}
	if err := codec.WriteEnvelope(sensorrpc.Envelope{
		ID:      assignCall.ID,
		OK:      sensorrpc.Bool(true),
		Payload: sensorrpc.MustPayload(sensorrpc.SuccessResult{Success: true}),
	}); err != nil {
		t.Fatalf("replying to assignMatch: %v", err)
	}

	newClient.SetReadDeadline(time.Now().Add(2 * time.Second))
	registerReply, err := codec.ReadEnvelope()
	if err != nil {
		t.Fatalf("reading the register reply: %v", err)
	}
	var result sensorrpc.RegisterResult
	if err := json.Unmarshal(registerReply.Payload, &result); err != nil {
		t.Fatalf("decoding register result: %v", err)
	}
	if !result.Assigned {
		t.Fatal("reconnect through the real dispatch path should report assigned=true")
	}
}

func TestOnDisconnect_RemovesFromAvailablePool(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h, _ := newPipeHandler(t, c)
	if _, err := c.handleRegister(h, registerPayload(5, sensorrpc.SensorBoard)); err != nil {
		t.Fatalf("handleRegister: %v", err)
	}

	c.onDisconnect(h)
	if _, ok := c.available[sensorrpc.SensorBoard][5]; ok {
		t.Fatal("onDisconnect should remove an available sensor from the pool")
	}
}

func TestOnDisconnect_LeavesAssignedBookkeepingForReconnect(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h, _ := newPipeHandler(t, c)
	h.SetIdentity(9, sensorrpc.SensorRack)
	c.assigned[9] = assignment{matchID: "MATCH01", role: gamestate.RolePlayer1}

	c.onDisconnect(h)
	if _, ok := c.assigned[9]; !ok {
		t.Fatal("onDisconnect must not clear an assigned sensor's bookkeeping; reconnect relies on it")
	}
}

func TestHeartbeatWatch_TimesOutOnStalePulse(t *testing.T) {
	c := NewConnectionHandler(gamestate.NewStore(testLogger()), testLogger())
	h, _ := newPipeHandler(t, c)

	h.mu.Lock()
	h.lastPulse = time.Now().Add(-10 * time.Second)
	h.mu.Unlock()

	done := make(chan struct{})
	go h.heartbeatWatch(done)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat watcher should have detected the stale pulse within one tick")
	}
}
