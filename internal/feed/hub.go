// Package feed implements the Live Match Feed (§4.11 of the expanded
// spec): a websocket push channel that lets an observer UI watch a
// match's confirmed turns as they happen, beyond the poll-driven HTTP
// control surface. Grounded on wricardo-tesla-road-trip-game's
// transport/websocket Hub (register/unregister/broadcast channels,
// read/write pumps, ping/pong keepalive), retargeted from
// per-session broadcast to per-match broadcast.
package feed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wricardo/scrabble-table-server/internal/obs"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Event is one push notification about a match's progress.
type Event struct {
	MatchID string      `json:"match_id"`
	Kind    string      `json:"kind"`
	Data    interface{} `json:"data,omitempty"`
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	matchID string
}

// Hub maintains the set of observers subscribed to each match and
// fans out Events.
type Hub struct {
	log *obs.Logger

	matches    map[string]map[*client]bool
	broadcast  chan Event
	register   chan *client
	unregister chan *client
}

// NewHub constructs a Hub. Callers must run Run in its own goroutine.
func NewHub(log *obs.Logger) *Hub {
	return &Hub{
		log:        log,
		matches:    map[string]map[*client]bool{},
		broadcast:  make(chan Event),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run drives the hub's event loop until ctx-like cancellation is
// implemented by the caller closing the process; in practice this
// runs for the server's lifetime.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			if h.matches[c.matchID] == nil {
				h.matches[c.matchID] = map[*client]bool{}
			}
			h.matches[c.matchID][c] = true

		case c := <-h.unregister:
			if clients, ok := h.matches[c.matchID]; ok {
				if _, ok := clients[c]; ok {
					delete(clients, c)
					close(c.send)
					if len(clients) == 0 {
						delete(h.matches, c.matchID)
					}
				}
			}

		case ev := <-h.broadcast:
			data, err := json.Marshal(ev)
			if err != nil {
				h.log.Errorf(err, "marshaling feed event")
				continue
			}
			for c := range h.matches[ev.MatchID] {
				select {
				case c.send <- data:
				default:
					delete(h.matches[ev.MatchID], c)
					close(c.send)
				}
			}
		}
	}
}

// ServeWS upgrades r to a websocket connection subscribed to matchID's
// events.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, matchID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Errorf(err, "websocket upgrade failed")
		return
	}

	c := &client{hub: h, conn: conn, send: make(chan []byte, 32), matchID: matchID}
	h.register <- c

	go c.writePump()
	go c.readPump()
}

// Publish broadcasts ev to every observer subscribed to ev.MatchID.
// It is a non-blocking best-effort push.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	default:
		h.log.WithField("match_id", ev.MatchID).Warn("feed broadcast channel full, dropping event")
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
