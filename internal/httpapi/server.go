// Package httpapi implements the HTTP control adapter (C9): a thin
// translation of the control-plane endpoints in §6.3 into Game State
// and Connection Handler calls. Grounded on
// wricardo-tesla-road-trip-game's api/server.go (gorilla/mux router,
// JSON respond/respondError helpers), adapted to spec.md's
// {body:...}/{error:...} envelope instead of bare HTTP status codes —
// every control response is HTTP 200 with the outcome in the body, so
// a caller behind the match-management UI never has to branch on
// status code, only on whether "error" is present.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/wricardo/scrabble-table-server/internal/feed"
	"github.com/wricardo/scrabble-table-server/internal/gamestate"
	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/sensorfleet"
)

// Server is the HTTP control adapter.
type Server struct {
	store *gamestate.Store
	fleet *sensorfleet.ConnectionHandler
	dict  *scrabblelib.Dictionary
	feed  *feed.Hub
	log   *obs.Logger

	router *mux.Router
}

// New constructs the control adapter and wires its routes.
func New(store *gamestate.Store, fleet *sensorfleet.ConnectionHandler, dict *scrabblelib.Dictionary, feedHub *feed.Hub, log *obs.Logger) *Server {
	s := &Server{store: store, fleet: fleet, dict: dict, feed: feedHub, log: log, router: mux.NewRouter()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/setup", s.handleSetup).Methods(http.MethodGet)
	s.router.HandleFunc("/end-turn", s.handleEndTurn).Methods(http.MethodGet)
	s.router.HandleFunc("/challengeable-words", s.handleChallengeableWords).Methods(http.MethodGet)
	s.router.HandleFunc("/challenge", s.handleChallenge).Methods(http.MethodGet)
	s.router.HandleFunc("/blanks", s.handleBlanks).Methods(http.MethodPost)
	s.router.HandleFunc("/feed", s.handleFeed).Methods(http.MethodGet)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	matchID := r.URL.Query().Get("match_id")
	if matchID == "" {
		http.Error(w, "match_id parameter required", http.StatusBadRequest)
		return
	}
	s.feed.ServeWS(w, r, matchID)
}

// respondBody writes {"body": data} with HTTP 200, matching §6.3's
// envelope.
func respondBody(w http.ResponseWriter, data interface{}) {
	respondJSON(w, map[string]interface{}{"body": data})
}

// respondError writes {"error": msg} with HTTP 200 — errors are never
// signaled by status code on this control surface.
func respondError(w http.ResponseWriter, msg string) {
	respondJSON(w, map[string]interface{}{"error": msg})
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}
