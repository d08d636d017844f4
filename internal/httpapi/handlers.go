package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/feed"
	"github.com/wricardo/scrabble-table-server/internal/gamestate"
)

// handleSetup implements GET /setup: generate a match id and assign a
// sensor triple to it.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p1Name, p2Name := q.Get("p1"), q.Get("p2")
	if p1Name == "" || p2Name == "" {
		respondError(w, "p1 and p2 are required")
		return
	}

	matchID, err := s.store.NewMatchID()
	if err != nil {
		respondError(w, err.Error())
		return
	}

	player1 := gamestate.PlayerInfo{Name: p1Name}
	player2 := gamestate.PlayerInfo{Name: p2Name}
	if err := s.fleet.AssignMatch(r.Context(), matchID, player1, player2); err != nil {
		respondError(w, err.Error())
		return
	}

	respondBody(w, map[string]string{"match_id": matchID})
}

// handleEndTurn implements GET /end-turn.
func (s *Server) handleEndTurn(w http.ResponseWriter, r *http.Request) {
	gs, err := s.validate(r, 0)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	playerTimeMs, err := strconv.ParseInt(r.URL.Query().Get("player_time"), 10, 64)
	if err != nil {
		respondError(w, "player_time must be an integer")
		return
	}

	info, kind, err := gs.EndTurn(r.Context(), time.Now(), playerTimeMs)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	s.feed.Publish(feed.Event{MatchID: gs.MatchID(), Kind: string(kind), Data: info})
	respondBody(w, info)
}

// handleChallengeableWords implements GET /challengeable-words.
func (s *Server) handleChallengeableWords(w http.ResponseWriter, r *http.Request) {
	gs, err := s.validate(r, -1)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	words := gs.ChallengeableWords()
	if len(words) == 0 {
		respondError(w, "no challengeable words for this turn")
		return
	}
	respondBody(w, map[string]interface{}{"words": words})
}

// handleChallenge implements GET /challenge.
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	gs, err := s.validate(r, -1)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	words := r.URL.Query()["words"]
	if len(words) == 0 {
		respondError(w, "words is required")
		return
	}

	result, err := gs.Challenge(s.dict, words)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	respondBody(w, map[string]interface{}{
		"successful":        result.Successful,
		"challenger_penalty": result.ChallengerPenalty,
		"undone_move_score":  result.UndoneMoveScore,
	})
}

// handleBlanks implements POST /blanks: body is a JSON array of
// single-letter strings, one per unresolved blank in placement order.
func (s *Server) handleBlanks(w http.ResponseWriter, r *http.Request) {
	gs, err := s.validate(r, -1)
	if err != nil {
		respondError(w, err.Error())
		return
	}

	var letters []string
	if err := json.NewDecoder(r.Body).Decode(&letters); err != nil {
		respondError(w, "body must be a JSON array of letters")
		return
	}

	if err := gs.SetBlanks(strings.ToUpper(strings.Join(letters, ""))); err != nil {
		respondError(w, err.Error())
		return
	}
	respondBody(w, map[string]bool{"success": true})
}
