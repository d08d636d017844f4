package gamestate

import (
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/wricardo/scrabble-table-server/internal/obs"
)

const (
	matchIDLength   = 8
	matchIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	matchIDRerolls  = 10
)

// Store is the Game State Store (C5): the process-wide registry of
// live matches, keyed by an 8-character alphanumeric match id.
// Grounded on original_source/web_server.py's in-memory match table.
type Store struct {
	mu      sync.RWMutex
	matches map[string]*GameState
	log     *obs.Logger
}

// NewStore constructs an empty match registry.
func NewStore(log *obs.Logger) *Store {
	return &Store{matches: map[string]*GameState{}, log: log}
}

// Get returns the Game State for matchID, if one exists.
func (s *Store) Get(matchID string) (*GameState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	gs, ok := s.matches[matchID]
	return gs, ok
}

// NewMatchID generates a fresh 8-character alphanumeric id guaranteed
// unique against the current registry, rerolling on collision. A
// collision after matchIDRerolls attempts is astronomically unlikely
// at any plausible table count and is reported as an error rather than
// looping forever.
func (s *Store) NewMatchID() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for attempt := 0; attempt < matchIDRerolls; attempt++ {
		id, err := randomMatchID()
		if err != nil {
			return "", fmt.Errorf("generating match id: %w", err)
		}
		if _, exists := s.matches[id]; !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("gamestate: failed to generate a unique match id after %d attempts", matchIDRerolls)
}

// Create registers a new Game State under matchID. A duplicate id
// should never reach here since NewMatchID already checked uniqueness
// under the same lock generation; if it does, that is a programming
// bug elsewhere in the caller and is reported rather than silently
// overwriting a live match.
func (s *Store) Create(matchID string, player1, player2 PlayerInfo, confirmer MoveConfirmer) (*GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[matchID]; exists {
		err := fmt.Errorf("gamestate: match id %s already registered", matchID)
		s.log.Errorf(err, "refusing to overwrite existing match: duplicate id should be unreachable")
		return nil, err
	}

	gs := New(matchID, player1, player2, confirmer, s.log)
	s.matches[matchID] = gs
	return gs, nil
}

// Remove drops a finished or abandoned match from the registry.
func (s *Store) Remove(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, matchID)
}

func randomMatchID() (string, error) {
	buf := make([]byte, matchIDLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, matchIDLength)
	for i, b := range buf {
		id[i] = matchIDAlphabet[int(b)%len(matchIDAlphabet)]
	}
	return string(id), nil
}
