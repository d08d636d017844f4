package gamestate

import "github.com/wricardo/scrabble-table-server/internal/scrabblelib"

// ChallengeResult is the outcome of a word challenge.
type ChallengeResult struct {
	Successful        bool
	ChallengerPenalty int
	UndoneMoveScore   int
}

// ChallengeableWords returns the words formed by the most recently
// committed move, for the /challengeable-words control endpoint.
func (gs *GameState) ChallengeableWords() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.board.GetChallengeWords()
}

// Challenge looks up each word against dict. The challenge succeeds
// (undoing the move) iff at least one word is invalid.
func (gs *GameState) Challenge(dict *scrabblelib.Dictionary, words []string) (ChallengeResult, error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	anyInvalid := false
	for _, w := range words {
		if !dict.IsValid(w) {
			anyInvalid = true
			break
		}
	}

	result := ChallengeResult{ChallengerPenalty: 5 * len(words)}
	if !anyInvalid {
		return result, nil
	}

	result.UndoneMoveScore = gs.board.GetScore()
	if err := gs.board.UndoMove(); err != nil {
		return ChallengeResult{}, err
	}
	result.Successful = true
	return result, nil
}

// SetBlanks assigns display letters to the most recently placed
// move's unresolved blanks, for the /blanks control endpoint.
func (gs *GameState) SetBlanks(letters string) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.board.SetBlanks(letters)
}
