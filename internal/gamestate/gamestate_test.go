package gamestate

import (
	"context"
	"testing"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/resolver"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/tilebag"
)

func testLogger() *obs.Logger {
	return obs.New(obs.Config{Level: obs.LevelError})
}

// recordingConfirmer satisfies MoveConfirmer and records every move it
// is asked to confirm, for assertions without a real sensor fleet.
type recordingConfirmer struct {
	calls []scrabblelib.Move
}

func (c *recordingConfirmer) ConfirmMove(_ context.Context, _ string, move scrabblelib.Move) error {
	c.calls = append(c.calls, move)
	return nil
}

func tiles(letters ...byte) resolver.Tiles {
	t := resolver.Tiles{}
	for _, l := range letters {
		t[scrabblelib.MustTile(l)]++
	}
	return t
}

func boardDelta(t *testing.T, entries map[[2]int]byte) resolver.BoardDelta {
	t.Helper()
	d := resolver.BoardDelta{}
	for rc, letter := range entries {
		p, err := scrabblelib.NewPos(rc[0], rc[1])
		if err != nil {
			t.Fatalf("NewPos: %v", err)
		}
		d[p] = scrabblelib.MustTile(letter)
	}
	return d
}

// newTestGameState builds a Game State with both rack resolvers fresh
// (Drawing, empty) over the given bag, bypassing New's Store-assigned
// match id — tests construct it directly since they live in this
// package and need to drive the two rack resolvers into arbitrary
// pre-end_turn states without replaying an entire match from turn zero.
func newTestGameState(bag *tilebag.Bag, confirmer MoveConfirmer) *GameState {
	log := testLogger()
	board := scrabblelib.NewBoard()
	return &GameState{
		matchID:  "TESTMATCH",
		bag:      bag,
		board:    board,
		boardRes: resolver.NewBoardResolver(board, log),
		rackRes: map[Role]*resolver.RackResolver{
			RolePlayer1: resolver.NewRackResolver(bag, log, string(RolePlayer1)),
			RolePlayer2: resolver.NewRackResolver(bag, log, string(RolePlayer2)),
		},
		players: map[Role]*PlayerInfo{
			RolePlayer1: {Name: "Alice"},
			RolePlayer2: {Name: "Bob"},
		},
		confirmer: confirmer,
		log:       log,
	}
}

// drawToPlaying takes a fresh (Drawing-state) rack resolver through a
// full draw-and-commit cycle, landing it in Playing state with rack
// equal to letters. The bag must hold at least as many of each letter
// as requested.
func drawToPlaying(t *testing.T, r *resolver.RackResolver, now time.Time, letters ...byte) {
	t.Helper()
	for i := range letters {
		if err := r.ProcessDelta(now, tiles(letters[:i+1]...)); err != nil {
			t.Fatalf("drawing tile %d (%c): %v", i, letters[i], err)
		}
	}
	if err := r.EndTurn(now); err != nil {
		t.Fatalf("committing draw: %v", err)
	}
}

func TestScenario_S1_StartOfGameDraw(t *testing.T) {
	confirmer := &recordingConfirmer{}
	gs := New("MATCH001", PlayerInfo{Name: "Alice"}, PlayerInfo{Name: "Bob"}, confirmer, testLogger())
	now := time.Now()

	letters := []byte{'A', 'B', 'C', 'D', 'E', 'F', 'G'}
	for i := range letters {
		if err := gs.ProcessRackDelta(now, RolePlayer1, tiles(letters[:i+1]...)); err != nil {
			t.Fatalf("drawing tile %d for player1: %v", i, err)
		}
	}

	if gs.TurnNumber() != 0 {
		t.Fatalf("turn_n after the implicit draw end_turn = %d, want 0", gs.TurnNumber())
	}
	if gs.rackRes[RolePlayer1].State() != resolver.Playing {
		t.Fatalf("player1's rack resolver state = %v, want Playing", gs.rackRes[RolePlayer1].State())
	}
}

func TestScenario_S1_InitialMisdrawRejected(t *testing.T) {
	confirmer := &recordingConfirmer{}
	gs := New("MATCH002", PlayerInfo{Name: "Alice"}, PlayerInfo{Name: "Bob"}, confirmer, testLogger())
	now := time.Now()

	eight := tiles('A', 'B', 'C', 'D', 'E', 'F', 'G')
	eight[scrabblelib.MustTile('H')] = 1
	if err := gs.ProcessRackDelta(now, RolePlayer1, eight); err != ErrInitialMisdraw {
		t.Fatalf("ProcessRackDelta with 8 tiles at turn 0 = %v, want ErrInitialMisdraw", err)
	}
}

func TestScenario_S2_PlayClassification(t *testing.T) {
	bag := tilebag.New()
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	// player1 (playing this turn) draws RATES + a blank + V, then plays
	// RATES off the rack, leaving the blank and V behind.
	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'R', 'A', 'T', 'E', 'S', '?', 'V')
	// player2 (drawing this turn, opposite of player1) draws its own
	// rack concurrently; its letters never appear on the board.
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'B', 'D', 'F', 'G', 'H', 'I', 'K')

	remaining := tiles('?', 'V')
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, remaining); err != nil {
		t.Fatalf("processing the post-play rack snapshot: %v", err)
	}

	d := boardDelta(t, map[[2]int]byte{
		{7, 7}: 'R', {7, 8}: 'A', {7, 9}: 'T', {7, 10}: 'E', {7, 11}: 'S',
	})
	if err := gs.boardRes.ProcessDelta(now, d); err != nil {
		t.Fatalf("processing the board delta: %v", err)
	}

	info, kind, err := gs.EndTurn(context.Background(), now, 1500)
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if kind != KindPlay {
		t.Fatalf("turn kind = %v, want play", kind)
	}
	if info.Score == 0 {
		t.Fatal("a committed play should produce a non-zero score")
	}
	if len(confirmer.calls) != 1 {
		t.Fatalf("confirm_move should be called exactly once for a play, got %d calls", len(confirmer.calls))
	}
	if gs.TurnNumber() != 1 {
		t.Fatalf("turn_n after the first play = %d, want 1", gs.TurnNumber())
	}
}

func TestScenario_S3_Exchange(t *testing.T) {
	bag := tilebag.New()
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'E', 'E', 'A', 'A', 'I', 'I', 'N')
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'B', 'D', 'F', 'G', 'H', 'K', 'L')

	// Exchange: rack shrinks to a subset of the playing rack, no board delta.
	remaining := tiles('E', 'A', 'I')
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, remaining); err != nil {
		t.Fatalf("processing exchanged rack: %v", err)
	}

	info, kind, err := gs.EndTurn(context.Background(), now, 2000)
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if kind != KindExchange {
		t.Fatalf("turn kind = %v, want exchange", kind)
	}
	if len(confirmer.calls) != 0 {
		t.Fatal("confirm_move must not be called for an exchange turn")
	}
	if info.Score != 0 {
		t.Fatalf("an exchange should not change the board score, got %d", info.Score)
	}
}

func TestScenario_Pass(t *testing.T) {
	bag := tilebag.New()
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'B', 'D', 'F', 'G', 'H', 'K', 'L')
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'M', 'N', 'O', 'P', 'U', 'W', 'Y')

	// No rack change, no board change: a pass.
	_, kind, err := gs.EndTurn(context.Background(), now, 500)
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if kind != KindPass {
		t.Fatalf("turn kind = %v, want pass", kind)
	}
}

func TestEndTurn_ExactlyOneKind(t *testing.T) {
	// Universal property: for any accepted end_turn, exactly one of
	// {play, exchange, pass} holds — exercised above, each scenario
	// asserting a single distinct kind value.
	kinds := map[TurnKind]bool{KindPlay: true, KindExchange: true, KindPass: true}
	if len(kinds) != 3 {
		t.Fatal("expected three distinct turn kinds")
	}
}

func TestEndGameBonus_AwardedOnlyWhenBagAndRackEmpty(t *testing.T) {
	bag := tilebag.New()
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	// player2 (drawing this turn) draws a rack holding a valuable tile
	// before the bag runs low, so the eventual bonus is worth asserting
	// a specific nonzero value for.
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'Q', 'D', 'F', 'G', 'H', 'K', 'L')

	// Reduce the bag to exactly three known tiles, simulating the end
	// of the draw pile, then have player1 draw precisely those three.
	bag.Empty()
	bag.Add(map[scrabblelib.Tile]int{
		scrabblelib.MustTile('C'): 1,
		scrabblelib.MustTile('A'): 1,
		scrabblelib.MustTile('T'): 1,
	})
	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'C', 'A', 'T')

	// player1 plays all three tiles, emptying both the rack and the bag.
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, resolver.Tiles{}); err != nil {
		t.Fatalf("processing emptied rack: %v", err)
	}
	d := boardDelta(t, map[[2]int]byte{
		{7, 7}: 'C', {7, 8}: 'A', {7, 9}: 'T',
	})
	if err := gs.boardRes.ProcessDelta(now, d); err != nil {
		t.Fatalf("processing board delta: %v", err)
	}

	info, kind, err := gs.EndTurn(context.Background(), now, 1000)
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if kind != KindPlay {
		t.Fatalf("turn kind = %v, want play", kind)
	}
	if info.EndGameBonus == nil {
		t.Fatal("emptying both the bag and the playing rack on a play should award an end-game bonus")
	}
	// Q=10, D=2, F=4, G=2, H=4, K=5, L=1 -> rack value 28, bonus = 2x.
	if want := 2 * 28; *info.EndGameBonus != want {
		t.Fatalf("end_game_bonus = %d, want %d", *info.EndGameBonus, want)
	}
}

func TestEndGameBonus_SuppressedWhenZero(t *testing.T) {
	bag := tilebag.New()
	bag.Empty()
	bag.Add(map[scrabblelib.Tile]int{
		scrabblelib.MustTile('C'): 1,
		scrabblelib.MustTile('A'): 1,
		scrabblelib.MustTile('T'): 1,
	})
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'C', 'A', 'T')
	if err := gs.rackRes[RolePlayer2].ProcessDelta(now, resolver.Tiles{}); err != nil {
		t.Fatalf("player2 processing empty snapshot: %v", err)
	}
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, resolver.Tiles{}); err != nil {
		t.Fatalf("processing emptied rack: %v", err)
	}
	d := boardDelta(t, map[[2]int]byte{
		{7, 7}: 'C', {7, 8}: 'A', {7, 9}: 'T',
	})
	if err := gs.boardRes.ProcessDelta(now, d); err != nil {
		t.Fatalf("processing board delta: %v", err)
	}

	info, _, err := gs.EndTurn(context.Background(), now, 1000)
	if err != nil {
		t.Fatalf("EndTurn: %v", err)
	}
	if info.EndGameBonus != nil {
		t.Fatalf("a zero-value end_game_bonus must be omitted, got %v", *info.EndGameBonus)
	}
}

func TestEndTurn_RejectsPlayWhoseTilesDoNotMatchRackDelta(t *testing.T) {
	bag := tilebag.New()
	confirmer := &recordingConfirmer{}
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'R', 'A', 'T', 'E', 'S', 'V', 'W')
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'B', 'D', 'F', 'G', 'H', 'K', 'L')

	// Rack loses R, A, T, E, S (5 tiles) but the board only shows 4 new
	// tiles — the multisets can't reconcile into a play.
	remaining := tiles('V', 'W')
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, remaining); err != nil {
		t.Fatalf("processing rack snapshot: %v", err)
	}
	d := boardDelta(t, map[[2]int]byte{
		{7, 7}: 'R', {7, 8}: 'A', {7, 9}: 'T', {7, 10}: 'E',
	})
	if err := gs.boardRes.ProcessDelta(now, d); err != nil {
		t.Fatalf("processing board delta: %v", err)
	}

	if _, _, err := gs.EndTurn(context.Background(), now, 1000); err == nil {
		t.Fatal("end_turn should reject a play whose board tiles don't match the rack's removed tiles")
	}
}

// blockingConfirmer never returns from ConfirmMove until release is
// closed, standing in for a board sensor that is slow or down.
type blockingConfirmer struct {
	release chan struct{}
}

func (c *blockingConfirmer) ConfirmMove(_ context.Context, _ string, _ scrabblelib.Move) error {
	<-c.release
	return nil
}

func TestEndTurn_DoesNotHoldLockWhileConfirmingMove(t *testing.T) {
	bag := tilebag.New()
	confirmer := &blockingConfirmer{release: make(chan struct{})}
	defer close(confirmer.release)
	gs := newTestGameState(bag, confirmer)
	now := time.Now()

	drawToPlaying(t, gs.rackRes[RolePlayer1], now, 'R', 'A', 'T', 'E', 'S', '?', 'V')
	drawToPlaying(t, gs.rackRes[RolePlayer2], now, 'B', 'D', 'F', 'G', 'H', 'I', 'K')

	remaining := tiles('?', 'V')
	if err := gs.rackRes[RolePlayer1].ProcessDelta(now, remaining); err != nil {
		t.Fatalf("processing the post-play rack snapshot: %v", err)
	}
	d := boardDelta(t, map[[2]int]byte{
		{7, 7}: 'R', {7, 8}: 'A', {7, 9}: 'T', {7, 10}: 'E', {7, 11}: 'S',
	})
	if err := gs.boardRes.ProcessDelta(now, d); err != nil {
		t.Fatalf("processing the board delta: %v", err)
	}

	endTurnDone := make(chan struct{})
	go func() {
		gs.EndTurn(context.Background(), now, 1500)
		close(endTurnDone)
	}()

	// Give EndTurn time to commit the turn and reach the (blocked)
	// confirm call.
	time.Sleep(50 * time.Millisecond)

	turnNumberDone := make(chan int)
	go func() {
		turnNumberDone <- gs.TurnNumber()
	}()

	select {
	case n := <-turnNumberDone:
		if n != 1 {
			t.Fatalf("turn_n = %d, want 1 (the turn should already be committed)", n)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("TurnNumber should not block while a slow board sensor is still being confirmed")
	case <-endTurnDone:
		t.Fatal("EndTurn returned before its blocked confirmer was released")
	}
}
