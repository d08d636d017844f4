// Package resolver implements the noise-tolerant Delta Resolver state
// machines (C2 Rack Delta Resolver, C3 Board Delta Resolver) that turn
// repeated sensor snapshots into a single committed turn transition.
// Grounded on original_source/rack_delta_resolver.py and
// board_delta_resolver.py, generalized into Go's explicit-error idiom.
package resolver

import (
	"fmt"
	"time"

	"github.com/wricardo/scrabble-table-server/internal/obs"
	"github.com/wricardo/scrabble-table-server/internal/scrabblelib"
	"github.com/wricardo/scrabble-table-server/internal/tilebag"
)

// RackState is the two-state FSM a rack resolver cycles through each
// turn: draw back up to seven tiles, then play some of them.
type RackState int

const (
	Drawing RackState = iota
	Playing
)

func (s RackState) String() string {
	if s == Drawing {
		return "drawing"
	}
	return "playing"
}

func (s RackState) opposite() RackState {
	if s == Drawing {
		return Playing
	}
	return Drawing
}

// Tiles is a multiset snapshot of tiles, e.g. the tiles currently
// visible on a rack or newly visible on the board.
type Tiles map[scrabblelib.Tile]int

const (
	rackMaxSnapshotAge = 3000 * time.Millisecond
	rackMinConfidence  = 2
)

// RackResolver is the per-rack Delta Resolver (C2). It is not safe for
// concurrent use on its own — the owning Game State serializes access.
type RackResolver struct {
	bag  *tilebag.Bag
	log  *obs.Logger
	role string // for log context only

	state      RackState
	prev       Tiles
	curr       Tiles
	confidence int
	lastUpdate time.Time
}

// NewRackResolver constructs a resolver starting in Drawing state with
// an empty rack, backed by the match's shared tile bag.
func NewRackResolver(bag *tilebag.Bag, log *obs.Logger, role string) *RackResolver {
	return &RackResolver{
		bag:   bag,
		log:   log,
		role:  role,
		state: Drawing,
		prev:  Tiles{},
		curr:  Tiles{},
	}
}

// ProcessDelta validates and, if valid, accepts a new rack snapshot.
// It never mutates resolver state on rejection.
func (r *RackResolver) ProcessDelta(now time.Time, snapshot Tiles) error {
	var err error
	switch r.state {
	case Drawing:
		err = r.validateDrawingDelta(snapshot)
	case Playing:
		err = r.validatePlayingDelta(snapshot)
	}
	if err != nil {
		return err
	}

	if snapshotsEqual(snapshot, r.curr) {
		r.confidence++
	}
	r.curr = snapshot
	r.lastUpdate = now
	return nil
}

func (r *RackResolver) validateDrawingDelta(snapshot Tiles) error {
	if !isSuperset(snapshot, r.prev) {
		return fmt.Errorf("rack snapshot %v is not a superset of previous %v", snapshot, r.prev)
	}

	drawn := subtract(snapshot, r.prev)
	if !r.bag.IsFeasible(drawn) {
		return fmt.Errorf("rack snapshot %v draws tiles %v not feasible from bag", snapshot, drawn)
	}

	expected := r.bag.ExpectedOnRack(r.prev)
	if total(r.curr) == expected && total(snapshot) != expected {
		return fmt.Errorf("rack snapshot %v would move a fully-drawn rack away from expected %d tiles", snapshot, expected)
	}

	return nil
}

func (r *RackResolver) validatePlayingDelta(snapshot Tiles) error {
	if !isSubset(snapshot, r.prev) {
		return fmt.Errorf("rack snapshot %v is not a subset of previous %v", snapshot, r.prev)
	}
	return nil
}

// EndTurn commits the current snapshot as the end of this rack's half
// of the turn: drawing consumes tiles from the bag and checks the
// drawn count lines up, playing just rotates state.
func (r *RackResolver) EndTurn(now time.Time) error {
	if r.state == Drawing {
		drawn := subtract(r.curr, r.prev)
		expected := r.bag.ExpectedOnRack(r.prev)
		if !r.bag.Remove(drawn) {
			return fmt.Errorf("cannot draw %v from tile bag: should never happen (prev=%v curr=%v)", drawn, r.prev, r.curr)
		}

		if total(r.curr) != expected {
			return fmt.Errorf("rack has %d tiles at end of draw, expected %d", total(r.curr), expected)
		}
	}

	if age := now.Sub(r.lastUpdate); age > rackMaxSnapshotAge {
		return fmt.Errorf("most recent rack snapshot is %s old, too stale for end-of-turn resolution", age)
	}

	if r.confidence < rackMinConfidence {
		r.log.WithField("role", r.role).Warn("committing rack end-of-turn with low confidence snapshot")
	}

	r.state = r.state.opposite()
	r.prev = r.curr
	r.confidence = 0
	return nil
}

// CurrentRack returns the resolver's last accepted snapshot.
func (r *RackResolver) CurrentRack() Tiles { return r.curr }

// NTiles returns the tile count of the current snapshot.
func (r *RackResolver) NTiles() int { return total(r.curr) }

// State returns the resolver's FSM state.
func (r *RackResolver) State() RackState { return r.state }

// Delta returns the tiles that moved since the last commit: drawn
// tiles while Drawing, played-away tiles while Playing.
func (r *RackResolver) Delta() Tiles {
	if r.state == Playing {
		return subtract(r.prev, r.curr)
	}
	return subtract(r.curr, r.prev)
}

func isSuperset(current, previous Tiles) bool {
	for tile, count := range previous {
		if current[tile] < count {
			return false
		}
	}
	return true
}

func isSubset(current, previous Tiles) bool {
	return isSuperset(previous, current)
}

func subtract(superset, subset Tiles) Tiles {
	d := Tiles{}
	for tile, count := range superset {
		if remaining := count - subset[tile]; remaining > 0 {
			d[tile] = remaining
		}
	}
	return d
}

func total(t Tiles) int {
	n := 0
	for _, count := range t {
		n += count
	}
	return n
}

func snapshotsEqual(a, b Tiles) bool {
	if len(a) != len(b) {
		return false
	}
	for tile, count := range a {
		if b[tile] != count {
			return false
		}
	}
	return true
}
