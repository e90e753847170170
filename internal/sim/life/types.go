package life

import "lifegrid.ai/internal/sim/rules"

// State is a cell value. The zero State is a dead cell.
type State struct {
	Alive bool
	Owner string
}

// Dead is the zero State.
var Dead = State{}

// Live returns a live State owned by owner ("" = no owner).
func Live(owner string) State { return State{Alive: true, Owner: owner} }

// Cell is a single automaton unit. Cells are allocated once per Initialize
// and reused across generations.
type Cell struct {
	X, Y int

	// Displayed state.
	Alive bool
	Owner string

	// Base is the last value reconciled from the authoritative grid.
	Base State
	// Override is a local value not yet confirmed by the authoritative grid.
	// Only meaningful when HasOverride is set.
	Override    State
	HasOverride bool

	dirty   bool // recompute in the next generation
	touched bool // in the mutation set
}

// State returns the displayed value.
func (c *Cell) State() State { return State{Alive: c.Alive, Owner: c.Owner} }

// Outbox receives outbound document writes. The sync scheduler implements it.
type Outbox interface {
	Set(key, value string)
	Delete(key string)
}

type discardOutbox struct{}

func (discardOutbox) Set(string, string) {}
func (discardOutbox) Delete(string)      {}

type Config struct {
	Rows, Cols int
	Rule       rules.Rule
	// Viewer is the local acting participant, the ownership fallback for
	// births and the owner of local live edits.
	Viewer string
}

// Result summarizes one generation.
type Result struct {
	Generation uint64
	// Dirty is the number of cells recomputed.
	Dirty     int
	Births    int
	Deaths    int
	Overrides int // pending edits subsumed by this generation
	Live      int
	Digest    string
}
