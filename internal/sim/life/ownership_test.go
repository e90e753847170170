package life

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveOwner(t *testing.T) {
	cases := []struct {
		name string
		nbs  [8]State
		want string
	}{
		{"majority", [8]State{Live("a"), Live("b"), Live("b")}, "b"},
		{"tie goes to first seen", [8]State{Dead, Live("b"), Live("a"), Dead, Live("a"), Live("b")}, "b"},
		{"tie order follows N..NW", [8]State{6: Live("w"), 7: Live("nw"), 0: Dead, 2: Live("e")}, "e"},
		{"unowned neighbors are ignored", [8]State{Live(""), Live(""), Live("a")}, "a"},
		{"no owned neighbor falls back to viewer", [8]State{Live(""), Live(""), Live("")}, "me"},
		{"dead neighbors are ignored", [8]State{{Alive: false, Owner: "ghost"}, Live("a")}, "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nbs := tc.nbs
			for i := 0; i < 3; i++ {
				assert.Equal(t, tc.want, ResolveOwner(&nbs, "me"))
			}
		})
	}
}

func TestIterate_BirthOwnerTieBreak(t *testing.T) {
	// (2,2) has N=(2,1) owned by x, E=(3,2) owned by y and S=(2,3) owned by y.
	e, _ := newEngine(t, 5, 5, "23/3")
	e.MutateCell(2, 1, Live("x"))
	e.MutateCell(3, 2, Live("y"))
	e.MutateCell(2, 3, Live("y"))
	e.Iterate()
	assert.Equal(t, Live("y"), e.Cell(2, 2).State())

	// Two owners with one neighbor each plus an unowned one: N wins.
	e, _ = newEngine(t, 5, 5, "23/3")
	e.MutateCell(2, 1, Live("x"))
	e.MutateCell(3, 2, Live("y"))
	e.ApplyBaseText("\n,,,,\n,,,,\n,,,,\n,,0,,\n,,,,")
	e.Iterate()
	assert.Equal(t, Live("x"), e.Cell(2, 2).State())
}
