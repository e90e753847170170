package life

import (
	"go.uber.org/zap"

	"lifegrid.ai/internal/sim/encoding"
)

// MutateCell records a local edit at (x, y): the value is written to the
// outbox under the cell key and shown immediately as a pending override.
// A live edit without an owner is attributed to the viewer.
func (e *Engine) MutateCell(x, y int, s State) {
	if s.Alive && s.Owner == "" {
		s.Owner = e.viewer
	}
	if !s.Alive {
		s.Owner = ""
	}
	i := e.index(x, y)
	c := &e.cells[i]
	if s.Alive && s.Owner == "" {
		// "" is the dead value on the wire; an anonymous live edit cannot be
		// expressed as an override.
		e.log.Warn("dropping anonymous live edit", zap.Int("x", c.X), zap.Int("y", c.Y))
		return
	}
	e.out.Set(encoding.CellKey(c.X, c.Y), valueOf(s))
	e.receiveOverrideState(i, s)
	e.touch(i)
}

// Toggle flips the displayed cell at (x, y) for owner ("" = the viewer) and
// returns the value written, so a drag can keep painting with it.
func (e *Engine) Toggle(x, y int, owner string) State {
	if owner == "" {
		owner = e.viewer
	}
	s := Dead
	if !e.cells[e.index(x, y)].Alive {
		s = Live(owner)
	}
	e.MutateCell(x, y, s)
	return s
}

// Stroke writes s along the line from (x0, y0) to (x1, y1). Points outside
// the grid are skipped.
func (e *Engine) Stroke(x0, y0, x1, y1 int, s State) int {
	n := 0
	Line(x0, y0, x1, y1, func(x, y int) {
		if !e.inBounds(x, y) {
			return
		}
		e.MutateCell(x, y, s)
		n++
	})
	return n
}

// Line calls plot for every point of the Bresenham line between the two
// endpoints, both included.
func Line(x0, y0, x1, y1 int, plot func(x, y int)) {
	dx, sx := abs(x1-x0), 1
	if x0 > x1 {
		sx = -1
	}
	dy, sy := -abs(y1-y0), 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
