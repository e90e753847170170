package life

import (
	"lifegrid.ai/internal/sim/encoding"
	"lifegrid.ai/internal/sim/participant"
)

// show sets the displayed state, adding the cell to the mutation set when it
// changes.
func (e *Engine) show(i int32, v State) {
	c := &e.cells[i]
	if c.Alive == v.Alive && c.Owner == v.Owner {
		return
	}
	c.Alive, c.Owner = v.Alive, v.Owner
	e.touch(i)
}

func (e *Engine) clearOverride(i int32) {
	c := &e.cells[i]
	c.Override, c.HasOverride = Dead, false
	e.out.Delete(encoding.CellKey(c.X, c.Y))
}

// receiveBaseState reconciles an authoritative value. A pending override
// keeps priority unless the authoritative value confirms it.
func (e *Engine) receiveBaseState(i int32, v State) {
	c := &e.cells[i]
	switch {
	case !c.HasOverride:
		if v != c.Base {
			e.show(i, v)
		}
	case c.Override == v:
		e.clearOverride(i)
	}
	c.Base = v
}

// receiveOverrideState records a local or relayed edit. An override equal to
// the base is redundant and is dropped upstream immediately.
func (e *Engine) receiveOverrideState(i int32, v State) {
	c := &e.cells[i]
	if !c.HasOverride || c.Override != v {
		e.show(i, v)
	}
	c.Override, c.HasOverride = v, true
	if v == c.Base {
		e.clearOverride(i)
		return
	}
	e.touch(i)
}

// dropOverride handles removal of a per-cell key: the display reverts to the
// base value.
func (e *Engine) dropOverride(i int32) {
	c := &e.cells[i]
	if !c.HasOverride {
		return
	}
	e.show(i, c.Base)
	c.Override, c.HasOverride = Dead, false
}

// ApplyBaseFrame reconciles every cell against a decoded authoritative grid
// and adopts its participant table. Cells outside the frame read as dead.
func (e *Engine) ApplyBaseFrame(f encoding.Frame) {
	e.codec.Reset(f.Participants)
	for y := 0; y < e.rows; y++ {
		for x := 0; x < e.cols; x++ {
			i := int32(y*e.cols + x)
			code := participant.None
			if y < f.Rows && x < f.Cols && y*f.Cols+x < len(f.Codes) {
				code = f.Codes[y*f.Cols+x]
			}
			v := e.stateOf(code)
			if v != e.cells[i].Base {
				e.receiveBaseState(i, v)
			}
			e.codes[i] = code
		}
	}
	e.lastText = ""
}

// ApplyBaseText decodes grid text at the engine's dimensions and applies it.
func (e *Engine) ApplyBaseText(text string) {
	e.ApplyBaseFrame(encoding.DecodeFrame(text, e.rows, e.cols))
	e.lastText = text
}

// ReceiveOverride applies a relayed per-cell value. present=false means the
// key was removed.
func (e *Engine) ReceiveOverride(x, y int, value string, present bool) {
	i := e.index(x, y)
	if !present {
		e.dropOverride(i)
		return
	}
	e.receiveOverrideState(i, stateFromValue(value))
}

func stateFromValue(value string) State {
	if value == encoding.DeadValue {
		return Dead
	}
	return Live(value)
}

func valueOf(s State) string {
	if !s.Alive {
		return encoding.DeadValue
	}
	return s.Owner
}
