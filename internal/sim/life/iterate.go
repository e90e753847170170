package life

import (
	"go.uber.org/zap"

	"lifegrid.ai/internal/sim/encoding"
)

// Iterate advances one generation over the dirty set: every cell in the
// mutation set plus its neighbors. All next values are computed from the
// pre-iteration state before any is committed. Cells outside the dirty set
// carry their previous code forward unchanged.
//
// Pending overrides are folded into the emitted grid and then dropped
// upstream. The new grid is written to the outbox under "cells".
func (e *Engine) Iterate() Result {
	dirty := e.dirty[:0]
	for _, i := range e.touched {
		if !e.cells[i].dirty {
			e.cells[i].dirty = true
			dirty = append(dirty, i)
		}
		for _, nb := range e.neighbors[i] {
			if !e.cells[nb].dirty {
				e.cells[nb].dirty = true
				dirty = append(dirty, nb)
			}
		}
	}
	e.dirty = dirty

	copy(e.next, e.codes)
	res := Result{Dirty: len(dirty)}
	var nbs [8]State
	for _, i := range dirty {
		c := &e.cells[i]
		live := e.neighborStates(i, &nbs)
		will := e.rule.WillLive(c.Alive, live)
		switch {
		case will && !c.Alive:
			e.next[i] = e.codeOf(Live(ResolveOwner(&nbs, e.viewer)))
			res.Births++
		case !will && c.Alive:
			e.next[i] = e.codeOf(Dead)
			res.Deaths++
		case c.HasOverride && c.Override != c.Base:
			e.next[i] = e.codeOf(c.Override)
		}
	}

	// Commit.
	for _, i := range e.touched {
		e.cells[i].touched = false
	}
	e.touched = e.touched[:0]
	for _, i := range dirty {
		c := &e.cells[i]
		c.dirty = false
		if c.HasOverride {
			e.clearOverride(i)
			res.Overrides++
		}
	}
	for _, i := range dirty {
		v := e.stateOf(e.next[i])
		e.cells[i].Base = v
		e.show(i, v)
	}
	e.codes, e.next = e.next, e.codes

	e.generation++
	e.lastText = encoding.EncodeFrame(encoding.Frame{
		Participants: e.codec.IDs(),
		Rows:         e.rows,
		Cols:         e.cols,
		Codes:        e.codes,
	})
	e.out.Set(encoding.KeyCells, e.lastText)

	res.Generation = e.generation
	res.Live = e.LiveCount()
	res.Digest = e.Digest()
	e.log.Debug("generation",
		zap.Uint64("generation", res.Generation),
		zap.Int("dirty", res.Dirty),
		zap.Int("births", res.Births),
		zap.Int("deaths", res.Deaths),
		zap.Int("overrides", res.Overrides),
	)
	return res
}
