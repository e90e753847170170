// Package life is the incremental update engine of the shared grid.
//
// An Engine is a single-threaded value: all methods must be called from the
// owning event loop (see internal/session).
package life

import (
	"crypto/sha256"
	"encoding/hex"

	"go.uber.org/zap"

	"lifegrid.ai/internal/sim/encoding"
	"lifegrid.ai/internal/sim/participant"
	"lifegrid.ai/internal/sim/rules"
)

type Engine struct {
	rows, cols int
	cells      []Cell
	// neighbors[i] lists the 8 toroidal neighbors of cell i in the order
	// N, NE, E, SE, S, SW, W, NW.
	neighbors [][8]int32

	// codes is the last published or received grid; next is scratch.
	codes []participant.Code
	next  []participant.Code
	dirty []int32

	codec  *participant.Codec
	rule   rules.Rule
	viewer string

	// touched is the mutation set since the previous generation.
	touched []int32

	generation uint64
	lastText   string

	out Outbox
	log *zap.Logger
}

func New(cfg Config, out Outbox, logger *zap.Logger) *Engine {
	if out == nil {
		out = discardOutbox{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Rule == 0 {
		cfg.Rule = rules.Conway
	}
	e := &Engine{
		codec:  participant.NewCodec(),
		rule:   cfg.Rule,
		viewer: cfg.Viewer,
		out:    out,
		log:    logger,
	}
	e.Initialize(cfg.Rows, cfg.Cols)
	return e
}

// Initialize allocates a rows×cols grid of dead cells and forgets all
// pending state.
func (e *Engine) Initialize(rows, cols int) {
	if rows < 1 {
		rows = 1
	}
	if cols < 1 {
		cols = 1
	}
	n := rows * cols
	e.rows, e.cols = rows, cols
	e.cells = make([]Cell, n)
	e.neighbors = make([][8]int32, n)
	e.codes = make([]participant.Code, n)
	e.next = make([]participant.Code, n)
	e.dirty = make([]int32, 0, n)
	e.touched = e.touched[:0]
	e.generation = 0
	e.lastText = ""
	for y := 0; y < rows; y++ {
		up := (y + rows - 1) % rows
		down := (y + 1) % rows
		for x := 0; x < cols; x++ {
			left := (x + cols - 1) % cols
			right := (x + 1) % cols
			i := y*cols + x
			e.cells[i] = Cell{X: x, Y: y}
			e.codes[i] = participant.None
			e.neighbors[i] = [8]int32{
				int32(up*cols + x),
				int32(up*cols + right),
				int32(y*cols + right),
				int32(down*cols + right),
				int32(down*cols + x),
				int32(down*cols + left),
				int32(y*cols + left),
				int32(up*cols + left),
			}
		}
	}
}

func (e *Engine) Rows() int          { return e.rows }
func (e *Engine) Cols() int          { return e.cols }
func (e *Engine) Generation() uint64 { return e.generation }
func (e *Engine) Rule() rules.Rule   { return e.rule }
func (e *Engine) Viewer() string     { return e.viewer }

func (e *Engine) SetViewer(id string) { e.viewer = id }

// SetRule swaps the lookup; the neighbor table is unaffected.
func (e *Engine) SetRule(r rules.Rule) { e.rule = r }

// SetRuleString applies an "S/B" rule. A malformed rule leaves the current
// one in place and is returned as an error.
func (e *Engine) SetRuleString(s string) error {
	r, err := rules.Parse(s)
	if err != nil {
		e.log.Warn("ignoring malformed rule", zap.String("rule", s), zap.String("keep", e.rule.String()))
		return err
	}
	e.rule = r
	return nil
}

// Cell returns the cell at (x, y), wrapping coordinates onto the torus.
func (e *Engine) Cell(x, y int) *Cell { return &e.cells[e.index(x, y)] }

func (e *Engine) index(x, y int) int32 {
	x %= e.cols
	if x < 0 {
		x += e.cols
	}
	y %= e.rows
	if y < 0 {
		y += e.rows
	}
	return int32(y*e.cols + x)
}

func (e *Engine) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < e.cols && y < e.rows
}

// Neighbors returns the neighbor indices of (x, y) in N..NW order.
func (e *Engine) Neighbors(x, y int) [8]int32 { return e.neighbors[e.index(x, y)] }

// Pending reports the number of cells with an unconfirmed local edit.
func (e *Engine) Pending() int {
	n := 0
	for i := range e.cells {
		if e.cells[i].HasOverride {
			n++
		}
	}
	return n
}

// LiveCount reports the number of displayed live cells.
func (e *Engine) LiveCount() int {
	n := 0
	for i := range e.cells {
		if e.cells[i].Alive {
			n++
		}
	}
	return n
}

// Frame returns the last published or received grid.
func (e *Engine) Frame() encoding.Frame {
	codes := make([]participant.Code, len(e.codes))
	copy(codes, e.codes)
	return encoding.Frame{
		Participants: e.codec.IDs(),
		Rows:         e.rows,
		Cols:         e.cols,
		Codes:        codes,
	}
}

// Text returns the encoded published grid.
func (e *Engine) Text() string {
	if e.lastText == "" {
		e.lastText = encoding.EncodeFrame(e.Frame())
	}
	return e.lastText
}

// Digest is a short content hash of the published grid.
func (e *Engine) Digest() string {
	sum := sha256.Sum256([]byte(e.Text()))
	return hex.EncodeToString(sum[:8])
}

// View encodes the displayed grid, including optimistic local edits, with
// its own participant table. It does not touch the session codec.
func (e *Engine) View() encoding.Frame {
	c := participant.NewCodec()
	f := encoding.NewFrame(e.rows, e.cols)
	for i := range e.cells {
		if e.cells[i].Alive {
			f.Codes[i] = c.Encode(e.cells[i].Owner)
		}
	}
	f.Participants = c.IDs()
	return f
}

func (e *Engine) stateOf(code participant.Code) State {
	if code == participant.None {
		return Dead
	}
	id, ok := e.codec.Decode(code)
	if !ok {
		return Live("")
	}
	return Live(id)
}

func (e *Engine) codeOf(s State) participant.Code {
	if !s.Alive {
		return participant.None
	}
	return e.codec.Encode(s.Owner)
}

func (e *Engine) touch(i int32) {
	c := &e.cells[i]
	if c.touched {
		return
	}
	c.touched = true
	e.touched = append(e.touched, i)
}
