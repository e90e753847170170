package session

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifegrid.ai/internal/sim/encoding"
	"lifegrid.ai/internal/sim/life"
	"lifegrid.ai/internal/store"
)

const (
	keyCells = encoding.KeyCells
	keyRule  = encoding.KeyRule

	maxOwnCells = 256
)

type CommandKind int

const (
	CmdEdit CommandKind = iota
	CmdStroke
	CmdToggle
	CmdPlay
	CmdStop
	CmdStep
	CmdRule
)

func (k CommandKind) String() string {
	switch k {
	case CmdEdit:
		return "edit"
	case CmdStroke:
		return "stroke"
	case CmdToggle:
		return "toggle"
	case CmdPlay:
		return "play"
	case CmdStop:
		return "stop"
	case CmdStep:
		return "step"
	case CmdRule:
		return "rule"
	default:
		return fmt.Sprintf("command(%d)", int(k))
	}
}

// Command is a request to the session loop. Resp, when set, must be
// buffered; it receives the result.
type Command struct {
	Kind        CommandKind
	Participant string
	X, Y        int
	X1, Y1      int
	Alive       bool
	Rule        string
	Resp        chan error
}

// Apply runs one command. It must be called from the loop goroutine, or
// before Run in tests.
func (s *Session) Apply(ctx context.Context, cmd Command) error {
	switch cmd.Kind {
	case CmdEdit, CmdStroke, CmdToggle:
		return s.edit(ctx, cmd)
	case CmdPlay:
		s.stopTick()
		s.playing = true
		s.StepOnce(ctx)
		s.armTick()
		return nil
	case CmdStop:
		s.stopTick()
		s.playing = false
		s.viewDirty = true
		return nil
	case CmdStep:
		s.StepOnce(ctx)
		return nil
	case CmdRule:
		if err := s.engine.SetRuleString(cmd.Rule); err != nil {
			return err
		}
		s.sched.Set(keyRule, s.engine.Rule().String())
		s.viewDirty = true
		return s.sched.Commit(ctx)
	default:
		return fmt.Errorf("%w: %s", ErrBadCommand, cmd.Kind)
	}
}

func (s *Session) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < s.engine.Cols() && y < s.engine.Rows()
}

// edit applies one edit burst inside a batch, so it leaves as one commit.
func (s *Session) edit(ctx context.Context, cmd Command) error {
	state := life.Dead
	if cmd.Alive {
		owner := cmd.Participant
		if owner == "" {
			owner = s.cfg.Viewer
		}
		state = life.Live(owner)
	}

	s.sched.BeginBatch()
	switch cmd.Kind {
	case CmdEdit:
		if !s.inBounds(cmd.X, cmd.Y) {
			_ = s.sched.EndBatch(ctx)
			return ErrOutOfBounds
		}
		s.engine.MutateCell(cmd.X, cmd.Y, state)
	case CmdToggle:
		if !s.inBounds(cmd.X, cmd.Y) {
			_ = s.sched.EndBatch(ctx)
			return ErrOutOfBounds
		}
		s.engine.Toggle(cmd.X, cmd.Y, cmd.Participant)
	case CmdStroke:
		s.engine.Stroke(cmd.X, cmd.Y, cmd.X1, cmd.Y1, state)
	}
	s.viewDirty = true
	return s.sched.EndBatch(ctx)
}

// StepOnce runs one generation and commits the new grid.
func (s *Session) StepOnce(ctx context.Context) life.Result {
	s.sched.BeginBatch()
	res := s.engine.Iterate()
	s.rememberOwn(s.engine.Text())
	if err := s.sched.EndBatch(ctx); err != nil {
		s.log.Warn("commit after generation failed", zap.Uint64("generation", res.Generation), zap.Error(err))
	}
	s.viewDirty = true

	if len(s.genSinks) > 0 {
		g := Generation{
			Generation: res.Generation,
			At:         time.Now(),
			Rows:       s.engine.Rows(),
			Cols:       s.engine.Cols(),
			Rule:       s.engine.Rule().String(),
			Dirty:      res.Dirty,
			Births:     res.Births,
			Deaths:     res.Deaths,
			Overrides:  res.Overrides,
			Live:       res.Live,
			Digest:     res.Digest,
			Viewer:     s.cfg.Viewer,
			Text:       s.engine.Text(),
		}
		for _, sink := range s.genSinks {
			sink.OnGeneration(g)
		}
	}
	return res
}

// HandleChange routes one store notification to the engine. It must be
// called from the loop goroutine, or before Run in tests.
func (s *Session) HandleChange(c store.Change) {
	s.inbound++
	switch c.Key {
	case keyCells:
		if !c.Present {
			return
		}
		if s.isOwnEcho(c.Value) {
			return
		}
		s.engine.ApplyBaseText(c.Value)
	case keyRule:
		if !c.Present {
			return
		}
		_ = s.engine.SetRuleString(c.Value)
	default:
		x, y, ok := encoding.ParseCellKey(c.Key)
		if !ok || !s.inBounds(x, y) {
			s.log.Debug("ignoring key", zap.String("key", c.Key))
			return
		}
		s.engine.ReceiveOverride(x, y, c.Value, c.Present)
	}
	s.viewDirty = true
}

// rememberOwn records a grid text this replica emitted. It is called when
// the text enters the outbox, before any throttled or in-flight submit.
func (s *Session) rememberOwn(text string) {
	s.ownCells = append(s.ownCells, text)
	if len(s.ownCells) > maxOwnCells {
		s.ownCells = s.ownCells[len(s.ownCells)-maxOwnCells:]
	}
}

// isOwnEcho reports whether text is the echo of a grid this replica emitted
// and has since moved past. Applying it would roll the grid back. The echo of
// the current grid is not stale; applying it only reconciles overrides.
func (s *Session) isOwnEcho(text string) bool {
	for i, own := range s.ownCells {
		if own != text {
			continue
		}
		// Echoes arrive in emit order; older entries can no longer come.
		s.ownCells = s.ownCells[i+1:]
		return text != s.engine.Text()
	}
	return false
}

// commitReconciliation sends removals the engine queued while reconciling.
func (s *Session) commitReconciliation(ctx context.Context) {
	if s.sched.Pending() == 0 {
		return
	}
	if err := s.sched.Commit(ctx); err != nil {
		s.log.Warn("commit after reconciliation failed", zap.Error(err))
	}
}
