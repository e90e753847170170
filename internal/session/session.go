// Package session runs one replica of the shared grid: a single goroutine
// owns the engine, the commit scheduler, the store subscription and the tick
// timer, and processes every event to completion in arrival order.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifegrid.ai/internal/scheduler"
	"lifegrid.ai/internal/sim/life"
	"lifegrid.ai/internal/sim/participant"
	"lifegrid.ai/internal/sim/rules"
	"lifegrid.ai/internal/store"
)

var (
	ErrStopped     = errors.New("session stopped")
	ErrOutOfBounds = errors.New("cell out of bounds")
	ErrBadCommand  = errors.New("bad command")
)

type Config struct {
	Rows, Cols int
	Rule       string
	// Viewer owns births without an owned neighbor. Defaults to a random id.
	Viewer string

	TickInterval   time.Duration
	CommitInterval time.Duration
	SubmitTimeout  time.Duration

	// Seed is grid text used when the store holds no grid yet.
	Seed string
	// Autoplay starts ticking once the session is loaded.
	Autoplay bool
}

func (c *Config) normalize() {
	if c.Rows <= 0 {
		c.Rows = 64
	}
	if c.Cols <= 0 {
		c.Cols = 64
	}
	if c.Rule == "" {
		c.Rule = rules.Conway.String()
	}
	if c.Viewer == "" {
		c.Viewer = uuid.NewString()
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = scheduler.DefaultInterval
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 5 * time.Second
	}
}

// Generation describes one completed generation.
type Generation struct {
	Generation uint64
	At         time.Time
	Rows, Cols int
	Rule       string
	Dirty      int
	Births     int
	Deaths     int
	Overrides  int
	Live       int
	Digest     string
	// Viewer owned births without an owned neighbor.
	Viewer string
	// Text is the published grid.
	Text string
}

// Commit describes one submit to the store.
type Commit struct {
	At         time.Time
	Generation uint64
	Keys       int
	Err        error
}

type GenerationSink interface {
	OnGeneration(g Generation)
}

type CommitSink interface {
	OnCommit(c Commit)
}

// Status is a point-in-time view for health and metrics handlers.
type Status struct {
	Generation     uint64 `json:"generation"`
	Rows           int    `json:"rows"`
	Cols           int    `json:"cols"`
	Rule           string `json:"rule"`
	Playing        bool   `json:"playing"`
	Live           int    `json:"live"`
	Pending        int    `json:"pending"`
	Observers      int    `json:"observers"`
	Commits        uint64 `json:"commits"`
	CommitFailures uint64 `json:"commit_failures"`
	Inbound        uint64 `json:"inbound"`
	Digest         string `json:"digest"`
}

type Session struct {
	cfg   Config
	log   *zap.Logger
	store store.Store

	engine *life.Engine
	sched  *scheduler.Scheduler

	genSinks    []GenerationSink
	commitSinks []CommitSink

	commands chan Command
	join     chan JoinRequest
	leave    chan string
	stop     chan struct{}
	stopped  atomic.Bool

	changes   <-chan store.Change
	tick      *time.Timer
	tickC     <-chan time.Time
	playing   bool
	loaded    bool
	viewDirty bool

	observers map[string]*observer
	// ownCells holds grid texts this replica emitted whose echo has not
	// arrived yet, oldest first.
	ownCells []string

	inbound uint64
	status  atomic.Pointer[Status]
}

type Option func(*Session)

func WithGenerationSink(s GenerationSink) Option {
	return func(ss *Session) { ss.genSinks = append(ss.genSinks, s) }
}

func WithCommitSink(s CommitSink) Option {
	return func(ss *Session) { ss.commitSinks = append(ss.commitSinks, s) }
}

func New(cfg Config, st store.Store, logger *zap.Logger, opts ...Option) (*Session, error) {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	rule, err := rules.Parse(cfg.Rule)
	if err != nil {
		return nil, err
	}
	if !participant.Valid(cfg.Viewer) {
		return nil, errors.New("viewer id must not contain ',' or line breaks")
	}
	s := &Session{
		cfg:       cfg,
		log:       logger,
		store:     st,
		commands:  make(chan Command, 1024),
		join:      make(chan JoinRequest, 64),
		leave:     make(chan string, 64),
		stop:      make(chan struct{}),
		observers: map[string]*observer{},
	}
	for _, o := range opts {
		o(s)
	}
	s.sched = scheduler.New(submitter{st, cfg.SubmitTimeout}, cfg.CommitInterval, logger.Named("scheduler"),
		scheduler.Async(),
		scheduler.OnComplete(s.onCommit),
	)
	s.engine = life.New(life.Config{
		Rows:   cfg.Rows,
		Cols:   cfg.Cols,
		Rule:   rule,
		Viewer: cfg.Viewer,
	}, s.sched, logger.Named("engine"))
	s.publishStatus()
	return s, nil
}

func (s *Session) Commands() chan<- Command        { return s.commands }
func (s *Session) Join() chan<- JoinRequest        { return s.join }
func (s *Session) Leave() chan<- string            { return s.leave }
func (s *Session) Viewer() string                  { return s.cfg.Viewer }
func (s *Session) Engine() *life.Engine            { return s.engine }
func (s *Session) Scheduler() *scheduler.Scheduler { return s.sched }

// Status is safe to call from any goroutine.
func (s *Session) Status() Status { return *s.status.Load() }

func (s *Session) Stop() {
	if s.stopped.CompareAndSwap(false, true) {
		close(s.stop)
	}
}

// Do sends cmd to the loop and waits for its result. It is safe to call
// from any goroutine.
func (s *Session) Do(ctx context.Context, cmd Command) error {
	cmd.Resp = make(chan error, 1)
	select {
	case s.commands <- cmd:
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.Resp:
		return err
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach registers an observer whose out channel receives FRAME messages.
func (s *Session) Attach(ctx context.Context, participant string, out chan []byte) (JoinResponse, error) {
	resp := make(chan JoinResponse, 1)
	select {
	case s.join <- JoinRequest{Participant: participant, Out: out, Resp: resp}:
	case <-s.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
	select {
	case r := <-resp:
		return r, nil
	case <-s.stop:
		return JoinResponse{}, ErrStopped
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	}
}

// Detach unregisters an observer without blocking.
func (s *Session) Detach(sessionID string) {
	select {
	case s.leave <- sessionID:
	case <-s.stop:
	}
}

// Load reads the current document and subscribes to changes. Run calls it
// when it has not been called yet.
func (s *Session) Load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	changes, err := s.store.Subscribe(ctx)
	if err != nil {
		return err
	}
	doc, err := s.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	s.changes = changes
	s.loaded = true

	s.sched.BeginBatch()
	if r, ok := doc[keyRule]; ok {
		_ = s.engine.SetRuleString(r)
	} else {
		s.sched.Set(keyRule, s.engine.Rule().String())
	}
	if text, ok := doc[keyCells]; ok {
		s.engine.ApplyBaseText(text)
	} else if s.cfg.Seed != "" {
		s.engine.ApplyBaseText(s.cfg.Seed)
		s.sched.Set(keyCells, s.engine.Text())
		s.rememberOwn(s.engine.Text())
	}
	for k, v := range doc {
		if k == keyRule || k == keyCells {
			continue
		}
		s.HandleChange(store.Change{Key: k, Value: v, Present: true})
	}
	err = s.sched.EndBatch(ctx)
	s.viewDirty = true
	s.log.Info("session loaded",
		zap.Int("rows", s.cfg.Rows),
		zap.Int("cols", s.cfg.Cols),
		zap.String("rule", s.engine.Rule().String()),
		zap.Int("keys", len(doc)),
		zap.Int("live", s.engine.LiveCount()),
	)
	s.publishStatus()
	return err
}

// Run is the event loop. It returns when ctx is done or Stop is called,
// after flushing pending writes.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}
	defer s.shutdown()
	if s.cfg.Autoplay {
		_ = s.Apply(ctx, Command{Kind: CmdPlay})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case req := <-s.join:
			s.handleJoin(req)
		case id := <-s.leave:
			s.handleLeave(id)
		case cmd := <-s.commands:
			err := s.Apply(ctx, cmd)
			if cmd.Resp != nil {
				cmd.Resp <- err
			}
		case c, ok := <-s.changes:
			if !ok {
				if err := ctx.Err(); err != nil {
					return err
				}
				return store.ErrClosed
			}
			s.HandleChange(c)
			s.drainChanges()
			s.commitReconciliation(ctx)
		case <-s.tickC:
			s.tickC = nil
			s.StepOnce(ctx)
			if s.playing {
				s.armTick()
			}
		case <-s.sched.C():
			_ = s.sched.Fire(ctx)
		case r := <-s.sched.Done():
			_ = s.sched.Complete(ctx, r)
		}
		s.publishFrame()
		s.publishStatus()
	}
}

// drainChanges applies changes that are already queued, so a burst is
// rendered once.
func (s *Session) drainChanges() {
	for i := 0; i < 256; i++ {
		select {
		case c, ok := <-s.changes:
			if !ok {
				return
			}
			s.HandleChange(c)
		default:
			return
		}
	}
}

func (s *Session) shutdown() {
	s.Stop()
	s.stopTick()
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	defer cancel()
	if err := s.sched.Flush(ctx); err != nil {
		s.log.Warn("final flush failed", zap.Error(err))
	}
	for id, o := range s.observers {
		close(o.out)
		delete(s.observers, id)
	}
	s.publishStatus()
}

func (s *Session) armTick() {
	s.stopTick()
	s.tick = time.NewTimer(s.cfg.TickInterval)
	s.tickC = s.tick.C
}

func (s *Session) stopTick() {
	if s.tick != nil {
		s.tick.Stop()
	}
	s.tick, s.tickC = nil, nil
}

func (s *Session) publishStatus() {
	st := &Status{
		Generation:     s.engine.Generation(),
		Rows:           s.engine.Rows(),
		Cols:           s.engine.Cols(),
		Rule:           s.engine.Rule().String(),
		Playing:        s.playing,
		Live:           s.engine.LiveCount(),
		Pending:        s.engine.Pending(),
		Observers:      len(s.observers),
		Commits:        s.sched.Commits(),
		CommitFailures: s.sched.Failures(),
		Inbound:        s.inbound,
		Digest:         s.engine.Digest(),
	}
	s.status.Store(st)
}

// submitter runs on the scheduler's submit goroutine and touches nothing the
// loop owns.
type submitter struct {
	store   store.Store
	timeout time.Duration
}

func (w submitter) Submit(ctx context.Context, d store.Delta) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.store.Submit(ctx, d)
}

func (s *Session) onCommit(r scheduler.Result) {
	if len(s.commitSinks) == 0 {
		return
	}
	c := Commit{At: time.Now(), Generation: s.engine.Generation(), Keys: len(r.Delta), Err: r.Err}
	for _, sink := range s.commitSinks {
		sink.OnCommit(c)
	}
}
