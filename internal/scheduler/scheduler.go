// Package scheduler buffers outbound document writes and commits them to the
// store in rate-limited batches.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"lifegrid.ai/internal/store"
)

const DefaultInterval = 250 * time.Millisecond

type Submitter interface {
	Submit(ctx context.Context, d store.Delta) error
}

// Result is the outcome of one asynchronous submit.
type Result struct {
	Delta store.Delta
	Err   error
}

// Scheduler is owned by the session loop and is not safe for concurrent use.
//
// Writes accumulate in a pending delta. BeginBatch/EndBatch nest; only the
// outermost EndBatch commits. A commit inside the rate window is not dropped:
// it arms a single deferred flush, exposed through C, which the loop passes
// back to Fire.
//
// With Async, submits run on their own goroutine, one at a time, and the loop
// passes each value received from Done back to Complete. Writes made while a
// submit is in flight wait in the pending delta.
type Scheduler struct {
	sub      Submitter
	limiter  *rate.Limiter
	interval time.Duration
	now      func() time.Time
	log      *zap.Logger

	pending store.Delta
	depth   int

	timer *time.Timer
	fire  <-chan time.Time

	async      bool
	inflight   store.Delta
	done       chan Result
	onComplete func(Result)

	commits  uint64
	failures uint64
}

type Option func(*Scheduler)

// OnComplete registers fn to run, on the loop goroutine, after every submit.
func OnComplete(fn func(Result)) Option {
	return func(s *Scheduler) { s.onComplete = fn }
}

// Async moves submits off the caller's goroutine.
func Async() Option {
	return func(s *Scheduler) { s.async = true }
}

// WithClock replaces time.Now for the rate limiter.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func New(sub Submitter, interval time.Duration, logger *zap.Logger, opts ...Option) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		sub:      sub,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		interval: interval,
		now:      time.Now,
		log:      logger,
		pending:  store.Delta{},
		done:     make(chan Result, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Scheduler) Set(key, value string) { s.pending.Set(key, value) }
func (s *Scheduler) Delete(key string)     { s.pending.Delete(key) }

func (s *Scheduler) BeginBatch() { s.depth++ }

// EndBatch closes a batch scope and commits when it was the outermost one.
func (s *Scheduler) EndBatch(ctx context.Context) error {
	if s.depth == 0 {
		return nil
	}
	s.depth--
	if s.depth > 0 {
		return nil
	}
	return s.Commit(ctx)
}

func (s *Scheduler) InBatch() bool { return s.depth > 0 }

// Pending reports the number of buffered keys.
func (s *Scheduler) Pending() int { return len(s.pending) }

func (s *Scheduler) Commits() uint64  { return s.commits }
func (s *Scheduler) Failures() uint64 { return s.failures }

// C is the deferred flush channel, nil when no flush is armed.
func (s *Scheduler) C() <-chan time.Time { return s.fire }

// Done delivers the result of the in-flight asynchronous submit.
func (s *Scheduler) Done() <-chan Result { return s.done }

// InFlight reports whether an asynchronous submit has not been completed yet.
func (s *Scheduler) InFlight() bool { return s.inflight != nil }

// Commit submits the pending delta unless the rate window is closed, in
// which case a deferred flush is armed instead.
func (s *Scheduler) Commit(ctx context.Context) error {
	if len(s.pending) == 0 || s.inflight != nil {
		return nil
	}
	now := s.now()
	r := s.limiter.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		s.arm(delay)
		return nil
	}
	return s.submit(ctx)
}

// Fire runs the deferred flush after C has delivered.
func (s *Scheduler) Fire(ctx context.Context) error {
	s.disarm()
	return s.Commit(ctx)
}

// Flush waits for the in-flight submit, then submits everything on the
// caller's goroutine, ignoring the rate window.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.disarm()
	if s.inflight != nil {
		select {
		case r := <-s.done:
			_ = s.complete(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if len(s.pending) == 0 {
		return nil
	}
	d := s.pending
	s.pending = store.Delta{}
	return s.complete(Result{Delta: d, Err: s.sub.Submit(ctx, d)})
}

// Complete applies the result of an asynchronous submit and starts the next
// one when writes are waiting.
func (s *Scheduler) Complete(ctx context.Context, r Result) error {
	if err := s.complete(r); err != nil {
		return err
	}
	return s.Commit(ctx)
}

func (s *Scheduler) submit(ctx context.Context) error {
	d := s.pending
	s.pending = store.Delta{}
	if s.async {
		s.inflight = d
		go func() {
			s.done <- Result{Delta: d, Err: s.sub.Submit(ctx, d)}
		}()
		return nil
	}
	return s.complete(Result{Delta: d, Err: s.sub.Submit(ctx, d)})
}

func (s *Scheduler) complete(r Result) error {
	s.inflight = nil
	if s.onComplete != nil {
		s.onComplete(r)
	}
	if r.Err != nil {
		s.failures++
		// Writes made since take precedence over the failed ones.
		s.pending.MergeUnder(r.Delta)
		s.arm(s.interval)
		s.log.Warn("commit failed", zap.Int("keys", len(r.Delta)), zap.Error(r.Err))
		return r.Err
	}
	s.commits++
	s.log.Debug("commit", zap.Int("keys", len(r.Delta)), zap.Uint64("commits", s.commits))
	return nil
}

func (s *Scheduler) arm(d time.Duration) {
	if s.timer != nil {
		return
	}
	s.timer = time.NewTimer(d)
	s.fire = s.timer.C
}

func (s *Scheduler) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer, s.fire = nil, nil
}
