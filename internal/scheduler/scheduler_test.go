package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifegrid.ai/internal/store"
)

type fakeSubmitter struct {
	deltas []store.Delta
	fail   error
}

func (f *fakeSubmitter) Submit(_ context.Context, d store.Delta) error {
	if f.fail != nil {
		return f.fail
	}
	f.deltas = append(f.deltas, d)
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newScheduler(sub Submitter) (*Scheduler, *fakeClock) {
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return New(sub, 250*time.Millisecond, nil, WithClock(clk.now)), clk
}

func TestBatch_TwoEditsOneCommit(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s, _ := newScheduler(sub)

	s.BeginBatch()
	s.Set("1,1", "a")
	s.Set("2,2", "b")
	require.Empty(t, sub.deltas)
	require.NoError(t, s.EndBatch(ctx))

	require.Len(t, sub.deltas, 1)
	assert.Equal(t, store.Delta{"1,1": {Value: "a"}, "2,2": {Value: "b"}}, sub.deltas[0])
	assert.Zero(t, s.Pending())
	assert.Equal(t, uint64(1), s.Commits())
}

func TestBatch_OnlyOutermostCommits(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s, _ := newScheduler(sub)

	s.BeginBatch()
	s.BeginBatch()
	s.Set("k", "v")
	require.NoError(t, s.EndBatch(ctx))
	assert.Empty(t, sub.deltas)
	assert.True(t, s.InBatch())
	require.NoError(t, s.EndBatch(ctx))
	assert.Len(t, sub.deltas, 1)

	// Unbalanced ends are ignored.
	require.NoError(t, s.EndBatch(ctx))
	assert.False(t, s.InBatch())
}

func TestCommit_ThrottledThenDeferred(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s, clk := newScheduler(sub)

	s.Set("a", "1")
	require.NoError(t, s.Commit(ctx))
	require.Len(t, sub.deltas, 1)
	assert.Nil(t, s.C())

	s.Set("b", "2")
	require.NoError(t, s.Commit(ctx))
	s.Set("c", "3")
	s.Delete("b")
	require.NoError(t, s.Commit(ctx))
	assert.Len(t, sub.deltas, 1, "inside the window")
	assert.NotNil(t, s.C(), "one deferred flush armed")

	clk.advance(250 * time.Millisecond)
	require.NoError(t, s.Fire(ctx))
	require.Len(t, sub.deltas, 2)
	assert.Equal(t, store.Delta{"b": {Deleted: true}, "c": {Value: "3"}}, sub.deltas[1])
	assert.Nil(t, s.C())
}

func TestFire_TooEarlyRearms(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s, clk := newScheduler(sub)

	s.Set("a", "1")
	require.NoError(t, s.Commit(ctx))
	s.Set("a", "2")
	require.NoError(t, s.Commit(ctx))

	clk.advance(100 * time.Millisecond)
	require.NoError(t, s.Fire(ctx))
	assert.Len(t, sub.deltas, 1)
	assert.NotNil(t, s.C())
}

func TestSubmitFailureIsRetained(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{fail: errors.New("down")}
	s, clk := newScheduler(sub)

	s.Set("a", "old")
	s.Set("b", "kept")
	assert.Error(t, s.Commit(ctx))
	assert.Equal(t, uint64(1), s.Failures())
	assert.NotNil(t, s.C(), "retry armed")

	s.Set("a", "new")
	sub.fail = nil
	clk.advance(time.Second)
	require.NoError(t, s.Fire(ctx))
	require.Len(t, sub.deltas, 1)
	assert.Equal(t, store.Delta{"a": {Value: "new"}, "b": {Value: "kept"}}, sub.deltas[0])
}

func TestFlushIgnoresWindow(t *testing.T) {
	ctx := context.Background()
	sub := &fakeSubmitter{}
	s, _ := newScheduler(sub)

	s.Set("a", "1")
	require.NoError(t, s.Commit(ctx))
	s.Set("b", "2")
	require.NoError(t, s.Commit(ctx))
	require.NotNil(t, s.C())

	require.NoError(t, s.Flush(ctx))
	assert.Len(t, sub.deltas, 2)
	assert.Nil(t, s.C())
	require.NoError(t, s.Flush(ctx), "empty flush is a no-op")
	assert.Len(t, sub.deltas, 2)
}

type gatedSubmitter struct {
	gate   chan error
	deltas chan store.Delta
}

func (g *gatedSubmitter) Submit(_ context.Context, d store.Delta) error {
	g.deltas <- d
	return <-g.gate
}

func TestAsync_OneSubmitInFlight(t *testing.T) {
	ctx := context.Background()
	sub := &gatedSubmitter{gate: make(chan error), deltas: make(chan store.Delta, 4)}
	var results []Result
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	s := New(sub, time.Nanosecond, nil, WithClock(clk.now), Async(), OnComplete(func(r Result) { results = append(results, r) }))

	s.Set("a", "1")
	require.NoError(t, s.Commit(ctx), "returns before the store answers")
	assert.Equal(t, store.Delta{"a": {Value: "1"}}, <-sub.deltas)
	assert.True(t, s.InFlight())

	clk.advance(time.Second)
	s.Set("a", "2")
	s.Set("b", "x")
	require.NoError(t, s.Commit(ctx))
	assert.Equal(t, 2, s.Pending(), "waits behind the in-flight submit")

	sub.gate <- errors.New("down")
	r := <-s.Done()
	assert.Error(t, s.Complete(ctx, r))
	assert.False(t, s.InFlight())
	assert.Equal(t, uint64(1), s.Failures())
	require.Len(t, results, 1)
	assert.Equal(t, store.Delta{"a": {Value: "2"}, "b": {Value: "x"}}, s.pending, "newer writes shadow the failed ones")
	require.NotNil(t, s.C(), "retry armed")

	clk.advance(time.Second)
	require.NoError(t, s.Fire(ctx))
	assert.Equal(t, store.Delta{"a": {Value: "2"}, "b": {Value: "x"}}, <-sub.deltas)
	sub.gate <- nil
	require.NoError(t, s.Complete(ctx, <-s.Done()))
	assert.Equal(t, uint64(1), s.Commits())
	assert.Len(t, results, 2)
	assert.False(t, s.InFlight())
}

func TestAsync_FlushWaitsForInFlight(t *testing.T) {
	ctx := context.Background()
	sub := &gatedSubmitter{gate: make(chan error, 2), deltas: make(chan store.Delta, 4)}
	s := New(sub, time.Hour, nil, Async())

	s.Set("a", "1")
	require.NoError(t, s.Commit(ctx))
	s.Set("b", "2")
	require.NoError(t, s.Commit(ctx))

	sub.gate <- nil
	sub.gate <- nil
	require.NoError(t, s.Flush(ctx))
	assert.Equal(t, store.Delta{"a": {Value: "1"}}, <-sub.deltas)
	assert.Equal(t, store.Delta{"b": {Value: "2"}}, <-sub.deltas)
	assert.Equal(t, uint64(2), s.Commits())
	assert.False(t, s.InFlight())
	assert.Zero(t, s.Pending())
}
