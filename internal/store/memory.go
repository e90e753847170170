package store

import (
	"context"
	"sync"
)

// Memory is an in-process Store. Subscribers get an unbounded queue so a
// submitter never blocks on its own subscription.
type Memory struct {
	mu     sync.Mutex
	doc    map[string]string
	subs   map[*mailbox]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{
		doc:  map[string]string{},
		subs: map[*mailbox]struct{}{},
	}
}

func (m *Memory) Submit(ctx context.Context, d Delta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(d) == 0 {
		return nil
	}
	changes := d.Changes()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, c := range changes {
		if c.Present {
			m.doc[c.Key] = c.Value
		} else {
			delete(m.doc, c.Key)
		}
	}
	for mb := range m.subs {
		mb.push(changes)
	}
	return nil
}

func (m *Memory) Snapshot(ctx context.Context) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	out := make(map[string]string, len(m.doc))
	for k, v := range m.doc {
		out[k] = v
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	mb := newMailbox()
	m.subs[mb] = struct{}{}
	out := make(chan Change, 64)
	go func() {
		mb.drain(ctx, out)
		m.mu.Lock()
		delete(m.subs, mb)
		m.mu.Unlock()
	}()
	return out, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for mb := range m.subs {
		mb.close()
	}
	return nil
}

type mailbox struct {
	mu     sync.Mutex
	queue  []Change
	closed bool
	wake   chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{wake: make(chan struct{}, 1)}
}

func (mb *mailbox) push(cs []Change) {
	mb.mu.Lock()
	mb.queue = append(mb.queue, cs...)
	mb.mu.Unlock()
	mb.signal()
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	mb.closed = true
	mb.mu.Unlock()
	mb.signal()
}

func (mb *mailbox) signal() {
	select {
	case mb.wake <- struct{}{}:
	default:
	}
}

// drain forwards queued changes to out in order. Pending changes are still
// delivered after close; ctx cancellation stops delivery at once.
func (mb *mailbox) drain(ctx context.Context, out chan<- Change) {
	defer close(out)
	for {
		mb.mu.Lock()
		batch := mb.queue
		mb.queue = nil
		closed := mb.closed
		mb.mu.Unlock()

		for _, c := range batch {
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		select {
		case <-mb.wake:
		case <-ctx.Done():
			return
		}
	}
}
