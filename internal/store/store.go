// Package store is the replicated key-value document the grid is shared
// through. Every replica submits deltas and receives every change, its own
// included, in commit order.
package store

import (
	"context"
	"errors"
	"sort"
)

var ErrClosed = errors.New("store closed")

// Entry is one pending write. Deleted entries remove the key.
type Entry struct {
	Value   string `json:"v,omitempty"`
	Deleted bool   `json:"d,omitempty"`
}

// Delta is a set of writes committed together. The last write per key wins.
type Delta map[string]Entry

func (d Delta) Set(key, value string) { d[key] = Entry{Value: value} }
func (d Delta) Delete(key string)     { d[key] = Entry{Deleted: true} }

// MergeUnder adds older writes that newer ones in d do not shadow.
func (d Delta) MergeUnder(older Delta) {
	for k, e := range older {
		if _, ok := d[k]; !ok {
			d[k] = e
		}
	}
}

// Keys returns the keys of d in sorted order.
func (d Delta) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Changes flattens d in key order.
func (d Delta) Changes() []Change {
	out := make([]Change, 0, len(d))
	for _, k := range d.Keys() {
		e := d[k]
		out = append(out, Change{Key: k, Value: e.Value, Present: !e.Deleted})
	}
	return out
}

// Change is a single key notification. Present=false means the key was
// removed.
type Change struct {
	Key     string
	Value   string
	Present bool
}

type Store interface {
	// Submit commits d atomically.
	Submit(ctx context.Context, d Delta) error
	// Snapshot returns the current document.
	Snapshot(ctx context.Context) (map[string]string, error)
	// Subscribe streams committed changes until ctx is done or the store is
	// closed, then closes the channel.
	Subscribe(ctx context.Context) (<-chan Change, error)
	Close() error
}
