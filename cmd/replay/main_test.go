package main

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	persistlog "lifegrid.ai/internal/persistence/log"
	"lifegrid.ai/internal/persistence/snapshot"
	"lifegrid.ai/internal/sim/life"
	"lifegrid.ai/internal/sim/rules"
)

// record runs a glider for n generations and returns the snapshot taken
// after the first one plus the log of all of them.
func record(t *testing.T, n int) (snapshot.SnapshotV1, []persistlog.GenerationEntry) {
	t.Helper()
	e := life.New(life.Config{Rows: 8, Cols: 8, Rule: rules.Conway, Viewer: "v"}, nil, zap.NewNop())
	for _, p := range [][2]int{{1, 0}, {2, 1}, {0, 2}, {1, 2}, {2, 2}} {
		e.MutateCell(p[0], p[1], life.Live("alice"))
	}
	var (
		snap    snapshot.SnapshotV1
		entries []persistlog.GenerationEntry
	)
	for i := 0; i < n; i++ {
		r := e.Iterate()
		entries = append(entries, persistlog.GenerationEntry{
			Generation: r.Generation,
			Rule:       e.Rule().String(),
			Overrides:  r.Overrides,
			Digest:     r.Digest,
		})
		if i == 0 {
			snap = snapshot.SnapshotV1{
				Header: snapshot.Header{
					Version:    snapshot.Version,
					Generation: r.Generation,
					Rows:       8,
					Cols:       8,
					Rule:       e.Rule().String(),
					Digest:     r.Digest,
					Viewer:     "v",
				},
				Grid: e.Text(),
			}
		}
	}
	return snap, entries
}

func TestVerify_Glider(t *testing.T) {
	snap, entries := record(t, 6)
	e, err := restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	res, err := verify(e, snap.Header.Generation, entries, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.checked != 5 || res.stoppedAt != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestVerify_StopsAtToGen(t *testing.T) {
	snap, entries := record(t, 6)
	e, err := restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	res, err := verify(e, snap.Header.Generation, entries, 3)
	if err != nil || res.checked != 2 {
		t.Fatalf("verify: %+v %v", res, err)
	}
}

func TestVerify_DigestMismatch(t *testing.T) {
	snap, entries := record(t, 4)
	entries[2].Digest = "0000000000000000"
	e, err := restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	_, err = verify(e, snap.Header.Generation, entries, 0)
	if err == nil || !strings.Contains(err.Error(), "digest mismatch at generation 3") {
		t.Fatalf("expected mismatch, got %v", err)
	}
}

func TestVerify_StopsAtEdits(t *testing.T) {
	snap, entries := record(t, 4)
	entries[2].Overrides = 2
	e, err := restore(snap)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	res, err := verify(e, snap.Header.Generation, entries, 0)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.checked != 1 || res.stoppedAt != 3 || res.stoppedOverrides != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRestore_RejectsTamperedGrid(t *testing.T) {
	snap, _ := record(t, 1)
	snap.Header.Digest = "ffffffffffffffff"
	if _, err := restore(snap); err == nil {
		t.Fatalf("expected digest error")
	}
}
