package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqGeneration}

	s.RecordGeneration(GenerationRow{Generation: 2})
	s.RecordCommit(CommitRow{Generation: 2})
	s.RecordSnapshot(SnapshotRow{Generation: 2})

	st := s.Stats()
	if st.DropGeneration != 1 || st.DropCommit != 1 || st.DropSnapshot != 1 {
		t.Fatalf("drop stats mismatch: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "lifegrid.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for g := uint64(1); g <= 5; g++ {
		s.RecordGeneration(GenerationRow{Generation: g, At: now, Rule: "23/3", Births: int(g), Live: 10, Digest: "d"})
	}
	s.RecordCommit(CommitRow{At: now, Generation: 5, Keys: 3})
	s.RecordCommit(CommitRow{At: now, Generation: 5, Keys: 1, Err: "down"})
	s.RecordSnapshot(SnapshotRow{Generation: 4, Path: "/data/4.snap.zst", Rows: 8, Cols: 8, Rule: "23/3", Digest: "d4"})
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	gens, err := s.Generations(ctx, 3, 10)
	if err != nil {
		t.Fatalf("Generations: %v", err)
	}
	if len(gens) != 3 || gens[0].Generation != 3 || gens[2].Births != 5 || !gens[0].At.Equal(now) {
		t.Fatalf("unexpected rows: %+v", gens)
	}

	snap, ok, err := s.LatestSnapshot(ctx)
	if err != nil || !ok {
		t.Fatalf("LatestSnapshot: %v %v", ok, err)
	}
	if snap.Generation != 4 || snap.Path != "/data/4.snap.zst" {
		t.Fatalf("unexpected snapshot row: %+v", snap)
	}

	okCount, failed, err := s.CommitCounts(ctx)
	if err != nil {
		t.Fatalf("CommitCounts: %v", err)
	}
	if okCount != 1 || failed != 1 {
		t.Fatalf("commit counts: ok=%d failed=%d", okCount, failed)
	}
}
