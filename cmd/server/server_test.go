package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	persistlog "lifegrid.ai/internal/persistence/log"
	"lifegrid.ai/internal/persistence/snapshot"
	"lifegrid.ai/internal/session"
)

func TestWriteMetrics(t *testing.T) {
	var buf bytes.Buffer
	writeMetrics(&buf, "main", session.Status{Generation: 7, Live: 3, Playing: true, Commits: 2}, nil)
	out := buf.String()
	for _, want := range []string{
		`lifegrid_generation{doc="main"} 7`,
		`lifegrid_live_cells{doc="main"} 3`,
		`lifegrid_playing{doc="main"} 1`,
		`lifegrid_commits_total{doc="main"} 2`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "lifegrid_snapshots_written_total") {
		t.Fatalf("persistence metrics without persister")
	}
}

func TestPersister_SnapshotsAndSeed(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := openPersister(ctx, persisterConfig{Dir: dir, Document: "doc", SnapshotEvery: 2, SnapshotKeep: 1, Index: true}, nil)
	if err != nil {
		t.Fatalf("openPersister: %v", err)
	}
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for g := uint64(1); g <= 4; g++ {
		p.OnGeneration(session.Generation{Generation: g, At: at, Rows: 2, Cols: 3, Rule: "23/3", Live: 1, Digest: "d", Text: "p\n0,,\n,,"})
	}
	p.OnCommit(session.Commit{At: at, Generation: 4, Keys: 1, Err: errors.New("down")})

	deadline := time.Now().Add(2 * time.Second)
	for p.snapshotsWritten.Load()+p.snapshotsDropped.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	p.Close()

	path, gen, err := snapshot.Latest(filepath.Join(dir, "snapshots"))
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if gen != 4 && gen != 2 {
		t.Fatalf("latest generation = %d", gen)
	}
	files, err := persistlog.Files(filepath.Join(dir, "generations"))
	if err != nil || len(files) != 1 {
		t.Fatalf("generation logs: %v %v", files, err)
	}
	entries, err := persistlog.ReadGenerations(files[0])
	if err != nil || len(entries) != 4 {
		t.Fatalf("generation entries: %d %v", len(entries), err)
	}

	// A restart with matching size resumes from the snapshot.
	p2, err := openPersister(ctx, persisterConfig{Dir: dir, Document: "doc"}, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer p2.Close()
	cfg := session.Config{Rows: 2, Cols: 3, Rule: "3/3"}
	p2.Seed(&cfg)
	if cfg.Seed != "p\n0,,\n,," || cfg.Rule != "23/3" || p2.offset != gen {
		t.Fatalf("seed not applied: %+v offset=%d path=%s", cfg, p2.offset, path)
	}

	other := session.Config{Rows: 5, Cols: 5}
	p2.Seed(&other)
	if other.Seed != "" {
		t.Fatalf("seeded a grid of another size")
	}
}
