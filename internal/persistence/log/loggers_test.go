package log

import (
	"path/filepath"
	"testing"
	"time"
)

func TestGenerationLogger_RoundTripAndRotation(t *testing.T) {
	dir := t.TempDir()
	l := NewGenerationLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for g := uint64(1); g <= 3; g++ {
		if err := l.WriteGeneration(GenerationEntry{Generation: g, Rule: "23/3", Live: int(g), Digest: "d"}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := l.WriteGeneration(GenerationEntry{Generation: 4}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(filepath.Join(dir, "generations"))
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("expected 2 hourly files, got %v", files)
	}
	if filepath.Base(files[0]) != "generations-2026-03-01-10.jsonl.zst" {
		t.Fatalf("unexpected name %s", files[0])
	}

	first, err := ReadGenerations(files[0])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(first) != 3 || first[2].Generation != 3 || first[2].Live != 3 || first[0].Rule != "23/3" {
		t.Fatalf("unexpected entries: %+v", first)
	}
	second, err := ReadGenerations(files[1])
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(second) != 1 || second[0].Generation != 4 {
		t.Fatalf("unexpected entries: %+v", second)
	}
}

func TestCommitLogger_Append(t *testing.T) {
	dir := t.TempDir()
	l := NewCommitLogger(dir)
	if err := l.WriteCommit(CommitEntry{Generation: 1, Keys: 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.WriteCommit(CommitEntry{Generation: 1, Keys: 1, Err: "down"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	files, err := Files(filepath.Join(dir, "commits"))
	if err != nil || len(files) != 1 {
		t.Fatalf("files: %v %v", files, err)
	}
}
