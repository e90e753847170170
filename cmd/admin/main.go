package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"lifegrid.ai/internal/persistence/snapshot"
	"lifegrid.ai/internal/sim/encoding"
	"lifegrid.ai/internal/store"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshot headers under the data dir, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := filepath.Glob(filepath.Join(*dataDir, "snapshots", "*.snap.zst"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "glob:", err)
		os.Exit(1)
	}
	for _, line := range describeSnapshots(paths) {
		fmt.Println(line)
	}
}

func describeSnapshots(paths []string) []string {
	type item struct {
		h    snapshot.Header
		path string
	}
	var items []item
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			continue
		}
		items = append(items, item{h, p})
	}
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && items[j].h.Generation < items[j-1].h.Generation; j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, fmt.Sprintf("%d\t%dx%d\t%s\t%s\t%s", it.h.Generation, it.h.Rows, it.h.Cols, it.h.Rule, it.h.Digest, filepath.Base(it.path)))
	}
	return out
}

// rollbackCmd submits a snapshot grid to a shared redis document as the new
// base state. Every connected replica adopts it on the next notification.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot to restore (optional; defaults to latest)")
	redisAddr := fs.String("redis", "localhost:6379", "redis address")
	doc := fs.String("doc", "", "document name (defaults to the snapshot's)")
	dryRun := fs.Bool("dry_run", false, "print the delta without submitting")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		p, _, err := snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
			os.Exit(2)
		}
		path = p
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	document := strings.TrimSpace(*doc)
	if document == "" {
		document = snap.Header.Document
	}

	d := rollbackDelta(snap)
	fmt.Printf("rollback doc=%s to generation=%d rule=%s keys=%v\n", document, snap.Header.Generation, snap.Header.Rule, d.Keys())
	if *dryRun {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := store.OpenRedis(ctx, store.RedisOptions{Addr: *redisAddr, Document: document}, zap.NewNop())
	if err != nil {
		fmt.Fprintln(os.Stderr, "open redis:", err)
		os.Exit(1)
	}
	defer st.Close()
	if err := st.Submit(ctx, d); err != nil {
		fmt.Fprintln(os.Stderr, "submit:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func rollbackDelta(snap snapshot.SnapshotV1) store.Delta {
	d := store.Delta{}
	d.Set(encoding.KeyCells, snap.Grid)
	if snap.Header.Rule != "" {
		d.Set(encoding.KeyRule, snap.Header.Rule)
	}
	return d
}
