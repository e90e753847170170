package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"lifegrid.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	from := fs.Uint64("from", 0, "first generation (generations)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "generations"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "lifegrid.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	out, err := runQuery(context.Background(), idx, q, *from, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(out)
}

func runQuery(ctx context.Context, idx *indexdb.SQLiteIndex, q string, from uint64, limit int) (any, error) {
	switch q {
	case "generations":
		return idx.Generations(ctx, from, limit)
	case "snapshot", "snapshots":
		row, ok, err := idx.LatestSnapshot(ctx)
		if err != nil || !ok {
			return nil, err
		}
		return row, nil
	case "commits":
		okCount, failed, err := idx.CommitCounts(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]int{"ok": okCount, "failed": failed}, nil
	default:
		return nil, fmt.Errorf("unknown query %q (want generations, snapshot or commits)", q)
	}
}
