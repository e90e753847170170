package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteIndex is a queryable read model of the generation and commit logs.
// Writes are queued to a single writer goroutine and dropped when it falls
// behind; the JSONL logs remain the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropGeneration atomic.Uint64
	dropCommit     atomic.Uint64
	dropSnapshot   atomic.Uint64
}

type reqKind int

const (
	reqGeneration reqKind = iota + 1
	reqCommit
	reqSnapshot
)

type req struct {
	kind reqKind

	generation GenerationRow
	commit     CommitRow
	snapshot   SnapshotRow
}

type GenerationRow struct {
	Generation uint64
	At         time.Time
	Rule       string
	Dirty      int
	Births     int
	Deaths     int
	Overrides  int
	Live       int
	Digest     string
}

type CommitRow struct {
	At         time.Time
	Generation uint64
	Keys       int
	Err        string
}

type SnapshotRow struct {
	Generation uint64
	Path       string
	Rows       int
	Cols       int
	Rule       string
	Digest     string
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropGeneration uint64
	DropCommit     uint64
	DropSnapshot   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL suits append-style workloads; NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS generations (
			generation INTEGER PRIMARY KEY,
			at TEXT NOT NULL,
			rule TEXT NOT NULL,
			dirty INTEGER NOT NULL,
			births INTEGER NOT NULL,
			deaths INTEGER NOT NULL,
			overrides INTEGER NOT NULL,
			live INTEGER NOT NULL,
			digest TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS commits (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			at TEXT NOT NULL,
			generation INTEGER NOT NULL,
			keys INTEGER NOT NULL,
			err TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_commits_generation ON commits(generation);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			generation INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			grid_rows INTEGER NOT NULL,
			grid_cols INTEGER NOT NULL,
			rule TEXT NOT NULL,
			digest TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropGeneration: s.dropGeneration.Load(),
		DropCommit:     s.dropCommit.Load(),
		DropSnapshot:   s.dropSnapshot.Load(),
	}
}

func (s *SQLiteIndex) RecordGeneration(r GenerationRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqGeneration, generation: r}:
	default:
		s.dropGeneration.Add(1)
	}
}

func (s *SQLiteIndex) RecordCommit(r CommitRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqCommit, commit: r}:
	default:
		s.dropCommit.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(r SnapshotRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertGeneration, _ := s.db.Prepare(`INSERT OR REPLACE INTO generations(generation,at,rule,dirty,births,deaths,overrides,live,digest) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertCommit, _ := s.db.Prepare(`INSERT INTO commits(at,generation,keys,err) VALUES(?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(generation,path,grid_rows,grid_cols,rule,digest) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertGeneration, insertCommit, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqGeneration:
			g := r.generation
			exec(insertGeneration,
				int64(g.Generation),
				g.At.UTC().Format(time.RFC3339Nano),
				g.Rule,
				g.Dirty,
				g.Births,
				g.Deaths,
				g.Overrides,
				g.Live,
				g.Digest,
			)
		case reqCommit:
			c := r.commit
			var errText any
			if c.Err != "" {
				errText = c.Err
			}
			exec(insertCommit, c.At.UTC().Format(time.RFC3339Nano), int64(c.Generation), c.Keys, errText)
		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Generation), sn.Path, sn.Rows, sn.Cols, sn.Rule, sn.Digest)
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	commit()
}
