package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"lifegrid.ai/internal/persistence/indexdb"
	persistlog "lifegrid.ai/internal/persistence/log"
	"lifegrid.ai/internal/persistence/snapshot"
	"lifegrid.ai/internal/session"
)

type persisterConfig struct {
	Dir           string
	Document      string
	SnapshotEvery int
	SnapshotKeep  int
	Index         bool
}

// persister receives generation and commit notifications from the session
// loop and fans them out to the logs, the snapshot writer and the index.
type persister struct {
	cfg persisterConfig
	log *zap.Logger

	gens    *persistlog.GenerationLogger
	commits *persistlog.CommitLogger
	idx     *indexdb.SQLiteIndex

	snapDir string
	// offset continues generation numbering from the snapshot we resumed.
	offset uint64

	snapCh chan snapshot.SnapshotV1
	wg     sync.WaitGroup
	once   sync.Once

	snapshotsWritten atomic.Uint64
	snapshotsDropped atomic.Uint64
}

func openPersister(ctx context.Context, cfg persisterConfig, logger *zap.Logger) (*persister, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &persister{
		cfg:     cfg,
		log:     logger,
		gens:    persistlog.NewGenerationLogger(cfg.Dir),
		commits: persistlog.NewCommitLogger(cfg.Dir),
		snapDir: filepath.Join(cfg.Dir, "snapshots"),
		snapCh:  make(chan snapshot.SnapshotV1, 2),
	}
	if cfg.Index {
		idx, err := indexdb.OpenSQLite(filepath.Join(cfg.Dir, "index", "lifegrid.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		p.idx = idx
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.snapshotLoop(ctx)
	}()
	return p, nil
}

// Seed points cfg at the latest snapshot so an empty store resumes from it.
func (p *persister) Seed(cfg *session.Config) {
	path, _, err := snapshot.Latest(p.snapDir)
	if errors.Is(err, snapshot.ErrNoSnapshot) {
		return
	}
	if err != nil {
		p.log.Warn("find latest snapshot", zap.Error(err))
		return
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		p.log.Warn("read snapshot", zap.String("path", path), zap.Error(err))
		return
	}
	h := snap.Header
	if h.Document != "" && h.Document != p.cfg.Document {
		p.log.Warn("snapshot belongs to another document", zap.String("path", path), zap.String("document", h.Document))
		return
	}
	if h.Rows != cfg.Rows || h.Cols != cfg.Cols {
		p.log.Warn("snapshot size differs from config; not seeding",
			zap.String("path", path),
			zap.Int("rows", h.Rows),
			zap.Int("cols", h.Cols),
		)
		return
	}
	cfg.Seed = snap.Grid
	if h.Rule != "" {
		cfg.Rule = h.Rule
	}
	p.offset = h.Generation
	p.log.Info("seeding from snapshot", zap.String("path", path), zap.Uint64("generation", h.Generation))
}

func (p *persister) OnGeneration(g session.Generation) {
	gen := p.offset + g.Generation
	entry := persistlog.GenerationEntry{
		Generation: gen,
		Time:       g.At,
		Rows:       g.Rows,
		Cols:       g.Cols,
		Rule:       g.Rule,
		Dirty:      g.Dirty,
		Births:     g.Births,
		Deaths:     g.Deaths,
		Overrides:  g.Overrides,
		Live:       g.Live,
		Digest:     g.Digest,
	}
	if err := p.gens.WriteGeneration(entry); err != nil {
		p.log.Warn("generation log", zap.Uint64("generation", gen), zap.Error(err))
	}
	p.idx.RecordGeneration(indexdb.GenerationRow{
		Generation: gen,
		At:         g.At,
		Rule:       g.Rule,
		Dirty:      g.Dirty,
		Births:     g.Births,
		Deaths:     g.Deaths,
		Overrides:  g.Overrides,
		Live:       g.Live,
		Digest:     g.Digest,
	})

	if p.cfg.SnapshotEvery <= 0 || gen%uint64(p.cfg.SnapshotEvery) != 0 {
		return
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:    snapshot.Version,
			Document:   p.cfg.Document,
			Generation: gen,
			Rows:       g.Rows,
			Cols:       g.Cols,
			Rule:       g.Rule,
			Digest:     g.Digest,
			Viewer:     g.Viewer,
		},
		Grid: g.Text,
	}
	select {
	case p.snapCh <- snap:
	default:
		p.snapshotsDropped.Add(1)
		p.log.Warn("snapshot writer busy; skipping", zap.Uint64("generation", gen))
	}
}

func (p *persister) OnCommit(c session.Commit) {
	entry := persistlog.CommitEntry{
		Time:       c.At,
		Generation: p.offset + c.Generation,
		Keys:       c.Keys,
	}
	if c.Err != nil {
		entry.Err = c.Err.Error()
	}
	if err := p.commits.WriteCommit(entry); err != nil {
		p.log.Warn("commit log", zap.Error(err))
	}
	p.idx.RecordCommit(indexdb.CommitRow{
		At:         entry.Time,
		Generation: entry.Generation,
		Keys:       entry.Keys,
		Err:        entry.Err,
	})
}

func (p *persister) snapshotLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued.
			for {
				select {
				case snap, ok := <-p.snapCh:
					if !ok {
						return
					}
					p.writeSnapshot(snap)
				default:
					return
				}
			}
		case snap, ok := <-p.snapCh:
			if !ok {
				return
			}
			p.writeSnapshot(snap)
		}
	}
}

func (p *persister) writeSnapshot(snap snapshot.SnapshotV1) {
	path := snapshot.Path(p.snapDir, snap.Header.Generation)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		p.log.Warn("snapshot write", zap.String("path", path), zap.Error(err))
		return
	}
	p.snapshotsWritten.Add(1)
	if p.cfg.SnapshotKeep > 0 {
		if err := snapshot.Prune(p.snapDir, p.cfg.SnapshotKeep); err != nil {
			p.log.Warn("snapshot prune", zap.Error(err))
		}
	}
	p.idx.RecordSnapshot(indexdb.SnapshotRow{
		Generation: snap.Header.Generation,
		Path:       path,
		Rows:       snap.Header.Rows,
		Cols:       snap.Header.Cols,
		Rule:       snap.Header.Rule,
		Digest:     snap.Header.Digest,
	})
	p.log.Debug("snapshot written", zap.String("path", path))
}

// Close stops the snapshot writer and closes logs and index. It must be
// called after the session has stopped.
func (p *persister) Close() {
	p.once.Do(func() {
		close(p.snapCh)
		p.wg.Wait()
		_ = p.gens.Close()
		_ = p.commits.Close()
		if p.idx != nil {
			_ = p.idx.Close()
		}
	})
}

func (p *persister) IndexStats() indexdb.Stats {
	if p == nil {
		return indexdb.Stats{}
	}
	return p.idx.Stats()
}
