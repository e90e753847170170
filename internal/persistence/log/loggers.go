package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	// Each rotation starts a new zstd frame; concatenated frames still decode
	// as one stream.
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// GenerationEntry is one line of the generation log.
type GenerationEntry struct {
	Generation uint64    `json:"generation"`
	Time       time.Time `json:"time"`
	Rows       int       `json:"rows"`
	Cols       int       `json:"cols"`
	Rule       string    `json:"rule"`
	Dirty      int       `json:"dirty"`
	Births     int       `json:"births"`
	Deaths     int       `json:"deaths"`
	Overrides  int       `json:"overrides"`
	Live       int       `json:"live"`
	Digest     string    `json:"digest"`
}

// GenerationLogger writes one JSONL entry per generation (compressed).
type GenerationLogger struct{ w *JSONLZstdWriter }

func NewGenerationLogger(dataDir string) *GenerationLogger {
	return &GenerationLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "generations"), "generations")}
}

func (l *GenerationLogger) WriteGeneration(e GenerationEntry) error { return l.w.Write(e) }
func (l *GenerationLogger) Close() error                            { return l.w.Close() }

// CommitEntry records one submit to the shared store.
type CommitEntry struct {
	Time       time.Time `json:"time"`
	Generation uint64    `json:"generation"`
	Keys       int       `json:"keys"`
	Err        string    `json:"err,omitempty"`
}

// CommitLogger writes commit JSONL entries (compressed).
type CommitLogger struct{ w *JSONLZstdWriter }

func NewCommitLogger(dataDir string) *CommitLogger {
	return &CommitLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "commits"), "commits")}
}

func (l *CommitLogger) WriteCommit(e CommitEntry) error { return l.w.Write(e) }
func (l *CommitLogger) Close() error                    { return l.w.Close() }

// Files lists the log files under dir in chronological order.
func Files(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadGenerations decodes every entry of one generation log file.
func ReadGenerations(path string) ([]GenerationEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []GenerationEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e GenerationEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
