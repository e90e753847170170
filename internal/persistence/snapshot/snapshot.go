package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

// ErrNoSnapshot is returned by Latest when dir holds no snapshot.
var ErrNoSnapshot = errors.New("no snapshot")

type Header struct {
	Version    int    `json:"version"`
	Document   string `json:"document"`
	Generation uint64 `json:"generation"`
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	Rule       string `json:"rule"`
	Digest     string `json:"digest"`
	Viewer     string `json:"viewer,omitempty"`
}

// SnapshotV1 stores the published grid as its wire text, so a restore is a
// plain base-state submit.
type SnapshotV1 struct {
	Header Header `json:"header"`
	Grid   string `json:"grid"`
}

// Path names the snapshot of generation gen under dir.
func Path(dir string, gen uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d.snap.zst", gen))
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = f.Close()
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = f.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = f.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for tools; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader reads only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// Latest returns the path of the highest-generation snapshot under dir.
func Latest(dir string) (string, uint64, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return "", 0, ErrNoSnapshot
	}
	if err != nil {
		return "", 0, err
	}
	var (
		best  string
		bestG uint64
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		g, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		if best == "" || g > bestG {
			best, bestG = filepath.Join(dir, name), g
		}
	}
	if best == "" {
		return "", 0, ErrNoSnapshot
	}
	return best, bestG, nil
}

// Prune removes all but the newest keep snapshots under dir.
func Prune(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var gens []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		if g, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64); err == nil {
			gens = append(gens, g)
		}
	}
	if len(gens) <= keep {
		return nil
	}
	sort.Slice(gens, func(i, j int) bool { return gens[i] < gens[j] })
	for _, g := range gens[:len(gens)-keep] {
		if err := os.Remove(Path(dir, g)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}
