package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Archive appends accepted bid requests to daily JSONL files under
// <data_dir>/bidrequests/YYYY-MM-DD.jsonl. It is a replay and debugging aid;
// the engine never reads it back.
type Archive struct {
	fs  afero.Fs
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewArchive creates the archive directory if needed.
func NewArchive(fs afero.Fs, dataDir string) (*Archive, error) {
	dir := filepath.Join(dataDir, "bidrequests")
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	return &Archive{fs: fs, dir: dir, locks: make(map[string]*sync.Mutex)}, nil
}

// PathFor returns the file that records received at t go to.
func (a *Archive) PathFor(t time.Time) string {
	return filepath.Join(a.dir, t.UTC().Format("2006-01-02")+".jsonl")
}

// fileLock returns the mutex for path, creating it on first use.
// The map grows by one entry per day.
func (a *Archive) fileLock(path string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	l, ok := a.locks[path]
	if !ok {
		l = &sync.Mutex{}
		a.locks[path] = l
	}
	return l
}

// Append writes each document as one compact JSON line to path.
// A batch is written under one lock so its lines stay contiguous.
func (a *Archive) Append(path string, docs ...[]byte) error {
	if len(docs) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for _, doc := range docs {
		if err := json.Compact(&buf, doc); err != nil {
			return fmt.Errorf("archive: %w", err)
		}
		buf.WriteByte('\n')
	}

	l := a.fileLock(path)
	l.Lock()
	defer l.Unlock()

	f, err := a.fs.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("archive: %w", err)
	}
	return f.Close()
}
