package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/takeoutdl/takeout_downloader/internal/logctx"
)

const filePerm = 0644

// Store serializes ledger operations. It exists so the instrumented
// wrapper can observe every mutation without the Ledger knowing about
// telemetry.
type Store interface {
	Get(url string) (DownloadRecord, bool)
	Upsert(rec DownloadRecord)
	Records() map[string]DownloadRecord
	Snapshot(ctx context.Context) error
}

// Ledger owns the URL -> DownloadRecord mapping for a run and persists it
// as a flat JSON object. Every operation takes the same lock: snapshot
// frequency is orders of magnitude lower than transfer throughput, so a
// single critical section is both the simplest and the correct choice.
type Ledger struct {
	mu      sync.Mutex
	path    string
	records map[string]*DownloadRecord
}

var _ Store = (*Ledger)(nil)

// Open loads the ledger file at path, or starts empty when the file does
// not exist. A corrupt ledger is logged and discarded rather than aborting
// the run; the on-disk archives themselves still drive resume offsets.
func Open(ctx context.Context, path string) (*Ledger, error) {
	l := &Ledger{
		path:    path,
		records: make(map[string]*DownloadRecord),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}

		return nil, fmt.Errorf("failed to read ledger file: %w", err)
	}

	var loaded map[string]*DownloadRecord
	if err := json.Unmarshal(data, &loaded); err != nil {
		logctx.LoggerFromContext(ctx).Warn("discarding unreadable ledger file", "path", path, "err", err)

		return l, nil
	}

	for url, rec := range loaded {
		if rec == nil {
			continue
		}

		rec.URL = url
		l.records[url] = rec
	}

	logctx.LoggerFromContext(ctx).Info("loaded ledger", "path", path, "records", len(l.records))

	return l, nil
}

// Get returns a copy of the record for url. Callers mutate the copy and
// hand it back through Upsert; the internal map is never exposed.
func (l *Ledger) Get(url string) (DownloadRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.records[url]
	if !ok {
		return DownloadRecord{}, false
	}

	return *rec, true
}

// Upsert overwrites the record keyed by its URL.
func (l *Ledger) Upsert(rec DownloadRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cp := rec
	l.records[rec.URL] = &cp
}

// Records returns a copy of every record, keyed by URL.
func (l *Ledger) Records() map[string]DownloadRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]DownloadRecord, len(l.records))
	for url, rec := range l.records {
		out[url] = *rec
	}

	return out
}

// Snapshot writes the full ledger to disk. The write goes to a temp file
// in the same directory followed by a rename, so a crash mid-write never
// truncates a valid ledger.
func (l *Ledger) Snapshot(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp ledger file: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to write temp ledger file: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to close temp ledger file: %w", err)
	}

	if err := os.Chmod(tmp.Name(), filePerm); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to chmod temp ledger file: %w", err)
	}

	if err := os.Rename(tmp.Name(), l.path); err != nil {
		os.Remove(tmp.Name())

		return fmt.Errorf("failed to replace ledger file: %w", err)
	}

	return nil
}
