package ledger

import (
	"context"

	"github.com/takeoutdl/takeout_downloader/internal/telemetry"
)

// InstrumentedLedger wraps a Store with telemetry.
type InstrumentedLedger struct {
	store     Store
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLedger creates a new instrumented ledger store.
func NewInstrumentedLedger(store Store, tel *telemetry.Telemetry) *InstrumentedLedger {
	return &InstrumentedLedger{
		store:     store,
		telemetry: tel,
	}
}

// Get retrieves a record copy with telemetry.
func (l *InstrumentedLedger) Get(url string) (DownloadRecord, bool) {
	var (
		rec DownloadRecord
		ok  bool
	)

	_ = l.telemetry.InstrumentLedgerOperation(context.Background(), "get", func(ctx context.Context) error {
		rec, ok = l.store.Get(url)

		return nil
	})

	return rec, ok
}

// Upsert stores a record with telemetry.
func (l *InstrumentedLedger) Upsert(rec DownloadRecord) {
	_ = l.telemetry.InstrumentLedgerOperation(context.Background(), "upsert", func(ctx context.Context) error {
		l.store.Upsert(rec)

		return nil
	})
}

// Records returns a copy of all records with telemetry.
func (l *InstrumentedLedger) Records() map[string]DownloadRecord {
	var out map[string]DownloadRecord

	_ = l.telemetry.InstrumentLedgerOperation(context.Background(), "records", func(ctx context.Context) error {
		out = l.store.Records()

		return nil
	})

	return out
}

// Snapshot persists the ledger with telemetry.
func (l *InstrumentedLedger) Snapshot(ctx context.Context) error {
	return l.telemetry.InstrumentLedgerOperation(ctx, "snapshot", func(ctx context.Context) error {
		return l.store.Snapshot(ctx)
	})
}
