package ledger

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFile(t *testing.T) {
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "download_progress.json"))
	require.NoError(t, err)
	assert.Empty(t, l.Records())
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	l, err := Open(context.Background(), path)
	require.NoError(t, err)
	assert.Empty(t, l.Records())
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ctx := context.Background()

	l, err := Open(ctx, path)
	require.NoError(t, err)

	started := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	l.Upsert(DownloadRecord{
		URL:             "https://example.com/takeout-001.zip",
		Filename:        "takeout-001.zip",
		Status:          StatusFailed,
		BytesDownloaded: 1024,
		TotalBytes:      4096,
		StartedAt:       &started,
		ErrorMessage:    "unexpected status HTTP 500",
		RetryCount:      2,
	})
	require.NoError(t, l.Snapshot(ctx))

	reopened, err := Open(ctx, path)
	require.NoError(t, err)

	rec, ok := reopened.Get("https://example.com/takeout-001.zip")
	require.True(t, ok)
	assert.Equal(t, "takeout-001.zip", rec.Filename)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Equal(t, int64(1024), rec.BytesDownloaded)
	assert.Equal(t, int64(4096), rec.TotalBytes)
	assert.Equal(t, 2, rec.RetryCount)
	assert.Equal(t, "unexpected status HTTP 500", rec.ErrorMessage)
	require.NotNil(t, rec.StartedAt)
	assert.True(t, started.Equal(*rec.StartedAt))
}

// Older runs of the tool wrote these exact field names; a rename would
// orphan every in-flight download on upgrade.
func TestSnapshotFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "download_progress.json")
	ctx := context.Background()

	l, err := Open(ctx, path)
	require.NoError(t, err)

	l.Upsert(DownloadRecord{URL: "https://example.com/a.zip", Filename: "a.zip", Status: StatusDownloading, BytesDownloaded: 10})
	require.NoError(t, l.Snapshot(ctx))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	fields := decoded["https://example.com/a.zip"]
	require.NotNil(t, fields)
	assert.Contains(t, fields, "filename")
	assert.Contains(t, fields, "status")
	assert.Contains(t, fields, "bytes_downloaded")
	assert.Contains(t, fields, "total_bytes")
	assert.Contains(t, fields, "retry_count")
}

func TestGetReturnsCopy(t *testing.T) {
	l, err := Open(context.Background(), filepath.Join(t.TempDir(), "download_progress.json"))
	require.NoError(t, err)

	l.Upsert(DownloadRecord{URL: "u", Filename: "f", Status: StatusPending})

	rec, ok := l.Get("u")
	require.True(t, ok)

	rec.Status = StatusCompleted

	again, _ := l.Get("u")
	assert.Equal(t, StatusPending, again.Status)
}

func TestSnapshotLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	l, err := Open(ctx, filepath.Join(dir, "download_progress.json"))
	require.NoError(t, err)

	l.Upsert(DownloadRecord{URL: "u", Filename: "f", Status: StatusPending})
	require.NoError(t, l.Snapshot(ctx))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "download_progress.json", entries[0].Name())
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		rec  DownloadRecord
		want bool
	}{
		{"pending", DownloadRecord{Status: StatusPending}, true},
		{"failed under cap", DownloadRecord{Status: StatusFailed, RetryCount: 2}, true},
		{"failed at cap", DownloadRecord{Status: StatusFailed, RetryCount: 3}, false},
		{"expired", DownloadRecord{Status: StatusExpired}, false},
		{"completed", DownloadRecord{Status: StatusCompleted}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rec.Retryable(3))
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDownloading.Terminal())
	assert.False(t, StatusFailed.Terminal())
}
