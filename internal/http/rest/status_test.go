package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
	"github.com/takeoutdl/takeout_downloader/internal/report"
)

func newTestHandler(t *testing.T) (*StatusHandler, *ledger.Ledger) {
	t.Helper()

	store, err := ledger.Open(context.Background(), filepath.Join(t.TempDir(), "download_progress.json"))
	require.NoError(t, err)

	store.Upsert(ledger.DownloadRecord{
		URL:             "https://example.com/takeout-001.zip",
		Filename:        "takeout-001.zip",
		Status:          ledger.StatusCompleted,
		BytesDownloaded: 1000,
		TotalBytes:      1000,
	})
	store.Upsert(ledger.DownloadRecord{
		URL:          "https://example.com/takeout-002.zip",
		Filename:     "takeout-002.zip",
		Status:       ledger.StatusExpired,
		ErrorMessage: "link expired (HTTP 404)",
	})

	return NewStatusHandler(store, nil), store
}

func TestHandleStatus(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var summary report.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))

	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Expired)
	require.Len(t, summary.ExpiredLinks, 1)
	assert.Equal(t, "takeout-002.zip", summary.ExpiredLinks[0].Filename)
}

func TestHandleDownloads(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/downloads", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var records map[string]ledger.DownloadRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))

	require.Len(t, records, 2)
	assert.Equal(t, ledger.StatusCompleted, records["https://example.com/takeout-001.zip"].Status)
}

func TestMetricsDisabled(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagated(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()

	handler.Routes().ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}
