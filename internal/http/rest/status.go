package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
	"github.com/takeoutdl/takeout_downloader/internal/logctx"
	"github.com/takeoutdl/takeout_downloader/internal/report"
	"github.com/takeoutdl/takeout_downloader/internal/telemetry"
)

// StatusHandler exposes a read-only view of a running download session:
// the live summary, the raw ledger records, and Prometheus metrics. It
// never mutates anything.
type StatusHandler struct {
	ledger    ledger.Store
	telemetry *telemetry.Telemetry
}

// NewStatusHandler creates a new status handler over the given ledger.
func NewStatusHandler(store ledger.Store, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		ledger:    store,
		telemetry: t,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(h.telemetry.HTTPLogging)

	r.Get("/status", h.HandleStatus)
	r.Get("/downloads", h.HandleDownloads)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

// HandleStatus serves the aggregated run summary.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, report.Build(h.ledger.Records()))
}

// HandleDownloads serves every ledger record, keyed by URL.
func (h *StatusHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, h.ledger.Records())
}

func (h *StatusHandler) writeJSON(w http.ResponseWriter, r *http.Request, payload any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}
