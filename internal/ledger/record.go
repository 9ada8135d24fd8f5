package ledger

import "time"

// Status is the lifecycle state of a single tracked download.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusExpired     Status = "expired"
)

// Terminal reports whether the status can never transition again without
// operator intervention.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired
}

// DownloadRecord tracks the progress of one URL. The JSON field names are
// frozen: ledger files written by older versions of the tool must keep
// resuming with newer ones.
type DownloadRecord struct {
	URL             string     `json:"url"`
	Filename        string     `json:"filename"`
	Status          Status     `json:"status"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
}

// NewRecord creates a fresh pending record. The filename is derived once
// and must stay stable for resume to work.
func NewRecord(url, filename string) *DownloadRecord {
	return &DownloadRecord{
		URL:      url,
		Filename: filename,
		Status:   StatusPending,
	}
}

// Retryable reports whether the record may be scheduled again under the
// given cumulative retry cap. Expired links are never retried.
func (r *DownloadRecord) Retryable(maxRetries int) bool {
	switch r.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return r.RetryCount < maxRetries
	default:
		return false
	}
}
