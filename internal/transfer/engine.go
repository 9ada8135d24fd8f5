package transfer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/takeoutdl/takeout_downloader/internal/archive"
	"github.com/takeoutdl/takeout_downloader/internal/auth"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
	"github.com/takeoutdl/takeout_downloader/internal/logctx"
	"github.com/takeoutdl/takeout_downloader/internal/telemetry"
	"github.com/takeoutdl/takeout_downloader/internal/transfer/progress"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Outcome is the definite result of one Fetch invocation. Every call
// returns exactly one of these; errors never propagate past the engine.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeExpired   Outcome = "expired"
)

const (
	filePerm = 0644

	// progressLogInterval is how many bytes pass between progress log lines.
	progressLogInterval = int64(100 * 1024 * 1024)
)

// Options configures a transfer Engine.
type Options struct {
	OutputDir         string
	ChunkSize         int
	PersistEveryChunk int
	RequestTimeout    time.Duration
}

// Engine downloads a single URL with byte-range resume, credential
// injection, and archive validation, mutating that URL's ledger record as
// the only side channel.
type Engine struct {
	ledger    ledger.Store
	validator *archive.Validator
	bundle    auth.Bundle
	client    *http.Client
	telemetry *telemetry.Telemetry

	outputDir         string
	chunkSize         int
	persistEveryChunk int
}

// NewEngine creates a transfer engine. The request timeout bounds dialing
// and response headers only; body reads of multi-gigabyte archives must
// not race a wall clock.
func NewEngine(
	store ledger.Store,
	validator *archive.Validator,
	bundle auth.Bundle,
	tel *telemetry.Telemetry,
	opts Options,
) *Engine {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 8192
	}

	if opts.PersistEveryChunk <= 0 {
		opts.PersistEveryChunk = 100
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: opts.RequestTimeout,
	}

	return &Engine{
		ledger:    store,
		validator: validator,
		bundle:    bundle,
		client: &http.Client{
			Transport: otelhttp.NewTransport(transport),
		},
		telemetry:         tel,
		outputDir:         opts.OutputDir,
		chunkSize:         opts.ChunkSize,
		persistEveryChunk: opts.PersistEveryChunk,
	}
}

// Fetch downloads url to its derived filename under the output directory.
// It owns the URL's ledger record for the duration of the call; the
// scheduler guarantees no other worker holds the same URL.
func (e *Engine) Fetch(ctx context.Context, url string) Outcome {
	start := time.Now()

	e.telemetry.IncrementActiveDownloads()
	defer e.telemetry.DecrementActiveDownloads()

	outcome := e.fetch(ctx, url)

	e.telemetry.RecordDownload(string(outcome), time.Since(start))

	return outcome
}

func (e *Engine) fetch(ctx context.Context, url string) Outcome {
	rec, ok := e.ledger.Get(url)
	if !ok {
		rec = *ledger.NewRecord(url, DeriveFilename(url))
		e.ledger.Upsert(rec)
	}

	logger := logctx.LoggerFromContext(ctx).With("filename", rec.Filename)
	targetPath := filepath.Join(e.outputDir, rec.Filename)

	// Completed records are re-validated, never trusted. A valid file means
	// zero network activity; an invalid one restarts from scratch.
	if rec.Status == ledger.StatusCompleted {
		if e.validator.Valid(targetPath) {
			logger.Debug("already completed and valid, skipping")

			return OutcomeCompleted
		}

		logger.Warn("completed record failed re-validation, restarting download")

		if err := os.Remove(targetPath); err != nil && !os.IsNotExist(err) {
			return e.fail(ctx, &rec, fmt.Errorf("failed to remove stale file: %w", err))
		}

		rec.Status = ledger.StatusPending
		rec.BytesDownloaded = 0
		rec.CompletedAt = nil
		e.persist(ctx, rec)
	}

	offset := int64(0)
	if info, err := os.Stat(targetPath); err == nil {
		offset = info.Size()
	}

	// A crash can leave a fully written archive behind a non-completed
	// record. A truncated zip never parses, so a validating file at a
	// non-zero offset means the download already finished; requesting a
	// range past the end would only earn us a 416.
	if offset > 0 && e.validator.Valid(targetPath) {
		done := time.Now()
		rec.Status = ledger.StatusCompleted
		rec.BytesDownloaded = offset
		rec.TotalBytes = offset
		rec.CompletedAt = &done
		rec.ErrorMessage = ""
		e.persist(ctx, rec)

		logger.Info("found completed archive on disk, no transfer needed",
			"size", humanize.Bytes(uint64(offset)))

		return OutcomeCompleted
	}

	now := time.Now()
	rec.Status = ledger.StatusDownloading
	rec.StartedAt = &now
	rec.ErrorMessage = ""
	rec.BytesDownloaded = offset
	e.persist(ctx, rec)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return e.fail(ctx, &rec, fmt.Errorf("failed to build request: %w", err))
	}

	for name, value := range e.bundle.Headers {
		req.Header.Set(name, value)
	}

	for name, value := range e.bundle.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
		logger.Info("resuming download", "offset", humanize.Bytes(uint64(offset)))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return e.interrupt(ctx, &rec)
		}

		return e.fail(ctx, &rec, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return e.expire(ctx, &rec, resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent:
		return e.fail(ctx, &rec, &UnexpectedStatusError{URL: url, StatusCode: resp.StatusCode})
	}

	if resp.StatusCode == http.StatusPartialContent {
		if rec.TotalBytes == 0 {
			rec.TotalBytes = totalFromContentRange(resp.Header.Get("Content-Range"))
		}
	} else {
		// Full response. If we asked for a range and the server ignored it,
		// appending would concatenate two full copies; start the file over.
		if offset > 0 {
			logger.Warn("server ignored resume request, restarting from zero")

			offset = 0
			rec.BytesDownloaded = 0
		}

		if rec.TotalBytes == 0 && resp.ContentLength > 0 {
			rec.TotalBytes = resp.ContentLength
		}
	}

	if err := e.stream(ctx, &rec, resp.Body, targetPath, offset); err != nil {
		if ctx.Err() != nil {
			return e.interrupt(ctx, &rec)
		}

		return e.fail(ctx, &rec, err)
	}

	// Observed truth wins over whatever the headers declared.
	rec.TotalBytes = rec.BytesDownloaded
	e.persist(ctx, rec)

	if !e.validator.Valid(targetPath) {
		// The file stays on disk for diagnosis.
		return e.fail(ctx, &rec, &InvalidArchiveError{Filename: rec.Filename})
	}

	done := time.Now()
	rec.Status = ledger.StatusCompleted
	rec.CompletedAt = &done
	e.persist(ctx, rec)

	logger.Info("download completed",
		"size", humanize.Bytes(uint64(rec.BytesDownloaded)),
		"duration", done.Sub(*rec.StartedAt).String(),
	)

	return OutcomeCompleted
}

// stream copies the response body to targetPath in fixed-size chunks,
// appending when resuming. The ledger is persisted at a coarse chunk
// interval to bound snapshot I/O.
func (e *Engine) stream(ctx context.Context, rec *ledger.DownloadRecord, body io.Reader, targetPath string, offset int64) error {
	logger := logctx.LoggerFromContext(ctx).With("filename", rec.Filename)

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if offset > 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
	}

	out, err := os.OpenFile(targetPath, flags, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open target file: %w", err)
	}
	defer out.Close()

	defer func(start int64) {
		e.telemetry.RecordBytesDownloaded(ctx, rec.BytesDownloaded-start)
	}(rec.BytesDownloaded)

	pr := progress.NewReader(body, rec.TotalBytes, progressLogInterval, func(written, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"downloaded", humanize.Bytes(uint64(offset+written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(offset+written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "downloaded", humanize.Bytes(uint64(offset+written)))
		}
	})

	buf := make([]byte, e.chunkSize)
	chunks := 0

	for {
		n, readErr := pr.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write chunk: %w", writeErr)
			}

			rec.BytesDownloaded += int64(n)
			chunks++

			if chunks%e.persistEveryChunk == 0 {
				e.persist(ctx, *rec)
			}
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return fmt.Errorf("stream interrupted: %w", readErr)
		}
	}
}

func (e *Engine) expire(ctx context.Context, rec *ledger.DownloadRecord, statusCode int) Outcome {
	rec.Status = ledger.StatusExpired
	rec.ErrorMessage = (&ExpiredLinkError{URL: rec.URL, StatusCode: statusCode}).Error()
	e.persist(ctx, *rec)

	logctx.LoggerFromContext(ctx).Warn("link expired",
		"filename", rec.Filename,
		"status", statusCode,
	)

	return OutcomeExpired
}

// interrupt handles a transfer cut short by run cancellation. The record
// stays in downloading with its byte count, so the next run resumes where
// this one stopped; the retry cap is for real failures, not Ctrl-C.
func (e *Engine) interrupt(ctx context.Context, rec *ledger.DownloadRecord) Outcome {
	rec.Status = ledger.StatusDownloading
	e.persist(ctx, *rec)

	logctx.LoggerFromContext(ctx).Warn("transfer interrupted, progress persisted",
		"filename", rec.Filename,
		"downloaded", humanize.Bytes(uint64(rec.BytesDownloaded)),
	)

	return OutcomeFailed
}

func (e *Engine) fail(ctx context.Context, rec *ledger.DownloadRecord, err error) Outcome {
	rec.Status = ledger.StatusFailed
	rec.ErrorMessage = err.Error()
	rec.RetryCount++
	e.persist(ctx, *rec)

	logctx.LoggerFromContext(ctx).Error("download failed",
		"filename", rec.Filename,
		"retry_count", rec.RetryCount,
		"err", err,
	)

	return OutcomeFailed
}

// persist upserts the record and snapshots the ledger. Snapshot failures
// are logged, not propagated: the in-memory record is still authoritative
// for the rest of the run.
func (e *Engine) persist(ctx context.Context, rec ledger.DownloadRecord) {
	e.ledger.Upsert(rec)

	if err := e.ledger.Snapshot(ctx); err != nil {
		logctx.LoggerFromContext(ctx).Warn("failed to persist ledger", "err", err)
	}
}

// ProbeSize asks the server for the payload size without downloading.
// Best effort: any failure just means the size stays unknown until the
// first response arrives.
func (e *Engine) ProbeSize(ctx context.Context, url string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, false
	}

	for name, value := range e.bundle.Headers {
		req.Header.Set(name, value)
	}

	for name, value := range e.bundle.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || resp.ContentLength <= 0 {
		return 0, false
	}

	return resp.ContentLength, true
}

// totalFromContentRange extracts the total size from a Content-Range
// header ("bytes start-end/total"). Returns 0 when absent or malformed.
func totalFromContentRange(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx == -1 {
		return 0
	}

	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return 0
	}

	return total
}
