// Package scheduler computes the pending set from the URL list and the
// ledger, and dispatches it to the transfer engine under a fixed
// concurrency bound.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/takeoutdl/takeout_downloader/internal/archive"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
	"github.com/takeoutdl/takeout_downloader/internal/logctx"
	"github.com/takeoutdl/takeout_downloader/internal/report"
	"github.com/takeoutdl/takeout_downloader/internal/transfer"
	"golang.org/x/sync/errgroup"
)

// maxRetries caps cumulative attempts per URL across runs. The count
// lives in the ledger, so it survives process restarts; clearing it is a
// manual operator action.
const maxRetries = 3

// Fetcher performs one URL's download to a definite outcome. The transfer
// engine is the production implementation.
type Fetcher interface {
	Fetch(ctx context.Context, url string) transfer.Outcome
}

// Scheduler dispatches pending downloads to a Fetcher.
type Scheduler struct {
	ledger      ledger.Store
	fetcher     Fetcher
	validator   *archive.Validator
	outputDir   string
	concurrency int
}

// New creates a scheduler. Concurrency below 1 is clamped to 1.
func New(store ledger.Store, fetcher Fetcher, validator *archive.Validator, outputDir string, concurrency int) *Scheduler {
	if concurrency < 1 {
		concurrency = 1
	}

	return &Scheduler{
		ledger:      store,
		fetcher:     fetcher,
		validator:   validator,
		outputDir:   outputDir,
		concurrency: concurrency,
	}
}

// Run downloads every pending URL and returns the final summary. A fault
// in one URL's transfer never aborts its siblings: workers hand back
// outcomes, not errors. Run returns an error only when the context is
// cancelled before the pending set drains.
func (s *Scheduler) Run(ctx context.Context, urls []string) (report.Summary, error) {
	logger := logctx.LoggerFromContext(ctx)

	// Duplicate lines in the URL list collapse to their first occurrence:
	// two workers must never hold the same record.
	seen := make(map[string]struct{}, len(urls))
	unique := make([]string, 0, len(urls))

	for _, url := range urls {
		if _, ok := seen[url]; ok {
			logger.Warn("duplicate url in list, ignoring repeat", "filename", transfer.DeriveFilename(url))

			continue
		}

		seen[url] = struct{}{}
		unique = append(unique, url)
	}

	urls = unique

	// Records are created lazily the first time a URL is seen, and never
	// deleted within a run.
	for _, url := range urls {
		if _, ok := s.ledger.Get(url); !ok {
			s.ledger.Upsert(*ledger.NewRecord(url, transfer.DeriveFilename(url)))
		}
	}

	pending := s.pendingSet(ctx, urls)
	if len(pending) == 0 {
		logger.Info("nothing to download, all records settled")

		return report.Build(s.ledger.Records()), nil
	}

	logger.Info("starting downloads",
		"pending", len(pending),
		"workers", s.concurrency,
	)

	var completed, failed, expired int32

	// Workers report outcomes, never errors, so there is no errgroup
	// context to derive: cancellation only ever comes from the caller.
	var wg errgroup.Group

	sem := make(chan struct{}, s.concurrency)

	for i := range pending {
		url := pending[i]

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
		}

		if ctx.Err() != nil {
			break
		}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			switch s.fetcher.Fetch(ctx, url) {
			case transfer.OutcomeCompleted:
				atomic.AddInt32(&completed, 1)
			case transfer.OutcomeExpired:
				atomic.AddInt32(&expired, 1)
			default:
				atomic.AddInt32(&failed, 1)
			}

			return nil
		})
	}

	_ = wg.Wait() // workers never return errors

	logger.Info("run finished",
		"completed", atomic.LoadInt32(&completed),
		"failed", atomic.LoadInt32(&failed),
		"expired", atomic.LoadInt32(&expired),
	)

	if err := s.ledger.Snapshot(ctx); err != nil {
		logger.Warn("failed to persist final ledger", "err", err)
	}

	return report.Build(s.ledger.Records()), ctx.Err()
}

// pendingSet selects, in list order, the URLs that still need work:
// fresh or pending records, failed records under the retry cap,
// interrupted transfers, and records whose completion claim does not
// survive re-validation of the on-disk file. Expired links never return.
func (s *Scheduler) pendingSet(ctx context.Context, urls []string) []string {
	logger := logctx.LoggerFromContext(ctx)

	var pending []string

	for _, url := range urls {
		rec, ok := s.ledger.Get(url)
		if !ok {
			pending = append(pending, url)

			continue
		}

		switch rec.Status {
		case ledger.StatusPending:
			pending = append(pending, url)
		case ledger.StatusFailed:
			if rec.RetryCount < maxRetries {
				pending = append(pending, url)
			} else {
				logger.Warn("retry cap reached, leaving as failed", "filename", rec.Filename)
			}
		case ledger.StatusDownloading:
			// An interrupted transfer; the engine resumes from the bytes
			// on disk.
			pending = append(pending, url)
		case ledger.StatusCompleted:
			path := filepath.Join(s.outputDir, rec.Filename)
			if _, err := os.Stat(path); err != nil || !s.validator.Valid(path) {
				logger.Warn("completed record failed re-validation, rescheduling", "filename", rec.Filename)

				pending = append(pending, url)
			}
		case ledger.StatusExpired:
			// Terminal until the operator supplies a fresh link.
		}
	}

	return pending
}
