package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/takeoutdl/takeout_downloader/internal/archive"
	"github.com/takeoutdl/takeout_downloader/internal/auth"
	"github.com/takeoutdl/takeout_downloader/internal/config"
	"github.com/takeoutdl/takeout_downloader/internal/http/rest"
	"github.com/takeoutdl/takeout_downloader/internal/ledger"
	"github.com/takeoutdl/takeout_downloader/internal/logctx"
	"github.com/takeoutdl/takeout_downloader/internal/notifier"
	"github.com/takeoutdl/takeout_downloader/internal/report"
	"github.com/takeoutdl/takeout_downloader/internal/scheduler"
	"github.com/takeoutdl/takeout_downloader/internal/source"
	"github.com/takeoutdl/takeout_downloader/internal/telemetry"
	"github.com/takeoutdl/takeout_downloader/internal/transfer"
)

const (
	dirPerm    = 0755
	ledgerFile = "download_progress.json"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("takeout downloader starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Validate the environment: these failures are fatal, no partial run.
	if err := os.MkdirAll(cfg.OutputDir, dirPerm); err != nil {
		return fmt.Errorf("output directory is not usable: %w", err)
	}

	urls, err := source.LoadURLs(ctx, cfg.URLsFile)
	if err != nil {
		return err
	}

	bundle, err := auth.Load(ctx, cfg.AuthFile)
	if err != nil {
		return err
	}

	if bundle.Empty() {
		logger.Warn("no credentials loaded, authenticated links will likely come back as login pages")
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Web.BindAddress != "",
		ServiceName: "takeout_downloader",
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Open Ledger
	led, err := ledger.Open(ctx, filepath.Join(cfg.OutputDir, ledgerFile))
	if err != nil {
		return err
	}

	var store ledger.Store = led
	if cfg.Web.BindAddress != "" {
		store = ledger.NewInstrumentedLedger(led, tel)
	}

	// =========================================================================
	// Start Transfer Engine
	validator := archive.NewValidator(cfg.MinArchiveSize)

	engine := transfer.NewEngine(store, validator, bundle, tel, transfer.Options{
		OutputDir:         cfg.OutputDir,
		ChunkSize:         cfg.ChunkSize,
		PersistEveryChunk: cfg.PersistEveryChunk,
		RequestTimeout:    cfg.RequestTimeout,
	})

	// Prefill sizes for URLs we have never seen; best effort, resumed
	// records already carry theirs.
	registerFreshURLs(ctx, store, engine, urls)

	// =========================================================================
	// Start Status API
	serverErrors := make(chan error, 1)

	var server *http.Server

	if cfg.Web.BindAddress != "" {
		server = setupServer(ctx, store, tel, cfg)

		go func() {
			logger.Info("initializing status API", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()
	}

	// =========================================================================
	// Run the scheduler
	logger.Info("starting run",
		"urls", len(urls),
		"output_dir", cfg.OutputDir,
		"max_parallel", cfg.MaxParallel,
	)

	sched := scheduler.New(store, engine, validator, cfg.OutputDir, cfg.MaxParallel)

	type runResult struct {
		summary report.Summary
		err     error
	}

	done := make(chan runResult, 1)

	go func() {
		summary, err := sched.Run(ctx, urls)
		done <- runResult{summary: summary, err: err}
	}()

	var summary report.Summary

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case res := <-done:
		summary = res.summary

		if res.err != nil && !errors.Is(res.err, context.Canceled) {
			return res.err
		}

		if errors.Is(res.err, context.Canceled) {
			logger.Info("run interrupted, progress persisted")
		}
	}

	summary.Render(os.Stdout)

	notifyRunFinished(ctx, cfg, summary)

	// =========================================================================
	// Shutdown
	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}
	}

	return nil
}

// registerFreshURLs creates records for never-seen URLs, probing the
// server for the payload size so progress percentages work from the first
// chunk.
func registerFreshURLs(ctx context.Context, store ledger.Store, engine *transfer.Engine, urls []string) {
	for _, url := range urls {
		if _, ok := store.Get(url); ok {
			continue
		}

		rec := ledger.NewRecord(url, transfer.DeriveFilename(url))

		if size, ok := engine.ProbeSize(ctx, url); ok {
			rec.TotalBytes = size
		}

		store.Upsert(*rec)
	}
}

// notifyRunFinished pushes the run outcome to the configured webhook.
// Expired links in particular need a human to produce fresh URLs.
func notifyRunFinished(ctx context.Context, cfg *config.Config, summary report.Summary) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	var notif notifier.Notifier = &notifier.DiscordNotifier{WebhookURL: cfg.DiscordWebhookURL}

	content := fmt.Sprintf("Takeout run finished: %d completed, %d failed, %d expired of %d",
		summary.Completed, summary.Failed, summary.Expired, summary.Total)

	if summary.Expired > 0 {
		content += "\n⚠️ Expired links need fresh URLs from the takeout page."
	}

	if err := notif.Notify(context.WithoutCancel(ctx), content); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}

// setupServer prepares the read-only status API server.
func setupServer(ctx context.Context, store ledger.Store, tel *telemetry.Telemetry, cfg *config.Config) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewStatusHandler(store, tel).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}
