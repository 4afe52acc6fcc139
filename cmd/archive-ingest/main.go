// Package main implements the archive ingestion service. It accepts WARC and
// HAR uploads over HTTP, streams their recordings to the configured sink,
// watches drop directories and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonno85/warc-ingest/internal/adapter"
	"github.com/jonno85/warc-ingest/internal/catalog"
	"github.com/jonno85/warc-ingest/internal/config"
	"github.com/jonno85/warc-ingest/internal/handlers"
	"github.com/jonno85/warc-ingest/internal/importer"
	"github.com/jonno85/warc-ingest/internal/index"
	"github.com/jonno85/warc-ingest/internal/middleware"
	"github.com/jonno85/warc-ingest/internal/pages"
	"github.com/jonno85/warc-ingest/internal/parser"
	"github.com/jonno85/warc-ingest/internal/progress"
	"github.com/jonno85/warc-ingest/internal/service"
)

// newSink picks the remote sink named by SINK_KIND.
func newSink(cfg *config.Config, clients *config.AppClients) importer.Sink {
	if cfg.SinkKind == config.SinkS3 {
		return importer.NewObjectSink(clients.S3, cfg.ObjectKeyTemplate)
	}
	return importer.NewHTTPSink(&http.Client{}, cfg.RecordHost, cfg.UploadPathTemplate)
}

func newOrchestrator(cfg *config.Config, clients *config.AppClients) (*importer.Orchestrator, error) {
	p, err := parser.NewWithArchives(cfg.RemoteArchivesFile)
	if err != nil {
		return nil, fmt.Errorf("load remote archives: %w", err)
	}
	users := catalog.NewStore(clients.Redis, cfg.DefaultUserQuota)
	strategy := importer.NewRemoteStrategy(newSink(cfg, clients)).
		WithRetry(cfg.PutAttempts, 200*time.Millisecond).
		WithUsage(users)
	return importer.New(
		strategy,
		users,
		p,
		pages.NewDetector(index.NewRedisIndex(clients.Redis, cfg.CDXJKeyTemplate)),
		progress.NewStore(clients.Redis, cfg.StatusReadExpire),
		importer.Options{
			SpoolDir:         cfg.SpoolDir,
			UploadExpire:     cfg.UploadStatusExpire,
			MaxDetectPages:   cfg.MaxDetectPages,
			NumWorkers:       cfg.NumWorkers,
			UploadCollection: cfg.UploadCollection(),
		},
	), nil
}

// runBackgroundTasks restores registered drop directories and watches WATCH_PATH.
func runBackgroundTasks(ctx context.Context, cfg *config.Config, pathWatcher *service.PathWatcherAdmin) {
	slog.Info("Running background: Restore watched paths")
	if err := pathWatcher.Restore(ctx); err != nil {
		slog.Error("Failed to restore watched paths", "err", err)
	}
	if cfg.WatchPath == "" {
		return
	}
	slog.Info("Running background: AddAndWatchPath", "path", cfg.WatchPath)
	if err := pathWatcher.AddAndWatchPath(ctx, cfg.WatchPath); err != nil && !errors.Is(err, service.ErrPathAlreadyWatched) {
		slog.Error("Failed to watch path", "path", cfg.WatchPath, "err", err)
	}
}

// setupHTTPServer configures the API server and starts the Prometheus metrics server.
func setupHTTPServer(cfg *config.Config, orch *importer.Orchestrator, pathWatcher *service.PathWatcherAdmin) *http.Server {
	v1Handler := &handlers.V1Handler{
		Uploader:    orch,
		PathWatcher: pathWatcher,
	}
	wrappedHandler := middleware.RequestLogger(handlers.NewRouter(v1Handler))
	go func() {
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		slog.Info("Starting Prometheus metrics server", "addr", addr)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("Prometheus metrics server error", "err", err)
		}
	}()

	return config.NewHTTPServer(cfg.ServerPort, wrappedHandler)
}

// gracefulShutdown stops the server, waits for running transfers and closes clients.
func gracefulShutdown(server *http.Server, orch *importer.Orchestrator, pathWatcher *service.PathWatcherAdmin, clients *config.AppClients) {
	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	} else {
		slog.Info("Server exited gracefully")
	}

	pathWatcher.Close()
	slog.Info("Waiting for running transfers")
	orch.Wait()

	if err := clients.Close(); err != nil {
		slog.Error("Failed to close Redis client", "err", err)
	} else {
		slog.Info("Redis client closed")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogLevel)

	ctx := context.Background()
	clients, err := config.NewAppClients(ctx, cfg)
	if err != nil {
		slog.Error("Failed to create clients", "err", err)
		os.Exit(1)
	}

	orch, err := newOrchestrator(cfg, clients)
	if err != nil {
		slog.Error("Failed to create importer", "err", err)
		os.Exit(1)
	}
	pathWatcher := service.NewPathWatcherAdmin(adapter.NewPathRegistry(clients.Redis), orch, cfg.WatchUser, cfg.StreamTimeout)

	runBackgroundTasks(ctx, cfg, pathWatcher)
	server := setupHTTPServer(cfg, orch, pathWatcher)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("Starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "err", err)
		}
	}()

	<-quit
	gracefulShutdown(server, orch, pathWatcher, clients)
}
