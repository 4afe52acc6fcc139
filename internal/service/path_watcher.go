package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonno85/warc-ingest/internal/importer"
)

var (
	ErrPathAlreadyWatched = errors.New("path is already watched")
	ErrPathNotFound       = errors.New("path not found")
)

// FsPathWatcher is an alias for fsnotify.Watcher, used for file system event watching.
type FsPathWatcher = fsnotify.Watcher

// BatchIngester ingests a set of archive files as one job.
type BatchIngester interface {
	IngestMany(ctx context.Context, user string, paths []string) (importer.Result, error)
}

// PathRegistry persists the set of watched directories.
type PathRegistry interface {
	Add(ctx context.Context, path string) error
	Has(ctx context.Context, path string) (bool, error)
	Remove(ctx context.Context, path string) error
	List(ctx context.Context) ([]string, error)
}

// IsArchiveFile reports whether a dropped file should be ingested.
func IsArchiveFile(path string) bool {
	lower := strings.ToLower(path)
	return strings.HasSuffix(lower, ".warc") ||
		strings.HasSuffix(lower, ".warc.gz") ||
		strings.HasSuffix(lower, ".har")
}

// PathWatcherService watches one directory and ingests the archive files
// written to it once the directory has been quiet for the settle period.
type PathWatcherService struct {
	fsPathWatcher *FsPathWatcher
	done          chan struct{}

	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
}

// PathWatcherAdmin manages the watched directories.
type PathWatcherAdmin struct {
	mu       sync.Mutex
	watchers map[string]*PathWatcherService
	registry PathRegistry
	ingester BatchIngester
	user     string
	settle   time.Duration
}

// NewPathWatcherAdmin returns a PathWatcherAdmin ingesting files for user
// after settle without further writes.
func NewPathWatcherAdmin(registry PathRegistry, ingester BatchIngester, user string, settle time.Duration) *PathWatcherAdmin {
	return &PathWatcherAdmin{
		watchers: make(map[string]*PathWatcherService),
		registry: registry,
		ingester: ingester,
		user:     user,
		settle:   settle,
	}
}

// startOrResetTimer adds path to the pending batch and restarts the settle timer.
func (pa *PathWatcherAdmin) startOrResetTimer(pw *PathWatcherService, path string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	pw.pending[path] = struct{}{}
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.timer = time.AfterFunc(pa.settle, func() {
		paths := pw.takePending()
		if len(paths) == 0 {
			return
		}
		slog.Info("No updates, ingesting files", "timeout", pa.settle.String(), "files", len(paths))
		pa.ingest(paths)
	})
}

func (pw *PathWatcherService) takePending() []string {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	paths := make([]string, 0, len(pw.pending))
	for p := range pw.pending {
		paths = append(paths, p)
	}
	pw.pending = make(map[string]struct{})
	pw.timer = nil
	sort.Strings(paths)
	return paths
}

func (pa *PathWatcherAdmin) ingest(paths []string) {
	res, err := pa.ingester.IngestMany(context.Background(), pa.user, paths)
	if err != nil {
		slog.Error("Failed to ingest dropped files", "files", paths, "err", err)
		return
	}
	slog.Info("Dropped files accepted", "uploadID", res.UploadID, "user", res.User, "files", len(paths))
}

// handleWatcherEvents dispatches file system events until done is closed.
func (pa *PathWatcherAdmin) handleWatcherEvents(pw *PathWatcherService) {
	go func() {
		for {
			select {
			case event, ok := <-pw.fsPathWatcher.Events:
				if !ok {
					return
				}
				slog.Debug("event", "action", event.Op, "path", event.Name)
				switch {
				case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
					if IsArchiveFile(event.Name) {
						pa.startOrResetTimer(pw, event.Name)
					}
				case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
					pw.mu.Lock()
					delete(pw.pending, event.Name)
					pw.mu.Unlock()
					slog.Debug("file renamed/removed", "path", event.Name)
				}
			case err, ok := <-pw.fsPathWatcher.Errors:
				if !ok {
					return
				}
				slog.Error("watcher error", "err", err)
			case <-pw.done:
				slog.Info("Shutting down path watcher goroutine")
				return
			}
		}
	}()
}

// AddAndWatchPath starts watching path and registers it.
func (pa *PathWatcherAdmin) AddAndWatchPath(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if _, ok := pa.watchers[path]; ok {
		return fmt.Errorf("%w: %s", ErrPathAlreadyWatched, path)
	}

	fsPathWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create path watcher: %w", err)
	}
	if err := fsPathWatcher.Add(path); err != nil {
		fsPathWatcher.Close()
		return fmt.Errorf("watch %s: %w", path, err)
	}
	if err := pa.registry.Add(ctx, path); err != nil {
		fsPathWatcher.Close()
		return err
	}

	pw := &PathWatcherService{
		fsPathWatcher: fsPathWatcher,
		done:          make(chan struct{}),
		pending:       make(map[string]struct{}),
	}
	pa.watchers[path] = pw
	pa.handleWatcherEvents(pw)
	slog.Info("Path added to watchlist", "path", path)
	return nil
}

// DeleteWatchPath stops watching path and unregisters it.
func (pa *PathWatcherAdmin) DeleteWatchPath(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	slog.Info("Deleting watch path", "path", path)
	pa.mu.Lock()
	defer pa.mu.Unlock()

	pw, ok := pa.watchers[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	close(pw.done)
	pw.fsPathWatcher.Close()
	pw.mu.Lock()
	if pw.timer != nil {
		pw.timer.Stop()
	}
	pw.mu.Unlock()
	delete(pa.watchers, path)
	if err := pa.registry.Remove(ctx, path); err != nil {
		return err
	}
	slog.Info("Path removed from watchlist", "path", path)
	return nil
}

// Restore watches every registered path, skipping ones that no longer exist.
func (pa *PathWatcherAdmin) Restore(ctx context.Context) error {
	paths, err := pa.registry.List(ctx)
	if err != nil {
		return err
	}
	for _, p := range paths {
		if err := pa.AddAndWatchPath(ctx, p); err != nil && !errors.Is(err, ErrPathAlreadyWatched) {
			slog.Warn("Failed to restore watched path", "path", p, "err", err)
		}
	}
	return nil
}

// Close stops every watcher.
func (pa *PathWatcherAdmin) Close() {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	for path, pw := range pa.watchers {
		close(pw.done)
		pw.fsPathWatcher.Close()
		pw.mu.Lock()
		if pw.timer != nil {
			pw.timer.Stop()
		}
		pw.mu.Unlock()
		delete(pa.watchers, path)
	}
}
