// Package watch runs a filesystem watcher over an intake directory so
// dropped CSV files are ingested without an HTTP upload.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/tm2bridge/ingest/internal/ingest"
)

// Watcher ingests CSV files that appear in a directory and moves them to
// a processed directory afterwards, whatever the outcome. A file is never
// processed twice because it always leaves the intake directory.
type Watcher struct {
	service      *ingest.Service
	dir          string
	processedDir string
	settleDelay  time.Duration
}

// Options configure a Watcher.
type Options struct {
	Dir          string
	ProcessedDir string

	// SettleDelay is how long to wait after a write event before reading
	// the file. Zero means read immediately.
	SettleDelay time.Duration
}

// New creates a watcher. Both directories are created if missing.
func New(service *ingest.Service, opts Options) (*Watcher, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("watch directory is required")
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = filepath.Join(opts.Dir, "processed")
	}

	for _, dir := range []string{opts.Dir, opts.ProcessedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return &Watcher{
		service:      service,
		dir:          opts.Dir,
		processedDir: opts.ProcessedDir,
		settleDelay:  opts.SettleDelay,
	}, nil
}

// Backfill processes CSV files already sitting in the intake directory.
// Call it before Run so files dropped while the service was down are not
// stranded waiting for a filesystem event.
func (w *Watcher) Backfill(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read intake directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !isCSV(entry.Name()) {
			continue
		}
		w.processFile(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Run watches the intake directory until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	slog.Info("watching intake directory", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isCSV(event.Name) {
				continue
			}
			if w.settleDelay > 0 {
				// Let slow copies finish before reading.
				select {
				case <-time.After(w.settleDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			w.processFile(ctx, event.Name)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

// processFile ingests one file and moves it to the processed directory.
func (w *Watcher) processFile(ctx context.Context, path string) {
	log := slog.Default().With("file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		// Write events can race the copy; the file may already be gone.
		if os.IsNotExist(err) {
			return
		}
		log.Error("read intake file", "error", err)
		return
	}

	result := w.service.ProcessFile(ctx, data, filepath.Base(path))
	log.Info("intake file processed",
		"processing_id", result.ProcessingID,
		"status", result.Status,
	)

	dest := filepath.Join(w.processedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		log.Error("move processed file", "error", err)
	}
}

func isCSV(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}
