// Package rates serves the per-delivery rate table and keeps it in sync with
// its file on disk.
package rates

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"entregas/internal/core"
)

// Reloader is a core.RateTable backed by a JSON file. Reads always see a
// complete table; a bad edit keeps the previous one.
type Reloader struct {
	path    string
	current atomic.Pointer[core.StaticRates]
	logger  *slog.Logger
}

var _ core.RateTable = (*Reloader)(nil)

// NewReloader loads path, or the default table when path is empty.
func NewReloader(path string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{path: path, logger: logger}
	if path == "" {
		def := core.DefaultRates()
		r.current.Store(&def)
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Rate implements core.RateTable
func (r *Reloader) Rate(c core.Category, t core.Tier) float64 {
	return r.current.Load().Rate(c, t)
}

// Table returns a snapshot of the active rates.
func (r *Reloader) Table() core.StaticRates {
	return *r.current.Load()
}

// Reload reads the file again and swaps the table in.
func (r *Reloader) Reload() error {
	b, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read rates file: %w", err)
	}
	table, err := core.ParseRates(b)
	if err != nil {
		return fmt.Errorf("rates file %s: %w", r.path, err)
	}
	r.current.Store(&table)
	return nil
}

// Watch reloads the table whenever the file is written or replaced, until ctx
// is done. The parent directory is watched so editors that rename over the
// file are picked up. onChange, if set, runs after each successful reload.
func (r *Reloader) Watch(ctx context.Context, onChange func()) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(r.path), err)
	}

	go func() {
		defer w.Close()
		target := filepath.Clean(r.path)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := r.Reload(); err != nil {
					r.logger.Warn("Rates reload failed, keeping previous table", "error", err)
					continue
				}
				r.logger.Info("Rates reloaded", "path", r.path)
				if onChange != nil {
					onChange()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				r.logger.Error("Rates watcher error", "error", err)
			}
		}
	}()
	return nil
}
