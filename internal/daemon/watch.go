package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher error backoff.
const (
	watchErrInitBackoff = 1 * time.Second
	watchErrMaxBackoff  = 1 * time.Minute
	watchErrBackoffMult = 2
)

// FsWatcher abstracts fsnotify so the reload loop can be driven in tests.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWatcher struct {
	w *fsnotify.Watcher
}

func newFsnotifyWatcher() (*fsnotifyWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &fsnotifyWatcher{w: w}, nil
}

func (f *fsnotifyWatcher) Add(name string) error         { return f.w.Add(name) }
func (f *fsnotifyWatcher) Close() error                  { return f.w.Close() }
func (f *fsnotifyWatcher) Events() <-chan fsnotify.Event { return f.w.Events }
func (f *fsnotifyWatcher) Errors() <-chan error          { return f.w.Errors }

// watchConfig swaps the engine's admission filter whenever the config file
// changes. The parent directory is watched because editors replace files by
// rename. A config that fails to load keeps the previous filter.
func (d *Daemon) watchConfig(ctx context.Context, watcher FsWatcher) error {
	defer watcher.Close()

	target := filepath.Clean(d.opts.ConfigPath)

	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("daemon: watching %s: %w", target, err)
	}

	d.logger.Info("watching config for changes", slog.String("path", target))

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events():
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}

			d.Reload()

			errBackoff = watchErrInitBackoff

		case err, ok := <-watcher.Errors():
			if !ok {
				return nil
			}

			d.logger.Warn("config watcher error",
				slog.String("error", err.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

// Reload re-reads the admission patterns and swaps the engine filter. A
// config that fails to load keeps the previous filter.
func (d *Daemon) Reload() {
	if d.opts.LoadFilter == nil {
		return
	}

	filter, err := d.opts.LoadFilter()
	if err != nil {
		d.logger.Warn("config reload failed, keeping previous filter",
			slog.String("path", d.opts.ConfigPath),
			slog.String("error", err.Error()),
		)

		return
	}

	d.engine.SetFilter(filter)
	d.logger.Info("admission filter reloaded", slog.String("path", d.opts.ConfigPath))
}

// timeSleep waits for d or until ctx is done.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
