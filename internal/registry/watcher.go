package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultWatchDebounce is the quiet period before a change triggers a rescan.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch rescans the registry whenever a watched directory changes, once the
// directories have been quiet for debounce. It watches every scanned directory
// and each tool directory directly below it. onRescan, if set, runs after each
// rescan. Watch blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration, onRescan func(ScanResult)) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range r.Dirs() {
		r.watchTree(w, dir)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			r.logger.Debug("Tool directory changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && !isSkipped(filepath.Base(ev.Name)) {
					r.addWatch(w, ev.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Tool directory watcher error", zap.Error(err))

		case <-timer.C:
			res := r.Rescan()
			for _, dir := range r.Dirs() {
				r.watchTree(w, dir)
			}
			if onRescan != nil {
				onRescan(res)
			}
		}
	}
}

func (r *Registry) watchTree(w *fsnotify.Watcher, dir string) {
	if !r.addWatch(w, dir) {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !isSkipped(e.Name()) {
			r.addWatch(w, filepath.Join(dir, e.Name()))
		}
	}
}

func (r *Registry) addWatch(w *fsnotify.Watcher, dir string) bool {
	for _, existing := range w.WatchList() {
		if existing == dir {
			return true
		}
	}
	if err := w.Add(dir); err != nil {
		r.logger.Debug("Cannot watch directory", zap.String("dir", dir), zap.Error(err))
		return false
	}
	return true
}
