package netlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay gives writers a moment to finish before a changed file is
// reloaded; editors and atomic-rename writers often truncate first.
const settleDelay = 100 * time.Millisecond

// Watch serves a list reloaded whenever the backing file changes on disk,
// instead of on a timed deadline. The parent directory is watched rather
// than the file itself, so rename-into-place updates are seen.
type Watch struct {
	path    string
	sep     string
	mapping bool

	list atomic.Pointer[List]

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewWatch builds a watch source. As with File, the first load is fatal on
// failure.
func NewWatch(path, sep string, mapping bool) (*Watch, error) {
	initMetrics()
	w := &Watch{path: path, sep: sep, mapping: mapping, done: make(chan struct{})}

	list, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("loading networks from %s: %w", path, err)
	}
	w.list.Store(list)
	log.Infof("loaded %d networks from %s (watching for changes)", list.Len(), path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	w.watcher = watcher

	go w.watchLoop()
	return w, nil
}

// Snapshot returns the current list; the watch goroutine swaps it in the
// background.
func (w *Watch) Snapshot(time.Time) *List {
	return w.list.Load()
}

func (w *Watch) watchLoop() {
	filename := filepath.Base(w.path)

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filename {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			time.Sleep(settleDelay)
			list, err := w.load()
			if err != nil {
				log.Errorf("reloading networks from %s: %s (keeping %d stale entries)",
					w.path, err, w.list.Load().Len())
				incRefreshError(w.path)
				continue
			}
			w.list.Store(list)
			updateLastRefresh(w.path, time.Now())
			log.Infof("reloaded %d networks from %s", list.Len(), w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("watching %s: %s", w.path, err)
		}
	}
}

func (w *Watch) load() (*List, error) {
	file, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return loadFrom(file, w.path, w.sep, w.mapping)
}

// Close stops the watch goroutine and releases the watcher. Safe to call
// multiple times.
func (w *Watch) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			err = w.watcher.Close()
		}
	})
	return err
}
