package netlist

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// File serves a list loaded from a local file, reloaded on access once the
// refresh deadline has elapsed. Between deadlines every Snapshot returns the
// last successfully loaded content, even if the file has changed on disk. A
// failed reload keeps the stale list in service and still advances the
// deadline so a broken file is not retried on every event.
type File struct {
	path     string
	sep      string
	interval time.Duration
	mapping  bool

	list     atomic.Pointer[List]
	deadline atomic.Int64 // unix nanos of the next refresh

	mu sync.Mutex // serializes reloads
}

// NewFile builds a file source. The first load happens here and a failure is
// fatal: with no prior good state there is nothing to stay stale on.
func NewFile(path, sep string, interval time.Duration, mapping bool) (*File, error) {
	initMetrics()
	f := &File{path: path, sep: sep, interval: interval, mapping: mapping}
	list, err := f.load()
	if err != nil {
		return nil, fmt.Errorf("loading networks from %s: %w", path, err)
	}
	f.list.Store(list)
	f.deadline.Store(time.Now().Add(interval).UnixNano())
	log.Infof("loaded %d networks from %s", list.Len(), path)
	return f, nil
}

// Snapshot returns the current list, refreshing first if now has reached the
// deadline. Readers other than the one performing a refresh only pay an
// atomic pointer load.
func (f *File) Snapshot(now time.Time) *List {
	if now.UnixNano() >= f.deadline.Load() {
		f.refresh(now)
	}
	return f.list.Load()
}

func (f *File) refresh(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// Another caller may have refreshed while we waited for the lock
	if now.UnixNano() < f.deadline.Load() {
		return
	}

	list, err := f.load()
	if err != nil {
		log.Errorf("refreshing networks from %s: %s (keeping %d stale entries)",
			f.path, err, f.list.Load().Len())
		incRefreshError(f.path)
	} else {
		f.list.Store(list)
		updateLastRefresh(f.path, now)
		log.Debugf("refreshed %d networks from %s", list.Len(), f.path)
	}
	f.deadline.Store(now.Add(f.interval).UnixNano())
}

func (f *File) load() (*List, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return loadFrom(file, f.path, f.sep, f.mapping)
}

// loadFrom parses one source body into a fresh list and records its metrics.
// Shared by the file, watch and feed sources.
func loadFrom(r io.Reader, origin, sep string, mapping bool) (*List, error) {
	var (
		blocks  []Block
		skipped int
		err     error
	)
	if mapping {
		blocks, skipped, err = parseMapping(r, origin)
	} else {
		blocks, skipped, err = parsePlain(r, sep, origin)
	}
	if err != nil {
		return nil, err
	}
	list := NewList(blocks, mapping)
	updateEntries(origin, list.Len())
	addParseSkips(origin, skipped)
	return list, nil
}
