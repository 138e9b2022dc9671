package netlist

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// userAgent identifies this consumer to feed operators.
func userAgent() string {
	const (
		name       = "cidrsieve"
		importPath = "github.com/sievekit/cidrsieve"
	)
	version := "unknown"
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == importPath {
				version = dep.Version
				break
			}
		}
		if version == "unknown" && bi.Main.Path == importPath && bi.Main.Version != "" {
			version = bi.Main.Version
		}
	}
	return name + "/" + version
}

// Feed serves a list fetched from an HTTP(S) URL and refreshed in the
// background on a fixed interval. Conditional requests keep unchanged feeds
// cheap; a failed refresh keeps the stale list in service.
type Feed struct {
	url     string
	sep     string
	mapping bool
	refresh time.Duration
	client  *http.Client

	list atomic.Pointer[List]

	mu           sync.Mutex
	lastModified string

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NewFeed builds a feed source. The initial fetch happens synchronously so a
// bad URL surfaces as a setup error rather than an empty list; the refresh
// loop then runs until ctx is cancelled or Close is called.
func NewFeed(ctx context.Context, url, sep string, refresh time.Duration, mapping bool) (*Feed, error) {
	initMetrics()
	f := &Feed{
		url:     url,
		sep:     sep,
		mapping: mapping,
		refresh: refresh,
		client:  &http.Client{Timeout: 30 * time.Second},
		done:    make(chan struct{}),
	}

	if err := f.update(ctx); err != nil {
		return nil, fmt.Errorf("fetching networks from %s: %w", url, err)
	}
	log.Infof("loaded %d networks from feed %s", f.list.Load().Len(), url)

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	go f.refreshLoop(ctx)
	return f, nil
}

// Snapshot returns the current list; the refresh goroutine swaps it in the
// background.
func (f *Feed) Snapshot(time.Time) *List {
	return f.list.Load()
}

// update fetches the feed and swaps in the parsed list. A 304 response
// leaves the current list untouched.
func (f *Feed) update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return err
	}

	f.mu.Lock()
	lastMod := f.lastModified
	f.mu.Unlock()
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}
	req.Header.Set("User-Agent", userAgent())

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		log.Debugf("feed %s not modified", f.url)
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	list, err := loadFrom(resp.Body, f.url, f.sep, f.mapping)
	if err != nil {
		return err
	}
	f.list.Store(list)
	updateLastRefresh(f.url, time.Now())

	f.mu.Lock()
	if lm := resp.Header.Get("Last-Modified"); lm != "" {
		f.lastModified = lm
	}
	f.mu.Unlock()
	return nil
}

func (f *Feed) refreshLoop(ctx context.Context) {
	defer close(f.done)

	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.update(ctx); err != nil {
				log.Errorf("refreshing feed %s: %s (keeping %d stale entries)",
					f.url, err, f.list.Load().Len())
				incRefreshError(f.url)
			}
		}
	}
}

// Close stops the refresh loop and waits for it to exit. Safe to call
// multiple times.
func (f *Feed) Close() error {
	f.closeOnce.Do(func() {
		f.cancel()
		<-f.done
	})
	return nil
}
