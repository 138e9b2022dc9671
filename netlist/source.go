// Package netlist provides parsed CIDR network lists and the sources that
// keep them current: inline configuration, refreshed or watched files, and
// remote HTTP feeds. Lists are immutable snapshots; sources swap a snapshot
// pointer so readers on the matching hot path never block behind a reload.
package netlist

import (
	"fmt"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("cidrsieve/netlist")

// Source supplies the current network list. Snapshot always returns an
// internally consistent list and never blocks beyond the source's own
// refresh discipline. The caller passes its notion of now, which is what
// deadline-based sources measure refresh intervals against.
type Source interface {
	Snapshot(now time.Time) *List
}

// Interpolator expands %{field} templates against a single event. It is the
// only event capability this package consumes.
type Interpolator interface {
	Interpolate(tmpl string) string
}

// Static serves a list parsed once from inline configuration. Entries
// containing %{ templates cannot be parsed ahead of time; such a source
// reports Templated and expands entries per event through Resolve.
type Static struct {
	list      *List
	entries   []string
	sep       string
	templated bool
}

// NewStatic builds a static source from literal or templated entries. Each
// entry may itself hold several networks separated by sep. Invalid literal
// entries are skipped with a warning; if every configured entry is invalid
// the configuration is rejected.
func NewStatic(entries []string, sep string) (*Static, error) {
	initMetrics()
	s := &Static{sep: sep}
	for _, e := range entries {
		if strings.Contains(e, "%{") {
			s.templated = true
			break
		}
	}
	if s.templated {
		s.entries = entries
		s.list = NewList(nil, false)
		return s, nil
	}

	var blocks []Block
	for _, raw := range entries {
		for _, part := range splitEntry(raw, sep) {
			p, err := ParseBlock(part)
			if err != nil {
				log.Warnf("skipping network entry in config: %s", err)
				continue
			}
			blocks = append(blocks, Block{Prefix: p})
		}
	}
	if len(entries) > 0 && len(blocks) == 0 {
		return nil, fmt.Errorf("no valid entries among %d configured networks", len(entries))
	}
	s.list = NewList(blocks, false)
	updateEntries(originConfig, s.list.Len())
	return s, nil
}

// NewStaticMapping builds a payload-bearing static source from an inline
// CIDR→payload mapping.
func NewStaticMapping(m map[string]any) (*Static, error) {
	initMetrics()
	blocks, _ := mappingBlocks(m, originConfig)
	if len(m) > 0 && len(blocks) == 0 {
		return nil, fmt.Errorf("no valid entries among %d configured network mappings", len(m))
	}
	s := &Static{list: NewList(blocks, true)}
	updateEntries(originConfig, s.list.Len())
	return s, nil
}

// Snapshot returns the cached list. For templated sources this is empty;
// callers must use Resolve with the event instead.
func (s *Static) Snapshot(time.Time) *List {
	return s.list
}

// Templated reports whether entries must be resolved per event.
func (s *Static) Templated() bool {
	return s.templated
}

// Resolve expands templated entries against one event, splits each expansion
// on the separator, and parses the pieces. Parse failures are skipped with a
// warning so one bad entry never aborts the event.
func (s *Static) Resolve(in Interpolator) *List {
	if !s.templated {
		return s.list
	}
	var blocks []Block
	for _, raw := range s.entries {
		expanded := in.Interpolate(raw)
		for _, part := range splitEntry(expanded, s.sep) {
			p, err := ParseBlock(part)
			if err != nil {
				log.Warnf("skipping network entry (from template %q): %s", raw, err)
				continue
			}
			blocks = append(blocks, Block{Prefix: p})
		}
	}
	return NewList(blocks, false)
}

// splitEntry splits one configured entry on the separator, dropping empty
// pieces silently.
func splitEntry(raw, sep string) []string {
	if sep == "" {
		sep = "\n"
	}
	var parts []string
	for _, p := range strings.Split(raw, sep) {
		p = strings.TrimSpace(p)
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

const originConfig = "config"
