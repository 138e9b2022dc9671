// Package sieve matches event addresses against configured CIDR network
// lists. The Engine is the pure evaluation core: it resolves candidate
// addresses from an event, obtains the current network snapshot, and reports
// the first containing network. Filter layers the configured match actions
// (tags, payload write-back) on top.
package sieve

import (
	"context"
	"fmt"
	"net/netip"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap"

	"github.com/sievekit/cidrsieve/netlist"
)

var log = logging.Logger("cidrsieve/sieve")

// Event is the host event capability the filter consumes. event.Event
// implements it; any pipeline's event type can.
type Event interface {
	Get(ref string) (any, bool)
	Set(ref string, val any)
	Interpolate(tmpl string) string
}

// Outcome is the result of evaluating one event.
type Outcome struct {
	// Matched reports whether any candidate address fell inside any
	// configured network.
	Matched bool

	// Network is the matched block's prefix; the zero value when no match.
	Network netip.Prefix

	// Payload carries the matched network's mapping value when the source
	// is payload-bearing and network_return is enabled.
	Payload any
}

// Engine evaluates events against the configured network source. Evaluate
// never mutates the event, and one Engine is safe for concurrent use from
// many workers.
type Engine struct {
	cfg      Config
	source   netlist.Source
	static   *netlist.Static // set when inline entries resolve per event
	resolver resolver
	log      *zap.SugaredLogger
	now      func() time.Time
}

// Option adjusts an Engine at construction.
type Option func(*Engine)

// WithLogger replaces the package logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithClock replaces the time source used for refresh deadlines. Tests use
// it to step past deadlines without sleeping.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine validates the configuration and performs the source's first
// load. Any error here is a setup error; no engine exists to process events.
func NewEngine(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	src, err := newSource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	initMetrics()
	e := &Engine{
		cfg:    cfg,
		source: src,
		log:    log.Desugar().Sugar(),
		now:    time.Now,
	}
	if s, ok := src.(*netlist.Static); ok && s.Templated() {
		e.static = s
	}
	for _, o := range opts {
		o(e)
	}
	e.resolver = resolver{field: cfg.AddressField, templates: cfg.Address, log: e.log}
	return e, nil
}

// Evaluate resolves the event's candidate addresses and tests them against
// the current network snapshot: addresses in resolution order in the outer
// loop, networks in list order in the inner one, first match wins.
func (e *Engine) Evaluate(ev Event) Outcome {
	addrs := e.addresses(ev)
	if len(addrs) == 0 {
		return Outcome{}
	}

	list := e.snapshot(ev)
	if list.Len() == 0 {
		return Outcome{}
	}

	for _, addr := range addrs {
		if b, ok := list.Match(addr); ok {
			out := Outcome{Matched: true, Network: b.Prefix}
			if e.cfg.NetworkReturn && list.PayloadBearing() {
				out.Payload = b.Payload
			}
			return out
		}
	}
	return Outcome{}
}

// snapshot returns the network list for this event, expanding per-event
// templated entries when the static source carries any.
func (e *Engine) snapshot(ev Event) *netlist.List {
	if e.static != nil {
		return e.static.Resolve(ev)
	}
	return e.source.Snapshot(e.now())
}

// addresses parses the resolved candidate strings, discarding unparsable
// ones with a warning so a single bad value never aborts the event.
func (e *Engine) addresses(ev Event) []netip.Addr {
	raw := e.resolver.strings(ev)
	addrs := make([]netip.Addr, 0, len(raw))
	for _, s := range raw {
		if strings.TrimSpace(s) == "" {
			continue
		}
		addr, err := netlist.ParseAddr(s)
		if err != nil {
			e.log.Warnf("skipping candidate address: %s", err)
			incAddressSkip()
			continue
		}
		addrs = append(addrs, addr)
	}
	return addrs
}

// Source exposes the engine's network source, mainly for diagnostics.
func (e *Engine) Source() netlist.Source {
	return e.source
}
