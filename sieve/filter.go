package sieve

import (
	"context"
	"io"
)

// tagsField is where applied tags accumulate on the event.
const tagsField = "tags"

// Filter wires engine outcomes back onto events: add_tag and payload
// write-back happen here, keeping Evaluate free of side effects.
type Filter struct {
	*Engine
}

// New builds a validated filter. Errors are setup errors; see NewEngine.
func New(ctx context.Context, cfg Config, opts ...Option) (*Filter, error) {
	eng, err := NewEngine(ctx, cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Filter{Engine: eng}, nil
}

// Process evaluates the event and applies the configured match actions. The
// event passes through untouched unless it matched.
func (f *Filter) Process(ev Event) Outcome {
	out := f.Evaluate(ev)
	if !out.Matched {
		incEvent(resultNoMatch)
		return out
	}

	incEvent(resultMatched)
	for _, tag := range f.cfg.AddTag {
		addTag(ev, ev.Interpolate(tag))
	}
	if out.Payload != nil && f.cfg.Target != "" {
		ev.Set(f.cfg.Target, out.Payload)
	}
	return out
}

// Close releases the network source if it holds resources (watchers, feed
// refresh loops). Safe to call multiple times.
func (f *Filter) Close() error {
	if c, ok := f.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// addTag appends tag to the event's tags field without duplicating,
// whatever shape the field already has.
func addTag(ev Event, tag string) {
	cur, ok := ev.Get(tagsField)
	if !ok {
		ev.Set(tagsField, []any{tag})
		return
	}
	switch t := cur.(type) {
	case []any:
		for _, existing := range t {
			if s, ok := existing.(string); ok && s == tag {
				return
			}
		}
		ev.Set(tagsField, append(t, tag))
	case string:
		if t == tag {
			return
		}
		ev.Set(tagsField, []any{t, tag})
	default:
		ev.Set(tagsField, []any{cur, tag})
	}
}
