package sieve

import "go.uber.org/zap"

// resolver extracts candidate address strings from an event, either from a
// single field or by interpolating configured templates. Output is raw
// strings in configuration order; duplicates and empties pass through, and
// no parsing happens here so one bad address cannot abort the others.
type resolver struct {
	field     string
	templates []string
	log       *zap.SugaredLogger
}

func (r resolver) strings(ev Event) []string {
	if r.field != "" {
		v, ok := ev.Get(r.field)
		if !ok {
			return nil
		}
		switch t := v.(type) {
		case string:
			return []string{t}
		case []string:
			return t
		case []any:
			out := make([]string, 0, len(t))
			for _, el := range t {
				s, ok := el.(string)
				if !ok {
					r.log.Warnf("ignoring non-string value %v in field %s", el, r.field)
					continue
				}
				out = append(out, s)
			}
			return out
		default:
			r.log.Warnf("ignoring field %s: expected string or list of strings, got %T", r.field, v)
			return nil
		}
	}

	out := make([]string, 0, len(r.templates))
	for _, tmpl := range r.templates {
		out = append(out, ev.Interpolate(tmpl))
	}
	return out
}
