// Package event provides the pipeline event type: a JSON-shaped field bag
// addressed by field references like "message" or "[host][ip]", with
// %{reference} template interpolation against the fields.
package event

import (
	"fmt"
	"strconv"
	"strings"
)

// Event is a single pipeline event. The zero value is not usable; construct
// with New. Events are not safe for concurrent mutation; the pipeline hands
// each event to exactly one worker at a time.
type Event struct {
	fields map[string]any
}

// New wraps a decoded field map. A nil map yields an empty event.
func New(fields map[string]any) *Event {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Event{fields: fields}
}

// Fields exposes the underlying map for encoding.
func (e *Event) Fields() map[string]any {
	return e.fields
}

// Get resolves a field reference. Nested references walk intermediate maps;
// a missing key or a non-map intermediate yields (nil, false).
func (e *Event) Get(ref string) (any, bool) {
	cur := any(e.fields)
	for _, key := range splitRef(ref) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes a field reference, creating intermediate maps as needed. A
// non-map intermediate value is replaced.
func (e *Event) Set(ref string, val any) {
	parts := splitRef(ref)
	m := e.fields
	for _, key := range parts[:len(parts)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			m[key] = next
		}
		m = next
	}
	m[parts[len(parts)-1]] = val
}

// AddTag appends tag to the tags field, creating it as needed. A tag already
// present is not added again; a scalar tags value is promoted to a list.
func (e *Event) AddTag(tag string) {
	cur, ok := e.fields["tags"]
	if !ok {
		e.fields["tags"] = []any{tag}
		return
	}
	switch t := cur.(type) {
	case []any:
		for _, existing := range t {
			if s, ok := existing.(string); ok && s == tag {
				return
			}
		}
		e.fields["tags"] = append(t, tag)
	case string:
		if t == tag {
			return
		}
		e.fields["tags"] = []any{t, tag}
	default:
		e.fields["tags"] = []any{cur, tag}
	}
}

// Interpolate replaces each %{reference} in tmpl with the referenced field's
// string form. Unknown references are left in place so a downstream parse
// fails on the literal template text instead of an empty string.
func (e *Event) Interpolate(tmpl string) string {
	start := strings.Index(tmpl, "%{")
	if start < 0 {
		return tmpl
	}

	var b strings.Builder
	for start >= 0 {
		b.WriteString(tmpl[:start])
		rest := tmpl[start+2:]
		end := strings.IndexByte(rest, '}')
		if end < 0 {
			// Unterminated %{ - keep the raw tail
			b.WriteString(tmpl[start:])
			return b.String()
		}
		if v, ok := e.Get(rest[:end]); ok {
			b.WriteString(stringify(v))
		} else {
			b.WriteString(tmpl[start : start+2+end+1])
		}
		tmpl = rest[end+1:]
		start = strings.Index(tmpl, "%{")
	}
	b.WriteString(tmpl)
	return b.String()
}

// splitRef splits "[a][b]" into its path segments. A bare name is a single
// top-level segment.
func splitRef(ref string) []string {
	if !strings.HasPrefix(ref, "[") {
		return []string{ref}
	}
	var parts []string
	for ref != "" {
		if ref[0] != '[' {
			return append(parts, ref)
		}
		end := strings.IndexByte(ref, ']')
		if end < 0 {
			return append(parts, ref[1:])
		}
		parts = append(parts, ref[1:end])
		ref = ref[end+1:]
	}
	return parts
}

// stringify renders a field value the way it appears in templates: scalars
// verbatim, sequences joined with commas.
func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, el := range t {
			parts[i] = stringify(el)
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}
