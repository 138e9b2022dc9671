package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	ev := New(map[string]any{
		"message": "hello",
		"host": map[string]any{
			"ip":   "192.168.0.30",
			"name": "web-01",
		},
		"count": float64(3),
	})

	tests := []struct {
		name  string
		ref   string
		want  any
		found bool
	}{
		{"top level", "message", "hello", true},
		{"nested", "[host][ip]", "192.168.0.30", true},
		{"bracketed top level", "[message]", "hello", true},
		{"missing", "nope", nil, false},
		{"missing nested", "[host][port]", nil, false},
		{"non-map intermediate", "[message][x]", nil, false},
		{"number", "count", float64(3), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ev.Get(tt.ref)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSet(t *testing.T) {
	ev := New(nil)

	ev.Set("message", "hi")
	v, ok := ev.Get("message")
	require.True(t, ok)
	assert.Equal(t, "hi", v)

	// Intermediate maps are created on demand
	ev.Set("[geo][network]", "10.0.0.0/8")
	v, ok = ev.Get("[geo][network]")
	require.True(t, ok)
	assert.Equal(t, "10.0.0.0/8", v)

	// Overwriting a scalar intermediate replaces it
	ev.Set("[message][inner]", "x")
	v, ok = ev.Get("[message][inner]")
	require.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestInterpolate(t *testing.T) {
	ev := New(map[string]any{
		"ip":   "172.16.45.50",
		"nets": []any{"10.0.0.0/8", "172.16.0.0/12"},
		"host": map[string]any{"ip": "192.168.0.1"},
		"port": float64(8080),
		"up":   true,
	})

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"no template", "10.0.0.0/8", "10.0.0.0/8"},
		{"plain field", "%{ip}", "172.16.45.50"},
		{"nested field", "%{[host][ip]}", "192.168.0.1"},
		{"surrounding text", "addr=%{ip}!", "addr=172.16.45.50!"},
		{"two fields", "%{ip}:%{port}", "172.16.45.50:8080"},
		{"sequence joined", "%{nets}", "10.0.0.0/8,172.16.0.0/12"},
		{"bool", "%{up}", "true"},
		{"missing stays literal", "%{gone}", "%{gone}"},
		{"missing nested stays literal", "%{[a][b]}", "%{[a][b]}"},
		{"unterminated", "%{ip", "%{ip"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ev.Interpolate(tt.tmpl))
		})
	}
}

func TestInterpolateDoesNotMutate(t *testing.T) {
	ev := New(map[string]any{"ip": "1.2.3.4"})
	_ = ev.Interpolate("%{ip}/%{missing}")
	assert.Equal(t, map[string]any{"ip": "1.2.3.4"}, ev.Fields())
}

func TestAddTag(t *testing.T) {
	ev := New(nil)

	ev.AddTag("internal")
	v, _ := ev.Get("tags")
	assert.Equal(t, []any{"internal"}, v)

	// Duplicates are not added again
	ev.AddTag("internal")
	v, _ = ev.Get("tags")
	assert.Equal(t, []any{"internal"}, v)

	ev.AddTag("corp")
	v, _ = ev.Get("tags")
	assert.Equal(t, []any{"internal", "corp"}, v)

	// A scalar tags value is promoted to a list
	ev = New(map[string]any{"tags": "ingest"})
	ev.AddTag("internal")
	v, _ = ev.Get("tags")
	assert.Equal(t, []any{"ingest", "internal"}, v)
}

func TestSplitRef(t *testing.T) {
	assert.Equal(t, []string{"field"}, splitRef("field"))
	assert.Equal(t, []string{"a", "b"}, splitRef("[a][b]"))
	assert.Equal(t, []string{"a"}, splitRef("[a]"))
	// Malformed references degrade to best-effort segments, never panic
	assert.Equal(t, []string{"a"}, splitRef("[a"))
	assert.Equal(t, []string{"a", "b"}, splitRef("[a]b"))
}
