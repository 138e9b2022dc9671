package sieve

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sievekit/cidrsieve/event"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "address with networks",
			cfg:  Config{Address: []string{"%{ip}"}, Network: []string{"10.0.0.0/8"}},
		},
		{
			name: "address field with network path",
			cfg:  Config{AddressField: "[host][ip]", NetworkPath: "/tmp/nets.txt"},
		},
		{
			name: "no networks at all is allowed",
			cfg:  Config{Address: []string{"%{ip}"}},
		},
		{
			name:    "network and network_path",
			cfg:     Config{Address: []string{"%{ip}"}, Network: []string{"10.0.0.0/8"}, NetworkPath: "/tmp/nets.txt"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "network and network_map",
			cfg:     Config{Address: []string{"%{ip}"}, Network: []string{"10.0.0.0/8"}, NetworkMap: map[string]any{"10.0.0.0/8": 1}},
			wantErr: "mutually exclusive",
		},
		{
			name:    "network_path and network_url",
			cfg:     Config{Address: []string{"%{ip}"}, NetworkPath: "/tmp/nets.txt", NetworkURL: "http://example.com/nets"},
			wantErr: "mutually exclusive",
		},
		{
			name:    "address and address_field",
			cfg:     Config{Address: []string{"%{ip}"}, AddressField: "[host][ip]", Network: []string{"10.0.0.0/8"}},
			wantErr: "address and address_field are mutually exclusive",
		},
		{
			name:    "no address mode",
			cfg:     Config{Network: []string{"10.0.0.0/8"}},
			wantErr: "one of address or address_field is required",
		},
		{
			name:    "negative refresh interval",
			cfg:     Config{Address: []string{"%{ip}"}, RefreshInterval: -1},
			wantErr: "refresh_interval",
		},
		{
			name:    "watch without path",
			cfg:     Config{Address: []string{"%{ip}"}, Network: []string{"10.0.0.0/8"}, Watch: true},
			wantErr: "watch requires network_path",
		},
		{
			name:    "network_return without target",
			cfg:     Config{Address: []string{"%{ip}"}, NetworkMap: map[string]any{"10.0.0.0/8": 1}, NetworkReturn: true},
			wantErr: "network_return requires target",
		},
		{
			name:    "network_return without mapping",
			cfg:     Config{Address: []string{"%{ip}"}, Network: []string{"10.0.0.0/8"}, NetworkReturn: true, Target: "[geo]"},
			wantErr: "network_return requires a network mapping",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Address: []string{"%{ip}"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultSeparator, cfg.Separator)
	assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
}

func TestConfigErrorMeansNoFilter(t *testing.T) {
	_, err := New(context.Background(), Config{
		Address:     []string{"%{ip}"},
		Network:     []string{"10.0.0.0/8"},
		NetworkPath: "/tmp/nets.txt",
	})
	require.ErrorIs(t, err, ErrConfig)
}

func TestMissingNetworkFileIsFatal(t *testing.T) {
	_, err := New(context.Background(), Config{
		Address:     []string{"%{ip}"},
		NetworkPath: filepath.Join(t.TempDir(), "absent.txt"),
	})
	require.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "absent.txt")
}

func newTestEngine(t *testing.T, cfg Config, opts ...Option) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), cfg, opts...)
	require.NoError(t, err)
	return eng
}

func addrEvent(ip string) *event.Event {
	return event.New(map[string]any{"ip": ip})
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		networks []string
		addr     string
		want     bool
	}{
		{"inside single network", []string{"192.168.0.0/24"}, "192.168.0.30", true},
		{"outside single network", []string{"192.168.0.0/24"}, "123.52.122.33", false},
		{"third of three networks", []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"}, "172.16.45.50", true},
		{"ipv6 inside", []string{"fe80::/64"}, "fe80:0:0:0:0:0:0:1", true},
		{"ipv6 outside", []string{"fe80::/64"}, "fd82:0:0:0:0:0:0:1", false},
		{"family never mixes", []string{"10.0.0.0/8"}, "fe80::1", false},
		{"invalid entry does not block valid one", []string{"not-a-network", "192.168.0.0/24"}, "192.168.0.30", true},
		{"unparsable address", []string{"192.168.0.0/24"}, "not-an-ip", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, Config{Address: []string{"%{ip}"}, Network: tt.networks})
			out := eng.Evaluate(addrEvent(tt.addr))
			assert.Equal(t, tt.want, out.Matched)
			if tt.want {
				assert.True(t, out.Network.IsValid())
			}
		})
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	eng := newTestEngine(t, Config{Address: []string{"%{ip}"}, Network: []string{"192.168.0.0/24"}})
	ev := addrEvent("192.168.0.30")

	first := eng.Evaluate(ev)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, eng.Evaluate(ev))
	}
}

func TestEvaluateAddressField(t *testing.T) {
	eng := newTestEngine(t, Config{AddressField: "[host][ip]", Network: []string{"192.168.0.0/24"}})

	// Second value of the sequence matches
	ev := event.New(map[string]any{
		"host": map[string]any{"ip": []any{"188.168.0.1", "192.168.0.1"}},
	})
	assert.True(t, eng.Evaluate(ev).Matched)

	// Single string value
	ev = event.New(map[string]any{"host": map[string]any{"ip": "192.168.0.30"}})
	assert.True(t, eng.Evaluate(ev).Matched)

	// Absent field resolves no addresses
	ev = event.New(map[string]any{"host": map[string]any{}})
	assert.False(t, eng.Evaluate(ev).Matched)

	// Non-string values are ignored, strings still considered
	ev = event.New(map[string]any{
		"host": map[string]any{"ip": []any{float64(42), "192.168.0.30"}},
	})
	assert.True(t, eng.Evaluate(ev).Matched)
}

func TestEvaluateMultipleTemplates(t *testing.T) {
	eng := newTestEngine(t, Config{
		Address: []string{"%{[src][ip]}", "%{[dst][ip]}"},
		Network: []string{"10.0.0.0/8"},
	})

	// Only the second template resolves to a matching address; the first
	// stays literal and is skipped as unparsable
	ev := event.New(map[string]any{"dst": map[string]any{"ip": "10.1.2.3"}})
	assert.True(t, eng.Evaluate(ev).Matched)
}

func TestEvaluateTemplatedNetworks(t *testing.T) {
	eng := newTestEngine(t, Config{
		Address:   []string{"%{ip}"},
		Network:   []string{"%{[allowed]}"},
		Separator: ",",
	})

	ev := event.New(map[string]any{
		"ip":      "172.16.45.50",
		"allowed": "10.0.0.0/8,172.16.0.0/12",
	})
	out := eng.Evaluate(ev)
	require.True(t, out.Matched)
	assert.Equal(t, "172.16.0.0/12", out.Network.String())

	// Same engine, next event without the field: template stays literal,
	// parses to nothing, event passes through
	ev = event.New(map[string]any{"ip": "172.16.45.50"})
	assert.False(t, eng.Evaluate(ev).Matched)
}

func TestEvaluateEmptyNetworks(t *testing.T) {
	eng := newTestEngine(t, Config{Address: []string{"%{ip}"}})
	assert.False(t, eng.Evaluate(addrEvent("10.0.0.1")).Matched)
}

func TestEvaluatePayload(t *testing.T) {
	cfg := Config{
		Address: []string{"%{ip}"},
		NetworkMap: map[string]any{
			"10.0.0.0/8":     map[string]any{"zone": "corp"},
			"10.1.0.0/16":    map[string]any{"zone": "lab"},
			"192.168.0.0/24": map[string]any{"zone": "branch"},
		},
		NetworkReturn: true,
		Target:        "[network][info]",
	}
	eng := newTestEngine(t, cfg)

	// Most specific network wins the payload
	out := eng.Evaluate(addrEvent("10.1.2.3"))
	require.True(t, out.Matched)
	assert.Equal(t, "10.1.0.0/16", out.Network.String())
	assert.Equal(t, map[string]any{"zone": "lab"}, out.Payload)

	out = eng.Evaluate(addrEvent("10.200.0.1"))
	require.True(t, out.Matched)
	assert.Equal(t, map[string]any{"zone": "corp"}, out.Payload)

	out = eng.Evaluate(addrEvent("8.8.8.8"))
	assert.False(t, out.Matched)
	assert.Nil(t, out.Payload)
}

func TestEvaluatePayloadDisabledWithoutReturn(t *testing.T) {
	eng := newTestEngine(t, Config{
		Address:    []string{"%{ip}"},
		NetworkMap: map[string]any{"10.0.0.0/8": "corp"},
	})
	out := eng.Evaluate(addrEvent("10.1.2.3"))
	require.True(t, out.Matched)
	assert.Nil(t, out.Payload)
}

func TestEvaluateFileRefresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "networks.txt")
	require.NoError(t, os.WriteFile(path, []byte("10.0.0.0/8\n"), 0o644))

	now := time.Now()
	eng := newTestEngine(t, Config{
		Address:         []string{"%{ip}"},
		NetworkPath:     path,
		RefreshInterval: 300,
	}, WithClock(func() time.Time { return now }))

	assert.False(t, eng.Evaluate(addrEvent("192.168.0.30")).Matched)

	// Content changes on disk; before the deadline evaluation still uses
	// the old list
	require.NoError(t, os.WriteFile(path, []byte("192.168.0.0/24\n"), 0o644))
	assert.False(t, eng.Evaluate(addrEvent("192.168.0.30")).Matched)
	assert.True(t, eng.Evaluate(addrEvent("10.1.2.3")).Matched)

	// Past the deadline the next evaluation reloads
	now = now.Add(10 * time.Minute)
	assert.True(t, eng.Evaluate(addrEvent("192.168.0.30")).Matched)
	assert.False(t, eng.Evaluate(addrEvent("10.1.2.3")).Matched)
}

func TestEvaluateConcurrent(t *testing.T) {
	eng := newTestEngine(t, Config{
		Address: []string{"%{ip}"},
		Network: []string{"10.0.0.0/8", "192.168.0.0/16", "fe80::/64"},
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				matched := eng.Evaluate(addrEvent(fmt.Sprintf("10.%d.0.%d", n, j%250))).Matched
				assert.True(t, matched)
				assert.False(t, eng.Evaluate(addrEvent("8.8.8.8")).Matched)
			}
		}(i)
	}
	wg.Wait()
}

func TestProcessAddsTags(t *testing.T) {
	f, err := New(context.Background(), Config{
		Address: []string{"%{ip}"},
		Network: []string{"192.168.0.0/24"},
		AddTag:  []string{"internal", "site-%{[site]}"},
	})
	require.NoError(t, err)
	defer f.Close()

	ev := event.New(map[string]any{"ip": "192.168.0.30", "site": "hq"})
	out := f.Process(ev)
	require.True(t, out.Matched)

	tags, ok := ev.Get(tagsField)
	require.True(t, ok)
	assert.Equal(t, []any{"internal", "site-hq"}, tags)

	// Reprocessing does not duplicate tags
	f.Process(ev)
	tags, _ = ev.Get(tagsField)
	assert.Equal(t, []any{"internal", "site-hq"}, tags)
}

func TestProcessLeavesUnmatchedAlone(t *testing.T) {
	f, err := New(context.Background(), Config{
		Address: []string{"%{ip}"},
		Network: []string{"192.168.0.0/24"},
		AddTag:  []string{"internal"},
	})
	require.NoError(t, err)
	defer f.Close()

	ev := event.New(map[string]any{"ip": "8.8.8.8"})
	out := f.Process(ev)
	assert.False(t, out.Matched)
	_, ok := ev.Get(tagsField)
	assert.False(t, ok)
}

func TestProcessWritesPayload(t *testing.T) {
	f, err := New(context.Background(), Config{
		Address:       []string{"%{ip}"},
		NetworkMap:    map[string]any{"10.0.0.0/8": map[string]any{"zone": "corp"}},
		NetworkReturn: true,
		Target:        "[network][info]",
	})
	require.NoError(t, err)
	defer f.Close()

	ev := addrEvent("10.1.2.3")
	require.True(t, f.Process(ev).Matched)

	v, ok := ev.Get("[network][info]")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"zone": "corp"}, v)
}

func TestProcessAppendsToExistingTags(t *testing.T) {
	f, err := New(context.Background(), Config{
		Address: []string{"%{ip}"},
		Network: []string{"10.0.0.0/8"},
		AddTag:  []string{"internal"},
	})
	require.NoError(t, err)
	defer f.Close()

	ev := event.New(map[string]any{"ip": "10.1.2.3", "tags": []any{"ingest"}})
	f.Process(ev)
	tags, _ := ev.Get(tagsField)
	assert.Equal(t, []any{"ingest", "internal"}, tags)

	// A scalar tags field is promoted to a list
	ev = event.New(map[string]any{"ip": "10.1.2.3", "tags": "ingest"})
	f.Process(ev)
	tags, _ = ev.Get(tagsField)
	assert.Equal(t, []any{"ingest", "internal"}, tags)
}

func BenchmarkEvaluate(b *testing.B) {
	networks := make([]string, 0, 256)
	for i := 0; i < 256; i++ {
		networks = append(networks, fmt.Sprintf("10.%d.0.0/16", i))
	}
	eng, err := NewEngine(context.Background(), Config{
		Address: []string{"%{ip}"},
		Network: networks,
	})
	if err != nil {
		b.Fatal(err)
	}

	hit := addrEvent("10.200.1.2")
	miss := addrEvent("203.0.113.7")

	b.Run("hit", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			eng.Evaluate(hit)
		}
	})
	b.Run("miss", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			eng.Evaluate(miss)
		}
	})
}
