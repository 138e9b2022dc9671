package sieve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sievekit/cidrsieve/netlist"
)

// ErrConfig marks fatal setup-time configuration errors. All validation and
// first-load failures wrap it; nothing that happens per event does.
var ErrConfig = errors.New("invalid configuration")

const (
	// DefaultSeparator delimits entries in network files and inside
	// multi-valued entries.
	DefaultSeparator = "\n"

	// DefaultRefreshInterval is how long a file-backed network list is
	// served before the next access reloads it.
	DefaultRefreshInterval = 600
)

// Config is the filter configuration. Immutable after Validate; a validated
// Config is what NewEngine and New accept.
type Config struct {
	// Address templates are interpolated against each event to produce
	// candidate addresses. Mutually exclusive with AddressField.
	Address []string `mapstructure:"address"`

	// AddressField names an event field holding one address string or an
	// ordered sequence of them.
	AddressField string `mapstructure:"address_field"`

	// Network lists literal or templated CIDR strings matched against the
	// candidate addresses.
	Network []string `mapstructure:"network"`

	// NetworkMap associates CIDR strings with payloads returned on match.
	NetworkMap map[string]any `mapstructure:"network_map"`

	// NetworkPath reads the network list from a file instead.
	NetworkPath string `mapstructure:"network_path"`

	// NetworkURL fetches the network list from an HTTP(S) feed instead.
	NetworkURL string `mapstructure:"network_url"`

	// Watch switches NetworkPath from deadline-based refresh to reloading
	// on file-change notification.
	Watch bool `mapstructure:"watch"`

	// Separator delimits entries in files and within one entry.
	Separator string `mapstructure:"separator"`

	// RefreshInterval is the file refresh deadline in seconds.
	RefreshInterval int `mapstructure:"refresh_interval"`

	// NetworkReturn writes the matched network's payload to Target. Only
	// meaningful for mapping-shaped sources.
	NetworkReturn bool   `mapstructure:"network_return"`
	Target        string `mapstructure:"target"`

	// AddTag tags (interpolated) are added to matched events by Filter.
	AddTag []string `mapstructure:"add_tag"`
}

func (c *Config) applyDefaults() {
	if c.Separator == "" {
		c.Separator = DefaultSeparator
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
}

// Validate enforces the mutual-exclusion rules once at setup. Any violation
// is fatal: the filter must not be built and no events processed.
func (c *Config) Validate() error {
	c.applyDefaults()

	networkModes := 0
	if len(c.Network) > 0 {
		networkModes++
	}
	if len(c.NetworkMap) > 0 {
		networkModes++
	}
	if c.NetworkPath != "" {
		networkModes++
	}
	if c.NetworkURL != "" {
		networkModes++
	}
	if networkModes > 1 {
		return fmt.Errorf("%w: network, network_map, network_path and network_url are mutually exclusive", ErrConfig)
	}

	if len(c.Address) > 0 && c.AddressField != "" {
		return fmt.Errorf("%w: address and address_field are mutually exclusive", ErrConfig)
	}
	if len(c.Address) == 0 && c.AddressField == "" {
		return fmt.Errorf("%w: one of address or address_field is required", ErrConfig)
	}

	if c.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh_interval must be positive, got %d", ErrConfig, c.RefreshInterval)
	}
	if c.Watch && c.NetworkPath == "" {
		return fmt.Errorf("%w: watch requires network_path", ErrConfig)
	}

	if c.NetworkReturn {
		if c.Target == "" {
			return fmt.Errorf("%w: network_return requires target", ErrConfig)
		}
		if len(c.NetworkMap) == 0 && c.NetworkPath == "" && c.NetworkURL == "" {
			return fmt.Errorf("%w: network_return requires a network mapping", ErrConfig)
		}
	}

	return nil
}

// newSource builds the network source the configuration selects. File and
// feed sources perform their first load here, so a missing file or dead URL
// surfaces as a setup error.
func newSource(ctx context.Context, cfg Config) (netlist.Source, error) {
	refresh := time.Duration(cfg.RefreshInterval) * time.Second
	switch {
	case cfg.NetworkPath != "" && cfg.Watch:
		return netlist.NewWatch(cfg.NetworkPath, cfg.Separator, cfg.NetworkReturn)
	case cfg.NetworkPath != "":
		return netlist.NewFile(cfg.NetworkPath, cfg.Separator, refresh, cfg.NetworkReturn)
	case cfg.NetworkURL != "":
		return netlist.NewFeed(ctx, cfg.NetworkURL, cfg.Separator, refresh, cfg.NetworkReturn)
	case len(cfg.NetworkMap) > 0:
		return netlist.NewStaticMapping(cfg.NetworkMap)
	default:
		return netlist.NewStatic(cfg.Network, cfg.Separator)
	}
}
