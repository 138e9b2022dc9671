package netlist

import (
	"fmt"
	"net/netip"
	"strings"
)

// Block is one network entry: a masked CIDR prefix plus, for mapping-shaped
// sources, the payload associated with it.
type Block struct {
	Prefix  netip.Prefix
	Payload any
}

// Contains reports whether addr falls inside the block. Families never mix:
// an IPv4 address is never contained in an IPv6 block and vice versa, and an
// IPv4-mapped IPv6 address stays in the IPv6 family.
func (b Block) Contains(addr netip.Addr) bool {
	return b.Prefix.Contains(addr)
}

func (b Block) String() string {
	return b.Prefix.String()
}

// ParseAddr parses a literal IP address. The family is decided by the
// literal's syntax alone; no mapped-address coercion is applied.
func ParseAddr(s string) (netip.Addr, error) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, fmt.Errorf("invalid IP address %q", s)
	}
	return addr, nil
}

// ParseBlock parses a CIDR literal. A bare address is accepted as a host
// prefix (/32 or /128). The returned prefix is masked, so "10.1.2.3/8"
// becomes 10.0.0.0/8.
func ParseBlock(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if p, err := netip.ParsePrefix(s); err == nil {
		return p.Masked(), nil
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid network %q", s)
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
