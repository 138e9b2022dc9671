package netlist

import (
	"net/netip"
	"sort"

	"github.com/gaissmai/bart"
)

// List is an immutable, ordered set of network blocks built once per load.
// Entries are stable-sorted by decreasing prefix length so overlapping
// networks resolve deterministically to the most specific match; plain
// match/no-match is unaffected by order. Lookups go through a BART routing
// table, which with the sort order returns exactly the first matching entry.
type List struct {
	blocks  []Block
	idx     *bart.Table[int]
	mapped  []int
	payload bool
}

// NewList builds a list from parsed blocks. On duplicate prefixes the first
// occurrence wins. payloadBearing marks lists built from a CIDR→payload
// mapping; it is fixed here and never re-inspected per event.
func NewList(blocks []Block, payloadBearing bool) *List {
	sorted := make([]Block, len(blocks))
	copy(sorted, blocks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Prefix.Bits() > sorted[j].Prefix.Bits()
	})

	l := &List{blocks: sorted, idx: new(bart.Table[int]), payload: payloadBearing}
	for i, b := range sorted {
		if !b.Prefix.IsValid() {
			continue
		}
		// IPv4-mapped prefixes stay out of the routing table so they keep
		// strict IPv6-family containment semantics
		if b.Prefix.Addr().Is4In6() {
			l.mapped = append(l.mapped, i)
			continue
		}
		if _, exists := l.idx.Get(b.Prefix); !exists {
			l.idx.Insert(b.Prefix, i)
		}
	}
	return l
}

// Len returns the number of entries.
func (l *List) Len() int {
	return len(l.blocks)
}

// PayloadBearing reports whether entries carry payloads.
func (l *List) PayloadBearing() bool {
	return l.payload
}

// Blocks returns the entries in match order.
func (l *List) Blocks() []Block {
	return l.blocks
}

// Match returns the first block containing addr, in list order. Families
// never mix: an IPv4 address only matches IPv4 blocks, an IPv6 address
// (IPv4-mapped included) only IPv6 blocks. Mapped addresses and mapped
// prefix entries take a linear path because the routing table indexes
// native prefixes only.
func (l *List) Match(addr netip.Addr) (Block, bool) {
	if len(l.blocks) == 0 || !addr.IsValid() {
		return Block{}, false
	}
	if addr.Is4In6() {
		for _, b := range l.blocks {
			if b.Contains(addr) {
				return b, true
			}
		}
		return Block{}, false
	}

	best, ok := l.idx.Lookup(addr)
	for _, i := range l.mapped {
		if i >= best && ok {
			break
		}
		if l.blocks[i].Contains(addr) {
			best, ok = i, true
			break
		}
	}
	if !ok {
		return Block{}, false
	}
	return l.blocks[best], true
}
