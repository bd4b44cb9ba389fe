package accesskit

import (
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// AllowList is an immutable set of addresses and CIDR prefixes.
type AllowList struct {
	entries  []string
	exact    map[string]struct{}
	prefixes []netip.Prefix
	version  uint64
}

// NewAllowList validates and indexes the entries. Each entry is either an
// IP address ("10.0.0.7", "0:0:0:0:0:0:0:1") or a CIDR prefix ("10.0.0.0/8").
func NewAllowList(entries []string) (*AllowList, error) {
	al := &AllowList{exact: make(map[string]struct{}, len(entries))}
	for _, raw := range entries {
		e := strings.TrimSpace(raw)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, e, err)
			}
			al.prefixes = append(al.prefixes, p.Masked())
		} else {
			addr, err := netip.ParseAddr(e)
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAddress, e, err)
			}
			al.exact[e] = struct{}{}
			al.exact[addr.Unmap().String()] = struct{}{}
		}
		al.entries = append(al.entries, e)
	}
	return al, nil
}

// Contains reports whether addr is allow-listed. The literal string is
// checked first, then its canonical form and the prefixes.
func (al *AllowList) Contains(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	if _, ok := al.exact[addr]; ok {
		return true
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return false
	}
	ip = ip.Unmap()
	if _, ok := al.exact[ip.String()]; ok {
		return true
	}
	for _, p := range al.prefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// Entries returns the entries as configured.
func (al *AllowList) Entries() []string {
	return slices.Clone(al.entries)
}

// Len returns the number of entries.
func (al *AllowList) Len() int {
	return len(al.entries)
}

// Version is the store generation that published this list.
func (al *AllowList) Version() uint64 {
	return al.version
}
