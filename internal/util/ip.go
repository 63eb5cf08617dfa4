package util

import (
	"net/netip"
	"strings"
)

// IPClass groups addresses by how the resolvers treat them.
type IPClass int

const (
	IPInvalid IPClass = iota
	IPLocal
	IPPublic
)

var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// ClassifyIP reports whether ip is unparsable, private/loopback/link-local, or public.
func ClassifyIP(ip string) IPClass {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return IPInvalid
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(), addr.IsPrivate(), addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(), addr.IsUnspecified(), sharedAddressSpace.Contains(addr):
		return IPLocal
	default:
		return IPPublic
	}
}

// NormalizeIP returns the canonical text form of ip, or "" when it does not parse.
func NormalizeIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}
