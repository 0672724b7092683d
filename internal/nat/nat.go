// Package nat implements destination discovery for the RESOLVING state of
// §4.3: kernel NAT lookup, static forwarding, and SNI-driven DNS.
package nat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"sslproxy/internal/config"
)

// ErrNATUnsupported is returned by LookupOriginalDst on platforms without
// a kernel NAT redirect mechanism this package knows how to query.
var ErrNATUnsupported = errors.New("nat: SO_ORIGINAL_DST lookup not supported on this platform")

// StaticTarget returns the configured static forward address for a
// listener in static NAT mode.
func StaticTarget(spec *config.ListenerSpec) (string, bool) {
	if spec.NAT == config.NATStatic && spec.StaticTarget != "" {
		return spec.StaticTarget, true
	}
	return "", false
}

// ResolveSNI resolves sni to an address using the peer's observed address
// family (4 or 6; 0 means either), the way the C source's getaddrinfo call
// constrains hints to SOCK_STREAM/TCP and the observed peer family.
func ResolveSNI(ctx context.Context, resolver *net.Resolver, sni string, family int, port uint16) (netip.AddrPort, error) {
	network := "ip"
	switch family {
	case 4:
		network = "ip4"
	case 6:
		network = "ip6"
	}

	ips, err := resolver.LookupIP(ctx, network, sni)
	if err != nil || len(ips) == 0 {
		return netip.AddrPort{}, fmt.Errorf("nat: cannot resolve SNI hostname %q: %w", sni, err)
	}
	addr, ok := netip.AddrFromSlice(ips[0].To16())
	if !ok {
		return netip.AddrPort{}, fmt.Errorf("nat: cannot resolve SNI hostname %q: bad address", sni)
	}
	addr = addr.Unmap()
	return netip.AddrPortFrom(addr, port), nil
}
