//go:build !linux

package nat

import (
	"net"
	"net/netip"
)

// LookupOriginalDst is unimplemented outside Linux; configure static or
// SNI-driven resolution on non-Linux platforms.
func LookupOriginalDst(conn *net.TCPConn) (netip.AddrPort, error) {
	return netip.AddrPort{}, ErrNATUnsupported
}
