//go:build linux

package nat

import (
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

// soOriginalDst is SO_ORIGINAL_DST, defined by Linux netfilter but absent
// from x/sys/unix's constant table.
const soOriginalDst = 80

// LookupOriginalDst recovers the pre-NAT destination address of an
// iptables/nftables REDIRECT'd connection via getsockopt(SO_ORIGINAL_DST).
// The IPv6Mreq struct's layout happens to alias sockaddr_in closely enough
// that reading it back as a getsockopt buffer is the common idiom for this
// lookup (the same trick used by several userspace transparent proxies).
func LookupOriginalDst(conn *net.TCPConn) (netip.AddrPort, error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, err
	}

	var addr netip.AddrPort
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, soOriginalDst)
		if err != nil {
			sockErr = err
			return
		}
		ip := net.IPv4(mreq.Multiaddr[4], mreq.Multiaddr[5], mreq.Multiaddr[6], mreq.Multiaddr[7])
		port := uint16(mreq.Multiaddr[2])<<8 | uint16(mreq.Multiaddr[3])
		a, ok := netip.AddrFromSlice(ip.To4())
		if !ok {
			sockErr = net.InvalidAddrError("nat: malformed original destination address")
			return
		}
		addr = netip.AddrPortFrom(a, port)
	})
	if ctrlErr != nil {
		return netip.AddrPort{}, ctrlErr
	}
	if sockErr != nil {
		return netip.AddrPort{}, sockErr
	}
	return addr, nil
}
