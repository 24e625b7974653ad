package hub

import (
	"net"
	"net/netip"
)

// isLocalAddress reports whether a remote address belongs to the local
// network: loopback, RFC1918 IPv4 blocks, or IPv6 link-local / unique-local.
func isLocalAddress(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
