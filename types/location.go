package types

import (
	"net"
	"net/netip"
	"strconv"
)

// NormalizeLocation unmaps IPv4-in-IPv6 addresses, so that the same peer always produces the same table key regardless of socket family.
func NormalizeLocation(loc netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(loc.Addr().Unmap(), loc.Port())
}

// ResolveLocation turns a host name (or literal address) and port into a normalized location.
func ResolveLocation(host string, port uint16) (netip.AddrPort, error) {
	ua, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		return netip.AddrPort{}, err
	}
	return NormalizeLocation(ua.AddrPort()), nil
}
