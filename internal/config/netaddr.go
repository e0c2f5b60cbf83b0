package config

import (
	"errors"
	"net"
	"net/netip"
)

var ErrNoRoutableAddress = errors.New("no routable IPv4 interface address")

// DetectIPv4 returns the first IPv4 address that is neither loopback nor
// link-local, scanning interfaces that are up.
func DetectIPv4() (netip.Addr, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ip, ok := pickIPv4(addrs); ok {
			return ip, nil
		}
	}
	return netip.Addr{}, ErrNoRoutableAddress
}

func pickIPv4(addrs []net.Addr) (netip.Addr, bool) {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		if !addr.Is4() || addr.IsLoopback() || addr.IsLinkLocalUnicast() {
			continue
		}
		return addr, true
	}
	return netip.Addr{}, false
}
