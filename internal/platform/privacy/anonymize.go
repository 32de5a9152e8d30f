// Package privacy reduces personal data before it reaches logs or audit sinks.
package privacy

import "net/netip"

// AnonymizeIP truncates a client address to its network: /24 for IPv4 and
// /48 for IPv6. A trailing port is dropped. Returns "unknown" for an empty
// input and "invalid" when the address cannot be parsed.
func AnonymizeIP(addr string) string {
	if addr == "" || addr == "unknown" {
		return "unknown"
	}
	if ap, err := netip.ParseAddrPort(addr); err == nil {
		addr = ap.Addr().String()
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return "invalid"
	}
	ip = ip.Unmap().WithZone("")

	bits := 24
	if ip.Is6() {
		bits = 48
	}
	prefix, err := ip.Prefix(bits)
	if err != nil {
		return "invalid"
	}
	return prefix.Addr().String()
}
