package urlutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrPrivateTarget is returned for targets pointing at private or reserved addresses
var ErrPrivateTarget = errors.New("private or reserved address")

// privateRanges lists private and reserved ranges a render must never reach
var privateRanges = mustParseCIDRs(
	// IPv4
	"127.0.0.0/8",    // loopback
	"10.0.0.0/8",     // RFC 1918
	"172.16.0.0/12",  // RFC 1918
	"192.168.0.0/16", // RFC 1918
	"169.254.0.0/16", // link-local
	"100.64.0.0/10",  // CGNAT (RFC 6598)
	"0.0.0.0/8",      // "this" network
	"224.0.0.0/4",    // multicast

	// IPv6
	"::1/128",   // loopback
	"fe80::/10", // link-local
	"fc00::/7",  // unique local
	"ff00::/8",  // multicast
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in private ranges: %s", cidr))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// IsPrivateIP returns true if the given IP belongs to a private or reserved range.
func IsPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}

	for _, ipNet := range privateRanges {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateHostNotPrivateIP rejects IP literals in private ranges.
// No DNS resolution happens here; domain names pass through.
func ValidateHostNotPrivateIP(hostname string) error {
	ip := net.ParseIP(hostname)
	if ip == nil {
		return nil
	}

	if IsPrivateIP(ip) {
		return fmt.Errorf("%w: %s", ErrPrivateTarget, hostname)
	}
	return nil
}
