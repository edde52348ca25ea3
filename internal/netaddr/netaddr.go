// Package netaddr implements the canonical, family-agnostic address
// encoding PeerInfo.Addr and the address book use as an identity key.
//
// The encoding is a multiaddr (github.com/multiformats/go-multiaddr): its
// byte form is stable across runs and already distinguishes IPv4, IPv6, and
// transport, which is exactly the "family-agnostic address, rendered as a
// byte vector" the spec calls for.
package netaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// StrToAddress parses a human address ("host:port", a bare IP, or an
// existing multiaddr string) into its canonical byte-vector form.
func StrToAddress(s string) ([]byte, error) {
	if strings.HasPrefix(s, "/") {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, fmt.Errorf("netaddr: parse %q: %w", s, err)
		}
		return addr.Bytes(), nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		host, portStr = s, "0"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("netaddr: bad port in %q: %w", s, err)
	}
	return HostPortToAddress(host, uint16(port))
}

// HostPortToAddress builds the canonical address for a resolved host/port
// pair, picking the ip4 or ip6 multiaddr protocol as appropriate.
func HostPortToAddress(host string, port uint16) ([]byte, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		ips, err := net.LookupIP(host)
		if err != nil || len(ips) == 0 {
			return nil, fmt.Errorf("netaddr: cannot resolve host %q", host)
		}
		ip = ips[0]
	}
	proto := "ip4"
	addrStr := ip.String()
	if ip.To4() == nil {
		proto = "ip6"
	}
	s := fmt.Sprintf("/%s/%s/tcp/%d", proto, addrStr, port)
	addr, err := ma.NewMultiaddr(s)
	if err != nil {
		return nil, fmt.Errorf("netaddr: build multiaddr %q: %w", s, err)
	}
	return addr.Bytes(), nil
}

// AddressToString renders the canonical byte-vector form back to a
// human-readable multiaddr string, e.g. for logs and CLI output.
func AddressToString(b []byte) (string, error) {
	addr, err := ma.NewMultiaddrBytes(b)
	if err != nil {
		return "", fmt.Errorf("netaddr: decode address: %w", err)
	}
	return addr.String(), nil
}

// DialTarget extracts a "host:port" string suitable for net.Dial from a
// canonical address. It walks the multiaddr's textual form (stable across
// versions) rather than its protocol component API, since the only
// addresses the transport ever builds are "/ip4|ip6/<host>/tcp/<port>".
func DialTarget(b []byte) (string, error) {
	addr, err := ma.NewMultiaddrBytes(b)
	if err != nil {
		return "", fmt.Errorf("netaddr: decode address: %w", err)
	}
	parts := strings.Split(strings.TrimPrefix(addr.String(), "/"), "/")
	var host, port string
	for i := 0; i+1 < len(parts); i += 2 {
		switch parts[i] {
		case "ip4", "ip6", "dns", "dns4", "dns6":
			host = parts[i+1]
		case "tcp":
			port = parts[i+1]
		}
	}
	if host == "" || port == "" {
		return "", fmt.Errorf("netaddr: address %q has no host/tcp component", addr.String())
	}
	return net.JoinHostPort(host, port), nil
}
