// Package nat discovers a node's externally reachable address when it sits
// behind a home or office router, so the advertise address gossiped to
// peers is actually dialable rather than a private RFC1918 address.
package nat

import (
	"fmt"
	"net"

	"github.com/huin/goupnp/dcps/internetgateway1"
	"github.com/jackpal/gateway"
	natpmp "github.com/jackpal/go-nat-pmp"
)

// MappingLifetime is how long a port mapping is requested for before it
// needs renewing. Routers forget mappings after their own internal timeout
// regardless of this value, so callers should renew well before it expires.
const MappingLifetime = 3600

// Mapper opens and tracks a single external port mapping, trying NAT-PMP
// first and falling back to UPnP IGDv1 when the gateway doesn't speak it.
type Mapper struct {
	externalIP net.IP
	pmp        *natpmp.Client
	upnp       *internetgateway1.WANIPConnection1
	mapped     int
}

// Discover probes the default gateway for NAT-PMP, then UPnP, and reports
// the router's view of this host's external IP address. It returns an
// error only when neither protocol is reachable; callers should treat that
// as "stay on the configured advertise address" rather than a fatal error.
func Discover() (*Mapper, error) {
	m := &Mapper{}

	if gw, err := gateway.DiscoverGateway(); err == nil {
		m.pmp = natpmp.NewClient(gw)
		if res, perr := m.pmp.GetExternalAddress(); perr == nil {
			ip := res.ExternalIPAddress
			m.externalIP = net.IPv4(ip[0], ip[1], ip[2], ip[3])
		}
	}
	if m.externalIP == nil {
		if clients, _, err := internetgateway1.NewWANIPConnection1Clients(); err == nil && len(clients) > 0 {
			m.upnp = clients[0]
			if ipStr, uerr := m.upnp.GetExternalIPAddress(); uerr == nil {
				m.externalIP = net.ParseIP(ipStr)
			}
		}
	}
	if m.externalIP == nil {
		return nil, fmt.Errorf("nat: no NAT-PMP or UPnP gateway responded")
	}
	return m, nil
}

// ExternalIP returns the router's reported public address for this host.
func (m *Mapper) ExternalIP() net.IP { return m.externalIP }

// Map requests that external port maps to internal port on this host,
// preferring NAT-PMP and falling back to UPnP.
func (m *Mapper) Map(internal, external int) error {
	if m.pmp != nil {
		if _, err := m.pmp.AddPortMapping("tcp", internal, external, MappingLifetime); err == nil {
			m.mapped = external
			return nil
		}
	}
	if m.upnp != nil {
		if err := m.upnp.AddPortMapping("", uint16(external), "TCP", uint16(internal), m.externalIP.String(), true, "witnessd", MappingLifetime); err == nil {
			m.mapped = external
			return nil
		}
	}
	return fmt.Errorf("nat: port mapping failed on both NAT-PMP and UPnP")
}

// Unmap releases a previously requested mapping. It is a no-op if Map was
// never called or already failed.
func (m *Mapper) Unmap() error {
	if m.mapped == 0 {
		return nil
	}
	if m.pmp != nil {
		_, err := m.pmp.AddPortMapping("tcp", m.mapped, m.mapped, 0)
		m.mapped = 0
		return err
	}
	if m.upnp != nil {
		err := m.upnp.DeletePortMapping("", uint16(m.mapped), "TCP")
		m.mapped = 0
		return err
	}
	return nil
}

// AdvertiseAddr builds a dialable "ip:port" string for the externally
// mapped port, for use as the node's gossiped PeerInfo address.
func (m *Mapper) AdvertiseAddr(externalPort int) string {
	return fmt.Sprintf("%s:%d", m.externalIP.String(), externalPort)
}
