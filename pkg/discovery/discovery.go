// Package discovery is the mDNS advertise/discover seam: client daemons
// advertise themselves, and the central controller (or another client)
// watches for them. No concrete mDNS implementation ships here — no
// library in the example pack touches Zeroconf/mDNS — so the default is a
// no-op that satisfies the interface and does nothing, matching spec's
// guidance to keep dynamic-discovery concerns behind an interface rather
// than a hard dependency.
package discovery

import "context"

const (
	// CentralServiceType is advertised by the central API server.
	CentralServiceType = "_mctl-central._tcp.local."
	// ClientServiceType is advertised by client daemons.
	ClientServiceType = "_mctl-client._tcp.local."
)

// Found describes one discovered peer.
type Found struct {
	Name       string
	Host       string
	Port       int
	Properties map[string]string
}

// Advertiser registers this process on the local network so peers can
// find it.
type Advertiser interface {
	Start(ctx context.Context, serviceType, name string, port int, properties map[string]string) error
	Stop() error
}

// Discoverer watches for peers of a given service type.
type Discoverer interface {
	Start(ctx context.Context, serviceType string, onFound func(Found), onRemoved func(name string)) error
	Stop() error
}

// NoopAdvertiser is the zero-dependency default: Start/Stop succeed and do
// nothing. Wire a real mDNS-backed Advertiser in its place when the
// daemon config's mdns_enabled flag is set and the deployment environment
// has multicast available.
type NoopAdvertiser struct{}

func (NoopAdvertiser) Start(ctx context.Context, serviceType, name string, port int, properties map[string]string) error {
	return nil
}

func (NoopAdvertiser) Stop() error { return nil }

// NoopDiscoverer is the zero-dependency default: Start/Stop succeed, the
// callbacks are simply never invoked.
type NoopDiscoverer struct{}

func (NoopDiscoverer) Start(ctx context.Context, serviceType string, onFound func(Found), onRemoved func(name string)) error {
	return nil
}

func (NoopDiscoverer) Stop() error { return nil }
