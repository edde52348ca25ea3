// Package metrics exposes the node's prometheus instrumentation: peer
// counts, handshake outcomes, and relay traffic. Grounded on the teacher's
// use of prometheus/client_golang for its own network layer counters,
// scoped here to the quantities the spec's networking substate actually
// produces.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "peers_connected",
		Help:      "Number of currently connected peers, handshake state notwithstanding.",
	})

	PeersFullyConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "peers_fully_connected",
		Help:      "Number of peers that completed the VERSION/VERACK handshake.",
	})

	HandshakesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "handshakes_total",
		Help:      "Handshake attempts by outcome.",
	}, []string{"outcome"})

	PeersBannedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "peers_banned_total",
		Help:      "Total peers banned for crossing the misbehavior threshold.",
	})

	MessagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "messages_received_total",
		Help:      "Inbound wire messages by type.",
	}, []string{"type"})

	MessagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "messages_sent_total",
		Help:      "Outbound wire messages by type.",
	}, []string{"type"})

	TxRelayedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "tx_relayed_total",
		Help:      "Transactions accepted into the mempool and relayed onward.",
	})

	MempoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "witnessd",
		Subsystem: "mempool",
		Name:      "size",
		Help:      "Current number of pooled transactions.",
	})

	DNSBootstrapAddresses = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "witnessd",
		Subsystem: "network",
		Name:      "dns_bootstrap_addresses",
		Help:      "Addresses resolved by the most recent DNS bootstrap pass.",
	})
)

// Registry is the collector set the ops server exposes. Wrapping the
// registration here (rather than using prometheus.DefaultRegisterer)
// keeps metrics independently testable: a test can build its own Registry
// without polluting global state.
func Registry() *prometheus.Registry {
	r := prometheus.NewRegistry()
	r.MustRegister(
		PeersConnected,
		PeersFullyConnected,
		HandshakesTotal,
		PeersBannedTotal,
		MessagesReceivedTotal,
		MessagesSentTotal,
		TxRelayedTotal,
		MempoolSize,
		DNSBootstrapAddresses,
	)
	return r
}
