package node

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// watchdog periodically sweeps live peers, pinging idle ones, evicting
// peers that never answer, recycling connections that have run past
// PeerConnectionLifetime, and dialing the address book toward MaxPeers. It
// does not touch the misbehavior score: that is reserved for protocol
// violations, not housekeeping.
func (n *Node) watchdog(ctx context.Context) {
	ticker := time.NewTicker(params.PeerTickTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sweepPeers()
			n.pm.GrowToMaxPeers(ctx)
		}
	}
}

func (n *Node) sweepPeers() {
	for _, p := range n.pm.FilterPeers(nil) {
		switch {
		case p.IdleFor() > params.PeerDeadTime:
			n.log.WithField("peer", hex.EncodeToString(p.Address())).Debug("evicting dead peer")
			p.Close()
		case p.Age() > params.PeerConnectionLifetime:
			n.log.WithField("peer", hex.EncodeToString(p.Address())).Debug("recycling long-lived connection")
			p.Close()
		case p.FullyConnected() && p.IdleFor() > params.PeerHeartbeatTimeout:
			n.pingPeer(p)
		}
	}
}

func (n *Node) pingPeer(p *peer.Peer) {
	payload, err := wire.EncodePayload(&wire.PingPayload{Nonce: n.nonce})
	if err != nil {
		n.log.WithError(err).Error("encode ping payload")
		return
	}
	if err := p.PushMessage(wire.Message{Type: wire.MsgPing, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("heartbeat ping failed")
	}
}
