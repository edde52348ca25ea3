package node

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/concilium-chain/witnessd/internal/metrics"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// dialAndHandshake dials addr and, on success, sends the opening VERSION
// message. The remote's VERACK (or rejection) arrives later through the
// ordinary dispatch loop.
func (n *Node) dialAndHandshake(ctx context.Context, addr []byte) {
	p, err := n.pm.DialAndRegister(ctx, wire.PeerInfo{Addr: addr, Port: n.cfg.Port})
	if err != nil {
		n.log.WithError(err).Debug("dial failed")
		return
	}
	metrics.PeersConnected.Inc()
	n.sendVersion(p)
}

func (n *Node) sendVersion(p *peer.Peer) {
	info := wire.PeerInfo{Addr: n.cfg.SelfAddr, Port: n.cfg.Port}
	if n.key != nil {
		witnessAddr := n.selfAddress()
		info.Capabilities = append(info.Capabilities, wire.Capability{Service: wire.ServiceWitness, Data: witnessAddr[:]})
	}
	payload, err := wire.EncodePayload(&wire.VersionPayload{
		ProtocolVersion: wire.ProtocolVersion,
		Nonce:           n.nonce,
		Info:            info,
		Timestamp:       time.Now().Unix(),
	})
	if err != nil {
		n.log.WithError(err).Error("encode version payload")
		return
	}
	if err := p.PushMessage(wire.Message{Type: wire.MsgVersion, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("send version failed")
		return
	}
	metrics.MessagesSentTotal.WithLabelValues(string(wire.MsgVersion)).Inc()
}

func (n *Node) sendVerAck(p *peer.Peer) {
	payload, _ := wire.EncodePayload(&wire.VerAckPayload{})
	if err := p.PushMessage(wire.Message{Type: wire.MsgVerAck, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("send verack failed")
		return
	}
	metrics.MessagesSentTotal.WithLabelValues(string(wire.MsgVerAck)).Inc()
}

// handleMessage is the single dispatch point for every decoded inbound
// frame. Any message other than VERSION/VERACK/REJECT arriving before the
// handshake completes costs the sender one misbehavior point and is
// otherwise ignored, per the handshake-gating rule.
func (n *Node) handleMessage(p *peer.Peer, m wire.Message) {
	metrics.MessagesReceivedTotal.WithLabelValues(string(m.Type)).Inc()

	if !p.FullyConnected() && m.Type != wire.MsgVersion && m.Type != wire.MsgVerAck && m.Type != wire.MsgReject {
		n.pm.Misbehave(p, 1)
		return
	}

	switch m.Type {
	case wire.MsgVersion:
		n.onVersion(p, m)
	case wire.MsgVerAck:
		n.onVerAck(p, m)
	case wire.MsgReject:
		n.onReject(p, m)
	case wire.MsgGetAddr:
		n.onGetAddr(p)
	case wire.MsgAddr:
		n.onAddr(p, m)
	case wire.MsgPing:
		n.onPing(p, m)
	case wire.MsgPong:
		p.SetLoadDone()
	case wire.MsgTx:
		n.onTx(p, m)
	case wire.MsgBlock:
		n.onBlock(p, m)
	case wire.MsgInv:
		n.onInv(p, m)
	case wire.MsgGetData:
		n.onGetData(p, m)
	default:
		// Witness-round message kinds (w_handshake, w_nextround, w_expose,
		// w_block, w_block_vote) are the consensus collaborator's concern;
		// node only ferries them once fully connected.
		n.forwardToConsensus(p, m)
	}
}

func (n *Node) onVersion(p *peer.Peer, m wire.Message) {
	var v wire.VersionPayload
	if err := wire.DecodePayload(m.Payload, &v); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}

	if v.Nonce == n.nonce {
		// Our own VERSION nonce echoed back: this is a connection to
		// ourselves, looped through NAT or a misconfigured seed list.
		p.Ban()
		metrics.HandshakesTotal.WithLabelValues("self").Inc()
		return
	}
	if v.ProtocolVersion < wire.ProtocolVersion {
		// Incompatible protocol: close, but this is not the peer's fault,
		// so no misbehavior point is charged.
		p.Close()
		metrics.HandshakesTotal.WithLabelValues("incompatible").Inc()
		return
	}
	if p.Version() != 0 {
		// A second VERSION on an already-versioned peer.
		n.pm.Misbehave(p, 1)
		return
	}

	p.SetVersion(v.ProtocolVersion)
	if p.Inbound() {
		p.SetInfo(v.Info)
		n.sendVersion(p)
	}
	n.sendVerAck(p)
}

func (n *Node) onVerAck(p *peer.Peer, _ wire.Message) {
	if p.Version() == 0 {
		n.pm.Misbehave(p, 1)
		return
	}
	p.MarkFullyConnected()
	metrics.PeersFullyConnected.Inc()
	metrics.HandshakesTotal.WithLabelValues("ok").Inc()

	if !p.Inbound() {
		n.requestAddresses(p)
	}
}

func (n *Node) onReject(p *peer.Peer, m wire.Message) {
	var r wire.RejectPayload
	if err := wire.DecodePayload(m.Payload, &r); err != nil {
		return
	}
	n.log.WithField("peer", hex.EncodeToString(p.Address())).WithField("code", r.Code).WithField("reason", r.Reason).Debug("peer rejected us")
	n.pm.Misbehave(p, 1)
	p.Close()
}
