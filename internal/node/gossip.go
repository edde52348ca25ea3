package node

import (
	"github.com/concilium-chain/witnessd/internal/metrics"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// requestAddresses sends MsgGetAddr right after a handshake completes, the
// standard way a freshly connected peer seeds its own address book.
func (n *Node) requestAddresses(p *peer.Peer) {
	payload, _ := wire.EncodePayload(&wire.GetAddrPayload{})
	if err := p.PushMessage(wire.Message{Type: wire.MsgGetAddr, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("send getaddr failed")
		return
	}
	metrics.MessagesSentTotal.WithLabelValues(string(wire.MsgGetAddr)).Inc()
}

func (n *Node) onGetAddr(p *peer.Peer) {
	infos := n.pm.KnownAddresses()
	for start := 0; start < len(infos) || start == 0; start += wire.ADDRMaxLength {
		end := start + wire.ADDRMaxLength
		if end > len(infos) {
			end = len(infos)
		}
		page := infos[start:end]
		payload, err := wire.EncodePayload(&wire.AddrPayload{Infos: page})
		if err != nil {
			n.log.WithError(err).Error("encode addr payload")
			return
		}
		if err := p.PushMessage(wire.Message{Type: wire.MsgAddr, Payload: payload}); err != nil {
			n.log.WithError(err).Debug("send addr failed")
			return
		}
		metrics.MessagesSentTotal.WithLabelValues(string(wire.MsgAddr)).Inc()
		if end >= len(infos) {
			break
		}
	}
}

func (n *Node) onAddr(p *peer.Peer, m wire.Message) {
	var a wire.AddrPayload
	if err := wire.DecodePayload(m.Payload, &a); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}
	if len(a.Infos) > wire.ADDRMaxLength {
		n.pm.Misbehave(p, 1)
		return
	}
	for _, info := range a.Infos {
		n.pm.AddPeerInfo(info)
	}
	p.SetLoadDone()
}

func (n *Node) onPing(p *peer.Peer, m wire.Message) {
	var ping wire.PingPayload
	if err := wire.DecodePayload(m.Payload, &ping); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}
	payload, _ := wire.EncodePayload(&wire.PongPayload{Nonce: ping.Nonce})
	if err := p.PushMessage(wire.Message{Type: wire.MsgPong, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("send pong failed")
	}
}

// forwardToConsensus hands witness-round message kinds off to the
// consensus collaborator. The networking substate only validates that the
// sender is fully connected and that the frame decodes as a signed
// message; interpreting it is out of scope here.
func (n *Node) forwardToConsensus(p *peer.Peer, m wire.Message) {
	if !m.Type.IsSigned() {
		n.pm.Misbehave(p, 1)
		return
	}
	if n.ConsensusInbox != nil {
		select {
		case n.ConsensusInbox <- ConsensusMessage{Peer: p, Message: m}:
		default:
			n.log.Warn("consensus inbox full, dropping witness-round message")
		}
	}
}
