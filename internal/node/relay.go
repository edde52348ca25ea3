package node

import (
	"errors"

	"github.com/concilium-chain/witnessd/internal/metrics"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/store"
	"github.com/concilium-chain/witnessd/internal/wire"
)

var (
	errUnknownInput      = errors.New("node: input references an unknown or already-spent utxo")
	errInsufficientFunds = errors.New("node: outputs exceed the sum of claimed inputs")
)

// onTx accepts a relayed transaction into the mempool and, if it is new,
// re-announces it to every other fully-connected peer. A peer is never
// re-sent a transaction it announced to us, avoiding the trivial relay
// loop.
func (n *Node) onTx(p *peer.Peer, m wire.Message) {
	var tm wire.TxPayloadMsg
	if err := wire.DecodePayload(m.Payload, &tm); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}

	if len(m.Signature) == 0 {
		n.pm.Misbehave(p, 1)
		return
	}

	h := tm.Tx.Hash()
	n.inflight.Remove(h)
	if n.pool.Has(h) {
		return // already known, nothing to relay
	}

	if err := n.validateAgainstChainState(tm.Tx); err != nil {
		n.log.WithError(err).Debug("tx failed chain-state validation")
		n.pm.Misbehave(p, 1)
		return
	}

	if err := n.pool.Accept(tm.Tx); err != nil {
		n.log.WithError(err).Debug("rejected relayed transaction")
		return
	}
	metrics.TxRelayedTotal.Inc()
	metrics.MempoolSize.Set(float64(n.pool.Len()))

	n.announceInv(wire.InvTx, h, p)
}

// validateAgainstChainState resolves every input against the UTXO set and
// checks the transaction spends no more than it claims. There is no
// account or nonce concept in this UTXO schema, so "sufficient balance" is
// the only check chain state can answer; gasLimit and nonce monotonicity
// named in the transaction-relay narrative have no wire representation
// here and are left to the consensus collaborator's block-assembly
// validation, which does see contract execution context.
func (n *Node) validateAgainstChainState(tx wire.Transaction) error {
	if n.cs == nil {
		return nil // no chain-state collaborator wired (e.g. a relay-only node)
	}
	var in, out uint64
	for _, ref := range tx.Payload.Ins {
		utxo, ok := n.cs.GetUTXO(store.UTXORef{TxHash: ref.TxHash, Index: ref.NTxOutput})
		if !ok {
			return errUnknownInput
		}
		in += utxo.Amount
	}
	for _, o := range tx.Payload.Outs {
		out += o.Amount
	}
	if out > in {
		return errInsufficientFunds
	}
	return nil
}

// onBlock persists a relayed block through the storage collaborator and
// re-announces it. Block content validation (signatures over the concilium
// round, witness rotation) belongs to the consensus collaborator; node's
// job ends at handing the decoded block to storage and the wire.
func (n *Node) onBlock(p *peer.Peer, m wire.Message) {
	var bm wire.BlockPayloadMsg
	if err := wire.DecodePayload(m.Payload, &bm); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}
	if len(m.Signature) == 0 {
		n.pm.Misbehave(p, 1)
		return
	}
	if n.wtr == nil {
		return
	}
	h := bm.Block.Hash()
	n.inflight.Remove(h)
	if n.rdr != nil {
		if _, ok := n.rdr.GetBlock(h); ok {
			return // already have it
		}
	}
	if err := n.wtr.PutBlock(&bm.Block); err != nil {
		n.log.WithError(err).Debug("rejected relayed block")
		return
	}
	n.announceInv(wire.InvBlock, h, p)
}

// announceInv sends an inv for (kind, h) to every fully-connected peer
// except exclude (the peer we learned it from, if any).
func (n *Node) announceInv(kind wire.InvType, h wire.Hash, exclude *peer.Peer) {
	payload, err := wire.EncodePayload(&wire.InvPayload{Items: []wire.InventoryVector{{Type: kind, Hash: h}}})
	if err != nil {
		n.log.WithError(err).Error("encode inv payload")
		return
	}
	n.pm.Broadcast(wire.Message{Type: wire.MsgInv, Payload: payload}, func(p *peer.Peer) bool {
		return p.FullyConnected() && p != exclude
	})
	metrics.MessagesSentTotal.WithLabelValues(string(wire.MsgInv)).Inc()
}

func (n *Node) onInv(p *peer.Peer, m wire.Message) {
	var inv wire.InvPayload
	if err := wire.DecodePayload(m.Payload, &inv); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}

	var want []wire.InventoryVector
	for _, item := range inv.Items {
		if n.inflight.Contains(item.Hash) {
			continue // already requested from another peer, awaiting reply
		}
		switch item.Type {
		case wire.InvTx:
			if !n.pool.Has(item.Hash) {
				want = append(want, item)
			}
		case wire.InvBlock:
			if n.rdr == nil {
				continue
			}
			if _, ok := n.rdr.GetBlock(item.Hash); !ok {
				want = append(want, item)
			}
		}
	}
	for _, item := range want {
		n.inflight.Add(item.Hash, struct{}{})
	}
	if len(want) == 0 {
		return
	}
	payload, err := wire.EncodePayload(&wire.GetDataPayload{Items: want})
	if err != nil {
		n.log.WithError(err).Error("encode getdata payload")
		return
	}
	if err := p.PushMessage(wire.Message{Type: wire.MsgGetData, Payload: payload}); err != nil {
		n.log.WithError(err).Debug("send getdata failed")
	}
}

func (n *Node) onGetData(p *peer.Peer, m wire.Message) {
	var gd wire.GetDataPayload
	if err := wire.DecodePayload(m.Payload, &gd); err != nil {
		n.pm.Misbehave(p, 1)
		return
	}
	for _, item := range gd.Items {
		switch item.Type {
		case wire.InvTx:
			tx, ok := n.pool.Get(item.Hash)
			if !ok {
				continue
			}
			payload, err := wire.EncodePayload(&wire.TxPayloadMsg{Tx: tx})
			if err != nil {
				continue
			}
			msg := n.signMessage(wire.MsgTx, payload)
			if err := p.PushMessage(msg); err != nil {
				n.log.WithError(err).Debug("send tx failed")
			}
		case wire.InvBlock:
			if n.rdr == nil {
				continue
			}
			b, ok := n.rdr.GetBlock(item.Hash)
			if !ok {
				continue
			}
			payload, err := wire.EncodePayload(&wire.BlockPayloadMsg{Block: *b})
			if err != nil {
				continue
			}
			msg := n.signMessage(wire.MsgBlock, payload)
			if err := p.PushMessage(msg); err != nil {
				n.log.WithError(err).Debug("send block failed")
			}
		}
	}
}

// SubmitTransaction is the local-origin entry point (the RPC-equivalent
// surface outside the scope here calls this): accept tx into the mempool
// and announce it to every fully-connected peer.
func (n *Node) SubmitTransaction(tx wire.Transaction) error {
	if err := n.validateAgainstChainState(tx); err != nil {
		return err
	}
	if err := n.pool.Accept(tx); err != nil {
		return err
	}
	metrics.MempoolSize.Set(float64(n.pool.Len()))
	n.announceInv(wire.InvTx, tx.Hash(), nil)
	return nil
}
