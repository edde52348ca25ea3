// Package node orchestrates the networking substate: bootstrap, the
// VERSION/VERACK handshake, address gossip, transaction relay, and the
// watchdog that evicts stale or over-quota peers. It is the boundary where
// the mempool, storage, and crypto collaborators are wired to the wire
// protocol; none of those packages know about each other except through
// the interfaces node depends on.
package node

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/concilium-chain/witnessd/internal/cryptoutil"
	"github.com/concilium-chain/witnessd/internal/mempool"
	"github.com/concilium-chain/witnessd/internal/metrics"
	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/peermanager"
	"github.com/concilium-chain/witnessd/internal/store"
	"github.com/concilium-chain/witnessd/internal/transport"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// Config carries the parameters Node needs that do not belong to any one
// collaborator.
type Config struct {
	SelfAddr    []byte // canonical address we advertise to peers
	Port        uint16
	DNSSeeds    []string
	StaticSeeds [][]byte
}

// Node wires transport, the peer manager, the mempool, and storage into the
// running protocol described by the handshake/gossip/relay files in this
// package.
type Node struct {
	log  *logrus.Entry
	cfg  Config
	key  *ecdsa.PrivateKey
	tr   transport.Transport
	pm   *peermanager.Manager
	pool *mempool.Pool
	cs   store.ChainState
	rdr  store.BlockReader
	wtr  store.BlockWriter

	nonce uint64

	// inflight tracks inventory hashes we've already requested via GetData
	// so a hash announced by several peers in quick succession is only
	// fetched once. Bounded so a flood of distinct invs can't grow it
	// without limit.
	inflight *lru.Cache[wire.Hash, struct{}]

	// ConsensusInbox, when set, receives every decoded witness-round
	// message (w_handshake, w_nextround, w_expose, w_block, w_block_vote)
	// from fully-connected peers. The consensus collaborator owns reading
	// it; node never interprets these payloads itself.
	ConsensusInbox chan ConsensusMessage
}

// ConsensusMessage pairs a decoded witness-round frame with the peer it
// arrived on, for the consensus collaborator to pick up.
type ConsensusMessage struct {
	Peer    *peer.Peer
	Message wire.Message
}

// New constructs a Node. key authenticates the signed message kinds we
// originate (w_handshake and friends); it may be nil for a node that never
// speaks as a witness.
func New(log *logrus.Entry, cfg Config, key *ecdsa.PrivateKey, tr transport.Transport, pm *peermanager.Manager, pool *mempool.Pool, cs store.ChainState, rdr store.BlockReader, wtr store.BlockWriter) *Node {
	inflight, _ := lru.New[wire.Hash, struct{}](4096)
	var nonceBytes [8]byte
	_, _ = rand.Read(nonceBytes[:])
	return &Node{
		log:      log,
		cfg:      cfg,
		key:      key,
		tr:       tr,
		pm:       pm,
		pool:     pool,
		cs:       cs,
		rdr:      rdr,
		wtr:      wtr,
		nonce:    binary.LittleEndian.Uint64(nonceBytes[:]),
		inflight: inflight,
	}
}

// Run starts the peer manager's event loop, the inbound accept loop, DNS
// bootstrap, and the watchdog, blocking until ctx is canceled.
func (n *Node) Run(ctx context.Context) error {
	conns, err := n.tr.Listen(ctx)
	if err != nil {
		return err
	}

	seeds := append([][]byte(nil), n.cfg.StaticSeeds...)
	if len(n.cfg.DNSSeeds) > 0 {
		resolved, rerr := n.resolveDNSSeeds(ctx)
		if rerr != nil {
			n.log.WithError(rerr).Warn("dns bootstrap failed")
		}
		seeds = append(seeds, resolved...)
		metrics.DNSBootstrapAddresses.Set(float64(len(resolved)))
	}
	n.pm.Bootstrap(seeds, n.cfg.Port)

	go n.pm.Run(ctx)
	go n.acceptLoop(ctx, conns)
	go n.dispatchLoop(ctx)
	go n.watchdog(ctx)
	go n.connectSeeds(ctx)

	<-ctx.Done()
	return n.tr.Close()
}

// resolveDNSSeeds resolves every configured seed in parallel, bounded by
// PeerQueryTimeout, the bootstrap-wide deadline (not the per-connection
// ConnectionTimeout). errgroup's shared context gives that one deadline a
// single place to cancel every in-flight lookup; an individual seed's
// failure is logged and swallowed rather than failing the whole bootstrap.
func (n *Node) resolveDNSSeeds(ctx context.Context) ([][]byte, error) {
	dctx, cancel := context.WithTimeout(ctx, params.PeerQueryTimeout)
	defer cancel()

	var (
		mu  sync.Mutex
		out [][]byte
	)
	g, gctx := errgroup.WithContext(dctx)
	for _, seed := range n.cfg.DNSSeeds {
		name := seed
		g.Go(func() error {
			addrs, err := n.tr.ResolveName(gctx, name, n.cfg.Port)
			if err != nil {
				n.log.WithError(err).WithField("seed", name).Debug("seed resolution failed")
				return nil
			}
			mu.Lock()
			out = append(out, addrs...)
			mu.Unlock()
			return nil
		})
	}
	g.Wait()
	return out, nil
}

func (n *Node) connectSeeds(ctx context.Context) {
	for _, addr := range n.cfg.StaticSeeds {
		n.dialAndHandshake(ctx, addr)
	}
}

func (n *Node) acceptLoop(ctx context.Context, conns <-chan transport.Connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case conn, ok := <-conns:
			if !ok {
				return
			}
			_, err := n.pm.AcceptInbound(conn)
			if err != nil {
				n.log.WithError(err).Debug("inbound connection refused")
				continue
			}
			metrics.PeersConnected.Inc()
			// Inbound peers speak first: we wait for their VERSION and
			// reply to it in onVersion. Sending one proactively here would
			// give the dialer two VERSION frames and a spurious
			// misbehavior point on the second.
		}
	}
}

func (n *Node) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case im := <-n.pm.Dispatch:
			n.handleMessage(im.Peer, im.Message)
		}
	}
}

func (n *Node) selfAddress() wire.Address {
	if n.key == nil {
		return wire.Address{}
	}
	return cryptoutil.Address(cryptoutil.PublicKeyBytes(&n.key.PublicKey))
}

func (n *Node) signMessage(mt wire.MessageType, payload []byte) wire.Message {
	m := wire.Message{Type: mt, Payload: payload}
	if n.key != nil && mt.IsSigned() {
		digest := doubleHash(payload)
		if sig, err := cryptoutil.Sign(digest, n.key); err == nil {
			m.Signature = sig
			m.PublicKey = cryptoutil.PublicKeyBytes(&n.key.PublicKey)
		}
	}
	return m
}

func doubleHash(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}
