package node

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concilium-chain/witnessd/internal/mempool"
	"github.com/concilium-chain/witnessd/internal/netaddr"
	"github.com/concilium-chain/witnessd/internal/peermanager"
	"github.com/concilium-chain/witnessd/internal/store"
	"github.com/concilium-chain/witnessd/internal/transport"
	"github.com/concilium-chain/witnessd/internal/wire"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

type fakeConn struct {
	remote  []byte
	inbound bool
	mu      sync.Mutex
	sent    []wire.Message
	closed  bool
}

func (c *fakeConn) Send(m wire.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

// sentMessages returns a copy of what has been written so far. Peers send
// from their own writer goroutine, so tests read through the lock.
func (c *fakeConn) sentMessages() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wire.Message(nil), c.sent...)
}

// waitSent reports whether a message of type mt reaches c within a second.
func waitSent(c *fakeConn, mt wire.MessageType) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		for _, m := range c.sentMessages() {
			if m.Type == mt {
				return true
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
func (c *fakeConn) Recv() (wire.Message, error) {
	select {}
}
func (c *fakeConn) RemoteAddr() []byte { return c.remote }
func (c *fakeConn) Inbound() bool      { return c.inbound }
func (c *fakeConn) Close() error       { c.closed = true; return nil }

type fakeTransport struct {
	resolve func(ctx context.Context, name string, port uint16) ([][]byte, error)
}

func (fakeTransport) Listen(ctx context.Context) (<-chan transport.Connection, error) {
	return nil, errors.New("unused")
}
func (fakeTransport) Connect(ctx context.Context, address []byte) (transport.Connection, error) {
	return nil, errors.New("unreachable in test")
}
func (f fakeTransport) ResolveName(ctx context.Context, name string, port uint16) ([][]byte, error) {
	if f.resolve != nil {
		return f.resolve(ctx, name, port)
	}
	return nil, errors.New("unused")
}
func (fakeTransport) Close() error { return nil }

func addrOf(t *testing.T, s string) []byte {
	t.Helper()
	a, err := netaddr.StrToAddress(s)
	if err != nil {
		t.Fatalf("addr: %v", err)
	}
	return a
}

func newTestNode(t *testing.T, self []byte) (*Node, *peermanager.Manager) {
	t.Helper()
	pm := peermanager.New(testLog(), fakeTransport{}, nil, self)
	n := New(testLog(), Config{SelfAddr: self, Port: wire.DefaultPort}, nil, fakeTransport{}, pm, mempool.New(), nil, nil, nil)
	return n, pm
}

func TestSelfConnectionIsBannedOnMatchingNonce(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	n, pm := newTestNode(t, self)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	payload, _ := wire.EncodePayload(&wire.VersionPayload{ProtocolVersion: wire.ProtocolVersion, Nonce: n.nonce})
	n.handleMessage(p, wire.Message{Type: wire.MsgVersion, Payload: payload})

	if !p.Banned() {
		t.Fatal("expected self-connection to be banned")
	}
	if !conn.closed {
		t.Fatal("expected connection to be closed")
	}
}

func TestAcceptInboundDoesNotProactivelySendVersion(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	_, pm := newTestNode(t, self)

	conn := &fakeConn{remote: remote, inbound: true}
	if _, err := pm.AcceptInbound(conn); err != nil {
		t.Fatalf("accept: %v", err)
	}

	for _, m := range conn.sent {
		if m.Type == wire.MsgVersion {
			t.Fatal("inbound side must wait for the dialer's VERSION and reply from onVersion, never send one on accept")
		}
	}
}

func TestNormalHandshakeCompletesAndRepliesVerAck(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	n, pm := newTestNode(t, self)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	payload, _ := wire.EncodePayload(&wire.VersionPayload{ProtocolVersion: wire.ProtocolVersion, Nonce: n.nonce + 1})
	n.handleMessage(p, wire.Message{Type: wire.MsgVersion, Payload: payload})

	if p.FullyConnected() {
		t.Fatal("must not be fully connected before a verack arrives")
	}
	if !waitSent(conn, wire.MsgVersion) {
		t.Fatal("expected the inbound side to reply with its own version")
	}
	if !waitSent(conn, wire.MsgVerAck) {
		t.Fatal("expected a verack to be sent back")
	}

	verAckPayload, _ := wire.EncodePayload(&wire.VerAckPayload{})
	n.handleMessage(p, wire.Message{Type: wire.MsgVerAck, Payload: verAckPayload})
	if !p.FullyConnected() {
		t.Fatal("expected peer to be fully connected after the verack")
	}
	for _, m := range conn.sentMessages() {
		if m.Type == wire.MsgGetAddr {
			t.Fatal("inbound side (we did not dial) must not request addresses")
		}
	}
}

func TestPrematureMessageCostsOneMisbehaviorPoint(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	n, pm := newTestNode(t, self)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	ping, _ := wire.EncodePayload(&wire.PingPayload{Nonce: 1})
	n.handleMessage(p, wire.Message{Type: wire.MsgPing, Payload: ping})

	if p.MisbehaviorScore() != 1 {
		t.Fatalf("expected misbehavior score 1, got %d", p.MisbehaviorScore())
	}
	if p.FullyConnected() {
		t.Fatal("premature message must not advance handshake state")
	}
}

func TestTxRelayExcludesOriginatingPeer(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remoteA := addrOf(t, "10.0.0.2:8223")
	remoteB := addrOf(t, "10.0.0.3:8223")
	n, pm := newTestNode(t, self)

	connA := &fakeConn{remote: remoteA, inbound: true}
	pA, err := pm.AcceptInbound(connA)
	if err != nil {
		t.Fatalf("accept a: %v", err)
	}
	connB := &fakeConn{remote: remoteB, inbound: true}
	pB, err := pm.AcceptInbound(connB)
	if err != nil {
		t.Fatalf("accept b: %v", err)
	}
	pA.SetVersion(wire.ProtocolVersion)
	pA.MarkFullyConnected()
	pB.SetVersion(wire.ProtocolVersion)
	pB.MarkFullyConnected()

	tx := wire.Transaction{
		Payload: wire.TransactionPayload{
			Outs: []wire.TxOut{{Amount: 1, ReceiverAddr: wire.Address{9}}},
		},
	}
	payload, _ := wire.EncodePayload(&wire.TxPayloadMsg{Tx: tx})
	n.onTx(pA, wire.Message{Type: wire.MsgTx, Payload: payload, Signature: []byte{1, 2, 3}})

	if !waitSent(connB, wire.MsgInv) {
		t.Fatal("expected the other fully-connected peer to receive the inv")
	}
	for _, m := range connA.sentMessages() {
		if m.Type == wire.MsgInv {
			t.Fatal("originating peer must not receive the inv back")
		}
	}
}

func TestRejectFromPeerCostsOneMisbehaviorPoint(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	n, pm := newTestNode(t, self)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	payload, _ := wire.EncodePayload(&wire.RejectPayload{Code: wire.RejectDuplicate, Reason: "duplicate connection"})
	n.handleMessage(p, wire.Message{Type: wire.MsgReject, Payload: payload})

	if p.MisbehaviorScore() != 1 {
		t.Fatalf("expected misbehavior score 1 after a reject, got %d", p.MisbehaviorScore())
	}
	if !conn.closed {
		t.Fatal("expected the connection to be closed after a reject")
	}
}

func TestTxSpendingUnknownUTXOIsMisbehavior(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	cs := store.NewMemStore()
	pm := peermanager.New(testLog(), fakeTransport{}, nil, self)
	n := New(testLog(), Config{SelfAddr: self, Port: wire.DefaultPort}, nil, fakeTransport{}, pm, mempool.New(), cs, cs, cs)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	p.SetVersion(wire.ProtocolVersion)
	p.MarkFullyConnected()

	tx := wire.Transaction{Payload: wire.TransactionPayload{
		Ins:  []wire.TxIn{{TxHash: wire.Hash{1}, NTxOutput: 0}},
		Outs: []wire.TxOut{{Amount: 5, ReceiverAddr: wire.Address{9}}},
	}}
	payload, _ := wire.EncodePayload(&wire.TxPayloadMsg{Tx: tx})
	n.onTx(p, wire.Message{Type: wire.MsgTx, Payload: payload, Signature: []byte{1}})

	if p.MisbehaviorScore() != 1 {
		t.Fatalf("expected misbehavior score 1 for spending an unknown utxo, got %d", p.MisbehaviorScore())
	}
	if n.pool.Has(tx.Hash()) {
		t.Fatal("transaction spending an unknown utxo must not enter the mempool")
	}
}

func TestTxSpendingKnownUTXOIsAccepted(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	cs := store.NewMemStore()

	coinbase := wire.Transaction{Payload: wire.TransactionPayload{
		Outs: []wire.TxOut{{Amount: 100, ReceiverAddr: wire.Address{1}}},
	}}
	if err := cs.ApplyBlock(&wire.Block{Txns: []wire.Transaction{coinbase}}); err != nil {
		t.Fatalf("seed utxo: %v", err)
	}

	pm := peermanager.New(testLog(), fakeTransport{}, nil, self)
	n := New(testLog(), Config{SelfAddr: self, Port: wire.DefaultPort}, nil, fakeTransport{}, pm, mempool.New(), cs, cs, cs)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := pm.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	p.SetVersion(wire.ProtocolVersion)
	p.MarkFullyConnected()

	tx := wire.Transaction{Payload: wire.TransactionPayload{
		Ins:  []wire.TxIn{{TxHash: coinbase.Hash(), NTxOutput: 0}},
		Outs: []wire.TxOut{{Amount: 100, ReceiverAddr: wire.Address{9}}},
	}}
	payload, _ := wire.EncodePayload(&wire.TxPayloadMsg{Tx: tx})
	n.onTx(p, wire.Message{Type: wire.MsgTx, Payload: payload, Signature: []byte{1}})

	if p.MisbehaviorScore() != 0 {
		t.Fatalf("expected no misbehavior for a fully-backed spend, got %d", p.MisbehaviorScore())
	}
	if !n.pool.Has(tx.Hash()) {
		t.Fatal("expected the transaction to enter the mempool")
	}
}

func TestDNSBootstrapToleratesPartialSeedFailure(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	good := addrOf(t, "10.0.0.9:8223")
	tr := fakeTransport{resolve: func(ctx context.Context, name string, port uint16) ([][]byte, error) {
		if name == "bad.seed" {
			return nil, errors.New("no such host")
		}
		return [][]byte{good}, nil
	}}
	pm := peermanager.New(testLog(), tr, nil, self)
	n := New(testLog(), Config{
		SelfAddr: self,
		Port:     wire.DefaultPort,
		DNSSeeds: []string{"bad.seed", "good.seed"},
	}, nil, tr, pm, mempool.New(), nil, nil, nil)

	addrs, err := n.resolveDNSSeeds(context.Background())
	if err != nil {
		t.Fatalf("expected partial tolerance, got error: %v", err)
	}
	if len(addrs) != 1 {
		t.Fatalf("expected exactly the good seed's address, got %d", len(addrs))
	}
}
