package peermanager

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concilium-chain/witnessd/internal/netaddr"
	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/peer"
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
	sent    []wire.Message
	closed  bool
}

func (c *fakeConn) Send(m wire.Message) error { c.sent = append(c.sent, m); return nil }
func (c *fakeConn) Recv() (wire.Message, error) {
	select {}
}
func (c *fakeConn) RemoteAddr() []byte { return c.remote }
func (c *fakeConn) Inbound() bool      { return c.inbound }
func (c *fakeConn) Close() error       { c.closed = true; return nil }

type fakeTransport struct{}

func (fakeTransport) Listen(ctx context.Context) (<-chan transport.Connection, error) {
	return nil, errors.New("unused")
}
func (fakeTransport) Connect(ctx context.Context, address []byte) (transport.Connection, error) {
	return nil, errors.New("unreachable in test")
}
func (fakeTransport) ResolveName(ctx context.Context, name string, port uint16) ([][]byte, error) {
	return nil, errors.New("unused")
}
func (fakeTransport) Close() error { return nil }

type dialableTransport struct{}

func (dialableTransport) Listen(ctx context.Context) (<-chan transport.Connection, error) {
	return nil, errors.New("unused")
}
func (dialableTransport) Connect(ctx context.Context, address []byte) (transport.Connection, error) {
	return &fakeConn{remote: address, inbound: false}, nil
}
func (dialableTransport) ResolveName(ctx context.Context, name string, port uint16) ([][]byte, error) {
	return nil, errors.New("unused")
}
func (dialableTransport) Close() error { return nil }

func addrOf(t *testing.T, s string) []byte {
	t.Helper()
	a, err := netaddr.StrToAddress(s)
	if err != nil {
		t.Fatalf("addr: %v", err)
	}
	return a
}

func TestAcceptInboundRejectsDuplicateConnection(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	m := New(testLog(), fakeTransport{}, nil, self)

	first := &fakeConn{remote: remote, inbound: true}
	p, err := m.AcceptInbound(first)
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if p == nil {
		t.Fatal("expected peer")
	}

	second := &fakeConn{remote: remote, inbound: true}
	_, err = m.AcceptInbound(second)
	if !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
	if !second.closed {
		t.Fatal("expected duplicate connection to be closed")
	}
	if len(second.sent) != 1 || second.sent[0].Type != wire.MsgReject {
		t.Fatalf("expected a reject message sent, got %+v", second.sent)
	}
}

func TestAcceptInboundRejectsSelfConnection(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	m := New(testLog(), fakeTransport{}, nil, self)

	c := &fakeConn{remote: self, inbound: true}
	_, err := m.AcceptInbound(c)
	if !errors.Is(err, ErrSelfConnection) {
		t.Fatalf("expected ErrSelfConnection, got %v", err)
	}
	if !c.closed {
		t.Fatal("expected self connection to be closed")
	}
}

func TestMisbehaveBansAddressAgainstFutureReconnect(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	m := New(testLog(), fakeTransport{}, nil, self)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := m.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	m.Misbehave(p, 1000)
	if !p.Banned() {
		t.Fatal("expected peer to be banned")
	}

	conn2 := &fakeConn{remote: remote, inbound: true}
	_, err = m.AcceptInbound(conn2)
	if !errors.Is(err, ErrBannedAddress) {
		t.Fatalf("expected ErrBannedAddress on reconnect, got %v", err)
	}
}

func TestKnownAddressesReflectsBootstrapSeeds(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	seed := addrOf(t, "10.0.0.3:8223")
	m := New(testLog(), fakeTransport{}, nil, self)
	m.Bootstrap([][]byte{seed}, 8223)

	infos := m.KnownAddresses()
	if len(infos) != 1 {
		t.Fatalf("expected 1 known address, got %d", len(infos))
	}
}

func TestGrowToMaxPeersDialsKnownAddressesUpToCeiling(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	m := New(testLog(), dialableTransport{}, nil, self)

	seeds := make([][]byte, 0, params.MaxPeers+2)
	for i := 0; i < params.MaxPeers+2; i++ {
		seeds = append(seeds, addrOf(t, fmt.Sprintf("10.0.1.%d:8223", i+1)))
	}
	m.Bootstrap(seeds, 8223)

	m.GrowToMaxPeers(context.Background())

	if got := m.LivePeerCount(); got != params.MaxPeers {
		t.Fatalf("expected exactly MaxPeers (%d) live connections, got %d", params.MaxPeers, got)
	}
}

func TestRunDispatchesInboundMessageEvents(t *testing.T) {
	self := addrOf(t, "10.0.0.1:8223")
	remote := addrOf(t, "10.0.0.2:8223")
	m := New(testLog(), fakeTransport{}, nil, self)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	conn := &fakeConn{remote: remote, inbound: true}
	p, err := m.AcceptInbound(conn)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	ping, _ := wire.EncodePayload(&wire.PingPayload{Nonce: 42})
	msg := wire.Message{Type: wire.MsgPing, Payload: ping}
	select {
	case m.events <- (peer.Event{Peer: p, Kind: peer.EventMessage, Message: &msg}):
	case <-time.After(time.Second):
		t.Fatal("timed out sending synthetic event")
	}

	select {
	case im := <-m.Dispatch:
		if im.Peer != p || im.Message.Type != wire.MsgPing {
			t.Fatalf("unexpected dispatch: %+v", im)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}
