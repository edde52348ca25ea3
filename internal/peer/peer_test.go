package peer

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/concilium-chain/witnessd/internal/netaddr"
	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/transport"
	"github.com/concilium-chain/witnessd/internal/wire"
)

func pipeConnections(t *testing.T) (transport.Connection, transport.Connection) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	type result struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		acceptCh <- result{c, err}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	r := <-acceptCh
	if r.err != nil {
		t.Fatalf("accept: %v", r.err)
	}

	addr, _ := netaddr.StrToAddress(client.LocalAddr().String())
	return wrapConn(client, addr, false), wrapConn(r.conn, addr, true)
}

// wrapConn adapts a raw net.Conn into the transport.Connection framing used
// elsewhere, without depending on transport-package internals.
func wrapConn(c net.Conn, addr []byte, inbound bool) transport.Connection {
	return &testConn{c: c, addr: addr, inbound: inbound}
}

type testConn struct {
	c       net.Conn
	addr    []byte
	inbound bool
}

func (t *testConn) Send(m wire.Message) error {
	return wire.WriteMessage(t.c, m)
}
func (t *testConn) Recv() (wire.Message, error) { return wire.ReadMessage(t.c) }
func (t *testConn) RemoteAddr() []byte          { return t.addr }
func (t *testConn) Inbound() bool               { return t.inbound }
func (t *testConn) Close() error                { return t.c.Close() }

func mustPing(t *testing.T, nonce uint64) []byte {
	t.Helper()
	b, err := wire.EncodePayload(&wire.PingPayload{Nonce: nonce})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return b
}

func TestPeerPushMessageDeliversInOrder(t *testing.T) {
	clientConn, serverConn := pipeConnections(t)
	defer serverConn.Close()

	events := make(chan Event, 16)
	p := New([]byte("addr"), wire.PeerInfo{}, clientConn, false, events)
	defer p.Close()

	for i := uint64(0); i < 5; i++ {
		if err := p.PushMessage(wire.Message{Type: wire.MsgPing, Payload: mustPing(t, i)}); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	for i := uint64(0); i < 5; i++ {
		m, err := serverConn.Recv()
		if err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
		var pp wire.PingPayload
		if err := wire.DecodePayload(m.Payload, &pp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if pp.Nonce != i {
			t.Fatalf("out of order: want %d got %d", i, pp.Nonce)
		}
	}
}

func TestPeerMisbehaveTriggersBanAtThreshold(t *testing.T) {
	clientConn, serverConn := pipeConnections(t)
	defer serverConn.Close()

	events := make(chan Event, 16)
	p := New([]byte("addr"), wire.PeerInfo{}, clientConn, false, events)

	if p.Misbehave(params.BanPeerScore - 1) {
		t.Fatal("should not ban below threshold")
	}
	if !p.Misbehave(1) {
		t.Fatal("expected ban at threshold")
	}
	if !p.Banned() {
		t.Fatal("expected peer to report banned")
	}

	select {
	case ev := <-events:
		if ev.Kind != EventBanned {
			t.Fatalf("expected EventBanned, got %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ban event")
	}

	if err := p.PushMessage(wire.Message{Type: wire.MsgPing}); !errors.Is(err, ErrBanned) {
		t.Fatalf("expected ErrBanned, got %v", err)
	}
}

func TestPeerConnectIsIdempotentWhenAlreadyConnected(t *testing.T) {
	clientConn, serverConn := pipeConnections(t)
	defer serverConn.Close()

	p := New([]byte("addr"), wire.PeerInfo{}, clientConn, false, nil)
	dialCalls := 0
	dial := func(ctx context.Context, addr []byte) (transport.Connection, error) {
		dialCalls++
		return nil, errors.New("should not be called")
	}
	if err := p.Connect(context.Background(), dial); err != nil {
		t.Fatalf("expected no-op success, got %v", err)
	}
	if dialCalls != 0 {
		t.Fatalf("expected dial not to be invoked, called %d times", dialCalls)
	}
}

func TestPeerConnectRestrictsAfterFailure(t *testing.T) {
	p := New([]byte("addr"), wire.PeerInfo{}, nil, false, nil)
	failErr := errors.New("boom")
	dial := func(ctx context.Context, addr []byte) (transport.Connection, error) {
		return nil, failErr
	}
	if err := p.Connect(context.Background(), dial); !errors.Is(err, failErr) {
		t.Fatalf("expected dial failure, got %v", err)
	}
	if err := p.Connect(context.Background(), dial); !errors.Is(err, ErrRestricted) {
		t.Fatalf("expected ErrRestricted on immediate retry, got %v", err)
	}
}

func TestPeerLoadedResolvesOnSetLoadDone(t *testing.T) {
	p := New([]byte("addr"), wire.PeerInfo{}, nil, false, nil)
	done := make(chan struct{})
	go func() {
		p.SetLoadDone()
		close(done)
	}()
	<-done
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Loaded(ctx); err != nil {
		t.Fatalf("expected immediate resolve, got %v", err)
	}
}
