// Package transport implements byte-level I/O and name resolution: dialing,
// listening, and framing/deframing wire.Message values over TCP connections.
//
// Grounded on the teacher's own net.Dialer-based Dialer (dial side) and
// net.Listener (accept side, the teacher left unimplemented). A single
// per-connection mutex serializes writes, matching the "per-peer sends are
// strictly FIFO" ordering the concurrency model requires.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/concilium-chain/witnessd/internal/netaddr"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// ErrUnreachable is returned by Connect when the TCP handshake does not
// complete within the configured timeout.
var ErrUnreachable = errors.New("transport: unreachable")

// Connection delivers framed wire.Message values over an accepted or dialed
// TCP connection. Send is safe to call concurrently; Recv is not (the
// caller owns a single reader per connection, matching the per-peer FIFO
// dispatch loop).
type Connection interface {
	Send(m wire.Message) error
	Recv() (wire.Message, error)
	RemoteAddr() []byte // canonical, family-agnostic byte form
	Inbound() bool
	Close() error
}

type tcpConnection struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	remote  []byte
	inbound bool
	wmu     sync.Mutex
}

func newTCPConnection(conn net.Conn, remote []byte, inbound bool) *tcpConnection {
	return &tcpConnection{
		conn:    conn,
		r:       bufio.NewReader(conn),
		w:       bufio.NewWriter(conn),
		remote:  remote,
		inbound: inbound,
	}
}

func (c *tcpConnection) Send(m wire.Message) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := wire.WriteMessage(c.w, m); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *tcpConnection) Recv() (wire.Message, error) {
	return wire.ReadMessage(c.r)
}

func (c *tcpConnection) RemoteAddr() []byte { return c.remote }
func (c *tcpConnection) Inbound() bool      { return c.inbound }
func (c *tcpConnection) Close() error       { return c.conn.Close() }

// Transport is the byte-level I/O and name-resolution boundary the peer
// manager and node orchestrate above.
type Transport interface {
	// Listen begins accepting connections; each accepted Connection is sent
	// on the returned channel, which is closed when ctx is canceled or the
	// listener is closed.
	Listen(ctx context.Context) (<-chan Connection, error)
	// Connect dials address (canonical byte form); it fails with
	// ErrUnreachable if the connection does not complete within the
	// configured timeout.
	Connect(ctx context.Context, address []byte) (Connection, error)
	// ResolveName performs a DNS query for name, returning the resolved
	// addresses' canonical byte form.
	ResolveName(ctx context.Context, name string, port uint16) ([][]byte, error)
	Close() error
}

// TCPTransport is the default Transport: plain TCP framing, system or
// miekg/dns resolution for names.
type TCPTransport struct {
	listenAddr string
	timeout    time.Duration
	resolver   *Resolver
	mu         sync.Mutex
	ln         net.Listener
}

// NewTCPTransport builds a transport listening on listenAddr (host:port)
// with the given connect timeout.
func NewTCPTransport(listenAddr string, timeout time.Duration) *TCPTransport {
	return &TCPTransport{
		listenAddr: listenAddr,
		timeout:    timeout,
		resolver:   NewResolver(),
	}
}

func (t *TCPTransport) Listen(ctx context.Context) (<-chan Connection, error) {
	ln, err := net.Listen("tcp", t.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", t.listenAddr, err)
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()

	out := make(chan Connection)
	go func() {
		defer close(out)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			remote, rerr := remoteCanonical(conn)
			if rerr != nil {
				conn.Close()
				continue
			}
			select {
			case out <- newTCPConnection(conn, remote, true):
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return out, nil
}

func remoteCanonical(conn net.Conn) ([]byte, error) {
	tcpAddr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("transport: non-TCP remote address %v", conn.RemoteAddr())
	}
	return netaddr.HostPortToAddress(tcpAddr.IP.String(), uint16(tcpAddr.Port))
}

func (t *TCPTransport) Connect(ctx context.Context, address []byte) (Connection, error) {
	target, err := netaddr.DialTarget(address)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, target, err)
	}
	return newTCPConnection(conn, address, false), nil
}

func (t *TCPTransport) ResolveName(ctx context.Context, name string, port uint16) ([][]byte, error) {
	ips, err := t.resolver.LookupHost(ctx, name)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(ips))
	for _, ip := range ips {
		addr, err := netaddr.HostPortToAddress(ip, port)
		if err != nil {
			continue
		}
		out = append(out, addr)
	}
	return out, nil
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln != nil {
		return t.ln.Close()
	}
	return nil
}
