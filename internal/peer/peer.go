// Package peer implements the per-peer state machine: connection,
// handshake stage, misbehavior score, rate accounting, and the per-peer
// send queue. Every I/O operation happens on its own goroutine, but a
// single reader and a single writer goroutine per peer guarantee the
// strictly-FIFO per-peer ordering the concurrency model requires. The
// peer's mutable fields, including those the two goroutines update, are
// guarded by the Peer's own mutex.
package peer

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/transport"
	"github.com/concilium-chain/witnessd/internal/wire"
)

var (
	// ErrRestricted is returned by Connect when called again within
	// PeerRestrictTime of a prior failed attempt.
	ErrRestricted = errors.New("peer: restricted, retry later")
	// ErrBanned is returned by Connect/PushMessage once a peer is banned.
	ErrBanned = errors.New("peer: banned")
	// ErrDisconnected is returned by PushMessage when no connection is live.
	ErrDisconnected = errors.New("peer: disconnected")
)

// EventKind discriminates the notifications a Peer emits on its Events
// channel — the "weak notification channel back to PeerManager" that lets
// peers avoid holding a back-pointer to their owner.
type EventKind int

const (
	EventMessage EventKind = iota
	EventDisconnected
	EventBanned
)

// Event is a single (peer, outcome) notification. For EventMessage,
// Message holds the decoded frame.
type Event struct {
	Peer    *Peer
	Kind    EventKind
	Message *wire.Message
	Err     error
}

// Peer is the runtime record for one remote node.
type Peer struct {
	mu sync.Mutex

	info    wire.PeerInfo
	address []byte // canonical, the identity key in the address book
	conn    transport.Connection
	inbound bool

	version          uint16 // 0 until MsgVersion is received
	state            State
	misbehaviorScore int
	bannedUntil      time.Time
	restrictedUntil  time.Time

	bytesIn  uint64
	bytesOut uint64

	loadDone bool
	loadCh   chan struct{}

	sendCh   chan wire.Message
	stopCh   chan struct{}
	stopOnce sync.Once

	connectedAt time.Time
	lastSeen    time.Time

	limiter *rate.Limiter
	events  chan<- Event
}

// New constructs a Peer bound to address. If conn is non-nil the peer
// starts already connected (inbound accept path); otherwise it starts in
// StateNew, dialed later via Connect (outbound gossip path).
func New(address []byte, info wire.PeerInfo, conn transport.Connection, inbound bool, events chan<- Event) *Peer {
	p := &Peer{
		info:    info,
		address: address,
		inbound: inbound,
		state:   StateNew,
		loadCh:  make(chan struct{}),
		sendCh:  make(chan wire.Message, 256),
		stopCh:  make(chan struct{}),
		events:  events,
		// One token per byte, refilled so the full PeerMaxBytesCount budget
		// is available once per PeerConnectionLifetime: a generous ceiling
		// that only bites peers trying to flood faster than the protocol
		// expects, providing the back-pressure §4.3 calls for.
		limiter: rate.NewLimiter(rate.Limit(float64(params.PeerMaxBytesCount)/params.PeerConnectionLifetime.Seconds()), params.PeerMaxBytesCount),
	}
	if conn != nil {
		p.attach(conn)
	}
	return p
}

func (p *Peer) attach(conn transport.Connection) {
	p.conn = conn
	p.state = StateConnected
	p.connectedAt = time.Now()
	p.lastSeen = time.Now()
	go p.writeLoop()
	go p.readLoop()
}

// Address returns the canonical byte-vector identity key.
func (p *Peer) Address() []byte { return p.address }

// Info returns the peer's advertised descriptor.
func (p *Peer) Info() wire.PeerInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.info
}

// SetInfo updates the advertised descriptor, e.g. once an inbound peer's
// VERSION message reveals it, or a gossip update merges new capabilities.
func (p *Peer) SetInfo(info wire.PeerInfo) {
	p.mu.Lock()
	p.info = info
	p.mu.Unlock()
}

// Inbound reports whether we accepted this connection (vs. dialed it).
func (p *Peer) Inbound() bool { return p.inbound }

// Version returns the protocol version reported in the peer's MsgVersion,
// or 0 if unset.
func (p *Peer) Version() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// SetVersion records the negotiated protocol version and advances state.
func (p *Peer) SetVersion(v uint16) {
	p.mu.Lock()
	p.version = v
	if p.state < StateVersionKnown {
		p.state = StateVersionKnown
	}
	p.mu.Unlock()
}

// MarkFullyConnected transitions to StateFullyConnected. It only takes
// effect from StateVersionKnown, so fullyConnected ⇒ version≠0 holds and a
// peer in any other state is left unchanged.
func (p *Peer) MarkFullyConnected() {
	p.mu.Lock()
	if p.state == StateVersionKnown {
		p.state = StateFullyConnected
	}
	p.mu.Unlock()
}

// FullyConnected reports whether both VERSION and VERACK have completed.
func (p *Peer) FullyConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateFullyConnected
}

// Disconnected reports whether the underlying connection is absent or
// closed.
func (p *Peer) Disconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateDisconnected || p.state == StateBanned || p.conn == nil
}

// Banned reports whether the peer is currently serving a timed ban.
func (p *Peer) Banned() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateBanned && time.Now().Before(p.bannedUntil)
}

// MisbehaviorScore returns the current, monotonically non-decreasing score.
func (p *Peer) MisbehaviorScore() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.misbehaviorScore
}

// Misbehave adds points to the score. Crossing BanPeerScore sets
// bannedUntil and closes the connection; returns true iff this call
// triggered the ban.
func (p *Peer) Misbehave(points int) bool {
	p.mu.Lock()
	p.misbehaviorScore += points
	triggered := p.state != StateBanned && p.misbehaviorScore >= params.BanPeerScore
	if triggered {
		p.bannedUntil = time.Now().Add(params.BanPeerTime)
		p.state = StateBanned
	}
	p.mu.Unlock()
	if triggered {
		p.closeConn()
		p.emit(Event{Peer: p, Kind: EventBanned})
	}
	return triggered
}

// Ban immediately transitions the peer to StateBanned, used for
// self-connection defense where a single violation is disqualifying.
func (p *Peer) Ban() {
	p.mu.Lock()
	already := p.state == StateBanned
	p.bannedUntil = time.Now().Add(params.BanPeerTime)
	p.state = StateBanned
	p.mu.Unlock()
	if !already {
		p.closeConn()
		p.emit(Event{Peer: p, Kind: EventBanned})
	}
}

// Connect dials address via dial if not already connected. It is
// idempotent (a no-op when already connected) and refuses to redial within
// PeerRestrictTime of a previous failure.
func (p *Peer) Connect(ctx context.Context, dial func(context.Context, []byte) (transport.Connection, error)) error {
	p.mu.Lock()
	if p.state == StateBanned && time.Now().Before(p.bannedUntil) {
		p.mu.Unlock()
		return ErrBanned
	}
	if p.conn != nil && p.state != StateDisconnected {
		p.mu.Unlock()
		return nil // idempotent
	}
	if time.Now().Before(p.restrictedUntil) {
		p.mu.Unlock()
		return ErrRestricted
	}
	p.mu.Unlock()

	conn, err := dial(ctx, p.address)
	if err != nil {
		p.mu.Lock()
		p.restrictedUntil = time.Now().Add(params.PeerRestrictTime)
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	p.stopCh = make(chan struct{})
	p.sendCh = make(chan wire.Message, 256)
	p.loadCh = make(chan struct{})
	p.loadDone = false
	p.attach(conn)
	p.mu.Unlock()
	return nil
}

// PushMessage enqueues a framed send; the single writer goroutine drains
// sendCh in order, guaranteeing serial per-peer send ordering.
func (p *Peer) PushMessage(m wire.Message) error {
	p.mu.Lock()
	if p.state == StateBanned {
		p.mu.Unlock()
		return ErrBanned
	}
	if p.conn == nil {
		p.mu.Unlock()
		return ErrDisconnected
	}
	ch := p.sendCh
	p.mu.Unlock()

	select {
	case ch <- m:
		return nil
	case <-p.stopCh:
		return ErrDisconnected
	}
}

// Loaded resolves once loadDone is set (the initial address/sync exchange
// with this peer completed) or PeerQueryTimeout elapses.
func (p *Peer) Loaded(ctx context.Context) error {
	p.mu.Lock()
	ch := p.loadCh
	done := p.loadDone
	p.mu.Unlock()
	if done {
		return nil
	}
	timer := time.NewTimer(params.PeerQueryTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return nil // timeout: proceed with whatever partial state exists
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetLoadDone marks the initial sync exchange complete, releasing Loaded.
func (p *Peer) SetLoadDone() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadDone {
		return
	}
	p.loadDone = true
	close(p.loadCh)
}

// BytesIO returns the running byte counters.
func (p *Peer) BytesIO() (in, out uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bytesIn, p.bytesOut
}

// Age returns how long the current connection has been open.
func (p *Peer) Age() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectedAt.IsZero() {
		return 0
	}
	return time.Since(p.connectedAt)
}

// IdleFor returns how long it has been since the peer last produced any
// traffic (used by the heartbeat to evict silent connections).
func (p *Peer) IdleFor() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastSeen.IsZero() {
		return 0
	}
	return time.Since(p.lastSeen)
}

// Close cleanly tears down the connection without banning the peer. It
// leaves the record in the address book, eligible for a later redial.
func (p *Peer) Close() {
	p.mu.Lock()
	if p.state != StateBanned {
		p.state = StateDisconnected
	}
	p.mu.Unlock()
	p.closeConn()
}

func (p *Peer) closeConn() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Peer) emit(ev Event) {
	if p.events == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		// Manager is falling behind; dropping a lifecycle notification is
		// preferable to blocking every peer's I/O goroutines on it.
	}
}

func (p *Peer) writeLoop() {
	p.mu.Lock()
	sendCh := p.sendCh
	stopCh := p.stopCh
	p.mu.Unlock()
	for {
		select {
		case m := <-sendCh:
			p.mu.Lock()
			conn := p.conn
			p.mu.Unlock()
			if conn == nil {
				return
			}
			_ = p.limiter.WaitN(context.Background(), max(1, len(m.Payload)))
			if err := conn.Send(m); err != nil {
				p.emit(Event{Peer: p, Kind: EventDisconnected, Err: err})
				p.Close()
				return
			}
			p.mu.Lock()
			p.bytesOut += uint64(len(m.Payload))
			p.mu.Unlock()
		case <-stopCh:
			return
		}
	}
}

func (p *Peer) readLoop() {
	p.mu.Lock()
	conn := p.conn
	stopCh := p.stopCh
	p.mu.Unlock()
	for {
		m, err := conn.Recv()
		if err != nil {
			p.emit(Event{Peer: p, Kind: EventDisconnected, Err: err})
			p.Close()
			return
		}
		p.mu.Lock()
		p.bytesIn += uint64(len(m.Payload))
		p.lastSeen = time.Now()
		over := p.bytesIn+p.bytesOut > params.PeerMaxBytesCount
		p.mu.Unlock()

		msg := m
		p.emit(Event{Peer: p, Kind: EventMessage, Message: &msg})

		if over {
			p.Close()
			return
		}
		select {
		case <-stopCh:
			return
		default:
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
