// Package peermanager owns the address book: the set of known PeerInfo
// entries keyed by canonical address, the live peer.Peer records connected
// to a subset of them, periodic reconnection of the rest up to MinPeers,
// and fan-out of outbound messages.
//
// Grounded on the teacher's peer_management.go address-table plus its
// PEERMANAGER_BACKUP_TIMEOUT persistence loop, generalized from the
// teacher's ad-hoc map-of-structs bookkeeping to the peer package's
// explicit state machine.
package peermanager

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/concilium-chain/witnessd/internal/params"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/transport"
	"github.com/concilium-chain/witnessd/internal/wire"
)

// Store persists the address book across restarts. A nil Store disables
// persistence; the in-memory book is rebuilt entirely from bootstrap.
type Store interface {
	SavePeerInfos(infos []wire.PeerInfo) error
	LoadPeerInfos() ([]wire.PeerInfo, error)
}

// Manager owns the address book and the live peer set.
type Manager struct {
	log       *logrus.Entry
	transport transport.Transport
	store     Store

	mu      sync.RWMutex
	known   map[string]wire.PeerInfo // canonical address hex -> descriptor
	live    map[string]*peer.Peer    // canonical address hex -> connected peer
	banned  map[string]time.Time     // address hex -> ban expiry, for addresses without a live Peer
	selfKey string                   // our own canonical address, to reject self-dials

	events chan peer.Event

	// Dispatch receives every decoded inbound message for node-level
	// handling; Manager itself never interprets payloads beyond lifecycle
	// bookkeeping (misbehavior scoring on decode/handshake failures is the
	// node's call, relayed back via Misbehave).
	Dispatch chan InboundMessage
}

// InboundMessage pairs a decoded frame with the peer.Peer it arrived on.
type InboundMessage struct {
	Peer    *peer.Peer
	Message wire.Message
}

// New constructs a Manager. selfAddr is our own canonical address, used to
// refuse self-connections per the loopback defense.
func New(log *logrus.Entry, tr transport.Transport, store Store, selfAddr []byte) *Manager {
	return &Manager{
		log:       log,
		transport: tr,
		store:     store,
		known:     make(map[string]wire.PeerInfo),
		live:      make(map[string]*peer.Peer),
		banned:    make(map[string]time.Time),
		selfKey:   hex.EncodeToString(selfAddr),
		events:    make(chan peer.Event, 256),
		Dispatch:  make(chan InboundMessage, 256),
	}
}

func key(addr []byte) string { return hex.EncodeToString(addr) }

// Bootstrap seeds the address book from persisted state (if a Store is
// configured) and a caller-supplied static/DNS seed list, without dialing.
func (m *Manager) Bootstrap(seeds [][]byte, port uint16) {
	if m.store != nil {
		if infos, err := m.store.LoadPeerInfos(); err == nil {
			m.mu.Lock()
			for _, info := range infos {
				m.known[key(info.Addr)] = info
			}
			m.mu.Unlock()
		}
	}
	m.mu.Lock()
	for _, addr := range seeds {
		k := key(addr)
		if _, ok := m.known[k]; !ok {
			m.known[k] = wire.PeerInfo{Addr: addr, Port: port}
		}
	}
	m.mu.Unlock()
}

// AddPeerInfo merges a gossiped descriptor into the address book. It
// returns false (no-op) for our own address or a currently banned address.
func (m *Manager) AddPeerInfo(info wire.PeerInfo) bool {
	k := key(info.Addr)
	if k == m.selfKey {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if until, ok := m.banned[k]; ok && time.Now().Before(until) {
		return false
	}
	m.known[k] = info
	return true
}

// AcceptInbound registers a freshly accepted connection as a live peer,
// rejecting it with MsgReject/duplicate if one is already live for the same
// address, and closing self-connections with ErrSelfConnection.
func (m *Manager) AcceptInbound(conn transport.Connection) (*peer.Peer, error) {
	addr := conn.RemoteAddr()
	k := key(addr)

	if k == m.selfKey {
		conn.Close()
		return nil, ErrSelfConnection
	}

	m.mu.Lock()
	if until, ok := m.banned[k]; ok && time.Now().Before(until) {
		m.mu.Unlock()
		conn.Close()
		return nil, ErrBannedAddress
	}
	if existing, ok := m.live[k]; ok && !existing.Disconnected() {
		m.mu.Unlock()
		reject, _ := wire.EncodePayload(&wire.RejectPayload{Code: wire.RejectDuplicate, Reason: "Duplicate connection detected"})
		conn.Send(wire.Message{Type: wire.MsgReject, Payload: reject})
		conn.Close()
		return nil, ErrDuplicateConnection
	}
	p := peer.New(addr, wire.PeerInfo{Addr: addr}, conn, true, m.events)
	m.live[k] = p
	m.mu.Unlock()

	return p, nil
}

// FilterPeers returns live (not disconnected, not necessarily fully
// handshaked) peers for which keep returns true; a nil keep selects all of
// them. Used to select a gossip/relay fan-out set.
func (m *Manager) FilterPeers(keep func(*peer.Peer) bool) []*peer.Peer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*peer.Peer, 0, len(m.live))
	for _, p := range m.live {
		if !p.Disconnected() && (keep == nil || keep(p)) {
			out = append(out, p)
		}
	}
	return out
}

// LivePeerCount returns the number of currently connected (not necessarily
// fully handshaked) peers.
func (m *Manager) LivePeerCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.live {
		if !p.Disconnected() {
			n++
		}
	}
	return n
}

// Broadcast fans m out to every peer selected by keep, best-effort: a single
// peer's full send queue never blocks delivery to the others.
func (m *Manager) Broadcast(msg wire.Message, keep func(*peer.Peer) bool) {
	for _, p := range m.FilterPeers(keep) {
		go func(p *peer.Peer) {
			if err := p.PushMessage(msg); err != nil {
				m.log.WithError(err).WithField("peer", hex.EncodeToString(p.Address())).Debug("broadcast send failed")
			}
		}(p)
	}
}

// KnownAddresses returns every descriptor in the address book, for
// answering MsgGetAddr (split into wire.ADDRMaxLength pages by the caller)
// and for persistence.
func (m *Manager) KnownAddresses() []wire.PeerInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]wire.PeerInfo, 0, len(m.known))
	for _, info := range m.known {
		out = append(out, info)
	}
	return out
}

// Misbehave records points against peer p and returns
// whether it is now banned, also recording the ban in the address-level
// table so a reconnect attempt before BanPeerTime elapses is also refused.
func (m *Manager) Misbehave(p *peer.Peer, points int) bool {
	banned := p.Misbehave(points)
	if banned {
		m.mu.Lock()
		m.banned[key(p.Address())] = time.Now().Add(params.BanPeerTime)
		m.mu.Unlock()
	}
	return banned
}

// Run drains lifecycle events and the reconnect/backup timers until ctx is
// canceled.
func (m *Manager) Run(ctx context.Context) {
	reconnect := time.NewTicker(params.PeerReconnectInterval)
	backup := time.NewTicker(params.PeerManagerBackupTimeout)
	defer reconnect.Stop()
	defer backup.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.events:
			m.handleEvent(ev)
		case <-reconnect.C:
			m.maintainMinPeers(ctx)
		case <-backup.C:
			m.persist()
		}
	}
}

func (m *Manager) handleEvent(ev peer.Event) {
	switch ev.Kind {
	case peer.EventMessage:
		select {
		case m.Dispatch <- InboundMessage{Peer: ev.Peer, Message: *ev.Message}:
		default:
			m.log.Warn("dispatch queue full, dropping inbound message")
		}
	case peer.EventDisconnected:
		m.log.WithField("peer", hex.EncodeToString(ev.Peer.Address())).Debug("peer disconnected")
	case peer.EventBanned:
		m.mu.Lock()
		m.banned[key(ev.Peer.Address())] = time.Now().Add(params.BanPeerTime)
		m.mu.Unlock()
		m.log.WithField("peer", hex.EncodeToString(ev.Peer.Address())).Warn("peer banned")
	}
}

// dialCandidates returns known, non-banned addresses that have no peer
// record in the live set, a pool both the floor (MinPeers) and ceiling
// (MaxPeers) dialers draw from. A peer that has disconnected keeps its
// record, so its address is not returned and neither dialer redials it.
func (m *Manager) dialCandidates() []wire.PeerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	candidates := make([]wire.PeerInfo, 0)
	for k, info := range m.known {
		if _, live := m.live[k]; live {
			continue
		}
		if until, ok := m.banned[k]; ok && time.Now().Before(until) {
			continue
		}
		candidates = append(candidates, info)
	}
	return candidates
}

// maintainMinPeers dials additional known addresses until MinPeers live
// connections exist or the known address book is exhausted. Run on the
// slower PeerReconnectInterval cadence: this is the floor the book must
// never fall below.
func (m *Manager) maintainMinPeers(ctx context.Context) {
	if m.LivePeerCount() >= params.MinPeers {
		return
	}
	for _, info := range m.dialCandidates() {
		if m.LivePeerCount() >= params.MinPeers {
			return
		}
		if _, err := m.DialAndRegister(ctx, info); err != nil {
			m.log.WithError(err).WithField("peer", key(info.Addr)).Debug("reconnect attempt failed")
		}
	}
}

// GrowToMaxPeers dials additional known addresses until MaxPeers live
// connections exist or the known address book is exhausted. Unlike
// maintainMinPeers this is a ceiling, not a floor: the node's watchdog
// calls it on its faster PeerTickTimeout cadence so the live set grows
// toward MaxPeers whenever the address book has room to give, not just
// when it drops below MinPeers.
func (m *Manager) GrowToMaxPeers(ctx context.Context) {
	if m.LivePeerCount() >= params.MaxPeers {
		return
	}
	for _, info := range m.dialCandidates() {
		if m.LivePeerCount() >= params.MaxPeers {
			return
		}
		if _, err := m.DialAndRegister(ctx, info); err != nil {
			m.log.WithError(err).WithField("peer", key(info.Addr)).Debug("growth dial attempt failed")
		}
	}
}

// DialAndRegister dials info.Addr if no live, non-disconnected peer record
// exists for it yet, registering the attempt in the live set either way so
// concurrent callers (the reconnect loop, an explicit CLI dial) share the
// same peer.Peer rather than racing to create two.
func (m *Manager) DialAndRegister(ctx context.Context, info wire.PeerInfo) (*peer.Peer, error) {
	k := key(info.Addr)
	m.mu.Lock()
	p, ok := m.live[k]
	if !ok {
		p = peer.New(info.Addr, info, nil, false, m.events)
		m.live[k] = p
	}
	m.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, params.ConnectionTimeout)
	defer cancel()
	err := p.Connect(dctx, m.transport.Connect)
	return p, err
}

func (m *Manager) persist() {
	if m.store == nil {
		return
	}
	infos := m.KnownAddresses()
	if err := m.store.SavePeerInfos(infos); err != nil {
		m.log.WithError(err).Warn("failed to persist address book")
	}
}
