// Package opsserver exposes node operational surfaces outside the wire
// protocol: health, peer listing, and prometheus metrics. It is deliberately
// distinct from the (out-of-scope) JSON-RPC transaction-submission surface.
//
// Grounded on the teacher's cmd/cli HTTP wiring conventions, built on
// go-chi/chi (routing) and gorilla/websocket (the live peer-event stream),
// both already part of the dependency graph the rest of the pack exercises.
package opsserver

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/concilium-chain/witnessd/internal/config"
	"github.com/concilium-chain/witnessd/internal/peer"
	"github.com/concilium-chain/witnessd/internal/peermanager"
)

// PeerView is the JSON-facing summary of one live peer.
type PeerView struct {
	Address          string `json:"address"`
	Inbound          bool   `json:"inbound"`
	FullyConnected   bool   `json:"fully_connected"`
	MisbehaviorScore int    `json:"misbehavior_score"`
	BytesIn          uint64 `json:"bytes_in"`
	BytesOut         uint64 `json:"bytes_out"`
}

// Server is the ops HTTP surface: /healthz, /peers, /metrics, and an
// optional /ws/events live feed of peer lifecycle events.
type Server struct {
	log      *logrus.Entry
	pm       *peermanager.Manager
	registry *prometheus.Registry
	cfg      *config.Config
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[*websocket.Conn]*subscriber
}

// subscriber is one /ws/events client. id exists purely for log
// correlation: two subscribers connecting from the same remote address are
// otherwise indistinguishable in the logs.
type subscriber struct {
	id string
	ch chan []byte
}

// New builds the ops HTTP surface bound to pm's live peer set, the given
// prometheus registry, and the node's effective configuration (cfg may be
// nil, in which case /config answers 404).
func New(log *logrus.Entry, pm *peermanager.Manager, registry *prometheus.Registry, cfg *config.Config) *Server {
	return &Server{
		log:      log,
		pm:       pm,
		registry: registry,
		cfg:      cfg,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		subs:     make(map[*websocket.Conn]*subscriber),
	}
}

// Router builds the chi mux this server answers on.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/peers", s.handlePeers)
	r.Get("/config", s.handleConfig)
	r.Get("/ws/events", s.handleEvents)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.pm.FilterPeers(nil)
	views := make([]PeerView, 0, len(peers))
	for _, p := range peers {
		in, out := p.BytesIO()
		views = append(views, PeerView{
			Address:          hex.EncodeToString(p.Address()),
			Inbound:          p.Inbound(),
			FullyConnected:   p.FullyConnected(),
			MisbehaviorScore: p.MisbehaviorScore(),
			BytesIn:          in,
			BytesOut:         out,
		})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(views); err != nil {
		s.log.WithError(err).Error("encode peer list")
	}
}

// handleConfig renders the node's effective configuration as YAML, so an
// operator can see what was actually resolved after the default/overlay/
// environment merge without shelling into the host.
func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg == nil {
		http.NotFound(w, r)
		return
	}
	out, err := s.cfg.YAML()
	if err != nil {
		s.log.WithError(err).Error("render config")
		http.Error(w, "render config", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(out)
}

// handleEvents upgrades to a websocket and streams peer lifecycle events
// (message/disconnected/banned, as passed to Broadcast) until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}
	sub := &subscriber{id: uuid.NewString(), ch: make(chan []byte, 16)}
	s.mu.Lock()
	s.subs[conn] = sub
	s.mu.Unlock()
	s.log.WithField("subscriber", sub.id).Debug("ws/events subscriber connected")
	defer func() {
		s.mu.Lock()
		delete(s.subs, conn)
		s.mu.Unlock()
		conn.Close()
		s.log.WithField("subscriber", sub.id).Debug("ws/events subscriber disconnected")
	}()

	for msg := range sub.ch {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Broadcast fans a peer lifecycle event out to every connected /ws/events
// subscriber. Subscribers only see events passed to Broadcast:
// peermanager.Manager.Run consumes its peers' events itself and does not
// forward them here.
func (s *Server) Broadcast(ev peer.Event) {
	kind := "message"
	switch ev.Kind {
	case peer.EventDisconnected:
		kind = "disconnected"
	case peer.EventBanned:
		kind = "banned"
	}
	body, err := json.Marshal(map[string]string{
		"kind": kind,
		"peer": hex.EncodeToString(ev.Peer.Address()),
	})
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		select {
		case sub.ch <- body:
		default:
		}
	}
}
