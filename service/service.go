// Package service exposes a small read-only HTTP introspection API over a
// running membership.Node: active peers, passive peers, and protocol
// counters as JSON. Grounded on src/service/service.go's
// registerHandlers/makeHandler pattern (CORS-enabled JSON handlers
// registered against a mux at construction time).
package service

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/peers"
)

// Node is the slice of membership.Node's surface the service needs.
// Declared locally so this package does not import membership (the node
// owns the service's lifecycle, not the other way around).
type Node interface {
	Peers() []peers.Peer
	PassivePeers() []peers.ID
	StatsSnapshot() interface{}
}

// Service serves /peers, /passive, and /stats against a dedicated mux,
// adapted from babble's DefaultServeMux registration to an owned
// *http.ServeMux so multiple nodes in one process (as in tests) can each
// run their own service without clobbering shared handler state.
type Service struct {
	sync.Mutex

	bindAddress string
	node        Node
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService builds a Service and registers its handlers, ready to Serve.
func NewService(bindAddress string, n Node, logger *logrus.Entry) *Service {
	s := &Service{
		bindAddress: bindAddress,
		node:        n,
		mux:         http.NewServeMux(),
		logger:      logger,
	}
	s.registerHandlers()
	return s
}

func (s *Service) registerHandlers() {
	s.logger.Debug("registering introspection API handlers")
	s.mux.HandleFunc("/peers", s.makeHandler(s.getPeers))
	s.mux.HandleFunc("/passive", s.makeHandler(s.getPassive))
	s.mux.HandleFunc("/stats", s.makeHandler(s.getStats))
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		w.Header().Set("Access-Control-Allow-Origin", "*")
		fn(w, r)
	}
}

// Serve blocks, listening on bindAddress. Intended to run in its own
// goroutine, same calling convention as babble's Service.Serve.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("serving introspection API")
	if err := http.ListenAndServe(s.bindAddress, s.mux); err != nil {
		s.logger.WithError(err).Error("introspection API stopped")
	}
}

// Handler exposes the mux for tests/embedding without binding a socket.
func (s *Service) Handler() http.Handler {
	return s.mux
}

type peerView struct {
	ID string `json:"id"`
}

func (s *Service) getPeers(w http.ResponseWriter, r *http.Request) {
	active := s.node.Peers()
	out := make([]peerView, 0, len(active))
	for _, p := range active {
		out = append(out, peerView{ID: p.ID.String()})
	}
	writeJSON(w, out)
}

func (s *Service) getPassive(w http.ResponseWriter, r *http.Request) {
	passive := s.node.PassivePeers()
	out := make([]string, 0, len(passive))
	for _, id := range passive {
		out = append(out, id.String())
	}
	writeJSON(w, out)
}

func (s *Service) getStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.StatsSnapshot())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
