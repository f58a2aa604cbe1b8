package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/mosaicnetworks/hyparview/peers"
)

type fakeNode struct {
	peers   []peers.Peer
	passive []peers.ID
	stats   interface{}
}

func (f *fakeNode) Peers() []peers.Peer        { return f.peers }
func (f *fakeNode) PassivePeers() []peers.ID   { return f.passive }
func (f *fakeNode) StatsSnapshot() interface{} { return f.stats }

func mustID(t *testing.T, port uint16) peers.ID {
	t.Helper()
	id, err := peers.NewID("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestGetPeersReturnsActiveView(t *testing.T) {
	id := mustID(t, 7001)
	node := &fakeNode{peers: []peers.Peer{{ID: id}}}
	logger := logrus.NewEntry(logrus.New())
	svc := NewService("127.0.0.1:0", node, logger)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/peers", nil)
	svc.Handler().ServeHTTP(rec, req)

	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected CORS header to be set")
	}

	var out []peerView
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0].ID != id.String() {
		t.Fatalf("unexpected peers payload: %+v", out)
	}
}

func TestGetPassiveReturnsSnapshot(t *testing.T) {
	id := mustID(t, 7002)
	node := &fakeNode{passive: []peers.ID{id}}
	svc := NewService("127.0.0.1:0", node, logrus.NewEntry(logrus.New()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/passive", nil)
	svc.Handler().ServeHTTP(rec, req)

	var out []string
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 1 || out[0] != id.String() {
		t.Fatalf("unexpected passive payload: %+v", out)
	}
}

func TestGetStatsEncodesWhateverTheNodeReturns(t *testing.T) {
	node := &fakeNode{stats: map[string]int{"shuffle_count": 3}}
	svc := NewService("127.0.0.1:0", node, logrus.NewEntry(logrus.New()))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	svc.Handler().ServeHTTP(rec, req)

	var out map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out["shuffle_count"] != 3 {
		t.Fatalf("unexpected stats payload: %+v", out)
	}
}
