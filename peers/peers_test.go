package peers

import (
	"math/rand"
	"testing"
)

type fakeConn struct{ id ID }

func (f *fakeConn) RemoteID() ID                  { return f.id }
func (f *fakeConn) Send([]byte) error             { return nil }
func (f *fakeConn) ForwardJoin(ID, uint8) error   { return nil }
func (f *fakeConn) Shuffle(ID, uint8, []ID) error { return nil }
func (f *fakeConn) Disconnect() error             { return nil }
func (f *fakeConn) Close() error                  { return nil }

func mustID(t *testing.T, port uint16) ID {
	t.Helper()
	id, err := NewID("127.0.0.1", port)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	return id
}

func TestActiveViewInsertIsIdempotent(t *testing.T) {
	v := NewActiveView(3)
	a := mustID(t, 7001)

	v.Insert(&Peer{ID: a, Conn: &fakeConn{id: a}})
	v.Insert(&Peer{ID: a, Conn: &fakeConn{id: a}})

	if v.Len() != 1 {
		t.Fatalf("expected idempotent insert, got len %d", v.Len())
	}
}

func TestActiveViewRemove(t *testing.T) {
	v := NewActiveView(3)
	a := mustID(t, 7001)
	v.Insert(&Peer{ID: a, Conn: &fakeConn{id: a}})

	if _, ok := v.Remove(a); !ok {
		t.Fatal("expected remove to find peer")
	}
	if v.Contains(a) {
		t.Fatal("peer still present after remove")
	}
	if _, ok := v.Remove(a); ok {
		t.Fatal("expected second remove to report absence")
	}
}

func TestPassiveViewDisjointAfterRemoveRandom(t *testing.T) {
	v := NewPassiveView(3)
	ids := []ID{mustID(t, 1), mustID(t, 2), mustID(t, 3)}
	for _, id := range ids {
		v.Add(id)
	}

	rng := rand.New(rand.NewSource(1))
	removed := v.RemoveRandom(rng, 2, nil)
	if len(removed) != 2 {
		t.Fatalf("expected 2 removed, got %d", len(removed))
	}
	if v.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", v.Len())
	}
	for _, id := range removed {
		if v.Contains(id) {
			t.Fatalf("removed id %v still present", id)
		}
	}
}

func TestPassiveViewRemoveRandomPrefersHint(t *testing.T) {
	v := NewPassiveView(5)
	a, b, c := mustID(t, 1), mustID(t, 2), mustID(t, 3)
	v.Add(a)
	v.Add(b)
	v.Add(c)

	rng := rand.New(rand.NewSource(2))
	removed := v.RemoveRandom(rng, 1, map[ID]bool{b: true})
	if len(removed) != 1 || removed[0] != b {
		t.Fatalf("expected hint-preferred removal of b, got %+v", removed)
	}
}

func TestSampleNeverExceedsPopulation(t *testing.T) {
	v := NewPassiveView(5)
	v.Add(mustID(t, 1))
	v.Add(mustID(t, 2))

	rng := rand.New(rand.NewSource(3))
	sample := v.Sample(rng, 10)
	if len(sample) != 2 {
		t.Fatalf("expected sample capped at population size 2, got %d", len(sample))
	}
}
