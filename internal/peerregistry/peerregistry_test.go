package peerregistry

import (
	"testing"

	"github.com/tomtom215/parkfabric/internal/model"
)

func TestSelf(t *testing.T) {
	r := New("c1", "10.0.0.1", 9000)
	id, ip, port := r.Self()
	if id != "c1" || ip != "10.0.0.1" || port != 9000 {
		t.Errorf("Self() = (%q, %q, %d), want (c1, 10.0.0.1, 9000)", id, ip, port)
	}
}

func TestAddPeerThenPeerLookup(t *testing.T) {
	r := New("c1", "10.0.0.1", 9000)
	r.AddPeer(model.PeerRecord{PeerID: "c2", Host: "10.0.0.2", Port: 9000})

	p, ok := r.Peer("c2")
	if !ok {
		t.Fatal("expected peer c2 to be registered")
	}
	if p.Host != "10.0.0.2" {
		t.Errorf("Host = %q, want 10.0.0.2", p.Host)
	}

	if _, ok := r.Peer("unknown"); ok {
		t.Error("expected lookup of unknown peer to fail")
	}
}

func TestAddPeerUpdatesExisting(t *testing.T) {
	r := New("c1", "", 0)
	r.AddPeer(model.PeerRecord{PeerID: "c2", Host: "10.0.0.2", Port: 9000})
	r.AddPeer(model.PeerRecord{PeerID: "c2", Host: "10.0.0.99", Port: 9001})

	p, _ := r.Peer("c2")
	if p.Host != "10.0.0.99" || p.Port != 9001 {
		t.Errorf("expected AddPeer to update in place, got %+v", p)
	}
	if len(r.Peers()) != 1 {
		t.Errorf("expected exactly one peer record after update, got %d", len(r.Peers()))
	}
}

func TestRemovePeer(t *testing.T) {
	r := New("c1", "", 0)
	r.AddPeer(model.PeerRecord{PeerID: "c2"})
	r.RemovePeer("c2")
	if _, ok := r.Peer("c2"); ok {
		t.Error("expected peer to be removed")
	}
}

func TestSetPeerStatusOnlyAffectsKnownPeers(t *testing.T) {
	r := New("c1", "", 0)
	r.AddPeer(model.PeerRecord{PeerID: "c2", Status: model.PeerStatusUnknown})

	r.SetPeerStatus("c2", model.PeerStatusHealthy)
	p, _ := r.Peer("c2")
	if p.Status != model.PeerStatusHealthy {
		t.Errorf("Status = %v, want PeerStatusHealthy", p.Status)
	}

	// Setting status on an unregistered peer must not create a record.
	r.SetPeerStatus("ghost", model.PeerStatusHealthy)
	if _, ok := r.Peer("ghost"); ok {
		t.Error("expected SetPeerStatus to be a no-op for an unknown peer")
	}
}

func TestAddr(t *testing.T) {
	if got := Addr("10.0.0.1", 9000); got != "10.0.0.1:9000" {
		t.Errorf("Addr() = %q, want 10.0.0.1:9000", got)
	}
}

func TestDiscoverSelfIPReturnsNonEmpty(t *testing.T) {
	ip := DiscoverSelfIP()
	if ip == "" {
		t.Error("expected DiscoverSelfIP to always return a non-empty address (falls back to loopback)")
	}
}
