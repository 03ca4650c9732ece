package app

import (
	"slices"
	"testing"

	"github.com/dkeye/meshcall/internal/core/coretest"
	"github.com/dkeye/meshcall/internal/domain"
)

func member(id, room string) *domain.Member {
	return domain.NewMember(domain.PeerID(id), domain.RoomName(room), "", false, false)
}

func TestRegistryRegisterReplaces(t *testing.T) {
	r := NewRegistry()
	first, _ := coretest.Session("s1", member("a", "r"))
	second, _ := coretest.Session("s2", member("a", "r"))

	if _, replaced := r.Register(first); replaced {
		t.Fatal("first register must not replace")
	}
	prev, replaced := r.Register(second)
	if !replaced || prev.ID() != "s1" {
		t.Fatalf("want s1 replaced, got %v %v", prev, replaced)
	}
	if r.UnregisterConn(first) {
		t.Fatal("stale socket must not unregister the live one")
	}
	if !r.IsCurrent(second) {
		t.Fatal("second should be current")
	}
	if !r.UnregisterConn(second) {
		t.Fatal("live socket should unregister")
	}
	if _, ok := r.Get("a"); ok {
		t.Fatal("peer still registered")
	}
}

func TestRegistryUnregisterByPeer(t *testing.T) {
	r := NewRegistry()
	host := domain.NewMember("h", "r", "", true, false)
	hs, _ := coretest.Session("s1", host)
	ws, _ := coretest.Session("s2", member("w", "r"))
	r.Register(hs)
	r.Register(ws)
	r.AddMember("r", "h")
	r.AddWaiter("r", "w")

	if got := r.HostsOf("r"); len(got) != 1 || got[0].ID() != "s1" {
		t.Fatalf("hosts %v", got)
	}
	if !r.Unregister("h") {
		t.Fatal("live peer should unregister")
	}
	if r.Unregister("h") {
		t.Fatal("second unregister should be a no-op")
	}
	if _, ok := r.Get("h"); ok || r.IsMember("r", "h") || len(r.HostsOf("r")) != 0 {
		t.Fatal("host still present after unregister")
	}
	if !r.Unregister("w") || r.IsWaiting("r", "w") {
		t.Fatal("waiter still queued after unregister")
	}
	if len(r.Rooms()) != 0 {
		t.Fatalf("rooms %+v, want none", r.Rooms())
	}
	if r.Unregister("nobody") {
		t.Fatal("unknown peer should report false")
	}
}

func TestRegistryMembersAndWaitersAreExclusive(t *testing.T) {
	r := NewRegistry()
	room := domain.RoomName("r")

	if pos := r.AddWaiter(room, "w1"); pos != 1 {
		t.Fatalf("position %d", pos)
	}
	if pos := r.AddWaiter(room, "w2"); pos != 2 {
		t.Fatalf("position %d", pos)
	}
	r.AddMember(room, "w1")
	if r.IsWaiting(room, "w1") || !r.IsMember(room, "w1") {
		t.Fatal("admitted peer must leave the waiting set")
	}
	if got := r.WaitersOf(room); !slices.Equal(got, []domain.PeerID{"w2"}) {
		t.Fatalf("waiters %v", got)
	}
	r.AddWaiter(room, "w1")
	if r.IsMember(room, "w1") {
		t.Fatal("waiting peer must not be a member")
	}
}

func TestRegistryForgetsEmptyRooms(t *testing.T) {
	r := NewRegistry()
	room := domain.RoomName("r")
	r.AddMember(room, "a")
	r.AddMember(room, "b")
	r.RemoveMember(room, "a")
	r.RemoveMember(room, "b")
	if got := r.Rooms(); len(got) != 0 {
		t.Fatalf("rooms %v", got)
	}
	if r.RemoveMember(room, "b") {
		t.Fatal("double remove should report false")
	}
}

func TestRegistryRoomsListing(t *testing.T) {
	r := NewRegistry()
	host := domain.NewMember("h", "beta", "", true, false)
	hs, _ := coretest.Session("s1", host)
	r.Register(hs)
	r.AddMember("beta", "h")
	r.AddWaiter("beta", "w")
	r.AddWaiter("alpha", "x")

	rooms := r.Rooms()
	if len(rooms) != 2 || rooms[0].Name != "alpha" || rooms[1].Name != "beta" {
		t.Fatalf("rooms %+v", rooms)
	}
	if len(rooms[0].Members) != 0 || rooms[0].Members == nil {
		t.Fatalf("alpha members must be empty, not nil: %+v", rooms[0])
	}
	if !slices.Equal(rooms[1].Hosts, []domain.PeerID{"h"}) {
		t.Fatalf("hosts %v", rooms[1].Hosts)
	}
}

func TestPeerSetKeepsInsertionOrder(t *testing.T) {
	s := NewPeerSet()
	for _, id := range []domain.PeerID{"c", "a", "b"} {
		s.Add(id)
	}
	if s.Add("a") {
		t.Fatal("duplicate add")
	}
	s.Remove("a")
	if got := s.List(); !slices.Equal(got, []domain.PeerID{"c", "b"}) {
		t.Fatalf("order %v", got)
	}
	if s.Position("b") != 2 || s.Position("zz") != 0 {
		t.Fatal("positions")
	}
}
