package negotiation

import (
	"slices"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
)

// RoomView is what the relay has told us about the room.
type RoomView struct {
	Self   domain.PeerID
	Roster []domain.PeerID
	Names  map[domain.PeerID]string
	Hands  map[domain.PeerID]bool
	Active domain.PeerID
}

// SessionView is the public face of one session.
type SessionView struct {
	Peer            domain.PeerID
	Role            Role
	ConnectionState string
	ICEState        string
	Remote          *media.RemoteStream
	// Pending is set while the transport waits on local media.
	Pending bool
}

type Participant struct {
	PeerID          domain.PeerID
	DisplayName     string
	Self            bool
	HandRaised      bool
	Speaking        bool
	ConnectionState string
	Remote          *media.RemoteStream
}

// Project merges the roster and the sessions into one ordered list: self
// first, then roster order, then sessions for peers the roster lacks.
func Project(view RoomView, sessions []SessionView) []Participant {
	byPeer := make(map[domain.PeerID]SessionView, len(sessions))
	for _, s := range sessions {
		byPeer[s.Peer] = s
	}
	seen := make(map[domain.PeerID]bool, len(view.Roster)+1)
	out := make([]Participant, 0, len(view.Roster)+1)

	add := func(id domain.PeerID) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		p := Participant{
			PeerID:      id,
			DisplayName: view.Names[id],
			Self:        id == view.Self,
			HandRaised:  view.Hands[id],
			Speaking:    id == view.Active,
		}
		if p.DisplayName == "" {
			p.DisplayName = string(id)
		}
		if s, ok := byPeer[id]; ok {
			p.ConnectionState = s.ConnectionState
			p.Remote = s.Remote
		}
		out = append(out, p)
	}

	add(view.Self)
	for _, id := range view.Roster {
		add(id)
	}
	var extra []domain.PeerID
	for id := range byPeer {
		if !seen[id] {
			extra = append(extra, id)
		}
	}
	slices.Sort(extra)
	for _, id := range extra {
		add(id)
	}
	return out
}
