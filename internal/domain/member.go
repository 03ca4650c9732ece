package domain

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	PeerID      PeerID
	DisplayName string
	Room        RoomName
	IsHost      bool
	// WaitingRoom is what the socket asked for at connect time.
	WaitingRoom bool
	Admitted    bool
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(id PeerID, room RoomName, displayName string, host, waitingRoom bool) *Member {
	return &Member{
		PeerID:      id,
		DisplayName: displayName,
		Room:        room,
		IsHost:      host,
		WaitingRoom: waitingRoom,
	}
}

// Gated reports whether this member has to pass the waiting room first.
func (m *Member) Gated() bool {
	return m.Room != "" && m.WaitingRoom && !m.IsHost
}
