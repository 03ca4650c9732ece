package domain

type RoomName string

// RoomInfo is a read-only view of one room for listings.
type RoomInfo struct {
	Name    RoomName `json:"name"`
	Members []PeerID `json:"members"`
	Waiting []PeerID `json:"waiting"`
	Hosts   []PeerID `json:"hosts"`
}
