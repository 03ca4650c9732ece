// Package wire holds the JSON text frames exchanged between peers and the relay.
package wire

import (
	"encoding/json"

	"github.com/rs/zerolog/log"
)

type MessageType string

const (
	TypeSignal    MessageType = "signal"
	TypeBroadcast MessageType = "broadcast"
	TypeControl   MessageType = "control"
	TypePresence  MessageType = "presence"
	TypeError     MessageType = "error"
)

// ServerSender is the "from" of control messages the relay originates.
const ServerSender = "server"

// Control actions sent by clients.
const (
	ActionAdmit          = "admit"
	ActionReject         = "reject"
	ActionRaiseHand      = "raise-hand"
	ActionHandLowered    = "hand-lowered"
	ActionHandoffHost    = "handoff-host"
	ActionSetDisplayName = "set-display-name"
)

// Control actions sent by the relay.
const (
	ActionWaiting            = "waiting"
	ActionWaitingList        = "waiting-list"
	ActionAdmitted           = "admitted"
	ActionRejected           = "rejected"
	ActionHostPromoted       = "host-promoted"
	ActionHostDemoted        = "host-demoted"
	ActionHostBlocked        = "host-blocked"
	ActionDisplayNameChanged = "display-name-changed"
)

const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// Inbound is a client to relay frame.
type Inbound struct {
	Type   MessageType     `json:"type"`
	To     string          `json:"to,omitempty"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Outbound is a relay to client frame. Which fields are set depends on Type.
type Outbound struct {
	Type             MessageType       `json:"type"`
	From             string            `json:"from,omitempty"`
	Room             string            `json:"room,omitempty"`
	PeerID           string            `json:"peerId,omitempty"`
	DisplayName      string            `json:"displayName,omitempty"`
	Peers            []string          `json:"peers,omitempty"`
	PeerDisplayNames map[string]string `json:"peerDisplayNames,omitempty"`
	Action           string            `json:"action,omitempty"`
	Data             json.RawMessage   `json:"data,omitempty"`
	Message          string            `json:"message,omitempty"`
}

// Control payloads.
type (
	PeerRef struct {
		PeerID string `json:"peerId"`
	}
	WaitingPosition struct {
		Position int `json:"position"`
	}
	WaitingList struct {
		Waiting []string `json:"waiting"`
	}
	HostBlocked struct {
		HostID string `json:"hostId"`
	}
	DisplayName struct {
		DisplayName string `json:"displayName"`
	}
	DisplayNameChanged struct {
		PeerID           string            `json:"peerId"`
		DisplayName      string            `json:"displayName"`
		PeerDisplayNames map[string]string `json:"peerDisplayNames"`
	}
)

func Signal(from string, data json.RawMessage) Outbound {
	return Outbound{Type: TypeSignal, From: from, Data: data}
}

func Broadcast(from, room string, data json.RawMessage) Outbound {
	return Outbound{Type: TypeBroadcast, From: from, Room: room, Data: data}
}

func Presence(action, room, peerID, displayName string, peers []string, names map[string]string) Outbound {
	return Outbound{
		Type:             TypePresence,
		Action:           action,
		Room:             room,
		PeerID:           peerID,
		DisplayName:      displayName,
		Peers:            peers,
		PeerDisplayNames: names,
	}
}

func Control(from, room, action string, data any) Outbound {
	return Outbound{Type: TypeControl, From: from, Room: room, Action: action, Data: Raw(data)}
}

func Error(message string) Outbound {
	return Outbound{Type: TypeError, Message: message}
}

// Raw marshals v for embedding as a data field. nil stays absent.
func Raw(v any) json.RawMessage {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Str("module", "wire").Err(err).Msg("marshal payload")
		return nil
	}
	return b
}
