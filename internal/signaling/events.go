package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/wire"
)

// Event is one of the closed set of things a Client reports.
type Event interface{ isEvent() }

type (
	OpenEvent  struct{}
	CloseEvent struct {
		Code   int
		Reason string
	}
	// ErrorEvent with Terminal set means the client gave up reconnecting.
	ErrorEvent struct {
		Err      error
		Terminal bool
	}
	SignalEvent struct {
		From domain.PeerID
		Data json.RawMessage
	}
	BroadcastEvent struct {
		From domain.PeerID
		Room domain.RoomName
		Data json.RawMessage
	}
	PresenceEvent struct {
		Action      string
		Room        domain.RoomName
		PeerID      domain.PeerID
		DisplayName string
		Peers       []domain.PeerID
		Names       map[domain.PeerID]string
	}
	ControlEvent struct {
		From   domain.PeerID
		Room   domain.RoomName
		Action string
		Data   json.RawMessage
	}
)

func (OpenEvent) isEvent()      {}
func (CloseEvent) isEvent()     {}
func (ErrorEvent) isEvent()     {}
func (SignalEvent) isEvent()    {}
func (BroadcastEvent) isEvent() {}
func (PresenceEvent) isEvent()  {}
func (ControlEvent) isEvent()   {}

// RelayError is an {type:"error"} frame from the relay.
type RelayError struct {
	Message string
}

func (e *RelayError) Error() string { return "relay: " + e.Message }

var ErrUnknownFrame = errors.New("signaling: unknown frame type")

// Decode maps one relay frame to its event.
func Decode(raw []byte) (Event, error) {
	var msg wire.Outbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("signaling: decode frame: %w", err)
	}
	switch msg.Type {
	case wire.TypeSignal:
		return SignalEvent{From: domain.PeerID(msg.From), Data: msg.Data}, nil
	case wire.TypeBroadcast:
		return BroadcastEvent{From: domain.PeerID(msg.From), Room: domain.RoomName(msg.Room), Data: msg.Data}, nil
	case wire.TypePresence:
		ev := PresenceEvent{
			Action:      msg.Action,
			Room:        domain.RoomName(msg.Room),
			PeerID:      domain.PeerID(msg.PeerID),
			DisplayName: msg.DisplayName,
			Peers:       make([]domain.PeerID, len(msg.Peers)),
			Names:       make(map[domain.PeerID]string, len(msg.PeerDisplayNames)),
		}
		for i, p := range msg.Peers {
			ev.Peers[i] = domain.PeerID(p)
		}
		for id, name := range msg.PeerDisplayNames {
			ev.Names[domain.PeerID(id)] = name
		}
		return ev, nil
	case wire.TypeControl:
		return ControlEvent{From: domain.PeerID(msg.From), Room: domain.RoomName(msg.Room), Action: msg.Action, Data: msg.Data}, nil
	case wire.TypeError:
		return ErrorEvent{Err: &RelayError{Message: msg.Message}}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, msg.Type)
	}
}
