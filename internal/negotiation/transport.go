package negotiation

import (
	"encoding/json"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
)

// Transport is one peer connection. Calls come from the coordinator loop;
// events go back through the emit func handed to the factory, from any
// goroutine.
type Transport interface {
	// Signal applies one opaque negotiation payload from the remote side.
	Signal(data json.RawMessage) error
	// SetMedia swaps the outbound tracks, renegotiating as needed.
	SetMedia(stream *media.LocalStream) error
	Send(data []byte) error
	Destroy()
}

type TransportConfig struct {
	Peer        domain.PeerID
	Role        Role
	Media       *media.LocalStream
	DataChannel bool
}

type TransportFactory interface {
	NewTransport(cfg TransportConfig, emit func(TransportEvent)) (Transport, error)
}

type TransportFactoryFunc func(cfg TransportConfig, emit func(TransportEvent)) (Transport, error)

func (f TransportFactoryFunc) NewTransport(cfg TransportConfig, emit func(TransportEvent)) (Transport, error) {
	return f(cfg, emit)
}

// TransportEvent is the closed set of things a Transport reports.
type TransportEvent interface{ isTransportEvent() }

type (
	// SignalOut is a payload to forward to the remote peer.
	SignalOut struct{ Data json.RawMessage }
	StreamIn  struct{ Stream *media.RemoteStream }
	Connected struct{}
	// StateChanged carries the peer connection state name.
	StateChanged struct{ State string }
	ICEChanged   struct{ State string }
	DataIn       struct{ Data []byte }
	Closed       struct{}
	Failed       struct{ Err error }
)

func (SignalOut) isTransportEvent()    {}
func (StreamIn) isTransportEvent()     {}
func (Connected) isTransportEvent()    {}
func (StateChanged) isTransportEvent() {}
func (ICEChanged) isTransportEvent()   {}
func (DataIn) isTransportEvent()       {}
func (Closed) isTransportEvent()       {}
func (Failed) isTransportEvent()       {}

// Channel is the relay side the coordinator talks through.
type Channel interface {
	SendSignal(to domain.PeerID, data json.RawMessage) error
	SendControl(action string, data any) error
	Broadcast(data any) error
	SetDisplayName(name string) error
}
