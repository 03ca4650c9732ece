package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DataChannelLabel = "meshcall"

var (
	ErrChannelNotOpen = errors.New("rtc: data channel is not open")
	ErrDestroyed      = errors.New("rtc: connection destroyed")
)

// renegotiate asks the initiator for a fresh offer. Only the initiator
// ever offers, so a responder whose tracks changed sends this instead.
var renegotiate = json.RawMessage(`{"type":"renegotiate"}`)

// Connection is a negotiation.Transport over one pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	role   negotiation.Role
	out    func(negotiation.TransportEvent)
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	meters *media.Meters

	mu          sync.Mutex
	dc          *webrtc.DataChannel
	senders     map[string]*webrtc.RTPSender
	candidates  []webrtc.ICECandidateInit
	remote      *media.RemoteStream
	makingOffer bool
	pending     bool
	closed      bool
}

func newConnection(pc *webrtc.PeerConnection, tc negotiation.TransportConfig, emit func(negotiation.TransportEvent)) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		pc:      pc,
		peer:    tc.Peer,
		role:    tc.Role,
		out:     emit,
		logger:  log.With().Str("module", "webrtc").Str("peer", string(tc.Peer)).Stringer("role", tc.Role).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		meters:  media.NewMeters(),
		senders: make(map[string]*webrtc.RTPSender),
	}
}

// emit drops events once the connection is destroyed.
func (c *Connection) emit(ev negotiation.TransportEvent) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		c.out(ev)
	}
}

func (c *Connection) start(tc negotiation.TransportConfig) error {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Debug().Str("ice_state", s.String()).Msg("ICE state")
		c.emit(negotiation.ICEChanged{State: s.String()})
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.emit(negotiation.StateChanged{State: s.String()})
		switch s {
		case webrtc.PeerConnectionStateConnected:
			c.emit(negotiation.Connected{})
		case webrtc.PeerConnectionStateFailed:
			c.emit(negotiation.Failed{Err: errors.New("rtc: peer connection failed")})
		case webrtc.PeerConnectionStateClosed:
			c.emit(negotiation.Closed{})
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		data, err := json.Marshal(cand.ToJSON())
		if err != nil {
			c.logger.Error().Err(err).Msg("marshal candidate")
			return
		}
		c.emit(negotiation.SignalOut{Data: data})
	})

	c.pc.OnTrack(c.onTrack)

	c.pc.OnNegotiationNeeded(func() {
		if c.role != negotiation.Initiator {
			c.logger.Debug().Msg("local tracks changed, asking initiator to renegotiate")
			c.emit(negotiation.SignalOut{Data: renegotiate})
			return
		}
		c.negotiate()
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if c.role != negotiation.Initiator || s != webrtc.SignalingStateStable {
			return
		}
		c.mu.Lock()
		again := c.pending
		c.pending = false
		c.mu.Unlock()
		if again {
			c.negotiate()
		}
	})

	if c.role == negotiation.Initiator {
		if tc.DataChannel {
			ordered := true
			dc, err := c.pc.CreateDataChannel(DataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
			if err != nil {
				return fmt.Errorf("rtc: create data channel: %w", err)
			}
			c.wireDataChannel(dc)
		}
		// an audio m-line the responder can fill later without offering
		if !hasKind(tc.Media, webrtc.RTPCodecTypeAudio) {
			if _, err := c.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
				webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
				return fmt.Errorf("rtc: add audio transceiver: %w", err)
			}
		}
	} else {
		c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() != DataChannelLabel {
				return
			}
			c.wireDataChannel(dc)
		})
	}

	if err := c.SetMedia(tc.Media); err != nil {
		return err
	}
	if c.role == negotiation.Initiator {
		c.negotiate()
	}
	return nil
}

func (c *Connection) wireDataChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()
	dc.OnOpen(func() {
		c.logger.Debug().Str("label", dc.Label()).Msg("data channel open")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.emit(negotiation.DataIn{Data: msg.Data})
	})
}

// negotiate sends an offer unless one is in flight or the signaling state
// is mid exchange; then it runs again once the state returns to stable.
func (c *Connection) negotiate() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.makingOffer || c.pc.SignalingState() != webrtc.SignalingStateStable {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.makingOffer = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.makingOffer = false
		c.mu.Unlock()
	}()

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		c.emit(negotiation.Failed{Err: fmt.Errorf("rtc: create offer: %w", err)})
		return
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		c.emit(negotiation.Failed{Err: fmt.Errorf("rtc: set local offer: %w", err)})
		return
	}
	c.sendDescription(c.pc.LocalDescription())
}

func (c *Connection) sendDescription(desc *webrtc.SessionDescription) {
	if desc == nil {
		return
	}
	data, err := json.Marshal(desc)
	if err != nil {
		c.logger.Error().Err(err).Msg("marshal description")
		return
	}
	c.emit(negotiation.SignalOut{Data: data})
}

// Signal applies a description, a renegotiation request or a candidate.
func (c *Connection) Signal(data json.RawMessage) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("rtc: decode signal: %w", err)
	}

	switch head.Type {
	case "renegotiate":
		if c.role == negotiation.Initiator {
			c.negotiate()
		}
		return nil
	case "":
		var cand webrtc.ICECandidateInit
		if err := json.Unmarshal(data, &cand); err != nil {
			return fmt.Errorf("rtc: decode candidate: %w", err)
		}
		return c.addCandidate(cand)
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(data, &desc); err != nil {
		return fmt.Errorf("rtc: decode description: %w", err)
	}
	if err := c.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("rtc: set remote %s: %w", desc.Type, err)
	}
	if err := c.flushCandidates(); err != nil {
		return err
	}
	if desc.Type != webrtc.SDPTypeOffer {
		return nil
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("rtc: create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("rtc: set local answer: %w", err)
	}
	c.sendDescription(c.pc.LocalDescription())
	return nil
}

// addCandidate buffers candidates that beat the remote description.
func (c *Connection) addCandidate(cand webrtc.ICECandidateInit) error {
	if c.pc.RemoteDescription() == nil {
		c.mu.Lock()
		c.candidates = append(c.candidates, cand)
		c.mu.Unlock()
		return nil
	}
	if err := c.pc.AddICECandidate(cand); err != nil {
		return fmt.Errorf("rtc: add candidate: %w", err)
	}
	return nil
}

func (c *Connection) flushCandidates() error {
	c.mu.Lock()
	queued := c.candidates
	c.candidates = nil
	c.mu.Unlock()
	for _, cand := range queued {
		if err := c.pc.AddICECandidate(cand); err != nil {
			return fmt.Errorf("rtc: add buffered candidate: %w", err)
		}
	}
	return nil
}

// SetMedia adds tracks new to stream and removes those it no longer has.
// Pion then fires negotiationneeded.
func (c *Connection) SetMedia(stream *media.LocalStream) error {
	want := make(map[string]webrtc.TrackLocal)
	for _, t := range stream.TrackLocals() {
		want[t.ID()] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrDestroyed
	}
	for id, sender := range c.senders {
		if _, ok := want[id]; ok {
			continue
		}
		if err := c.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("rtc: remove track %s: %w", id, err)
		}
		delete(c.senders, id)
	}
	for id, track := range want {
		if _, ok := c.senders[id]; ok {
			continue
		}
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("rtc: add track %s: %w", id, err)
		}
		c.senders[id] = sender
		go drainRTCP(sender)
	}
	return nil
}

func hasKind(stream *media.LocalStream, kind webrtc.RTPCodecType) bool {
	for _, t := range stream.TrackLocals() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

// drainRTCP keeps interceptors fed; pion needs RTCP read for that.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *Connection) onTrack(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
	c.logger.Info().
		Str("kind", track.Kind().String()).
		Str("track_id", track.ID()).
		Str("stream_id", track.StreamID()).
		Msg("OnTrack received")

	if track.Kind() == webrtc.RTPCodecTypeAudio {
		read := func() (*rtp.Packet, error) {
			pkt, _, err := track.ReadRTP()
			return pkt, err
		}
		c.meters.Start(c.ctx, track.ID(), read, audioLevelID(receiver))
	} else {
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	}

	c.mu.Lock()
	next := &media.RemoteStream{ID: track.StreamID(), Audio: c.meters}
	if c.remote != nil {
		next.Kinds = append(next.Kinds, c.remote.Kinds...)
	}
	if !next.HasKind(track.Kind()) {
		next.Kinds = append(next.Kinds, track.Kind())
	}
	c.remote = next
	c.mu.Unlock()

	c.emit(negotiation.StreamIn{Stream: next})
}

func audioLevelID(receiver *webrtc.RTPReceiver) uint8 {
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == media.AudioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	dc, closed := c.dc, c.closed
	c.mu.Unlock()
	if closed {
		return ErrDestroyed
	}
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

// Destroy closes the peer connection. No events are emitted after it.
func (c *Connection) Destroy() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.meters.StopAll()
	if err := c.pc.Close(); err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
}
