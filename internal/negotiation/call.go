package negotiation

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type CallState string

const (
	CallIdle      CallState = "idle"
	CallCalling   CallState = "calling"
	CallRinging   CallState = "ringing"
	CallConnected CallState = "connected"
	CallEnded     CallState = "ended"
)

type CallOptions struct {
	Self       domain.PeerID
	Channel    Channel
	Transports TransportFactory
	// Media is nil for data-only calls.
	Media       media.Source
	DataChannel bool
	Poster      Poster
	// Spawn runs blocking work such as media acquisition. Defaults to a
	// new goroutine.
	Spawn    func(func())
	OnChange func(CallSnapshot)
	OnData   func(from domain.PeerID, data []byte)
}

type CallSnapshot struct {
	State           CallState
	Target          domain.PeerID
	Role            Role
	ConnectionState string
	ICEState        string
	Remote          *media.RemoteStream
	LocalMedia      bool
	RequestingMedia bool
	Err             error
}

// Call is the point-to-point coordinator. Its methods must run on the
// Poster's loop; Snapshot may be read from anywhere.
type Call struct {
	opts   CallOptions
	logger zerolog.Logger

	state  CallState
	target domain.PeerID
	role   Role
	sess   *session
	gen    uint64
	// outbound holds local payloads produced before a target was known.
	// Transports only exist once a target is set, so nothing public fills
	// it today; send keeps the queue so ordering survives if that changes.
	outbound []json.RawMessage
	media    localMedia
	err      error

	mu   sync.RWMutex
	snap CallSnapshot
}

func NewCall(opts CallOptions) *Call {
	if opts.Spawn == nil {
		opts.Spawn = func(fn func()) { go fn() }
	}
	c := &Call{
		opts:   opts,
		logger: log.With().Str("module", "negotiation.call").Str("self", string(opts.Self)).Logger(),
		state:  CallIdle,
		role:   Initiator,
		media:  localMedia{src: opts.Media, spawn: opts.Spawn, poster: opts.Poster},
	}
	c.publish()
	return c
}

func (c *Call) Snapshot() CallSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Call dials target: idle -> calling.
func (c *Call) Call(target domain.PeerID) error {
	switch c.state {
	case CallCalling, CallRinging, CallConnected:
		return ErrBusy
	}
	if target == "" || target == c.opts.Self {
		return ErrInvalidTarget
	}
	c.err = nil
	c.target = target
	c.role = Initiator
	c.state = CallCalling
	c.logger.Info().Str("target", string(target)).Msg("calling")
	c.flushOutbound()
	c.media.request(c.onMedia)
	c.maybeStart()
	c.publish()
	return nil
}

// Answer accepts a ringing call: ringing -> connected.
func (c *Call) Answer() error {
	if c.state != CallRinging {
		return ErrNotRinging
	}
	c.state = CallConnected
	c.role = Responder
	c.logger.Info().Str("target", string(c.target)).Msg("answered")
	c.media.request(c.onMedia)
	c.maybeStart()
	c.publish()
	return nil
}

// HangUp ends the call from this side and tells the remote one.
func (c *Call) HangUp() {
	if c.target != "" && c.state != CallIdle {
		if err := c.opts.Channel.SendSignal(c.target, bye); err != nil {
			c.logger.Debug().Err(err).Msg("bye not sent")
		}
	}
	c.teardown()
	c.state = CallIdle
	c.publish()
}

// Reset is HangUp that also clears the last error. Always legal.
func (c *Call) Reset() {
	c.HangUp()
	c.err = nil
	c.publish()
}

// SendData fails fast when no session was ever established.
func (c *Call) SendData(data []byte) error {
	if c.sess == nil || c.sess.transport == nil {
		return ErrNoSession
	}
	return c.sess.transport.Send(data)
}

func (c *Call) MuteAudio(muted bool) { c.media.stream.SetEnabled(webrtc.RTPCodecTypeAudio, !muted) }
func (c *Call) MuteVideo(muted bool) { c.media.stream.SetEnabled(webrtc.RTPCodecTypeVideo, !muted) }

// HandleEvent feeds one signaling event into the machine.
func (c *Call) HandleEvent(ev signaling.Event) {
	switch ev := ev.(type) {
	case signaling.SignalEvent:
		c.onSignal(ev.From, ev.Data)
	case signaling.ErrorEvent:
		if ev.Terminal {
			c.err = ev.Err
			c.publish()
		}
	}
}

func (c *Call) onSignal(from domain.PeerID, data json.RawMessage) {
	if signalKind(data) == "bye" {
		if from == c.target {
			c.logger.Info().Str("from", string(from)).Msg("remote hung up")
			c.teardown()
			c.state = CallIdle
			c.publish()
		}
		return
	}

	// Only an offer starts a call. Anything else with no live call is the
	// tail of one that already ended.
	if c.state == CallIdle || c.state == CallEnded {
		if kind := signalKind(data); kind != "offer" {
			c.logger.Debug().Str("from", string(from)).Str("kind", kind).Msg("signal with no live call, dropped")
			return
		}
		c.target = from
		c.role = Responder
		c.state = CallRinging
		c.flushOutbound()
		c.logger.Info().Str("from", string(from)).Msg("ringing")
	}
	if from != c.target {
		c.logger.Warn().Str("from", string(from)).Msg("signal from a third peer while busy, dropped")
		return
	}

	if c.glare(from, data) {
		c.publish()
		return
	}

	if c.sess == nil || c.sess.transport == nil {
		c.pending().inbound = append(c.pending().inbound, data)
		c.publish()
		return
	}
	c.apply(data)
	c.publish()
}

// glare resolves both sides calling each other at once. The side RoleOf
// names responder yields: it drops its own offer and answers the other.
// Reports whether data was consumed.
func (c *Call) glare(from domain.PeerID, data json.RawMessage) bool {
	if c.state != CallCalling || c.role != Initiator || signalKind(data) != "offer" {
		return false
	}
	if RoleOf(c.opts.Self, from) == Initiator {
		c.logger.Debug().Msg("glare: keeping our offer")
		return true
	}
	c.logger.Debug().Msg("glare: yielding to remote offer")
	c.gen++
	if c.sess != nil {
		c.sess.destroy()
		c.sess = nil
	}
	c.role = Responder
	c.state = CallConnected
	c.pending().inbound = append(c.pending().inbound, data)
	c.maybeStart()
	return true
}

// pending returns the session, creating a transportless one to queue into.
func (c *Call) pending() *session {
	if c.sess == nil {
		c.sess = newSession(c.target, c.role)
	}
	return c.sess
}

func (c *Call) maybeStart() {
	if c.state != CallCalling && c.state != CallConnected {
		return
	}
	if c.target == "" || !c.media.ready() {
		return
	}
	if c.sess != nil && c.sess.transport != nil {
		return
	}
	s := c.pending()
	s.role = c.role

	c.gen++
	gen := c.gen
	emit := func(ev TransportEvent) {
		c.opts.Poster.Post(func() { c.onTransport(gen, ev) })
	}
	t, err := c.opts.Transports.NewTransport(TransportConfig{
		Peer:        c.target,
		Role:        c.role,
		Media:       c.media.stream,
		DataChannel: c.opts.DataChannel,
	}, emit)
	if err != nil {
		c.fail(&SessionError{Op: "create transport", Peer: c.target, Err: err})
		return
	}
	c.logger.Debug().Str("peer", string(c.target)).Stringer("role", c.role).Msg("transport created")
	for _, data := range s.attach(t, gen) {
		if c.sess != s {
			return
		}
		c.apply(data)
	}
}

func (c *Call) apply(data json.RawMessage) {
	if err := c.sess.transport.Signal(data); err != nil {
		c.fail(&SessionError{Op: "apply signal", Peer: c.target, Err: err})
	}
}

func (c *Call) flushOutbound() {
	queued := c.outbound
	c.outbound = nil
	for _, data := range queued {
		c.send(data)
	}
}

func (c *Call) send(data json.RawMessage) {
	if c.target == "" {
		c.outbound = append(c.outbound, data)
		return
	}
	if err := c.opts.Channel.SendSignal(c.target, data); err != nil {
		c.logger.Warn().Err(err).Msg("signal not sent")
	}
}

func (c *Call) onMedia(stream *media.LocalStream, err error) {
	if err != nil {
		c.fail(&SessionError{Op: "acquire media", Peer: c.target, Err: err})
		return
	}
	if c.sess != nil && c.sess.transport != nil {
		if err := c.sess.transport.SetMedia(stream); err != nil {
			c.fail(&SessionError{Op: "set media", Peer: c.target, Err: err})
			return
		}
	}
	c.maybeStart()
	c.publish()
}

func (c *Call) onTransport(gen uint64, ev TransportEvent) {
	if c.sess == nil || c.sess.gen != gen || c.sess.transport == nil {
		c.logger.Debug().Uint64("gen", gen).Msg("stale transport event dropped")
		return
	}
	switch ev := ev.(type) {
	case SignalOut:
		c.send(ev.Data)
	case StreamIn:
		c.sess.remote = ev.Stream
	case Connected:
		c.sess.connState = StateConnected
		if c.state == CallCalling {
			c.state = CallConnected
		}
	case StateChanged:
		c.sess.connState = ev.State
	case ICEChanged:
		c.sess.iceState = ev.State
	case DataIn:
		if c.opts.OnData != nil {
			c.opts.OnData(c.target, ev.Data)
		}
	case Closed:
		c.logger.Info().Msg("transport closed")
		c.teardown()
		c.state = CallEnded
	case Failed:
		c.fail(&SessionError{Op: "transport", Peer: c.target, Err: ev.Err})
		return
	}
	c.publish()
}

// fail records err and returns to idle.
func (c *Call) fail(err error) {
	c.logger.Warn().Err(err).Msg("call failed")
	c.err = err
	c.teardown()
	c.state = CallIdle
	c.publish()
}

func (c *Call) teardown() {
	c.gen++
	if c.sess != nil {
		c.sess.destroy()
		c.sess = nil
	}
	c.target = ""
	c.outbound = nil
	c.role = Initiator
	c.media.stop()
}

func (c *Call) publish() {
	snap := CallSnapshot{
		State:           c.state,
		Target:          c.target,
		Role:            c.role,
		ConnectionState: StateNew,
		ICEState:        StateNew,
		LocalMedia:      c.media.stream != nil,
		RequestingMedia: c.media.requesting,
		Err:             c.err,
	}
	if c.sess != nil {
		snap.ConnectionState = c.sess.connState
		snap.ICEState = c.sess.iceState
		snap.Remote = c.sess.remote
	}
	c.mu.Lock()
	changed := snapChanged(c.snap, snap)
	c.snap = snap
	c.mu.Unlock()
	if changed && c.opts.OnChange != nil {
		c.opts.OnChange(snap)
	}
}

func snapChanged(a, b CallSnapshot) bool {
	return a.State != b.State || a.Target != b.Target || a.Role != b.Role ||
		a.ConnectionState != b.ConnectionState || a.ICEState != b.ICEState ||
		a.Remote != b.Remote || a.LocalMedia != b.LocalMedia ||
		a.RequestingMedia != b.RequestingMedia || !errors.Is(a.Err, b.Err)
}
