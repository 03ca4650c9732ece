package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/signaling"
	"github.com/dkeye/meshcall/internal/speaker"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Features toggles optional room behavior. The zero value is not the
// default; use DefaultFeatures.
type Features struct {
	DataChannel   bool
	WaitingRoom   bool
	HostControls  bool
	ActiveSpeaker bool
}

func DefaultFeatures() Features {
	return Features{DataChannel: true}
}

type MeshOptions struct {
	Self     domain.PeerID
	Room     domain.RoomName
	Host     bool
	Features Features

	Channel    Channel
	Transports TransportFactory
	// Media is nil for data-only rooms.
	Media  media.Source
	Poster Poster
	Spawn  func(func())

	Speaker speaker.Config

	OnChange    func(MeshSnapshot)
	OnData      func(from domain.PeerID, data []byte)
	OnBroadcast func(from domain.PeerID, data json.RawMessage)
}

// MeshSnapshot is a copy of the mesh state for readers off the loop.
type MeshSnapshot struct {
	Status          signaling.Status
	Room            RoomView
	Sessions        []SessionView
	WaitingList     []domain.PeerID
	InWaitingRoom   bool
	IsHost          bool
	LocalMedia      bool
	RequestingMedia bool
	Err             error
}

// Participants projects the snapshot into roster entries.
func (s MeshSnapshot) Participants() []Participant {
	return Project(s.Room, s.Sessions)
}

// Mesh keeps one session per other room member. Its methods must run on
// the Poster's loop; Snapshot may be read from anywhere.
type Mesh struct {
	opts   MeshOptions
	logger zerolog.Logger

	sessions map[domain.PeerID]*session
	gen      uint64
	media    localMedia

	status      signaling.Status
	roster      []domain.PeerID
	names       map[domain.PeerID]string
	waitingList []domain.PeerID
	inWaiting   bool
	isHost      bool
	hands       map[domain.PeerID]bool
	detector    *speaker.Detector
	active      domain.PeerID
	mediaFailed bool
	left        bool
	err         error

	mu   sync.RWMutex
	snap MeshSnapshot
}

func NewMesh(opts MeshOptions) *Mesh {
	if opts.Spawn == nil {
		opts.Spawn = func(fn func()) { go fn() }
	}
	m := &Mesh{
		opts:      opts,
		logger:    log.With().Str("module", "negotiation.mesh").Str("self", string(opts.Self)).Str("room", string(opts.Room)).Logger(),
		sessions:  make(map[domain.PeerID]*session),
		media:     localMedia{src: opts.Media, spawn: opts.Spawn, poster: opts.Poster},
		names:     make(map[domain.PeerID]string),
		hands:     make(map[domain.PeerID]bool),
		detector:  speaker.NewDetector(opts.Speaker),
		isHost:    opts.Host,
		inWaiting: opts.Features.WaitingRoom && !opts.Host,
	}
	m.publish()
	return m
}

func (m *Mesh) Snapshot() MeshSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Handle feeds one signaling event into the mesh.
func (m *Mesh) Handle(ev signaling.Event) {
	if m.left {
		return
	}
	switch ev := ev.(type) {
	case signaling.OpenEvent:
		m.status = signaling.StatusOpen
	case signaling.CloseEvent:
		m.status = signaling.StatusClosed
	case signaling.ErrorEvent:
		m.err = ev.Err
	case signaling.PresenceEvent:
		m.onPresence(ev)
	case signaling.ControlEvent:
		m.onControl(ev)
	case signaling.SignalEvent:
		m.onSignal(ev.From, ev.Data)
	case signaling.BroadcastEvent:
		if m.opts.OnBroadcast != nil {
			m.opts.OnBroadcast(ev.From, ev.Data)
		}
	}
	m.publish()
}

func (m *Mesh) onPresence(ev signaling.PresenceEvent) {
	if ev.Room != "" && m.opts.Room != "" && ev.Room != m.opts.Room {
		return
	}
	m.roster = slices.Clone(ev.Peers)
	m.names = make(map[domain.PeerID]string, len(ev.Names))
	for id, name := range ev.Names {
		m.names[id] = name
	}
	for id := range m.hands {
		if !slices.Contains(m.roster, id) {
			delete(m.hands, id)
		}
	}
	m.reconcile()
}

// gated is true while this peer sits in the waiting room.
func (m *Mesh) gated() bool {
	return m.opts.Features.WaitingRoom && m.inWaiting
}

// reconcile makes sessions match the roster.
func (m *Mesh) reconcile() {
	if m.left || m.gated() {
		return
	}
	for _, id := range m.roster {
		m.ensure(id)
	}
	for id := range m.sessions {
		if !slices.Contains(m.roster, id) {
			m.logger.Info().Str("peer", string(id)).Msg("peer left, session destroyed")
			m.drop(id)
		}
	}
}

// ensure returns the session for id, creating it if the peer may have one.
func (m *Mesh) ensure(id domain.PeerID) *session {
	if id == m.opts.Self || m.left || m.gated() {
		return nil
	}
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, RoleOf(m.opts.Self, id))
	m.sessions[id] = s
	m.logger.Debug().Str("peer", string(id)).Stringer("role", s.role).Msg("session created")
	switch {
	case m.media.requesting:
	case m.media.ready() || m.mediaFailed:
		m.start(s)
	default:
		m.media.request(m.onMedia)
		if !m.media.requesting {
			m.start(s)
		}
	}
	return m.sessions[id]
}

func (m *Mesh) start(s *session) {
	m.gen++
	gen := m.gen
	id := s.peer
	emit := func(ev TransportEvent) {
		m.opts.Poster.Post(func() { m.onTransport(id, gen, ev) })
	}
	t, err := m.opts.Transports.NewTransport(TransportConfig{
		Peer:        id,
		Role:        s.role,
		Media:       m.media.stream,
		DataChannel: m.opts.Features.DataChannel,
	}, emit)
	if err != nil {
		m.fail(id, "create transport", err)
		return
	}
	for _, data := range s.attach(t, gen) {
		if m.sessions[id] != s {
			return
		}
		m.apply(s, data)
	}
}

func (m *Mesh) apply(s *session, data json.RawMessage) {
	if err := s.transport.Signal(data); err != nil {
		m.fail(s.peer, "apply signal", err)
	}
}

func (m *Mesh) onSignal(from domain.PeerID, data json.RawMessage) {
	s := m.ensure(from)
	if s == nil {
		m.logger.Debug().Str("from", string(from)).Msg("signal dropped")
		return
	}
	if s.transport == nil {
		s.inbound = append(s.inbound, data)
		return
	}
	m.apply(s, data)
}

func (m *Mesh) onTransport(id domain.PeerID, gen uint64, ev TransportEvent) {
	s, ok := m.sessions[id]
	if !ok || s.gen != gen || s.transport == nil {
		m.logger.Debug().Str("peer", string(id)).Uint64("gen", gen).Msg("stale transport event dropped")
		return
	}
	switch ev := ev.(type) {
	case SignalOut:
		if err := m.opts.Channel.SendSignal(id, ev.Data); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(id)).Msg("signal not sent")
		}
	case StreamIn:
		s.remote = ev.Stream
	case Connected:
		s.connState = StateConnected
	case StateChanged:
		s.connState = ev.State
	case ICEChanged:
		s.iceState = ev.State
	case DataIn:
		if m.opts.OnData != nil {
			m.opts.OnData(id, ev.Data)
		}
	case Closed:
		m.logger.Info().Str("peer", string(id)).Msg("transport closed")
		m.drop(id)
	case Failed:
		m.fail(id, "transport", ev.Err)
	}
	m.publish()
}

// fail records the error and drops the session. The next signal from the
// peer or the next roster change brings a fresh one.
func (m *Mesh) fail(id domain.PeerID, op string, err error) {
	m.err = &SessionError{Op: op, Peer: id, Err: err}
	m.logger.Warn().Err(err).Str("peer", string(id)).Str("op", op).Msg("session failed")
	m.drop(id)
}

func (m *Mesh) drop(id domain.PeerID) {
	if s, ok := m.sessions[id]; ok {
		s.destroy()
		delete(m.sessions, id)
	}
	if m.active == id {
		m.active = ""
		m.detector.Reset()
	}
}

// RequestMedia acquires local media and pushes it to every session.
func (m *Mesh) RequestMedia() {
	m.mediaFailed = false
	m.media.request(m.onMedia)
	m.publish()
}

// StopMedia releases local media. Sessions stay up and go receive-only.
func (m *Mesh) StopMedia() {
	m.media.stop()
	m.pushMedia()
	m.publish()
}

// ReplaceMedia swaps in stream, which the mesh then owns.
func (m *Mesh) ReplaceMedia(stream *media.LocalStream) {
	m.media.replace(stream)
	m.pushMedia()
	m.publish()
}

func (m *Mesh) onMedia(stream *media.LocalStream, err error) {
	if err != nil {
		// deferred sessions go ahead without media
		m.mediaFailed = true
		m.err = &SessionError{Op: "acquire media", Err: err}
		m.logger.Warn().Err(err).Msg("media unavailable, continuing receive-only")
	}
	m.pushMedia()
	m.publish()
}

// pushMedia updates live sessions in place and starts deferred ones.
func (m *Mesh) pushMedia() {
	for _, id := range m.sessionIDs() {
		s, ok := m.sessions[id]
		if !ok {
			continue
		}
		if s.transport == nil {
			m.start(s)
			continue
		}
		if err := s.transport.SetMedia(m.media.stream); err != nil {
			m.fail(id, "set media", err)
		}
	}
}

func (m *Mesh) sessionIDs() []domain.PeerID {
	ids := make([]domain.PeerID, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (m *Mesh) MuteAudio(muted bool) { m.media.stream.SetEnabled(webrtc.RTPCodecTypeAudio, !muted) }
func (m *Mesh) MuteVideo(muted bool) { m.media.stream.SetEnabled(webrtc.RTPCodecTypeVideo, !muted) }

// SendData writes to one peer's data channel.
func (m *Mesh) SendData(to domain.PeerID, data []byte) error {
	s, ok := m.sessions[to]
	if !ok || s.transport == nil {
		return ErrNoSession
	}
	return s.transport.Send(data)
}

// BroadcastData writes to every session and joins the failures.
func (m *Mesh) BroadcastData(data []byte) error {
	var errs []error
	for _, id := range m.sessionIDs() {
		if err := m.SendData(id, data); err != nil {
			errs = append(errs, &SessionError{Op: "send data", Peer: id, Err: err})
		}
	}
	return errors.Join(errs...)
}

// Broadcast relays data to the room through the relay, not the mesh.
func (m *Mesh) Broadcast(data any) error {
	return m.opts.Channel.Broadcast(data)
}

// Tick samples remote levels for active speaker detection.
func (m *Mesh) Tick(now time.Time) {
	if !m.opts.Features.ActiveSpeaker || m.status != signaling.StatusOpen || m.left {
		if m.active != "" {
			m.active = ""
			m.detector.Reset()
			m.publish()
		}
		return
	}
	levels := make(map[domain.PeerID]float64, len(m.sessions))
	for id, s := range m.sessions {
		if s.remote != nil {
			levels[id] = s.remote.Level()
		}
	}
	if active, changed := m.detector.Sample(now, levels); changed {
		m.active = active
		m.publish()
	}
}

// RunSpeaker posts a Tick every detector interval until ctx ends. It is a
// no-op when active speaker detection is off.
func (m *Mesh) RunSpeaker(ctx context.Context) {
	if !m.opts.Features.ActiveSpeaker {
		return
	}
	ticker := time.NewTicker(m.detector.Config().Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.opts.Poster.Post(func() { m.Tick(now) })
		}
	}
}

// Leave destroys every session, releases media and closes the channel when
// it can be closed. The mesh is inert after.
func (m *Mesh) Leave() {
	if m.left {
		return
	}
	m.logger.Info().Msg("leaving room")
	for _, id := range m.sessionIDs() {
		m.drop(id)
	}
	m.left = true
	m.roster = nil
	m.waitingList = nil
	m.inWaiting = false
	clear(m.hands)
	m.active = ""
	m.media.stop()
	if c, ok := m.opts.Channel.(io.Closer); ok {
		if err := c.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("close channel")
		}
	}
	m.publish()
}

func (m *Mesh) publish() {
	snap := MeshSnapshot{
		Status:          m.status,
		WaitingList:     slices.Clone(m.waitingList),
		InWaitingRoom:   m.gated(),
		IsHost:          m.isHost,
		LocalMedia:      m.media.stream != nil,
		RequestingMedia: m.media.requesting,
		Err:             m.err,
		Room: RoomView{
			Self:   m.opts.Self,
			Roster: slices.Clone(m.roster),
			Names:  make(map[domain.PeerID]string, len(m.names)),
			Hands:  make(map[domain.PeerID]bool, len(m.hands)),
			Active: m.active,
		},
	}
	for id, n := range m.names {
		snap.Room.Names[id] = n
	}
	for id, up := range m.hands {
		snap.Room.Hands[id] = up
	}
	for _, id := range m.sessionIDs() {
		s := m.sessions[id]
		snap.Sessions = append(snap.Sessions, SessionView{
			Peer:            id,
			Role:            s.role,
			ConnectionState: s.connState,
			ICEState:        s.iceState,
			Remote:          s.remote,
			Pending:         s.transport == nil,
		})
	}
	m.mu.Lock()
	m.snap = snap
	m.mu.Unlock()
	if m.opts.OnChange != nil {
		m.opts.OnChange(snap)
	}
}
