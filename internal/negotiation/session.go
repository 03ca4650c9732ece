package negotiation

import (
	"context"
	"encoding/json"

	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
)

// Connection state names reported before a transport says otherwise.
const (
	StateNew       = "new"
	StateConnected = "connected"
	StateClosed    = "closed"
)

// bye tells the remote side the call is over. It never reaches a transport.
var bye = json.RawMessage(`{"type":"bye"}`)

// signalKind peeks at the "type" of an otherwise opaque payload.
func signalKind(data json.RawMessage) string {
	var head struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(data, &head) != nil {
		return ""
	}
	return head.Type
}

// session is the coordinator's bookkeeping for one remote peer.
type session struct {
	peer      domain.PeerID
	role      Role
	gen       uint64
	transport Transport
	// inbound holds remote payloads that arrived before transport existed.
	inbound   []json.RawMessage
	connState string
	iceState  string
	remote    *media.RemoteStream
}

func newSession(peer domain.PeerID, role Role) *session {
	return &session{peer: peer, role: role, connState: StateNew, iceState: StateNew}
}

// attach installs t and hands back the queued inbound payloads, clearing
// the queue so each one is delivered exactly once.
func (s *session) attach(t Transport, gen uint64) []json.RawMessage {
	s.transport = t
	s.gen = gen
	queued := s.inbound
	s.inbound = nil
	return queued
}

func (s *session) destroy() {
	if s.transport != nil {
		s.transport.Destroy()
		s.transport = nil
	}
	s.inbound = nil
	s.connState = StateClosed
}

// localMedia owns the one local stream shared by all sessions.
type localMedia struct {
	src    media.Source
	spawn  func(func())
	poster Poster

	stream     *media.LocalStream
	requesting bool
	gen        uint64
	cancel     context.CancelFunc
}

// ready is true once sessions may be created: media is held, or the
// coordinator runs data-only.
func (m *localMedia) ready() bool {
	return m.src == nil || m.stream != nil
}

// request starts an acquisition unless one is held or in flight. done runs
// on the loop, and only for the newest request.
func (m *localMedia) request(done func(*media.LocalStream, error)) {
	if m.src == nil || m.stream != nil || m.requesting {
		return
	}
	m.requesting = true
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	src, poster := m.src, m.poster

	m.spawn(func() {
		stream, err := src.Acquire(ctx)
		poster.Post(func() {
			if gen != m.gen {
				if stream != nil {
					src.Release(stream)
				}
				return
			}
			cancel()
			m.requesting = false
			m.cancel = nil
			if err == nil {
				m.stream = stream
			}
			done(stream, err)
		})
	})
}

// replace installs stream, releasing the previous one through the source.
func (m *localMedia) replace(stream *media.LocalStream) {
	m.abort()
	if m.stream != nil && m.src != nil && m.stream != stream {
		m.src.Release(m.stream)
	}
	m.stream = stream
}

// stop aborts any acquisition and releases the held stream.
func (m *localMedia) stop() {
	m.replace(nil)
}

func (m *localMedia) abort() {
	m.gen++
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.requesting = false
}
