package negotiation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/meshcall/internal/app"
	"github.com/dkeye/meshcall/internal/app/orch"
	"github.com/dkeye/meshcall/internal/core"
	"github.com/dkeye/meshcall/internal/domain"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/signaling"
	"github.com/dkeye/meshcall/internal/wire"
)

// manualPoster queues posts until Drain runs them.
type manualPoster struct {
	queue []func()
}

func (p *manualPoster) Post(fn func()) { p.queue = append(p.queue, fn) }

// Drain runs queued funcs, including ones posted while draining.
func (p *manualPoster) Drain() {
	for len(p.queue) > 0 {
		fn := p.queue[0]
		p.queue = p.queue[1:]
		fn()
	}
}

// spawner holds blocking work until Run.
type spawner struct {
	fns []func()
}

func (s *spawner) Spawn(fn func()) { s.fns = append(s.fns, fn) }

func (s *spawner) Run() {
	fns := s.fns
	s.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func inline(fn func()) { fn() }

type fakeSource struct {
	err      error
	acquired int
	released int
}

func (s *fakeSource) Acquire(context.Context) (*media.LocalStream, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return media.NewLocalStream(fmt.Sprintf("local-%d", s.acquired)), nil
}

func (s *fakeSource) Release(*media.LocalStream) { s.released++ }

var (
	offerSDP  = json.RawMessage(`{"type":"offer","sdp":"o"}`)
	answerSDP = json.RawMessage(`{"type":"answer","sdp":"a"}`)
	candidate = json.RawMessage(`{"type":"candidate","candidate":"c"}`)
)

// fakeNet links fake transports so Send on one side lands on the other.
type fakeNet struct {
	links map[[2]domain.PeerID]*fakeTransport
	all   []*fakeTransport
}

func newFakeNet() *fakeNet {
	return &fakeNet{links: make(map[[2]domain.PeerID]*fakeTransport)}
}

// factory builds transports owned by self. Initiators emit an offer at once;
// responders answer offers; both report Connected after the exchange.
func (n *fakeNet) factory(self domain.PeerID) TransportFactory {
	return TransportFactoryFunc(func(cfg TransportConfig, emit func(TransportEvent)) (Transport, error) {
		t := &fakeTransport{net: n, self: self, cfg: cfg, emit: emit}
		n.links[[2]domain.PeerID{self, cfg.Peer}] = t
		n.all = append(n.all, t)
		if cfg.Role == Initiator {
			emit(SignalOut{Data: offerSDP})
		}
		return t, nil
	})
}

// of returns the transports self created toward peer, oldest first.
func (n *fakeNet) of(self, peer domain.PeerID) []*fakeTransport {
	var out []*fakeTransport
	for _, t := range n.all {
		if t.self == self && t.cfg.Peer == peer {
			out = append(out, t)
		}
	}
	return out
}

type fakeTransport struct {
	net  *fakeNet
	self domain.PeerID
	cfg  TransportConfig
	emit func(TransportEvent)

	signals   []json.RawMessage
	media     []*media.LocalStream
	sent      [][]byte
	destroyed bool
	signalErr error
}

func (t *fakeTransport) Signal(data json.RawMessage) error {
	if t.signalErr != nil {
		return t.signalErr
	}
	t.signals = append(t.signals, data)
	switch signalKind(data) {
	case "offer":
		t.emit(SignalOut{Data: answerSDP})
		t.emit(Connected{})
	case "answer":
		t.emit(Connected{})
	}
	return nil
}

func (t *fakeTransport) SetMedia(s *media.LocalStream) error {
	t.media = append(t.media, s)
	return nil
}

func (t *fakeTransport) Send(data []byte) error {
	if t.destroyed {
		return errors.New("fake transport destroyed")
	}
	t.sent = append(t.sent, data)
	if peer, ok := t.net.links[[2]domain.PeerID{t.cfg.Peer, t.self}]; ok && !peer.destroyed {
		peer.emit(DataIn{Data: data})
	}
	return nil
}

func (t *fakeTransport) Destroy() { t.destroyed = true }

func (t *fakeTransport) kinds() []string {
	out := make([]string, len(t.signals))
	for i, s := range t.signals {
		out[i] = signalKind(s)
	}
	return out
}

// memRelay runs the real relay state machine in memory. Frames become
// signaling events posted onto the shared poster.
type memRelay struct {
	t      *testing.T
	o      *orch.Orchestrator
	poster *manualPoster
	seq    int
}

func newMemRelay(t *testing.T, poster *manualPoster) *memRelay {
	return &memRelay{t: t, o: orch.New(app.NewRegistry(), true), poster: poster}
}

func (r *memRelay) dispatch(ds []orch.Delivery) {
	for _, d := range ds {
		sig := d.To.Signal()
		if d.Msg.Type != "" {
			frame, err := json.Marshal(d.Msg)
			if err != nil {
				r.t.Fatalf("marshal: %v", err)
			}
			_ = sig.TrySend(frame)
		}
		if d.Close != nil {
			sig.CloseWith(d.Close.Code, d.Close.Reason)
		}
	}
}

type memMember struct {
	room        string
	displayName string
	host        bool
	waitingRoom bool
}

// join opens a socket for id. handle receives every event for it.
func (r *memRelay) join(id string, m memMember, handle func(signaling.Event)) *memPeer {
	r.seq++
	meta := domain.NewMember(domain.PeerID(id), domain.RoomName(m.room), m.displayName, m.host, m.waitingRoom)
	sock := &memSocket{relay: r, handle: handle}
	p := &memPeer{relay: r, sock: sock}
	p.sess = core.NewMemberSession(core.SessionID(fmt.Sprintf("mem-%d", r.seq)), meta, sock)
	r.poster.Post(func() { handle(signaling.OpenEvent{}) })
	r.dispatch(r.o.OnOpen(p.sess))
	return p
}

type memSocket struct {
	relay  *memRelay
	handle func(signaling.Event)
	closed bool
	code   int
}

func (s *memSocket) TrySend(f core.Frame) error {
	if s.closed {
		return core.ErrConnClosed
	}
	ev, err := signaling.Decode(f)
	if err != nil {
		s.relay.t.Fatalf("decode %s: %v", f, err)
	}
	s.relay.poster.Post(func() { s.handle(ev) })
	return nil
}

func (s *memSocket) CloseWith(code int, reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.code = code
	s.relay.poster.Post(func() { s.handle(signaling.CloseEvent{Code: code, Reason: reason}) })
}

func (s *memSocket) Close() { s.CloseWith(orch.CloseNormal, "") }

// memPeer is the Channel a coordinator under test talks through.
type memPeer struct {
	relay *memRelay
	sess  core.MemberSession
	sock  *memSocket
}

var _ Channel = (*memPeer)(nil)

func (p *memPeer) send(in wire.Inbound) error {
	if p.sock.closed {
		return signaling.ErrClosed
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	p.relay.dispatch(p.relay.o.OnMessage(p.sess, raw))
	return nil
}

func (p *memPeer) SendSignal(to domain.PeerID, data json.RawMessage) error {
	return p.send(wire.Inbound{Type: wire.TypeSignal, To: string(to), Data: data})
}

func (p *memPeer) SendControl(action string, data any) error {
	return p.send(wire.Inbound{Type: wire.TypeControl, Action: action, Data: wire.Raw(data)})
}

func (p *memPeer) Broadcast(data any) error {
	return p.send(wire.Inbound{Type: wire.TypeBroadcast, Data: wire.Raw(data)})
}

func (p *memPeer) SetDisplayName(name string) error {
	return p.SendControl(wire.ActionSetDisplayName, wire.DisplayName{DisplayName: name})
}

// Close drops the socket the way a closed websocket would.
func (p *memPeer) Close() error {
	if p.sock.closed {
		return nil
	}
	p.sock.closed = true
	p.relay.dispatch(p.relay.o.OnClose(p.sess))
	return nil
}

type callPeer struct {
	id   domain.PeerID
	call *Call
	ch   *memPeer
	data []string
}

func newCallPeer(r *memRelay, n *fakeNet, id string, src media.Source, spawn func(func())) *callPeer {
	cp := &callPeer{id: domain.PeerID(id)}
	cp.ch = r.join(id, memMember{}, func(ev signaling.Event) { cp.call.HandleEvent(ev) })
	opts := CallOptions{
		Self:        cp.id,
		Channel:     cp.ch,
		Transports:  n.factory(cp.id),
		Media:       src,
		DataChannel: true,
		Poster:      r.poster,
		Spawn:       spawn,
		OnData:      func(_ domain.PeerID, data []byte) { cp.data = append(cp.data, string(data)) },
	}
	cp.call = NewCall(opts)
	return cp
}

type meshPeer struct {
	id         domain.PeerID
	mesh       *Mesh
	ch         *memPeer
	data       []string
	broadcasts []string
}

type meshSetup struct {
	member   memMember
	features Features
	src      media.Source
	spawn    func(func())
}

func newMeshPeer(r *memRelay, n *fakeNet, id string, s meshSetup) *meshPeer {
	mp := &meshPeer{id: domain.PeerID(id)}
	opts := MeshOptions{
		Self:       mp.id,
		Room:       domain.RoomName(s.member.room),
		Host:       s.member.host,
		Features:   s.features,
		Media:      s.src,
		Transports: n.factory(mp.id),
		Poster:     r.poster,
		Spawn:      s.spawn,
		OnData:     func(_ domain.PeerID, data []byte) { mp.data = append(mp.data, string(data)) },
	}
	opts.OnBroadcast = func(from domain.PeerID, data json.RawMessage) {
		mp.broadcasts = append(mp.broadcasts, string(from)+":"+string(data))
	}
	mp.ch = r.join(id, s.member, func(ev signaling.Event) { mp.mesh.Handle(ev) })
	opts.Channel = mp.ch
	mp.mesh = NewMesh(opts)
	return mp
}

func (mp *meshPeer) sessionPeers() []domain.PeerID {
	var out []domain.PeerID
	for _, s := range mp.mesh.Snapshot().Sessions {
		out = append(out, s.Peer)
	}
	return out
}
