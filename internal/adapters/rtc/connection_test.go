package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
)

// side is one end of a vnet call, driven by its own loop like a coordinator.
type side struct {
	loop      *negotiation.Loop
	conn      negotiation.Transport
	connected chan struct{}
	once      sync.Once
	data      chan []byte
	streams   chan *media.RemoteStream
	errs      chan error
	peer      *side
}

func newSide(ctx context.Context) *side {
	s := &side{
		loop:      negotiation.NewLoop(),
		connected: make(chan struct{}),
		data:      make(chan []byte, 16),
		streams:   make(chan *media.RemoteStream, 4),
		errs:      make(chan error, 8),
	}
	go s.loop.Run(ctx)
	return s
}

func (s *side) emit(ev negotiation.TransportEvent) {
	s.loop.Post(func() {
		switch ev := ev.(type) {
		case negotiation.SignalOut:
			other := s.peer
			other.loop.Post(func() {
				if err := other.conn.Signal(ev.Data); err != nil {
					select {
					case other.errs <- err:
					default:
					}
				}
			})
		case negotiation.Connected:
			s.once.Do(func() { close(s.connected) })
		case negotiation.DataIn:
			s.data <- ev.Data
		case negotiation.StreamIn:
			s.streams <- ev.Stream
		}
	})
}

func vnetFactories(t *testing.T) (*Factory, *Factory) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	var factories []*Factory
	for _, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		n, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{ip}})
		if err != nil {
			t.Fatalf("new net %s: %v", ip, err)
		}
		if err := router.AddNet(n); err != nil {
			t.Fatalf("add net %s: %v", ip, err)
		}
		f, err := NewFactory(Config{ICEServers: []string{}, Net: n})
		if err != nil {
			t.Fatalf("NewFactory: %v", err)
		}
		factories = append(factories, f)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}
	return factories[0], factories[1]
}

func dial(t *testing.T, ctx context.Context) (*side, *side) {
	t.Helper()
	fa, fb := vnetFactories(t)
	a, b := newSide(ctx), newSide(ctx)
	a.peer, b.peer = b, a

	// transports are built on their loops so no signal races the assignment
	if err := b.loop.Do(ctx, func() {
		conn, err := fb.NewTransport(negotiation.TransportConfig{Peer: "a", Role: negotiation.Responder, DataChannel: true}, b.emit)
		if err != nil {
			t.Errorf("responder: %v", err)
			return
		}
		b.conn = conn
	}); err != nil {
		t.Fatal(err)
	}
	if err := a.loop.Do(ctx, func() {
		conn, err := fa.NewTransport(negotiation.TransportConfig{Peer: "b", Role: negotiation.Initiator, DataChannel: true}, a.emit)
		if err != nil {
			t.Errorf("initiator: %v", err)
			return
		}
		a.conn = conn
	}); err != nil {
		t.Fatal(err)
	}
	if t.Failed() {
		t.FailNow()
	}
	t.Cleanup(func() {
		a.conn.Destroy()
		b.conn.Destroy()
	})

	for _, s := range []*side{a, b} {
		select {
		case <-s.connected:
		case <-ctx.Done():
			t.Fatal("timed out waiting for connect")
		}
	}
	return a, b
}

// sendWhenOpen retries until the data channel opens.
func sendWhenOpen(t *testing.T, ctx context.Context, s *side, payload []byte) {
	t.Helper()
	for {
		var err error
		_ = s.loop.Do(ctx, func() { err = s.conn.Send(payload) })
		if err == nil {
			return
		}
		if !errors.Is(err, ErrChannelNotOpen) {
			t.Fatalf("Send: %v", err)
		}
		select {
		case <-ctx.Done():
			t.Fatal("data channel never opened")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestConnectionDataOverVNet(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	a, b := dial(t, ctx)

	sendWhenOpen(t, ctx, a, []byte("ping"))
	select {
	case got := <-b.data:
		if string(got) != "ping" {
			t.Fatalf("got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for data")
	}

	sendWhenOpen(t, ctx, b, []byte("pong"))
	select {
	case got := <-a.data:
		if string(got) != "pong" {
			t.Fatalf("got %q", got)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for reply")
	}

	for _, s := range []*side{a, b} {
		select {
		case err := <-s.errs:
			t.Fatalf("signal error: %v", err)
		default:
		}
	}
}

func TestConnectionResponderMediaRenegotiates(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	a, b := dial(t, ctx)

	stream, err := media.SilenceSource{}.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer media.SilenceSource{}.Release(stream)

	var setErr error
	if err := b.loop.Do(ctx, func() { setErr = b.conn.SetMedia(stream) }); err != nil {
		t.Fatal(err)
	}
	if setErr != nil {
		t.Fatalf("SetMedia: %v", setErr)
	}

	select {
	case got := <-a.streams:
		if !got.HasKind(webrtc.RTPCodecTypeAudio) {
			t.Fatalf("stream kinds = %v", got.Kinds)
		}
	case <-ctx.Done():
		t.Fatal("initiator never saw the responder's track")
	}
}

func TestConnectionBuffersEarlyCandidates(t *testing.T) {
	f, err := NewFactory(Config{ICEServers: []string{}})
	if err != nil {
		t.Fatalf("NewFactory: %v", err)
	}
	tr, err := f.NewTransport(negotiation.TransportConfig{Peer: "x", Role: negotiation.Responder},
		func(negotiation.TransportEvent) {})
	if err != nil {
		t.Fatalf("NewTransport: %v", err)
	}
	defer tr.Destroy()
	conn := tr.(*Connection)

	cand, _ := json.Marshal(webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 2130706431 10.0.0.9 5000 typ host"})
	if err := conn.Signal(cand); err != nil {
		t.Fatalf("Signal: %v", err)
	}
	conn.mu.Lock()
	n := len(conn.candidates)
	conn.mu.Unlock()
	if n != 1 {
		t.Fatalf("buffered = %d, want 1", n)
	}
	if err := conn.Send([]byte("x")); !errors.Is(err, ErrChannelNotOpen) {
		t.Fatalf("Send before open = %v", err)
	}

	conn.Destroy()
	if err := conn.SetMedia(nil); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("SetMedia after destroy = %v", err)
	}
}

func TestConfigurationDefaults(t *testing.T) {
	if got := (Config{}).configuration(); len(got.ICEServers) != 1 || got.ICEServers[0].URLs[0] != DefaultSTUN {
		t.Fatalf("default = %+v", got)
	}
	if got := (Config{ICEServers: []string{}}).configuration(); len(got.ICEServers) != 0 {
		t.Fatalf("empty = %+v", got)
	}
}
