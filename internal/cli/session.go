package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dkeye/meshcall/internal/adapters/rtc"
	"github.com/dkeye/meshcall/internal/config"
	"github.com/dkeye/meshcall/internal/logging"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/dkeye/meshcall/internal/signaling"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// peerRuntime is what every networked command shares: config, the relay
// client, the pion factory and the loop that serializes the coordinator.
type peerRuntime struct {
	cfg     *config.Peer
	self    string
	client  *signaling.Client
	factory *rtc.Factory
	loop    *negotiation.Loop
	out     printer
}

// newPeerRuntime loads config and builds the relay client. room is empty
// for calls.
func newPeerRuntime(cmd *cobra.Command, room string, host bool) (*peerRuntime, error) {
	cfg, err := config.LoadPeer(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logging.Setup(cfg.LogLevel)

	self := cfg.PeerID
	if self == "" {
		self = "peer-" + uuid.NewString()[:8]
	}
	client, err := signaling.NewClient(signaling.Options{
		URL:                  cfg.SignalURL,
		PeerID:               self,
		Room:                 room,
		DisplayName:          cfg.DisplayName,
		Host:                 host,
		WaitingRoom:          room != "" && cfg.WaitingRoom,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		return nil, err
	}
	factory, err := rtc.NewFactory(rtc.Config{
		ICEServers:  cfg.STUNServers,
		VerbosePion: cfg.LogLevel == "trace",
	})
	if err != nil {
		return nil, err
	}
	return &peerRuntime{
		cfg:     cfg,
		self:    self,
		client:  client,
		factory: factory,
		loop:    negotiation.NewLoop(),
		out:     printer{w: os.Stdout},
	}, nil
}

// source is the local media for --audio, nil for data only.
func source(audio bool) media.Source {
	if audio {
		return media.SilenceSource{}
	}
	return nil
}

// start runs the loop, connects and feeds client events to handle on the
// loop until the client is done.
func (r *peerRuntime) start(ctx context.Context, handle func(signaling.Event)) {
	go r.loop.Run(ctx)
	r.client.Connect()
	go func() {
		for {
			select {
			case ev := <-r.client.Events():
				r.loop.Post(func() { handle(ev) })
			case <-r.client.Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// do runs fn on the loop and waits, bounded so a wedged loop cannot hang
// the terminal.
func (r *peerRuntime) do(ctx context.Context, fn func()) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.loop.Do(ctx, fn); err != nil {
		return fmt.Errorf("coordinator busy: %w", err)
	}
	return nil
}

func (r *peerRuntime) chat(ctx context.Context, text string, send func([]byte) error) {
	data, err := encodeChat(r.displayName(), text, time.Now())
	if err != nil {
		r.out.err(err)
		return
	}
	var sendErr error
	if err := r.do(ctx, func() { sendErr = send(data) }); err != nil {
		r.out.err(err)
		return
	}
	if sendErr != nil {
		r.out.err(sendErr)
	}
}

func (r *peerRuntime) displayName() string {
	if r.cfg.DisplayName != "" {
		return r.cfg.DisplayName
	}
	return r.self
}

// onData prints chat frames and logs anything else.
func (r *peerRuntime) onData(from string, data []byte) {
	msg, err := decodeChat(data)
	if err != nil {
		r.out.info("%d bytes from %s", len(data), from)
		return
	}
	r.out.chat(msg.From, msg.Text)
}
