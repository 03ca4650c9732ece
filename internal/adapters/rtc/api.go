// Package rtc backs negotiation transports with pion peer connections.
package rtc

import (
	"fmt"

	"github.com/dkeye/meshcall/internal/logging"
	"github.com/dkeye/meshcall/internal/media"
	"github.com/dkeye/meshcall/internal/negotiation"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

const DefaultSTUN = "stun:stun.l.google.com:19302"

type Config struct {
	// ICEServers are STUN/TURN urls. Nil means DefaultSTUN; empty means none.
	ICEServers []string
	// Net replaces the OS network, e.g. with a vnet in tests.
	Net transport.Net
	// VerbosePion keeps pion's debug and info lines at their own level.
	VerbosePion bool
}

func (c Config) configuration() webrtc.Configuration {
	urls := c.ICEServers
	if urls == nil {
		urls = []string{DefaultSTUN}
	}
	if len(urls) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: urls}}}
}

// NewAPI builds a pion API with the default codecs, the audio level header
// extension for speaker detection and zerolog backed pion logs.
func NewAPI(cfg Config) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("rtc: register codecs: %w", err)
	}
	if err := me.RegisterHeaderExtension(webrtc.RTPHeaderExtensionCapability{URI: media.AudioLevelURI}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("rtc: register audio level: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logging.PionFactory{Verbose: cfg.VerbosePion}}
	if cfg.Net != nil {
		se.SetNet(cfg.Net)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(me), webrtc.WithSettingEngine(se)), nil
}

var _ negotiation.TransportFactory = (*Factory)(nil)

// Factory opens one Connection per negotiation session.
type Factory struct {
	api *webrtc.API
	cfg webrtc.Configuration
}

func NewFactory(cfg Config) (*Factory, error) {
	api, err := NewAPI(cfg)
	if err != nil {
		return nil, err
	}
	return &Factory{api: api, cfg: cfg.configuration()}, nil
}

func (f *Factory) NewTransport(tc negotiation.TransportConfig, emit func(negotiation.TransportEvent)) (negotiation.Transport, error) {
	pc, err := f.api.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, fmt.Errorf("rtc: new peer connection: %w", err)
	}
	c := newConnection(pc, tc, emit)
	if err := c.start(tc); err != nil {
		c.Destroy()
		return nil, err
	}
	return c, nil
}
