package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// Peer configures the peer CLI. Flags win over env, env over file.
type Peer struct {
	SignalURL            string        `mapstructure:"signal_url"`
	PeerID               string        `mapstructure:"peer_id"`
	DisplayName          string        `mapstructure:"display_name"`
	LogLevel             string        `mapstructure:"log_level"`
	STUNServers          []string      `mapstructure:"stun_servers"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ActiveSpeaker        bool          `mapstructure:"active_speaker"`
	DataChannel          bool          `mapstructure:"data_channel"`
	WaitingRoom          bool          `mapstructure:"waiting_room"`
	HostControls         bool          `mapstructure:"host_controls"`
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"url":            "signal_url",
	"id":             "peer_id",
	"name":           "display_name",
	"log-level":      "log_level",
	"stun":           "stun_servers",
	"active-speaker": "active_speaker",
	"waiting-room":   "waiting_room",
	"host-controls":  "host_controls",
}

func LoadPeer(flags *pflag.FlagSet) (*Peer, error) {
	v, fileName := newViper()

	v.SetDefault("signal_url", "ws://localhost:8787")
	v.SetDefault("log_level", "info")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("reconnect_delay", "1s")
	v.SetDefault("max_reconnect_attempts", 10)
	v.SetDefault("data_channel", true)

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	readFile(v, fileName)

	var cfg Peer
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.SignalURL == "" {
		return nil, fmt.Errorf("signal_url is required")
	}
	return &cfg, nil
}
