package media

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// AudioLevelURI is the RFC 6464 header extension carrying -dBov levels.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// staleAfter zeroes a meter whose track went quiet on the wire.
const staleAfter = time.Second

// PacketReader yields RTP packets of one remote track.
type PacketReader func() (*rtp.Packet, error)

type MeterState int32

const (
	MeterRunning MeterState = iota
	MeterStopped
)

// Meter tracks the latest audio level of one remote track.
type Meter struct {
	read  PacketReader
	extID uint8
	now   func() time.Time

	level    atomic.Uint64
	lastSeen atomic.Int64
	state    atomic.Int32

	cancel context.CancelFunc
}

func NewMeter(read PacketReader, extID uint8, cancel context.CancelFunc) *Meter {
	return &Meter{read: read, extID: extID, now: time.Now, cancel: cancel}
}

// loop reads RTP packets until the track ends or ctx is canceled.
func (m *Meter) loop(ctx context.Context, logger *zerolog.Logger) {
	defer m.state.Store(int32(MeterStopped))
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("meter ctx done")
			return
		default:
		}
		pkt, err := m.read()
		if err != nil {
			logger.Debug().Err(err).Msg("meter read RTP error, stopping")
			return
		}
		m.Observe(pkt)
	}
}

// Observe records the level carried by pkt, if any.
func (m *Meter) Observe(pkt *rtp.Packet) {
	if m.extID == 0 {
		return
	}
	payload := pkt.GetExtension(m.extID)
	if payload == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(payload); err != nil {
		return
	}
	// 0 is loudest, 127 is silence
	lvl := 1 - float64(ext.Level)/127
	m.level.Store(math.Float64bits(lvl))
	m.lastSeen.Store(m.now().UnixNano())
}

func (m *Meter) Level() float64 {
	seen := m.lastSeen.Load()
	if seen == 0 || m.now().Sub(time.Unix(0, seen)) > staleAfter {
		return 0
	}
	return math.Float64frombits(m.level.Load())
}

func (m *Meter) State() MeterState { return MeterState(m.state.Load()) }
