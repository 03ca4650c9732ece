package media

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

var _ LevelReader = (*Meters)(nil)

// Meters runs one Meter per remote audio track of a stream.
type Meters struct {
	mu     sync.RWMutex
	meters map[string]*Meter
}

func NewMeters() *Meters {
	return &Meters{meters: make(map[string]*Meter)}
}

// Start meters a track, replacing any meter with the same id.
func (m *Meters) Start(ctx context.Context, trackID string, read PacketReader, extID uint8) *Meter {
	logger := log.With().Str("module", "media.meter").Str("track", trackID).Logger()

	meterCtx, cancel := context.WithCancel(ctx)
	meter := NewMeter(read, extID, cancel)

	m.mu.Lock()
	if old, ok := m.meters[trackID]; ok {
		logger.Debug().Msg("replacing existing meter")
		old.cancel()
	}
	m.meters[trackID] = meter
	m.mu.Unlock()

	go meter.loop(meterCtx, &logger)
	return meter
}

func (m *Meters) Stop(trackID string) {
	m.mu.Lock()
	meter, ok := m.meters[trackID]
	if ok {
		delete(m.meters, trackID)
	}
	m.mu.Unlock()
	if ok {
		meter.cancel()
	}
}

func (m *Meters) StopAll() {
	m.mu.Lock()
	old := m.meters
	m.meters = make(map[string]*Meter)
	m.mu.Unlock()
	for _, meter := range old {
		meter.cancel()
	}
}

// Level is the loudest of the metered tracks.
func (m *Meters) Level() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var best float64
	for _, meter := range m.meters {
		if l := meter.Level(); l > best {
			best = l
		}
	}
	return best
}

func (m *Meters) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.meters)
}
