// Package speaker picks the active speaker from periodic audio levels with
// asymmetric hysteresis: slow to clear, quicker to switch.
package speaker

import (
	"slices"
	"time"

	"github.com/dkeye/meshcall/internal/domain"
)

type Config struct {
	Interval    time.Duration
	MinHold     time.Duration
	SilenceHold time.Duration
	// Threshold is a normalized level in [0,1].
	Threshold float64
}

func DefaultConfig() Config {
	return Config{
		Interval:    400 * time.Millisecond,
		MinHold:     700 * time.Millisecond,
		SilenceHold: 1200 * time.Millisecond,
		Threshold:   0.07,
	}
}

type Detector struct {
	cfg Config

	active         domain.PeerID
	candidate      domain.PeerID
	candidateSince time.Time
	silentSince    time.Time
}

func NewDetector(cfg Config) *Detector {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinHold <= 0 {
		cfg.MinHold = def.MinHold
	}
	if cfg.SilenceHold <= 0 {
		cfg.SilenceHold = def.SilenceHold
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Detector{cfg: cfg}
}

func (d *Detector) Config() Config { return d.cfg }

func (d *Detector) Active() domain.PeerID { return d.active }

func (d *Detector) Reset() {
	d.active = ""
	d.candidate = ""
	d.candidateSince = time.Time{}
	d.silentSince = time.Time{}
}

// Sample feeds one poll of levels and reports the active speaker and
// whether it changed.
func (d *Detector) Sample(now time.Time, levels map[domain.PeerID]float64) (domain.PeerID, bool) {
	prev := d.active
	loudest := d.loudest(levels)

	if loudest == "" {
		d.candidate = ""
		if d.silentSince.IsZero() {
			d.silentSince = now
		}
		if d.active != "" && now.Sub(d.silentSince) >= d.cfg.SilenceHold {
			d.active = ""
		}
		return d.active, d.active != prev
	}

	d.silentSince = time.Time{}
	if loudest != d.candidate {
		d.candidate = loudest
		d.candidateSince = now
	}
	if d.candidate != d.active && now.Sub(d.candidateSince) >= d.cfg.MinHold {
		d.active = d.candidate
	}
	return d.active, d.active != prev
}

// loudest is the peer with the highest level over the threshold. Ties go
// to the lower id so every poll agrees.
func (d *Detector) loudest(levels map[domain.PeerID]float64) domain.PeerID {
	ids := make([]domain.PeerID, 0, len(levels))
	for id := range levels {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var best domain.PeerID
	bestLevel := d.cfg.Threshold
	for _, id := range ids {
		if l := levels[id]; l > bestLevel {
			best, bestLevel = id, l
		}
	}
	return best
}
