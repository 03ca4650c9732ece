// Package media holds local and remote stream handles shared by every
// negotiation session, plus audio level metering of remote tracks.
package media

import (
	"context"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateOk TrackState = iota
	TrackStateMuted
)

// LocalTrack is one outgoing source track. Muting keeps the track
// negotiated; producers consult Enabled before writing samples.
type LocalTrack struct {
	Track webrtc.TrackLocal
	state atomic.Int32
}

func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.Track.Kind() }

func (t *LocalTrack) Enabled() bool { return TrackState(t.state.Load()) == TrackStateOk }

func (t *LocalTrack) MarkOk()    { t.state.Store(int32(TrackStateOk)) }
func (t *LocalTrack) MarkMuted() { t.state.Store(int32(TrackStateMuted)) }

// LocalStream is the local capture shared read-only by all sessions.
type LocalStream struct {
	ID     string
	Tracks []*LocalTrack

	stop context.CancelFunc
}

func NewLocalStream(id string, tracks ...webrtc.TrackLocal) *LocalStream {
	s := &LocalStream{ID: id}
	for _, t := range tracks {
		s.Tracks = append(s.Tracks, &LocalTrack{Track: t})
	}
	return s
}

// SetEnabled mutes or unmutes every track of kind.
func (s *LocalStream) SetEnabled(kind webrtc.RTPCodecType, enabled bool) {
	if s == nil {
		return
	}
	for _, t := range s.Tracks {
		if t.Kind() != kind {
			continue
		}
		if enabled {
			t.MarkOk()
		} else {
			t.MarkMuted()
		}
	}
}

// Enabled reports whether any track of kind is live.
func (s *LocalStream) Enabled(kind webrtc.RTPCodecType) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind() == kind && t.Enabled() {
			return true
		}
	}
	return false
}

func (s *LocalStream) TrackLocals() []webrtc.TrackLocal {
	if s == nil {
		return nil
	}
	out := make([]webrtc.TrackLocal, len(s.Tracks))
	for i, t := range s.Tracks {
		out[i] = t.Track
	}
	return out
}

// Source acquires local media. Acquire may block on devices; Release
// undoes it.
type Source interface {
	Acquire(ctx context.Context) (*LocalStream, error)
	Release(*LocalStream)
}

// LevelReader reports a normalized audio level in [0,1].
type LevelReader interface {
	Level() float64
}

type LevelFunc func() float64

func (f LevelFunc) Level() float64 { return f() }

// RemoteStream is what arrived from one remote peer.
type RemoteStream struct {
	ID    string
	Kinds []webrtc.RTPCodecType
	Audio LevelReader
}

// Level is 0 for streams without a metered audio track.
func (s *RemoteStream) Level() float64 {
	if s == nil || s.Audio == nil {
		return 0
	}
	return s.Audio.Level()
}

func (s *RemoteStream) HasKind(kind webrtc.RTPCodecType) bool {
	if s == nil {
		return false
	}
	for _, k := range s.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
