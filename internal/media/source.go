package media

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

// opusSilence is a single 20ms Opus frame of digital silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const frameDuration = 20 * time.Millisecond

// SilenceSource produces one Opus track fed with silence frames. Headless
// peers use it so sessions still negotiate an audio m-line.
type SilenceSource struct{}

var _ Source = SilenceSource{}

func (SilenceSource) Acquire(ctx context.Context) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := "meshcall-" + uuid.NewString()
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", id,
	)
	if err != nil {
		return nil, fmt.Errorf("media: new audio track: %w", err)
	}
	stream := NewLocalStream(id, track)
	feedCtx, cancel := context.WithCancel(context.Background())
	stream.stop = cancel
	go feed(feedCtx, stream.Tracks[0], track)
	return stream, nil
}

func (SilenceSource) Release(s *LocalStream) {
	if s != nil && s.stop != nil {
		s.stop()
	}
}

func feed(ctx context.Context, lt *LocalTrack, track *webrtc.TrackLocalStaticSample) {
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !lt.Enabled() {
				continue
			}
			_ = track.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: frameDuration})
		}
	}
}
