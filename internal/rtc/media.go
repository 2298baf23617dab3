package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const (
	streamID   = "warpmeet"
	frameEvery = 20 * time.Millisecond
)

// An Opus frame that decodes to 20 ms of silence.
var silentOpusFrame = []byte{0xf8, 0xff, 0xfe}

// MediaSource is the local participant's outgoing media: one audio track and a
// swappable video track. Capture devices are external; the audio track carries
// silence so that peers always have a live stream to measure.
type MediaSource struct {
	audio  *webrtc.TrackLocalStaticSample
	camera *webrtc.TrackLocalStaticSample

	mu       sync.Mutex
	video    webrtc.TrackLocal
	muted    bool
	videoOff bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMediaSource creates the local tracks. Call Start to begin sending audio.
func NewMediaSource() (*MediaSource, error) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, err
	}
	camera, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"camera", streamID,
	)
	if err != nil {
		return nil, err
	}
	return &MediaSource{audio: audio, camera: camera, video: camera}, nil
}

// NewScreenTrack creates a video track for screen sharing.
func NewScreenTrack() (webrtc.TrackLocal, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"screen", streamID,
	)
}

func (m *MediaSource) Audio() webrtc.TrackLocal  { return m.audio }
func (m *MediaSource) Camera() webrtc.TrackLocal { return m.camera }

// Video returns the current outgoing video track.
func (m *MediaSource) Video() webrtc.TrackLocal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.video
}

func (m *MediaSource) UseVideo(track webrtc.TrackLocal) {
	if track == nil {
		return
	}
	m.mu.Lock()
	m.video = track
	m.mu.Unlock()
}

func (m *MediaSource) SetMuted(muted bool) {
	m.mu.Lock()
	m.muted = muted
	m.mu.Unlock()
}

func (m *MediaSource) SetVideoOff(off bool) {
	m.mu.Lock()
	m.videoOff = off
	m.mu.Unlock()
}

func (m *MediaSource) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

// Start writes audio frames until ctx is done or Close is called.
func (m *MediaSource) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.pump(ctx, done)
}

func (m *MediaSource) pump(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(frameEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Muted or not, the frame is silence; the stream stays alive either way.
			if err := m.audio.WriteSample(media.Sample{Data: silentOpusFrame, Duration: frameEvery}); err != nil {
				return
			}
		}
	}
}

// Close stops sending. Safe to call more than once.
func (m *MediaSource) Close() error {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}
