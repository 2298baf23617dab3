package rtc

import (
	"sync"
	"time"

	"github.com/pion/rtp"
)

const (
	// Levels at or below this many dB under overload map to silence.
	silentDBov = 80

	// Weight of the previous reading, as in a browser analyser's smoothing.
	smoothing = 0.8

	// A stream that stopped sending (DTX, mute) reads as silent after this long.
	levelStale = 500 * time.Millisecond
)

// LevelAnalyzer turns RTP audio level header extensions into the 0-255
// energy scale the speaker estimator compares.
type LevelAnalyzer struct {
	extID uint8
	now   func() time.Time

	mu      sync.Mutex
	level   float64
	updated time.Time
}

// NewLevelAnalyzer reads the extension negotiated with id extID.
func NewLevelAnalyzer(extID uint8) *LevelAnalyzer {
	return &LevelAnalyzer{extID: extID, now: time.Now}
}

// Observe records the audio level carried by pkt, if any.
func (a *LevelAnalyzer) Observe(pkt *rtp.Packet) {
	if a.extID == 0 || pkt == nil {
		return
	}
	raw := pkt.GetExtension(a.extID)
	if raw == nil {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	a.SetLevel(ext.Level)
}

// SetLevel records a level given in -dBov (0 loudest, 127 silent).
func (a *LevelAnalyzer) SetLevel(dBov uint8) {
	v := 0.0
	if dBov < silentDBov {
		v = 255 * float64(silentDBov-int(dBov)) / silentDBov
	}

	a.mu.Lock()
	a.level = smoothing*a.level + (1-smoothing)*v
	a.updated = a.now()
	a.mu.Unlock()
}

// ByteFrequencyData fills every bin with the current smoothed level. The RTP
// extension carries no spectrum, so the energy is spread evenly.
func (a *LevelAnalyzer) ByteFrequencyData(dst []byte) {
	a.mu.Lock()
	level := a.level
	if a.updated.IsZero() || a.now().Sub(a.updated) > levelStale {
		level = 0
	}
	a.mu.Unlock()

	b := byte(level + 0.5)
	for i := range dst {
		dst[i] = b
	}
}
