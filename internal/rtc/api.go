// Package rtc backs peer sessions with pion/webrtc peer connections.
package rtc

import (
	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/webrtc/v4"
)

// AudioLevelURI is the RFC 6464 client-to-mixer audio level header extension.
const AudioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

// NewAPI builds a pion API with the default codecs and the audio level header
// extension. A non-nil net replaces the host network, which tests use for vnet.
func NewAPI(net transport.Net) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	if net != nil {
		se.SetNet(net)
	}

	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = logging.LogLevelWarn
	se.LoggerFactory = lf

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := mediaEngine.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: AudioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, err
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

// Configuration returns the peer connection configuration for the given STUN URLs.
func Configuration(stunServers []string) webrtc.Configuration {
	if len(stunServers) == 0 {
		return webrtc.Configuration{}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
	}
}
