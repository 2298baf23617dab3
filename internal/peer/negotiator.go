package peer

import (
	"encoding/json"

	"github.com/pion/webrtc/v4"

	"github.com/BioHazard786/warpmeet/internal/session"
)

// Negotiator is the media transport for one remote peer. Implementations must be
// safe for concurrent use.
type Negotiator interface {
	// CreateOffer produces an offer and commits it as the local description.
	CreateOffer() (string, error)
	// CreateAnswer produces an answer and commits it as the local description.
	CreateAnswer() (string, error)
	// SetRemoteDescription applies desc. With rollback set, a pending local
	// offer is discarded first.
	SetRemoteDescription(desc session.Description, rollback bool) error
	AddCandidate(candidate json.RawMessage) error
	// ReplaceTrack swaps the outgoing video without renegotiating.
	ReplaceTrack(track webrtc.TrackLocal) error
	SendMediaState(state MediaState) error
	// CanOffer reports whether there is anything to negotiate.
	CanOffer() bool
	Close() error
}

// Hooks connect a Negotiator back to its session. They may be called from any goroutine.
type Hooks struct {
	OnCandidate  func(candidate json.RawMessage)
	OnLiveness   func(status session.Liveness)
	OnTrack      func(track TrackInfo)
	OnMediaState func(state MediaState)

	// LocalMediaState returns what to announce when a control channel opens.
	LocalMediaState func() MediaState
}

// Factory creates the Negotiator for a new session.
type Factory func(remoteID string, role session.Role, hooks Hooks) (Negotiator, error)

// Signaler carries negotiation messages to one remote peer through the relay.
type Signaler interface {
	SendOffer(to, sdp string) error
	SendAnswer(to, sdp string) error
	SendCandidate(to string, candidate json.RawMessage) error
}

// LocalMedia is the participant's own capture with a swappable video track.
type LocalMedia interface {
	SetMuted(muted bool)
	SetVideoOff(off bool)
	// Camera returns the default video track.
	Camera() webrtc.TrackLocal
	// UseVideo makes track the outgoing video for sessions created from now on.
	UseVideo(track webrtc.TrackLocal)
	Close() error
}
