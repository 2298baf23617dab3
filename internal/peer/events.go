package peer

import (
	"github.com/BioHazard786/warpmeet/internal/session"
	"github.com/BioHazard786/warpmeet/internal/speaker"
)

// EventKind identifies what changed in an Event.
type EventKind int

const (
	EventAdded EventKind = iota
	EventStateChanged
	EventRemoteTrack
	EventMediaState
	EventActiveSpeaker
	EventRemoved
)

func (k EventKind) String() string {
	switch k {
	case EventAdded:
		return "added"
	case EventStateChanged:
		return "state"
	case EventRemoteTrack:
		return "track"
	case EventMediaState:
		return "media"
	case EventActiveSpeaker:
		return "speaker"
	case EventRemoved:
		return "removed"
	}
	return "unknown"
}

// Event is delivered to Options.OnEvent. Only the fields relevant to Kind are set.
type Event struct {
	Kind   EventKind
	Remote string
	Name   string
	Role   session.Role
	State  session.State
	Reason session.Reason
	Track  TrackInfo
	Media  MediaState
}

// TrackInfo describes a remote media track once it starts arriving.
type TrackInfo struct {
	ID   string
	Kind string

	// Analyzer is set for audio tracks that can feed the speaker estimator.
	Analyzer speaker.Analyzer
}

// MediaState is what a participant announces about its own outgoing media.
type MediaState struct {
	Muted    bool `msgpack:"muted"`
	VideoOff bool `msgpack:"video_off"`
	Sharing  bool `msgpack:"sharing"`
}

// Info is a point-in-time view of one session.
type Info struct {
	Remote string
	Name   string
	Role   session.Role
	State  session.State
	Media  MediaState
}
