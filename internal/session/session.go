// Package session holds the negotiation state machine for one remote participant.
//
// A Session never performs I/O. Handle consumes one event and returns the effects
// its owner must execute; results of those effects are fed back as new events.
package session

import "encoding/json"

// Session is the local view of the negotiation with one remote participant.
type Session struct {
	local  string
	remote string
	role   Role
	state  State

	remoteSet bool
	pending   []json.RawMessage
	liveness  Liveness
	reason    Reason
}

// New creates an idle session between local and remote.
func New(local, remote string, role Role) *Session {
	return &Session{
		local:  local,
		remote: remote,
		role:   role,
		state:  Idle,
	}
}

func (s *Session) Local() string      { return s.local }
func (s *Session) Remote() string     { return s.remote }
func (s *Session) Role() Role         { return s.role }
func (s *Session) State() State       { return s.state }
func (s *Session) Liveness() Liveness { return s.liveness }

// CloseReason is meaningful once the session is Closed.
func (s *Session) CloseReason() Reason { return s.reason }

// RemoteDescriptionSet reports whether a remote description has committed.
func (s *Session) RemoteDescriptionSet() bool { return s.remoteSet }

// Pending returns the number of queued remote candidates.
func (s *Session) Pending() int { return len(s.pending) }

// yieldsOnGlare reports whether this side gives up its own offer when both
// sides offer at once. The lexicographically higher id yields. Roles after a
// collision therefore follow id order, not join order: with random ids the
// later joiner may end up as the initiator.
func (s *Session) yieldsOnGlare() bool {
	return s.local > s.remote
}

// Handle applies ev and returns the effects to run, in order. Events that do not
// apply to the current state return nil.
func (s *Session) Handle(ev Event) []Effect {
	if s.state == Closed {
		return nil
	}

	switch ev := ev.(type) {
	case Start:
		if s.state != Idle || s.role != Initiator || !ev.CanOffer {
			return nil
		}
		s.state = Offering
		return []Effect{CreateOffer{}}

	case RemoteOffer:
		return s.onRemoteOffer(ev)

	case RemoteAnswer:
		if s.state != Offering || s.remoteSet {
			return nil
		}
		return []Effect{SetRemote{Desc: Description{Type: DescAnswer, SDP: ev.SDP}}}

	case RemoteCandidate:
		if !s.remoteSet {
			s.pending = append(s.pending, ev.Candidate)
			return nil
		}
		return []Effect{AddCandidates{Candidates: []json.RawMessage{ev.Candidate}}}

	case OfferCreated:
		if s.state != Offering {
			// Lost the glare race while the offer was being produced.
			return nil
		}
		return []Effect{SendOffer{SDP: ev.SDP}}

	case AnswerCreated:
		if s.state != Answering {
			return nil
		}
		s.state = Connected
		return []Effect{SendAnswer{SDP: ev.SDP}}

	case RemoteApplied:
		return s.onRemoteApplied(ev)

	case OpFailed:
		return nil

	case LivenessChanged:
		s.liveness = ev.Status
		switch ev.Status {
		case LivenessFailed:
			return s.close(ReasonFailed)
		case LivenessClosed:
			return s.close(ReasonTransport)
		}
		return nil

	case Hangup:
		return s.close(ev.Reason)
	}
	return nil
}

func (s *Session) onRemoteOffer(ev RemoteOffer) []Effect {
	desc := Description{Type: DescOffer, SDP: ev.SDP}

	switch s.state {
	case Idle:
		s.role = Responder
		s.state = Answering
		return []Effect{SetRemote{Desc: desc}}

	case Offering:
		if !s.yieldsOnGlare() {
			return nil
		}
		s.role = Responder
		s.state = Answering
		return []Effect{SetRemote{Desc: desc, Rollback: true}}

	case Connected:
		s.state = Answering
		return []Effect{SetRemote{Desc: desc}}
	}
	return nil
}

func (s *Session) onRemoteApplied(ev RemoteApplied) []Effect {
	var effects []Effect
	if !s.remoteSet {
		s.remoteSet = true
		if len(s.pending) > 0 {
			effects = append(effects, AddCandidates{Candidates: s.pending})
			s.pending = nil
		}
	}

	switch {
	case ev.Type == DescOffer && s.state == Answering:
		effects = append(effects, CreateAnswer{})
	case ev.Type == DescAnswer && s.state == Offering:
		s.state = Connected
	}
	return effects
}

func (s *Session) close(reason Reason) []Effect {
	s.state = Closed
	s.reason = reason
	s.pending = nil
	return []Effect{CloseTransport{}, Removed{Reason: reason}}
}
