package session

import "encoding/json"

// Event is an input to a session. Remote events come from signaling, completion
// events come back from effects the session asked for.
type Event interface {
	event()
}

// Start asks an initiator to begin negotiating. CanOffer is false when there is
// nothing local to negotiate yet.
type Start struct {
	CanOffer bool
}

type RemoteOffer struct {
	SDP string
}

type RemoteAnswer struct {
	SDP string
}

type RemoteCandidate struct {
	Candidate json.RawMessage
}

// OfferCreated reports that a local offer was produced and committed.
type OfferCreated struct {
	SDP string
}

// AnswerCreated reports that a local answer was produced and committed.
type AnswerCreated struct {
	SDP string
}

// RemoteApplied reports that a SetRemote effect committed.
type RemoteApplied struct {
	Type DescType
}

// OpFailed reports a negotiation operation that did not complete.
type OpFailed struct {
	Op  string
	Err error
}

// LivenessChanged carries a connectivity transition from the media transport.
type LivenessChanged struct {
	Status Liveness
}

// Hangup closes the session for a reason known to the caller.
type Hangup struct {
	Reason Reason
}

func (Start) event()           {}
func (RemoteOffer) event()     {}
func (RemoteAnswer) event()    {}
func (RemoteCandidate) event() {}
func (OfferCreated) event()    {}
func (AnswerCreated) event()   {}
func (RemoteApplied) event()   {}
func (OpFailed) event()        {}
func (LivenessChanged) event() {}
func (Hangup) event()          {}
