package session

// State is the negotiation life cycle position of one session.
type State int

const (
	Idle State = iota
	Offering
	Answering
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case Answering:
		return "answering"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Negotiating reports whether an offer/answer exchange is in progress.
func (s State) Negotiating() bool {
	return s == Offering || s == Answering
}

// Role decides which side produces the offer.
type Role int

const (
	Initiator Role = iota
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// Liveness is the connectivity signal reported by the media transport.
type Liveness int

const (
	LivenessNew Liveness = iota
	LivenessConnected
	LivenessDisconnected
	LivenessFailed
	LivenessClosed
)

func (l Liveness) String() string {
	switch l {
	case LivenessNew:
		return "new"
	case LivenessConnected:
		return "connected"
	case LivenessDisconnected:
		return "disconnected"
	case LivenessFailed:
		return "failed"
	case LivenessClosed:
		return "closed"
	}
	return "unknown"
}

// Reason records why a session was closed. It is informational only.
type Reason int

const (
	ReasonLocal Reason = iota
	ReasonLeft
	ReasonTransport
	ReasonFailed
)

func (r Reason) String() string {
	switch r {
	case ReasonLocal:
		return "local"
	case ReasonLeft:
		return "left"
	case ReasonTransport:
		return "transport"
	case ReasonFailed:
		return "failed"
	}
	return "unknown"
}

// DescType distinguishes offers from answers.
type DescType string

const (
	DescOffer  DescType = "offer"
	DescAnswer DescType = "answer"
)

// Description is a session description received from the remote side.
type Description struct {
	Type DescType
	SDP  string
}
