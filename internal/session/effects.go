package session

import "encoding/json"

// Effect is work the session asks its owner to perform. Effects are executed in
// the order returned; their outcomes re-enter the session as events.
type Effect interface {
	effect()
}

// CreateOffer produces and commits a local offer. Completion: OfferCreated or OpFailed.
type CreateOffer struct{}

// SetRemote applies a remote description. With Rollback set, any pending local
// offer is discarded first. Completion: RemoteApplied or OpFailed.
type SetRemote struct {
	Desc     Description
	Rollback bool
}

// CreateAnswer produces and commits a local answer. Completion: AnswerCreated or OpFailed.
type CreateAnswer struct{}

// AddCandidates applies remote candidates in slice order.
type AddCandidates struct {
	Candidates []json.RawMessage
}

type SendOffer struct {
	SDP string
}

type SendAnswer struct {
	SDP string
}

// CloseTransport releases the media transport.
type CloseTransport struct{}

// Removed tells the owner to forget the session.
type Removed struct {
	Reason Reason
}

func (CreateOffer) effect()    {}
func (SetRemote) effect()      {}
func (CreateAnswer) effect()   {}
func (AddCandidates) effect()  {}
func (SendOffer) effect()      {}
func (SendAnswer) effect()     {}
func (CloseTransport) effect() {}
func (Removed) effect()        {}
