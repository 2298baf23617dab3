package relay

import (
	"github.com/BioHazard786/warpmeet/internal/protocol"
)

// Route forwards an offer, answer or candidate from the sender's transport to the
// addressed member of the sender's room. The sender identity is stamped from the
// registry; the payload is forwarded untouched.
func (r *Registry) Route(from Transport, msg *protocol.Message) error {
	if msg == nil || !protocol.IsEnvelope(msg.Type) || msg.To == "" {
		return ErrMalformedEnvelope
	}

	m, ok := r.membershipOf(from)
	if !ok {
		return ErrNotInRoom
	}

	room := m.room
	room.mu.Lock()
	defer room.mu.Unlock()

	if current, ok := room.participants[m.participant.ID]; !ok || current != m.participant {
		return ErrNotInRoom
	}

	target, ok := room.participants[msg.To]
	if !ok {
		return ErrRecipientGone
	}

	out := &protocol.Message{
		Type:      msg.Type,
		From:      m.participant.ID,
		To:        target.ID,
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
	}
	if msg.Type != protocol.TypeCandidate {
		out.FromUsername = m.participant.Name
	}
	return target.Transport.Send(out)
}

// Handle processes one inbound message from t. Protocol errors are logged and
// dropped; they are never reported back to the sender.
func (r *Registry) Handle(t Transport, msg *protocol.Message) {
	if msg == nil {
		return
	}

	switch msg.Type {
	case protocol.TypeJoin:
		p := &Participant{ID: msg.UserID, Name: msg.Username, Transport: t}
		_, err := r.join(msg.MeetingCode, p, func(roster []protocol.Participant) {
			r.reply(t, &protocol.Message{
				Type:         protocol.TypeJoinResponse,
				Success:      true,
				Participants: roster,
			})
		})
		if err != nil {
			r.logger.Debug("Join rejected", "err", err)
			r.reply(t, &protocol.Message{
				Type:  protocol.TypeJoinResponse,
				Error: err.Error(),
			})
		}

	case protocol.TypeLeave:
		r.Disconnect(t)

	case protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeCandidate:
		if err := r.Route(t, msg); err != nil {
			r.logger.Debug("Envelope dropped", "type", msg.Type, "to", msg.To, "err", err)
		}

	default:
		r.logger.Debug("Unknown message type", "type", msg.Type)
	}
}

func (r *Registry) reply(t Transport, msg *protocol.Message) {
	if err := t.Send(msg); err != nil {
		r.logger.Warn("Reply dropped", "type", msg.Type, "err", err)
	}
}
