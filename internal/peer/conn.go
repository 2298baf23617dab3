package peer

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/BioHazard786/warpmeet/internal/session"
)

// conn runs one session's state machine on its own goroutine.
type conn struct {
	manager *Manager
	remote  string
	name    string
	logger  *slog.Logger

	sm  *session.Session
	neg Negotiator
	box *mailbox

	done     chan struct{}
	closeErr error

	mu       sync.Mutex
	role     session.Role
	state    session.State
	media    MediaState
	signaled bool
	outbound []json.RawMessage
}

func (c *conn) post(ev session.Event) {
	if !c.box.post(ev) {
		c.logger.Debug("Event after close dropped", "event", eventName(ev))
	}
}

func (c *conn) info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Info{
		Remote: c.remote,
		Name:   c.name,
		Role:   c.role,
		State:  c.state,
		Media:  c.media,
	}
}

func (c *conn) run() {
	defer close(c.done)
	defer c.box.close()

	for {
		ev, ok := c.box.next()
		if !ok {
			return
		}

		if failed, ok := ev.(session.OpFailed); ok {
			c.logger.Warn("Negotiation step failed", "op", failed.Op, "err", failed.Err)
		}

		prev := c.sm.State()
		effects := c.sm.Handle(ev)
		if state := c.sm.State(); state != prev {
			c.mu.Lock()
			c.role = c.sm.Role()
			c.state = state
			c.mu.Unlock()
			c.logger.Debug("Session state changed", "from", prev, "state", state, "role", c.sm.Role())
			c.manager.emit(Event{Kind: EventStateChanged, Remote: c.remote, Name: c.name, Role: c.sm.Role(), State: state})
		} else if len(effects) == 0 {
			c.logger.Debug("Event ignored", "event", eventName(ev), "state", prev)
		}

		for _, eff := range effects {
			c.execute(eff)
		}

		if c.sm.State() == session.Closed {
			return
		}
	}
}

func (c *conn) execute(eff session.Effect) {
	switch eff := eff.(type) {
	case session.CreateOffer:
		sdp, err := c.neg.CreateOffer()
		if err != nil {
			c.post(session.OpFailed{Op: "create offer", Err: err})
			return
		}
		c.post(session.OfferCreated{SDP: sdp})

	case session.SetRemote:
		if err := c.neg.SetRemoteDescription(eff.Desc, eff.Rollback); err != nil {
			c.post(session.OpFailed{Op: "set remote description", Err: err})
			return
		}
		c.post(session.RemoteApplied{Type: eff.Desc.Type})

	case session.CreateAnswer:
		sdp, err := c.neg.CreateAnswer()
		if err != nil {
			c.post(session.OpFailed{Op: "create answer", Err: err})
			return
		}
		c.post(session.AnswerCreated{SDP: sdp})

	case session.AddCandidates:
		for _, cand := range eff.Candidates {
			if err := c.neg.AddCandidate(cand); err != nil {
				c.logger.Warn("Failed to add candidate", "err", err)
			}
		}

	case session.SendOffer:
		if err := c.manager.signaler.SendOffer(c.remote, eff.SDP); err != nil {
			c.logger.Warn("Failed to send offer", "err", err)
			return
		}
		c.flushCandidates()

	case session.SendAnswer:
		if err := c.manager.signaler.SendAnswer(c.remote, eff.SDP); err != nil {
			c.logger.Warn("Failed to send answer", "err", err)
			return
		}
		c.flushCandidates()

	case session.CloseTransport:
		if err := c.neg.Close(); err != nil {
			c.closeErr = NewPeerError("close", c.remote, err)
			c.logger.Warn("Failed to close transport", "err", err)
		}

	case session.Removed:
		c.manager.remove(c, eff.Reason)
	}
}

// sendCandidate forwards a local candidate, holding it back until our offer or
// answer has gone out so the remote never sees a candidate for an unknown session.
func (c *conn) sendCandidate(cand json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.signaled {
		c.outbound = append(c.outbound, cand)
		return
	}
	if err := c.manager.signaler.SendCandidate(c.remote, cand); err != nil {
		c.logger.Debug("Failed to send candidate", "err", err)
	}
}

func (c *conn) flushCandidates() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.signaled = true
	for _, cand := range c.outbound {
		if err := c.manager.signaler.SendCandidate(c.remote, cand); err != nil {
			c.logger.Debug("Failed to send candidate", "err", err)
		}
	}
	c.outbound = nil
}

func (c *conn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func eventName(ev session.Event) string {
	switch ev.(type) {
	case session.Start:
		return "start"
	case session.RemoteOffer:
		return "remote offer"
	case session.RemoteAnswer:
		return "remote answer"
	case session.RemoteCandidate:
		return "remote candidate"
	case session.OfferCreated:
		return "offer created"
	case session.AnswerCreated:
		return "answer created"
	case session.RemoteApplied:
		return "remote applied"
	case session.OpFailed:
		return "op failed"
	case session.LivenessChanged:
		return "liveness"
	case session.Hangup:
		return "hangup"
	}
	return "unknown"
}
