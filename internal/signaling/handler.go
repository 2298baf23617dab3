package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/warpmeet/internal/protocol"
)

// Peers receives the negotiation traffic of a meeting.
type Peers interface {
	HandleRosterOrJoin(remoteID, name string)
	HandleOffer(remoteID, name, sdp string)
	HandleAnswer(remoteID, sdp string)
	HandleCandidate(remoteID string, candidate json.RawMessage)
	HandleLeave(remoteID string)
}

// Dispatch routes one server message to peers. It reports whether the message
// type was recognised.
func Dispatch(peers Peers, msg *protocol.Message) bool {
	switch msg.Type {
	case protocol.TypeJoinResponse:
		if !msg.Success {
			return true
		}
		for _, p := range msg.Participants {
			peers.HandleRosterOrJoin(p.UserID, p.Username)
		}

	case protocol.TypeUserJoined:
		peers.HandleRosterOrJoin(msg.UserID, msg.Username)

	case protocol.TypeUserLeft:
		peers.HandleLeave(msg.UserID)

	case protocol.TypeOffer:
		peers.HandleOffer(msg.From, msg.FromUsername, msg.SDP)

	case protocol.TypeAnswer:
		peers.HandleAnswer(msg.From, msg.SDP)

	case protocol.TypeCandidate:
		peers.HandleCandidate(msg.From, msg.Candidate)

	default:
		return false
	}
	return true
}

// Handler feeds messages from a Client into Peers and tracks the join handshake.
type Handler struct {
	client *Client
	peers  Peers
	logger *slog.Logger

	joined chan *protocol.Message
}

// NewHandler creates a handler for client. Run must be started before Join.
func NewHandler(client *Client, peers Peers, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		client: client,
		peers:  peers,
		logger: logger,
		joined: make(chan *protocol.Message, 1),
	}
}

// Run dispatches incoming messages until ctx is done or the connection drops,
// in which case it returns ErrConnectionClosed.
func (h *Handler) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-h.client.Incoming():
			if !ok {
				return ErrConnectionClosed
			}

			if !Dispatch(h.peers, msg) {
				h.logger.Debug("Unknown message from server", "type", msg.Type)
				continue
			}

			if msg.Type == protocol.TypeJoinResponse {
				select {
				case h.joined <- msg:
				default:
					h.logger.Debug("Unsolicited join response dropped")
				}
			}
		}
	}
}

// Join asks the relay to admit us to the meeting and waits for the response.
// The roster has already been handed to Peers when Join returns.
func (h *Handler) Join(ctx context.Context, meetingCode, userID, username string) ([]protocol.Participant, error) {
	err := h.client.Send(&protocol.Message{
		Type:        protocol.TypeJoin,
		MeetingCode: protocol.NormalizeMeetingCode(meetingCode),
		UserID:      userID,
		Username:    username,
	})
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-h.joined:
		if !resp.Success {
			return nil, fmt.Errorf("%w: %s", ErrJoinFailed, resp.Error)
		}
		return resp.Participants, nil
	case <-h.client.Done():
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
