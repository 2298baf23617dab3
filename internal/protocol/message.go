package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMissingType is returned by Decode for frames without a type field.
var ErrMissingType = errors.New("message has no type")

// Message represents every WebSocket frame exchanged between a participant and the relay.
type Message struct {
	Type string `json:"type"`

	// join
	MeetingCode string `json:"meetingCode,omitempty"`
	UserID      string `json:"userId,omitempty"`
	Username    string `json:"username,omitempty"`

	// join-response
	Success      bool          `json:"success,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
	Error        string        `json:"error,omitempty"`

	// offer, answer, candidate
	From         string          `json:"from,omitempty"`
	To           string          `json:"to,omitempty"`
	FromUsername string          `json:"fromUsername,omitempty"`
	SDP          string          `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
}

// Participant is a roster entry as seen on the wire.
type Participant struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Message type constants.
const (
	TypeJoin      = "join"
	TypeLeave     = "leave"
	TypeOffer     = "offer"
	TypeAnswer    = "answer"
	TypeCandidate = "candidate"

	TypeJoinResponse = "join-response"
	TypeUserJoined   = "user-joined"
	TypeUserLeft     = "user-left"
)

// IsEnvelope reports whether the message type is one the relay forwards to a single recipient.
func IsEnvelope(msgType string) bool {
	switch msgType {
	case TypeOffer, TypeAnswer, TypeCandidate:
		return true
	}
	return false
}

// NormalizeMeetingCode maps a user supplied meeting code to its canonical room id.
func NormalizeMeetingCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Decode parses one text frame.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, ErrMissingType
	}
	return &msg, nil
}
