package rtc

import (
	"github.com/vmihailenco/msgpack/v5"
)

// ControlLabel names the data channel that carries control messages.
const ControlLabel = "control"

// Control message types.
const (
	TypeMediaState = "media_state"
)

// ControlMessage is one frame on the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// DecodePayload decodes the message payload into the provided struct
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// EncodeControl frames payload as a control message of type t.
func EncodeControl(t string, payload any) ([]byte, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(ControlMessage{Type: t, Payload: b})
}

// DecodeControl parses one control frame.
func DecodeControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := msgpack.Unmarshal(data, &m)
	return m, err
}
