package common

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is any record that travels as a Frame.
type Message interface {
	MessageType() string
}

// Frame is the wire record: {"type": ..., "data": {...}}. Binary fields
// inside data are standard base64.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	TypeJoin         = "join"
	TypeAnswer       = "answer"
	TypeChallenge    = "challenge"
	TypeConfirmation = "confirmation"
	TypeChat         = "chat"
	TypeLeave        = "leave"
	TypePending      = "pending"
	TypePromote      = "promote"
	TypeMessage      = "message"
)

// Encode wraps msg in a Frame and marshals it.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s data: %w", msg.MessageType(), err)
	}
	return json.Marshal(Frame{Type: msg.MessageType(), Data: data})
}

type registry map[string]func() Message

func (r registry) decode(raw []byte) (Message, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if f.Type == "" {
		return nil, fmt.Errorf("%w: frame without type", ErrDecode)
	}
	newMessage, ok := r[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrProtocolViolation, f.Type)
	}
	msg := newMessage()
	if len(f.Data) > 0 && !bytes.Equal(f.Data, []byte("null")) {
		if err := json.Unmarshal(f.Data, msg); err != nil {
			return nil, fmt.Errorf("%w: %s data: %v", ErrDecode, f.Type, err)
		}
	}
	return msg, nil
}
