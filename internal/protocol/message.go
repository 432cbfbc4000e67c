// Package protocol defines the messages exchanged with clients.
//
// Every message is a JSON object {"cmd": name, "params": {...}}. The
// connection starts in the dispatch command set; an update-like command
// switches it to the report set, then the auth exchange, then the server
// drives the editor set before answering with a final success response.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Message is one protocol command or response.
type Message struct {
	Command string          `json:"cmd"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// NewMessage builds a message with params encoded as JSON. Nil params produce
// an empty parameter list.
func NewMessage(cmd string, params any) (Message, error) {
	msg := Message{Command: cmd}
	if params == nil {
		return msg, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s params: %w", cmd, err)
	}
	msg.Params = data
	return msg, nil
}

// MustMessage is NewMessage for params that always encode.
func MustMessage(cmd string, params any) Message {
	msg, err := NewMessage(cmd, params)
	if err != nil {
		panic(err)
	}
	return msg
}

// Decode strictly decodes the message parameters into v. Missing params
// decode as an empty object.
func (m Message) Decode(v any) error {
	data := m.Params
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s params: %w", ErrMalformed, m.Command, err)
	}
	return nil
}

// Success returns the success response carrying params.
func Success(params any) Message {
	return MustMessage(CmdSuccess, params)
}
