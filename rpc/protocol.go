// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"fmt"

	"github.com/arne48/multimaster-fkie/lib/codec"
)

// MessageType identifies a broker frame.
type MessageType string

const (
	// TypeHello opens a session: {realm}.
	TypeHello MessageType = "hello"
	// TypeWelcome accepts a hello: {session}.
	TypeWelcome MessageType = "welcome"
	// TypeAbort rejects a hello: {error}.
	TypeAbort MessageType = "abort"

	TypeRegister   MessageType = "register"
	TypeRegistered MessageType = "registered"

	// TypeCall asks the broker to route a call; TypeInvoke delivers it
	// to the registering session, which answers with TypeYield or
	// TypeError. The caller receives TypeResult or TypeError.
	TypeCall   MessageType = "call"
	TypeInvoke MessageType = "invoke"
	TypeYield  MessageType = "yield"
	TypeResult MessageType = "result"
	TypeError  MessageType = "error"

	// TypePublish is not acknowledged. Subscribers other than the
	// publisher receive TypeEvent.
	TypePublish    MessageType = "publish"
	TypeSubscribe  MessageType = "subscribe"
	TypeSubscribed MessageType = "subscribed"
	TypeEvent      MessageType = "event"
)

// Message is one broker frame. Request correlates a request with its
// reply; it is scoped to the connection that sent the request.
type Message struct {
	Type      MessageType      `cbor:"type"`
	Request   uint64           `cbor:"request,omitempty"`
	Realm     string           `cbor:"realm,omitempty"`
	Session   string           `cbor:"session,omitempty"`
	Procedure string           `cbor:"procedure,omitempty"`
	Topic     string           `cbor:"topic,omitempty"`
	Payload   codec.RawMessage `cbor:"payload,omitempty"`
	Error     string           `cbor:"error,omitempty"`
}

// EncodeMessage encodes message for the wire.
func EncodeMessage(message Message) ([]byte, error) {
	data, err := codec.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", message.Type, err)
	}
	return data, nil
}

// DecodeMessage decodes a wire frame. A frame without a type is
// rejected.
func DecodeMessage(data []byte) (Message, error) {
	var message Message
	if err := codec.Unmarshal(data, &message); err != nil {
		return Message{}, fmt.Errorf("decoding frame: %w", err)
	}
	if message.Type == "" {
		return Message{}, fmt.Errorf("decoding frame: missing type")
	}
	return message, nil
}

// EncodePayload encodes a procedure argument, result or event payload.
// A nil value encodes to an empty payload.
func EncodePayload(value any) (codec.RawMessage, error) {
	if value == nil {
		return nil, nil
	}
	if raw, ok := value.(codec.RawMessage); ok {
		return raw, nil
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}

// DecodePayload decodes payload into target. An empty payload leaves
// target untouched.
func DecodePayload(payload codec.RawMessage, target any) error {
	if len(payload) == 0 || target == nil {
		return nil
	}
	if err := codec.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}

// CallError is a failure reported by the broker or the callee.
type CallError struct {
	Procedure string
	Message   string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("calling %s: %s", e.Procedure, e.Message)
}
