// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"errors"
	"testing"

	"github.com/arne48/multimaster-fkie/lib/codec"
)

func TestDecodeMessageRequiresType(t *testing.T) {
	t.Parallel()

	data := codec.MustMarshal(map[string]any{"request": 3})
	if _, err := DecodeMessage(data); err == nil {
		t.Error("frame without type accepted")
	}
	if _, err := DecodeMessage([]byte{0xff}); err == nil {
		t.Error("garbage accepted")
	}
}

func TestMessageKeepsPayloadOpaque(t *testing.T) {
	t.Parallel()

	payload, err := EncodePayload(Reply{Result: true, Message: "ok"})
	if err != nil {
		t.Fatal(err)
	}
	data, err := EncodeMessage(Message{Type: TypeResult, Request: 12, Payload: payload})
	if err != nil {
		t.Fatal(err)
	}
	message, err := DecodeMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	var reply Reply
	if err := DecodePayload(message.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if message.Request != 12 || reply != Succeeded("ok") {
		t.Errorf("decoded %+v with reply %+v", message, reply)
	}
}

func TestEmptyPayload(t *testing.T) {
	t.Parallel()

	payload, err := EncodePayload(nil)
	if err != nil || payload != nil {
		t.Errorf("EncodePayload(nil) = %v, %v", payload, err)
	}
	reply := Reply{Message: "untouched"}
	if err := DecodePayload(nil, &reply); err != nil || reply.Message != "untouched" {
		t.Errorf("DecodePayload(nil) changed target: %+v, %v", reply, err)
	}
	if got := Failed(errors.New("boom")); got.Result || got.Message != "boom" {
		t.Errorf("Failed = %+v", got)
	}
}
