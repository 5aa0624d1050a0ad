// Copyright 2026 The multimaster-fkie Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type killResult struct {
	Result  bool   `cbor:"result"`
	Message string `cbor:"message,omitempty"`
}

func TestDeterministicEncoding(t *testing.T) {
	t.Parallel()

	first, err := Marshal(map[string]any{"name": "/robot/camera", "lines": 25})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(map[string]any{"lines": 25, "name": "/robot/camera"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("equal maps encoded to different bytes")
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	t.Parallel()

	type envelope struct {
		Procedure string     `cbor:"procedure"`
		Payload   RawMessage `cbor:"payload"`
	}
	data, err := Marshal(envelope{
		Procedure: "ros.screen.kill_node",
		Payload:   MustMarshal(killResult{Result: true}),
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal envelope: %v", err)
	}
	if decoded.Procedure != "ros.screen.kill_node" {
		t.Errorf("procedure = %q", decoded.Procedure)
	}
	var result killResult
	if err := Unmarshal(decoded.Payload, &result); err != nil {
		t.Fatalf("Unmarshal payload: %v", err)
	}
	if !result.Result {
		t.Error("payload lost its result flag")
	}
}

func TestAnyDecodesToStringKeyedMaps(t *testing.T) {
	t.Parallel()

	data := MustMarshal(map[string]any{"nested": map[string]any{"pid": "42"}})
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	top, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if _, ok := top["nested"].(map[string]any); !ok {
		t.Errorf("nested value is %T, want map[string]any", top["nested"])
	}
}
