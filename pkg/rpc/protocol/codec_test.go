package protocol

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
)

func TestEncodeDecodeInvoke(t *testing.T) {
	var buf bytes.Buffer

	invoke := &InvokeMessage{
		RequestID: "req-1",
		Agent:     "service",
		Action:    "restart",
		Options:   json.RawMessage(`{"service":"nginx"}`),
		Timeout:   30,
		Caller:    "deployer",
	}
	if err := NewEncoder(&buf).EncodeInvoke(invoke); err != nil {
		t.Fatalf("EncodeInvoke failed: %v", err)
	}

	decoded, err := NewDecoder(&buf).DecodeInvoke()
	if err != nil {
		t.Fatalf("DecodeInvoke failed: %v", err)
	}

	if decoded.RequestID != invoke.RequestID || decoded.Agent != invoke.Agent ||
		decoded.Action != invoke.Action || decoded.Caller != invoke.Caller {
		t.Errorf("decoded frame differs: %+v", decoded)
	}
	if string(decoded.Options) != string(invoke.Options) {
		t.Errorf("options differ: %s", decoded.Options)
	}
}

func TestEncodeInvokeRejectsInvalidFrames(t *testing.T) {
	cases := []struct {
		name   string
		invoke *InvokeMessage
	}{
		{"missing request id", &InvokeMessage{Agent: "a", Action: "b", Timeout: 1}},
		{"missing action", &InvokeMessage{RequestID: "r", Agent: "a", Timeout: 1}},
		{"zero timeout", &InvokeMessage{RequestID: "r", Agent: "a", Action: "b"}},
		{"inline and staged options", &InvokeMessage{
			RequestID: "r", Agent: "a", Action: "b", Timeout: 1,
			Options: json.RawMessage(`{}`), OptionsPath: "/tmp/opts.json",
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := NewEncoder(&buf).EncodeInvoke(tc.invoke); err == nil {
				t.Error("expected encode to fail")
			}
		})
	}
}

func TestDecodeOutcomeCollectsEventsUntilReply(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.EncodeEvent(&EventMessage{RequestID: "req-1", Message: "starting"}); err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if err := enc.EncodeEvent(&EventMessage{RequestID: "req-1", Level: "debug", Message: "halfway"}); err != nil {
		t.Fatalf("EncodeEvent failed: %v", err)
	}
	if err := enc.EncodeReply(&ReplyMessage{RequestID: "req-1", Payload: json.RawMessage(`{"ok":true}`), Duration: 1.5}); err != nil {
		t.Fatalf("EncodeReply failed: %v", err)
	}

	var events []*EventMessage
	reply, fail, err := NewDecoder(&buf).DecodeOutcome(func(e *EventMessage) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("DecodeOutcome failed: %v", err)
	}
	if fail != nil {
		t.Fatalf("unexpected failure frame: %+v", fail)
	}

	if len(events) != 2 {
		t.Errorf("expected 2 events, got %d", len(events))
	}
	if events[0].Level != "info" {
		t.Errorf("event level not defaulted: %q", events[0].Level)
	}
	if reply.RequestID != "req-1" || reply.Duration != 1.5 {
		t.Errorf("reply differs: %+v", reply)
	}
}

func TestDecodeOutcomeFailure(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	if err := enc.EncodeFail(&FailMessage{RequestID: "req-2", Code: "exec_error", Message: "unit not found", Retryable: false}); err != nil {
		t.Fatalf("EncodeFail failed: %v", err)
	}

	reply, fail, err := NewDecoder(&buf).DecodeOutcome(nil)
	if err != nil {
		t.Fatalf("DecodeOutcome failed: %v", err)
	}
	if reply != nil {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if fail.Code != "exec_error" || fail.Retryable {
		t.Errorf("failure frame differs: %+v", fail)
	}
}

func TestDecodeHello(t *testing.T) {
	var buf bytes.Buffer
	hello := &HelloMessage{
		Version:  "0.3.0",
		Node:     "web1",
		Platform: "linux",
		PID:      4242,
		Agents: []AgentAdvert{
			{Name: "service", Version: "1.0", Actions: []string{"restart", "status"}},
		},
	}
	if err := NewEncoder(&buf).EncodeHello(hello); err != nil {
		t.Fatalf("EncodeHello failed: %v", err)
	}

	decoded, err := NewDecoder(&buf).DecodeHello()
	if err != nil {
		t.Fatalf("DecodeHello failed: %v", err)
	}
	if decoded.Node != "web1" || len(decoded.Agents) != 1 || decoded.Agents[0].Name != "service" {
		t.Errorf("hello differs: %+v", decoded)
	}
}

func TestDecodeErrors(t *testing.T) {
	t.Run("eof on empty stream", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader(nil)).Decode()
		if err != io.EOF {
			t.Errorf("expected io.EOF, got %v", err)
		}
	})

	t.Run("garbage frame", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte("not json\n"))).Decode()
		if err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("unknown frame type", func(t *testing.T) {
		_, err := NewDecoder(bytes.NewReader([]byte(`{"type":"NOPE"}` + "\n"))).Decode()
		if err == nil {
			t.Error("expected decode error")
		}
	})

	t.Run("wrong frame for DecodeInvoke", func(t *testing.T) {
		var buf bytes.Buffer
		if err := NewEncoder(&buf).EncodeBye(&ByeMessage{Reason: "done"}); err != nil {
			t.Fatalf("EncodeBye failed: %v", err)
		}
		if _, err := NewDecoder(&buf).DecodeInvoke(); err == nil {
			t.Error("expected decode error")
		}
	})
}
