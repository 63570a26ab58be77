package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// maxFrameSize bounds a single frame; staged option files exist for
// anything larger.
const maxFrameSize = 4 * 1024 * 1024

// Encoder writes protocol frames to an io.Writer.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates a protocol encoder.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes one frame and flushes it.
func (e *Encoder) Encode(msgType MessageType, data any) error {
	if err := msgType.Validate(); err != nil {
		return fmt.Errorf("invalid message type: %w", err)
	}

	var dataBytes []byte
	if data != nil {
		var err error
		dataBytes, err = json.Marshal(data)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	msg := Message{
		Type:      msgType,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	if len(msgBytes) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit", len(msgBytes))
	}

	if _, err := e.w.Write(msgBytes); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	if err := e.w.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write frame terminator: %w", err)
	}
	return e.w.Flush()
}

// EncodeInvoke sends an INVOKE frame after validating it.
func (e *Encoder) EncodeInvoke(invoke *InvokeMessage) error {
	if err := invoke.Validate(); err != nil {
		return fmt.Errorf("invalid invocation: %w", err)
	}
	return e.Encode(MessageTypeInvoke, invoke)
}

// EncodeHello sends the runner's opening frame.
func (e *Encoder) EncodeHello(hello *HelloMessage) error {
	return e.Encode(MessageTypeHello, hello)
}

// EncodeReply sends a REPLY frame.
func (e *Encoder) EncodeReply(reply *ReplyMessage) error {
	return e.Encode(MessageTypeReply, reply)
}

// EncodeFail sends a FAIL frame.
func (e *Encoder) EncodeFail(fail *FailMessage) error {
	return e.Encode(MessageTypeFail, fail)
}

// EncodeEvent sends an EVENT frame after validating it.
func (e *Encoder) EncodeEvent(event *EventMessage) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	return e.Encode(MessageTypeEvent, event)
}

// EncodeBye sends the runner's final frame.
func (e *Encoder) EncodeBye(bye *ByeMessage) error {
	return e.Encode(MessageTypeBye, bye)
}

// Decoder reads protocol frames from an io.Reader.
type Decoder struct {
	r *bufio.Scanner
}

// NewDecoder creates a protocol decoder.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, maxFrameSize)
	scanner.Buffer(buf, maxFrameSize)
	return &Decoder{r: scanner}
}

// Decode reads the next frame.
func (d *Decoder) Decode() (*Message, error) {
	if !d.r.Scan() {
		if err := d.r.Err(); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		return nil, io.EOF
	}

	line := d.r.Bytes()
	if len(line) == 0 {
		return nil, fmt.Errorf("empty frame")
	}

	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	if err := msg.Type.Validate(); err != nil {
		return nil, fmt.Errorf("invalid frame: %w", err)
	}

	return &msg, nil
}

// DecodeHello reads the runner's opening frame.
func (d *Decoder) DecodeHello() (*HelloMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeHello {
		return nil, fmt.Errorf("expected HELLO frame, got %s", msg.Type)
	}

	var hello HelloMessage
	if err := json.Unmarshal(msg.Data, &hello); err != nil {
		return nil, fmt.Errorf("failed to unmarshal hello: %w", err)
	}
	return &hello, nil
}

// DecodeInvoke reads and validates an INVOKE frame.
func (d *Decoder) DecodeInvoke() (*InvokeMessage, error) {
	msg, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if msg.Type != MessageTypeInvoke {
		return nil, fmt.Errorf("expected INVOKE frame, got %s", msg.Type)
	}

	var invoke InvokeMessage
	if err := json.Unmarshal(msg.Data, &invoke); err != nil {
		return nil, fmt.Errorf("failed to unmarshal invocation: %w", err)
	}
	if err := invoke.Validate(); err != nil {
		return nil, fmt.Errorf("invalid invocation: %w", err)
	}
	return &invoke, nil
}

// DecodeOutcome reads frames until the invocation completes. Events
// observed along the way are passed to onEvent, which may be nil. It
// returns the reply on success and the failure frame otherwise.
func (d *Decoder) DecodeOutcome(onEvent func(*EventMessage)) (*ReplyMessage, *FailMessage, error) {
	for {
		msg, err := d.Decode()
		if err != nil {
			return nil, nil, err
		}

		switch msg.Type {
		case MessageTypeEvent:
			if onEvent == nil {
				continue
			}
			var event EventMessage
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal event: %w", err)
			}
			onEvent(&event)

		case MessageTypeReply:
			var reply ReplyMessage
			if err := json.Unmarshal(msg.Data, &reply); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal reply: %w", err)
			}
			return &reply, nil, nil

		case MessageTypeFail:
			var fail FailMessage
			if err := json.Unmarshal(msg.Data, &fail); err != nil {
				return nil, nil, fmt.Errorf("failed to unmarshal failure: %w", err)
			}
			return nil, &fail, nil

		default:
			return nil, nil, fmt.Errorf("unexpected %s frame while awaiting outcome", msg.Type)
		}
	}
}
