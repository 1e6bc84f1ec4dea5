package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// WAMP-like message type codes. Only CALL, CALLRESULT, CALLERROR, SUBSCRIBE,
// UNSUBSCRIBE and EVENT are produced or consumed.
type MessageType int

const (
	MessageTypeWelcome     MessageType = 0
	MessageTypePrefix      MessageType = 1
	MessageTypeCall        MessageType = 2
	MessageTypeCallResult  MessageType = 3
	MessageTypeCallError   MessageType = 4
	MessageTypeSubscribe   MessageType = 5
	MessageTypeUnsubscribe MessageType = 6
	MessageTypePublish     MessageType = 7
	MessageTypeEvent       MessageType = 8
)

func (self MessageType) String() string {
	switch self {
	case MessageTypeWelcome:
		return "WELCOME"
	case MessageTypePrefix:
		return "PREFIX"
	case MessageTypeCall:
		return "CALL"
	case MessageTypeCallResult:
		return "CALLRESULT"
	case MessageTypeCallError:
		return "CALLERROR"
	case MessageTypeSubscribe:
		return "SUBSCRIBE"
	case MessageTypeUnsubscribe:
		return "UNSUBSCRIBE"
	case MessageTypePublish:
		return "PUBLISH"
	case MessageTypeEvent:
		return "EVENT"
	default:
		return fmt.Sprintf("MessageType(%d)", int(self))
	}
}

var errEmptyFrame = errors.New("Empty frame.")

// Frame is a decoded json array frame. `Args` holds the elements after the type code.
type Frame struct {
	MessageType MessageType
	Args        []json.RawMessage
}

// ParseFrame decodes `[type, ...args]`. The first message on a fresh socket is
// an empty payload, which returns `errEmptyFrame`.
func ParseFrame(message []byte) (*Frame, error) {
	message = bytes.TrimSpace(message)
	if len(message) == 0 {
		return nil, errEmptyFrame
	}
	var parts []json.RawMessage
	if err := json.Unmarshal(message, &parts); err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		return nil, errEmptyFrame
	}
	var messageType int
	if err := json.Unmarshal(parts[0], &messageType); err != nil {
		return nil, fmt.Errorf("Bad message type %s: %w", string(parts[0]), err)
	}
	return &Frame{
		MessageType: MessageType(messageType),
		Args:        parts[1:],
	}, nil
}

func EncodeFrame(messageType MessageType, args ...any) ([]byte, error) {
	parts := make([]any, 0, 1+len(args))
	parts = append(parts, int(messageType))
	parts = append(parts, args...)
	return json.Marshal(parts)
}

func EncodeCall(id string, method string, args ...any) ([]byte, error) {
	callArgs := make([]any, 0, 2+len(args))
	callArgs = append(callArgs, id, method)
	callArgs = append(callArgs, args...)
	return EncodeFrame(MessageTypeCall, callArgs...)
}

func EncodeSubscribe(topic string) ([]byte, error) {
	return EncodeFrame(MessageTypeSubscribe, topic)
}

func EncodeUnsubscribe(topic string) ([]byte, error) {
	return EncodeFrame(MessageTypeUnsubscribe, topic)
}

// CallResultFrame is `[3, id, result]`
type CallResultFrame struct {
	Id     string
	Result json.RawMessage
}

// CallErrorFrame is `[4, id, code, description]`
type CallErrorFrame struct {
	Id          string
	Code        string
	Description string
}

// EventFrame is `[8, topic, {eventType, uri, data}]`
type EventFrame struct {
	Topic string
	Event *Event
}

func (self *Frame) arg(i int) json.RawMessage {
	if i < len(self.Args) {
		return self.Args[i]
	}
	return nil
}

func (self *Frame) stringArg(i int) (string, error) {
	raw := self.arg(i)
	if raw == nil {
		return "", fmt.Errorf("%s missing argument %d", self.MessageType, i)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s argument %d: %w", self.MessageType, i, err)
	}
	return s, nil
}

// textArg reads a string argument, falling back to the raw json text for
// servers that send non-string codes
func (self *Frame) textArg(i int) string {
	raw := self.arg(i)
	if raw == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}

func (self *Frame) CallResult() (*CallResultFrame, error) {
	if self.MessageType != MessageTypeCallResult {
		return nil, fmt.Errorf("Not a %s frame: %s", MessageTypeCallResult, self.MessageType)
	}
	id, err := self.stringArg(0)
	if err != nil {
		return nil, err
	}
	result := self.arg(1)
	if result == nil {
		result = json.RawMessage("null")
	}
	return &CallResultFrame{
		Id:     id,
		Result: result,
	}, nil
}

func (self *Frame) CallError() (*CallErrorFrame, error) {
	if self.MessageType != MessageTypeCallError {
		return nil, fmt.Errorf("Not a %s frame: %s", MessageTypeCallError, self.MessageType)
	}
	id, err := self.stringArg(0)
	if err != nil {
		return nil, err
	}
	return &CallErrorFrame{
		Id:          id,
		Code:        self.textArg(1),
		Description: self.textArg(2),
	}, nil
}

func (self *Frame) EventFrame() (*EventFrame, error) {
	if self.MessageType != MessageTypeEvent {
		return nil, fmt.Errorf("Not a %s frame: %s", MessageTypeEvent, self.MessageType)
	}
	topic, err := self.stringArg(0)
	if err != nil {
		return nil, err
	}
	event := &Event{}
	if raw := self.arg(1); raw != nil {
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, fmt.Errorf("%s envelope: %w", MessageTypeEvent, err)
		}
	}
	event.Topic = topic
	return &EventFrame{
		Topic: topic,
		Event: event,
	}, nil
}
