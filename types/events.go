package types

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the variant of a normalized event
type EventKind int

const (
	EventContent EventKind = iota
	EventThinking
	EventToolCalls
	EventError
	EventDone
)

// String returns the string representation of the EventKind
func (k EventKind) String() string {
	switch k {
	case EventContent:
		return "content"
	case EventThinking:
		return "thinking"
	case EventToolCalls:
		return "tool_calls"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrorKind is the machine-readable class of a terminal stream error
type ErrorKind string

const (
	ErrorKindConnection ErrorKind = "connection_error"
	ErrorKindUpstream   ErrorKind = "upstream_error"
	ErrorKindDecode     ErrorKind = "decode_error"
)

// StreamError is a terminal failure surfaced to the caller as an error event
type StreamError struct {
	Kind    ErrorKind   `json:"error"`
	Status  int         `json:"status,omitempty"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements the error interface
func (e *StreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.Status, e.detail())
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.detail())
}

func (e *StreamError) detail() string {
	if e.Message != "" {
		return e.Message
	}
	switch d := e.Data.(type) {
	case nil:
		return "no detail"
	case string:
		return d
	default:
		raw, err := json.Marshal(d)
		if err != nil {
			return fmt.Sprintf("%v", d)
		}
		return string(raw)
	}
}

// Event is the only unit surfaced to callers of the streaming engine
type Event struct {
	Kind      EventKind
	Text      string
	ToolCalls []OpenAIToolCall
	Err       *StreamError
}

// ContentEvent creates a content event
func ContentEvent(text string) Event {
	return Event{Kind: EventContent, Text: text}
}

// ThinkingEvent creates a thinking event
func ThinkingEvent(text string) Event {
	return Event{Kind: EventThinking, Text: text}
}

// ToolCallsEvent creates a tool_calls event
func ToolCallsEvent(calls []OpenAIToolCall) Event {
	return Event{Kind: EventToolCalls, ToolCalls: calls}
}

// ErrorEvent creates a terminal error event
func ErrorEvent(err *StreamError) Event {
	return Event{Kind: EventError, Err: err}
}

// DoneEvent creates the completion marker
func DoneEvent() Event {
	return Event{Kind: EventDone}
}

// MarshalJSON renders the event in its wire form, e.g. {"content": "..."} or {"done": true}
func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventContent:
		return json.Marshal(map[string]string{"content": e.Text})
	case EventThinking:
		return json.Marshal(map[string]string{"thinking": e.Text})
	case EventToolCalls:
		return json.Marshal(map[string][]OpenAIToolCall{"tool_calls": e.ToolCalls})
	case EventError:
		if e.Err == nil {
			return json.Marshal(map[string]string{"error": "unknown_error"})
		}
		return json.Marshal(e.Err)
	case EventDone:
		return json.Marshal(map[string]bool{"done": true})
	default:
		return nil, fmt.Errorf("unknown event kind %d", e.Kind)
	}
}

// UnmarshalJSON parses the wire form produced by MarshalJSON
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	switch {
	case raw["done"] != nil:
		*e = DoneEvent()
	case raw["error"] != nil:
		var se StreamError
		if err := json.Unmarshal(data, &se); err != nil {
			return err
		}
		*e = ErrorEvent(&se)
	case raw["tool_calls"] != nil:
		var calls []OpenAIToolCall
		if err := json.Unmarshal(raw["tool_calls"], &calls); err != nil {
			return err
		}
		*e = ToolCallsEvent(calls)
	case raw["thinking"] != nil:
		var text string
		if err := json.Unmarshal(raw["thinking"], &text); err != nil {
			return err
		}
		*e = ThinkingEvent(text)
	case raw["content"] != nil:
		var text string
		if err := json.Unmarshal(raw["content"], &text); err != nil {
			return err
		}
		*e = ContentEvent(text)
	default:
		return fmt.Errorf("unrecognized event: %s", string(data))
	}
	return nil
}
