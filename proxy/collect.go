package proxy

import (
	"errors"
	"iter"
	"strings"

	"quill-llm/types"
)

// ErrIncomplete is returned by Collect when the sequence ended without a done event
var ErrIncomplete = errors.New("event stream ended before completion")

// Completion is the aggregate of one normalized event sequence
type Completion struct {
	Content   string                 `json:"content"`
	Thinking  string                 `json:"thinking"`
	ToolCalls []types.OpenAIToolCall `json:"tool_calls"`
}

// Collect drains seq into a Completion. A terminal error event is returned as
// its *types.StreamError; a sequence without done returns ErrIncomplete.
// The partial Completion is returned in both cases.
func Collect(seq iter.Seq[types.Event]) (Completion, error) {
	var content, thinking strings.Builder
	acc := newToolCallAccumulator()

	for event := range seq {
		switch event.Kind {
		case types.EventContent:
			content.WriteString(event.Text)
		case types.EventThinking:
			thinking.WriteString(event.Text)
		case types.EventToolCalls:
			acc.add(event.ToolCalls)
		case types.EventError:
			completion := Completion{Content: content.String(), Thinking: thinking.String(), ToolCalls: acc.calls()}
			if event.Err == nil {
				return completion, ErrIncomplete
			}
			return completion, event.Err
		case types.EventDone:
			return Completion{Content: content.String(), Thinking: thinking.String(), ToolCalls: acc.calls()}, nil
		}
	}

	return Completion{Content: content.String(), Thinking: thinking.String(), ToolCalls: acc.calls()}, ErrIncomplete
}

// toolCallAccumulator merges native streaming fragments by index.
// Records without an index are complete and kept as they arrive.
type toolCallAccumulator struct {
	list    []types.OpenAIToolCall
	byIndex map[int]int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{byIndex: make(map[int]int)}
}

func (a *toolCallAccumulator) add(calls []types.OpenAIToolCall) {
	for _, call := range calls {
		if call.Index == nil {
			a.list = append(a.list, call)
			continue
		}

		index := *call.Index
		pos, ok := a.byIndex[index]
		if !ok {
			pos = len(a.list)
			a.byIndex[index] = pos
			a.list = append(a.list, types.OpenAIToolCall{Type: "function"})
		}

		// Accumulate fields for this tool call index
		merged := &a.list[pos]
		if call.ID != "" {
			merged.ID = call.ID
		}
		if call.Type != "" {
			merged.Type = call.Type
		}
		// Names may arrive split across fragments like arguments do
		merged.Function.Name += call.Function.Name
		merged.Function.Arguments += call.Function.Arguments
	}
}

// calls returns the merged calls with streaming indexes cleared
func (a *toolCallAccumulator) calls() []types.OpenAIToolCall {
	if len(a.list) == 0 {
		return nil
	}
	out := make([]types.OpenAIToolCall, len(a.list))
	copy(out, a.list)
	for i := range out {
		out[i].Index = nil
		if out[i].Function.Arguments == "" {
			out[i].Function.Arguments = "{}"
		}
	}
	return out
}
