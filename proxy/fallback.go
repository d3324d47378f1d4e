package proxy

import (
	"strings"
	"time"

	"quill-llm/config"
	"quill-llm/types"
)

// ChatRequest is one logical chat call as the caller describes it
type ChatRequest struct {
	BaseURL                 string
	APIKey                  string
	Model                   string
	Timeout                 time.Duration
	SupportsFunctionCalling bool
	Messages                []types.OpenAIMessage
	Tools                   []types.OpenAITool
	ToolChoice              string
	Temperature             float64
	MaxTokens               *int
	Stream                  bool
}

// Outcome is how an attempt ended, as seen by the orchestrator
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeToolChoiceRejected
	OutcomeAbandoned
)

// String returns the string representation of the Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeToolChoiceRejected:
		return "tool_choice_rejected"
	case OutcomeAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Attempt is one upstream request. Number 0 is the native attempt, 1 the in-band fallback.
type Attempt struct {
	Number        int
	Request       types.OpenAIRequest
	ToolsSent     bool
	ToolsStripped bool

	chat ChatRequest
}

const (
	fallbackNoticeHeader = "\n\n[SYSTEM NOTICE: Native tool calling is unavailable. " +
		"To use tools, you MUST output the tool call strictly using this format:]\n" +
		`[TOOL_CALL]tool_name({"arg": "value"})[/TOOL_CALL]` + "\n"
	defaultSystemPrompt = "You are a helpful assistant."
)

// Orchestrator decides the request shape of each attempt of a logical call
type Orchestrator struct {
	toolDescriptions map[string]string
}

// NewOrchestrator creates an orchestrator. toolDescriptions overrides the
// descriptions listed in the in-band instruction, keyed by tool name.
func NewOrchestrator(toolDescriptions map[string]string) *Orchestrator {
	return &Orchestrator{toolDescriptions: toolDescriptions}
}

// sendsNativeTools reports whether the native attempt carries tool parameters
func sendsNativeTools(req ChatRequest) bool {
	return req.SupportsFunctionCalling && len(req.Tools) > 0 && req.ToolChoice != "none"
}

// FirstAttempt builds the native attempt
func (o *Orchestrator) FirstAttempt(req ChatRequest) Attempt {
	body := baseRequest(req)
	body.Messages = req.Messages

	toolsSent := sendsNativeTools(req)
	if toolsSent {
		body.Tools = req.Tools
		if req.ToolChoice != "" {
			body.ToolChoice = req.ToolChoice
		}
	}

	return Attempt{Number: 0, Request: body, ToolsSent: toolsSent, chat: req}
}

// MaxAttempts returns how many attempts the call may take
func (o *Orchestrator) MaxAttempts(req ChatRequest) int {
	if req.SupportsFunctionCalling && len(req.Tools) > 0 {
		return 2
	}
	return 1
}

// Next decides whether outcome warrants another attempt and builds it.
// Only a tool-choice rejection of a native attempt that actually sent tools is retried.
func (o *Orchestrator) Next(prev Attempt, outcome Outcome) (Attempt, bool) {
	if outcome != OutcomeToolChoiceRejected {
		return Attempt{}, false
	}
	if prev.Number != 0 || !prev.ToolsSent {
		return Attempt{}, false
	}
	if prev.Number+1 >= o.MaxAttempts(prev.chat) {
		return Attempt{}, false
	}

	return Attempt{
		Number:        prev.Number + 1,
		Request:       o.FallbackRequest(prev.chat),
		ToolsStripped: true,
		chat:          prev.chat,
	}, true
}

// FallbackRequest builds a request without native tools that instructs the
// model to emit [TOOL_CALL] blocks instead
func (o *Orchestrator) FallbackRequest(req ChatRequest) types.OpenAIRequest {
	body := baseRequest(req)
	instruction := o.Instruction(req.Tools)

	messages := cloneMessages(req.Messages)
	injected := false
	for i := range messages {
		if messages[i].Role == "system" {
			messages[i].Content += instruction
			injected = true
			break
		}
	}
	if !injected {
		system := types.OpenAIMessage{Role: "system", Content: defaultSystemPrompt + instruction}
		messages = append([]types.OpenAIMessage{system}, messages...)
	}

	body.Messages = messages
	return body
}

// Instruction renders the in-band tool calling notice listing each tool
func (o *Orchestrator) Instruction(tools []types.OpenAITool) string {
	var b strings.Builder
	b.WriteString(fallbackNoticeHeader)
	b.WriteString("\nAvailable Tools:\n")
	for _, tool := range tools {
		name := tool.Function.Name
		if name == "" {
			continue
		}
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(config.GetToolDescription(o.toolDescriptions, name, tool.Function.Description))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func baseRequest(req ChatRequest) types.OpenAIRequest {
	return types.OpenAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		Stream:      req.Stream,
		MaxTokens:   req.MaxTokens,
	}
}

func cloneMessages(messages []types.OpenAIMessage) []types.OpenAIMessage {
	out := make([]types.OpenAIMessage, len(messages))
	for i, m := range messages {
		if m.ToolCalls != nil {
			m.ToolCalls = append([]types.OpenAIToolCall(nil), m.ToolCalls...)
		}
		out[i] = m
	}
	return out
}
