package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"mime"
	"net/http"
	"strings"

	"quill-llm/logger"
	"quill-llm/types"
)

// DeltaKind identifies the variant of a decoded upstream increment
type DeltaKind int

const (
	DeltaContent DeltaKind = iota
	DeltaReasoning
	DeltaToolCalls
	DeltaError
	DeltaRetryWithoutTools
	DeltaEnd
)

// String returns the string representation of the DeltaKind
func (k DeltaKind) String() string {
	switch k {
	case DeltaContent:
		return "content"
	case DeltaReasoning:
		return "reasoning"
	case DeltaToolCalls:
		return "tool_calls"
	case DeltaError:
		return "error"
	case DeltaRetryWithoutTools:
		return "retry_without_tools"
	case DeltaEnd:
		return "end"
	default:
		return "unknown"
	}
}

// RawDelta is one increment decoded from the upstream response.
// Text carries content or reasoning, and the rejection text for DeltaRetryWithoutTools.
type RawDelta struct {
	Kind      DeltaKind
	Text      string
	ToolCalls []types.OpenAIToolCall
	Err       *types.StreamError
}

// DecodeOptions describes the attempt whose response is being decoded
type DecodeOptions struct {
	Attempt   int
	ToolsSent bool
	Logger    logger.Logger
	// OnChunk receives each SSE payload, or the whole body of a buffered response
	OnChunk func(raw string)
}

const (
	maxErrorBodyBytes = 1 << 20
	sseInitialBuffer  = 64 * 1024
	sseMaxBuffer      = 4 * 1024 * 1024
)

// toolChoiceRejectionPhrases mark an upstream error as a refusal of native tool parameters
var toolChoiceRejectionPhrases = []string{
	"tool choice requires",
	"tool_choice",
	"tools are not supported",
	"does not support tools",
	"function calling is not supported",
}

// IsToolChoiceRejection reports whether an upstream error body rejects native tools
func IsToolChoiceRejection(body string) bool {
	lower := strings.ToLower(body)
	for _, phrase := range toolChoiceRejectionPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// Decode turns an upstream response into RawDeltas. The sequence always ends
// with DeltaEnd, DeltaError or DeltaRetryWithoutTools unless the consumer stops
// early. The response body is closed when the sequence returns.
func Decode(ctx context.Context, resp *http.Response, opts DecodeOptions) iter.Seq[RawDelta] {
	lg := opts.Logger
	if lg == nil {
		lg = logger.Nop()
	}
	onChunk := opts.OnChunk
	if onChunk == nil {
		onChunk = func(string) {}
	}

	return func(yield func(RawDelta) bool) {
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			yield(decodeErrorResponse(resp, opts, lg))
			return
		}

		if !isEventStream(resp.Header.Get("Content-Type")) {
			decodeBuffered(ctx, resp.Body, lg, onChunk, yield)
			return
		}

		decodeEventStream(ctx, resp.Body, lg, onChunk, yield)
	}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), "text/event-stream")
	}
	return mediaType == "text/event-stream"
}

func errorDelta(kind types.ErrorKind, status int, message string, data interface{}) RawDelta {
	return RawDelta{Kind: DeltaError, Err: &types.StreamError{Kind: kind, Status: status, Message: message, Data: data}}
}

func decodeErrorResponse(resp *http.Response, opts DecodeOptions, lg logger.Logger) RawDelta {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		lg.Warn("Failed to read error body (status %d): %v", resp.StatusCode, err)
	}
	text := string(body)

	if opts.Attempt == 0 && opts.ToolsSent && IsToolChoiceRejection(text) {
		lg.Info("%s Upstream rejected native tool parameters (status %d)", logger.EmojiSkip, resp.StatusCode)
		return RawDelta{Kind: DeltaRetryWithoutTools, Text: text}
	}

	var data interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		data = text
	}
	lg.Error("Upstream returned status %d: %s", resp.StatusCode, logger.Truncate(text, 500))
	return errorDelta(types.ErrorKindUpstream, resp.StatusCode, "Upstream error", data)
}

func decodeBuffered(ctx context.Context, body io.Reader, lg logger.Logger, onChunk func(string), yield func(RawDelta) bool) {
	raw, err := io.ReadAll(body)
	if err != nil {
		yield(errorDelta(types.ErrorKindConnection, 0, fmt.Sprintf("error reading response: %v", err), nil))
		return
	}
	onChunk(string(raw))

	var resp types.OpenAIResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		lg.Error("Failed to parse buffered response: %v", err)
		yield(errorDelta(types.ErrorKindDecode, 0, fmt.Sprintf("Failed to parse response: %v", err), nil))
		return
	}
	logger.LogNonStreamingResponse(ctx, lg, len(resp.Choices))

	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		msg := choice.Message

		reasoning := msg.ReasoningContent
		if reasoning == "" {
			reasoning = msg.Reasoning
		}
		if reasoning != "" && !yield(RawDelta{Kind: DeltaReasoning, Text: reasoning}) {
			return
		}
		if msg.Content != nil && *msg.Content != "" && !yield(RawDelta{Kind: DeltaContent, Text: *msg.Content}) {
			return
		}
		if len(msg.ToolCalls) > 0 && !yield(RawDelta{Kind: DeltaToolCalls, ToolCalls: msg.ToolCalls}) {
			return
		}
		if choice.Text != "" && !yield(RawDelta{Kind: DeltaContent, Text: choice.Text}) {
			return
		}
	}

	yield(RawDelta{Kind: DeltaEnd})
}

// ssePayload returns the data of an SSE "data:" line
func ssePayload(line string) (string, bool) {
	rest, ok := strings.CutPrefix(line, "data:")
	if !ok {
		return "", false
	}
	return strings.TrimPrefix(rest, " "), true
}

func decodeEventStream(ctx context.Context, body io.Reader, lg logger.Logger, onChunk func(string), yield func(RawDelta) bool) {
	logger.LogStreamingResponse(ctx, lg)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, sseInitialBuffer), sseMaxBuffer)

	chunks := 0
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		payload, ok := ssePayload(line)
		if !ok {
			continue
		}
		if strings.TrimSpace(payload) == "[DONE]" {
			lg.Debug("🏁 Stream finished after %d chunks", chunks)
			yield(RawDelta{Kind: DeltaEnd})
			return
		}

		var chunk types.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			lg.Debug("Skipping undecodable stream chunk: %v", err)
			continue
		}
		chunks++
		onChunk(payload)

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		delta := choice.Delta

		if thinking := delta.Thinking(); thinking != "" {
			if !yield(RawDelta{Kind: DeltaReasoning, Text: thinking}) {
				return
			}
		}

		content := delta.Content
		if content == "" {
			content = choice.Text
		}
		if content != "" {
			if !yield(RawDelta{Kind: DeltaContent, Text: content}) {
				return
			}
		}

		if len(delta.ToolCalls) > 0 {
			if !yield(RawDelta{Kind: DeltaToolCalls, ToolCalls: delta.ToolCalls}) {
				return
			}
		}
	}

	if err := scanner.Err(); err != nil {
		lg.Error("Streaming error after %d chunks: %v", chunks, err)
		yield(errorDelta(types.ErrorKindConnection, 0, fmt.Sprintf("error reading stream: %v", err), nil))
		return
	}

	lg.Debug("Stream ended without [DONE] after %d chunks", chunks)
	yield(RawDelta{Kind: DeltaEnd})
}
