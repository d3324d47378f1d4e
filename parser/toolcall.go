package parser

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"quill-llm/types"
)

var (
	taggedBlockPattern  = regexp.MustCompile(`(?is)<tool_call>(.*?)</tool_call>`)
	xmlFunctionPattern  = regexp.MustCompile(`(?is)<function=(\w+)>(.*?)</function>`)
	bracketBlockPattern = regexp.MustCompile(`(?is)\[TOOL_CALL\]\s*(.*?)\s*\[/TOOL_CALL\]`)
	namedCallPattern    = regexp.MustCompile(`(?s)^(\w+)\s*(?:\((.*)\))?`)
	toolLinePattern     = regexp.MustCompile(`(?i)(?:^|\s)tool:\s+(\w+)(?:\(([^)]*)\))?`)
	channelCallPattern  = regexp.MustCompile(`(?is)(?:<\|start\|>assistant)?<\|channel\|>commentary to=functions\.(\w+).*?<\|message\|>`)
)

// toolMatch is one in-band call found in a scan, positioned in the scanned text
type toolMatch struct {
	start int
	end   int
	name  string
	args  string
}

// ExtractToolCalls scans text for in-band tool calls in any supported syntax:
//
//	<tool_call>{"name": ..., "arguments": ...}</tool_call>
//	<tool_call><function=NAME>ARGS</function></tool_call>
//	<tool_call>NAME(ARGS)</tool_call>
//	[TOOL_CALL]NAME(ARGS)[/TOOL_CALL]
//	Tool: NAME(ARGS)
//	<|channel|>commentary to=functions.NAME <|message|>ARGS
//
// Calls are returned in text order with ids unique within the scan.
// Unparseable arguments become {}. Returns nil when nothing is found.
func ExtractToolCalls(content string) []types.OpenAIToolCall {
	matches := scanToolCalls(content)
	if len(matches) == 0 {
		return nil
	}

	occurrences := make(map[string]int)
	calls := make([]types.OpenAIToolCall, 0, len(matches))
	for _, m := range matches {
		occurrences[m.name]++
		calls = append(calls, NewToolCall(CallID(m.name, occurrences[m.name]), m.name, m.args, content[m.start:m.end]))
	}
	return calls
}

// NewToolCall builds a function tool call record
func NewToolCall(id, name, arguments, originalText string) types.OpenAIToolCall {
	return types.OpenAIToolCall{
		ID:   id,
		Type: "function",
		Function: types.OpenAIToolCallFunction{
			Name:      name,
			Arguments: arguments,
		},
		OriginalText: originalText,
	}
}

// CallID returns the id of the n-th (1-based) call to name within one response
func CallID(name string, occurrence int) string {
	if occurrence <= 1 {
		return "call_" + name
	}
	return fmt.Sprintf("call_%s_%d", name, occurrence)
}

// ParseArguments normalizes an in-band argument string to compact JSON, or {} if it is not JSON
func ParseArguments(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return "{}"
	}
	return buf.String()
}

// MayContainToolCall is the cheap check run on plain content before a full scan
func MayContainToolCall(content string) bool {
	lower := strings.ToLower(content)
	return strings.Contains(lower, "<tool_call") ||
		strings.Contains(lower, "[tool_call") ||
		strings.HasPrefix(strings.TrimSpace(lower), "tool:") ||
		strings.Contains(content, tokChannel)
}

func scanToolCalls(content string) []toolMatch {
	var found []toolMatch
	found = append(found, scanTaggedBlocks(content)...)
	found = append(found, scanBracketBlocks(content)...)
	found = append(found, scanToolLines(content)...)
	found = append(found, scanChannelCalls(content)...)
	if len(found) == 0 {
		return nil
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].start != found[j].start {
			return found[i].start < found[j].start
		}
		return found[i].end > found[j].end
	})

	// A match nested inside an accepted one is the same call seen by a second syntax
	kept := found[:0]
	coveredTo := -1
	for _, m := range found {
		if m.end <= coveredTo {
			continue
		}
		kept = append(kept, m)
		if m.end > coveredTo {
			coveredTo = m.end
		}
	}
	return kept
}

func scanTaggedBlocks(content string) []toolMatch {
	var found []toolMatch
	for _, loc := range taggedBlockPattern.FindAllStringSubmatchIndex(content, -1) {
		inner := strings.TrimSpace(content[loc[2]:loc[3]])
		name, args, ok := parseTaggedInner(inner)
		if !ok {
			continue
		}
		found = append(found, toolMatch{start: loc[0], end: loc[1], name: name, args: args})
	}
	return found
}

func parseTaggedInner(inner string) (name, args string, ok bool) {
	if strings.HasPrefix(inner, "{") {
		var obj struct {
			Name       string          `json:"name"`
			Arguments  json.RawMessage `json:"arguments"`
			Parameters json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal([]byte(inner), &obj); err == nil && obj.Name != "" {
			raw := obj.Arguments
			if len(raw) == 0 {
				raw = obj.Parameters
			}
			return obj.Name, argumentValue(raw), true
		}
	}

	if m := xmlFunctionPattern.FindStringSubmatch(inner); m != nil {
		return m[1], ParseArguments(m[2]), true
	}

	if m := namedCallPattern.FindStringSubmatch(inner); m != nil {
		return m[1], ParseArguments(m[2]), true
	}
	return "", "", false
}

// argumentValue normalizes a JSON "arguments" member, unwrapping string-encoded JSON
func argumentValue(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return "{}"
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			inner := strings.TrimSpace(s)
			if strings.HasPrefix(inner, "{") || strings.HasPrefix(inner, "[") {
				return ParseArguments(inner)
			}
		}
	}
	return ParseArguments(string(trimmed))
}

func scanBracketBlocks(content string) []toolMatch {
	var found []toolMatch
	for _, loc := range bracketBlockPattern.FindAllStringSubmatchIndex(content, -1) {
		m := namedCallPattern.FindStringSubmatch(content[loc[2]:loc[3]])
		if m == nil {
			continue
		}
		found = append(found, toolMatch{start: loc[0], end: loc[1], name: m[1], args: ParseArguments(m[2])})
	}
	return found
}

func scanToolLines(content string) []toolMatch {
	var found []toolMatch
	for _, loc := range toolLinePattern.FindAllStringSubmatchIndex(content, -1) {
		start := loc[0]
		if r := rune(content[start]); start < loc[1] && unicode.IsSpace(r) {
			start++
		}
		args := ""
		if loc[4] >= 0 {
			args = content[loc[4]:loc[5]]
		}
		found = append(found, toolMatch{start: start, end: loc[1], name: content[loc[2]:loc[3]], args: ParseArguments(args)})
	}
	return found
}

func scanChannelCalls(content string) []toolMatch {
	var found []toolMatch
	for _, loc := range channelCallPattern.FindAllStringSubmatchIndex(content, -1) {
		bodyEnd := len(content)
		if i := strings.Index(content[loc[1]:], harmonyTokenPrefix); i >= 0 {
			bodyEnd = loc[1] + i
		}
		found = append(found, toolMatch{
			start: loc[0],
			end:   bodyEnd,
			name:  content[loc[2]:loc[3]],
			args:  ParseArguments(content[loc[1]:bodyEnd]),
		})
	}
	return found
}
