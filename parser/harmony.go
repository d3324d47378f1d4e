// Package parser classifies streamed model output into semantic channels and
// recovers in-band tool calls from it. It understands Harmony tokens such as
// <|start|>, <|channel|>, <|message|> and <|end|>, thinking tags, and the
// text conventions models use to request tools when native calling is off.
package parser

import (
	"fmt"
	"regexp"
	"strings"
)

// Harmony tokens recognized by the tokenizer
const (
	tokStart   = "<|start|>"
	tokChannel = "<|channel|>"
	tokMessage = "<|message|>"
	tokEnd     = "<|end|>"
	tokReturn  = "<|return|>"
	tokCall    = "<|call|>"

	harmonyTokenPrefix = "<|"
)

// ChannelType represents the different channel types in Harmony format
type ChannelType int

const (
	ChannelAnalysis ChannelType = iota
	ChannelFinal
	ChannelCommentary
	ChannelUnknown
)

// String returns the string representation of the ChannelType
func (c ChannelType) String() string {
	switch c {
	case ChannelAnalysis:
		return "analysis"
	case ChannelFinal:
		return "final"
	case ChannelCommentary:
		return "commentary"
	default:
		return "unknown"
	}
}

// ParseChannelType converts a string to ChannelType enum with fallback to unknown
func ParseChannelType(channel string) ChannelType {
	switch strings.ToLower(strings.TrimSpace(channel)) {
	case "analysis":
		return ChannelAnalysis
	case "final":
		return ChannelFinal
	case "commentary":
		return ChannelCommentary
	default:
		return ChannelUnknown
	}
}

// Header is a parsed Harmony message header, the text between <|start|> or
// <|channel|> and <|message|>
type Header struct {
	Role       string
	Channel    ChannelType
	RawChannel string
	Recipient  string
}

// Tag maps the header onto the span tag its message body belongs to
func (h Header) Tag() Tag {
	if h.Recipient != "" {
		return TagCall
	}
	if h.Channel == ChannelAnalysis {
		return TagThinking
	}
	return TagFinal
}

// TokenRecognizer holds the compiled Harmony header patterns
type TokenRecognizer struct {
	rolePattern      *regexp.Regexp
	channelPattern   *regexp.Regexp
	recipientPattern *regexp.Regexp
}

// NewTokenRecognizer creates a new TokenRecognizer with compiled patterns
func NewTokenRecognizer() (*TokenRecognizer, error) {
	rolePattern, err := regexp.Compile(`<\|start\|>\s*(\w+)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile role pattern: %w", err)
	}

	channelPattern, err := regexp.Compile(`<\|channel\|>\s*(\w+)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile channel pattern: %w", err)
	}

	recipientPattern, err := regexp.Compile(`to=(?:functions\.)?([\w.\-]+)`)
	if err != nil {
		return nil, fmt.Errorf("failed to compile recipient pattern: %w", err)
	}

	return &TokenRecognizer{
		rolePattern:      rolePattern,
		channelPattern:   channelPattern,
		recipientPattern: recipientPattern,
	}, nil
}

// ParseHeader extracts role, channel and recipient from a raw header
func (tr *TokenRecognizer) ParseHeader(raw string) Header {
	h := Header{Channel: ChannelUnknown}
	if m := tr.rolePattern.FindStringSubmatch(raw); m != nil {
		h.Role = m[1]
	}
	if m := tr.channelPattern.FindStringSubmatch(raw); m != nil {
		h.RawChannel = m[1]
		h.Channel = ParseChannelType(m[1])
	}
	if m := tr.recipientPattern.FindStringSubmatch(raw); m != nil {
		h.Recipient = m[1]
	}
	return h
}

// Package-level default token recognizer for performance
var defaultTokenRecognizer *TokenRecognizer

func init() {
	var err error
	defaultTokenRecognizer, err = NewTokenRecognizer()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default token recognizer: %v", err))
	}
}

// ParseHeader parses a Harmony header with the default recognizer
func ParseHeader(raw string) Header {
	return defaultTokenRecognizer.ParseHeader(raw)
}

// IsHarmonyFormat returns true if the content contains Harmony channel tokens
func IsHarmonyFormat(content string) bool {
	return strings.Contains(content, tokChannel) || strings.Contains(content, tokStart)
}
