package parser

import (
	"bytes"
	"strings"
)

// Tag classifies a span of model output
type Tag int

const (
	TagFinal Tag = iota
	TagThinking
	TagToolDef
	TagCall
)

// String returns the string representation of the Tag
func (t Tag) String() string {
	switch t {
	case TagFinal:
		return "final"
	case TagThinking:
		return "thinking"
	case TagToolDef:
		return "tool_def"
	case TagCall:
		return "call"
	default:
		return "unknown"
	}
}

// Span is a classified slice of model output.
// Open and Close hold the delimiters of a closed block so the raw block can be
// rebuilt for tool-call extraction.
type Span struct {
	Tag   Tag
	Name  string
	Text  string
	Open  string
	Close string
}

// Channel renders the tag the way callers log it: final, thinking, tool_def or call:<name>
func (s Span) Channel() string {
	if s.Tag == TagCall {
		return "call:" + s.Name
	}
	return s.Tag.String()
}

// Raw rebuilds the span including its delimiters
func (s Span) Raw() string {
	return s.Open + s.Text + s.Close
}

// IsToolLine reports whether the span is a "Tool: NAME(ARGS)" line
func (s Span) IsToolLine() bool {
	return s.Tag == TagToolDef && strings.EqualFold(s.Open, toolLinePrefix)
}

// IsEcho reports whether the span is a <tools> definition echo
func (s Span) IsEcho() bool {
	return s.Tag == TagToolDef && strings.EqualFold(s.Open, toolsEchoOpen)
}

type markerKind int

const (
	markerBlock markerKind = iota
	markerLine
	markerHeader
	markerDelim
)

type marker struct {
	kind   markerKind
	open   string
	close  string
	tag    Tag
	fold   bool
	resets bool
}

const (
	toolLinePrefix = "Tool:"
	toolsEchoOpen  = "<tools>"

	// maxHeaderLen bounds how long a Harmony header may grow before it is
	// treated as literal text
	maxHeaderLen = 256
)

var markers = []marker{
	{kind: markerBlock, open: "<think>", close: "</think>", tag: TagThinking, fold: true},
	{kind: markerBlock, open: "<thinking>", close: "</thinking>", tag: TagThinking, fold: true},
	{kind: markerBlock, open: "<thought>", close: "</thought>", tag: TagThinking, fold: true},
	{kind: markerBlock, open: "<tool_call>", close: "</tool_call>", tag: TagToolDef, fold: true},
	{kind: markerBlock, open: "[TOOL_CALL]", close: "[/TOOL_CALL]", tag: TagToolDef, fold: true},
	{kind: markerBlock, open: toolsEchoOpen, close: "</tools>", tag: TagToolDef, fold: true},
	{kind: markerLine, open: toolLinePrefix, close: "\n", tag: TagToolDef, fold: true},
	{kind: markerHeader, open: tokStart, close: tokMessage},
	{kind: markerHeader, open: tokChannel, close: tokMessage},
	{kind: markerDelim, open: tokEnd, resets: true},
	{kind: markerDelim, open: tokReturn, resets: true},
	{kind: markerDelim, open: tokCall, resets: true},
	{kind: markerDelim, open: tokMessage},
}

var maxMarkerLen = func() int {
	n := 0
	for _, m := range markers {
		if len(m.open) > n {
			n = len(m.open)
		}
	}
	return n
}()

type tokenizerState int

const (
	stateText tokenizerState = iota
	stateBlock
	stateLine
	stateHeader
	stateCall
)

// Tokenizer incrementally classifies a chunked text stream into spans.
// A Tokenizer is not safe for concurrent use; create one per response.
type Tokenizer struct {
	buf       []byte
	state     tokenizerState
	channel   Tag
	block     *marker
	opened    string
	callName  string
	scanFrom  int
	lineBlank bool
}

// NewTokenizer creates a Tokenizer positioned at the start of a message
func NewTokenizer() *Tokenizer {
	return &Tokenizer{channel: TagFinal, lineBlank: true}
}

// Feed appends a chunk and returns the spans that are now unambiguous.
// Any suffix that could still be the start of a marker stays buffered.
func (t *Tokenizer) Feed(chunk string) []Span {
	if chunk == "" {
		return nil
	}
	t.buf = append(t.buf, chunk...)

	var out []Span
	for t.step(&out) {
	}
	return out
}

// Flush resolves whatever is still buffered at end of stream and resets the tokenizer.
// Unfinished markers fail open to final content; a confirmed call channel keeps its tag.
func (t *Tokenizer) Flush() []Span {
	var out []Span
	rest := string(t.buf)

	switch t.state {
	case stateText:
		out = appendSpan(out, Span{Tag: TagFinal, Text: rest})
	case stateBlock:
		out = appendSpan(out, Span{Tag: TagFinal, Text: t.opened + rest})
	case stateLine:
		out = append(out, Span{Tag: TagToolDef, Text: rest, Open: t.opened})
	case stateHeader:
		out = appendSpan(out, Span{Tag: TagFinal, Text: t.opened + rest})
	case stateCall:
		out = append(out, Span{Tag: TagCall, Name: t.callName, Text: rest})
	}

	*t = *NewTokenizer()
	return out
}

// step advances the state machine once; it reports whether more progress is possible
func (t *Tokenizer) step(out *[]Span) bool {
	switch t.state {
	case stateText:
		return t.stepText(out)
	case stateBlock:
		return t.stepBlock(out)
	case stateLine:
		return t.stepLine(out)
	case stateHeader:
		return t.stepHeader(out)
	case stateCall:
		return t.stepCall(out)
	}
	return false
}

func (t *Tokenizer) stepText(out *[]Span) bool {
	if len(t.buf) == 0 {
		return false
	}

	pos, m := t.nextMarker()
	if m == nil {
		hold := t.partialStart()
		t.emitText(out, hold)
		return false
	}

	t.emitText(out, pos)
	openText := string(t.buf[:len(m.open)])
	t.buf = t.buf[len(m.open):]

	switch m.kind {
	case markerBlock:
		t.opened = openText
		t.block = m
		t.state = stateBlock
	case markerLine:
		t.opened = openText
		t.state = stateLine
	case markerHeader:
		t.opened = m.open
		t.state = stateHeader
	case markerDelim:
		if m.resets {
			t.channel = TagFinal
		}
	}
	t.scanFrom = 0
	return true
}

func (t *Tokenizer) stepBlock(out *[]Span) bool {
	idx := indexMarker(t.buf[t.scanFrom:], t.block.close, t.block.fold)
	if idx < 0 {
		t.scanFrom = max(0, len(t.buf)-len(t.block.close)+1)
		return false
	}
	idx += t.scanFrom
	end := idx + len(t.block.close)

	*out = append(*out, Span{
		Tag:   t.block.tag,
		Text:  string(t.buf[:idx]),
		Open:  t.opened,
		Close: string(t.buf[idx:end]),
	})
	t.buf = t.buf[end:]
	t.resetToText()
	return true
}

func (t *Tokenizer) stepLine(out *[]Span) bool {
	idx := bytes.IndexByte(t.buf, '\n')
	if idx < 0 {
		return false
	}
	*out = append(*out, Span{Tag: TagToolDef, Text: string(t.buf[:idx]), Open: t.opened})
	t.buf = t.buf[idx:]
	t.resetToText()
	return true
}

func (t *Tokenizer) stepHeader(out *[]Span) bool {
	idx := bytes.Index(t.buf, []byte(tokMessage))
	switch {
	case idx >= 0 && idx <= maxHeaderLen:
		header := ParseHeader(t.opened + string(t.buf[:idx]))
		t.buf = t.buf[idx+len(tokMessage):]
		t.resetToText()
		t.lineBlank = true
		switch header.Tag() {
		case TagCall:
			t.state = stateCall
			t.callName = header.Recipient
		case TagThinking:
			t.channel = TagThinking
		default:
			t.channel = TagFinal
		}
		return true
	case idx > maxHeaderLen || (idx < 0 && len(t.buf) >= maxHeaderLen+len(tokMessage)):
		// Header never completed; release the opening token as text
		*out = appendSpan(*out, Span{Tag: TagFinal, Text: t.opened})
		t.resetToText()
		return true
	default:
		return false
	}
}

func (t *Tokenizer) stepCall(out *[]Span) bool {
	idx := bytes.Index(t.buf[t.scanFrom:], []byte(harmonyTokenPrefix))
	if idx < 0 {
		t.scanFrom = max(0, len(t.buf)-len(harmonyTokenPrefix)+1)
		return false
	}
	idx += t.scanFrom
	*out = append(*out, Span{Tag: TagCall, Name: t.callName, Text: string(t.buf[:idx])})
	t.buf = t.buf[idx:]
	t.resetToText()
	t.channel = TagFinal
	return true
}

func (t *Tokenizer) resetToText() {
	t.state = stateText
	t.block = nil
	t.opened = ""
	t.callName = ""
	t.scanFrom = 0
}

// emitText releases buf[:n] as text in the current channel
func (t *Tokenizer) emitText(out *[]Span, n int) {
	if n <= 0 {
		return
	}
	text := string(t.buf[:n])
	t.buf = t.buf[n:]

	if i := strings.LastIndexByte(text, '\n'); i >= 0 {
		t.lineBlank = isBlank(text[i+1:])
	} else {
		t.lineBlank = t.lineBlank && isBlank(text)
	}
	*out = appendSpan(*out, Span{Tag: t.channel, Text: text})
}

// nextMarker finds the earliest complete marker in the buffer
func (t *Tokenizer) nextMarker() (int, *marker) {
	best := -1
	var found *marker
	for i := range markers {
		m := &markers[i]
		pos := t.findMarker(m)
		if pos >= 0 && (best < 0 || pos < best) {
			best = pos
			found = m
		}
	}
	return best, found
}

func (t *Tokenizer) findMarker(m *marker) int {
	from := 0
	for from <= len(t.buf) {
		idx := indexMarker(t.buf[from:], m.open, m.fold)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		if m.kind != markerLine || (t.channel == TagFinal && t.atLineStart(pos)) {
			return pos
		}
		from = pos + 1
	}
	return -1
}

// partialStart returns the offset of the earliest suffix that could still grow into a marker
func (t *Tokenizer) partialStart() int {
	start := max(0, len(t.buf)-maxMarkerLen+1)
	for i := start; i < len(t.buf); i++ {
		rest := t.buf[i:]
		for j := range markers {
			m := &markers[j]
			if len(rest) >= len(m.open) || !isPrefixOf(rest, m.open, m.fold) {
				continue
			}
			if m.kind == markerLine && (t.channel != TagFinal || !t.atLineStart(i)) {
				continue
			}
			return i
		}
	}
	return len(t.buf)
}

// atLineStart reports whether only blanks precede pos on its line
func (t *Tokenizer) atLineStart(pos int) bool {
	before := t.buf[:pos]
	if i := bytes.LastIndexByte(before, '\n'); i >= 0 {
		return isBlank(string(before[i+1:]))
	}
	return t.lineBlank && isBlank(string(before))
}

func appendSpan(out []Span, s Span) []Span {
	if s.Text == "" {
		return out
	}
	if n := len(out); n > 0 && out[n-1].Tag == s.Tag && (s.Tag == TagFinal || s.Tag == TagThinking) {
		out[n-1].Text += s.Text
		return out
	}
	return append(out, s)
}

func isBlank(s string) bool {
	return strings.Trim(s, " \t\r") == ""
}

func indexMarker(s []byte, m string, fold bool) int {
	if !fold {
		return bytes.Index(s, []byte(m))
	}
	n := len(m)
	for i := 0; i+n <= len(s); i++ {
		if equalFoldASCII(s[i:i+n], m) {
			return i
		}
	}
	return -1
}

// isPrefixOf reports whether s is a prefix of m
func isPrefixOf(s []byte, m string, fold bool) bool {
	if len(s) > len(m) {
		return false
	}
	if fold {
		return equalFoldASCII(s, m[:len(s)])
	}
	return string(s) == m[:len(s)]
}

func equalFoldASCII(s []byte, m string) bool {
	if len(s) != len(m) {
		return false
	}
	for i := 0; i < len(s); i++ {
		if lowerASCII(s[i]) != lowerASCII(m[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
