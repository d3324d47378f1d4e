package proxy

import (
	"context"
	"strings"

	"quill-llm/logger"
	"quill-llm/metrics"
	"quill-llm/parser"
	"quill-llm/types"
)

// Sequencer turns the RawDeltas of one upstream response into normalized events.
// Tool calls are emitted at most once per id and the sequence ends with exactly
// one done event, or with an error event and no done.
type Sequencer struct {
	ctx     context.Context
	lg      logger.Logger
	metrics *metrics.Metrics

	tokenizer *parser.Tokenizer
	full      strings.Builder

	// sent holds every tool-call id emitted or seen natively in this response
	sent map[string]struct{}
	// occurrences counts in-band ids handed out per name
	occurrences map[string]int
	// handled counts in-band calls seen while streaming, keyed by name and arguments
	handled  map[string]int
	finished bool

	contentChars  int
	thinkingChars int
	toolCalls     int
}

// NewSequencer creates a sequencer for one response. It logs through the logger stored in ctx.
func NewSequencer(ctx context.Context) *Sequencer {
	return newSequencer(ctx, logger.ConditionalLogger(ctx), nil)
}

func newSequencer(ctx context.Context, lg logger.Logger, m *metrics.Metrics) *Sequencer {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Sequencer{
		ctx:         ctx,
		lg:          lg.WithComponent(logger.ComponentSequencer),
		metrics:     m,
		tokenizer:   parser.NewTokenizer(),
		sent:        make(map[string]struct{}),
		occurrences: make(map[string]int),
		handled:     make(map[string]int),
	}
}

// Finished reports whether a done or error event has been produced
func (s *Sequencer) Finished() bool {
	return s.finished
}

// Process consumes one delta and returns the events it resolves
func (s *Sequencer) Process(d RawDelta) []types.Event {
	if s.finished {
		return nil
	}

	switch d.Kind {
	case DeltaReasoning:
		return s.thinking(nil, d.Text)
	case DeltaContent:
		s.full.WriteString(d.Text)
		return s.handleSpans(s.tokenizer.Feed(d.Text))
	case DeltaToolCalls:
		return s.native(d.ToolCalls)
	case DeltaError:
		return s.fail(d.Err)
	case DeltaRetryWithoutTools:
		return s.fail(&types.StreamError{Kind: types.ErrorKindUpstream, Message: "Upstream error", Data: d.Text})
	case DeltaEnd:
		return s.Finish()
	default:
		s.lg.Warn("Ignoring delta of unknown kind %d", d.Kind)
		return nil
	}
}

// Finish flushes the tokenizer, emits calls found only by re-scanning the
// whole response, and appends the done event. Later calls return nil.
// Rescan matches already seen while streaming are skipped before ids are
// assigned, so ids of streamed calls never shift.
func (s *Sequencer) Finish() []types.Event {
	if s.finished {
		return nil
	}

	events := s.handleSpans(s.tokenizer.Flush())

	var fresh []types.OpenAIToolCall
	for _, call := range parser.ExtractToolCalls(s.full.String()) {
		key := callKey(call.Function.Name, call.Function.Arguments)
		if s.handled[key] > 0 {
			s.handled[key]--
			continue
		}
		call.ID = s.nextID(call.Function.Name)
		if s.markSent(call.ID) {
			fresh = append(fresh, call)
		}
	}
	events = s.emitCalls(events, fresh, metrics.SourceRescan)

	s.finished = true
	logger.LogStreamSummary(s.ctx, s.lg, s.contentChars, s.thinkingChars, s.toolCalls, "done")
	return append(events, types.DoneEvent())
}

func (s *Sequencer) fail(err *types.StreamError) []types.Event {
	if err == nil {
		err = &types.StreamError{Kind: types.ErrorKindConnection, Message: "unknown error"}
	}
	s.finished = true
	s.metrics.StreamError(string(err.Kind))
	logger.LogStreamSummary(s.ctx, s.lg, s.contentChars, s.thinkingChars, s.toolCalls, string(err.Kind))
	return []types.Event{types.ErrorEvent(err)}
}

func (s *Sequencer) handleSpans(spans []parser.Span) []types.Event {
	var events []types.Event
	for _, span := range spans {
		events = s.handleSpan(events, span)
	}
	return events
}

func (s *Sequencer) handleSpan(events []types.Event, span parser.Span) []types.Event {
	switch span.Tag {
	case parser.TagThinking:
		return s.thinking(events, span.Text)

	case parser.TagFinal:
		if parser.MayContainToolCall(span.Text) {
			if found, fresh := s.inBand(span.Text); found > 0 {
				return s.emitCalls(events, fresh, metrics.SourceInBand)
			}
		}
		return s.content(events, span.Text)

	case parser.TagToolDef:
		if span.IsEcho() {
			s.lg.Debug("Dropping tool definition echo (%d chars)", len(span.Text))
			return events
		}
		if found, fresh := s.inBand(span.Raw()); found > 0 {
			return s.emitCalls(events, fresh, metrics.SourceInBand)
		}
		if span.IsToolLine() {
			return s.content(events, span.Raw())
		}
		s.lg.Debug("Dropping tool block without a parseable call: %s", logger.Truncate(span.Raw(), 200))
		return events

	case parser.TagCall:
		args := parser.ParseArguments(span.Text)
		s.handled[callKey(span.Name, args)]++
		id := s.nextID(span.Name)
		if !s.markSent(id) {
			return events
		}
		call := parser.NewToolCall(id, span.Name, args, "")
		return s.emitCalls(events, []types.OpenAIToolCall{call}, metrics.SourceInBand)

	default:
		s.lg.Warn("Ignoring span with unknown tag %s", span.Channel())
		return events
	}
}

// inBand extracts the calls in text and assigns them response-wide ids.
// found counts every call detected, including ones already emitted.
func (s *Sequencer) inBand(text string) (found int, fresh []types.OpenAIToolCall) {
	calls := parser.ExtractToolCalls(text)
	for _, call := range calls {
		s.handled[callKey(call.Function.Name, call.Function.Arguments)]++
		call.ID = s.nextID(call.Function.Name)
		if s.markSent(call.ID) {
			fresh = append(fresh, call)
		}
	}
	return len(calls), fresh
}

func (s *Sequencer) nextID(name string) string {
	s.occurrences[name]++
	return parser.CallID(name, s.occurrences[name])
}

func callKey(name, args string) string {
	return name + "\x00" + args
}

// markSent records id and reports whether it was new
func (s *Sequencer) markSent(id string) bool {
	if _, ok := s.sent[id]; ok {
		return false
	}
	s.sent[id] = struct{}{}
	return true
}

// native passes fragments through and drops complete records whose id was already emitted
func (s *Sequencer) native(calls []types.OpenAIToolCall) []types.Event {
	out := make([]types.OpenAIToolCall, 0, len(calls))
	for _, call := range calls {
		complete := call.ID != "" && call.Function.Name != "" && call.Index == nil
		if complete {
			if !s.markSent(call.ID) {
				s.lg.Debug("Dropping duplicate native tool call %s", call.ID)
				continue
			}
		} else if call.ID != "" {
			s.markSent(call.ID)
		}
		out = append(out, call)
	}
	return s.emitCalls(nil, out, metrics.SourceNative)
}

func (s *Sequencer) emitCalls(events []types.Event, calls []types.OpenAIToolCall, source string) []types.Event {
	if len(calls) == 0 {
		return events
	}
	for _, call := range calls {
		if call.Function.Name != "" {
			logger.LogToolUsed(s.ctx, s.lg, call.Function.Name, call.ID, source)
		}
	}
	s.toolCalls += len(calls)
	s.metrics.ToolCalls(source, len(calls))
	return append(events, types.ToolCallsEvent(calls))
}

func (s *Sequencer) content(events []types.Event, text string) []types.Event {
	if text == "" {
		return events
	}
	s.contentChars += len(text)
	return append(events, types.ContentEvent(text))
}

func (s *Sequencer) thinking(events []types.Event, text string) []types.Event {
	if text == "" {
		return events
	}
	s.thinkingChars += len(text)
	return append(events, types.ThinkingEvent(text))
}
