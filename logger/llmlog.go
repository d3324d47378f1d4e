package logger

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLLMLogEntries is the ring capacity used when none is configured
const DefaultLLMLogEntries = 100

// LLMLogRequest is the request half of one upstream exchange
type LLMLogRequest struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    interface{}       `json:"body"`
}

// LLMLogResponse is the response half of one upstream exchange
type LLMLogResponse struct {
	StatusCode  int             `json:"status_code,omitempty"`
	Streaming   bool            `json:"streaming"`
	ChunkCount  int             `json:"chunk_count"`
	FullContent string          `json:"full_content,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
	Error       string          `json:"error,omitempty"`
}

// LLMLogEntry records one upstream call
type LLMLogEntry struct {
	ID             string         `json:"id"`
	TimestampStart time.Time      `json:"timestamp_start"`
	TimestampEnd   *time.Time     `json:"timestamp_end"`
	Request        LLMLogRequest  `json:"request"`
	Response       LLMLogResponse `json:"response"`
}

// LLMLog keeps the most recent upstream exchanges for the debug endpoint
type LLMLog struct {
	mu       sync.Mutex
	entries  []*LLMLogEntry
	capacity int
}

// NewLLMLog creates a ring holding at most capacity entries
func NewLLMLog(capacity int) *LLMLog {
	if capacity <= 0 {
		capacity = DefaultLLMLogEntries
	}
	return &LLMLog{capacity: capacity}
}

// Start records a new exchange and returns a handle for filling in the response.
// The Authorization header is stored as "***".
func (l *LLMLog) Start(url, method string, headers http.Header, body interface{}, streaming bool) *LLMExchange {
	if l == nil {
		return nil
	}

	masked := make(map[string]string, len(headers))
	for k := range headers {
		if strings.EqualFold(k, "Authorization") {
			masked[k] = "***"
			continue
		}
		masked[k] = headers.Get(k)
	}

	entry := &LLMLogEntry{
		ID:             uuid.NewString(),
		TimestampStart: time.Now(),
		Request: LLMLogRequest{
			URL:     url,
			Method:  method,
			Headers: masked,
			Body:    body,
		},
		Response: LLMLogResponse{Streaming: streaming},
	}
	l.add(entry)
	return &LLMExchange{log: l, entry: entry}
}

func (l *LLMLog) add(entry *LLMLogEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if over := len(l.entries) - l.capacity; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Entries returns a snapshot of the log, oldest first
func (l *LLMLog) Entries() []LLMLogEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]LLMLogEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = *e
	}
	return out
}

// Clear drops every entry
func (l *LLMLog) Clear() {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// LLMExchange updates one entry while its response streams in. A nil exchange is a no-op.
type LLMExchange struct {
	log   *LLMLog
	entry *LLMLogEntry
}

// ID returns the entry id
func (x *LLMExchange) ID() string {
	if x == nil {
		return ""
	}
	return x.entry.ID
}

func (x *LLMExchange) update(fn func(e *LLMLogEntry)) {
	if x == nil {
		return
	}
	x.log.mu.Lock()
	defer x.log.mu.Unlock()
	fn(x.entry)
}

// SetStatus records the upstream status code
func (x *LLMExchange) SetStatus(status int) {
	x.update(func(e *LLMLogEntry) { e.Response.StatusCode = status })
}

// AddChunk counts one raw payload. A buffered response keeps it as the body.
func (x *LLMExchange) AddChunk(raw string) {
	x.update(func(e *LLMLogEntry) {
		e.Response.ChunkCount++
		if !e.Response.Streaming && json.Valid([]byte(raw)) {
			e.Response.Body = json.RawMessage(raw)
		}
	})
}

// AppendContent accumulates assistant content text
func (x *LLMExchange) AppendContent(text string) {
	x.update(func(e *LLMLogEntry) { e.Response.FullContent += text })
}

// Fail records an error message
func (x *LLMExchange) Fail(message string) {
	x.update(func(e *LLMLogEntry) { e.Response.Error = message })
}

// Finish stamps the end time. Later calls keep the first timestamp.
func (x *LLMExchange) Finish() {
	x.update(func(e *LLMLogEntry) {
		if e.TimestampEnd == nil {
			now := time.Now()
			e.TimestampEnd = &now
		}
	})
}
