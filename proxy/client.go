package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"net/http"
	"strings"
	"time"

	"quill-llm/circuitbreaker"
	"quill-llm/logger"
	"quill-llm/metrics"
	"quill-llm/types"
)

const (
	// defaultHeaderTimeout bounds the wait for upstream response headers
	defaultHeaderTimeout = 60 * time.Second
	// defaultClientTimeout bounds a whole exchange, streaming body included
	defaultClientTimeout = 10 * time.Minute
)

// ClientOptions configures a Client. Every field is optional; a nil LLMLog or
// Metrics disables that recording.
type ClientOptions struct {
	HTTPClient       *http.Client
	ToolDescriptions map[string]string
	Health           *circuitbreaker.HealthManager
	Metrics          *metrics.Metrics
	LLMLog           *logger.LLMLog
	LoggerConfig     logger.LoggerConfig
}

// Client runs logical chat calls against an OpenAI-compatible upstream and
// exposes each one as a normalized event sequence
type Client struct {
	httpClient   *http.Client
	orchestrator *Orchestrator
	health       *circuitbreaker.HealthManager
	metrics      *metrics.Metrics
	llmLog       *logger.LLMLog
	loggerConfig logger.LoggerConfig
}

// NewClient creates a Client
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultClientTimeout}
	}
	health := opts.Health
	if health == nil {
		health = circuitbreaker.NewHealthManager(circuitbreaker.DefaultConfig())
	}
	return &Client{
		httpClient:   httpClient,
		orchestrator: NewOrchestrator(opts.ToolDescriptions),
		health:       health,
		metrics:      opts.Metrics,
		llmLog:       opts.LLMLog,
		loggerConfig: opts.LoggerConfig,
	}
}

// Stream performs the call lazily: nothing is sent upstream until the sequence
// is ranged over, and breaking out of the range closes the upstream response.
// The sequence ends with exactly one done event or one error event.
func (c *Client) Stream(ctx context.Context, req ChatRequest) iter.Seq[types.Event] {
	return func(yield func(types.Event) bool) {
		ctx := ensureRequestID(ctx)
		lg := logger.FromContext(ctx, c.loggerConfig).WithComponent(logger.ComponentClient).WithModel(req.Model)

		logger.LogRequest(ctx, lg, req.Model, len(req.Messages), len(req.Tools))
		if len(req.Tools) > 0 {
			names := make([]string, 0, len(req.Tools))
			for _, tool := range req.Tools {
				names = append(names, tool.Function.Name)
			}
			logger.LogToolNames(ctx, lg, names)
		}

		start := time.Now()
		attempt := c.orchestrator.FirstAttempt(req)
		for {
			outcome := c.runAttempt(ctx, lg, attempt, yield)

			next, retry := c.orchestrator.Next(attempt, outcome)
			if !retry {
				if outcome == OutcomeToolChoiceRejected {
					c.metrics.StreamError(string(types.ErrorKindUpstream))
					yield(types.ErrorEvent(&types.StreamError{Kind: types.ErrorKindUpstream, Message: "Upstream rejected tool parameters"}))
				}
				c.metrics.ObserveStream(outcome.String(), time.Since(start))
				return
			}
			c.metrics.FallbackRetry()
			attempt = next
		}
	}
}

// Complete runs the call without upstream streaming and aggregates the events
func (c *Client) Complete(ctx context.Context, req ChatRequest) (Completion, error) {
	req.Stream = false
	return Collect(c.Stream(ctx, req))
}

// endpointURL builds the chat-completions URL for a base URL
func endpointURL(baseURL string) string {
	return strings.TrimRight(baseURL, "/") + "/chat/completions"
}

func (c *Client) runAttempt(ctx context.Context, lg logger.Logger, attempt Attempt, yield func(types.Event) bool) Outcome {
	base := attempt.chat.BaseURL
	url := endpointURL(base)

	fail := func(se *types.StreamError) Outcome {
		c.metrics.StreamError(string(se.Kind))
		yield(types.ErrorEvent(se))
		return OutcomeFailed
	}

	payload, err := json.Marshal(attempt.Request)
	if err != nil {
		return fail(&types.StreamError{Kind: types.ErrorKindConnection, Message: fmt.Sprintf("failed to marshal request: %v", err)})
	}
	lg.Debug("%s Request body: %s", logger.EmojiOutbound, string(payload))

	if !c.health.Allow(base) {
		state, _ := c.health.Endpoint(base)
		lg.Warn("%s Circuit open for %s (%d failures, retry after %s), sending anyway",
			logger.EmojiAlert, base, state.ConsecutiveFailures, state.RetryAt.Format(time.RFC3339))
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fail(&types.StreamError{Kind: types.ErrorKindConnection, Message: fmt.Sprintf("failed to create request: %v", err)})
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := attempt.chat.APIKey; key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	exchange := c.llmLog.Start(url, http.MethodPost, httpReq.Header, attempt.Request, attempt.Request.Stream)
	defer exchange.Finish()

	logger.LogProxyRequest(ctx, lg, url, attempt.Number, attempt.Request.Stream, attempt.ToolsSent)

	timeout := attempt.chat.Timeout
	if timeout <= 0 {
		timeout = defaultHeaderTimeout
	}
	timer := time.AfterFunc(timeout, cancel)
	resp, err := c.httpClient.Do(httpReq)
	timedOut := !timer.Stop()
	if err != nil {
		c.health.Observe(base, 0, err)
		c.metrics.ObserveUpstream(attempt.Number, 0)

		message := err.Error()
		if timedOut && ctx.Err() == nil {
			message = fmt.Sprintf("no response from upstream within %s", timeout)
		}
		lg.Error("Upstream request failed: %s", message)
		exchange.Fail(message)
		return fail(&types.StreamError{Kind: types.ErrorKindConnection, Message: message})
	}

	c.metrics.ObserveUpstream(attempt.Number, resp.StatusCode)
	exchange.SetStatus(resp.StatusCode)
	c.health.Observe(base, resp.StatusCode, nil)

	seq := newSequencer(ctx, lg, c.metrics)
	deltas := Decode(attemptCtx, resp, DecodeOptions{
		Attempt:   attempt.Number,
		ToolsSent: attempt.ToolsSent,
		Logger:    lg.WithComponent(logger.ComponentDecoder),
		OnChunk:   exchange.AddChunk,
	})

	failed := false
	for d := range deltas {
		switch d.Kind {
		case DeltaRetryWithoutTools:
			logger.LogFallbackRetry(ctx, lg, d.Text)
			exchange.Fail(d.Text)
			return OutcomeToolChoiceRejected
		case DeltaContent:
			exchange.AppendContent(d.Text)
		case DeltaError:
			failed = true
			if d.Err != nil {
				exchange.Fail(d.Err.Error())
			}
		}

		for _, event := range seq.Process(d) {
			if !yield(event) {
				return OutcomeAbandoned
			}
		}
		if seq.Finished() {
			break
		}
	}

	if !seq.Finished() {
		for _, event := range seq.Finish() {
			if !yield(event) {
				return OutcomeAbandoned
			}
		}
	}
	if failed {
		return OutcomeFailed
	}
	return OutcomeCompleted
}
