package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"quill-llm/circuitbreaker"
	"quill-llm/config"
	"quill-llm/logger"
	"quill-llm/types"
)

// maxPayloadBytes caps the size of an incoming chat payload
const maxPayloadBytes = 8 << 20

// ChatPayload is the JSON body of the chat routes
type ChatPayload struct {
	Messages                []types.OpenAIMessage `json:"messages"`
	Tools                   []types.OpenAITool    `json:"tools,omitempty"`
	ToolChoice              string                `json:"tool_choice,omitempty"`
	ModelName               string                `json:"model_name,omitempty"`
	ModelType               config.ModelType      `json:"model_type,omitempty"`
	BaseURL                 string                `json:"base_url,omitempty"`
	APIKey                  string                `json:"api_key,omitempty"`
	Model                   string                `json:"model,omitempty"`
	TimeoutS                int                   `json:"timeout_s,omitempty"`
	Temperature             *float64              `json:"temperature,omitempty"`
	MaxTokens               *int                  `json:"max_tokens,omitempty"`
	SupportsFunctionCalling *bool                 `json:"supports_function_calling,omitempty"`
}

// Handler serves the chat, debug and health routes
type Handler struct {
	config *config.Config
	models *config.ModelsConfig
	client *Client
	llmLog *logger.LLMLog
	health *circuitbreaker.HealthManager
}

// NewHandler creates a new handler
func NewHandler(cfg *config.Config, models *config.ModelsConfig, client *Client, llmLog *logger.LLMLog, health *circuitbreaker.HealthManager) *Handler {
	return &Handler{
		config: cfg,
		models: models,
		client: client,
		llmLog: llmLog,
		health: health,
	}
}

// HandleChatStream streams normalized events as server-sent events
func (h *Handler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx, lg := h.requestContext(r)

	req, ok := h.chatRequest(ctx, lg, w, r)
	if !ok {
		return
	}
	req.Stream = true

	flusher, ok := w.(http.Flusher)
	if !ok {
		lg.Error("Response writer does not support streaming")
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Request-ID", GetRequestID(ctx))
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for event := range h.client.Stream(ctx, req) {
		data, err := json.Marshal(event)
		if err != nil {
			lg.Error("Failed to encode %s event: %v", event.Kind, err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			lg.Warn("Client went away: %v", err)
			return
		}
		flusher.Flush()
	}
}

// HandleChatComplete runs the same pipeline without streaming and returns the aggregate
func (h *Handler) HandleChatComplete(w http.ResponseWriter, r *http.Request) {
	ctx, lg := h.requestContext(r)

	req, ok := h.chatRequest(ctx, lg, w, r)
	if !ok {
		return
	}

	completion, err := h.client.Complete(ctx, req)
	if err != nil {
		var se *types.StreamError
		if errors.As(err, &se) {
			writeJSON(ctx, w, http.StatusBadGateway, types.ErrorEvent(se))
			return
		}
		lg.Error("Completion failed: %v", err)
		writeJSON(ctx, w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}

	lg.Info("%s Completion: content=%d chars, thinking=%d chars, tool_calls=%d",
		logger.EmojiSuccess, len(completion.Content), len(completion.Thinking), len(completion.ToolCalls))
	writeJSON(ctx, w, http.StatusOK, completion)
}

// HandleLLMLogs returns the recent upstream exchanges, or clears them on DELETE
func (h *Handler) HandleLLMLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		entries := h.llmLog.Entries()
		if entries == nil {
			entries = []logger.LLMLogEntry{}
		}
		writeJSON(r.Context(), w, http.StatusOK, entries)
	case http.MethodDelete:
		h.llmLog.Clear()
		writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleHealth reports liveness and the circuit state of each upstream endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	endpoints := []circuitbreaker.EndpointHealth{}
	if h.health != nil {
		endpoints = h.health.Snapshot()
	}
	writeJSON(r.Context(), w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"endpoints": endpoints,
	})
}

// requestContext tags the request with an id and returns a logger bound to it
func (h *Handler) requestContext(r *http.Request) (context.Context, logger.Logger) {
	ctx := withRequestID(r.Context(), generateRequestID())
	return ctx, logger.NewFromConfig(ctx, h.config).WithComponent(logger.ComponentServer)
}

// chatRequest decodes the payload and resolves the model, answering 400 on failure
func (h *Handler) chatRequest(ctx context.Context, lg logger.Logger, w http.ResponseWriter, r *http.Request) (ChatRequest, bool) {
	var payload ChatPayload
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(&payload); err != nil {
		lg.Warn("Invalid JSON in request: %v", err)
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "Invalid request format"})
		return ChatRequest{}, false
	}
	if len(payload.Messages) == 0 {
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": "messages must not be empty"})
		return ChatRequest{}, false
	}

	req, err := h.resolve(payload)
	if err != nil {
		lg.Warn("Model resolution failed: %v", err)
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return ChatRequest{}, false
	}
	logger.LogModelRouting(ctx, lg, req.Model, req.BaseURL)
	return req, true
}

// resolve merges the payload with the configured model and request defaults
func (h *Handler) resolve(payload ChatPayload) (ChatRequest, error) {
	resolved, err := h.models.Resolve(config.ModelOverrides{
		ModelName: payload.ModelName,
		BaseURL:   payload.BaseURL,
		APIKey:    payload.APIKey,
		Model:     payload.Model,
		TimeoutS:  payload.TimeoutS,
	}, payload.ModelType)
	if err != nil {
		return ChatRequest{}, fmt.Errorf("resolve model: %w", err)
	}

	req := ChatRequest{
		BaseURL:                 resolved.BaseURL,
		APIKey:                  resolved.APIKey,
		Model:                   resolved.Model,
		Timeout:                 resolved.Timeout(),
		SupportsFunctionCalling: resolved.SupportsFunctionCalling,
		Messages:                payload.Messages,
		Tools:                   payload.Tools,
		ToolChoice:              payload.ToolChoice,
		Temperature:             h.config.DefaultTemperature,
		MaxTokens:               h.config.DefaultMaxTokens,
	}
	if payload.SupportsFunctionCalling != nil {
		req.SupportsFunctionCalling = *payload.SupportsFunctionCalling
	}
	if payload.Temperature != nil {
		req.Temperature = *payload.Temperature
	}
	if payload.MaxTokens != nil {
		req.MaxTokens = payload.MaxTokens
	}
	return req, nil
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.ConditionalLogger(ctx).Error("Failed to encode response: %v", err)
	}
}
