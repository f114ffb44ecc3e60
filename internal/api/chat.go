package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/parleyhq/parley/internal/backend"
	"github.com/parleyhq/parley/internal/gateway"
	"github.com/parleyhq/parley/internal/session"
)

// maxRequestBody bounds chat request bodies.
const maxRequestBody = 1 << 20 // 1MB

// SSE event types for chat streaming.
const (
	EventChunk = "chunk" // partial filtered reply text
	EventDone  = "done"  // turn completed, carries the full reply
	EventError = "error" // turn failed
)

// chatRequest is the wire shape of both chat endpoints. Unknown fields
// are rejected.
type chatRequest struct {
	SessionID   string   `json:"sessionId"`
	Input       string   `json:"input"`
	Model       string   `json:"model,omitempty"`
	Temperature *float32 `json:"temperature,omitempty"`
}

// chatResponse is the synchronous reply payload.
type chatResponse struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// ChunkPayload is the SSE data payload for streamed fragments.
type ChunkPayload struct {
	Text string `json:"text"`
}

// DonePayload closes a successful stream with the assembled reply, so
// clients need not concatenate chunks themselves.
type DonePayload struct {
	SessionID string `json:"sessionId"`
	Text      string `json:"text"`
}

// ErrorPayload is the SSE data payload for failed turns.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// chatHandler serves the chat endpoints on top of the orchestrator.
type chatHandler struct {
	orchestrator *gateway.Orchestrator
	logger       *slog.Logger
}

// decodeChatRequest parses and validates the request body strictly.
func decodeChatRequest(w http.ResponseWriter, r *http.Request) (chatRequest, error) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return chatRequest{}, fmt.Errorf("decode request: %w", err)
	}
	// Reject trailing garbage after the JSON object.
	if dec.More() {
		return chatRequest{}, errors.New("unexpected data after request body")
	}
	return req, nil
}

// errorCode maps orchestrator errors to an HTTP status and stable code.
func errorCode(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrEmptySessionID):
		return http.StatusBadRequest, "missing_session_id"
	case errors.Is(err, backend.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, gateway.ErrEmptyReply):
		return http.StatusBadGateway, "empty_reply"
	case errors.Is(err, gateway.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "model_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "generation_failed"
	}
}

// send handles POST /v1/chat: one synchronous turn.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	reply, err := h.orchestrator.Respond(r.Context(), gateway.Request{
		SessionID:   req.SessionID,
		Input:       req.Input,
		Model:       req.Model,
		Temperature: req.Temperature,
	})
	if err != nil {
		status, code := errorCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("chat turn failed",
				"session_id", req.SessionID,
				"request_id", requestIDFromContext(r.Context()),
				"error", err)
		}
		writeError(w, status, code, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Text: reply})
}

// stream handles POST /v1/chat/stream: one turn delivered as SSE.
// Every stream ends with exactly one done event; failed turns emit an
// error event first. Only a client disconnect leaves the stream
// unterminated.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	req, err := decodeChatRequest(w, r)
	if err != nil {
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: "invalid_request", Message: err.Error()})
		_ = writeEvent(w, flusher, EventDone, DonePayload{})
		return
	}

	ctx := r.Context()
	h.logger.Debug("SSE stream started",
		"session_id", req.SessionID,
		"request_id", requestIDFromContext(ctx))

	reply, err := h.orchestrator.RespondStream(ctx, gateway.Request{
		SessionID:   req.SessionID,
		Input:       req.Input,
		Model:       req.Model,
		Temperature: req.Temperature,
	}, func(ctx context.Context, fragment string) error {
		return writeEvent(w, flusher, EventChunk, ChunkPayload{Text: fragment})
	})
	if err != nil {
		if ctx.Err() != nil {
			h.logger.Info("client disconnected", "session_id", req.SessionID)
			return
		}
		_, code := errorCode(err)
		h.logger.Error("chat stream failed",
			"session_id", req.SessionID,
			"request_id", requestIDFromContext(ctx),
			"error", err)
		_ = writeEvent(w, flusher, EventError, ErrorPayload{Code: code, Message: err.Error()})
		_ = writeEvent(w, flusher, EventDone, DonePayload{SessionID: req.SessionID})
		return
	}

	_ = writeEvent(w, flusher, EventDone, DonePayload{SessionID: req.SessionID, Text: reply})
	h.logger.Debug("SSE stream completed", "session_id", req.SessionID)
}

// writeEvent writes one SSE event with JSON-encoded data and flushes.
func writeEvent[T any](w io.Writer, flusher http.Flusher, event string, data T) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()
	return nil
}
