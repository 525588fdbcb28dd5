// ABOUTME: HTTP handlers that invoke the loaded handler and stream its output as SSE.
// ABOUTME: Provides POST /invoke (and /chat), GET /health and GET /health/ready.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2389/coven-runtime/internal/handler"
	"github.com/2389/coven-runtime/internal/message"
	"github.com/2389/coven-runtime/internal/store"
	"github.com/2389/coven-runtime/internal/tracing"
)

// Error codes carried by in-stream error units.
const (
	CodeAppError     = "APP_ERROR"
	CodeSessionError = "SESSION_ERROR"
)

// maxRequestBytes bounds the invoke request body.
const maxRequestBytes = 4 << 20

var (
	doneUnit        = []byte(`{"type":"done","name":"assistant","role":"assistant","content":"","metadata":{"done":true},"done":true}`)
	serializeFailed = []byte(`{"name":"system","role":"assistant","content":"<serialization-error>"}`)
)

// InvokeRequest is the JSON request body for POST /invoke.
type InvokeRequest struct {
	SessionID string          `json:"session_id"`
	Message   json.RawMessage `json:"message"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status     string  `json:"status"`
	InstanceID *string `json:"instance_id"`
	Uptime     int64   `json:"uptime"`
}

type contentUnit struct {
	Type string `json:"type"`
	*message.Msg
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorUnit struct {
	Type  string    `json:"type"`
	Error errorBody `json:"error"`
}

// invocation is a validated request ready to run.
type invocation struct {
	msg *message.Msg
	sc  *handler.SessionContext
}

// parseInvokeRequest decodes and validates an invoke body.
func parseInvokeRequest(r io.Reader) (*invocation, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid JSON: %v", err)
	}
	if raw == nil {
		return nil, errors.New("invalid JSON: body must be an object")
	}

	var sessionID string
	if err := json.Unmarshal(raw["session_id"], &sessionID); err != nil || sessionID == "" {
		return nil, errors.New("session_id is required")
	}

	msgRaw, ok := raw["message"]
	if !ok || len(msgRaw) == 0 || msgRaw[0] != '{' {
		return nil, errors.New("message must be an object")
	}
	msg, err := message.Parse(msgRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid message: %v", err)
	}

	metadata := map[string]any{}
	if metaRaw, ok := raw["metadata"]; ok && string(metaRaw) != "null" {
		if len(metaRaw) == 0 || metaRaw[0] != '{' {
			return nil, errors.New("metadata must be an object")
		}
		if err := json.Unmarshal(metaRaw, &metadata); err != nil {
			return nil, errors.New("metadata must be an object")
		}
	}

	return &invocation{
		msg: msg,
		sc: &handler.SessionContext{
			SessionID: sessionID,
			Metadata:  metadata,
		},
	}, nil
}

// handleInvoke runs the handler for one message and streams its units.
//
// Flow:
//  1. Validate the body; failures are 400 with no stream.
//  2. Restore the handler's session components (allow missing).
//  3. Record the request for the supervisor.
//  4. Open the SSE stream and forward each unit as it is produced.
//  5. On normal completion save the components, then send the done marker.
//
// A handler error becomes one APP_ERROR unit and skips the save. A client
// disconnect stops the handler and skips the save.
func (g *Gateway) handleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	ctx, span := tracing.Tracer().Start(r.Context(), "gateway.invoke")
	defer span.End()

	if !g.runtime.Initialized() {
		g.sendJSONError(w, http.StatusServiceUnavailable, "runtime not initialized")
		return
	}

	inv, err := parseInvokeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		span.SetStatus(codes.Error, "invalid request")
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	inv.sc.RequestID = r.Header.Get("X-Request-ID")
	if inv.sc.RequestID == "" {
		inv.sc.RequestID = uuid.NewString()
	}
	span.SetAttributes(
		attribute.String("session.id", inv.sc.SessionID),
		attribute.String("request.id", inv.sc.RequestID),
	)
	logger := g.logger.With("session_id", inv.sc.SessionID, "request_id", inv.sc.RequestID)

	app := g.runtime.App()
	sessions := g.runtime.Sessions()

	var components map[string]store.Component
	if st, ok := app.(handler.Stateful); ok {
		components = st.SessionComponents(inv.sc)
		inv.sc.Components = components
	}
	if len(components) > 0 {
		if err := sessions.Load(ctx, inv.sc.SessionID, true, components); err != nil {
			span.RecordError(err)
			if errors.Is(err, store.ErrInvalidSessionID) {
				logger.Warn("rejected session id", "error", err)
				g.sendJSONError(w, http.StatusBadRequest, err.Error())
				return
			}
			logger.Error("failed to load session", "error", err)
			g.sendJSONError(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
	}

	if g.recorder != nil {
		g.recorder.RecordRequest(inv.sc.SessionID)
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}
	start := time.Now()

	units, appErr, disconnected := g.forward(ctx, sw, app, inv)
	span.SetAttributes(attribute.Int("units", units))

	if disconnected {
		logger.Info("client disconnected, session not saved", "units", units)
		return
	}

	switch {
	case appErr != nil:
		logger.Warn("handler failed", "error", appErr, "units", units)
		span.RecordError(appErr)
		span.SetStatus(codes.Error, "handler failed")
		if sw.writeError(CodeAppError, appErr.Error()) != nil {
			return
		}
	case len(components) > 0:
		if err := sessions.Save(ctx, inv.sc.SessionID, components); err != nil {
			logger.Error("failed to save session", "error", err)
			span.RecordError(err)
			if sw.writeError(CodeSessionError, err.Error()) != nil {
				return
			}
		}
	}

	if err := sw.write(doneUnit); err != nil {
		return
	}
	logger.Debug("invoke complete", "units", units, "duration", time.Since(start))
}

// forward pulls units from the handler and writes them until the handler
// finishes, fails, panics, or the client goes away.
func (g *Gateway) forward(ctx context.Context, sw *sseWriter, app handler.App, inv *invocation) (units int, appErr error, disconnected bool) {
	defer func() {
		if p := recover(); p != nil {
			appErr = fmt.Errorf("handler panic: %v", p)
		}
	}()

	for unit, err := range app.Handle(ctx, inv.msg, inv.sc) {
		if err != nil {
			return units, err, false
		}
		if ctx.Err() != nil {
			return units, nil, true
		}
		if unit == nil {
			continue
		}
		if err := sw.writeUnit(unit); err != nil {
			return units, nil, true
		}
		units++
	}

	if ctx.Err() != nil {
		return units, nil, true
	}
	return units, nil, false
}

// sseWriter writes data-only SSE events and flushes each one.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func (s *sseWriter) write(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sseWriter) writeUnit(m *message.Msg) error {
	data, err := json.Marshal(contentUnit{Type: "message", Msg: m})
	if err != nil {
		data = serializeFailed
	}
	return s.write(data)
}

func (s *sseWriter) writeError(code, msg string) error {
	data, err := json.Marshal(errorUnit{Type: "error", Error: errorBody{Code: code, Message: msg}})
	if err != nil {
		return err
	}
	return s.write(data)
}

// handleHealth reports liveness, the controller instance id, and uptime.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	if id := g.config.Platform.InstanceID; id != "" {
		resp.InstanceID = &id
	}
	if started := g.runtime.StartedAt(); g.runtime.Initialized() && !started.IsZero() {
		resp.Uptime = int64(time.Since(started).Seconds())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleReady returns 200 once the runtime is initialized.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if !g.runtime.Initialized() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("runtime not initialized"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
