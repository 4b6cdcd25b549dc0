// Package server exposes the call pipeline over HTTP.
//
// Endpoints:
//
//   - POST /api/call/{scenario}  — one conversation turn: JSON in, reply audio out.
//   - GET  /api/stream/{scenario} — WebSocket audio ingest with live transcription.
//   - POST /api/token            — mints a short-lived Deepgram key for browser recorders.
//   - GET  /healthz, /readyz, /metrics — operational endpoints.
//
// Failures are reported as a JSON envelope {"success": false, "error": ...,
// "detail": ...} with status 400 for malformed or unknown-scenario requests
// and 500 for pipeline failures.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxline/voxline/internal/dialog"
	"github.com/voxline/voxline/internal/health"
	"github.com/voxline/voxline/internal/observe"
	"github.com/voxline/voxline/internal/order"
	"github.com/voxline/voxline/internal/scenario"
	"github.com/voxline/voxline/pkg/provider/stt"
	"github.com/voxline/voxline/pkg/provider/stt/deepgram"
	"github.com/voxline/voxline/pkg/provider/tts"
)

// KeyMinter creates short-lived STT keys for browser clients.
type KeyMinter interface {
	CreateTemporaryKey(ctx context.Context, projectID, comment string, ttl time.Duration) (*deepgram.TemporaryKey, error)
}

// Option is a functional option for configuring the Server.
type Option func(*Server)

// WithSTT enables the streaming ingest endpoint.
func WithSTT(provider stt.Provider) Option {
	return func(s *Server) {
		s.stt = provider
	}
}

// WithKeyMinter enables POST /api/token for the given Deepgram project.
func WithKeyMinter(m KeyMinter, projectID string, ttl time.Duration) Option {
	return func(s *Server) {
		s.keys = m
		s.keyProject = projectID
		if ttl > 0 {
			s.keyTTL = ttl
		}
	}
}

// WithHealth sets the health handler mounted at /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetrics sets the metrics instance. Defaults to observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.log = l
	}
}

// Server wires the pipeline stages behind HTTP handlers.
type Server struct {
	orchestrator *dialog.Orchestrator
	tts          tts.Provider
	extractor    *order.Extractor

	stt        stt.Provider
	keys       KeyMinter
	keyProject string
	keyTTL     time.Duration

	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger
}

// New creates a Server. orchestrator, synth, and extractor must be non-nil.
func New(orchestrator *dialog.Orchestrator, synth tts.Provider, extractor *order.Extractor, opts ...Option) (*Server, error) {
	if orchestrator == nil {
		return nil, errors.New("server: orchestrator must not be nil")
	}
	if synth == nil {
		return nil, errors.New("server: tts provider must not be nil")
	}
	if extractor == nil {
		return nil, errors.New("server: order extractor must not be nil")
	}
	s := &Server{
		orchestrator: orchestrator,
		tts:          synth,
		extractor:    extractor,
		keyTTL:       360 * time.Second,
		health:       health.New(),
		log:          slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// Routes returns the full handler tree with observability middleware applied.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/call/{scenario}", s.handleCall)
	mux.HandleFunc("GET /api/stream/{scenario}", s.handleStream)
	mux.HandleFunc("POST /api/token", s.handleToken)
	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)
	return observe.Middleware(s.metrics)(mux)
}

// callRequest is the JSON body of POST /api/call/{scenario}.
type callRequest struct {
	Input          string         `json:"input"`
	SessionID      string         `json:"sessionId"`
	IsStart        bool           `json:"isStart"`
	ScenarioParams map[string]any `json:"scenarioParams"`
}

// errorResponse is the JSON failure envelope.
type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	turnStart := time.Now()

	sc, err := scenario.Get(r.PathValue("scenario"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown scenario", err)
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body", err)
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required", nil)
		return
	}

	input := req.Input
	if req.IsStart {
		input = scenario.StartSentinel
	}
	if input == "" {
		s.writeError(w, http.StatusBadRequest, "input is required", nil)
		return
	}

	audio, err := s.runTurn(ctx, sc, req.SessionID, input, flattenParams(req.ScenarioParams))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scenario.ErrMissingParam) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, "turn failed", err)
		return
	}

	s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds(),
		metric.WithAttributes(observe.Attr("scenario", sc.Name)))

	w.Header().Set("Content-Type", s.tts.ContentType())
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		observe.Logger(ctx).Warn("write reply audio", "error", err)
	}
}

// runTurn executes the shared portion of a turn: completion, optional order
// extraction, and synthesis. Used by both the HTTP and WebSocket paths.
func (s *Server) runTurn(ctx context.Context, sc *scenario.Scenario, sessionID, input string, params map[string]string) ([]byte, error) {
	log := observe.Logger(ctx)

	llmStart := time.Now()
	reply, err := s.orchestrator.TakeTurn(ctx, sessionID, input, sc, params)
	s.metrics.LLMDuration.Record(ctx, time.Since(llmStart).Seconds(),
		metric.WithAttributes(observe.Attr("scenario", sc.Name)))
	if err != nil {
		if errors.Is(err, dialog.ErrCompletion) {
			s.metrics.RecordProviderError(ctx, "llm", "completion")
		}
		return nil, err
	}

	if sc.ExtractOrders {
		reply = s.extractOrder(ctx, sessionID, reply)
	}

	ttsStart := time.Now()
	audio, err := s.tts.Synthesize(ctx, reply, sc.Voice)
	s.metrics.TTSDuration.Record(ctx, time.Since(ttsStart).Seconds(),
		metric.WithAttributes(observe.Attr("scenario", sc.Name)))
	if err != nil {
		s.metrics.RecordProviderError(ctx, "tts", "synthesize")
		return nil, fmt.Errorf("server: synthesize reply: %w", err)
	}

	log.Debug("turn served",
		"scenario", sc.Name,
		"session", sessionID,
		"reply_chars", len(reply),
		"audio_bytes", len(audio),
	)
	return audio, nil
}

// extractOrder runs order extraction on a reply. Extraction problems never
// fail the turn: an invalid block stays in the reply, and a persistence
// failure is logged while the caller still gets their audio.
func (s *Server) extractOrder(ctx context.Context, sessionID, reply string) string {
	out, rec, err := s.extractor.Process(ctx, sessionID, reply)
	switch {
	case err == nil && rec != nil:
		s.metrics.RecordOrderExtracted(ctx, "ok")
	case errors.Is(err, order.ErrValidation):
		s.metrics.RecordOrderExtracted(ctx, "invalid")
		observe.Logger(ctx).Warn("order block failed validation", "session", sessionID, "error", err)
	case err != nil:
		s.metrics.RecordOrderExtracted(ctx, "persist_failed")
		observe.Logger(ctx).Error("order persistence failed", "session", sessionID, "error", err)
	}
	return out
}

// tokenResponse is the JSON body of a successful POST /api/token.
type tokenResponse struct {
	Key       string    `json:"key"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil || s.keyProject == "" {
		s.writeError(w, http.StatusNotFound, "token minting is not configured", nil)
		return
	}

	key, err := s.keys.CreateTemporaryKey(r.Context(), s.keyProject, "voxline browser recorder", s.keyTTL)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "key minting failed", err)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(tokenResponse{Key: key.Key, ExpiresAt: key.ExpiresAt}); err != nil {
		observe.Logger(r.Context()).Warn("write token response", "error", err)
	}
}

// flattenParams converts the request's scenarioParams into template values.
// The "products" key may be a JSON array and is rendered one item per line;
// everything else is stringified.
func flattenParams(raw map[string]any) map[string]string {
	params := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case string:
			params[key] = v
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				items = append(items, fmt.Sprint(item))
			}
			params[key] = scenario.FormatProducts(items)
		default:
			params[key] = fmt.Sprint(v)
		}
	}
	return params
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := errorResponse{Success: false, Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		s.log.Warn("write error response", "error", encErr)
	}
}
