package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/voxline/voxline/internal/observe"
	"github.com/voxline/voxline/internal/scenario"
	"github.com/voxline/voxline/internal/transcript"
	"github.com/voxline/voxline/pkg/audio"
	"github.com/voxline/voxline/pkg/provider/stt"
)

// clientMessage is a text frame from the browser. Binary frames carry raw
// float32 little-endian mono samples and have no JSON envelope.
type clientMessage struct {
	// Type is "params" (set scenario parameters), "commit" (close the
	// current utterance and run a turn), or "reset" (discard the current
	// utterance).
	Type string `json:"type"`

	// ScenarioParams accompanies "params" and may also be sent with
	// "commit"; later values win key by key.
	ScenarioParams map[string]any `json:"scenarioParams,omitempty"`

	// IsStart marks a "commit" as the call-opening turn; the utterance is
	// ignored and the start sentinel is used instead.
	IsStart bool `json:"isStart,omitempty"`
}

// serverEvent is a JSON text frame pushed to the browser. Reply audio is sent
// as a binary frame instead.
type serverEvent struct {
	// Type is "transcript" or "error".
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"isFinal,omitempty"`
	Error   string `json:"error,omitempty"`
}

// wsWriter serializes writes to a WebSocket connection. The transcript
// forwarder and the turn loop both write to the same socket.
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *wsWriter) writeJSON(ctx context.Context, ev serverEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(ctx, websocket.MessageText, payload)
}

func (w *wsWriter) writeBinary(ctx context.Context, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Write(ctx, websocket.MessageBinary, data)
}

// handleStream serves GET /api/stream/{scenario}: a WebSocket that ingests
// microphone samples, streams transcription previews back, and on "commit"
// runs a full turn and returns the reply audio as a binary frame.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	if s.stt == nil {
		s.writeError(w, http.StatusNotFound, "streaming ingest is not configured", nil)
		return
	}
	sc, err := scenario.Get(r.PathValue("scenario"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unknown scenario", err)
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId query parameter is required", nil)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream ended")

	s.metrics.ActiveSessions.Add(ctx, 1)
	defer s.metrics.ActiveSessions.Add(ctx, -1)

	handle, err := s.stt.StartStream(ctx, stt.StreamConfig{
		SampleRate: 16000,
		Channels:   1,
		Language:   "en",
	})
	if err != nil {
		s.metrics.RecordProviderError(ctx, "stt", "start_stream")
		log.Error("start stt stream", "session", sessionID, "error", err)
		conn.Close(websocket.StatusInternalError, "transcription unavailable")
		return
	}
	// The forwarder drains handle.Results, which only closes once the
	// session shuts down, so the handle must be closed before waiting.
	var fwd sync.WaitGroup
	defer func() {
		handle.Close()
		fwd.Wait()
	}()

	source := make(chan []float32, 64)
	bridge := audio.NewBridge(source, handle)
	bridge.Start()
	defer bridge.Close()
	defer close(source)

	writer := &wsWriter{conn: conn}
	stab := transcript.NewStabilizer()

	// Forward stabilized transcription events to the browser for live
	// preview. Ends when the provider closes the results channel.
	fwd.Add(1)
	go func() {
		defer fwd.Done()
		for tr := range handle.Results() {
			current := stab.Process(tr)
			ev := serverEvent{Type: "transcript", Text: current, IsFinal: tr.IsFinal}
			if err := writer.writeJSON(ctx, ev); err != nil {
				return
			}
		}
	}()

	params := map[string]string{}
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				conn.Close(websocket.StatusNormalClosure, "bye")
				return
			}
			log.Debug("stream read ended", "session", sessionID, "error", err)
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			samples := audio.DecodeFloat32LE(data)
			select {
			case source <- samples:
			default:
				// Ingest is behind; drop rather than stall the socket.
			}

		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				writer.writeJSON(ctx, serverEvent{Type: "error", Error: "malformed message"})
				continue
			}
			for k, v := range flattenParams(msg.ScenarioParams) {
				params[k] = v
			}

			switch msg.Type {
			case "params":
				// Parameters merged above; nothing else to do.
			case "reset":
				stab.Reset()
			case "commit":
				s.commitTurn(ctx, writer, bridge, stab, sc, sessionID, params, msg.IsStart)
			default:
				writer.writeJSON(ctx, serverEvent{Type: "error", Error: "unknown message type"})
			}
		}
	}
}

// commitTurn closes the current utterance and runs it through the pipeline,
// pausing ingest so the caller's reply playback is not transcribed.
func (s *Server) commitTurn(ctx context.Context, writer *wsWriter, bridge *audio.Bridge, stab *transcript.Stabilizer, sc *scenario.Scenario, sessionID string, params map[string]string, isStart bool) {
	input := stab.Current()
	stab.Reset()
	if isStart {
		input = scenario.StartSentinel
	}
	if input == "" {
		writer.writeJSON(ctx, serverEvent{Type: "error", Error: "nothing to commit"})
		return
	}

	bridge.Stop()
	defer bridge.Start()

	turnStart := time.Now()
	reply, err := s.runTurn(ctx, sc, sessionID, input, params)
	if err != nil {
		observe.Logger(ctx).Error("stream turn failed", "session", sessionID, "error", err)
		writer.writeJSON(ctx, serverEvent{Type: "error", Error: err.Error()})
		return
	}
	s.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds(),
		metric.WithAttributes(observe.Attr("scenario", sc.Name)))

	if err := writer.writeBinary(ctx, reply); err != nil {
		observe.Logger(ctx).Warn("write reply audio", "session", sessionID, "error", err)
	}
}
