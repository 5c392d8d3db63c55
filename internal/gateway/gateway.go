// Package gateway is the thin HTTP front door the engine is invoked behind.
// Its own contract is deliberately small: validate the envelope, look up
// the task, call engine.Run, translate the result. Full HTTP framing
// concerns (routing frameworks, content negotiation, the file-editing and
// registrations endpoints) are external collaborators per spec.md 4.8;
// this mux only carries the one route spec.md names plus health/metrics.
package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/swarmguard/artemis/internal/engine"
	"github.com/swarmguard/artemis/internal/taskctx"
)

// Registry is the narrow surface the gateway needs to pre-check a task
// code before calling the engine, so an unknown code is a 404 at the HTTP
// boundary rather than a run-level failure.
type Registry interface {
	Has(code string) bool
}

// Gateway wires the engine behind a net/http mux.
type Gateway struct {
	engine   *engine.Engine
	registry Registry
	logger   *slog.Logger
}

// New builds a Gateway. registry may be nil, in which case the 404
// pre-check is skipped and unknown codes surface as the engine's own
// UnknownTaskError (translated the same way).
func New(eng *engine.Engine, reg Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{engine: eng, registry: reg, logger: logger}
}

// Mux builds the HTTP handler: the run endpoint plus /health.
func (g *Gateway) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/tasks/run/", g.withTracing(g.handleRun))
	return mux
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type rawEnvelope struct {
	Meta struct {
		RunID             json.RawMessage `json:"run_id"`
		TaskID            json.RawMessage `json:"task_id"`
		ExecType          string          `json:"exec_type"`
		CallbackEndpoints struct {
			Progress     string `json:"progress"`
			Callback     string `json:"callback"`
			CallbackIP   string `json:"callback_ip"`
			CallbackPort int    `json:"callback_port"`
		} `json:"callback_endpoints"`
	} `json:"meta"`
	Body map[string]any `json:"body"`
}

func (g *Gateway) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	taskCode := strings.TrimPrefix(r.URL.Path, "/tasks/run/")
	taskCode = strings.Trim(taskCode, "/")
	if taskCode == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "task_code is required in the path"})
		return
	}
	if g.registry != nil && !g.registry.Has(taskCode) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown task_code"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 4<<20))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "failed to read body"})
		return
	}
	var env rawEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "invalid json: " + err.Error()})
		return
	}

	runID, err := scalarToString(env.Meta.RunID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "meta.run_id: " + err.Error()})
		return
	}
	taskID, err := scalarToString(env.Meta.TaskID)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "meta.task_id: " + err.Error()})
		return
	}

	req := engine.Request{
		Meta: taskctx.Meta{
			RunID:    runID,
			TaskID:   taskID,
			ExecType: env.Meta.ExecType,
			TaskCode: taskCode,
			CallbackEndpoints: taskctx.CallbackEndpoints{
				Progress:     env.Meta.CallbackEndpoints.Progress,
				Callback:     env.Meta.CallbackEndpoints.Callback,
				CallbackIP:   env.Meta.CallbackEndpoints.CallbackIP,
				CallbackPort: env.Meta.CallbackEndpoints.CallbackPort,
			},
		},
		Body: env.Body,
	}

	resp, err := g.engine.Run(req)
	if err != nil {
		g.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) writeEngineError(w http.ResponseWriter, err error) {
	var verr *engine.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": verr.Error()})
		return
	}
	var uerr *engine.UnknownTaskError
	if errors.As(err, &uerr) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": uerr.Error()})
		return
	}
	g.logger.Error("gateway_internal_error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func (g *Gateway) withTracing(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ctx, span := otel.Tracer("artemis-gateway").Start(r.Context(), r.URL.Path)
		defer span.End()
		span.SetAttributes(attribute.String("http.method", r.Method), attribute.String("http.path", r.URL.Path))

		next(w, r.WithContext(ctx))

		g.logger.Info("request_handled", "path", r.URL.Path, "method", r.Method, "duration_ms", time.Since(start).Milliseconds())
	}
}

// scalarToString accepts a JSON string or number and returns its string
// form, matching spec.md 3's "run_id (required, int/str)".
func scalarToString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errors.New("is required")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return "", errors.New("must not be empty")
		}
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), nil
	}
	return "", errors.New("must be a string or number")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
