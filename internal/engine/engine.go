// Package engine is Artemis's entry point: it builds the per-run context,
// decides SYNC vs ASYNC dispatch, runs the resolved task unit, and performs
// the terminal finalize callback for async runs.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/swarmguard/artemis/internal/callback"
	"github.com/swarmguard/artemis/internal/config"
	"github.com/swarmguard/artemis/internal/depclient"
	"github.com/swarmguard/artemis/internal/metrics"
	"github.com/swarmguard/artemis/internal/runstore"
	"github.com/swarmguard/artemis/internal/taskctx"
)

// ValidationError marks a malformed request envelope: surfaced as HTTP 422
// by the gateway and never retried.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// UnknownTaskError marks a task_code absent from the registry: surfaced as
// HTTP 404 by the gateway.
type UnknownTaskError struct{ Code string }

func (e *UnknownTaskError) Error() string { return fmt.Sprintf("unknown task code %q", e.Code) }

// Request is the already-decoded inbound envelope.
type Request struct {
	Meta taskctx.Meta
	Body map[string]any
}

// Response is the SYNC or ASYNC-accept response body.
type Response struct {
	TaskCode   string         `json:"task_code"`
	DurationMs int64          `json:"duration_ms,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
	Status     string         `json:"status,omitempty"`
	RunID      string         `json:"run_id"`
	TaskID     string         `json:"task_id"`
	ExecType   string         `json:"exec_type"`
	Error      string         `json:"error,omitempty"`
	Accepted   bool           `json:"accepted,omitempty"`
}

// Resolver is the narrow registry surface the engine depends on.
type Resolver interface {
	taskctx.Resolver
}

// Engine ties the registry, config manager, dependent-client pool and
// callback client together around the phase lifecycle.
type Engine struct {
	resolver Resolver
	cfg      *config.Manager
	logger   *slog.Logger
	metrics  *metrics.Metrics
	store    *runstore.Store

	asyncWG sync.WaitGroup
}

// New builds an Engine. metrics and store may be nil (both are optional
// ambient supplements; the core lifecycle works without them).
func New(resolver Resolver, cfg *config.Manager, logger *slog.Logger, m *metrics.Metrics, store *runstore.Store) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, cfg: cfg, logger: logger, metrics: m, store: store}
}

// Run builds a context for req and dispatches it per req.Meta.ExecType.
// SYNC runs inline and returns the terminal response; ASYNC spawns a
// worker goroutine and returns an "accepted" response immediately.
func (e *Engine) Run(req Request) (Response, error) {
	meta, err := normalizeMeta(req.Meta)
	if err != nil {
		return Response{}, err
	}

	deptClients := e.buildDeptClients()
	cb := e.buildCallback(meta)

	ctx, err := taskctx.New(meta, req.Body, e.runLogger(meta), deptClients, cb, e.resolver)
	if err != nil {
		return Response{}, &UnknownTaskError{Code: meta.TaskCode}
	}

	if meta.ExecType == "SYNC" {
		runErr := ctx.Unit.Run(ctx)
		resp := e.responseFrom(ctx, runErr)
		e.persist(ctx)
		return resp, nil
	}

	e.asyncWG.Add(1)
	go e.runAsync(ctx, cb)

	return Response{
		TaskCode: meta.TaskCode,
		Accepted: true,
		ExecType: meta.ExecType,
		RunID:    meta.RunID,
		TaskID:   meta.TaskID,
	}, nil
}

// Shutdown waits up to the given grace period for in-flight async workers
// (and their finalize callbacks) to complete.
func (e *Engine) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		e.asyncWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("engine_shutdown_timeout")
	}
}

func (e *Engine) runAsync(ctx *taskctx.Context, cb callback.Client) {
	defer e.asyncWG.Done()

	runErr := ctx.Unit.Run(ctx)

	callCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if runErr != nil {
		if !ctx.IsFinished() {
			_ = ctx.SetStatus(taskctx.StatusFailed)
			ctx.SetError(runErr)
		}
		cb.FinalizeFailed(callCtx, ctx.Meta.RunID, runErr.Error())
	} else {
		cb.FinalizeSuccess(callCtx, ctx.Meta.RunID, 200, "task completed successfully")
	}

	e.persist(ctx)
}

func (e *Engine) responseFrom(ctx *taskctx.Context, runErr error) Response {
	resp := Response{
		TaskCode:   ctx.Meta.TaskCode,
		DurationMs: ctx.DurationMs(),
		Stats:      ctx.Stats(),
		Status:     string(ctx.Status()),
		RunID:      ctx.Meta.RunID,
		TaskID:     ctx.Meta.TaskID,
		ExecType:   ctx.Meta.ExecType,
	}
	if runErr != nil {
		resp.Error = runErr.Error()
	}
	return resp
}

func (e *Engine) persist(ctx *taskctx.Context) {
	if e.metrics != nil {
		durations, _ := ctx.Stats()["phase_durations_ms"].(map[string]any)
		e.metrics.ObserveRun(string(ctx.Status()), ctx.Meta.TaskCode, durations)
	}
	if e.store == nil {
		return
	}
	errMsg := ""
	if ctx.Error() != nil {
		errMsg = ctx.Error().Error()
	}
	rec := runstore.Record{
		RunID:      ctx.Meta.RunID,
		TaskCode:   ctx.Meta.TaskCode,
		TaskID:     ctx.Meta.TaskID,
		ExecType:   ctx.Meta.ExecType,
		Status:     string(ctx.Status()),
		Error:      errMsg,
		DurationMs: ctx.DurationMs(),
		Stats:      ctx.Stats(),
		FinishedAt: time.Now(),
	}
	if err := e.store.Put(rec); err != nil {
		e.logger.Warn("runstore_put_failed", "run_id", ctx.Meta.RunID, "error", err)
	}
}

func (e *Engine) runLogger(meta taskctx.Meta) *slog.Logger {
	return e.logger.With("run_id", meta.RunID, "task_id", meta.TaskID, "task_code", meta.TaskCode)
}

// buildDeptClients builds one pooled client per configured dependent
// service, using the process-wide pool so repeated runs share connections.
func (e *Engine) buildDeptClients() map[string]*depclient.Client {
	if e.cfg == nil {
		return map[string]*depclient.Client{}
	}
	snap := e.cfg.Snapshot()
	timeout := float64(snap.HTTPClient.TimeoutSeconds)
	clients := make(map[string]*depclient.Client, len(snap.DeptServices))
	for name, svc := range snap.DeptServices {
		if svc.Host == "" {
			continue
		}
		clients[name] = depclient.New(svc.Host, svc.Port, timeout)
	}
	return clients
}

// buildCallback resolves the dispatcher endpoint in priority order: global
// dept_services.cronjob config, else meta.CallbackEndpoints.callback_ip/
// port. Neither present installs a NoopClient so progress/finalize calls
// stay safe no-ops, per spec.md 4.4.
func (e *Engine) buildCallback(meta taskctx.Meta) callback.Client {
	if e.cfg != nil {
		snap := e.cfg.Snapshot()
		if svc, ok := snap.DeptServices["cronjob"]; ok && svc.Host != "" {
			return callback.NewHTTPClient(svc.Host, svc.Port, e.runLogger(meta))
		}
	}
	if meta.CallbackEndpoints.CallbackIP != "" {
		return callback.NewHTTPClient(meta.CallbackEndpoints.CallbackIP, meta.CallbackEndpoints.CallbackPort, e.runLogger(meta))
	}
	return callback.NoopClient{}
}

// normalizeMeta uppercases exec_type and validates the required fields,
// matching spec.md 3's TaskMeta normalization rule.
func normalizeMeta(meta taskctx.Meta) (taskctx.Meta, error) {
	meta.TaskCode = strings.TrimSpace(meta.TaskCode)
	if meta.TaskCode == "" {
		return meta, &ValidationError{Msg: "meta.task_code is required"}
	}
	if strings.TrimSpace(meta.RunID) == "" {
		return meta, &ValidationError{Msg: "meta.run_id is required"}
	}
	if strings.TrimSpace(meta.TaskID) == "" {
		return meta, &ValidationError{Msg: "meta.task_id is required"}
	}
	meta.ExecType = strings.ToUpper(strings.TrimSpace(meta.ExecType))
	if meta.ExecType != "SYNC" && meta.ExecType != "ASYNC" {
		return meta, &ValidationError{Msg: fmt.Sprintf("meta.exec_type must be SYNC or ASYNC, got %q", meta.ExecType)}
	}
	return meta, nil
}
