// Package lifecycle implements the base task unit phase state machine:
// parameter_check -> load_dynamic_parameters -> load_task_config ->
// before_execute -> execute -> post_process -> sink -> finalize.
package lifecycle

import (
	"time"

	"github.com/swarmguard/artemis/internal/taskctx"
)

// Phases is the closed, ordered phase sequence every run times and logs.
var Phases = []string{
	"parameter_check",
	"load_dynamic_parameters",
	"load_task_config",
	"before_execute",
	"execute",
	"post_process",
	"sink",
	"finalize",
}

// Hooks are the override points a concrete task unit supplies. Base,
// default-returning implementations are provided via Base so embedding
// types only need to override what they use — the Go-native equivalent of
// no-op default methods on a base class.
type Hooks interface {
	ParameterCheck(ctx *taskctx.Context) error
	LoadDynamicParameters(ctx *taskctx.Context) (map[string]any, error)
	BeforeExecute(ctx *taskctx.Context) error
	Execute(ctx *taskctx.Context) (any, error)
	PostProcess(ctx *taskctx.Context, raw any) (any, error)
	Sink(ctx *taskctx.Context, processed any) error
	Finalize(ctx *taskctx.Context) error
}

// Base supplies no-op defaults for every override point. Concrete task
// units embed Base and override only the phases they need, matching the
// source lifecycle's default-no-op philosophy.
type Base struct{}

func (Base) ParameterCheck(ctx *taskctx.Context) error { return nil }
func (Base) LoadDynamicParameters(ctx *taskctx.Context) (map[string]any, error) {
	return map[string]any{}, nil
}
func (Base) BeforeExecute(ctx *taskctx.Context) error           { return nil }
func (Base) Execute(ctx *taskctx.Context) (any, error)          { return nil, nil }
func (Base) PostProcess(ctx *taskctx.Context, raw any) (any, error) { return raw, nil }
func (Base) Sink(ctx *taskctx.Context, processed any) error     { return nil }
func (Base) Finalize(ctx *taskctx.Context) error                { return nil }

// ConfigResolver is the narrow config-manager surface the config-merge
// phase depends on (kept narrow to avoid the lifecycle package needing the
// full config.Manager type graph in its tests).
type ConfigResolver interface {
	TaskDefault(taskCode string) map[string]any
	TaskVariant(taskCode string, incoming map[string]any) (map[string]any, error)
}

// Unit drives a Hooks implementation through the fixed phase sequence. It
// is the concrete taskctx.TaskUnit most registered task codes resolve to.
type Unit struct {
	Hooks
	Cfg ConfigResolver
}

// NewUnit wraps hooks with the phase-driving Run loop, using cfg to resolve
// task defaults/variants during load_task_config.
func NewUnit(hooks Hooks, cfg ConfigResolver) *Unit {
	return &Unit{Hooks: hooks, Cfg: cfg}
}

// Run executes all eight phases in order. On success it sets SUCCESS and
// records stats.phase_durations_ms / stats.total_duration_ms. On any phase
// error it sets FAILED, records the error and the partial phase durations
// captured so far (including the failing phase's own duration; phases after
// it never run and are absent), then returns the error.
// close() always runs on the way out.
func (u *Unit) Run(ctx *taskctx.Context) error {
	_ = ctx.SetStatus(taskctx.StatusRunning)
	ctx.Logger.Info("task_start", "run_id", ctx.Meta.RunID, "task_code", ctx.Meta.TaskCode)

	durations := map[string]any{}
	totalStart := time.Now()

	runPhase := func(name string, fn func() error) error {
		ctx.Logger.Debug("phase_enter", "run_id", ctx.Meta.RunID, "phase", name)
		start := time.Now()
		err := fn()
		elapsed := time.Since(start).Milliseconds()
		durations[name] = elapsed
		if err != nil {
			ctx.Logger.Error("phase_error", "run_id", ctx.Meta.RunID, "phase", name, "duration_ms", elapsed, "error", err)
			return err
		}
		ctx.Logger.Info("phase_ok", "run_id", ctx.Meta.RunID, "phase", name, "duration_ms", elapsed)
		return nil
	}

	finish := func(runErr error) error {
		defer ctx.Close()
		if runErr != nil {
			_ = ctx.SetStatus(taskctx.StatusFailed)
			ctx.SetError(runErr)
			ctx.Stat("phase_durations_ms", durations)
			ctx.Stat("total_duration_ms", time.Since(totalStart).Milliseconds())
			ctx.Logger.Error("task_failed", "run_id", ctx.Meta.RunID, "error", runErr)
			return runErr
		}
		_ = ctx.SetStatus(taskctx.StatusSuccess)
		ctx.Stat("phase_durations_ms", durations)
		ctx.Stat("total_duration_ms", time.Since(totalStart).Milliseconds())
		ctx.Logger.Info("task_success", "run_id", ctx.Meta.RunID)
		return nil
	}

	if err := runPhase("parameter_check", func() error {
		return u.ParameterCheck(ctx)
	}); err != nil {
		return finish(err)
	}

	var dynamicParams map[string]any
	if err := runPhase("load_dynamic_parameters", func() error {
		dp, err := u.LoadDynamicParameters(ctx)
		dynamicParams = dp
		return err
	}); err != nil {
		return finish(err)
	}

	if err := runPhase("load_task_config", func() error {
		return u.loadTaskConfig(ctx, dynamicParams)
	}); err != nil {
		return finish(err)
	}

	if err := runPhase("before_execute", func() error {
		return u.BeforeExecute(ctx)
	}); err != nil {
		return finish(err)
	}

	var rawResult any
	if err := runPhase("execute", func() error {
		r, err := u.Execute(ctx)
		rawResult = r
		return err
	}); err != nil {
		return finish(err)
	}

	var processed any
	if err := runPhase("post_process", func() error {
		p, err := u.PostProcess(ctx, rawResult)
		processed = p
		return err
	}); err != nil {
		return finish(err)
	}

	if err := runPhase("sink", func() error {
		return u.Sink(ctx, processed)
	}); err != nil {
		return finish(err)
	}

	if err := runPhase("finalize", func() error {
		return u.Finalize(ctx)
	}); err != nil {
		return finish(err)
	}

	return finish(nil)
}

// loadTaskConfig merges, last-wins: task_defaults <- task_variant <-
// dynamic_params <- incoming_params, storing the result on ctx.Params.
func (u *Unit) loadTaskConfig(ctx *taskctx.Context, dynamicParams map[string]any) error {
	merged := map[string]any{}
	if u.Cfg != nil {
		for k, v := range u.Cfg.TaskDefault(ctx.Meta.TaskCode) {
			merged[k] = v
		}
		variant, err := u.Cfg.TaskVariant(ctx.Meta.TaskCode, ctx.IncomingParams)
		if err != nil {
			return err
		}
		for k, v := range variant {
			merged[k] = v
		}
	}
	for k, v := range dynamicParams {
		merged[k] = v
	}
	for k, v := range ctx.IncomingParams {
		merged[k] = v
	}
	ctx.Params = merged
	return nil
}
