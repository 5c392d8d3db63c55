// Package orchestrator implements the orchestrator task unit: a unit whose
// execute phase plans children and runs them sequentially, reusing the
// parent's identity, logger, dependent clients, and callback channel.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/swarmguard/artemis/internal/lifecycle"
	"github.com/swarmguard/artemis/internal/taskctx"
)

// ChildSpec describes one fan-out child: key names its task code, params
// is its incoming_params.
type ChildSpec struct {
	Key    string
	Params map[string]any
}

// Planner is the override point a concrete orchestrator unit supplies in
// place of Execute: it returns the ordered list of children to run.
type Planner interface {
	Plan(ctx *taskctx.Context) ([]ChildSpec, error)
}

// hooks extends the base lifecycle by replacing Execute with plan-and-
// dispatch. It embeds lifecycle.Base so parameter_check/before_execute/
// post_process/finalize default to no-ops like any other task unit; Sink
// is overridden to a no-op (progress is the orchestrator's sole output
// channel, not a publishable sink result).
type hooks struct {
	lifecycle.Base
	planner Planner
}

// NewUnit wraps planner in the standard phase-driving Run loop, producing
// a taskctx.TaskUnit whose execute phase fans out to children instead of
// doing primary work itself.
func NewUnit(planner Planner, cfg lifecycle.ConfigResolver) *lifecycle.Unit {
	return lifecycle.NewUnit(hooks{planner: planner}, cfg)
}

func (hooks) Sink(ctx *taskctx.Context, processed any) error { return nil }

// Execute runs the plan/fan-out/progress sequence. Children share the
// parent's run_id; the parent's callback is the sole progress channel.
func (h hooks) Execute(ctx *taskctx.Context) (any, error) {
	specs, err := h.planner.Plan(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range specs {
		if err := validateChildSpec(s); err != nil {
			return nil, err
		}
	}

	total := len(specs)
	ctx.MarkChildTotal(total)
	reportProgress(ctx, total, 0, fmt.Sprintf("children 0/%d start", total))

	for _, spec := range specs {
		childParams := withParentRunMeta(spec.Params, ctx.Meta.RunID)
		ctx.Logger.Info("child_start", "run_id", ctx.Meta.RunID, "child_task_code", spec.Key)

		child, err := taskctx.NewChild(ctx, spec.Key, childParams)
		if err != nil {
			ctx.Logger.Error("child_failure", "run_id", ctx.Meta.RunID, "child_task_code", spec.Key, "error", err)
			return nil, err
		}

		if err := child.Unit.Run(child); err != nil {
			ctx.Logger.Error("child_failure", "run_id", ctx.Meta.RunID, "child_task_code", spec.Key, "error", err)
			return nil, err
		}

		ctx.IncChildCompleted()
		completed, total := ctx.ChildProgress()
		reportProgress(ctx, total, completed, fmt.Sprintf("children %d/%d done", completed, total))
		ctx.Logger.Info("child_success", "run_id", ctx.Meta.RunID, "child_task_code", spec.Key)
	}

	completed, total := ctx.ChildProgress()
	ctx.Stat("children_total", total)
	ctx.Stat("children_completed", completed)
	return nil, nil
}

func validateChildSpec(s ChildSpec) error {
	if s.Key == "" {
		return fmt.Errorf("orchestrator: child spec key must be a non-empty task code")
	}
	if s.Params == nil {
		return fmt.Errorf("orchestrator: child spec params must be a map (use an empty map, not nil)")
	}
	return nil
}

// withParentRunMeta injects parent_run_id into a _meta sub-map, matching a
// convention the fan-out protocol carries even though it is not itself
// part of the externally observed response shape.
func withParentRunMeta(params map[string]any, parentRunID string) map[string]any {
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	meta, _ := out["_meta"].(map[string]any)
	if meta == nil {
		meta = map[string]any{}
	}
	meta["parent_run_id"] = parentRunID
	out["_meta"] = meta
	return out
}

// reportProgress guards children_total<=0 as a no-op and swallows callback
// errors: progress-reporting failure must never interrupt the main flow.
func reportProgress(ctx *taskctx.Context, total, current int, message string) {
	if total <= 0 {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			ctx.Logger.Warn("progress_report_failed", "run_id", ctx.Meta.RunID, "recovered", r)
		}
	}()
	callCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if ok := ctx.Callback.Progress(callCtx, ctx.Meta.RunID, current, total, message); !ok {
		ctx.Logger.Warn("progress_report_failed", "run_id", ctx.Meta.RunID, "current", current, "total", total)
	}
}

var _ lifecycle.Hooks = hooks{}
