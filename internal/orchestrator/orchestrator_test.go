package orchestrator

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/swarmguard/artemis/internal/callback"
	"github.com/swarmguard/artemis/internal/lifecycle"
	"github.com/swarmguard/artemis/internal/taskctx"
)

type fakeCfg struct{}

func (fakeCfg) TaskDefault(string) map[string]any { return map[string]any{} }
func (fakeCfg) TaskVariant(string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

type childSuccessHooks struct{ lifecycle.Base }

func (childSuccessHooks) Execute(ctx *taskctx.Context) (any, error) { return nil, nil }

type childFailHooks struct{ lifecycle.Base }

func (childFailHooks) Execute(ctx *taskctx.Context) (any, error) { return nil, errors.New("child boom") }

type fixedPlanner struct {
	specs []ChildSpec
}

func (p fixedPlanner) Plan(ctx *taskctx.Context) ([]ChildSpec, error) { return p.specs, nil }

type registryStub struct {
	ctors map[string]taskctx.Constructor
}

func (r registryStub) Get(code string) (taskctx.Constructor, error) {
	c, ok := r.ctors[code]
	if !ok {
		return nil, errors.New("unknown code " + code)
	}
	return c, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newParentCtx(t *testing.T, planner Planner, childCtor taskctx.Constructor) *taskctx.Context {
	t.Helper()
	resolver := registryStub{ctors: map[string]taskctx.Constructor{
		"C": childCtor,
	}}
	parentUnit := NewUnit(planner, fakeCfg{})
	resolver.ctors["PARENT"] = func() taskctx.TaskUnit { return parentUnit }

	ctx, err := taskctx.New(taskctx.Meta{RunID: "100", TaskID: "1", ExecType: "SYNC", TaskCode: "PARENT"}, map[string]any{}, testLogger(), nil, callback.NoopClient{}, resolver)
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestFanOutAllChildrenSucceed(t *testing.T) {
	specs := []ChildSpec{
		{Key: "C", Params: map[string]any{}},
		{Key: "C", Params: map[string]any{}},
		{Key: "C", Params: map[string]any{}},
	}
	ctx := newParentCtx(t, fixedPlanner{specs: specs}, func() taskctx.TaskUnit {
		return lifecycle.NewUnit(childSuccessHooks{}, fakeCfg{})
	})

	if err := ctx.Unit.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.Status() != taskctx.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", ctx.Status())
	}
	completed, total := ctx.ChildProgress()
	if completed != 3 || total != 3 {
		t.Fatalf("expected 3/3, got %d/%d", completed, total)
	}
}

func TestFanOutChildFailurePropagates(t *testing.T) {
	specs := []ChildSpec{
		{Key: "C", Params: map[string]any{}},
	}
	ctx := newParentCtx(t, fixedPlanner{specs: specs}, func() taskctx.TaskUnit {
		return lifecycle.NewUnit(childFailHooks{}, fakeCfg{})
	})

	err := ctx.Unit.Run(ctx)
	if err == nil {
		t.Fatalf("expected parent run to fail")
	}
	if ctx.Status() != taskctx.StatusFailed {
		t.Fatalf("expected FAILED, got %s", ctx.Status())
	}
}

func TestInvalidChildSpecRejected(t *testing.T) {
	specs := []ChildSpec{{Key: "", Params: map[string]any{}}}
	ctx := newParentCtx(t, fixedPlanner{specs: specs}, func() taskctx.TaskUnit {
		return lifecycle.NewUnit(childSuccessHooks{}, fakeCfg{})
	})
	if err := ctx.Unit.Run(ctx); err == nil {
		t.Fatalf("expected invalid child spec to fail the run")
	}
}
