package lifecycle

import (
	"errors"
	"log/slog"
	"io"
	"testing"

	"github.com/swarmguard/artemis/internal/callback"
	"github.com/swarmguard/artemis/internal/taskctx"
)

type fakeCfg struct{}

func (fakeCfg) TaskDefault(string) map[string]any { return map[string]any{} }
func (fakeCfg) TaskVariant(string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRunCtx(t *testing.T, hooks Hooks) (*taskctx.Context, *Unit) {
	t.Helper()
	unit := NewUnit(hooks, fakeCfg{})
	var ctorCalled bool
	ctor := func() taskctx.TaskUnit {
		ctorCalled = true
		return unit
	}
	resolver := resolverFunc(func(code string) (taskctx.Constructor, error) {
		return ctor, nil
	})
	ctx, err := taskctx.New(taskctx.Meta{RunID: "10", TaskID: "1", ExecType: "SYNC", TaskCode: "T1"}, map[string]any{}, testLogger(), nil, callback.NoopClient{}, resolver)
	if err != nil {
		t.Fatal(err)
	}
	_ = ctorCalled
	return ctx, unit
}

type resolverFunc func(code string) (taskctx.Constructor, error)

func (f resolverFunc) Get(code string) (taskctx.Constructor, error) { return f(code) }

type successHooks struct {
	Base
}

func (successHooks) Execute(ctx *taskctx.Context) (any, error) {
	ctx.Stat("n", 1)
	return map[string]any{"ok": 1}, nil
}

func (successHooks) Sink(ctx *taskctx.Context, processed any) error {
	return nil
}

type failingExecuteHooks struct {
	Base
}

func (failingExecuteHooks) Execute(ctx *taskctx.Context) (any, error) {
	return nil, errors.New("boom")
}

func TestSuccessRunRecordsAllPhaseDurations(t *testing.T) {
	ctx, unit := newRunCtx(t, successHooks{})
	if err := unit.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if ctx.Status() != taskctx.StatusSuccess {
		t.Fatalf("expected SUCCESS, got %s", ctx.Status())
	}
	durations, _ := ctx.Stats()["phase_durations_ms"].(map[string]any)
	for _, phase := range Phases {
		if _, ok := durations[phase]; !ok {
			t.Fatalf("expected phase %q in durations, got %+v", phase, durations)
		}
	}
	if ctx.Stats()["n"] != 1 {
		t.Fatalf("expected stat n=1, got %v", ctx.Stats()["n"])
	}
}

func TestFailingExecutePhaseStopsChainAndOmitsLaterPhases(t *testing.T) {
	ctx, unit := newRunCtx(t, failingExecuteHooks{})
	err := unit.Run(ctx)
	if err == nil {
		t.Fatalf("expected error")
	}
	if ctx.Status() != taskctx.StatusFailed {
		t.Fatalf("expected FAILED, got %s", ctx.Status())
	}
	if ctx.Error() == nil || ctx.Error().Error() != "boom" {
		t.Fatalf("expected error 'boom', got %v", ctx.Error())
	}
	durations, _ := ctx.Stats()["phase_durations_ms"].(map[string]any)
	if _, ok := durations["execute"]; !ok {
		t.Fatalf("failing phase's own duration should be recorded, got %+v", durations)
	}
	if _, ok := durations["post_process"]; ok {
		t.Fatalf("post_process should not have run after execute failed")
	}
	if _, ok := durations["parameter_check"]; !ok {
		t.Fatalf("expected earlier successful phases recorded")
	}
}
