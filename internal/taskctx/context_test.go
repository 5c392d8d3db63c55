package taskctx

import (
	"testing"

	"github.com/swarmguard/artemis/internal/callback"
)

type stubUnit struct{}

func (stubUnit) Run(ctx *Context) error { return nil }

type stubResolver struct {
	ctor Constructor
	err  error
}

func (r stubResolver) Get(code string) (Constructor, error) {
	if r.err != nil {
		return nil, r.err
	}
	return r.ctor, nil
}

func newTestContext(t *testing.T) *Context {
	t.Helper()
	ctx, err := New(Meta{RunID: "1", TaskID: "1", ExecType: "SYNC", TaskCode: "T1"}, nil, nil, nil, callback.NoopClient{}, stubResolver{ctor: func() TaskUnit { return stubUnit{} }})
	if err != nil {
		t.Fatal(err)
	}
	return ctx
}

func TestSetStatusRejectsInvalidValue(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.SetStatus(Status("BOGUS")); err == nil {
		t.Fatalf("expected invalid status to be rejected")
	}
}

func TestChildCountInvariant(t *testing.T) {
	ctx := newTestContext(t)
	ctx.MarkChildTotal(3)
	ctx.IncChildCompleted()
	ctx.IncChildCompleted()
	completed, total := ctx.ChildProgress()
	if completed != 2 || total != 3 {
		t.Fatalf("expected 2/3, got %d/%d", completed, total)
	}
}

func TestCloseSetsEndTsOnce(t *testing.T) {
	ctx := newTestContext(t)
	ctx.Close()
	d1 := ctx.DurationMs()
	ctx.Close()
	d2 := ctx.DurationMs()
	if d1 != d2 {
		t.Fatalf("expected duration to be stable after close, got %d then %d", d1, d2)
	}
}

func TestIncStatNumericAccumulates(t *testing.T) {
	ctx := newTestContext(t)
	ctx.IncStat("n", 1)
	ctx.IncStat("n", 2)
	if ctx.Stats()["n"] != float64(3) {
		t.Fatalf("expected accumulated stat 3, got %v", ctx.Stats()["n"])
	}
}
