package registry

import (
	"path/filepath"
	"testing"

	"github.com/swarmguard/artemis/internal/taskctx"
)

type stubUnit struct{}

func (stubUnit) Run(ctx *taskctx.Context) error { return nil }

func stubCtor() taskctx.TaskUnit { return stubUnit{} }

func TestRegisterAndGetRoundTrip(t *testing.T) {
	r := New("", nil)
	if err := r.RegisterStatic("T1", stubCtor); err != nil {
		t.Fatal(err)
	}
	if !r.Has("T1") {
		t.Fatalf("expected Has(T1) true")
	}
	ctor, err := r.Get("T1")
	if err != nil {
		t.Fatal(err)
	}
	if ctor == nil {
		t.Fatalf("expected non-nil constructor")
	}
}

func TestDuplicateRegistrationFails(t *testing.T) {
	r := New("", nil)
	if err := r.RegisterStatic("T1", stubCtor); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterStatic("T1", stubCtor); err == nil {
		t.Fatalf("expected duplicate registration to fail")
	}
}

func TestStaticEntryCannotBeUnregistered(t *testing.T) {
	r := New("", nil)
	_ = r.RegisterStatic("T1", stubCtor)
	if err := r.Unregister("T1"); err == nil {
		t.Fatalf("expected static unregister to fail")
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	r := New("", nil)
	if err := r.RegisterStatic("   ", stubCtor); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestDynamicPersistAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registrations.yaml")
	factory := func(moduleRef, className string) (Constructor, error) {
		return stubCtor, nil
	}

	r1 := New(path, factory)
	if err := r1.RegisterDynamic("T2", "pkg/mod", "Cls", stubCtor, true); err != nil {
		t.Fatal(err)
	}

	r2 := New(path, factory)
	if err := r2.LoadPersisted(); err != nil {
		t.Fatal(err)
	}
	if !r2.Has("T2") {
		t.Fatalf("expected persisted dynamic entry to reload")
	}
}

func TestUnknownCodeResolutionError(t *testing.T) {
	r := New("", nil)
	if _, err := r.Get("nope"); err == nil {
		t.Fatalf("expected error resolving unknown code")
	}
}
