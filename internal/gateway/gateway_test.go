package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/swarmguard/artemis/internal/engine"
	"github.com/swarmguard/artemis/internal/lifecycle"
	"github.com/swarmguard/artemis/internal/taskctx"
)

type fakeCfg struct{}

func (fakeCfg) TaskDefault(string) map[string]any { return map[string]any{} }
func (fakeCfg) TaskVariant(string, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

type stubResolver struct{ ctors map[string]taskctx.Constructor }

func (r stubResolver) Get(code string) (taskctx.Constructor, error) {
	c, ok := r.ctors[code]
	if !ok {
		return nil, errNoCode
	}
	return c, nil
}
func (r stubResolver) Has(code string) bool { _, ok := r.ctors[code]; return ok }

var errNoCode = &notFoundErr{}

type notFoundErr struct{}

func (*notFoundErr) Error() string { return "not found" }

type successHooks struct{ lifecycle.Base }

func (successHooks) Execute(ctx *taskctx.Context) (any, error) {
	ctx.Stat("n", 1)
	return nil, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestGateway() (*Gateway, stubResolver) {
	resolver := stubResolver{ctors: map[string]taskctx.Constructor{
		"T1": func() taskctx.TaskUnit { return lifecycle.NewUnit(successHooks{}, fakeCfg{}) },
	}}
	eng := engine.New(resolver, nil, testLogger(), nil, nil)
	return New(eng, resolver, testLogger()), resolver
}

func TestRunEndpointSyncSuccess(t *testing.T) {
	gw, _ := newTestGateway()
	body := []byte(`{"meta":{"run_id":10,"task_id":1,"exec_type":"SYNC"},"body":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/run/T1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Mux().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp engine.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "SUCCESS" {
		t.Fatalf("expected SUCCESS, got %+v", resp)
	}
}

func TestRunEndpointUnknownTaskCodeIs404(t *testing.T) {
	gw, _ := newTestGateway()
	body := []byte(`{"meta":{"run_id":"1","task_id":"1","exec_type":"SYNC"},"body":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/run/nope", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestRunEndpointMalformedEnvelopeIs422(t *testing.T) {
	gw, _ := newTestGateway()
	req := httptest.NewRequest(http.MethodPost, "/tasks/run/T1", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	gw.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestRunEndpointMissingRunIDIs422(t *testing.T) {
	gw, _ := newTestGateway()
	body := []byte(`{"meta":{"task_id":"1","exec_type":"SYNC"},"body":{}}`)
	req := httptest.NewRequest(http.MethodPost, "/tasks/run/T1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	gw.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	gw, _ := newTestGateway()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	gw.Mux().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
