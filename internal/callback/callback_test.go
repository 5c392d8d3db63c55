package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*HTTPClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return NewHTTPClient(u.Hostname(), port, nil), srv
}

func TestFinalizeIsIdempotentAfterFirstSuccess(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ok := c.FinalizeSuccess(context.Background(), "1", 200, "done")
	if !ok {
		t.Fatalf("expected first finalize to succeed")
	}
	if !c.Finalized("1") {
		t.Fatalf("expected run marked finalized")
	}
	ok2 := c.FinalizeSuccess(context.Background(), "1", 200, "done")
	if ok2 {
		t.Fatalf("expected second finalize to be a no-op")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly one network call, got %d", calls)
	}
}

func TestFinalizeRetriesThenSucceeds(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ok := c.FinalizeFailed(context.Background(), "2", "boom")
	if !ok {
		t.Fatalf("expected eventual success after retry")
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestProgressSendsExpectedBody(t *testing.T) {
	var gotBody map[string]any
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	ok := c.Progress(context.Background(), "3", 1, 3, "children 1/3 done")
	if !ok {
		t.Fatalf("expected progress to report true")
	}
	if gotBody["current"].(float64) != 1 || gotBody["total"].(float64) != 3 {
		t.Fatalf("unexpected body: %+v", gotBody)
	}
}

func TestProgressNoopAfterFinalized(t *testing.T) {
	var calls int32
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	c.FinalizeSuccess(context.Background(), "4", 200, "ok")
	ok := c.Progress(context.Background(), "4", 1, 1, "late")
	if ok {
		t.Fatalf("expected progress after finalize to be a no-op")
	}
	if calls != 1 {
		t.Fatalf("expected no additional network call, got %d total", calls)
	}
}
