package depclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	resetPoolForTest()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := New(host, port, 2)

	var lastErr error
	for i := 0; i < 20; i++ {
		resp, err := c.Post(context.Background(), "/x", map[string]any{}, nil)
		if resp != nil {
			resp.Body.Close()
		}
		lastErr = err
	}
	if lastErr != ErrCircuitOpen {
		t.Fatalf("expected breaker to open after repeated failures, last err: %v", lastErr)
	}
}

func TestNewRawBypassesBreaker(t *testing.T) {
	resetPoolForTest()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := NewRaw(host, port, 2)

	for i := 0; i < 20; i++ {
		resp, err := c.Post(context.Background(), "/x", map[string]any{}, nil)
		if err != nil {
			t.Fatalf("NewRaw client should never trip a breaker, got %v", err)
		}
		resp.Body.Close()
	}
}
