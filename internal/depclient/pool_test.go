package depclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func TestPostSucceedsWithoutActiveSpan(t *testing.T) {
	resetPoolForTest()
	var gotTraceparent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	host, port := splitHostPort(t, srv.URL)
	c := New(host, port, 2)
	resp, err := c.Post(context.Background(), "/x", map[string]any{"a": 1}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if !IsSuccess(resp.StatusCode) {
		t.Fatalf("expected 2xx, got %d", resp.StatusCode)
	}
	_ = gotTraceparent // absent without an active span: acceptable, no panic either way
}

func TestPoolReusesClientForSameKey(t *testing.T) {
	resetPoolForTest()
	c1 := New("localhost", 9999, 1)
	c2 := New("localhost", 9999, 1)
	if c1.http != c2.http {
		t.Fatalf("expected pooled client reuse for identical (host,port,timeout)")
	}
}

func splitHostPort(t *testing.T, rawURL string) (string, int) {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatal(err)
	}
	return u.Hostname(), port
}
