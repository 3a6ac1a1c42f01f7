package hostfunc

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestHTTPDisabledWithoutHosts(t *testing.T) {
	h := NewHTTP(HTTPConfig{})
	_, err := h.Request(context.Background(), map[string]any{"url": "https://example.com"})
	if err != ErrHTTPDisabled {
		t.Errorf("expected ErrHTTPDisabled, got %v", err)
	}
}

func TestHTTPHostChecks(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"allowed.com"}})

	tests := []struct {
		name string
		url  string
		want string
	}{
		{"other host", "https://evil.com", "host not allowed: evil.com"},
		{"query param bypass", "https://evil.com/?x=allowed.com", "host not allowed: evil.com"},
		{"suffix bypass", "https://allowed.com.evil.com/", "host not allowed: allowed.com.evil.com"},
		{"userinfo bypass", "https://allowed.com@evil.com/", "host not allowed: evil.com"},
		{"bad scheme", "file:///etc/passwd", "scheme must be http or https"},
		{"missing url", "", "url required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Request(context.Background(), map[string]any{"url": tt.url})
			if err == nil || err.Error() != tt.want {
				t.Errorf("got %v, want %q", err, tt.want)
			}
		})
	}
}

func TestHTTPUnsupportedMethod(t *testing.T) {
	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"allowed.com"}})
	_, err := h.Request(context.Background(), map[string]any{"method": "CONNECT", "url": "https://allowed.com"})
	if err == nil || err.Error() != "unsupported method: CONNECT" {
		t.Errorf("got %v", err)
	}
}

func TestHTTPRequest(t *testing.T) {
	var gotBody, gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		gotHeader = r.Header.Get("X-Test")
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}})
	result, err := h.Request(context.Background(), map[string]any{
		"method":  "post",
		"url":     srv.URL,
		"body":    "payload",
		"headers": map[string]any{"X-Test": "1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data := result.(map[string]any)
	if data["status"].(int) != http.StatusCreated {
		t.Errorf("status = %v", data["status"])
	}
	if data["body"] != `{"ok": true}` {
		t.Errorf("body = %v", data["body"])
	}
	if data["headers"].(map[string]any)["X-Reply"] != "yes" {
		t.Errorf("headers = %v", data["headers"])
	}
	if gotBody != "payload" || gotHeader != "1" {
		t.Errorf("server saw body %q header %q", gotBody, gotHeader)
	}
}

func TestHTTPRetriesIdempotentOnly(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, RetryMax: 1})

	result, err := h.Request(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.(map[string]any)["status"].(int) != http.StatusServiceUnavailable {
		t.Errorf("last response should be returned, got %v", result)
	}
	if n := hits.Load(); n != 2 {
		t.Errorf("GET hits = %d, want 2", n)
	}

	hits.Store(0)
	if _, err := h.Request(context.Background(), map[string]any{"method": "POST", "url": srv.URL}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("POST hits = %d, want 1", n)
	}
}

func TestHTTPResponseBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	h := NewHTTP(HTTPConfig{AllowedHosts: []string{"127.0.0.1"}, MaxBodySize: 4})
	result, err := h.Request(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body := result.(map[string]any)["body"]; body != "0123" {
		t.Errorf("body = %q", body)
	}
}
