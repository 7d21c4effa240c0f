package kernel

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"testing"

	"portico/pkg/platform"
)

func TestFromHTTPPropagatesRequest(t *testing.T) {
	var seen struct {
		method, path, query, header, remote, body string
	}
	h := FromHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.method = r.Method
		seen.path = r.URL.Path
		seen.query = r.URL.Query().Get("limit")
		seen.header = r.Header.Get("X-Tenant")
		seen.remote = r.RemoteAddr
		b, _ := io.ReadAll(r.Body)
		seen.body = string(b)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("stored"))
	}))

	hdr := platform.NewHeader()
	hdr.Set("X-Tenant", "alpha")
	req := NewRequest(context.Background(), platform.Request{
		Method:     "POST",
		Path:       "/v1/items",
		Header:     hdr,
		Query:      url.Values{"limit": {"5"}},
		RemoteAddr: "192.0.2.7:1234",
	})
	w := NewResponseWriter()
	if err := h.ServeKernel(req, w, []byte(`{"n":1}`)); err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}

	if seen.method != "POST" || seen.path != "/v1/items" || seen.query != "5" {
		t.Fatalf("unexpected request line seen by handler: %+v", seen)
	}
	if seen.header != "alpha" {
		t.Fatalf("expected header passthrough, got %q", seen.header)
	}
	if seen.remote != "192.0.2.7:1234" {
		t.Fatalf("expected remote addr passthrough, got %q", seen.remote)
	}
	if seen.body != `{"n":1}` {
		t.Fatalf("expected body passthrough, got %q", seen.body)
	}

	res := w.Response()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 capture, got %d", res.StatusCode)
	}
	if res.Header.Get("content-type") != "text/plain" {
		t.Fatalf("expected response header capture, got %v", res.Header)
	}
	if got := string(res.Body); got != "stored" {
		t.Fatalf("unexpected response body: %q", got)
	}
	if !w.Ended() {
		t.Fatalf("expected bridge to finalize the response")
	}
}

func TestFromHTTPAbsentBodyReadsEmpty(t *testing.T) {
	h := FromHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("unexpected body read error: %v", err)
		}
		if len(b) != 0 {
			t.Errorf("expected empty read for absent body, got %q", b)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	w := NewResponseWriter()
	req := NewRequest(context.Background(), platform.Request{Method: "GET", Path: "/healthz"})
	if err := h.ServeKernel(req, w, nil); err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}
	res := w.Response()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", res.StatusCode)
	}
	if res.Body != nil {
		t.Fatalf("expected absent body, got %q", res.Body)
	}
}

func TestFromHTTPSilentHandlerDefaultsTo200(t *testing.T) {
	h := FromHTTP(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	w := NewResponseWriter()
	req := NewRequest(context.Background(), platform.Request{Method: "GET", Path: "/"})
	if err := h.ServeKernel(req, w, nil); err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}
	res := w.Response()
	if res.StatusCode != 200 || res.Body != nil {
		t.Fatalf("expected bare 200 with no body, got %d %q", res.StatusCode, res.Body)
	}
}

func TestFromHTTPHostHeader(t *testing.T) {
	h := FromHTTP(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "api.example.com" {
			t.Errorf("expected host field, got %q", r.Host)
		}
	}))
	hdr := platform.NewHeader()
	hdr.Set("Host", "api.example.com")
	w := NewResponseWriter()
	req := NewRequest(context.Background(), platform.Request{Method: "GET", Path: "/", Header: hdr})
	if err := h.ServeKernel(req, w, nil); err != nil {
		t.Fatalf("unexpected bridge error: %v", err)
	}
}
