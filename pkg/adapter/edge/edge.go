// Package edge binds the kernel to fetch-style runtimes: hosts that hand
// the process one request value per call and take one response value back,
// with no socket in sight. The base Adapter covers the plain fetch pair;
// WorkerAdapter extends it with environment bindings, key-value stores and
// a timer-triggered entry point for hosts that offer them.
package edge

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// sourceFetch is the event-source label for the plain fetch entry point.
const sourceFetch = "fetch"

// Adapter dispatches fetch-standard request/response pairs into the kernel.
type Adapter struct {
	cfg      adapter.Config
	env      adapter.Environment
	cache    adapter.AppCache
	platform string
}

// New builds the fetch adapter. As on the function platform, a configured
// Builder is deferred: the application is constructed on the first request
// of a warm isolate and reused until the host recycles it.
func New(cfg adapter.Config) (*Adapter, error) {
	if cfg.Handler == nil && cfg.Builder == nil {
		return nil, adapter.ErrNoHandler
	}
	return &Adapter{
		cfg:      cfg.Normalize(),
		env:      adapter.ResolveEnvironment(adapter.PlatformEdge),
		platform: adapter.PlatformEdge,
	}, nil
}

// Platform identifies this adapter on logs and metrics.
func (a *Adapter) Platform() string { return a.platform }

// SupportsPersistentConnections reports that fetch hosts give each request
// an isolated invocation with no transport to keep.
func (a *Adapter) SupportsPersistentConnections() bool { return false }

// Environment returns the environment resolved at construction.
func (a *Adapter) Environment() adapter.Environment { return a.env }

// Logger returns the adapter's logger.
func (a *Adapter) Logger() *slog.Logger { return a.cfg.Logger }

// ResetAppCache drops the memoized application so the next request
// rebuilds it.
func (a *Adapter) ResetAppCache() { a.cache.Reset() }

func (a *Adapter) handler() (kernel.Handler, error) {
	if a.cfg.Handler != nil {
		return a.cfg.Handler, nil
	}
	h, cold, err := a.cache.Get(func() (kernel.Handler, error) {
		return a.cfg.Builder(a.env)
	})
	if err != nil {
		return nil, err
	}
	if cold {
		a.cfg.Metrics.RecordColdStart(a.platform)
		a.cfg.Logger.Info("cold_start", "runtime", a.env.Runtime, "mode", a.env.Mode)
	}
	return h, nil
}

// ParseRequest maps a fetch request onto the canonical model. It accepts an
// *http.Request and is total: any other event yields a zero request. The
// body is left untouched; ReadBody applies the deferred-read rule
// separately so parsing stays free of I/O.
func (a *Adapter) ParseRequest(event any) platform.Request {
	r, ok := event.(*http.Request)
	if !ok || r == nil || r.URL == nil {
		return platform.Request{}
	}
	return platform.Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		Header:     platform.HeaderFromHTTP(r.Header),
		Query:      r.URL.Query(),
		RemoteAddr: clientAddr(r),
	}
}

// clientAddr recovers the original client: the first hop of the
// forwarded-for header, which is the only address a fetch runtime exposes.
// Later hops are proxies and are discarded. Requests arriving without the
// header (local testing against a plain socket) fall back to the peer
// address.
func clientAddr(r *http.Request) string {
	v := r.Header.Get("X-Forwarded-For")
	if v == "" {
		return r.RemoteAddr
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}

// ReadBody buffers the request payload under the deferred-read rule:
// GET and HEAD requests never touch the body, every other method buffers it
// fully before the kernel call. The configured cap applies during the read,
// so an oversized payload fails before it is fully buffered.
func (a *Adapter) ReadBody(r *http.Request) ([]byte, error) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return nil, nil
	}
	if !requestCarriesBody(r) {
		return nil, nil
	}
	var rd io.Reader = r.Body
	if a.cfg.BodyLimited() {
		rd = io.LimitReader(r.Body, a.cfg.MaxBodyBytes+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if a.cfg.BodyLimited() && int64(len(b)) > a.cfg.MaxBodyBytes {
		return nil, adapter.ErrBodyTooLarge
	}
	return b, nil
}

// requestCarriesBody distinguishes "no body sent" from "empty body sent",
// mirroring the rule on the socket platform.
func requestCarriesBody(r *http.Request) bool {
	if r.Body == nil || r.Body == http.NoBody {
		return r.ContentLength > 0
	}
	if r.ContentLength != 0 {
		return true
	}
	if len(r.TransferEncoding) > 0 {
		return true
	}
	return r.Header.Get("Content-Length") != ""
}

// Handle runs one fetch request through the pipeline and returns the
// canonical response. Failures come back as canonical error responses,
// never as errors or panics.
func (a *Adapter) Handle(ctx context.Context, event any) platform.Response {
	r, ok := event.(*http.Request)
	if !ok || r == nil {
		return platform.ErrorResponse(http.StatusBadRequest, "unsupported event", nil)
	}
	start := time.Now()
	preq := a.ParseRequest(r)

	body, err := a.ReadBody(r)
	if err != nil {
		res := adapter.RejectBody(a.cfg, a.platform, err)
		a.record(res.StatusCode, start)
		return res
	}
	preq.Body = body

	h, err := a.handler()
	if err != nil {
		a.cfg.Logger.Error("app_build_failed", "error", err)
		res := adapter.InternalError(a.cfg, err)
		a.record(res.StatusCode, start)
		return res
	}

	// Edge runtimes cap the invocation themselves, so the kernel runs
	// synchronously with no timer of ours.
	w := kernel.NewResponseWriter()
	res := adapter.Call(ctx, a.cfg, a.platform, h, preq, w, body, func() platform.Response {
		return w.Response()
	})
	a.record(res.StatusCode, start)
	a.cfg.Logger.Debug("fetch_completed",
		"method", preq.Method, "path", preq.Path,
		"status", res.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return res
}

func (a *Adapter) record(status int, start time.Time) {
	a.cfg.Metrics.RecordRequest(a.platform, sourceFetch, status, time.Since(start))
}

// Fetch is the host entry point: one request value in, one response value
// out. Nothing escapes as an error; the only failure that cannot be wrapped
// into a proper response is formatting an already-computed one, which is
// logged and degraded to a bare 500.
func (a *Adapter) Fetch(ctx context.Context, r *http.Request) *http.Response {
	res := a.Handle(ctx, r)
	native, err := a.FormatResponse(res)
	if err != nil {
		a.cfg.Logger.Error("format_response_failed", "error", err)
		return &http.Response{
			StatusCode: http.StatusInternalServerError,
			Status:     http.StatusText(http.StatusInternalServerError),
			Proto:      "HTTP/1.1",
			ProtoMajor: 1,
			ProtoMinor: 1,
			Header:     http.Header{},
			Body:       http.NoBody,
		}
	}
	return native.(*http.Response)
}

// FormatResponse renders the canonical response as an *http.Response.
// Multi-value headers become repeated entries; content-length travels
// through the ContentLength field, the one header fetch targets treat as
// single-valued. Base64-flagged bodies are decoded back to raw bytes, since
// fetch response bodies are bytes already. The mapping is pure: equal
// responses produce equal observable outputs.
func (a *Adapter) FormatResponse(res platform.Response) (any, error) {
	body := res.Body
	if res.IsBase64 && body != nil {
		decoded, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, fmt.Errorf("edge: decode base64 response body: %w", err)
		}
		body = decoded
	}

	out := &http.Response{
		StatusCode: res.StatusCode,
		Status:     fmt.Sprintf("%d %s", res.StatusCode, http.StatusText(res.StatusCode)),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header, len(res.Header)),
	}
	for k, vs := range res.Header {
		if strings.EqualFold(k, "content-length") {
			continue
		}
		for _, v := range vs {
			out.Header.Add(k, v)
		}
	}
	if body != nil {
		out.Body = io.NopCloser(bytes.NewReader(body))
		out.ContentLength = int64(len(body))
	} else {
		out.Body = http.NoBody
	}
	return out, nil
}
