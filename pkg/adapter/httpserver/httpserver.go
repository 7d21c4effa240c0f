// Package httpserver binds the kernel to a persistent socket-listening HTTP
// server. Two engines are available: the default net/http engine, which
// streams kernel writes to the wire as they happen, and a fasthttp engine
// for lean high-throughput deployments. Either way the request pipeline is
// the same: parse, cap the body, dispatch with a deadline, and translate
// failures into canonical error responses.
package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/valyala/fasthttp"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

const (
	// EngineNetHTTP serves with net/http and supports live response
	// streaming plus connection hijacking on oversized bodies.
	EngineNetHTTP = "nethttp"
	// EngineFastHTTP serves with fasthttp and buffers responses.
	EngineFastHTTP = "fasthttp"
)

// sourceSocket is the event-source label for this platform.
const sourceSocket = "socket"

// Adapter serves kernel traffic over a long-lived TCP listener.
type Adapter struct {
	cfg     adapter.Config
	env     adapter.Environment
	handler kernel.Handler
	engine  string

	mu      sync.Mutex
	started bool
	ln      net.Listener
	srv     *http.Server
	fstop   func(context.Context) error
	errCh   chan error
}

// Option tweaks adapter construction.
type Option func(*Adapter)

// WithEngine selects the serving engine, EngineNetHTTP or EngineFastHTTP.
func WithEngine(engine string) Option {
	return func(a *Adapter) { a.engine = engine }
}

// New builds the server adapter. The handler is resolved eagerly: a server
// process is long-lived, so there is nothing to gain from deferring
// application construction the way the function adapters do.
func New(cfg adapter.Config, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		cfg:    cfg.Normalize(),
		env:    adapter.ResolveEnvironment(adapter.PlatformServer),
		engine: EngineNetHTTP,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.engine != EngineNetHTTP && a.engine != EngineFastHTTP {
		return nil, fmt.Errorf("httpserver: unknown engine %q", a.engine)
	}

	switch {
	case a.cfg.Handler != nil:
		a.handler = a.cfg.Handler
	case a.cfg.Builder != nil:
		h, err := a.cfg.Builder(a.env)
		if err != nil {
			return nil, fmt.Errorf("httpserver: build handler: %w", err)
		}
		a.handler = h
		a.cfg.Metrics.RecordColdStart(adapter.PlatformServer)
	default:
		return nil, adapter.ErrNoHandler
	}
	return a, nil
}

// Platform identifies this adapter on logs and metrics.
func (a *Adapter) Platform() string { return adapter.PlatformServer }

// SupportsPersistentConnections reports that the socket platform keeps
// connections open across requests.
func (a *Adapter) SupportsPersistentConnections() bool { return true }

// Environment returns the environment resolved at construction.
func (a *Adapter) Environment() adapter.Environment { return a.env }

// Logger returns the adapter's logger.
func (a *Adapter) Logger() *slog.Logger { return a.cfg.Logger }

// ParseRequest maps a native request onto the canonical model. It accepts
// either engine's request type and is total: any other event yields a zero
// request. The body is not consumed here; the serving pipeline streams it
// separately so the cap can be enforced without buffering the whole payload
// first.
func (a *Adapter) ParseRequest(event any) platform.Request {
	switch r := event.(type) {
	case *http.Request:
		if r == nil {
			return platform.Request{}
		}
		return platform.Request{
			Method:     r.Method,
			Path:       r.URL.Path,
			Header:     platform.HeaderFromHTTP(r.Header),
			Query:      r.URL.Query(),
			RemoteAddr: r.RemoteAddr,
		}
	case *fasthttp.RequestCtx:
		if r == nil {
			return platform.Request{}
		}
		return a.parseFastHTTP(r)
	}
	return platform.Request{}
}

// FormatResponse returns the canonical response unchanged: the socket
// platform writes responses itself, so there is no native envelope to
// build.
func (a *Adapter) FormatResponse(res platform.Response) (any, error) {
	return res, nil
}

// Handle runs one event through the full pipeline and returns the canonical
// response. The event is a *http.Request; body capping, the dispatch
// deadline and panic recovery all apply exactly as they do on the serving
// path. Responses are buffered, never streamed.
func (a *Adapter) Handle(ctx context.Context, event any) platform.Response {
	r, ok := event.(*http.Request)
	if !ok || r == nil {
		return platform.ErrorResponse(http.StatusBadRequest, "unsupported event", nil)
	}
	start := time.Now()
	preq := a.ParseRequest(r)

	body, err := readRequestBody(r, a.cfg)
	if err != nil {
		res := a.rejectBody(err)
		a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
		return res
	}

	w := kernel.NewResponseWriter()
	res := a.dispatch(ctx, preq, w, body, func() platform.Response { return w.Response() })
	a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
	return res
}

func (a *Adapter) dispatch(ctx context.Context, preq platform.Request, w *kernel.ResponseWriter, body []byte, collect func() platform.Response) platform.Response {
	return adapter.Dispatch(ctx, a.cfg, adapter.PlatformServer, a.handler, preq, w, body, collect)
}

func (a *Adapter) rejectBody(err error) platform.Response {
	return adapter.RejectBody(a.cfg, adapter.PlatformServer, err)
}

// StartServer binds addr and serves in the background. Serve errors arrive
// on Err. Starting an adapter that is already listening returns
// ErrAlreadyStarted.
func (a *Adapter) StartServer(addr string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return adapter.ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", addr, err)
	}
	a.ln = ln
	a.errCh = make(chan error, 1)
	a.started = true

	switch a.engine {
	case EngineFastHTTP:
		a.startFastHTTP(ln)
	default:
		srv := &http.Server{Handler: http.HandlerFunc(a.serveHTTP)}
		a.srv = srv
		go func() {
			err := srv.Serve(ln)
			if err == http.ErrServerClosed {
				err = nil
			}
			a.errCh <- err
		}()
	}

	a.cfg.Logger.Info("server_started", "addr", ln.Addr().String(), "engine", a.engine)
	return nil
}

// Addr returns the bound listen address, or "" before StartServer.
func (a *Adapter) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ln == nil {
		return ""
	}
	return a.ln.Addr().String()
}

// Err delivers the terminal serve error, nil after a clean Stop.
func (a *Adapter) Err() <-chan error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errCh
}

// Stop drains in-flight requests until ctx expires, then tears the
// listener down hard. After Stop the adapter may be started again.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	srv, fstop, ln := a.srv, a.fstop, a.ln
	a.started = false
	a.srv = nil
	a.fstop = nil
	a.ln = nil
	a.mu.Unlock()

	var err error
	switch {
	case srv != nil:
		err = srv.Shutdown(ctx)
		if err != nil {
			_ = srv.Close()
		}
	case fstop != nil:
		err = fstop(ctx)
		if err != nil && ln != nil {
			_ = ln.Close()
		}
	}
	a.cfg.Logger.Info("server_stopped", "error", err)
	return err
}
