package httpserver

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// wireGuard serializes access to the underlying ResponseWriter between the
// kernel goroutine's live writes and the adapter's own terminal responses.
// Once committed, every later write is dropped, which is what makes the
// timeout response the only response a client can ever see.
type wireGuard struct {
	mu        sync.Mutex
	w         http.ResponseWriter
	wroteHead bool
	committed bool
}

func (g *wireGuard) writeHead(status int, header platform.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed || g.wroteHead {
		return
	}
	copyHeader(g.w.Header(), header)
	g.w.WriteHeader(status)
	g.wroteHead = true
}

func (g *wireGuard) write(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed {
		return len(p), nil
	}
	if !g.wroteHead {
		g.w.WriteHeader(http.StatusOK)
		g.wroteHead = true
	}
	return g.w.Write(p)
}

// commit writes a full canonical response if nothing has reached the wire
// yet, and seals the guard either way. It reports whether the response made
// it out.
func (g *wireGuard) commit(res platform.Response) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.committed {
		return false
	}
	g.committed = true
	if g.wroteHead {
		return false
	}
	copyHeader(g.w.Header(), res.Header)
	g.w.WriteHeader(res.StatusCode)
	if len(res.Body) > 0 {
		_, _ = g.w.Write(res.Body)
	}
	g.wroteHead = true
	return true
}

func copyHeader(dst http.Header, src platform.Header) {
	for k, vs := range src {
		dst[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
}

// serveHTTP is the net/http request pipeline: parse, cap the body, dispatch
// under the deadline, and stream kernel writes straight to the socket.
func (a *Adapter) serveHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	preq := a.ParseRequest(r)
	guard := &wireGuard{w: w}

	body, err := readRequestBody(r, a.cfg)
	if err != nil {
		if err == adapter.ErrBodyTooLarge {
			a.cfg.Metrics.RecordBodyRejected(adapter.PlatformServer)
			a.cfg.Logger.Warn("body_rejected", "method", preq.Method, "path", preq.Path, "limit", a.cfg.MaxBodyBytes)
			a.destroyConnection(w)
			a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, http.StatusRequestEntityTooLarge, time.Since(start))
			return
		}
		res := platform.ErrorResponse(http.StatusBadRequest, "malformed request body", nil)
		guard.commit(res)
		a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
		return
	}

	kw := kernel.NewStreamingResponseWriter(guard.writeHead, guard.write)
	res := a.dispatch(r.Context(), preq, kw, body, func() platform.Response { return kw.Response() })
	if !guard.commit(res) && res.StatusCode >= 500 {
		// The head was already streamed; the client gets a truncated
		// body instead of the error envelope.
		a.cfg.Logger.Warn("late_error_after_headers", "path", preq.Path, "status", res.StatusCode)
	}

	a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
	a.cfg.Logger.Debug("request_completed",
		"method", preq.Method, "path", preq.Path, "status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
}

// destroyConnection hijacks the socket, sends a raw 413 and slams it shut,
// so the client cannot keep streaming an oversized body into a keep-alive
// connection. Engines that cannot hijack fall back to a plain close.
func (a *Adapter) destroyConnection(w http.ResponseWriter) {
	res := platform.ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large", nil)

	hj, ok := w.(http.Hijacker)
	if !ok {
		w.Header().Set("Connection", "close")
		copyHeader(w.Header(), res.Header)
		w.WriteHeader(res.StatusCode)
		_, _ = w.Write(res.Body)
		return
	}
	conn, bufrw, err := hj.Hijack()
	if err != nil {
		w.Header().Set("Connection", "close")
		copyHeader(w.Header(), res.Header)
		w.WriteHeader(res.StatusCode)
		_, _ = w.Write(res.Body)
		return
	}
	defer conn.Close()

	fmt.Fprintf(bufrw, "HTTP/1.1 %d %s\r\n", res.StatusCode, http.StatusText(res.StatusCode))
	fmt.Fprintf(bufrw, "Content-Type: application/json\r\n")
	fmt.Fprintf(bufrw, "Content-Length: %d\r\n", len(res.Body))
	fmt.Fprintf(bufrw, "Connection: close\r\n\r\n")
	_, _ = bufrw.Write(res.Body)
	_ = bufrw.Flush()
}
