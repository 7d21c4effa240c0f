package httpserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/valyala/fasthttp"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// startFastHTTP wires the fasthttp engine onto ln. Bodies are streamed so
// the adapter's own cap decides rejection instead of fasthttp's buffer
// limit, keeping the 413 envelope identical across engines.
func (a *Adapter) startFastHTTP(ln net.Listener) {
	srv := &fasthttp.Server{
		Handler:           a.serveFastHTTP,
		Name:              "portico",
		StreamRequestBody: true,
	}
	if a.cfg.TimeoutEnabled() {
		// Engine timeouts track the dispatch bound so the socket is never
		// cut out from under a kernel that is still within its deadline.
		srv.ReadTimeout = a.cfg.Timeout
		srv.WriteTimeout = a.cfg.Timeout
	}
	a.fstop = srv.ShutdownWithContext
	go func() {
		a.errCh <- srv.Serve(ln)
	}()
}

func (a *Adapter) serveFastHTTP(ctx *fasthttp.RequestCtx) {
	start := time.Now()
	preq := a.ParseRequest(ctx)

	body, err := a.readFastBody(ctx)
	if err != nil {
		res := a.rejectBody(err)
		if err == adapter.ErrBodyTooLarge {
			a.cfg.Logger.Warn("body_rejected", "method", preq.Method, "path", preq.Path, "limit", a.cfg.MaxBodyBytes)
			ctx.SetConnectionClose()
		}
		writeFastResponse(ctx, res)
		a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
		return
	}

	// fasthttp buffers the response until the handler returns, so the
	// kernel writes into a buffered sink rather than a streaming one.
	cctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	kw := kernel.NewResponseWriter()
	res := a.dispatch(cctx, preq, kw, body, func() platform.Response { return kw.Response() })
	writeFastResponse(ctx, res)

	a.cfg.Metrics.RecordRequest(adapter.PlatformServer, sourceSocket, res.StatusCode, time.Since(start))
	a.cfg.Logger.Debug("request_completed",
		"method", preq.Method, "path", preq.Path, "status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
}

// parseFastHTTP maps a fasthttp request context onto the canonical model.
func (a *Adapter) parseFastHTTP(ctx *fasthttp.RequestCtx) platform.Request {
	hdr := platform.NewHeader()
	ctx.Request.Header.VisitAll(func(k, v []byte) {
		hdr.Add(string(k), string(v))
	})
	q := url.Values{}
	ctx.QueryArgs().VisitAll(func(k, v []byte) {
		q.Add(string(k), string(v))
	})
	return platform.Request{
		Method:     string(ctx.Method()),
		Path:       string(ctx.Path()),
		Header:     hdr,
		Query:      q,
		RemoteAddr: ctx.RemoteAddr().String(),
	}
}

// readFastBody drains the streamed request body under the configured cap,
// with the same absent-versus-empty rule as the net/http engine.
func (a *Adapter) readFastBody(ctx *fasthttp.RequestCtx) ([]byte, error) {
	h := &ctx.Request.Header
	if h.ContentLength() == 0 && len(h.Peek(fasthttp.HeaderContentLength)) == 0 {
		return nil, nil
	}

	var rd io.Reader = ctx.RequestBodyStream()
	if rd == nil {
		b := append([]byte(nil), ctx.PostBody()...)
		if a.cfg.BodyLimited() && int64(len(b)) > a.cfg.MaxBodyBytes {
			return nil, adapter.ErrBodyTooLarge
		}
		return b, nil
	}

	if a.cfg.BodyLimited() {
		rd = io.LimitReader(rd, a.cfg.MaxBodyBytes+1)
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

func writeFastResponse(ctx *fasthttp.RequestCtx, res platform.Response) {
	ctx.SetStatusCode(res.StatusCode)
	for k, vs := range res.Header {
		for i, v := range vs {
			if i == 0 {
				ctx.Response.Header.Set(k, v)
			} else {
				ctx.Response.Header.Add(k, v)
			}
		}
	}
	if len(res.Body) > 0 {
		_, _ = ctx.Write(res.Body)
	}
}
