package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
	"portico/pkg/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// echoKernel reflects the request back: method and body-presence in
// headers, the raw body as the response body.
func echoKernel() kernel.Handler {
	return kernel.HandlerFunc(func(req *kernel.Request, w *kernel.ResponseWriter, body []byte) error {
		w.SetHeader("x-echo-method", req.Method())
		w.SetHeader("x-echo-has-body", strconv.FormatBool(body != nil))
		w.WriteHead(200, map[string]string{"content-type": "application/octet-stream"})
		if body != nil {
			if _, err := w.Write(body); err != nil {
				return err
			}
		}
		return w.End(nil)
	})
}

func startAdapter(t *testing.T, cfg adapter.Config, opts ...Option) *Adapter {
	t.Helper()
	a, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	if err := a.StartServer("127.0.0.1:0"); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.Stop(ctx); err != nil {
			t.Errorf("unexpected stop error: %v", err)
		}
	})
	return a
}

func testClient(t *testing.T) *http.Client {
	t.Helper()
	c := &http.Client{Timeout: 5 * time.Second}
	t.Cleanup(c.CloseIdleConnections)
	return c
}

func decodeEnvelope(t *testing.T, r io.Reader) platform.ErrorBody {
	t.Helper()
	var body platform.ErrorBody
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("response is not an error envelope: %v", err)
	}
	return body
}

func TestServerEchoRoundTrip(t *testing.T) {
	a := startAdapter(t, adapter.Config{Handler: echoKernel()})
	if a.Addr() == "" {
		t.Fatalf("expected a bound address after start")
	}

	c := testClient(t)
	resp, err := c.Post("http://"+a.Addr()+"/v1/echo?x=1", "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Echo-Method"); got != "POST" {
		t.Fatalf("expected method echo, got %q", got)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "payload" {
		t.Fatalf("unexpected body echo: %q", b)
	}
}

func TestServerDoubleStart(t *testing.T) {
	a := startAdapter(t, adapter.Config{Handler: echoKernel()})
	if err := a.StartServer("127.0.0.1:0"); !errors.Is(err, adapter.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestServerBodyLimitBoundary(t *testing.T) {
	metrics := telemetry.New(prometheus.NewRegistry())
	a := startAdapter(t, adapter.Config{Handler: echoKernel(), MaxBodyBytes: 16, Metrics: metrics})
	c := testClient(t)

	// Exactly at the limit passes.
	atLimit := bytes.Repeat([]byte("a"), 16)
	resp, err := c.Post("http://"+a.Addr()+"/", "text/plain", bytes.NewReader(atLimit))
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || !bytes.Equal(b, atLimit) {
		t.Fatalf("expected at-limit body accepted, got %d %q", resp.StatusCode, b)
	}

	// One byte over is rejected and the connection is destroyed.
	resp, err = c.Post("http://"+a.Addr()+"/", "text/plain", bytes.NewReader(bytes.Repeat([]byte("a"), 17)))
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	if !resp.Close {
		t.Fatalf("expected Connection: close on rejected request")
	}
	env := decodeEnvelope(t, resp.Body)
	if env.StatusCode != 413 || env.Error == "" || env.Timestamp == "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	if got := testutil.ToFloat64(metrics.BodyRejected.WithLabelValues("server")); got != 1 {
		t.Fatalf("expected 1 body rejection recorded, got %v", got)
	}
}

func TestServerTimeoutSingle504(t *testing.T) {
	metrics := telemetry.New(prometheus.NewRegistry())
	slow := kernel.HandlerFunc(func(_ *kernel.Request, w *kernel.ResponseWriter, _ []byte) error {
		time.Sleep(150 * time.Millisecond)
		w.WriteHead(200, nil)
		_, _ = w.Write([]byte("too late"))
		return w.End(nil)
	})
	a := startAdapter(t, adapter.Config{Handler: slow, Timeout: 30 * time.Millisecond, Metrics: metrics})

	c := testClient(t)
	resp, err := c.Get("http://" + a.Addr() + "/slow")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp.Body)
	if env.StatusCode != 504 {
		t.Fatalf("unexpected envelope status: %+v", env)
	}
	if got := testutil.ToFloat64(metrics.Timeouts.WithLabelValues("server")); got != 1 {
		t.Fatalf("expected 1 timeout recorded, got %v", got)
	}
	// Let the kernel goroutine run out before the next test.
	time.Sleep(200 * time.Millisecond)
}

// A kernel that watches its context and hands the deadline error back is
// still a timeout, not an internal failure.
func TestServerCooperativeTimeoutIs504(t *testing.T) {
	metrics := telemetry.New(prometheus.NewRegistry())
	cooperative := kernel.HandlerFunc(func(req *kernel.Request, _ *kernel.ResponseWriter, _ []byte) error {
		<-req.Context().Done()
		return req.Context().Err()
	})
	a := startAdapter(t, adapter.Config{Handler: cooperative, Timeout: 30 * time.Millisecond, Metrics: metrics})

	c := testClient(t)
	resp, err := c.Get("http://" + a.Addr() + "/cooperative")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", resp.StatusCode)
	}
	if got := testutil.ToFloat64(metrics.Timeouts.WithLabelValues("server")); got != 1 {
		t.Fatalf("expected 1 timeout recorded, got %v", got)
	}
}

func TestServerPanicEnvelope(t *testing.T) {
	boom := kernel.HandlerFunc(func(*kernel.Request, *kernel.ResponseWriter, []byte) error {
		panic("exploded")
	})

	a := startAdapter(t, adapter.Config{Handler: boom})
	c := testClient(t)
	resp, err := c.Get("http://" + a.Addr() + "/boom")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp.Body)
	if env.Details == nil || !strings.Contains(fmt.Sprint(env.Details["error"]), "exploded") {
		t.Fatalf("expected panic detail outside production, got %+v", env)
	}
}

func TestServerPanicHidesDetailInProduction(t *testing.T) {
	boom := kernel.HandlerFunc(func(*kernel.Request, *kernel.ResponseWriter, []byte) error {
		panic("secret internals")
	})
	a := startAdapter(t, adapter.Config{Handler: boom, Production: true})
	c := testClient(t)
	resp, err := c.Get("http://" + a.Addr() + "/boom")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()
	env := decodeEnvelope(t, resp.Body)
	if env.Details != nil {
		t.Fatalf("expected no detail in production, got %+v", env.Details)
	}
	if strings.Contains(env.Error, "secret") {
		t.Fatalf("expected scrubbed message, got %q", env.Error)
	}
}

func TestServerStreamsChunks(t *testing.T) {
	streamer := kernel.HandlerFunc(func(_ *kernel.Request, w *kernel.ResponseWriter, _ []byte) error {
		w.WriteHead(200, map[string]string{"content-type": "text/plain"})
		for i := 0; i < 3; i++ {
			if _, err := w.Write([]byte(fmt.Sprintf("part%d|", i))); err != nil {
				return err
			}
		}
		return w.End(nil)
	})
	a := startAdapter(t, adapter.Config{Handler: streamer})
	c := testClient(t)
	resp, err := c.Get("http://" + a.Addr() + "/stream")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "part0|part1|part2|" {
		t.Fatalf("unexpected streamed body: %q", b)
	}
}

func TestServerAbsentVersusEmptyBody(t *testing.T) {
	a := startAdapter(t, adapter.Config{Handler: echoKernel()})
	c := testClient(t)

	resp, err := c.Get("http://" + a.Addr() + "/")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if got := resp.Header.Get("X-Echo-Has-Body"); got != "false" {
		t.Fatalf("expected absent body on bare GET, got has-body=%q", got)
	}

	// POST with a zero-length body puts Content-Length: 0 on the wire.
	req, _ := http.NewRequest("POST", "http://"+a.Addr()+"/", bytes.NewReader([]byte{}))
	resp, err = c.Do(req)
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if got := resp.Header.Get("X-Echo-Has-Body"); got != "true" {
		t.Fatalf("expected empty body to be present, got has-body=%q", got)
	}
}

func TestServerStopThenRestart(t *testing.T) {
	a, err := New(adapter.Config{Handler: echoKernel()})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	if err := a.StartServer("127.0.0.1:0"); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	errCh := a.Err()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected clean serve exit, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("serve goroutine did not exit")
	}

	// A stopped adapter can be started again on a fresh listener.
	if err := a.StartServer("127.0.0.1:0"); err != nil {
		t.Fatalf("unexpected restart error: %v", err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := a.Stop(ctx2); err != nil {
		t.Fatalf("unexpected second stop error: %v", err)
	}
}

func TestHandleBuffersFullPipeline(t *testing.T) {
	a, err := New(adapter.Config{Handler: echoKernel()})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}

	r, _ := http.NewRequest("PUT", "http://example.test/v1/items?id=7", strings.NewReader("data"))
	res := a.Handle(context.Background(), r)
	if res.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	if string(res.Body) != "data" {
		t.Fatalf("unexpected body: %q", res.Body)
	}
	if res.Header.Get("x-echo-method") != "PUT" {
		t.Fatalf("unexpected echoed method: %v", res.Header)
	}
}

func TestHandleRejectsUnsupportedEvent(t *testing.T) {
	a, err := New(adapter.Config{Handler: echoKernel()})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	res := a.Handle(context.Background(), 42)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown event, got %d", res.StatusCode)
	}
}

func TestParseRequestIsTotal(t *testing.T) {
	a, err := New(adapter.Config{Handler: echoKernel()})
	if err != nil {
		t.Fatalf("unexpected construction error: %v", err)
	}
	for _, ev := range []any{nil, "request", 17, struct{}{}} {
		req := a.ParseRequest(ev)
		if req.Method != "" || req.Path != "" || req.Body != nil {
			t.Fatalf("expected zero request for %T, got %+v", ev, req)
		}
	}
}

func TestNewRequiresHandlerOrBuilder(t *testing.T) {
	if _, err := New(adapter.Config{}); !errors.Is(err, adapter.ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestNewRejectsUnknownEngine(t *testing.T) {
	if _, err := New(adapter.Config{Handler: echoKernel()}, WithEngine("quic")); err == nil {
		t.Fatalf("expected unknown engine to be rejected")
	}
}

func TestFastHTTPEngineRoundTrip(t *testing.T) {
	a := startAdapter(t, adapter.Config{Handler: echoKernel(), MaxBodyBytes: 16}, WithEngine(EngineFastHTTP))
	c := testClient(t)

	resp, err := c.Post("http://"+a.Addr()+"/v1/echo", "text/plain", strings.NewReader("fastpath"))
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(b) != "fastpath" {
		t.Fatalf("unexpected fasthttp echo: %d %q", resp.StatusCode, b)
	}

	resp, err = c.Post("http://"+a.Addr()+"/v1/echo", "text/plain", bytes.NewReader(bytes.Repeat([]byte("x"), 17)))
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 from fasthttp engine, got %d", resp.StatusCode)
	}
	env := decodeEnvelope(t, resp.Body)
	if env.StatusCode != 413 {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}
