package app

import (
	"context"
	"encoding/json"
	"net/url"
	"testing"

	"portico/pkg/adapter/edge"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// invoke drives the demo kernel directly through the compat sink, the way
// an adapter would.
func invoke(t *testing.T, h kernel.Handler, preq platform.Request, body []byte) platform.Response {
	t.Helper()
	if preq.RemoteAddr == "" {
		preq.RemoteAddr = "198.51.100.7:4711"
	}
	req := kernel.NewRequest(context.Background(), preq)
	w := kernel.NewResponseWriter()
	if err := kernel.Invoke(h, req, w, body); err != nil {
		t.Fatalf("invoke: %v", err)
	}
	return w.Response()
}

// newTestKernel builds a demo kernel with the rate limit opened wide so
// unrelated tests never trip it.
func newTestKernel(t *testing.T, kv edge.KVStore) kernel.Handler {
	t.Helper()
	if kv == nil {
		kv = edge.NewMemoryKV()
	}
	return NewKernel(KernelDeps{Version: "test", KV: kv, RateRPS: 1000, RateBurst: 1000})
}

func decodeJSON(t *testing.T, res platform.Response, v any) {
	t.Helper()
	if got := res.Header.Get("content-type"); got != "application/json" {
		t.Fatalf("unexpected content type %q", got)
	}
	if err := json.Unmarshal(res.Body, v); err != nil {
		t.Fatalf("decode body %q: %v", res.Body, err)
	}
}

func TestHealth(t *testing.T) {
	h := newTestKernel(t, nil)
	res := invoke(t, h, platform.Request{Method: "GET", Path: "/healthz"}, nil)
	if res.StatusCode != 200 {
		t.Fatalf("unexpected status %d", res.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	decodeJSON(t, res, &body)
	if body.Status != "ok" || body.Version != "test" {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestEchoRoundTrip(t *testing.T) {
	h := newTestKernel(t, nil)
	res := invoke(t, h, platform.Request{
		Method:     "POST",
		Path:       "/v1/echo",
		Query:      url.Values{"limit": {"5"}},
		Header:     platform.Header{"x-trace": {"abc"}},
		RemoteAddr: "203.0.113.9:1000",
	}, []byte(`{"hello":"world"}`))
	if res.StatusCode != 200 {
		t.Fatalf("unexpected status %d: %s", res.StatusCode, res.Body)
	}
	var body echoPayload
	decodeJSON(t, res, &body)
	if body.Method != "POST" || body.Path != "/v1/echo" {
		t.Fatalf("unexpected echo identity: %+v", body)
	}
	if body.Query.Get("limit") != "5" {
		t.Fatalf("query not echoed: %+v", body.Query)
	}
	if body.Headers["x-trace"] != "abc" {
		t.Fatalf("header not echoed: %+v", body.Headers)
	}
	if body.Remote != "203.0.113.9:1000" {
		t.Fatalf("remote not echoed: %q", body.Remote)
	}
	if body.Body != `{"hello":"world"}` {
		t.Fatalf("body not echoed: %q", body.Body)
	}
}

func TestKVLifecycle(t *testing.T) {
	h := newTestKernel(t, nil)

	res := invoke(t, h, platform.Request{Method: "PUT", Path: "/v1/kv/greeting"}, []byte("hello"))
	if res.StatusCode != 200 {
		t.Fatalf("put status %d: %s", res.StatusCode, res.Body)
	}
	var put struct {
		Status string `json:"status"`
		Key    string `json:"key"`
		Bytes  int    `json:"bytes"`
	}
	decodeJSON(t, res, &put)
	if put.Status != "stored" || put.Key != "greeting" || put.Bytes != 5 {
		t.Fatalf("unexpected put reply: %+v", put)
	}

	res = invoke(t, h, platform.Request{Method: "GET", Path: "/v1/kv/greeting"}, nil)
	if res.StatusCode != 200 || string(res.Body) != "hello" {
		t.Fatalf("get returned %d %q", res.StatusCode, res.Body)
	}
	if got := res.Header.Get("content-type"); got != "application/octet-stream" {
		t.Fatalf("unexpected value content type %q", got)
	}

	res = invoke(t, h, platform.Request{Method: "GET", Path: "/v1/kv", Query: url.Values{"prefix": {"gr"}}}, nil)
	var list struct {
		Keys  []string `json:"keys"`
		Count int      `json:"count"`
	}
	decodeJSON(t, res, &list)
	if list.Count != 1 || len(list.Keys) != 1 || list.Keys[0] != "greeting" {
		t.Fatalf("unexpected listing: %+v", list)
	}

	res = invoke(t, h, platform.Request{Method: "DELETE", Path: "/v1/kv/greeting"}, nil)
	if res.StatusCode != 200 {
		t.Fatalf("delete status %d", res.StatusCode)
	}

	res = invoke(t, h, platform.Request{Method: "GET", Path: "/v1/kv/greeting"}, nil)
	if res.StatusCode != 404 {
		t.Fatalf("expected 404 after delete, got %d", res.StatusCode)
	}
}

func TestKVRejectsBadKey(t *testing.T) {
	h := newTestKernel(t, nil)
	res := invoke(t, h, platform.Request{Method: "PUT", Path: "/v1/kv/bad\rkey"}, []byte("x"))
	if res.StatusCode != 400 {
		t.Fatalf("expected 400 for a control character in the key, got %d", res.StatusCode)
	}
}

func TestKVListRejectsBadLimit(t *testing.T) {
	h := newTestKernel(t, nil)
	res := invoke(t, h, platform.Request{Method: "GET", Path: "/v1/kv", Query: url.Values{"limit": {"soon"}}}, nil)
	if res.StatusCode != 400 {
		t.Fatalf("expected 400 for a malformed limit, got %d", res.StatusCode)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestKernel(t, nil)
	res := invoke(t, h, platform.Request{Method: "GET", Path: "/nope"}, nil)
	if res.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeJSON(t, res, &body)
	if body.Error != "not found" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestRateLimit(t *testing.T) {
	h := NewKernel(KernelDeps{Version: "test", KV: edge.NewMemoryKV(), RateRPS: 1, RateBurst: 2})
	preq := platform.Request{Method: "GET", Path: "/healthz", RemoteAddr: "198.51.100.1:99"}

	for i := 0; i < 2; i++ {
		if res := invoke(t, h, preq, nil); res.StatusCode != 200 {
			t.Fatalf("request %d: unexpected status %d", i, res.StatusCode)
		}
	}
	res := invoke(t, h, preq, nil)
	if res.StatusCode != 429 {
		t.Fatalf("expected 429 past the burst, got %d", res.StatusCode)
	}
	var body struct {
		Error string `json:"error"`
	}
	decodeJSON(t, res, &body)
	if body.Error != "rate limit exceeded" {
		t.Fatalf("unexpected error body: %+v", body)
	}
}

func TestRateLimitIsPerClient(t *testing.T) {
	h := NewKernel(KernelDeps{Version: "test", KV: edge.NewMemoryKV(), RateRPS: 1, RateBurst: 1})

	a := platform.Request{Method: "GET", Path: "/healthz", RemoteAddr: "10.0.0.1:5000"}
	if res := invoke(t, h, a, nil); res.StatusCode != 200 {
		t.Fatalf("client a first request: %d", res.StatusCode)
	}
	if res := invoke(t, h, a, nil); res.StatusCode != 429 {
		t.Fatalf("client a second request: expected 429, got %d", res.StatusCode)
	}

	b := platform.Request{Method: "GET", Path: "/healthz", RemoteAddr: "10.0.0.2:5000"}
	if res := invoke(t, h, b, nil); res.StatusCode != 200 {
		t.Fatalf("client b should have its own bucket, got %d", res.StatusCode)
	}

	// A forwarded hop identifies the caller even when the socket peer is
	// the exhausted client.
	fwd := platform.Request{
		Method:     "GET",
		Path:       "/healthz",
		RemoteAddr: "10.0.0.1:5000",
		Header:     platform.Header{"x-forwarded-for": {"9.9.9.9, 10.0.0.1"}},
	}
	if res := invoke(t, h, fwd, nil); res.StatusCode != 200 {
		t.Fatalf("forwarded client should have its own bucket, got %d", res.StatusCode)
	}
}

func TestScratchSweep(t *testing.T) {
	kv := edge.NewMemoryKV()
	ctx := context.Background()
	for _, k := range []string{"tmp:a", "tmp:b", "keep:c"} {
		if err := kv.Put(ctx, k, []byte("v")); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	sweep := sweepScratch(kv)
	if err := sweep(ctx, edge.ScheduledEvent{Cron: "* * * * *"}); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	for _, k := range []string{"tmp:a", "tmp:b"} {
		v, err := kv.Get(ctx, k)
		if err != nil || v != nil {
			t.Fatalf("expected %s swept, got %q err %v", k, v, err)
		}
	}
	v, err := kv.Get(ctx, "keep:c")
	if err != nil || v == nil {
		t.Fatalf("expected keep:c to survive, got %q err %v", v, err)
	}
}
