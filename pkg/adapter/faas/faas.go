// Package faas binds the kernel to function-as-a-service hosts that hand
// the process one JSON event per invocation and expect one JSON result
// back. One adapter instance serves all three gateway event shapes; the
// constructed application is cached across invocations so warm instances
// skip rebuilding it.
package faas

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"portico/pkg/adapter"
	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// Result is the native response envelope handed back to the function host.
// Headers carries one value per key for hosts that cannot take lists;
// MultiValueHeaders carries everything.
type Result struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
}

// Adapter dispatches function events into the kernel.
type Adapter struct {
	cfg   adapter.Config
	env   adapter.Environment
	cache adapter.AppCache
}

// New builds the function adapter. Construction is cheap on purpose: with a
// Builder configured, the application itself is not constructed until the
// first invocation arrives, and then only once per instance.
func New(cfg adapter.Config) (*Adapter, error) {
	if cfg.Handler == nil && cfg.Builder == nil {
		return nil, adapter.ErrNoHandler
	}
	return &Adapter{
		cfg: cfg.Normalize(),
		env: adapter.ResolveEnvironment(adapter.PlatformFaaS),
	}, nil
}

// Platform identifies this adapter on logs and metrics.
func (a *Adapter) Platform() string { return adapter.PlatformFaaS }

// SupportsPersistentConnections reports that function hosts tear the
// transport down after every invocation.
func (a *Adapter) SupportsPersistentConnections() bool { return false }

// Environment returns the environment resolved at construction.
func (a *Adapter) Environment() adapter.Environment { return a.env }

// Logger returns the adapter's logger.
func (a *Adapter) Logger() *slog.Logger { return a.cfg.Logger }

// ResetAppCache drops the memoized application so the next invocation
// rebuilds it.
func (a *Adapter) ResetAppCache() { a.cache.Reset() }

// handler resolves the kernel entry point, building and memoizing it on the
// first warm-instance invocation.
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
		a.cfg.Metrics.RecordColdStart(adapter.PlatformFaaS)
		a.cfg.Logger.Info("cold_start", "runtime", a.env.Runtime, "mode", a.env.Mode)
	}
	return h, nil
}

// ParseRequest maps a function event onto the canonical model. It accepts
// *Event, Event or raw JSON bytes and is total: anything unrecognizable
// yields a zero request.
func (a *Adapter) ParseRequest(event any) platform.Request {
	e := coerceEvent(event)
	if e == nil {
		return platform.Request{}
	}
	return e.Request()
}

// Handle runs one event through the pipeline and returns the canonical
// response. Parse failures and unrecognized shapes come back as canonical
// 400s, never as errors or panics.
func (a *Adapter) Handle(ctx context.Context, event any) platform.Response {
	start := time.Now()
	e := coerceEvent(event)
	if e == nil {
		res := platform.ErrorResponse(http.StatusBadRequest, "malformed event payload", nil)
		a.record(SourceUnknown, res.StatusCode, start)
		return res
	}
	source := e.Source()
	if source == SourceUnknown {
		res := platform.ErrorResponse(http.StatusBadRequest, "unrecognized event shape", nil)
		a.record(source, res.StatusCode, start)
		return res
	}

	preq := e.Request()
	if a.cfg.BodyLimited() && int64(len(preq.Body)) > a.cfg.MaxBodyBytes {
		res := adapter.RejectBody(a.cfg, adapter.PlatformFaaS, adapter.ErrBodyTooLarge)
		a.record(source, res.StatusCode, start)
		return res
	}

	h, err := a.handler()
	if err != nil {
		a.cfg.Logger.Error("app_build_failed", "error", err)
		res := adapter.InternalError(a.cfg, err)
		a.record(source, res.StatusCode, start)
		return res
	}

	// The host enforces its own invocation deadline, so the kernel runs
	// synchronously with no timer of ours.
	w := kernel.NewResponseWriter()
	res := adapter.Call(ctx, a.cfg, adapter.PlatformFaaS, h, preq, w, preq.Body, func() platform.Response {
		return w.Response()
	})
	a.record(source, res.StatusCode, start)
	a.cfg.Logger.Debug("event_completed",
		"source", source, "method", preq.Method, "path", preq.Path,
		"status", res.StatusCode, "duration_ms", time.Since(start).Milliseconds())
	return res
}

func (a *Adapter) record(source string, status int, start time.Time) {
	a.cfg.Metrics.RecordRequest(adapter.PlatformFaaS, source, status, time.Since(start))
}

// FormatResponse renders the canonical response as a *Result. Bodies that
// are not valid UTF-8, or that were flagged binary upstream, travel as
// base64. The mapping is pure: equal responses produce equal results.
func (a *Adapter) FormatResponse(res platform.Response) (any, error) {
	out := &Result{StatusCode: res.StatusCode}

	if len(res.Header) > 0 {
		out.Headers = make(map[string]string, len(res.Header))
		out.MultiValueHeaders = make(map[string][]string, len(res.Header))
		for k, vs := range res.Header {
			if len(vs) == 0 {
				continue
			}
			out.Headers[k] = vs[0]
			out.MultiValueHeaders[k] = append([]string(nil), vs...)
		}
	}

	switch {
	case res.Body == nil:
		// absent body renders as an empty string, never as null
	case res.IsBase64:
		// Body already holds base64 text; carry it as-is.
		out.Body = string(res.Body)
		out.IsBase64Encoded = true
	case !utf8.Valid(res.Body):
		out.Body = base64.StdEncoding.EncodeToString(res.Body)
		out.IsBase64Encoded = true
	default:
		out.Body = string(res.Body)
	}
	return out, nil
}

// Invoke is the host entry point: one raw JSON event in, one marshalled
// Result out. Every failure inside the pipeline is reported through the
// result itself; the returned error is reserved for the one case nothing
// can be delivered, the result failing to marshal.
func (a *Adapter) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var e Event
	var res platform.Response
	if err := json.Unmarshal(payload, &e); err != nil {
		a.cfg.Logger.Warn("event_unmarshal_failed", "error", err)
		res = platform.ErrorResponse(http.StatusBadRequest, "malformed event payload", nil)
		a.record(SourceUnknown, res.StatusCode, time.Now())
	} else {
		res = a.Handle(ctx, &e)
	}

	native, err := a.FormatResponse(res)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("faas: marshal result: %w", err)
	}
	return out, nil
}

// coerceEvent accepts the shapes hosts hand us an event in.
func coerceEvent(event any) *Event {
	switch v := event.(type) {
	case *Event:
		return v
	case Event:
		return &v
	case []byte:
		var e Event
		if err := json.Unmarshal(v, &e); err != nil {
			return nil
		}
		return &e
	case json.RawMessage:
		var e Event
		if err := json.Unmarshal(v, &e); err != nil {
			return nil
		}
		return &e
	case string:
		var e Event
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil
		}
		return &e
	}
	return nil
}
