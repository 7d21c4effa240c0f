// Package kernel defines the single entry point the runtime adapters use to
// dispatch into the request-processing pipeline, plus the compat shim that
// translates between the adapters' value-returning response model and the
// pipeline's imperative write-based one.
//
// The kernel itself (routing, middleware, controllers) is an external
// collaborator; this package only fixes the calling convention.
package kernel

import (
	"context"
	"fmt"
	"net/url"

	"github.com/google/uuid"

	"portico/pkg/platform"
)

// Handler is the fixed three-argument entry point into the kernel. body is
// the decoded request payload: nil when no body was sent, a non-nil empty
// slice when an empty body was sent. Returning is completion; by then every
// write has been issued through w.
type Handler interface {
	ServeKernel(req *Request, w *ResponseWriter, body []byte) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(req *Request, w *ResponseWriter, body []byte) error

// ServeKernel calls f.
func (f HandlerFunc) ServeKernel(req *Request, w *ResponseWriter, body []byte) error {
	return f(req, w, body)
}

// PanicError carries a value recovered from a kernel panic, so callers can
// tell a crash apart from an ordinary handler error.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("kernel panic: %v", e.Value) }

// Invoke runs h and converts a panic into a PanicError so that no failure
// can escape the calling adapter as a thrown value.
func Invoke(h Handler, req *Request, w *ResponseWriter, body []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return h.ServeKernel(req, w, body)
}

// Request is the read-only request view handed to the kernel. It carries a
// private copy of the headers and query, so kernel-side mutation cannot
// leak back into the adapter's request.
type Request struct {
	ctx context.Context
	id  string
	req platform.Request
}

// NewRequest wraps a platform request for a kernel call. Each call gets a
// fresh wrapper and a fresh request ID; nothing is shared across requests.
func NewRequest(ctx context.Context, preq platform.Request) *Request {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &Request{ctx: ctx, id: uuid.NewString(), req: preq}
	r.req.Header = preq.Header.Clone()
	if preq.Query != nil {
		q := make(url.Values, len(preq.Query))
		for k, vs := range preq.Query {
			q[k] = append([]string(nil), vs...)
		}
		r.req.Query = q
	}
	return r
}

// Context returns the request-scoped context.
func (r *Request) Context() context.Context { return r.ctx }

// ID returns the request correlation ID assigned at wrap time.
func (r *Request) ID() string { return r.id }

// Method returns the HTTP method.
func (r *Request) Method() string { return r.req.Method }

// Path returns the request path.
func (r *Request) Path() string { return r.req.Path }

// Header returns the request headers. The map is the wrapper's own copy.
func (r *Request) Header() platform.Header { return r.req.Header }

// Query returns the parsed query parameters. The map is the wrapper's own
// copy.
func (r *Request) Query() url.Values { return r.req.Query }

// RemoteAddr returns the original client address.
func (r *Request) RemoteAddr() string { return r.req.RemoteAddr }
