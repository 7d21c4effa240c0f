package adapter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"portico/pkg/kernel"
	"portico/pkg/platform"
)

// Call runs one kernel call synchronously and converts the failure mode
// every platform shares into a canonical response: a kernel error or panic
// becomes a 500 envelope. It imposes no deadline of its own; event and
// fetch hosts own the invocation clock, so their context passes through
// unchanged. collect extracts the success response from the writer once
// the kernel returns.
func Call(ctx context.Context, cfg Config, platformName string, h kernel.Handler, preq platform.Request, w *kernel.ResponseWriter, body []byte, collect func() platform.Response) platform.Response {
	if ctx == nil {
		ctx = context.Background()
	}
	req := kernel.NewRequest(ctx, preq)
	if err := kernel.Invoke(h, req, w, body); err != nil {
		return kernelFailure(cfg, platformName, req, preq, err)
	}
	return collect()
}

// Dispatch is Call plus the socket platform's deadline race: the kernel
// runs in its own goroutine while a timer enforces cfg.Timeout, and
// whichever resolves first decides the response. A blown deadline becomes
// a 504; the kernel goroutine is left to drain into its writer while the
// caller takes the 504 to the wire.
func Dispatch(ctx context.Context, cfg Config, platformName string, h kernel.Handler, preq platform.Request, w *kernel.ResponseWriter, body []byte, collect func() platform.Response) platform.Response {
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if cfg.TimeoutEnabled() {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	req := kernel.NewRequest(ctx, preq)
	done := make(chan error, 1)
	go func() {
		done <- kernel.Invoke(h, req, w, body)
	}()

	var timeoutCh <-chan time.Time
	if cfg.TimeoutEnabled() {
		t := time.NewTimer(cfg.Timeout)
		defer t.Stop()
		timeoutCh = t.C
	}

	select {
	case err := <-done:
		if err != nil {
			// A kernel that honors the deadline returns the context error
			// itself; that is still a timeout, not an internal failure.
			if errors.Is(err, context.DeadlineExceeded) {
				return timeoutResponse(cfg, platformName, req, preq)
			}
			return kernelFailure(cfg, platformName, req, preq, err)
		}
		return collect()
	case <-timeoutCh:
		return timeoutResponse(cfg, platformName, req, preq)
	}
}

func timeoutResponse(cfg Config, platformName string, req *kernel.Request, preq platform.Request) platform.Response {
	cfg.Metrics.RecordTimeout(platformName)
	cfg.Logger.Warn("request_timeout", "request_id", req.ID(), "path", preq.Path, "timeout", cfg.Timeout)
	return platform.ErrorResponse(http.StatusGatewayTimeout, "request timed out", nil)
}

func kernelFailure(cfg Config, platformName string, req *kernel.Request, preq platform.Request, err error) platform.Response {
	var pe *kernel.PanicError
	if errors.As(err, &pe) {
		cfg.Metrics.RecordKernelPanic(platformName)
	}
	cfg.Logger.Error("kernel_error", "request_id", req.ID(), "path", preq.Path, "error", err)
	return InternalError(cfg, err)
}

// InternalError renders a kernel failure, hiding the detail when running in
// production.
func InternalError(cfg Config, err error) platform.Response {
	if cfg.Production {
		return platform.ErrorResponse(http.StatusInternalServerError, "internal server error", nil)
	}
	return platform.ErrorResponse(http.StatusInternalServerError, "internal server error", map[string]any{"error": err.Error()})
}

// RejectBody renders a body-read failure: the size cap yields a 413, any
// other read problem a 400.
func RejectBody(cfg Config, platformName string, err error) platform.Response {
	if err == ErrBodyTooLarge {
		cfg.Metrics.RecordBodyRejected(platformName)
		return platform.ErrorResponse(http.StatusRequestEntityTooLarge, "request body too large", nil)
	}
	return platform.ErrorResponse(http.StatusBadRequest, "malformed request body", nil)
}
