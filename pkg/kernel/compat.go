package kernel

import (
	"bytes"
	"errors"
	"sync"

	"portico/pkg/platform"
)

// ErrEnded is returned by Write and End once the response has been
// finalized. Late writes are dropped, never delivered.
var ErrEnded = errors.New("kernel: response already ended")

// WriteHeadFunc receives the status and a snapshot of the headers when a
// streaming writer flushes its head.
type WriteHeadFunc func(status int, header platform.Header)

// WriteFunc receives each body chunk written after the head has been
// flushed on a streaming writer.
type WriteFunc func(p []byte) (int, error)

// ResponseWriter is the write-based response surface handed to the kernel.
//
// In buffered mode (NewResponseWriter) every call mutates an in-memory
// response that the adapter collects with Response once the kernel returns.
// In streaming mode (NewStreamingResponseWriter) the head and each chunk
// are additionally forwarded to the adapter's callbacks as they happen, and
// header mutation is rejected once the head is on the wire.
//
// Methods are safe for concurrent use, but the callbacks run under the
// writer's lock, so they must not call back into the writer.
type ResponseWriter struct {
	mu          sync.Mutex
	status      int
	header      platform.Header
	buf         bytes.Buffer
	wroteHead   bool
	bodySent    bool
	ended       bool
	headersSent bool
	lateWrite   bool

	onWriteHead WriteHeadFunc
	onWrite     WriteFunc
}

// NewResponseWriter returns a buffered writer. The adapter reads the final
// state with Response after the kernel returns.
func NewResponseWriter() *ResponseWriter {
	return &ResponseWriter{header: platform.NewHeader()}
}

// NewStreamingResponseWriter returns a writer that forwards the head and
// body chunks to the given callbacks as the kernel produces them. Either
// callback may be nil, in which case that side only buffers.
func NewStreamingResponseWriter(onHead WriteHeadFunc, onWrite WriteFunc) *ResponseWriter {
	return &ResponseWriter{header: platform.NewHeader(), onWriteHead: onHead, onWrite: onWrite}
}

// WriteHead records the status code and merges the given headers. The first
// call wins; repeats, and calls after the first body write, are ignored. On
// a streaming writer this also flushes the head, freezing the headers.
func (w *ResponseWriter) WriteHead(status int, header map[string]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.headFixedLocked() {
		return
	}
	w.wroteHead = true
	w.status = status
	for k, v := range header {
		w.header.Set(k, v)
	}
	w.flushHeadLocked()
}

// SetHeader replaces a header value. Ignored once the head is fixed, which
// happens at WriteHead or at the first body write, whichever comes first.
// The rule is the same in both modes so a kernel cannot observe a different
// header set on a buffered platform than on a streaming one.
func (w *ResponseWriter) SetHeader(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.headFixedLocked() {
		return
	}
	w.header.Set(key, value)
}

// AddHeader appends a header value, keeping any existing ones. Subject to
// the same freezing rules as SetHeader.
func (w *ResponseWriter) AddHeader(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.headFixedLocked() {
		return
	}
	w.header.Add(key, value)
}

// Write appends a body chunk. The first write fixes the head: on a
// streaming writer it is flushed to the wire with a default status of 200
// if WriteHead was never called.
func (w *ResponseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		w.lateWrite = true
		return 0, ErrEnded
	}
	return w.writeLocked(p)
}

// End finalizes the response, optionally appending a last chunk. Calling
// End(nil) with no prior writes leaves the body absent rather than empty.
// A second End, or any Write after End, is dropped and flagged.
func (w *ResponseWriter) End(p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ended {
		w.lateWrite = true
		return ErrEnded
	}
	if p != nil {
		if _, err := w.writeLocked(p); err != nil {
			w.ended = true
			return err
		}
	} else {
		w.flushHeadLocked()
	}
	w.ended = true
	return nil
}

// Ended reports whether the response has been finalized.
func (w *ResponseWriter) Ended() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ended
}

// HeadersSent reports whether a streaming writer has flushed its head. On a
// buffered writer it is always false.
func (w *ResponseWriter) HeadersSent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.headersSent
}

// WroteAfterEnd reports whether any write or End arrived after the response
// had already ended. Such writes are dropped; this flag is how tests and
// adapters detect them.
func (w *ResponseWriter) WroteAfterEnd() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lateWrite
}

// Response returns the accumulated response and finalizes the writer if the
// kernel never called End. The body is nil when nothing was ever written,
// and a non-nil empty slice when an empty chunk was.
func (w *ResponseWriter) Response() platform.Response {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ended = true
	res := platform.Response{
		StatusCode: w.status,
		Header:     w.header.Clone(),
	}
	if res.StatusCode == 0 {
		res.StatusCode = 200
	}
	if w.bodySent {
		res.Body = append([]byte(nil), w.buf.Bytes()...)
	}
	return res
}

func (w *ResponseWriter) writeLocked(p []byte) (int, error) {
	if w.status == 0 {
		w.status = 200
	}
	w.flushHeadLocked()
	w.bodySent = true
	w.buf.Write(p)
	if w.onWrite != nil {
		return w.onWrite(p)
	}
	return len(p), nil
}

func (w *ResponseWriter) headFixedLocked() bool {
	return w.ended || w.headersSent || w.wroteHead || w.bodySent
}

// flushHeadLocked pushes the head through the streaming callback exactly
// once. Buffered writers have a nil callback and never set headersSent.
func (w *ResponseWriter) flushHeadLocked() {
	if w.headersSent || w.onWriteHead == nil {
		return
	}
	if w.status == 0 {
		w.status = 200
	}
	w.headersSent = true
	w.onWriteHead(w.status, w.header.Clone())
}
