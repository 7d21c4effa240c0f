package platform

import (
	"bytes"
	"encoding/json"
)

// Response is the unified response representation read back from the kernel
// and formatted into each platform's native shape.
type Response struct {
	// StatusCode is a wire-valid HTTP status in [100,599].
	StatusCode int
	Header     Header
	// Body is the response payload; nil means no body. When IsBase64 is
	// true, Body already holds base64 text rather than raw bytes.
	Body     []byte
	IsBase64 bool
}

// Builder accumulates a response through chained setters. All setters
// mutate the same builder and return it; Response takes the terminal
// snapshot. One builder serves one in-flight response.
type Builder struct {
	res Response
	err error
}

// NewBuilder returns a builder preloaded with status 200, a JSON
// content-type and no body.
func NewBuilder() *Builder {
	b := &Builder{res: Response{StatusCode: 200, Header: NewHeader()}}
	b.res.Header.Set("content-type", "application/json")
	return b
}

// Status sets the response status code.
func (b *Builder) Status(code int) *Builder {
	b.res.StatusCode = code
	return b
}

// Header sets a single header, replacing previous values.
func (b *Builder) Header(key, value string) *Builder {
	b.res.Header.Set(key, value)
	return b
}

// AddHeader appends a header value, keeping previous ones.
func (b *Builder) AddHeader(key, value string) *Builder {
	b.res.Header.Add(key, value)
	return b
}

// Headers sets every header in m.
func (b *Builder) Headers(m map[string]string) *Builder {
	for k, v := range m {
		b.res.Header.Set(k, v)
	}
	return b
}

// Body sets the raw response body. Passing nil clears it back to absent.
func (b *Builder) Body(body []byte) *Builder {
	b.res.Body = body
	b.res.IsBase64 = false
	return b
}

// Text sets a plain text body without touching the content-type.
func (b *Builder) Text(s string) *Builder {
	return b.Body([]byte(s))
}

// Base64Body stores an already-encoded base64 payload and marks it as such.
func (b *Builder) Base64Body(encoded string) *Builder {
	b.res.Body = []byte(encoded)
	b.res.IsBase64 = true
	return b
}

// JSON serializes v and forces the JSON content-type. The payload shape is
// not validated and HTML characters are not escaped. A serialization
// failure is remembered and surfaced via Err.
func (b *Builder) JSON(v any) *Builder {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		b.err = err
		return b
	}
	// Encoder appends a trailing newline; the envelope should not carry it.
	b.res.Body = bytes.TrimRight(buf.Bytes(), "\n")
	b.res.IsBase64 = false
	b.res.Header.Set("content-type", "application/json")
	return b
}

// Err reports a deferred serialization failure from JSON, if any.
func (b *Builder) Err() error { return b.err }

// Response returns the terminal snapshot. The snapshot is a deep copy, so
// later builder mutations do not leak into an emitted response. Status
// codes outside [100,599] are normalized to 500 so every platform receives
// a wire-valid status.
func (b *Builder) Response() Response {
	out := b.res
	out.Header = b.res.Header.Clone()
	if out.Body != nil {
		out.Body = append([]byte(nil), out.Body...)
	}
	if out.StatusCode < 100 || out.StatusCode > 599 {
		out.StatusCode = 500
	}
	return out
}
