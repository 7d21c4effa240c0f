// Package platform holds the platform-independent request/response model
// shared between the runtime adapters and the kernel. Values are created
// fresh per inbound call and discarded once the response is emitted; no
// cross-request state lives in these types.
package platform

import (
	"net/http"
	"net/url"
	"strings"
)

// Header holds request or response headers with case-insensitive,
// multi-value semantics. Keys are normalized to lowercase at the boundary:
// every mutator lowercases its key, so lookups never depend on the casing a
// platform delivered.
type Header map[string][]string

// NewHeader returns an empty, ready-to-use Header.
func NewHeader() Header { return Header{} }

// HeaderFromHTTP copies a net/http header into a Header, lowercasing keys.
func HeaderFromHTTP(src http.Header) Header {
	h := make(Header, len(src))
	for k, vs := range src {
		h[strings.ToLower(k)] = append([]string(nil), vs...)
	}
	return h
}

// Set replaces all values stored under key.
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = []string{value}
}

// Add appends value to the values stored under key.
func (h Header) Add(key, value string) {
	k := strings.ToLower(key)
	h[k] = append(h[k], value)
}

// Get returns the first value for key, or "" when the key is unset.
func (h Header) Get(key string) string {
	vs := h[strings.ToLower(key)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns every value stored under key in insertion order.
func (h Header) Values(key string) []string {
	return h[strings.ToLower(key)]
}

// Del removes all values stored under key.
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone returns a deep copy of h. A nil header clones to nil.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// Request is the unified request representation handed to the kernel.
type Request struct {
	Method string
	Path   string
	Header Header
	Query  url.Values

	// Body is the raw payload. A nil slice means no body was sent; a
	// non-nil empty slice means an empty body was sent. The two states are
	// never collapsed anywhere in this layer.
	Body []byte

	// RemoteAddr is the original client address as reported by the
	// platform, without proxy hops.
	RemoteAddr string
}

// HasBody reports whether a body was sent at all. An empty body counts.
func (r *Request) HasBody() bool { return r.Body != nil }
