package kernel

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
)

// FromHTTP adapts a net/http handler into a kernel Handler, so an
// application written against the standard library can run on any platform
// adapter unchanged. The handler sees a synthetic request carrying the
// canonical method, path, query, headers and body; its response is captured
// through the compat writer.
func FromHTTP(h http.Handler) Handler {
	return HandlerFunc(func(req *Request, w *ResponseWriter, body []byte) error {
		u := &url.URL{Path: req.Path(), RawQuery: req.Query().Encode()}
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		hr, err := http.NewRequestWithContext(req.Context(), req.Method(), u.String(), rd)
		if err != nil {
			return err
		}
		if body != nil {
			hr.ContentLength = int64(len(body))
		}
		if hr.Body == nil {
			// Server handlers expect a non-nil Body they can read.
			hr.Body = http.NoBody
		}
		for k, vs := range req.Header() {
			if k == "host" {
				hr.Host = vs[0]
				continue
			}
			for _, v := range vs {
				hr.Header.Add(k, v)
			}
		}
		hr.RemoteAddr = req.RemoteAddr()

		hw := &httpWriter{w: w, header: make(http.Header)}
		h.ServeHTTP(hw, hr)
		hw.finish()
		return nil
	})
}

// httpWriter exposes a compat ResponseWriter as an http.ResponseWriter.
// Headers staged through Header() are copied into the sink when the status
// line is written, matching net/http's point of no return.
type httpWriter struct {
	w         *ResponseWriter
	header    http.Header
	wroteHead bool
}

func (hw *httpWriter) Header() http.Header { return hw.header }

func (hw *httpWriter) WriteHeader(status int) {
	if hw.wroteHead {
		return
	}
	hw.wroteHead = true
	for k, vs := range hw.header {
		for _, v := range vs {
			hw.w.AddHeader(k, v)
		}
	}
	hw.w.WriteHead(status, nil)
}

func (hw *httpWriter) Write(p []byte) (int, error) {
	if !hw.wroteHead {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.w.Write(p)
}

// finish flushes an implicit 200 for handlers that never wrote anything and
// finalizes the response.
func (hw *httpWriter) finish() {
	if !hw.wroteHead {
		hw.WriteHeader(http.StatusOK)
	}
	hw.w.End(nil)
}
