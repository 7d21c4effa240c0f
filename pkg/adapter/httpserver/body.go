package httpserver

import (
	"fmt"
	"io"
	"net/http"

	"portico/pkg/adapter"
)

// readRequestBody drains the request body under the configured cap. A
// request that carries no body yields nil; an explicit empty body yields an
// empty non-nil slice, preserving the distinction all the way into the
// kernel.
func readRequestBody(r *http.Request, cfg adapter.Config) ([]byte, error) {
	if !requestCarriesBody(r) {
		return nil, nil
	}
	var rd io.Reader = r.Body
	if cfg.BodyLimited() {
		rd = io.LimitReader(r.Body, cfg.MaxBodyBytes+1)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if cfg.BodyLimited() && int64(len(b)) > cfg.MaxBodyBytes {
		return nil, adapter.ErrBodyTooLarge
	}
	return b, nil
}

// requestCarriesBody distinguishes "no body sent" from "empty body sent".
// An explicit Content-Length: 0 carries an empty body; a request with no
// length and no transfer encoding carries none.
func requestCarriesBody(r *http.Request) bool {
	if r.ContentLength != 0 {
		return true
	}
	if len(r.TransferEncoding) > 0 {
		return true
	}
	return r.Header.Get("Content-Length") != ""
}
