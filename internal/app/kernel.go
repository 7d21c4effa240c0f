package app

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"portico/pkg/adapter/edge"
	"portico/pkg/kernel"
	"portico/pkg/logger"
	"portico/pkg/platform"
	"portico/pkg/utils"
)

// KernelDeps carries the collaborators the demo kernel is built from.
type KernelDeps struct {
	Version string
	KV      edge.KVStore

	// Per-client rate limit. Zero values fall back to 5 rps / burst 10.
	RateRPS   float64
	RateBurst int
}

// NewKernel builds the demo application: a mux router behind a per-client
// rate limiter, bridged onto the kernel calling convention. The same handler
// value serves every platform adapter.
func NewKernel(deps KernelDeps) kernel.Handler {
	if deps.KV == nil {
		deps.KV = edge.NewMemoryKV()
	}
	d := &demoAPI{
		deps: deps,
		lim:  limiterPool{rps: deps.RateRPS, burst: deps.RateBurst},
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", d.health).Methods(http.MethodGet)
	r.HandleFunc("/v1/echo", d.echo).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/v1/kv", d.kvList).Methods(http.MethodGet)
	r.HandleFunc("/v1/kv/{key}", d.kvGet).Methods(http.MethodGet)
	r.HandleFunc("/v1/kv/{key}", d.kvPut).Methods(http.MethodPut)
	r.HandleFunc("/v1/kv/{key}", d.kvDelete).Methods(http.MethodDelete)
	r.NotFoundHandler = http.HandlerFunc(notFound)

	return kernel.FromHTTP(d.rateLimit(logRequests(r)))
}

type demoAPI struct {
	deps KernelDeps
	lim  limiterPool
}

func (d *demoAPI) health(w http.ResponseWriter, _ *http.Request) {
	ver := d.deps.Version
	if ver == "" {
		ver = "dev"
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ok", "version": ver})
}

// echoPayload reflects the request back so callers can see exactly what the
// kernel received after platform translation.
type echoPayload struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Query   url.Values        `json:"query,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Remote  string            `json:"remote,omitempty"`
	Body    string            `json:"body"`
}

func (d *demoAPI) echo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k, vs := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(vs, ", ")
	}
	_ = utils.JSONWrite(w, http.StatusOK, echoPayload{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: headers,
		Remote:  r.RemoteAddr,
		Body:    string(body),
	})
}

func (d *demoAPI) kvGet(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := edge.ValidateKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	v, err := d.deps.KV.Get(r.Context(), key)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "kv get failed")
		return
	}
	if v == nil {
		utils.JSONError(w, http.StatusNotFound, "key not found")
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v)
}

func (d *demoAPI) kvPut(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := edge.ValidateKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	val, err := io.ReadAll(r.Body)
	if err != nil {
		utils.JSONError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := d.deps.KV.Put(r.Context(), key, val); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "kv put failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"status": "stored", "key": key, "bytes": len(val)})
}

func (d *demoAPI) kvDelete(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := edge.ValidateKey(key); err != nil {
		utils.JSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := d.deps.KV.Delete(r.Context(), key); err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "kv delete failed")
		return
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted", "key": key})
}

func (d *demoAPI) kvList(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	keys, err := d.deps.KV.List(r.Context(), prefix, limit)
	if err != nil {
		utils.JSONError(w, http.StatusInternalServerError, "kv list failed")
		return
	}
	if keys == nil {
		keys = []string{}
	}
	_ = utils.JSONWrite(w, http.StatusOK, map[string]any{"keys": keys, "count": len(keys)})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	utils.JSONError(w, http.StatusNotFound, "not found")
}

// rateLimit applies a per-client token bucket ahead of the router.
func (d *demoAPI) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !d.lim.Allow(clientKey(r)) {
			utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// logRequests emits one line per admitted request, headers redacted.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r.Method, r.URL.Path, r.RemoteAddr, platform.HeaderFromHTTP(r.Header))
		next.ServeHTTP(w, r)
	})
}

// clientKey identifies the caller for rate limiting: the first
// x-forwarded-for hop when present, else the remote host.
func clientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			xff = xff[:i]
		}
		if k := strings.TrimSpace(xff); k != "" {
			return k
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// limiterPool hands out one token bucket per client key.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*rate.Limiter
	rps   float64
	burst int
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.rps
	if rps <= 0 {
		rps = 5
	}
	burst := p.burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}
