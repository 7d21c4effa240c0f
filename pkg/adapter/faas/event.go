package faas

import (
	"encoding/base64"
	"net/url"
	"strings"

	"portico/pkg/platform"
)

// Event is the superset of the three function-invocation shapes this
// adapter accepts: REST-gateway events, payload-v2 HTTP-gateway events and
// load-balancer target events. Fields the shapes share keep one slot;
// detection looks at which discriminating fields are populated.
type Event struct {
	// REST-gateway and load-balancer fields.
	HTTPMethod                      string              `json:"httpMethod,omitempty"`
	Path                            string              `json:"path,omitempty"`
	Resource                        string              `json:"resource,omitempty"`
	Headers                         map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders               map[string][]string `json:"multiValueHeaders,omitempty"`
	QueryStringParameters           map[string]string   `json:"queryStringParameters,omitempty"`
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters,omitempty"`
	PathParameters                  map[string]string   `json:"pathParameters,omitempty"`
	StageVariables                  map[string]string   `json:"stageVariables,omitempty"`

	// Payload-v2 HTTP-gateway fields.
	Version        string   `json:"version,omitempty"`
	RouteKey       string   `json:"routeKey,omitempty"`
	RawPath        string   `json:"rawPath,omitempty"`
	RawQueryString string   `json:"rawQueryString,omitempty"`
	Cookies        []string `json:"cookies,omitempty"`

	// Body is a pointer so a JSON null or missing key stays
	// distinguishable from an empty string.
	Body            *string `json:"body,omitempty"`
	IsBase64Encoded bool    `json:"isBase64Encoded,omitempty"`

	RequestContext *RequestContext `json:"requestContext,omitempty"`
}

// RequestContext carries the per-shape nested context.
type RequestContext struct {
	RequestID string       `json:"requestId,omitempty"`
	Stage     string       `json:"stage,omitempty"`
	HTTP      *HTTPContext `json:"http,omitempty"`
	ELB       *ELBContext  `json:"elb,omitempty"`
	Identity  *Identity    `json:"identity,omitempty"`
}

// HTTPContext is the payload-v2 nested request description.
type HTTPContext struct {
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`
	Protocol  string `json:"protocol,omitempty"`
	SourceIP  string `json:"sourceIp,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// ELBContext marks a load-balancer invocation.
type ELBContext struct {
	TargetGroupArn string `json:"targetGroupArn,omitempty"`
}

// Identity is the REST-gateway caller identity.
type Identity struct {
	SourceIP string `json:"sourceIp,omitempty"`
}

// Event source tags, used on logs and metrics.
const (
	SourceREST    = "rest"
	SourceHTTPAPI = "http-api"
	SourceALB     = "alb"
	SourceUnknown = "unknown"
)

// Source classifies the event shape. Load-balancer events also carry a
// top-level httpMethod, so the elb marker is checked first; payload-v2
// events are the only ones with a nested http context.
func (e *Event) Source() string {
	if e == nil {
		return SourceUnknown
	}
	if e.RequestContext != nil && e.RequestContext.ELB != nil {
		return SourceALB
	}
	if e.HTTPMethod != "" {
		return SourceREST
	}
	if e.RequestContext != nil && e.RequestContext.HTTP != nil {
		return SourceHTTPAPI
	}
	return SourceUnknown
}

// Request maps the event onto the canonical model. The mapping is total:
// whatever fields the event is missing come out zero-valued. All three
// shapes of the same logical request normalize to the same canonical
// request, differing only in their source tag.
func (e *Event) Request() platform.Request {
	source := e.Source()
	if source == SourceUnknown {
		return platform.Request{}
	}

	req := platform.Request{
		Header: e.headers(),
		Query:  e.query(),
		Body:   e.decodedBody(),
	}

	switch source {
	case SourceHTTPAPI:
		hc := e.RequestContext.HTTP
		req.Method = hc.Method
		req.Path = e.RawPath
		if req.Path == "" {
			req.Path = hc.Path
		}
		req.RemoteAddr = hc.SourceIP
	default:
		req.Method = e.HTTPMethod
		req.Path = e.Path
		req.RemoteAddr = e.sourceAddr()
	}
	if req.RemoteAddr == "" {
		req.RemoteAddr = forwardedFor(req.Header)
	}
	return req
}

// headers merges the single-value and multi-value header maps, multi-value
// entries winning for keys present in both, and folds the v2 cookie list
// back into a cookie header.
func (e *Event) headers() platform.Header {
	h := platform.NewHeader()
	for k, v := range e.Headers {
		h.Set(k, v)
	}
	for k, vs := range e.MultiValueHeaders {
		h.Del(k)
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	if len(e.Cookies) > 0 {
		h.Set("cookie", strings.Join(e.Cookies, "; "))
	}
	return h
}

// query merges the single-value and multi-value query maps, or parses the
// raw query string on v2 events.
func (e *Event) query() url.Values {
	q := url.Values{}
	if e.RawQueryString != "" {
		parsed, err := url.ParseQuery(e.RawQueryString)
		if err == nil {
			return parsed
		}
		return q
	}
	for k, v := range e.QueryStringParameters {
		q.Set(k, v)
	}
	for k, vs := range e.MultiValueQueryStringParameters {
		q.Del(k)
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return q
}

// decodedBody returns the request payload: nil when the event carried no
// body, decoded bytes when it was base64-flagged, raw bytes otherwise. A
// base64 flag on a body that does not decode falls back to the raw bytes
// rather than failing the whole event.
func (e *Event) decodedBody() []byte {
	if e.Body == nil {
		return nil
	}
	if e.IsBase64Encoded {
		if b, err := base64.StdEncoding.DecodeString(*e.Body); err == nil {
			return b
		}
	}
	b := []byte(*e.Body)
	if b == nil {
		b = []byte{}
	}
	return b
}

func (e *Event) sourceAddr() string {
	if e.RequestContext != nil && e.RequestContext.Identity != nil {
		return e.RequestContext.Identity.SourceIP
	}
	return ""
}

// forwardedFor extracts the first hop from an x-forwarded-for header, which
// is how load-balancer events convey the client address.
func forwardedFor(h platform.Header) string {
	v := h.Get("x-forwarded-for")
	if v == "" {
		return ""
	}
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = v[:i]
	}
	return strings.TrimSpace(v)
}
