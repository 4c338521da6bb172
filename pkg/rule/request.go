package rule

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/ohler55/ojg/oj"
)

// RequestView is an immutable snapshot of a received request. It is built
// once per request, after the body has been fully read, and shared by every
// matcher evaluation. Derived attributes (form fields, parsed JSON body) are
// computed lazily and cached.
type RequestView struct {
	Method  string
	Scheme  string
	Host    string
	Port    int
	Path    string
	Query   url.Values
	Headers http.Header
	Cookies []*http.Cookie
	Body    []byte

	formOnce sync.Once
	form     url.Values

	jsonOnce sync.Once
	jsonDoc  any
	jsonOK   bool
}

// ViewFromRequest snapshots an incoming request. The body must already be
// drained by the caller; r.Body is not touched.
func ViewFromRequest(r *http.Request, body []byte) *RequestView {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}

	host := r.Host
	port := 80
	if scheme == "https" {
		port = 443
	}
	if h, p, err := net.SplitHostPort(r.Host); err == nil {
		host = h
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}

	return &RequestView{
		Method:  r.Method,
		Scheme:  scheme,
		Host:    host,
		Port:    port,
		Path:    r.URL.Path,
		Query:   r.URL.Query(),
		Headers: r.Header.Clone(),
		Cookies: r.Cookies(),
		Body:    body,
	}
}

// Form returns the decoded form fields of an x-www-form-urlencoded body.
// Requests with a different content type yield an empty set.
func (v *RequestView) Form() url.Values {
	v.formOnce.Do(func() {
		v.form = url.Values{}
		mt, _, err := mime.ParseMediaType(v.Headers.Get("Content-Type"))
		if err != nil || mt != "application/x-www-form-urlencoded" {
			return
		}
		if f, err := url.ParseQuery(string(v.Body)); err == nil {
			v.form = f
		}
	})
	return v.form
}

// JSON returns the parsed JSON document of the body, if it is valid JSON.
func (v *RequestView) JSON() (any, bool) {
	v.jsonOnce.Do(func() {
		if len(v.Body) == 0 {
			return
		}
		doc, err := oj.Parse(v.Body)
		if err != nil {
			return
		}
		v.jsonDoc = doc
		v.jsonOK = true
	})
	return v.jsonDoc, v.jsonOK
}

// CookieValues returns the values of every cookie with the given name.
func (v *RequestView) CookieValues(name string) []string {
	var out []string
	for _, c := range v.Cookies {
		if c.Name == name {
			out = append(out, c.Value)
		}
	}
	return out
}

// ExprEnv builds the environment exposed to expression matchers. Multi-valued
// attributes are flattened to their first value, matching how expressions are
// typically written against a single request.
func (v *RequestView) ExprEnv() map[string]any {
	query := make(map[string]string, len(v.Query))
	for k, vals := range v.Query {
		if len(vals) > 0 {
			query[k] = vals[0]
		}
	}
	headers := make(map[string]string, len(v.Headers))
	for k, vals := range v.Headers {
		if len(vals) > 0 {
			headers[k] = vals[0]
		}
	}
	return map[string]any{
		"method":  v.Method,
		"scheme":  v.Scheme,
		"host":    v.Host,
		"port":    v.Port,
		"path":    v.Path,
		"query":   query,
		"headers": headers,
		"body":    string(v.Body),
	}
}
