package rule

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// Builder assembles a rule fluently. Matcher methods add conditions, With*
// methods shape the response, and Build finalizes and validates the rule.
// The first configuration error wins; later calls become no-ops and Build
// returns that error. A builder is single-use.
type Builder struct {
	name string
	when []*Matcher
	then ResponseTemplate
	err  error
}

// NewBuilder returns a builder for a rule that responds 200 with an empty
// body until configured otherwise.
func NewBuilder() *Builder {
	return &Builder{then: ResponseTemplate{Status: http.StatusOK}}
}

func (b *Builder) setError(err error) {
	if b.err == nil {
		b.err = err
	}
}

func (b *Builder) add(m *Matcher) *Builder {
	if b.err == nil {
		b.when = append(b.when, m)
	}
	return b
}

func (b *Builder) simple(target Target, key string, op Op, value string) *Builder {
	return b.add(&Matcher{Target: target, Key: key, Op: op, Value: value, Transmissible: true})
}

// WithName attaches a display name used in logs and diagnostics.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// Method requires the request method to equal m.
func (b *Builder) Method(m string) *Builder {
	return b.simple(TargetMethod, "", OpEquals, m)
}

// Scheme requires the request scheme ("http" or "https") to equal s.
func (b *Builder) Scheme(s string) *Builder {
	return b.simple(TargetScheme, "", OpEquals, s)
}

// Host requires the request host to equal h.
func (b *Builder) Host(h string) *Builder {
	return b.simple(TargetHost, "", OpEquals, h)
}

// Port requires the request port to equal n.
func (b *Builder) Port(n int) *Builder {
	if n <= 0 || n > 65535 {
		b.setError(configErrf("port %d out of range", n))
		return b
	}
	return b.simple(TargetPort, "", OpEquals, strconv.Itoa(n))
}

// Path requires the request path to equal p.
func (b *Builder) Path(p string) *Builder {
	return b.simple(TargetPath, "", OpEquals, p)
}

// PathContains requires the request path to contain s.
func (b *Builder) PathContains(s string) *Builder {
	return b.simple(TargetPath, "", OpContains, s)
}

// PathExcludes requires the request path to not contain s.
func (b *Builder) PathExcludes(s string) *Builder {
	return b.simple(TargetPath, "", OpExcludes, s)
}

// PathPrefix requires the request path to start with s.
func (b *Builder) PathPrefix(s string) *Builder {
	return b.simple(TargetPath, "", OpPrefix, s)
}

// PathSuffix requires the request path to end with s.
func (b *Builder) PathSuffix(s string) *Builder {
	return b.simple(TargetPath, "", OpSuffix, s)
}

// PathMatches requires the request path to match the regex pattern.
func (b *Builder) PathMatches(pattern string) *Builder {
	return b.simple(TargetPath, "", OpMatches, pattern)
}

// Query requires a query parameter with the given value.
func (b *Builder) Query(key, value string) *Builder {
	return b.simple(TargetQuery, key, OpEquals, value)
}

// QueryExists requires the query parameter to be present.
func (b *Builder) QueryExists(key string) *Builder {
	return b.simple(TargetQuery, key, OpExists, "")
}

// QueryMissing requires the query parameter to be absent.
func (b *Builder) QueryMissing(key string) *Builder {
	return b.simple(TargetQuery, key, OpMissing, "")
}

// QueryCount requires the number of values of a query parameter that equal
// value to compare as cmp against n. An empty value counts every occurrence.
func (b *Builder) QueryCount(key, value string, cmp Cmp, n int) *Builder {
	return b.count(TargetQuery, key, value, cmp, n)
}

// Header requires a header with the given value.
func (b *Builder) Header(key, value string) *Builder {
	return b.simple(TargetHeader, key, OpEquals, value)
}

// HeaderNot requires that no value of the header equals value.
func (b *Builder) HeaderNot(key, value string) *Builder {
	return b.simple(TargetHeader, key, OpNotEquals, value)
}

// HeaderExists requires the header to be present.
func (b *Builder) HeaderExists(key string) *Builder {
	return b.simple(TargetHeader, key, OpExists, "")
}

// HeaderMissing requires the header to be absent.
func (b *Builder) HeaderMissing(key string) *Builder {
	return b.simple(TargetHeader, key, OpMissing, "")
}

// HeaderMatches requires some value of the header to match the regex pattern.
func (b *Builder) HeaderMatches(key, pattern string) *Builder {
	return b.simple(TargetHeader, key, OpMatches, pattern)
}

// HeaderCount requires the number of header values equal to value to compare
// as cmp against n. An empty value counts every occurrence.
func (b *Builder) HeaderCount(key, value string, cmp Cmp, n int) *Builder {
	return b.count(TargetHeader, key, value, cmp, n)
}

// Cookie requires a cookie with the given value.
func (b *Builder) Cookie(name, value string) *Builder {
	return b.simple(TargetCookie, name, OpEquals, value)
}

// CookieExists requires the cookie to be present.
func (b *Builder) CookieExists(name string) *Builder {
	return b.simple(TargetCookie, name, OpExists, "")
}

// CookieMissing requires the cookie to be absent.
func (b *Builder) CookieMissing(name string) *Builder {
	return b.simple(TargetCookie, name, OpMissing, "")
}

// Body requires the request body to equal s.
func (b *Builder) Body(s string) *Builder {
	return b.simple(TargetBody, "", OpEquals, s)
}

// BodyContains requires the request body to contain s.
func (b *Builder) BodyContains(s string) *Builder {
	return b.simple(TargetBody, "", OpContains, s)
}

// BodyExcludes requires the request body to not contain s.
func (b *Builder) BodyExcludes(s string) *Builder {
	return b.simple(TargetBody, "", OpExcludes, s)
}

// BodyPrefix requires the request body to start with s.
func (b *Builder) BodyPrefix(s string) *Builder {
	return b.simple(TargetBody, "", OpPrefix, s)
}

// BodySuffix requires the request body to end with s.
func (b *Builder) BodySuffix(s string) *Builder {
	return b.simple(TargetBody, "", OpSuffix, s)
}

// BodyMatches requires the request body to match the regex pattern.
func (b *Builder) BodyMatches(pattern string) *Builder {
	return b.simple(TargetBody, "", OpMatches, pattern)
}

// FormField requires an x-www-form-urlencoded body field with the given
// value.
func (b *Builder) FormField(key, value string) *Builder {
	return b.simple(TargetForm, key, OpEquals, value)
}

// JSONPath requires the JSON body to contain a value equal to expected at
// the given JSONPath.
func (b *Builder) JSONPath(path string, expected any) *Builder {
	return b.add(&Matcher{
		Target: TargetJSONPath, Key: path, Op: OpEquals,
		Expected: expected, Transmissible: true,
	})
}

// JSONPathExists requires the JSONPath to yield at least one value.
func (b *Builder) JSONPathExists(path string) *Builder {
	return b.simple(TargetJSONPath, path, OpExists, "")
}

// Expr requires the boolean expression to evaluate true against the request
// environment (method, path, query, headers, body, ...). Unlike Custom,
// expression matchers serialize and work against remote servers.
func (b *Builder) Expr(src string) *Builder {
	return b.add(&Matcher{Target: TargetExpr, Key: src, Op: OpEval, Transmissible: true})
}

// Custom requires the predicate to return true. Custom rules only work
// in-process; serializing them for a remote server fails.
func (b *Builder) Custom(fn func(*RequestView) bool) *Builder {
	if fn == nil {
		b.setError(configErrf("custom matcher requires a predicate"))
		return b
	}
	return b.add(&Matcher{Target: TargetRequest, Op: OpCustom, predicate: fn})
}

// Where adds a pre-constructed matcher, for operator and target combinations
// without a named builder method.
func (b *Builder) Where(m *Matcher) *Builder {
	if m == nil {
		b.setError(configErrf("nil matcher"))
		return b
	}
	return b.add(m)
}

func (b *Builder) count(target Target, key, value string, cmp Cmp, n int) *Builder {
	m := &Matcher{
		Target: target, Key: key, Op: OpCount,
		Value: value, Cmp: cmp, N: n, Transmissible: true,
	}
	if value != "" {
		m.CountOp = OpEquals
	}
	return b.add(m)
}

// WithStatus sets the response status code.
func (b *Builder) WithStatus(status int) *Builder {
	b.then.Status = status
	return b
}

// WithHeader appends a response header. Calling it twice with the same name
// emits the header twice, in call order.
func (b *Builder) WithHeader(name, value string) *Builder {
	b.then.Headers = append(b.then.Headers, HeaderPair{Name: name, Value: value})
	return b
}

// WithBody sets the response body.
func (b *Builder) WithBody(body string) *Builder {
	b.then.Body = []byte(body)
	return b
}

// WithBodyBytes sets a binary response body.
func (b *Builder) WithBodyBytes(body []byte) *Builder {
	b.then.Body = body
	return b
}

// WithJSON marshals v as the response body and sets the JSON content type.
func (b *Builder) WithJSON(v any) *Builder {
	data, err := json.Marshal(v)
	if err != nil {
		b.setError(configErr("response body", err))
		return b
	}
	b.then.Body = data
	b.then.Headers = append(b.then.Headers, HeaderPair{Name: "Content-Type", Value: "application/json"})
	return b
}

// WithDelay delays the response by d before writing anything.
func (b *Builder) WithDelay(d time.Duration) *Builder {
	if d < 0 {
		b.setError(configErrf("negative response delay"))
		return b
	}
	b.then.Delay = d
	return b
}

// Build validates the accumulated configuration and returns the finished
// rule. Regex, JSONPath, and expression sources are compiled here; malformed
// input surfaces as a ConfigurationError.
func (b *Builder) Build() (*Rule, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.then.Status < 100 || b.then.Status > 599 {
		return nil, configErrf("status code %d out of range", b.then.Status)
	}
	for _, m := range b.when {
		if err := m.compile(); err != nil {
			return nil, err
		}
	}
	then := b.then
	then.Headers = append([]HeaderPair(nil), b.then.Headers...)
	return &Rule{Name: b.name, When: b.when, Then: &then}, nil
}
