// Package proxy forwards selected requests to a real upstream instead of
// answering them from rules. Forwarding rules reuse the matcher vocabulary
// of pkg/rule and are consulted before the mock registry; when none matches,
// the request falls through to normal rule evaluation.
package proxy

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// ForwardingRule routes matching requests to an upstream authority.
type ForwardingRule struct {
	ID     string
	Seq    int
	Target *url.URL
	// Record captures each forwarded exchange for later playback.
	Record bool
	when   []*rule.Matcher
}

// NewForwardingRule builds a forwarding rule from a target base URL and the
// matchers accumulated on the builder. The builder's response template is
// ignored; the upstream supplies the response.
func NewForwardingRule(target string, when *rule.Builder) (*ForwardingRule, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("forwarding target %q: %w", target, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("forwarding target %q: need an absolute http(s) URL", target)
	}

	r, err := when.Build()
	if err != nil {
		return nil, err
	}
	return &ForwardingRule{Target: u, when: r.When}, nil
}

// WithRecording marks the rule's exchanges for capture.
func (f *ForwardingRule) WithRecording() *ForwardingRule {
	f.Record = true
	return f
}

// Matches reports whether the request should be forwarded by this rule.
func (f *ForwardingRule) Matches(v *rule.RequestView) bool {
	for _, m := range f.when {
		if !m.Matches(v) {
			return false
		}
	}
	return true
}

// RewriteURL maps a request URL onto the target authority, preserving the
// request path and query. A target with a base path gets it prepended.
func (f *ForwardingRule) RewriteURL(reqURL *url.URL) *url.URL {
	out := *reqURL
	out.Scheme = f.Target.Scheme
	out.Host = f.Target.Host
	if p := strings.TrimSuffix(f.Target.Path, "/"); p != "" {
		out.Path = p + reqURL.Path
	}
	return &out
}

// Router holds forwarding rules in insertion order and selects the first
// one matching a request.
type Router struct {
	mu    sync.RWMutex
	rules []*ForwardingRule
	seq   int
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{}
}

// Add installs a forwarding rule and returns its ID.
func (rt *Router) Add(f *ForwardingRule) string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	rt.seq++
	f.Seq = rt.seq
	rt.rules = append(rt.rules, f)
	return f.ID
}

// Select returns the first forwarding rule matching the request, in
// insertion order.
func (rt *Router) Select(v *rule.RequestView) (*ForwardingRule, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	for _, f := range rt.rules {
		if f.Matches(v) {
			return f, true
		}
	}
	return nil, false
}

// List returns the installed forwarding rules in insertion order.
func (rt *Router) List() []*ForwardingRule {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]*ForwardingRule, len(rt.rules))
	copy(out, rt.rules)
	return out
}

// Len returns the number of installed forwarding rules.
func (rt *Router) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.rules)
}

// Reset removes every forwarding rule.
func (rt *Router) Reset() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.rules = nil
}
