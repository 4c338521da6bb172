// Package server implements the mock server core: one HTTP handler that
// answers mocked traffic, forwards selected requests to real upstreams, and
// exposes a control API under the reserved /__httpmock__/ namespace on the
// same listener.
package server

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexliesenfeld/httpmock/pkg/history"
	"github.com/alexliesenfeld/httpmock/pkg/httputil"
	"github.com/alexliesenfeld/httpmock/pkg/logging"
	"github.com/alexliesenfeld/httpmock/pkg/proxy"
	"github.com/alexliesenfeld/httpmock/pkg/recording"
	"github.com/alexliesenfeld/httpmock/pkg/registry"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// ControlPrefix is the reserved path namespace of the control API. Rules
// cannot shadow it; requests beneath it never reach rule evaluation.
const ControlPrefix = "/__httpmock__"

// Core orchestrates one mock server instance: registry, history, forwarding
// router, relay, recorder, and control API. It implements http.Handler and
// is safe for concurrent use.
type Core struct {
	registry *registry.Registry
	history  *history.Buffer
	router   *proxy.Router
	relay    *proxy.Relay
	recorder *recording.Recorder
	control  http.Handler
	log      *slog.Logger

	historyLimit int
	relayOpts    []proxy.RelayOption
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger for the core and its relay.
func WithLogger(log *slog.Logger) Option {
	return func(c *Core) { c.log = log }
}

// WithHistoryLimit bounds the request history. Non-positive values select
// history.DefaultCapacity.
func WithHistoryLimit(n int) Option {
	return func(c *Core) { c.historyLimit = n }
}

// WithUpstreamTransport injects the round tripper used for forwarded
// requests. Tests use this to fake upstreams.
func WithUpstreamTransport(rt http.RoundTripper) Option {
	return func(c *Core) { c.relayOpts = append(c.relayOpts, proxy.WithTransport(rt)) }
}

// WithUpstreamAttempts bounds retries of failing upstream calls.
func WithUpstreamAttempts(n uint) Option {
	return func(c *Core) { c.relayOpts = append(c.relayOpts, proxy.WithAttempts(n)) }
}

// New creates a mock server core with an empty registry and history.
func New(opts ...Option) *Core {
	c := &Core{
		registry: registry.New(),
		router:   proxy.NewRouter(),
		recorder: recording.New(),
		log:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.history = history.NewBuffer(c.historyLimit)
	c.relay = proxy.NewRelay(append(c.relayOpts,
		proxy.WithRecorder(c.recorder),
		proxy.WithLogger(c.log),
	)...)
	c.control = c.controlMux()
	return c
}

// Registry returns the rule registry of this instance.
func (c *Core) Registry() *registry.Registry { return c.registry }

// History returns the request history of this instance.
func (c *Core) History() *history.Buffer { return c.history }

// Recorder returns the exchange recorder of this instance.
func (c *Core) Recorder() *recording.Recorder { return c.recorder }

// Forwards returns the forwarding router of this instance.
func (c *Core) Forwards() *proxy.Router { return c.router }

// Install builds the rule and adds it to the registry, returning its ID.
func (c *Core) Install(b *rule.Builder) (string, error) {
	r, err := b.Build()
	if err != nil {
		return "", err
	}
	return c.registry.Add(r)
}

// InstallRule adds an already-built rule.
func (c *Core) InstallRule(r *rule.Rule) (string, error) {
	return c.registry.Add(r)
}

// Forward installs a forwarding rule, consulted before rule evaluation.
func (c *Core) Forward(f *proxy.ForwardingRule) string {
	return c.router.Add(f)
}

// Reset returns the instance to its pristine state: no rules, no hit
// counters, no history, no forwarding rules, no buffered recordings.
func (c *Core) Reset() {
	c.registry.Reset()
	c.history.Clear()
	c.router.Reset()
	c.recorder.Clear()
	c.log.Debug("instance reset")
}

// ServeHTTP dispatches a request: control API first, then forwarding rules,
// then rule evaluation. Every non-control request is appended to history
// exactly once, after evaluation, including requests whose body could not
// be read; aborted and unmatched requests are recorded without a rule ID.
func (c *Core) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, ControlPrefix) {
		c.control.ServeHTTP(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	v := rule.ViewFromRequest(r, body)
	if err != nil {
		c.history.Append(history.RecordFromView(v, ""))
		c.log.Debug("request body read failed", "method", r.Method, "path", r.URL.Path, "error", err)
		return
	}

	if fw, ok := c.router.Select(v); ok {
		c.history.Append(history.RecordFromView(v, ""))
		c.relay.Forward(w, r, v, fw)
		return
	}

	matched, ok := c.registry.Match(v)
	matchedID := ""
	if ok {
		matchedID = matched.ID
	}
	c.history.Append(history.RecordFromView(v, matchedID))

	if !ok {
		c.log.Debug("no rule matched", "method", r.Method, "path", r.URL.Path)
		msg := fmt.Sprintf("no rule matched %s %s", r.Method, r.URL.Path)
		if hint, found := c.nearMiss(v); found {
			httputil.WriteErrorWithDetails(w, http.StatusNotFound, "no_rule_matched", msg, hint)
			return
		}
		httputil.WriteNotFound(w, "no_rule_matched", msg)
		return
	}

	c.log.Debug("rule matched", "rule_id", matched.ID, "method", r.Method, "path", r.URL.Path)
	c.respond(w, r, matched.Then)
}

// nearMiss finds the installed rule whose matchers agree most with the
// request, so unmatched responses hint at the likely misconfiguration. Ties
// keep the earlier rule, mirroring match priority.
func (c *Core) nearMiss(v *rule.RequestView) (map[string]any, bool) {
	var (
		best      *rule.Rule
		satisfied int
	)
	for _, installed := range c.registry.List() {
		n := 0
		for _, m := range installed.When {
			if m.Matches(v) {
				n++
			}
		}
		if best == nil || n > satisfied {
			best, satisfied = installed, n
		}
	}
	if best == nil {
		return nil, false
	}

	var unsatisfied []string
	for _, m := range best.When {
		if !m.Matches(v) {
			unsatisfied = append(unsatisfied, m.Describe())
		}
	}
	return map[string]any{
		"closest_rule_id":    best.ID,
		"closest_rule_name":  best.Name,
		"matchers_satisfied": satisfied,
		"matchers_total":     len(best.When),
		"unsatisfied":        unsatisfied,
	}, true
}

func (c *Core) respond(w http.ResponseWriter, r *http.Request, t *rule.ResponseTemplate) {
	if t.Delay > 0 {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(t.Delay):
		}
	}

	header := w.Header()
	for _, h := range t.Headers {
		header.Add(h.Name, h.Value)
	}
	w.WriteHeader(t.Status)
	if len(t.Body) > 0 {
		_, _ = w.Write(t.Body)
	}
}
