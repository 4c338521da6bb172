// Package client drives a remote mock server through its control API. It
// offers the same operations as an in-process server core, so tests can
// target a standalone server with unchanged rule definitions.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alexliesenfeld/httpmock/internal/matching"
	"github.com/alexliesenfeld/httpmock/pkg/api"
	"github.com/alexliesenfeld/httpmock/pkg/history"
	"github.com/alexliesenfeld/httpmock/pkg/logging"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
	"github.com/alexliesenfeld/httpmock/pkg/server"
)

// Client talks to one remote mock server. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	log     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a client for the mock server at baseURL, e.g.
// "http://127.0.0.1:5000".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Second},
		log:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server address this client targets.
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks that the remote server is up and answering.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// CreateRule serializes and installs a rule, returning its remote ID. Rules
// carrying custom predicates fail with rule.ErrNotTransmissible before any
// network traffic.
func (c *Client) CreateRule(ctx context.Context, r *rule.Rule) (string, error) {
	spec, err := api.FromRule(r)
	if err != nil {
		return "", err
	}
	return c.CreateRuleSpec(ctx, spec)
}

// CreateRuleSpec installs an already-serialized rule.
func (c *Client) CreateRuleSpec(ctx context.Context, spec *api.RuleSpec) (string, error) {
	var out struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/rules", spec, &out); err != nil {
		return "", err
	}
	c.log.Debug("rule installed remotely", "rule_id", out.ID, "server", c.baseURL)
	return out.ID, nil
}

// Rules lists the installed rules in match order.
func (c *Client) Rules(ctx context.Context) ([]api.RuleSpec, error) {
	var out []api.RuleSpec
	if err := c.do(ctx, http.MethodGet, "/rules", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRule removes one rule.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/rules/"+id, nil, nil)
}

// DeleteAllRules removes every rule and hit counter.
func (c *Client) DeleteAllRules(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/rules", nil, nil)
}

// Hits returns how many requests a rule has matched.
func (c *Client) Hits(ctx context.Context, id string) (int64, error) {
	var out struct {
		Hits int64 `json:"hits"`
	}
	if err := c.do(ctx, http.MethodGet, "/rules/"+id+"/hits", nil, &out); err != nil {
		return 0, err
	}
	return out.Hits, nil
}

// Closest fetches the closest-match report for a rule.
func (c *Client) Closest(ctx context.Context, id string) (*matching.Report, error) {
	var out matching.Report
	if err := c.do(ctx, http.MethodGet, "/rules/"+id+"/closest", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// History returns the remote request history, oldest first.
func (c *Client) History(ctx context.Context) ([]history.Record, error) {
	var out []history.Record
	if err := c.do(ctx, http.MethodGet, "/history", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ClearHistory drops the remote request history.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/history", nil, nil)
}

// Reset returns the remote server to pristine state.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/reset", nil, nil)
}

// VerifyCalled checks the rule matched exactly times requests; on mismatch
// the returned error carries the remote closest-match report.
func (c *Client) VerifyCalled(ctx context.Context, id string, times int64) error {
	hits, err := c.Hits(ctx, id)
	if err != nil {
		return err
	}
	if hits == times {
		return nil
	}
	rep, err := c.Closest(ctx, id)
	if err != nil {
		return fmt.Errorf("expected rule %s to match %d time(s), matched %d", id, times, hits)
	}
	return fmt.Errorf("expected rule %s to match %d time(s), matched %d\n%s", id, times, hits, rep)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+server.ControlPrefix+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling mock server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var remote struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&remote); err == nil && remote.Error != "" {
			return fmt.Errorf("mock server: %s: %s", remote.Error, remote.Message)
		}
		return fmt.Errorf("mock server: unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}
	return nil
}
