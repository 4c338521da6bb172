package proxy

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/alexliesenfeld/httpmock/pkg/httputil"
	"github.com/alexliesenfeld/httpmock/pkg/logging"
	"github.com/alexliesenfeld/httpmock/pkg/recording"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// hopHeaders are connection-scoped headers that must not travel end to end.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Relay carries forwarded requests to their upstream and copies the
// response back verbatim. Transport failures degrade to a 502 for the
// original caller; they never crash the server.
type Relay struct {
	transport  http.RoundTripper
	attempts   uint
	retryDelay time.Duration
	recorder   *recording.Recorder
	log        *slog.Logger
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithTransport injects the upstream round tripper. Defaults to
// http.DefaultTransport.
func WithTransport(rt http.RoundTripper) RelayOption {
	return func(r *Relay) { r.transport = rt }
}

// WithAttempts sets how often an upstream call is tried before giving up.
// The default of 1 disables retries.
func WithAttempts(n uint) RelayOption {
	return func(r *Relay) { r.attempts = n }
}

// WithRecorder captures forwarded exchanges of rules that have recording
// enabled.
func WithRecorder(rc *recording.Recorder) RelayOption {
	return func(r *Relay) { r.recorder = rc }
}

// WithLogger sets the relay logger.
func WithLogger(log *slog.Logger) RelayOption {
	return func(r *Relay) { r.log = log }
}

// NewRelay creates a relay with the given options.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{
		transport:  http.DefaultTransport,
		attempts:   1,
		retryDelay: 50 * time.Millisecond,
		log:        logging.Nop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.attempts == 0 {
		r.attempts = 1
	}
	return r
}

// Forward relays the request to the rule's upstream and writes the upstream
// response, or a 502 if the upstream cannot be reached. The request body
// must already be captured in v.
func (rl *Relay) Forward(w http.ResponseWriter, r *http.Request, v *rule.RequestView, fw *ForwardingRule) {
	out := r.Clone(r.Context())
	out.URL = fw.RewriteURL(r.URL)
	out.Host = fw.Target.Host
	out.RequestURI = ""
	out.ContentLength = int64(len(v.Body))
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	var resp *http.Response
	err := retry.Do(
		func() error {
			out.Body = io.NopCloser(bytes.NewReader(v.Body))
			res, err := rl.transport.RoundTrip(out)
			if err != nil {
				return err
			}
			resp = res
			return nil
		},
		retry.Attempts(rl.attempts),
		retry.Delay(rl.retryDelay),
		retry.LastErrorOnly(true),
		retry.Context(r.Context()),
	)
	if err != nil {
		rl.log.Warn("upstream unreachable",
			"target", fw.Target.String(), "method", v.Method, "path", v.Path, "error", err)
		httputil.WriteBadGateway(w, "upstream_unreachable", err.Error())
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		rl.log.Warn("upstream response truncated", "target", fw.Target.String(), "error", err)
		httputil.WriteBadGateway(w, "upstream_read_failed", err.Error())
		return
	}

	if fw.Record && rl.recorder != nil {
		rl.recorder.Record(v, resp.StatusCode, resp.Header, respBody)
	}

	header := w.Header()
	for name, vals := range resp.Header {
		for _, val := range vals {
			header.Add(name, val)
		}
	}
	for _, h := range hopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)

	rl.log.Debug("forwarded request",
		"target", fw.Target.String(), "method", v.Method, "path", v.Path, "status", resp.StatusCode)
}
