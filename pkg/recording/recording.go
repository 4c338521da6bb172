// Package recording captures forwarded exchanges and turns them into
// replayable rules. Save writes a YAML artifact; Load converts the artifact
// back into exact-match rules so a later run can play the upstream's
// responses without network access.
package recording

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/alexliesenfeld/httpmock/pkg/api"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// Recording errors.
var (
	ErrNoExchanges = errors.New("no exchanges recorded")
)

// volatileHeaders are response headers that vary between runs and would
// break playback if replayed verbatim.
var volatileHeaders = map[string]bool{
	"Date":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
}

// volatileRequestHeaders are client headers that differ between the recording
// client and the replaying client; turning them into matchers would make
// playback rules unmatchable.
var volatileRequestHeaders = map[string]bool{
	"Host":              true,
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
	"Keep-Alive":        true,
	"Accept-Encoding":   true,
	"User-Agent":        true,
	"Date":              true,
	"Proxy-Connection":  true,
}

// Exchange is one forwarded request and the upstream response it produced.
type Exchange struct {
	Timestamp       time.Time
	Method          string
	Path            string
	Query           string
	RequestHeaders  http.Header
	RequestBody     []byte
	Status          int
	ResponseHeaders http.Header
	ResponseBody    []byte
}

// Recorder buffers exchanges until they are saved. Safe for concurrent use.
type Recorder struct {
	mu        sync.Mutex
	exchanges []*Exchange
}

// New creates an empty recorder.
func New() *Recorder {
	return &Recorder{}
}

// Record appends one exchange.
func (rc *Recorder) Record(v *rule.RequestView, status int, respHeaders http.Header, respBody []byte) {
	ex := &Exchange{
		Timestamp:       time.Now(),
		Method:          v.Method,
		Path:            v.Path,
		Query:           v.Query.Encode(),
		RequestHeaders:  v.Headers.Clone(),
		RequestBody:     append([]byte(nil), v.Body...),
		Status:          status,
		ResponseHeaders: respHeaders.Clone(),
		ResponseBody:    append([]byte(nil), respBody...),
	}
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.exchanges = append(rc.exchanges, ex)
}

// Exchanges returns the buffered exchanges, oldest first.
func (rc *Recorder) Exchanges() []*Exchange {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*Exchange, len(rc.exchanges))
	copy(out, rc.exchanges)
	return out
}

// Len returns the number of buffered exchanges.
func (rc *Recorder) Len() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.exchanges)
}

// Clear discards the buffered exchanges.
func (rc *Recorder) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.exchanges = nil
}

// artifact is the on-disk YAML shape.
type artifact struct {
	Name    string         `yaml:"name"`
	SavedAt time.Time      `yaml:"saved_at"`
	Rules   []api.RuleSpec `yaml:"rules"`
}

// Save writes the buffered exchanges to dir as <name>_<timestamp>.yaml and
// returns the file path. Each exchange becomes a rule matching the recorded
// method, path, query, headers, and body exactly, and responding with the
// recorded status, headers, and body. Volatile headers on both sides are
// dropped.
func (rc *Recorder) Save(dir, name string) (string, error) {
	exchanges := rc.Exchanges()
	if len(exchanges) == 0 {
		return "", ErrNoExchanges
	}

	art := artifact{Name: name, SavedAt: time.Now()}
	for _, ex := range exchanges {
		art.Rules = append(art.Rules, specFromExchange(ex))
	}

	data, err := yaml.Marshal(&art)
	if err != nil {
		return "", fmt.Errorf("encoding recording: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating recording dir: %w", err)
	}
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.yaml", sanitize(name), time.Now().Format("20060102T150405")))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing recording: %w", err)
	}
	return path, nil
}

func specFromExchange(ex *Exchange) api.RuleSpec {
	spec := api.RuleSpec{
		Name: fmt.Sprintf("recorded %s %s", ex.Method, ex.Path),
		When: []api.MatcherSpec{
			{Target: string(rule.TargetMethod), Op: string(rule.OpEquals), Value: ex.Method},
			{Target: string(rule.TargetPath), Op: string(rule.OpEquals), Value: ex.Path},
		},
	}
	if ex.Query != "" {
		q, _ := url.ParseQuery(ex.Query)
		for key, vals := range q {
			for _, v := range vals {
				spec.When = append(spec.When, api.MatcherSpec{
					Target: string(rule.TargetQuery), Key: key,
					Op: string(rule.OpEquals), Value: v,
				})
			}
		}
	}
	for _, name := range sortedKeys(ex.RequestHeaders) {
		if volatileRequestHeaders[name] {
			continue
		}
		for _, v := range ex.RequestHeaders[name] {
			spec.When = append(spec.When, api.MatcherSpec{
				Target: string(rule.TargetHeader), Key: name,
				Op: string(rule.OpEquals), Value: v,
			})
		}
	}
	if len(ex.RequestBody) > 0 {
		spec.When = append(spec.When, api.MatcherSpec{
			Target: string(rule.TargetBody), Op: string(rule.OpEquals), Value: string(ex.RequestBody),
		})
	}

	spec.Then = api.ResponseSpec{Status: ex.Status}
	for _, name := range sortedKeys(ex.ResponseHeaders) {
		if volatileHeaders[name] {
			continue
		}
		for _, v := range ex.ResponseHeaders[name] {
			spec.Then.Headers = append(spec.Then.Headers, api.HeaderSpec{Name: name, Value: v})
		}
	}
	if len(ex.ResponseBody) > 0 {
		if utf8.Valid(ex.ResponseBody) {
			spec.Then.Body = string(ex.ResponseBody)
		} else {
			spec.Then.BodyBase64 = base64.StdEncoding.EncodeToString(ex.ResponseBody)
		}
	}
	return spec
}

// Load reads a recording artifact and builds its rules, in recorded order.
func Load(path string) ([]*rule.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	var art artifact
	if err := yaml.Unmarshal(data, &art); err != nil {
		return nil, fmt.Errorf("decoding recording %s: %w", path, err)
	}

	rules := make([]*rule.Rule, 0, len(art.Rules))
	for i := range art.Rules {
		r, err := art.Rules[i].Build()
		if err != nil {
			return nil, fmt.Errorf("recording %s rule %d: %w", path, i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

func sortedKeys(h http.Header) []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sanitize(name string) string {
	if name == "" {
		return "recording"
	}
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}
	return strings.Map(mapper, name)
}
