// Package api defines the wire representation of rules used by the control
// API, the remote client, static fixture files, and recording artifacts.
package api

import (
	"encoding/base64"
	"time"
	"unicode/utf8"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// MatcherSpec is the serialized form of a matcher.
type MatcherSpec struct {
	Target   string `json:"target" yaml:"target"`
	Key      string `json:"key,omitempty" yaml:"key,omitempty"`
	Op       string `json:"op" yaml:"op"`
	Value    string `json:"value,omitempty" yaml:"value,omitempty"`
	Expected any    `json:"expected,omitempty" yaml:"expected,omitempty"`
	CountOp  string `json:"count_op,omitempty" yaml:"count_op,omitempty"`
	Cmp      string `json:"cmp,omitempty" yaml:"cmp,omitempty"`
	N        int    `json:"n,omitempty" yaml:"n,omitempty"`
}

// HeaderSpec is one response header. Order and duplicates are preserved.
type HeaderSpec struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// ResponseSpec is the serialized form of a response template. Bodies that
// are not valid UTF-8 travel base64-encoded in BodyBase64 instead of Body.
type ResponseSpec struct {
	Status     int          `json:"status" yaml:"status"`
	Headers    []HeaderSpec `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body       string       `json:"body,omitempty" yaml:"body,omitempty"`
	BodyBase64 string       `json:"body_base64,omitempty" yaml:"body_base64,omitempty"`
	DelayMs    int          `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// RuleSpec is the serialized form of a rule.
type RuleSpec struct {
	ID   string        `json:"id,omitempty" yaml:"id,omitempty"`
	Name string        `json:"name,omitempty" yaml:"name,omitempty"`
	When []MatcherSpec `json:"when" yaml:"when"`
	Then ResponseSpec  `json:"then" yaml:"then"`
}

var knownTargets = map[rule.Target]bool{
	rule.TargetMethod: true, rule.TargetScheme: true, rule.TargetHost: true,
	rule.TargetPort: true, rule.TargetPath: true, rule.TargetQuery: true,
	rule.TargetHeader: true, rule.TargetCookie: true, rule.TargetBody: true,
	rule.TargetForm: true, rule.TargetJSONPath: true, rule.TargetExpr: true,
}

var knownOps = map[rule.Op]bool{
	rule.OpEquals: true, rule.OpNotEquals: true, rule.OpContains: true,
	rule.OpExcludes: true, rule.OpPrefix: true, rule.OpNotPrefix: true,
	rule.OpSuffix: true, rule.OpNotSuffix: true, rule.OpMatches: true,
	rule.OpExists: true, rule.OpMissing: true, rule.OpCount: true,
	rule.OpEval: true,
}

// Build converts the spec into a compiled rule. Specs naming a custom
// predicate are rejected: predicates exist only in the defining process.
func (s *RuleSpec) Build() (*rule.Rule, error) {
	b := rule.NewBuilder().WithName(s.Name)
	for _, ms := range s.When {
		target := rule.Target(ms.Target)
		op := rule.Op(ms.Op)
		if target == rule.TargetRequest || op == rule.OpCustom {
			return nil, &rule.ConfigurationError{
				Detail: "custom predicate matchers only work in-process",
				Err:    rule.ErrNotTransmissible,
			}
		}
		if !knownTargets[target] {
			return nil, &rule.ConfigurationError{Detail: "unknown matcher target " + ms.Target}
		}
		if !knownOps[op] {
			return nil, &rule.ConfigurationError{Detail: "unknown matcher operator " + ms.Op}
		}
		b.Where(&rule.Matcher{
			Target:        target,
			Key:           ms.Key,
			Op:            op,
			Value:         ms.Value,
			Expected:      ms.Expected,
			CountOp:       rule.Op(ms.CountOp),
			Cmp:           rule.Cmp(ms.Cmp),
			N:             ms.N,
			Transmissible: true,
		})
	}

	if s.Then.Status != 0 {
		b.WithStatus(s.Then.Status)
	}
	for _, h := range s.Then.Headers {
		b.WithHeader(h.Name, h.Value)
	}
	switch {
	case s.Then.BodyBase64 != "":
		data, err := base64.StdEncoding.DecodeString(s.Then.BodyBase64)
		if err != nil {
			return nil, &rule.ConfigurationError{Detail: "response body is not valid base64", Err: err}
		}
		b.WithBodyBytes(data)
	case s.Then.Body != "":
		b.WithBody(s.Then.Body)
	}
	if s.Then.DelayMs > 0 {
		b.WithDelay(time.Duration(s.Then.DelayMs) * time.Millisecond)
	}

	r, err := b.Build()
	if err != nil {
		return nil, err
	}
	r.ID = s.ID
	return r, nil
}

// FromRule serializes a rule. Rules carrying custom predicates return
// rule.ErrNotTransmissible.
func FromRule(r *rule.Rule) (*RuleSpec, error) {
	if !r.Transmissible() {
		return nil, rule.ErrNotTransmissible
	}

	spec := &RuleSpec{ID: r.ID, Name: r.Name}
	for _, m := range r.When {
		spec.When = append(spec.When, MatcherSpec{
			Target:   string(m.Target),
			Key:      m.Key,
			Op:       string(m.Op),
			Value:    m.Value,
			Expected: m.Expected,
			CountOp:  string(m.CountOp),
			Cmp:      string(m.Cmp),
			N:        m.N,
		})
	}

	spec.Then = ResponseSpec{
		Status:  r.Then.Status,
		DelayMs: int(r.Then.Delay / time.Millisecond),
	}
	for _, h := range r.Then.Headers {
		spec.Then.Headers = append(spec.Then.Headers, HeaderSpec{Name: h.Name, Value: h.Value})
	}
	if len(r.Then.Body) > 0 {
		if utf8.Valid(r.Then.Body) {
			spec.Then.Body = string(r.Then.Body)
		} else {
			spec.Then.BodyBase64 = base64.StdEncoding.EncodeToString(r.Then.Body)
		}
	}
	return spec, nil
}
