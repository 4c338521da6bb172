package rule

import "time"

// HeaderPair is one response header. Templates keep headers as an ordered
// slice so duplicates survive and emission order is deterministic.
type HeaderPair struct {
	Name  string
	Value string
}

// ResponseTemplate describes the response a rule produces when it matches.
type ResponseTemplate struct {
	Status  int
	Headers []HeaderPair
	Body    []byte
	Delay   time.Duration
}

// Rule pairs a conjunction of matchers with a response template. Rules are
// immutable once built; ID and Seq are assigned by the registry on
// installation.
type Rule struct {
	ID   string
	Name string
	Seq  int
	When []*Matcher
	Then *ResponseTemplate
}

// Matches reports whether the request satisfies every matcher of the rule.
// A rule with no matchers matches every request.
func (r *Rule) Matches(v *RequestView) bool {
	for _, m := range r.When {
		if !m.Matches(v) {
			return false
		}
	}
	return true
}

// Transmissible reports whether the rule can be serialized for a remote
// server. Rules carrying custom in-process predicates cannot.
func (r *Rule) Transmissible() bool {
	for _, m := range r.When {
		if !m.Transmissible {
			return false
		}
	}
	return true
}
