// Package rule defines the request matcher primitives, the immutable rule
// model, and the fluent builder used to construct rules.
package rule

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/ohler55/ojg/jp"
)

// Target identifies the request attribute a matcher inspects.
type Target string

// Matcher targets.
const (
	TargetMethod   Target = "method"
	TargetScheme   Target = "scheme"
	TargetHost     Target = "host"
	TargetPort     Target = "port"
	TargetPath     Target = "path"
	TargetQuery    Target = "query"
	TargetHeader   Target = "header"
	TargetCookie   Target = "cookie"
	TargetBody     Target = "body"
	TargetForm     Target = "form"
	TargetJSONPath Target = "jsonpath"
	TargetExpr     Target = "expr"
	TargetRequest  Target = "request"
)

// Op is a matcher operator.
type Op string

// Matcher operators. The negated forms hold over every value of a
// multi-valued attribute; the positive forms hold if any value satisfies
// them. Missing attributes satisfy the negated forms vacuously.
const (
	OpEquals    Op = "equals"
	OpNotEquals Op = "not-equals"
	OpContains  Op = "contains"
	OpExcludes  Op = "excludes"
	OpPrefix    Op = "prefix"
	OpNotPrefix Op = "not-prefix"
	OpSuffix    Op = "suffix"
	OpNotSuffix Op = "not-suffix"
	OpMatches   Op = "matches"
	OpExists    Op = "exists"
	OpMissing   Op = "missing"
	OpCount     Op = "count"
	OpEval      Op = "eval"
	OpCustom    Op = "custom"
)

// Cmp compares the cardinality produced by a count matcher.
type Cmp string

// Count comparisons.
const (
	CmpExactly Cmp = "exactly"
	CmpAtLeast Cmp = "at-least"
	CmpAtMost  Cmp = "at-most"
)

// Matcher is a single predicate over one request attribute. Matchers are
// immutable after Build and safe for concurrent use. A matcher with
// Transmissible=false (custom predicates) cannot be sent to a remote server.
type Matcher struct {
	Target Target
	// Key names the attribute for keyed targets (header, query, cookie,
	// form) and holds the source expression for jsonpath and expr targets.
	Key   string
	Op    Op
	Value string
	// Expected is the comparison value for jsonpath equality, preserving
	// JSON types (numbers, booleans) that Value cannot carry.
	Expected any
	// CountOp is the base predicate a count matcher applies per value.
	// Empty means every value counts.
	CountOp       Op
	Cmp           Cmp
	N             int
	Transmissible bool

	pattern   *regexp.Regexp
	jsonPath  jp.Expr
	program   *vm.Program
	predicate func(*RequestView) bool
}

// compile validates the matcher and prepares its compiled forms. Called by
// Build; returns a ConfigurationError on malformed input.
func (m *Matcher) compile() error {
	switch m.Target {
	case TargetJSONPath:
		x, err := jp.ParseString(m.Key)
		if err != nil {
			return configErr(fmt.Sprintf("jsonpath %q", m.Key), err)
		}
		m.jsonPath = x
	case TargetExpr:
		prog, err := expr.Compile(m.Key, expr.AsBool(), expr.AllowUndefinedVariables())
		if err != nil {
			return configErr(fmt.Sprintf("expression %q", m.Key), err)
		}
		m.program = prog
	case TargetRequest:
		if m.Op != OpCustom || m.predicate == nil {
			return configErrf("request target requires a custom predicate")
		}
	case TargetHeader, TargetQuery, TargetCookie, TargetForm:
		if m.Key == "" {
			return configErrf("%s matcher requires an attribute name", m.Target)
		}
	}

	if m.Op == OpMatches || (m.Op == OpCount && m.CountOp == OpMatches) {
		re, err := regexp.Compile(m.Value)
		if err != nil {
			return configErr(fmt.Sprintf("pattern %q", m.Value), err)
		}
		m.pattern = re
	}

	if m.Op == OpCount {
		switch m.Cmp {
		case CmpExactly, CmpAtLeast, CmpAtMost:
		case "":
			m.Cmp = CmpExactly
		default:
			return configErrf("unknown count comparison %q", m.Cmp)
		}
		if m.N < 0 {
			return configErrf("count matcher requires a non-negative cardinality")
		}
	}
	return nil
}

// Matches reports whether the request satisfies this matcher.
func (m *Matcher) Matches(v *RequestView) bool {
	switch {
	case m.Op == OpCustom:
		return m.predicate != nil && m.predicate(v)
	case m.Target == TargetExpr:
		out, err := expr.Run(m.program, v.ExprEnv())
		if err != nil {
			return false
		}
		b, _ := out.(bool)
		return b
	case m.Target == TargetJSONPath:
		return m.matchJSONPath(v)
	}

	values := m.values(v)
	switch m.Op {
	case OpExists:
		return len(values) > 0
	case OpMissing:
		return len(values) == 0
	case OpCount:
		n := 0
		for _, s := range values {
			if m.baseHolds(m.CountOp, s) {
				n++
			}
		}
		return compareCount(m.Cmp, n, m.N)
	case OpEquals, OpContains, OpPrefix, OpSuffix, OpMatches:
		for _, s := range values {
			if m.baseHolds(m.Op, s) {
				return true
			}
		}
		return false
	case OpNotEquals, OpExcludes, OpNotPrefix, OpNotSuffix:
		for _, s := range values {
			if m.baseHolds(positive(m.Op), s) {
				return false
			}
		}
		return true
	}
	return false
}

func (m *Matcher) matchJSONPath(v *RequestView) bool {
	doc, ok := v.JSON()
	var results []any
	if ok {
		results = m.jsonPath.Get(doc)
	}
	switch m.Op {
	case OpExists:
		return len(results) > 0
	case OpMissing:
		return len(results) == 0
	case OpEquals:
		for _, r := range results {
			if jsonValueEqual(r, m.Expected) {
				return true
			}
		}
		return false
	case OpContains, OpMatches, OpPrefix, OpSuffix:
		for _, r := range results {
			if m.baseHolds(m.Op, fmt.Sprint(r)) {
				return true
			}
		}
		return false
	}
	return false
}

// baseHolds applies a positive base operator to one observed value.
func (m *Matcher) baseHolds(op Op, s string) bool {
	switch op {
	case "":
		return true
	case OpEquals:
		return s == m.Value
	case OpContains:
		return strings.Contains(s, m.Value)
	case OpPrefix:
		return strings.HasPrefix(s, m.Value)
	case OpSuffix:
		return strings.HasSuffix(s, m.Value)
	case OpMatches:
		return m.pattern != nil && m.pattern.MatchString(s)
	}
	return false
}

// positive maps a negated operator to its base form.
func positive(op Op) Op {
	switch op {
	case OpNotEquals:
		return OpEquals
	case OpExcludes:
		return OpContains
	case OpNotPrefix:
		return OpPrefix
	case OpNotSuffix:
		return OpSuffix
	}
	return op
}

func compareCount(cmp Cmp, got, want int) bool {
	switch cmp {
	case CmpAtLeast:
		return got >= want
	case CmpAtMost:
		return got <= want
	default:
		return got == want
	}
}

// values extracts the observed values of the matcher's attribute. Keyed
// targets may yield zero or many values; simple targets yield exactly one.
func (m *Matcher) values(v *RequestView) []string {
	switch m.Target {
	case TargetMethod:
		return []string{v.Method}
	case TargetScheme:
		return []string{v.Scheme}
	case TargetHost:
		return []string{v.Host}
	case TargetPort:
		return []string{strconv.Itoa(v.Port)}
	case TargetPath:
		return []string{v.Path}
	case TargetBody:
		return []string{string(v.Body)}
	case TargetQuery:
		return v.Query[m.Key]
	case TargetHeader:
		return v.Headers.Values(m.Key)
	case TargetCookie:
		return v.CookieValues(m.Key)
	case TargetForm:
		return v.Form()[m.Key]
	}
	return nil
}

// ObservedValues returns what the matcher saw in a request, for diagnostics.
// Predicate matchers (expr, custom) have no observable attribute and return
// nil.
func (m *Matcher) ObservedValues(v *RequestView) []string {
	switch m.Target {
	case TargetExpr, TargetRequest:
		return nil
	case TargetJSONPath:
		doc, ok := v.JSON()
		if !ok {
			return nil
		}
		var out []string
		for _, r := range m.jsonPath.Get(doc) {
			out = append(out, fmt.Sprint(r))
		}
		return out
	}
	return m.values(v)
}

// Attribute names the request attribute this matcher inspects, e.g.
// "header[X-Api-Key]".
func (m *Matcher) Attribute() string {
	switch m.Target {
	case TargetHeader, TargetQuery, TargetCookie, TargetForm, TargetJSONPath:
		return fmt.Sprintf("%s[%s]", m.Target, m.Key)
	case TargetExpr:
		return "expression"
	case TargetRequest:
		return "request"
	}
	return string(m.Target)
}

// Describe renders the matcher as a human-readable expectation.
func (m *Matcher) Describe() string {
	switch m.Op {
	case OpExists:
		return m.Attribute() + " exists"
	case OpMissing:
		return m.Attribute() + " is missing"
	case OpCustom:
		return "custom predicate"
	case OpEval:
		return fmt.Sprintf("expression %q", m.Key)
	case OpCount:
		if m.CountOp == "" {
			return fmt.Sprintf("%s has %s %d value(s)", m.Attribute(), m.Cmp, m.N)
		}
		return fmt.Sprintf("%s has %s %d value(s) where %s %q",
			m.Attribute(), m.Cmp, m.N, opPhrase(m.CountOp), m.Value)
	}
	if m.Target == TargetJSONPath && m.Op == OpEquals {
		return fmt.Sprintf("%s equals %v", m.Attribute(), m.Expected)
	}
	return fmt.Sprintf("%s %s %q", m.Attribute(), opPhrase(m.Op), m.Value)
}

func opPhrase(op Op) string {
	switch op {
	case OpEquals:
		return "equals"
	case OpNotEquals:
		return "does not equal"
	case OpContains:
		return "contains"
	case OpExcludes:
		return "does not contain"
	case OpPrefix:
		return "starts with"
	case OpNotPrefix:
		return "does not start with"
	case OpSuffix:
		return "ends with"
	case OpNotSuffix:
		return "does not end with"
	case OpMatches:
		return "matches"
	}
	return string(op)
}

// jsonValueEqual compares two JSON values, treating all numeric types as
// equivalent.
func jsonValueEqual(a, b any) bool {
	if af, ok := toFloat(a); ok {
		bf, ok := toFloat(b)
		return ok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
