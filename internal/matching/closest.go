// Package matching explains why a rule failed to match, by replaying the
// request history against the rule's matchers and reporting the closest
// candidate.
package matching

import (
	"fmt"
	"strings"

	"github.com/alexliesenfeld/httpmock/pkg/history"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

// FieldResult is one matcher's outcome against one recorded request.
type FieldResult struct {
	Expectation string   `json:"expectation"`
	Matched     bool     `json:"matched"`
	Observed    []string `json:"observed,omitempty"`
}

// Candidate is the recorded request that satisfied the most matchers of an
// unmatched rule.
type Candidate struct {
	RecordID  string        `json:"record_id"`
	Method    string        `json:"method"`
	Path      string        `json:"path"`
	Satisfied int           `json:"satisfied"`
	Total     int           `json:"total"`
	Fields    []FieldResult `json:"fields"`
}

// Report explains a rule's match outcome over the request history.
type Report struct {
	RuleID   string `json:"rule_id"`
	RuleName string `json:"rule_name,omitempty"`
	// Observed is the number of recorded requests considered.
	Observed int `json:"observed"`
	// Closest is nil when the history is empty.
	Closest *Candidate `json:"closest,omitempty"`
	// ObservedValues lists, per attribute whose matcher failed on the
	// closest candidate, every value seen for it across the whole history.
	ObservedValues map[string][]string `json:"observed_values,omitempty"`
}

// Explain scores every recorded request by the number of matchers of r it
// satisfies individually and reports the best one. Ties are broken in favor
// of the most recent request. An empty history yields a report with a nil
// Closest.
func Explain(r *rule.Rule, records []*history.Record) *Report {
	rep := &Report{RuleID: r.ID, RuleName: r.Name, Observed: len(records)}
	if len(records) == 0 {
		return rep
	}

	views := make([]*rule.RequestView, len(records))
	for i, rec := range records {
		views[i] = rec.View()
	}

	var best *Candidate
	for i, rec := range records {
		cand := evaluate(r, rec, views[i])
		// >= favors later, i.e. more recent, requests on equal scores.
		if best == nil || cand.Satisfied >= best.Satisfied {
			best = cand
		}
	}
	rep.Closest = best

	failed := make(map[string]bool)
	for i, fr := range best.Fields {
		if !fr.Matched {
			failed[r.When[i].Attribute()] = true
		}
	}
	if len(failed) > 0 {
		rep.ObservedValues = make(map[string][]string)
		for _, m := range r.When {
			attr := m.Attribute()
			if !failed[attr] {
				continue
			}
			if _, done := rep.ObservedValues[attr]; done {
				continue
			}
			rep.ObservedValues[attr] = collectObserved(m, views)
		}
	}
	return rep
}

func evaluate(r *rule.Rule, rec *history.Record, v *rule.RequestView) *Candidate {
	cand := &Candidate{
		RecordID: rec.ID,
		Method:   rec.Method,
		Path:     rec.Path,
		Total:    len(r.When),
	}
	for _, m := range r.When {
		fr := FieldResult{Expectation: m.Describe(), Matched: m.Matches(v)}
		if fr.Matched {
			cand.Satisfied++
		} else {
			fr.Observed = m.ObservedValues(v)
		}
		cand.Fields = append(cand.Fields, fr)
	}
	return cand
}

// collectObserved gathers the distinct values one matcher's attribute took
// across the history, oldest first.
func collectObserved(m *rule.Matcher, views []*rule.RequestView) []string {
	var out []string
	seen := make(map[string]bool)
	for _, v := range views {
		for _, val := range m.ObservedValues(v) {
			if !seen[val] {
				seen[val] = true
				out = append(out, val)
			}
		}
	}
	return out
}

// String renders the report in the form used by assertion failures.
func (rep *Report) String() string {
	var sb strings.Builder

	name := rep.RuleID
	if rep.RuleName != "" {
		name = fmt.Sprintf("%s (%s)", rep.RuleName, rep.RuleID)
	}

	if rep.Closest == nil {
		fmt.Fprintf(&sb, "rule %s did not match: no requests were received\n", name)
		return sb.String()
	}

	fmt.Fprintf(&sb, "rule %s: closest of %d recorded request(s) was %s %s, satisfying %d of %d matcher(s)\n",
		name, rep.Observed, rep.Closest.Method, rep.Closest.Path, rep.Closest.Satisfied, rep.Closest.Total)
	for _, fr := range rep.Closest.Fields {
		if fr.Matched {
			fmt.Fprintf(&sb, "  [ok]   %s\n", fr.Expectation)
			continue
		}
		if len(fr.Observed) > 0 {
			fmt.Fprintf(&sb, "  [fail] %s, observed %s\n", fr.Expectation, quoteAll(fr.Observed))
		} else {
			fmt.Fprintf(&sb, "  [fail] %s, attribute absent\n", fr.Expectation)
		}
	}
	for attr, vals := range rep.ObservedValues {
		fmt.Fprintf(&sb, "  values seen for %s across history: %s\n", attr, quoteAll(vals))
	}
	return sb.String()
}

func quoteAll(vals []string) string {
	if len(vals) == 0 {
		return "(none)"
	}
	quoted := make([]string, len(vals))
	for i, v := range vals {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return strings.Join(quoted, ", ")
}
