package matching

import (
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock/pkg/history"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

var recordSeq int

func record(t *testing.T, method, target string, headers map[string]string) *history.Record {
	t.Helper()
	r := httptest.NewRequest(method, target, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := history.RecordFromView(rule.ViewFromRequest(r, nil), "")
	recordSeq++
	rec.ID = fmt.Sprintf("rec-%d", recordSeq)
	return rec
}

func mustRule(t *testing.T, b *rule.Builder) *rule.Rule {
	t.Helper()
	r, err := b.Build()
	require.NoError(t, err)
	r.ID = "r1"
	return r
}

func TestExplainEmptyHistory(t *testing.T) {
	r := mustRule(t, rule.NewBuilder().Method("GET").Path("/test"))

	rep := Explain(r, nil)
	assert.Zero(t, rep.Observed)
	assert.Nil(t, rep.Closest)
	assert.Contains(t, rep.String(), "no requests were received")
}

func TestExplainPicksHighestAgreement(t *testing.T) {
	r := mustRule(t, rule.NewBuilder().
		Method("GET").
		Path("/test").
		Header("X-Api-Key", "A"))

	records := []*history.Record{
		record(t, "GET", "/test", map[string]string{"X-Api-Key": "B"}),
		record(t, "GET", "/test", map[string]string{"X-Api-Key": "A-typo"}),
		record(t, "POST", "/unrelated", nil),
	}

	rep := Explain(r, records)
	require.NotNil(t, rep.Closest)
	assert.Equal(t, 3, rep.Observed)
	assert.Equal(t, 2, rep.Closest.Satisfied)
	assert.Equal(t, 3, rep.Closest.Total)

	// Both GET /test requests satisfy two matchers; the more recent one
	// wins the tie.
	assert.Equal(t, "/test", rep.Closest.Path)
	assert.Equal(t, records[1].ID, rep.Closest.RecordID)

	require.Len(t, rep.Closest.Fields, 3)
	assert.True(t, rep.Closest.Fields[0].Matched)
	assert.True(t, rep.Closest.Fields[1].Matched)
	assert.False(t, rep.Closest.Fields[2].Matched)
	assert.Equal(t, []string{"A-typo"}, rep.Closest.Fields[2].Observed)

	// Every value the failing attribute took across history is reported.
	assert.Equal(t, []string{"B", "A-typo"}, rep.ObservedValues["header[X-Api-Key]"])
}

func TestExplainFullMatchCandidate(t *testing.T) {
	r := mustRule(t, rule.NewBuilder().Method("GET").Path("/test"))

	records := []*history.Record{
		record(t, "POST", "/test", nil),
		record(t, "GET", "/test", nil),
	}

	rep := Explain(r, records)
	require.NotNil(t, rep.Closest)
	assert.Equal(t, 2, rep.Closest.Satisfied)
	assert.Empty(t, rep.ObservedValues)
}

func TestExplainAbsentAttribute(t *testing.T) {
	r := mustRule(t, rule.NewBuilder().Path("/test").Query("q", "x"))

	rep := Explain(r, []*history.Record{record(t, "GET", "/test", nil)})
	require.NotNil(t, rep.Closest)
	assert.False(t, rep.Closest.Fields[1].Matched)
	assert.Empty(t, rep.Closest.Fields[1].Observed)
	assert.Contains(t, rep.String(), "attribute absent")
}

func TestReportString(t *testing.T) {
	r := mustRule(t, rule.NewBuilder().Method("GET").Header("X-Api-Key", "A"))
	r.Name = "api key check"

	rep := Explain(r, []*history.Record{
		record(t, "GET", "/test", map[string]string{"X-Api-Key": "B"}),
	})

	out := rep.String()
	assert.Contains(t, out, "api key check")
	assert.Contains(t, out, `[ok]   method equals "GET"`)
	assert.Contains(t, out, `[fail] header[X-Api-Key] equals "A"`)
	assert.Contains(t, out, `"B"`)
}
