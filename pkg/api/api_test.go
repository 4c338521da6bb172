package api

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

func TestRuleSpecBuild(t *testing.T) {
	spec := &RuleSpec{
		ID: "r1",
		When: []MatcherSpec{
			{Target: "method", Op: "equals", Value: "GET"},
			{Target: "path", Op: "prefix", Value: "/api/"},
			{Target: "query", Key: "q", Op: "equals", Value: "metallica"},
		},
		Then: ResponseSpec{
			Status:  204,
			Headers: []HeaderSpec{{Name: "X-A", Value: "1"}, {Name: "X-A", Value: "2"}},
			Body:    "done",
			DelayMs: 250,
		},
	}

	r, err := spec.Build()
	require.NoError(t, err)

	assert.Equal(t, "r1", r.ID)
	assert.Equal(t, 204, r.Then.Status)
	assert.Equal(t, []byte("done"), r.Then.Body)
	assert.Equal(t, 250*time.Millisecond, r.Then.Delay)
	require.Len(t, r.Then.Headers, 2)

	v := rule.ViewFromRequest(httptest.NewRequest("GET", "/api/search?q=metallica", nil), nil)
	assert.True(t, r.Matches(v))

	v = rule.ViewFromRequest(httptest.NewRequest("GET", "/api/search?q=slayer", nil), nil)
	assert.False(t, r.Matches(v))
}

func TestRuleSpecBuildRejectsCustom(t *testing.T) {
	spec := &RuleSpec{When: []MatcherSpec{{Target: "request", Op: "custom"}}}
	_, err := spec.Build()
	assert.ErrorIs(t, err, rule.ErrNotTransmissible)
}

func TestRuleSpecBuildRejectsUnknown(t *testing.T) {
	tests := []struct {
		name string
		spec *RuleSpec
	}{
		{"unknown target", &RuleSpec{When: []MatcherSpec{{Target: "trailer", Op: "equals"}}}},
		{"unknown op", &RuleSpec{When: []MatcherSpec{{Target: "path", Op: "resembles"}}}},
		{"invalid regex", &RuleSpec{When: []MatcherSpec{{Target: "path", Op: "matches", Value: "[oops"}}}},
		{"bad base64 body", &RuleSpec{
			When: []MatcherSpec{{Target: "method", Op: "equals", Value: "GET"}},
			Then: ResponseSpec{BodyBase64: "!!!"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.spec.Build()
			require.Error(t, err)
			var cfgErr *rule.ConfigurationError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestFromRuleRoundTrip(t *testing.T) {
	orig, err := rule.NewBuilder().
		WithName("search").
		Method("GET").
		Path("/search").
		Header("X-Api-Key", "abc").
		WithStatus(200).
		WithHeader("Content-Type", "text/plain").
		WithBody("ok").
		WithDelay(100 * time.Millisecond).
		Build()
	require.NoError(t, err)
	orig.ID = "r1"

	spec, err := FromRule(orig)
	require.NoError(t, err)

	back, err := spec.Build()
	require.NoError(t, err)

	assert.Equal(t, orig.ID, back.ID)
	assert.Equal(t, orig.Name, back.Name)
	assert.Equal(t, orig.Then.Status, back.Then.Status)
	assert.Equal(t, orig.Then.Headers, back.Then.Headers)
	assert.Equal(t, orig.Then.Body, back.Then.Body)
	assert.Equal(t, orig.Then.Delay, back.Then.Delay)

	v := rule.ViewFromRequest(httptest.NewRequest("GET", "/search", nil), nil)
	v.Headers.Set("X-Api-Key", "abc")
	assert.True(t, back.Matches(v))
}

func TestFromRuleBinaryBody(t *testing.T) {
	binary := []byte{0xff, 0xfe, 0x00, 0x01}
	orig, err := rule.NewBuilder().Method("GET").WithBodyBytes(binary).Build()
	require.NoError(t, err)

	spec, err := FromRule(orig)
	require.NoError(t, err)
	assert.Empty(t, spec.Then.Body)
	assert.NotEmpty(t, spec.Then.BodyBase64)

	back, err := spec.Build()
	require.NoError(t, err)
	assert.Equal(t, binary, back.Then.Body)
}

func TestFromRuleRejectsPredicates(t *testing.T) {
	r, err := rule.NewBuilder().Custom(func(*rule.RequestView) bool { return true }).Build()
	require.NoError(t, err)

	_, err = FromRule(r)
	assert.ErrorIs(t, err, rule.ErrNotTransmissible)
}
