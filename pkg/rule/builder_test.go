package rule

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDefaults(t *testing.T) {
	r, err := NewBuilder().Method("GET").Build()
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, r.Then.Status)
	assert.Empty(t, r.Then.Body)
	assert.Empty(t, r.Then.Headers)
	assert.Zero(t, r.Then.Delay)
}

func TestBuilderInvalidRegex(t *testing.T) {
	_, err := NewBuilder().PathMatches(`[invalid`).Build()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuilderInvalidJSONPath(t *testing.T) {
	_, err := NewBuilder().JSONPathExists(`$[`).Build()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuilderInvalidExpression(t *testing.T) {
	_, err := NewBuilder().Expr(`method ==`).Build()
	require.Error(t, err)

	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestBuilderFirstErrorWins(t *testing.T) {
	b := NewBuilder().Custom(nil).Port(-1).Method("GET")
	_, err := b.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "custom matcher requires a predicate")
}

func TestBuilderValidation(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{"port out of range", NewBuilder().Port(70000)},
		{"negative delay", NewBuilder().Method("GET").WithDelay(-time.Second)},
		{"status out of range", NewBuilder().Method("GET").WithStatus(99)},
		{"nil matcher", NewBuilder().Where(nil)},
		{"unknown count comparison", NewBuilder().HeaderCount("Accept", "", Cmp("around"), 1)},
		{"negative count", NewBuilder().HeaderCount("Accept", "", CmpExactly, -1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder.Build()
			assert.Error(t, err)
		})
	}
}

func TestBuilderDuplicateHeadersKeepOrder(t *testing.T) {
	r, err := NewBuilder().
		Method("GET").
		WithStatus(200).
		WithHeader("Set-Cookie", "a=1").
		WithHeader("Set-Cookie", "b=2").
		WithHeader("X-Other", "x").
		Build()
	require.NoError(t, err)

	want := []HeaderPair{
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "Set-Cookie", Value: "b=2"},
		{Name: "X-Other", Value: "x"},
	}
	assert.Equal(t, want, r.Then.Headers)
}

func TestBuilderWithJSON(t *testing.T) {
	r, err := NewBuilder().Method("GET").WithJSON(map[string]int{"count": 3}).Build()
	require.NoError(t, err)

	assert.JSONEq(t, `{"count":3}`, string(r.Then.Body))
	require.Len(t, r.Then.Headers, 1)
	assert.Equal(t, "Content-Type", r.Then.Headers[0].Name)
	assert.Equal(t, "application/json", r.Then.Headers[0].Value)
}

func TestBuilderWithName(t *testing.T) {
	r, err := NewBuilder().WithName("github fallback").Method("GET").Build()
	require.NoError(t, err)
	assert.Equal(t, "github fallback", r.Name)
}
