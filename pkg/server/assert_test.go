package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

func TestVerifyCalled(t *testing.T) {
	c := New()
	id, err := c.Install(rule.NewBuilder().Method("GET").Path("/test").Header("X-Api-Key", "A"))
	require.NoError(t, err)

	assert.NoError(t, c.VerifyCalled(id, 0))

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Api-Key", "A")
	c.ServeHTTP(httptest.NewRecorder(), req)

	assert.NoError(t, c.VerifyCalled(id, 1))
	assert.Error(t, c.VerifyCalled(id, 2))
}

func TestVerifyCalledExplainsFailure(t *testing.T) {
	c := New()
	id, err := c.Install(rule.NewBuilder().Method("GET").Path("/test").Header("X-Api-Key", "A"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Api-Key", "B")
	c.ServeHTTP(httptest.NewRecorder(), req)

	err = c.VerifyCalled(id, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matched 0")
	assert.Contains(t, err.Error(), `[fail] header[X-Api-Key] equals "A"`)
	assert.Contains(t, err.Error(), `"B"`)
}

func TestVerifyCalledEmptyHistory(t *testing.T) {
	c := New()
	id, err := c.Install(rule.NewBuilder().Method("GET"))
	require.NoError(t, err)

	err = c.VerifyCalled(id, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no requests were received")
}

func TestVerifyCalledUnknownRule(t *testing.T) {
	c := New()
	assert.Error(t, c.VerifyCalled("missing", 1))
}

func TestAssertHelpers(t *testing.T) {
	c := New()
	id, err := c.Install(rule.NewBuilder().Path("/a"))
	require.NoError(t, err)

	c.AssertNotCalled(t, id)
	c.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))
	c.AssertCalled(t, id)
	c.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/a", nil))
	c.AssertCalledTimes(t, id, 2)
}
