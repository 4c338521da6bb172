package httpmock_test

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

func TestSearchEndpoint(t *testing.T) {
	srv := httpmock.NewServer(t)

	id, err := srv.Core().Install(rule.NewBuilder().
		Method("GET").
		Path("/search").
		Query("q", "metallica").
		WithStatus(http.StatusNoContent))
	require.NoError(t, err)

	resp, err := http.Get(srv.URL() + "/search?q=metallica")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL() + "/search?q=slayer")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	srv.Core().AssertCalled(t, id)
	assert.Equal(t, 2, srv.Core().History().Len())
}

func TestJSONEcho(t *testing.T) {
	srv := httpmock.NewServer(t)

	_, err := srv.Core().Install(rule.NewBuilder().
		Method("POST").
		Path("/users").
		JSONPath("$.name", "Hans").
		WithStatus(http.StatusCreated).
		WithJSON(map[string]any{"id": 1, "name": "Hans"}))
	require.NoError(t, err)

	resp, err := http.Post(srv.URL()+"/users", "application/json",
		strings.NewReader(`{"name":"Hans"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"Hans"}`, string(body))
}

func TestParallelServersAreIsolated(t *testing.T) {
	for _, answer := range []string{"one", "two", "three"} {
		answer := answer
		t.Run(answer, func(t *testing.T) {
			t.Parallel()
			srv := httpmock.NewServer(t)

			_, err := srv.Core().Install(rule.NewBuilder().Path("/answer").WithBody(answer))
			require.NoError(t, err)

			resp, err := http.Get(srv.URL() + "/answer")
			require.NoError(t, err)
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, answer, string(body))
		})
	}
}
