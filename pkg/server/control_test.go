package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock/pkg/api"
	"github.com/alexliesenfeld/httpmock/pkg/history"
	"github.com/alexliesenfeld/httpmock/pkg/rule"
)

func controlServer(t *testing.T) (*Core, *httptest.Server) {
	t.Helper()
	c := New()
	ts := httptest.NewServer(c)
	t.Cleanup(ts.Close)
	return c, ts
}

func postRule(t *testing.T, baseURL string, spec api.RuleSpec) *http.Response {
	t.Helper()
	body, err := json.Marshal(spec)
	require.NoError(t, err)
	resp, err := http.Post(baseURL+ControlPrefix+"/rules", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestControlCreateAndServeRule(t *testing.T) {
	_, ts := controlServer(t)

	resp := postRule(t, ts.URL, api.RuleSpec{
		When: []api.MatcherSpec{
			{Target: "method", Op: "equals", Value: "GET"},
			{Target: "path", Op: "equals", Value: "/remote"},
		},
		Then: api.ResponseSpec{Status: 202, Body: "remote rule"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]string
	decode(t, resp, &created)
	require.NotEmpty(t, created["id"])

	got, err := http.Get(ts.URL + "/remote")
	require.NoError(t, err)
	defer got.Body.Close()
	assert.Equal(t, 202, got.StatusCode)

	// Hit counter is visible through the control API.
	hitsResp, err := http.Get(fmt.Sprintf("%s%s/rules/%s/hits", ts.URL, ControlPrefix, created["id"]))
	require.NoError(t, err)
	defer hitsResp.Body.Close()
	var hits map[string]any
	decode(t, hitsResp, &hits)
	assert.EqualValues(t, 1, hits["hits"])
}

func TestControlRejectsInvalidRules(t *testing.T) {
	_, ts := controlServer(t)

	tests := []struct {
		name string
		spec api.RuleSpec
	}{
		{"custom predicate", api.RuleSpec{When: []api.MatcherSpec{{Target: "request", Op: "custom"}}}},
		{"bad regex", api.RuleSpec{When: []api.MatcherSpec{{Target: "path", Op: "matches", Value: "[x"}}}},
		{"unknown target", api.RuleSpec{When: []api.MatcherSpec{{Target: "frame", Op: "equals"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRule(t, ts.URL, tt.spec)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestControlDuplicateRuleID(t *testing.T) {
	_, ts := controlServer(t)

	spec := api.RuleSpec{
		ID:   "fixed",
		When: []api.MatcherSpec{{Target: "path", Op: "equals", Value: "/x"}},
	}
	resp := postRule(t, ts.URL, spec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = postRule(t, ts.URL, spec)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestControlListGetDelete(t *testing.T) {
	c, ts := controlServer(t)

	id, err := c.Install(rule.NewBuilder().Path("/a").WithStatus(204))
	require.NoError(t, err)

	listResp, err := http.Get(ts.URL + ControlPrefix + "/rules")
	require.NoError(t, err)
	defer listResp.Body.Close()
	var specs []api.RuleSpec
	decode(t, listResp, &specs)
	require.Len(t, specs, 1)
	assert.Equal(t, id, specs[0].ID)

	getResp, err := http.Get(ts.URL + ControlPrefix + "/rules/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusOK, getResp.StatusCode)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+ControlPrefix+"/rules/"+id, nil)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	getResp, err = http.Get(ts.URL + ControlPrefix + "/rules/" + id)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, getResp.StatusCode)
}

func TestControlHistoryEndpoints(t *testing.T) {
	c, ts := controlServer(t)

	resp, err := http.Get(ts.URL + "/anything")
	require.NoError(t, err)
	resp.Body.Close()

	histResp, err := http.Get(ts.URL + ControlPrefix + "/history")
	require.NoError(t, err)
	defer histResp.Body.Close()
	var records []history.Record
	decode(t, histResp, &records)
	require.Len(t, records, 1)
	assert.Equal(t, "/anything", records[0].Path)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+ControlPrefix+"/history", nil)
	clearResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	clearResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, clearResp.StatusCode)
	assert.Zero(t, c.History().Len())
}

func TestControlClosestReport(t *testing.T) {
	c, ts := controlServer(t)

	id, err := c.Install(rule.NewBuilder().Method("GET").Path("/test").Header("X-Api-Key", "A"))
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/test", nil)
	req.Header.Set("X-Api-Key", "B")
	c.ServeHTTP(httptest.NewRecorder(), req)

	resp, err := http.Get(ts.URL + ControlPrefix + "/rules/" + id + "/closest")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report struct {
		Observed int `json:"observed"`
		Closest  *struct {
			Satisfied int `json:"satisfied"`
			Total     int `json:"total"`
		} `json:"closest"`
	}
	decode(t, resp, &report)
	require.NotNil(t, report.Closest)
	assert.Equal(t, 2, report.Closest.Satisfied)
	assert.Equal(t, 3, report.Closest.Total)
}

func TestControlReset(t *testing.T) {
	c, ts := controlServer(t)

	_, err := c.Install(rule.NewBuilder().Path("/a"))
	require.NoError(t, err)
	resp, err := http.Get(ts.URL + "/a")
	require.NoError(t, err)
	resp.Body.Close()

	resetResp, err := http.Post(ts.URL+ControlPrefix+"/reset", "", nil)
	require.NoError(t, err)
	resetResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resetResp.StatusCode)

	assert.Zero(t, c.Registry().Len())
	assert.Zero(t, c.History().Len())
}
