package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexliesenfeld/httpmock/pkg/config"
)

func TestNewStandaloneLoadsMockFiles(t *testing.T) {
	dir := t.TempDir()
	content := `
- name: ping
  when:
    - target: path
      op: equals
      value: /ping
  then:
    status: 200
    body: pong
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ping.yaml"), []byte(content), 0o644))

	cfg := config.Default()
	cfg.MockFilesDir = dir
	cfg.LogLevel = "error"

	s, err := NewStandalone(cfg)
	require.NoError(t, err)
	require.Equal(t, 1, s.Core().Registry().Len())

	w := do(s.Core(), "GET", "/ping", "")
	assert.Equal(t, 200, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestNewStandaloneRejectsBadMockFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`{{{`), 0o644))

	cfg := config.Default()
	cfg.MockFilesDir = dir

	_, err := NewStandalone(cfg)
	assert.Error(t, err)
}
