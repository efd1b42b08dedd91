package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "headless", cfg.LinkSettings.Mechanism)
	assert.Equal(t, []int{403}, cfg.LinkSettings.IgnoreStatuses)
	assert.Equal(t, 2, cfg.LinkSettings.Workers)
	assert.Equal(t, 20*time.Second, cfg.DomSettings.Wait)
	assert.Equal(t, 5, cfg.DomSettings.Number)
	assert.Equal(t, "file", cfg.HandoffSettings.Backend)
	assert.Equal(t, 3*time.Second, cfg.PerfSettings.PollInterval)
	assert.Equal(t, 2, cfg.PerfSettings.MaxWorkers)
	require.Contains(t, cfg.EbrainsSettings.Circuits, "ca1")
	assert.Equal(t, "slice69", cfg.EbrainsSettings.Circuits["ca1"].Population)
	assert.True(t, cfg.BrowserSettings.Headless)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
log_level: debug
link_check:
  mechanism: curl
  ignore_statuses: [403, 401]
dom_check:
  wait: 45s
mooc:
  login: from-file
`), 0644))
	t.Setenv("EDX_LOGIN", "from-env")
	t.Setenv("EDX_PW", "secret")
	t.Setenv("CI_PIPELINE_ID", "4242")
	t.Setenv("SLACK_OK_URL", "https://hooks.example/ok")

	cfg, err := Load(file)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "curl", cfg.LinkSettings.Mechanism)
	assert.Equal(t, []int{403, 401}, cfg.LinkSettings.IgnoreStatuses)
	assert.Equal(t, 45*time.Second, cfg.DomSettings.Wait)
	assert.Equal(t, "from-env", cfg.MoocSettings.Login)
	assert.Equal(t, "secret", cfg.MoocSettings.Password)
	assert.Equal(t, "4242", cfg.RunID)
	assert.Equal(t, "https://hooks.example/ok", cfg.SlackSettings.OkURL)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
