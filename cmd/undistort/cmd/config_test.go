package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/undistort/internal/config"
)

func TestConfigInit(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "conf", "generated.yaml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))

	output, _, err := executeCommandAndCaptureOutput(t, "config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "Configuration written to "+path, output)

	loaded, err := config.NewIsolatedLoader().LoadWithFile(path)
	require.NoError(t, err)
	defaults := config.DefaultConfig()
	assert.Equal(t, defaults.Server.Port, loaded.Server.Port)
	assert.Equal(t, defaults.Rectify.Channels, loaded.Rectify.Channels)
	assert.True(t, loaded.Calibration.Inverse)

	_, _, err = executeCommandAndCaptureOutput(t, "config", "init", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, _, err = executeCommandAndCaptureOutput(t, "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestConfigShow(t *testing.T) {
	isolate(t)
	t.Setenv("UNDISTORT_SERVER_PORT", "9123")

	output, _, err := executeCommandAndCaptureOutput(t, "config", "show", "--info")
	require.NoError(t, err)
	assert.Contains(t, output, "Environment prefix: UNDISTORT")

	idx := strings.Index(output, "log_level:")
	require.GreaterOrEqual(t, idx, 0)

	var shown config.Config
	require.NoError(t, yaml.Unmarshal([]byte(output[idx:]), &shown))
	assert.Equal(t, 9123, shown.Server.Port)
	assert.True(t, shown.Calibration.Inverse)
}
