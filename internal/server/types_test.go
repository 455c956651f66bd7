package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/testutil"
)

func TestNewServer(t *testing.T) {
	t.Run("missing calibration", func(t *testing.T) {
		cfg := pipeline.DefaultConfig()
		cfg.CalibrationFile = filepath.Join(t.TempDir(), "missing.json")
		_, err := NewServer(Config{PipelineConfig: cfg})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "build pipeline")
	})

	t.Run("from file", func(t *testing.T) {
		cfg := pipeline.DefaultConfig()
		cfg.CalibrationFile = testutil.WriteCalibration(t, t.TempDir(), "lens.json", testutil.BarrelCalibration(32, 24, 4, 0.05))
		s, err := NewServer(Config{
			PipelineConfig: cfg,
			MaxUploadMB:    2,
			RateLimit:      RateLimitConfig{Enabled: true, RequestsPerMinute: 5},
		})
		require.NoError(t, err)
		assert.NotNil(t, s.rateLimiter)
		assert.Equal(t, int64(2*1024*1024), s.uploadLimit())
		assert.Equal(t, 4, len(s.pipeline.Calibration().InverseLookupTable))
	})
}

func TestServer_Routes(t *testing.T) {
	ts := httptest.NewServer(newIdentityServer(t).Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/calibration"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	}

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "undistort_http_requests_total")
}

func TestServer_UploadLimitDefault(t *testing.T) {
	assert.Equal(t, int64(50*1024*1024), (&Server{}).uploadLimit())
}
