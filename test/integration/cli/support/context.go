package support

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand    string
	LastOutput     string
	LastStderr     string
	LastError      error
	LastExitCode   int
	LastStartTime  time.Time
	LastDuration   time.Duration
	LastOutputFile string

	// Test environment
	TempDir         string
	CalibrationPath string
	EnvVars         map[string]string

	// Server management
	HTTPTestServer *HTTPTestServerWrapper

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   []byte
	LastHTTPHeaders    map[string]string
}

// NewTestContext creates a new test context with its own scratch directory.
func NewTestContext() (*TestContext, error) {
	tempDir, err := os.MkdirTemp("", "undistort-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	return &TestContext{
		TempDir:         tempDir,
		EnvVars:         map[string]string{},
		LastHTTPHeaders: map[string]string{},
	}, nil
}

// Cleanup stops the test server, restores the environment and removes the
// scratch directory.
func (testCtx *TestContext) Cleanup() error {
	var errs []error

	if testCtx.HTTPTestServer != nil {
		testCtx.stopTestHTTPServer()
	}

	for name := range testCtx.EnvVars {
		if err := os.Unsetenv(name); err != nil {
			errs = append(errs, fmt.Errorf("failed to unset %s: %w", name, err))
		}
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// SetEnvVar sets an environment variable for the rest of the scenario.
func (testCtx *TestContext) SetEnvVar(name, value string) error {
	testCtx.EnvVars[name] = value
	return os.Setenv(name, value)
}

// Path resolves a scenario-relative path inside the scratch directory.
func (testCtx *TestContext) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(testCtx.TempDir, name)
}

// substituteCommandVariables expands ${TMP} and ${CALIBRATION} in a step argument.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	command = strings.ReplaceAll(command, "${TMP}", testCtx.TempDir)
	return strings.ReplaceAll(command, "${CALIBRATION}", testCtx.CalibrationPath)
}
