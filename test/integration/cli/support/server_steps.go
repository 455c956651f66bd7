package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/server"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
}

// startTestHTTPServer serves the rectification API for the scenario calibration.
func (testCtx *TestContext) startTestHTTPServer(rateLimit int) error {
	if testCtx.CalibrationPath == "" {
		return errors.New("no calibration written for this scenario")
	}

	pc := pipeline.DefaultConfig()
	pc.CalibrationFile = testCtx.CalibrationPath
	pc.Workers = 1

	cfg := server.Config{
		CORSOrigin:     "*",
		MaxUploadMB:    5,
		TimeoutSec:     10,
		PipelineConfig: pc,
	}
	if rateLimit > 0 {
		cfg.RateLimit = server.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: rateLimit,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 1000,
			MaxDataPerDay:     1 << 30,
		}
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(srv.Handler()),
		TestServer: srv,
	}
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() {
	if testCtx.HTTPTestServer != nil {
		testCtx.HTTPTestServer.Server.Close()
		testCtx.HTTPTestServer = nil
	}
}

func (testCtx *TestContext) theServerIsRunning() error {
	return testCtx.startTestHTTPServer(0)
}

func (testCtx *TestContext) theServerIsRunningWithRateLimit(perMinute int) error {
	return testCtx.startTestHTTPServer(perMinute)
}

// do sends req to the test server and records the response.
func (testCtx *TestContext) do(req *http.Request) error {
	resp, err := testCtx.HTTPTestServer.Server.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = body
	testCtx.LastHTTPHeaders = map[string]string{}
	for name := range resp.Header {
		testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)] = resp.Header.Get(name)
	}
	return nil
}

func (testCtx *TestContext) newRequest(method, path string, body io.Reader) (*http.Request, error) {
	if testCtx.HTTPTestServer == nil {
		return nil, errors.New("server is not running")
	}
	return http.NewRequest(method, testCtx.HTTPTestServer.Server.URL+path, body)
}

func (testCtx *TestContext) iSendARequestTo(method, path string) error {
	req, err := testCtx.newRequest(method, path, nil)
	if err != nil {
		return err
	}
	return testCtx.do(req)
}

// iUploadTo posts a file as the multipart "image" field.
func (testCtx *TestContext) iUploadTo(name, path string) error {
	data, err := os.ReadFile(testCtx.Path(name))
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", filepath.Base(name))
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := testCtx.newRequest(http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return testCtx.do(req)
}

func (testCtx *TestContext) iPostJSONTo(path string, body *godog.DocString) error {
	req, err := testCtx.newRequest(http.MethodPost, path, strings.NewReader(body.Content))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return testCtx.do(req)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !bytes.Contains(testCtx.LastHTTPResponse, []byte(text)) {
		return fmt.Errorf("response does not contain '%s': %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]
	if got != value {
		return fmt.Errorf("header %s is %q, want %q", name, got, value)
	}
	return nil
}

// theResponseFieldShouldBe compares the JSON encoding of a dotted field
// path in the response body with want.
func (testCtx *TestContext) theResponseFieldShouldBe(field, want string) error {
	var data map[string]any
	if err := json.Unmarshal(testCtx.LastHTTPResponse, &data); err != nil {
		return fmt.Errorf("response is not a JSON object: %w", err)
	}

	var current any = data
	for _, part := range strings.Split(field, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot navigate into %q", part)
		}
		if current, ok = obj[part]; !ok {
			return fmt.Errorf("field %q not found in %s", field, testCtx.LastHTTPResponse)
		}
	}

	got, err := json.Marshal(current)
	if err != nil {
		return err
	}
	if string(got) != want {
		return fmt.Errorf("field %s is %s, want %s", field, got, want)
	}
	return nil
}

// theResponseShouldBeAPNG decodes the body and checks its size.
func (testCtx *TestContext) theResponseShouldBeAPNG(width, height int) error {
	if ct := testCtx.LastHTTPHeaders["Content-Type"]; ct != "image/png" {
		return fmt.Errorf("content type is %q", ct)
	}
	img, _, err := utils.DecodeImageBytes(testCtx.LastHTTPResponse)
	if err != nil {
		return fmt.Errorf("response is not an image: %w", err)
	}
	if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
		return fmt.Errorf("image is %dx%d, want %dx%d", b.Dx(), b.Dy(), width, height)
	}
	return nil
}

// iSendRequestsTo fires n GET requests and keeps the last response.
func (testCtx *TestContext) iSendRequestsTo(n int, path string) error {
	for i := range n {
		if err := testCtx.iSendARequestTo(http.MethodGet, path); err != nil {
			return fmt.Errorf("request %d: %w", i+1, err)
		}
	}
	return nil
}

// RegisterServerSteps registers HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the rectification server is running$`, testCtx.theServerIsRunning)
	sc.Step(`^the rectification server is running with a limit of (\d+) requests per minute$`,
		testCtx.theServerIsRunningWithRateLimit)
	sc.Step(`^I send a (GET|POST|PUT|DELETE) request to "([^"]*)"$`, testCtx.iSendARequestTo)
	sc.Step(`^I send (\d+) requests to "([^"]*)"$`, testCtx.iSendRequestsTo)
	sc.Step(`^I upload "([^"]*)" to "([^"]*)"$`, testCtx.iUploadTo)
	sc.Step(`^I post JSON to "([^"]*)":$`, testCtx.iPostJSONTo)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response field "([^"]*)" should be (.+)$`, testCtx.theResponseFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the response should be a (\d+)x(\d+) PNG$`, testCtx.theResponseShouldBeAPNG)
}
