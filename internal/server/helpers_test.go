package server

import (
	"bytes"
	"context"
	"errors"
	"image"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/undistort/internal/calibration"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/testutil"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// newTestServer returns a server around a real pipeline for rec.
func newTestServer(t *testing.T, rec *calibration.Record) *Server {
	t.Helper()
	pl, err := pipeline.NewBuilder().WithCalibration(rec).WithWorkers(1).Build()
	require.NoError(t, err)
	return NewServerWithPipeline(pl, Config{CORSOrigin: "*", MaxUploadMB: 1, TimeoutSec: 5})
}

func newIdentityServer(t *testing.T) *Server {
	t.Helper()
	return newTestServer(t, testutil.IdentityCalibration(16, 16))
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, utils.EncodePNG(&buf, img))
	return buf.Bytes()
}

type filePart struct {
	name string
	data []byte
}

// multipartRequest builds a POST with the given form fields and files.
func multipartRequest(t *testing.T, target string, fields map[string]string, files map[string]filePart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, f := range files {
		fw, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = fw.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// failingRectifier wraps a real pipeline but fails every frame.
type failingRectifier struct {
	*pipeline.Pipeline
	err error
}

func (f failingRectifier) ProcessImageContext(context.Context, image.Image) (image.Image, *pipeline.FrameResult, error) {
	return nil, nil, f.err
}

func newFailingServer(t *testing.T) *Server {
	t.Helper()
	pl, err := pipeline.NewBuilder().WithCalibration(testutil.IdentityCalibration(8, 8)).Build()
	require.NoError(t, err)
	var r rectifier = failingRectifier{Pipeline: pl, err: errors.New("kernel exploded")}
	return NewServerWithPipeline(r, Config{MaxUploadMB: 1})
}

var _ rectifier = (*pipeline.Pipeline)(nil)
