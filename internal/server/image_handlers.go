package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/undistort/internal/calibration"
	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

const (
	formatJSON = "json"
	formatPNG  = "png"
)

// RequestConfig holds per-request overrides of the server pipeline.
type RequestConfig struct {
	Inverse     *bool
	Channels    utils.ChannelMode
	Center      *[2]float64
	Calibration *calibration.Record
	Format      string
}

// isZero reports whether the request can use the server pipeline unchanged.
func (rc *RequestConfig) isZero() bool {
	return rc == nil || (rc.Inverse == nil && rc.Channels == "" && rc.Center == nil && rc.Calibration == nil)
}

// rectifyHandler rectifies one uploaded image.
func (s *Server) rectifyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	img, reqConfig, err := s.parseImageRequest(w, r)
	if err != nil {
		rectifyRequestsTotal.WithLabelValues("image", "error").Inc()
		return // error already written
	}

	pl, err := s.pipelineForRequest(reqConfig)
	if err != nil {
		rectifyRequestsTotal.WithLabelValues("image", "error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("Failed to create pipeline: %v", err), statusForError(err))
		return
	}

	ctx, cancel := s.requestContext(r.Context())
	defer cancel()

	start := time.Now()
	out, res, err := pl.ProcessImageContext(ctx, img)
	duration := time.Since(start)
	if err != nil {
		rectifyRequestsTotal.WithLabelValues("image", "error").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("Rectification failed: %v", err), statusForError(err))
		return
	}

	s.recordFrame("image", res, duration)
	s.writeImageResponse(w, reqConfig.Format, out, res)
}

// parseImageRequest reads the multipart upload and its options.
func (s *Server) parseImageRequest(w http.ResponseWriter, r *http.Request) (image.Image, *RequestConfig, error) {
	limit := s.uploadLimit()
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return nil, nil, err
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return nil, nil, err
	}
	defer func() { _ = file.Close() }()

	uploadSizeBytes.Observe(float64(header.Size))

	imageData, err := io.ReadAll(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return nil, nil, err
	}

	img, err := decodeUpload(imageData)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return nil, nil, err
	}

	reqConfig, err := parseRequestConfig(r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return nil, nil, err
	}

	return img, reqConfig, nil
}

// decodeUpload decodes an uploaded frame and checks its dimensions.
func decodeUpload(data []byte) (image.Image, error) {
	var procErr *utils.ImageProcessingError
	if err := utils.ValidateImageHeader(data, utils.DefaultImageConstraints()); err != nil {
		if errors.As(err, &procErr) && procErr.Operation == "decode" {
			return nil, errors.New("invalid image format")
		}
		return nil, err
	}
	img, _, err := utils.DecodeImageBytes(data)
	if err != nil {
		return nil, errors.New("invalid image format")
	}
	if err := utils.ValidateImageConstraints(img, utils.DefaultImageConstraints()); err != nil {
		return nil, err
	}
	return img, nil
}

// parseRequestConfig collects the optional form fields of a rectify request.
func parseRequestConfig(r *http.Request) (*RequestConfig, error) {
	rc := &RequestConfig{Format: formValue(r, "format")}
	switch rc.Format {
	case "", formatPNG, formatJSON:
	default:
		return nil, fmt.Errorf("unsupported format %q (expected png or json)", rc.Format)
	}

	if v := formValue(r, "inverse"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid inverse value %q", v)
		}
		rc.Inverse = &b
	}

	if v := formValue(r, "channels"); v != "" {
		mode, err := utils.ParseChannelMode(v)
		if err != nil {
			return nil, err
		}
		rc.Channels = mode
	}

	cx, cy := formValue(r, "center_x"), formValue(r, "center_y")
	if cx != "" || cy != "" {
		x, errX := strconv.ParseFloat(cx, 64)
		y, errY := strconv.ParseFloat(cy, 64)
		if errX != nil || errY != nil {
			return nil, errors.New("center_x and center_y must both be numbers")
		}
		if !lens.IsFinite(x) || !lens.IsFinite(y) {
			return nil, errors.New("center_x and center_y must be finite")
		}
		rc.Center = &[2]float64{x, y}
	}

	if r.MultipartForm != nil {
		if files := r.MultipartForm.File["calibration"]; len(files) > 0 {
			rec, err := readCalibrationPart(files[0])
			if err != nil {
				return nil, err
			}
			rc.Calibration = rec
		}
	}
	return rc, nil
}

func readCalibrationPart(fh *multipart.FileHeader) (*calibration.Record, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}
	rec, err := calibration.Parse(data, calibration.DetectFormat(fh.Filename))
	if err != nil {
		return nil, fmt.Errorf("invalid calibration: %w", err)
	}
	return rec, nil
}

// formValue reads a form field, falling back to the query string.
func formValue(r *http.Request, key string) string {
	if v := r.FormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

// pipelineForRequest returns the server pipeline or a copy with the request's overrides applied.
func (s *Server) pipelineForRequest(rc *RequestConfig) (rectifier, error) {
	if s.pipeline == nil {
		return nil, errNoPipeline
	}
	if rc.isZero() {
		return s.pipeline, nil
	}

	cfg := s.pipeline.Config()
	cfg.CalibrationFile = ""
	rec := s.pipeline.Calibration()
	if rc.Calibration != nil {
		rec = rc.Calibration
	}
	if rc.Inverse != nil {
		cfg.Inverse = *rc.Inverse
	}
	if rc.Channels != "" {
		cfg.Channels = rc.Channels
	}
	if rc.Center != nil {
		cfg.Center = &lens.Point{X: rc.Center[0], Y: rc.Center[1]}
	}
	pl, err := pipeline.New(cfg, rec)
	if err != nil {
		return nil, err
	}
	return pl, nil
}

// recordFrame updates metrics and the profiler for one rectified frame.
func (s *Server) recordFrame(kind string, res *pipeline.FrameResult, duration time.Duration) {
	rectifyRequestsTotal.WithLabelValues(kind, "success").Inc()
	rectifyDuration.WithLabelValues(kind).Observe(duration.Seconds())
	coverageRatio.WithLabelValues(kind).Observe(res.CoverageRate)
	if s.profiler != nil {
		s.profiler.Record(res)
	}
}

// writeImageResponse sends the rectified PNG, or its metadata for format=json.
func (s *Server) writeImageResponse(w http.ResponseWriter, format string, out image.Image, res *pipeline.FrameResult) {
	if format == formatJSON {
		s.writeJSON(w, http.StatusOK, RectifyResponse{Success: true, Result: res})
		return
	}

	var buf bytes.Buffer
	if err := utils.EncodePNG(&buf, out); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Encoding failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Undistort-Coverage", strconv.FormatFloat(res.CoverageRate, 'f', 4, 64))
	w.Header().Set("X-Undistort-Center", fmt.Sprintf("%.3f,%.3f", res.Center.X, res.Center.Y))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}
