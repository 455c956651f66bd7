package server

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/MeKo-Tech/undistort/internal/calibration"
	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
)

// rectifier is the part of the pipeline the handlers depend on.
type rectifier interface {
	ProcessImageContext(ctx context.Context, img image.Image) (image.Image, *pipeline.FrameResult, error)
	Mapper(width, height int) (*lens.Mapper, error)
	Calibration() *calibration.Record
	Config() pipeline.Config
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	pipeline    rectifier
	profiler    *pipeline.Profiler
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	timeoutSec  int
	started     time.Time
}

// RateLimitConfig holds per-client limits; zero values disable a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64
}

// Config holds server configuration.
type Config struct {
	Host           string
	Port           int
	CORSOrigin     string
	MaxUploadMB    int64
	TimeoutSec     int
	PipelineConfig pipeline.Config
	RateLimit      RateLimitConfig
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string             `json:"status"`
	Version string             `json:"version,omitempty"`
	Time    string             `json:"time"`
	Uptime  string             `json:"uptime,omitempty"`
	Memory  *pipeline.MemStats `json:"memory,omitempty"`
	Stats   map[string]any     `json:"stats,omitempty"`
}

// CalibrationResponse is returned by GET /calibration.
type CalibrationResponse struct {
	Inverse bool                `json:"inverse"`
	Summary calibration.Summary `json:"summary"`
}

// RectifyResponse carries frame metadata when format=json is requested.
type RectifyResponse struct {
	Success bool                  `json:"success"`
	Result  *pipeline.FrameResult `json:"result,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// MapRequest asks where target pixel (X, Y) of a width x height frame samples from.
type MapRequest struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MapResponse is returned by POST /map.
type MapResponse struct {
	Input         lens.Point `json:"input"`
	Mapped        lens.Point `json:"mapped"`
	Source        [2]int     `json:"source"`
	Center        lens.Point `json:"center"`
	Radius        float64    `json:"radius"`
	MaxRadius     float64    `json:"max_radius"`
	Magnification float64    `json:"magnification"`
	InBounds      bool       `json:"in_bounds"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// NewServer builds the rectification pipeline and creates a server around it.
func NewServer(config Config) (*Server, error) {
	pl, err := pipeline.NewBuilder().WithConfig(config.PipelineConfig).Build()
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return NewServerWithPipeline(pl, config), nil
}

// NewServerWithPipeline creates a server around an existing pipeline.
func NewServerWithPipeline(pl rectifier, config Config) *Server {
	s := &Server{
		pipeline:    pl,
		profiler:    &pipeline.Profiler{},
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		timeoutSec:  config.TimeoutSec,
		started:     time.Now(),
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
	}
	return s
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/calibration", s.corsMiddleware(s.calibrationHandler))
	mux.HandleFunc("/map", s.corsMiddleware(s.mapHandler))
	mux.HandleFunc("/rectify", s.corsMiddleware(s.rateLimitMiddleware(s.rectifyHandler)))
	mux.HandleFunc("/rectify/batch", s.corsMiddleware(s.rateLimitMiddleware(s.batchRectifyHandler)))
	mux.HandleFunc("/ws/rectify", s.rateLimitMiddleware(s.rectifyWebSocketHandler))
	mux.Handle("/metrics", metricsHandler())
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

// requestContext bounds a request by the configured timeout.
func (s *Server) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeoutSec <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
}

// uploadLimit returns the maximum accepted upload in bytes.
func (s *Server) uploadLimit() int64 {
	if s.maxUploadMB <= 0 {
		return 50 * 1024 * 1024
	}
	return s.maxUploadMB * 1024 * 1024
}

var errNoPipeline = errors.New("rectification pipeline not initialized")
