package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if !s.started.IsZero() {
		response.Uptime = time.Since(s.started).Round(time.Second).String()
	}
	if r.URL.Query().Get("verbose") == "1" {
		mem := pipeline.GetMemStats()
		response.Memory = &mem
		if s.profiler != nil {
			response.Stats = s.profiler.Snapshot()
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// calibrationHandler summarises the calibration the server was started with.
func (s *Server) calibrationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, errNoPipeline.Error(), http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, CalibrationResponse{
		Inverse: s.pipeline.Config().Inverse,
		Summary: s.pipeline.Calibration().Summarize(),
	})
}

// mapHandler reports the source coordinate for one target pixel.
func (s *Server) mapHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		s.writeErrorResponse(w, errNoPipeline.Error(), http.StatusServiceUnavailable)
		return
	}

	var req MapRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeErrorResponse(w, "Invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}

	m, err := s.pipeline.Mapper(req.Width, req.Height)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), statusForError(err))
		return
	}

	sx, sy, ok := m.Source(req.X, req.Y)
	s.writeJSON(w, http.StatusOK, MapResponse{
		Input:         lens.Point{X: float64(req.X), Y: float64(req.Y)},
		Mapped:        m.Map(req.X, req.Y),
		Source:        [2]int{sx, sy},
		Center:        m.Center(),
		Radius:        m.Radius(req.X, req.Y),
		MaxRadius:     m.MaxRadius(),
		Magnification: m.Magnification(req.X, req.Y),
		InBounds:      ok,
	})
}

// statusForError maps domain errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, lens.ErrPrecondition):
		return http.StatusBadRequest
	case errors.Is(err, errNoPipeline):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Success: false, Error: message})
}
