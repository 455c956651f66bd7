package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/undistort/internal/config"
	"github.com/MeKo-Tech/undistort/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the rectification API",
	Long: `Start an HTTP server that rectifies uploaded frames.

The server provides the following endpoints:
  POST /rectify        - Rectify an uploaded image (multipart field "image")
  POST /rectify/batch  - Rectify up to 10 base64 encoded images
  POST /map            - Map one target pixel through the calibration
  GET  /calibration    - Summary of the loaded calibration
  GET  /ws/rectify     - WebSocket stream of binary frames
  GET  /health         - Health check endpoint
  GET  /metrics        - Prometheus metrics

Examples:
  undistort serve -c lens.json
  undistort serve -c lens.json --port 8080
  undistort serve -c lens.json --host 0.0.0.0 --rate-limit-enabled`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         runServeCommand,
}

// serverConfigFromFlags merges the serve flags over the loaded configuration.
func serverConfigFromFlags(cmd *cobra.Command, cfg *config.Config) (server.Config, int) {
	applyRectifyFlags(cmd, cfg, "rectify-workers")
	flags := cmd.Flags()
	s := cfg.Server

	if flags.Changed("host") {
		s.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		s.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		s.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		s.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("timeout") {
		s.TimeoutSec, _ = flags.GetInt("timeout")
	}
	if flags.Changed("shutdown-timeout") {
		s.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("rate-limit-enabled") {
		s.RateLimitEnabled, _ = flags.GetBool("rate-limit-enabled")
	}
	if flags.Changed("requests-per-minute") {
		s.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("requests-per-hour") {
		s.RequestsPerHour, _ = flags.GetInt("requests-per-hour")
	}
	if flags.Changed("max-requests-per-day") {
		s.MaxRequestsPerDay, _ = flags.GetInt("max-requests-per-day")
	}
	if flags.Changed("max-data-per-day") {
		s.MaxDataPerDay, _ = flags.GetInt64("max-data-per-day")
	}

	return server.Config{
		Host:           s.Host,
		Port:           s.Port,
		CORSOrigin:     s.CORSOrigin,
		MaxUploadMB:    int64(s.MaxUploadMB),
		TimeoutSec:     s.TimeoutSec,
		PipelineConfig: cfg.ToPipelineConfig(),
		RateLimit: server.RateLimitConfig{
			Enabled:           s.RateLimitEnabled,
			RequestsPerMinute: s.RequestsPerMinute,
			RequestsPerHour:   s.RequestsPerHour,
			MaxRequestsPerDay: s.MaxRequestsPerDay,
			MaxDataPerDay:     s.MaxDataPerDay,
		},
	}, s.ShutdownTimeout
}

func runServeCommand(cmd *cobra.Command, _ []string) error {
	cfg := GetConfig()
	serverConfig, shutdownTimeout := serverConfigFromFlags(cmd, cfg)

	if serverConfig.Port < 1 || serverConfig.Port > 65535 {
		return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", serverConfig.Port)
	}
	if serverConfig.PipelineConfig.CalibrationFile == "" {
		return errors.New("a calibration file is required (--calibration or calibration.file)")
	}

	srv, err := server.NewServer(serverConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", serverConfig.Host, serverConfig.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(serverConfig.TimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(serverConfig.TimeoutSec) * time.Second,
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	go func() {
		slog.Info("Starting rectification server",
			"host", serverConfig.Host,
			"port", serverConfig.Port,
			"calibration", serverConfig.PipelineConfig.CalibrationFile)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		slog.Info("Context cancelled, initiating shutdown")
	}

	slog.Info("Starting graceful shutdown", "timeout", fmt.Sprintf("%ds", shutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Duration(shutdownTimeout)*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	slog.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addRectifyFlags(serveCmd, "rectify-workers")
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 50, "maximum upload size in MB")
	serveCmd.Flags().Int("timeout", 30, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", 10, "shutdown timeout in seconds")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", false, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", 60, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", 1000, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", 5000, "maximum requests per day per client")
	serveCmd.Flags().Int64("max-data-per-day", 1024*1024*1024, "maximum uploaded bytes per day per client")
}
