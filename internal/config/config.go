package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"github.com/MeKo-Tech/undistort/internal/batch"
	"github.com/MeKo-Tech/undistort/internal/lens"
	"github.com/MeKo-Tech/undistort/internal/pipeline"
	"github.com/MeKo-Tech/undistort/internal/utils"
)

// Config represents the complete configuration for the undistort tool.
// It includes settings for all commands (image, batch, map, serve) and
// supports loading from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Calibration CalibrationConfig `mapstructure:"calibration" yaml:"calibration" json:"calibration"`
	Rectify     RectifyConfig     `mapstructure:"rectify" yaml:"rectify" json:"rectify"`
	Output      OutputConfig      `mapstructure:"output" yaml:"output" json:"output"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Batch processing configuration
	Batch BatchConfig `mapstructure:"batch" yaml:"batch" json:"batch"`
}

// CalibrationConfig selects the lookup table and distortion center.
// CenterX/CenterY override the center stored in the calibration file when
// both are set; negative values mean unset.
type CalibrationConfig struct {
	File        string  `mapstructure:"file" yaml:"file" json:"file"`
	Inverse     bool    `mapstructure:"inverse" yaml:"inverse" json:"inverse"`
	CenterX     float64 `mapstructure:"center_x" yaml:"center_x" json:"center_x"`
	CenterY     float64 `mapstructure:"center_y" yaml:"center_y" json:"center_y"`
	ScaleCenter bool    `mapstructure:"scale_center" yaml:"scale_center" json:"scale_center"`
}

// RectifyConfig contains kernel execution settings.
type RectifyConfig struct {
	Workers    int    `mapstructure:"workers" yaml:"workers" json:"workers"`
	Channels   string `mapstructure:"channels" yaml:"channels" json:"channels"`
	CenterCrop bool   `mapstructure:"center_crop" yaml:"center_crop" json:"center_crop"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	Dir    string `mapstructure:"dir" yaml:"dir" json:"dir"`
	Suffix string `mapstructure:"suffix" yaml:"suffix" json:"suffix"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Rate limiting
	RateLimitEnabled  bool  `mapstructure:"rate_limit_enabled" yaml:"rate_limit_enabled" json:"rate_limit_enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDay     int64 `mapstructure:"max_data_per_day" yaml:"max_data_per_day" json:"max_data_per_day"`
}

// BatchConfig contains batch processing settings.
type BatchConfig struct {
	Workers         int  `mapstructure:"workers" yaml:"workers" json:"workers"`
	Recursive       bool `mapstructure:"recursive" yaml:"recursive" json:"recursive"`
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error" json:"continue_on_error"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Calibration: CalibrationConfig{
			Inverse:     true,
			CenterX:     -1,
			CenterY:     -1,
			ScaleCenter: true,
		},
		Rectify: RectifyConfig{
			Workers:  runtime.NumCPU(),
			Channels: string(utils.ChannelsAuto),
		},
		Output: OutputConfig{
			Format: "text",
			Suffix: "_rectified",
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,

			RequestsPerMinute: 60,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     1024 * 1024 * 1024,
		},
		Batch: BatchConfig{
			Workers:         4,
			ContinueOnError: false,
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json", "csv"}
	if c.Output.Format != "" && !contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}

	if _, err := utils.ParseChannelMode(c.Rectify.Channels); err != nil {
		return fmt.Errorf("invalid rectify.channels: %w", err)
	}
	if c.Rectify.Workers < 0 {
		return fmt.Errorf("invalid rectify workers: %d (must not be negative)", c.Rectify.Workers)
	}
	if (c.Calibration.CenterX >= 0) != (c.Calibration.CenterY >= 0) {
		return errors.New("calibration.center_x and calibration.center_y must be set together")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.RateLimitEnabled && (c.Server.RequestsPerMinute < 0 || c.Server.RequestsPerHour < 0 ||
		c.Server.MaxRequestsPerDay < 0 || c.Server.MaxDataPerDay < 0) {
		return errors.New("rate limits must not be negative")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("invalid batch workers: %d (must be positive)", c.Batch.Workers)
	}

	return nil
}

// CenterOverride returns the configured distortion center, if any.
func (c *Config) CenterOverride() (lens.Point, bool) {
	if c.Calibration.CenterX < 0 || c.Calibration.CenterY < 0 {
		return lens.Point{}, false
	}
	return lens.Point{X: c.Calibration.CenterX, Y: c.Calibration.CenterY}, true
}

// ToPipelineConfig converts the config to the pipeline configuration format.
func (c *Config) ToPipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.CalibrationFile = c.Calibration.File
	cfg.Inverse = c.Calibration.Inverse
	cfg.ScaleCenter = c.Calibration.ScaleCenter
	if center, ok := c.CenterOverride(); ok {
		cfg.Center = &center
	}
	cfg.Workers = c.Rectify.Workers
	cfg.CenterCrop = c.Rectify.CenterCrop
	if mode, err := utils.ParseChannelMode(c.Rectify.Channels); err == nil {
		cfg.Channels = mode
	}
	return cfg
}

// ToBatchConfig converts the config to the batch processing format.
func (c *Config) ToBatchConfig() *batch.Config {
	cfg := batch.DefaultConfig()
	cfg.CalibrationFile = c.Calibration.File
	cfg.Inverse = c.Calibration.Inverse
	cfg.ScaleCenter = c.Calibration.ScaleCenter
	if center, ok := c.CenterOverride(); ok {
		cfg.HasCenter = true
		cfg.CenterX, cfg.CenterY = center.X, center.Y
	}
	cfg.RectifyWorkers = c.Rectify.Workers
	cfg.CenterCrop = c.Rectify.CenterCrop
	if mode, err := utils.ParseChannelMode(c.Rectify.Channels); err == nil {
		cfg.Channels = mode
	}
	cfg.OutputDir = c.Output.Dir
	cfg.Suffix = c.Output.Suffix
	cfg.Format = c.Output.Format
	cfg.OutputFile = c.Output.File
	cfg.Workers = c.Batch.Workers
	cfg.Recursive = c.Batch.Recursive
	cfg.ContinueOnError = c.Batch.ContinueOnError
	return cfg
}

// contains checks if a slice contains a string.
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
