// Package config provides configuration management for the Elizor agent.
// Configuration is loaded from an optional .env file and environment variables
// with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Default values
	DefaultPort     = 8788
	DefaultLogLevel = "info"
	DefaultDataDir  = ".elizor"

	// Environment variable names
	EnvPort     = "ELIZOR_PORT"
	EnvLogLevel = "ELIZOR_LOG_LEVEL"
	EnvDataDir  = "ELIZOR_DATA_DIR"
	EnvHeadless = "ELIZOR_HEADLESS"

	// Media environment variable names
	EnvExportDir     = "ELIZOR_EXPORT_DIR"
	EnvFFmpegPath    = "ELIZOR_FFMPEG"
	EnvFFprobePath   = "ELIZOR_FFPROBE"
	EnvFrameTimeout  = "ELIZOR_FRAME_TIMEOUT"
	EnvExportTimeout = "ELIZOR_EXPORT_TIMEOUT"
	EnvMaxUploadMB   = "ELIZOR_MAX_UPLOAD_MB"

	// Database filename
	DBFilename = "elizor.db"

	// Media defaults
	DefaultFFmpegPath    = "ffmpeg"
	DefaultFFprobePath   = "ffprobe"
	DefaultFrameTimeout  = 15   // seconds
	DefaultExportTimeout = 1800 // 30 minutes
	DefaultMaxUploadMB   = 100
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	ExportDir() string
	Headless() bool
	FFmpegPath() string
	FFprobePath() string
	FrameTimeout() time.Duration
	ExportTimeout() time.Duration
	MaxUploadBytes() int64
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port      int
	logLevel  string
	dataDir   string
	exportDir string
	headless  bool

	ffmpegPath    string
	ffprobePath   string
	frameTimeout  int
	exportTimeout int
	maxUploadMB   int
}

// New creates a new EnvConfig with defaults and environment variable overrides.
// A .env file in the working directory is loaded first when present; variables
// already set in the process environment take precedence over it.
func New() (*EnvConfig, error) {
	_ = godotenv.Load()

	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		ffmpegPath:    DefaultFFmpegPath,
		ffprobePath:   DefaultFFprobePath,
		frameTimeout:  DefaultFrameTimeout,
		exportTimeout: DefaultExportTimeout,
		maxUploadMB:   DefaultMaxUploadMB,
	}

	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.exportDir = os.Getenv(EnvExportDir)

	if h := os.Getenv(EnvHeadless); h != "" {
		headless, err := strconv.ParseBool(strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvHeadless, err)
		}
		cfg.headless = headless
	}

	if fp := os.Getenv(EnvFFmpegPath); fp != "" {
		cfg.ffmpegPath = fp
	}
	if fp := os.Getenv(EnvFFprobePath); fp != "" {
		cfg.ffprobePath = fp
	}

	var err error
	if cfg.frameTimeout, err = positiveInt(EnvFrameTimeout, cfg.frameTimeout); err != nil {
		return nil, err
	}
	if cfg.exportTimeout, err = positiveInt(EnvExportTimeout, cfg.exportTimeout); err != nil {
		return nil, err
	}
	if cfg.maxUploadMB, err = positiveInt(EnvMaxUploadMB, cfg.maxUploadMB); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// ExportDir returns the directory finished exports are written to
func (c *EnvConfig) ExportDir() string {
	if c.exportDir != "" {
		return c.exportDir
	}
	return filepath.Join(c.dataDir, "exports")
}

// Headless reports whether the system tray is disabled
func (c *EnvConfig) Headless() bool {
	return c.headless
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobePath
}

func (c *EnvConfig) FrameTimeout() time.Duration {
	return time.Duration(c.frameTimeout) * time.Second
}

func (c *EnvConfig) ExportTimeout() time.Duration {
	return time.Duration(c.exportTimeout) * time.Second
}

// MaxUploadBytes returns the largest accepted clip upload in bytes
func (c *EnvConfig) MaxUploadBytes() int64 {
	return int64(c.maxUploadMB) * 1024 * 1024
}

func positiveInt(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return n, nil
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
