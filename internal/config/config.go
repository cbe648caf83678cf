// Package config manages configuration for Camera Viewer.
//
// Settings come from defaults, then a TOML file, then CAMERA_VIEWER_*
// environment variables, and are clamped to safe ranges last.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"

	"camera-viewer-go/internal/camera"
	"camera-viewer-go/internal/convert"
	"camera-viewer-go/internal/frame"
)

// EnvPrefix prefixes every environment override, e.g.
// CAMERA_VIEWER_CAPTURE_DEVICE_INDEX.
const EnvPrefix = "CAMERA_VIEWER"

// =============================================================================
// Configuration structs
// =============================================================================

// Config holds all runtime configuration values.
type Config struct {
	Logging     LoggingConfig     `toml:"logging"`
	Capture     CaptureConfig     `toml:"capture"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Performance PerformanceConfig `toml:"performance"`
	Health      HealthConfig      `toml:"health"`
	Render      RenderConfig      `toml:"render"`
	Metrics     MetricsConfig     `toml:"metrics"`
}

type LoggingConfig struct {
	Level       string `toml:"level" envconfig:"level"`
	File        string `toml:"file" envconfig:"file"`
	MaxBytes    int    `toml:"max_bytes" envconfig:"max_bytes"`
	BackupCount int    `toml:"backup_count" envconfig:"backup_count"`
	Stdout      bool   `toml:"stdout" envconfig:"stdout"`
}

type CaptureConfig struct {
	Backend     string `toml:"backend" envconfig:"backend"`
	DeviceIndex int    `toml:"device_index" envconfig:"device_index"`
	Width       int    `toml:"width" envconfig:"width"`
	Height      int    `toml:"height" envconfig:"height"`
	FPS         int    `toml:"fps" envconfig:"fps"`
	// Format is passed to ffmpeg as -input_format: "mjpeg" or "yuyv".
	Format            string `toml:"format" envconfig:"format"`
	TimeoutMS         int    `toml:"timeout_ms" envconfig:"timeout_ms"`
	KillDeviceHolders bool   `toml:"kill_device_holders" envconfig:"kill_device_holders"`
	// PatternLayout is the native layout of the synthetic backend.
	PatternLayout string `toml:"pattern_layout" envconfig:"pattern_layout"`
}

type PipelineConfig struct {
	TargetLayout string `toml:"target_layout" envconfig:"target_layout"`
	PoolSize     int    `toml:"pool_size" envconfig:"pool_size"`
	// AcquireTimeoutMS > 0 makes the capture loop wait that long for a
	// free slot instead of dropping the frame at once.
	AcquireTimeoutMS     int `toml:"acquire_timeout_ms" envconfig:"acquire_timeout_ms"`
	MaxConsecutiveErrors int `toml:"max_consecutive_errors" envconfig:"max_consecutive_errors"`
	EventBuffer          int `toml:"event_buffer" envconfig:"event_buffer"`
}

type PerformanceConfig struct {
	DynamicFPS           bool    `toml:"dynamic_fps" envconfig:"dynamic_fps"`
	CheckIntervalMS      int     `toml:"check_interval_ms" envconfig:"check_interval_ms"`
	MinDynamicFPS        int     `toml:"min_dynamic_fps" envconfig:"min_dynamic_fps"`
	FPSStep              int     `toml:"fps_step" envconfig:"fps_step"`
	CPULoadThreshold     float64 `toml:"cpu_load_threshold" envconfig:"cpu_load_threshold"`
	CPUTempThresholdC    float64 `toml:"cpu_temp_threshold_c" envconfig:"cpu_temp_threshold_c"`
	StressHoldCount      int     `toml:"stress_hold_count" envconfig:"stress_hold_count"`
	RecoverHoldCount     int     `toml:"recover_hold_count" envconfig:"recover_hold_count"`
	StaleFrameTimeoutSec float64 `toml:"stale_frame_timeout_sec" envconfig:"stale_frame_timeout_sec"`
	RestartCooldownSec   float64 `toml:"restart_cooldown_sec" envconfig:"restart_cooldown_sec"`
	MaxRestartsPerWindow int     `toml:"max_restarts_per_window" envconfig:"max_restarts_per_window"`
	RestartWindowSec     float64 `toml:"restart_window_sec" envconfig:"restart_window_sec"`
}

type HealthConfig struct {
	LogIntervalSec float64 `toml:"log_interval_sec" envconfig:"log_interval_sec"`
}

type RenderConfig struct {
	// Renderer is "fyne" or "term".
	Renderer           string `toml:"renderer" envconfig:"renderer"`
	UIFPS              int    `toml:"ui_fps" envconfig:"ui_fps"`
	Mirror             bool   `toml:"mirror" envconfig:"mirror"`
	NightMode          bool   `toml:"night_mode" envconfig:"night_mode"`
	Privacy            bool   `toml:"privacy" envconfig:"privacy"`
	PixelateBlock      int    `toml:"pixelate_block" envconfig:"pixelate_block"`
	Overlay            bool   `toml:"overlay" envconfig:"overlay"`
	AnalysisIntervalMS int    `toml:"analysis_interval_ms" envconfig:"analysis_interval_ms"`
}

type MetricsConfig struct {
	// Addr enables the /metrics exporter when non-empty, e.g. ":9109".
	Addr string `toml:"addr" envconfig:"addr"`
}

// =============================================================================
// Defaults
// =============================================================================

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:       "INFO",
			File:        "./logs/camera_viewer.log",
			MaxBytes:    5 * 1024 * 1024, // 5 MB
			BackupCount: 3,
			Stdout:      true,
		},
		Capture: CaptureConfig{
			Backend:           string(camera.BackendPattern),
			DeviceIndex:       0,
			Width:             640,
			Height:            480,
			FPS:               25,
			Format:            "mjpeg",
			TimeoutMS:         500,
			KillDeviceHolders: true,
			PatternLayout:     "yuyv",
		},
		Pipeline: PipelineConfig{
			TargetLayout:         "rgba",
			PoolSize:             3,
			AcquireTimeoutMS:     0,
			MaxConsecutiveErrors: 10,
			EventBuffer:          16,
		},
		Performance: PerformanceConfig{
			DynamicFPS:           true,
			CheckIntervalMS:      2000,
			MinDynamicFPS:        10,
			FPSStep:              2,
			CPULoadThreshold:     3.0,
			CPUTempThresholdC:    75.0,
			StressHoldCount:      3,
			RecoverHoldCount:     3,
			StaleFrameTimeoutSec: 1.5,
			RestartCooldownSec:   5.0,
			MaxRestartsPerWindow: 3,
			RestartWindowSec:     30.0,
		},
		Health: HealthConfig{
			LogIntervalSec: 30.0,
		},
		Render: RenderConfig{
			Renderer:           "fyne",
			UIFPS:              20,
			PixelateBlock:      10,
			Overlay:            true,
			AnalysisIntervalMS: 500,
		},
	}
}

// =============================================================================
// Load
// =============================================================================

// ConfigPath returns the TOML file path to use, respecting env vars.
func ConfigPath() string {
	if p := os.Getenv(EnvPrefix + "_CONFIG"); p != "" {
		return p
	}
	return "./config.toml"
}

// Load reads the TOML file at path (or the default/env path), applies
// environment overrides and clamps every value into range. A missing file
// is not an error. On error the returned Config is still usable.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			cfg = DefaultConfig()
			cfg.clamp()
			return cfg, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		cfg.clamp()
		return cfg, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		cfg.clamp()
		return cfg, fmt.Errorf("config: environment overrides: %w", err)
	}

	cfg.clamp()
	return cfg, nil
}

// clamp pulls every numeric setting into its supported range and
// normalizes enumerations.
func (c *Config) clamp() {
	c.Logging.Level = strings.ToUpper(strings.TrimSpace(c.Logging.Level))
	c.Logging.MaxBytes = atLeast(c.Logging.MaxBytes, 1024)
	c.Logging.BackupCount = atLeast(c.Logging.BackupCount, 1)

	c.Capture.Backend = strings.ToLower(strings.TrimSpace(c.Capture.Backend))
	c.Capture.DeviceIndex = atLeast(c.Capture.DeviceIndex, 0)
	c.Capture.Width = clampInt(c.Capture.Width, 160, 1920)
	c.Capture.Height = clampInt(c.Capture.Height, 120, 1080)
	c.Capture.FPS = clampInt(c.Capture.FPS, 1, 60)
	if f := strings.ToLower(strings.TrimSpace(c.Capture.Format)); f == "mjpeg" || f == "yuyv" {
		c.Capture.Format = f
	} else {
		c.Capture.Format = "mjpeg"
	}
	c.Capture.TimeoutMS = clampInt(c.Capture.TimeoutMS, 50, 10000)

	c.Pipeline.PoolSize = clampInt(c.Pipeline.PoolSize, frame.MinPoolSize, 8)
	c.Pipeline.AcquireTimeoutMS = clampInt(c.Pipeline.AcquireTimeoutMS, 0, 1000)
	c.Pipeline.MaxConsecutiveErrors = atLeast(c.Pipeline.MaxConsecutiveErrors, 1)
	c.Pipeline.EventBuffer = clampInt(c.Pipeline.EventBuffer, 1, 256)

	p := &c.Performance
	p.CheckIntervalMS = atLeast(p.CheckIntervalMS, 250)
	p.MinDynamicFPS = atLeast(p.MinDynamicFPS, 1)
	p.FPSStep = atLeast(p.FPSStep, 1)
	p.CPULoadThreshold = clampFloat(p.CPULoadThreshold, 0.1, 20.0)
	p.CPUTempThresholdC = clampFloat(p.CPUTempThresholdC, 30.0, 100.0)
	p.StressHoldCount = atLeast(p.StressHoldCount, 1)
	p.RecoverHoldCount = atLeast(p.RecoverHoldCount, 1)
	p.StaleFrameTimeoutSec = clampFloat(p.StaleFrameTimeoutSec, 0.5, 3600)
	p.RestartCooldownSec = clampFloat(p.RestartCooldownSec, 1.0, 3600)
	p.MaxRestartsPerWindow = atLeast(p.MaxRestartsPerWindow, 1)
	p.RestartWindowSec = clampFloat(p.RestartWindowSec, 5.0, 86400)

	c.Health.LogIntervalSec = clampFloat(c.Health.LogIntervalSec, 5.0, 86400)

	c.Render.Renderer = strings.ToLower(strings.TrimSpace(c.Render.Renderer))
	c.Render.UIFPS = clampInt(c.Render.UIFPS, 1, 60)
	c.Render.PixelateBlock = clampInt(c.Render.PixelateBlock, 2, 64)
	c.Render.AnalysisIntervalMS = atLeast(c.Render.AnalysisIntervalMS, 100)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeast(v, lo int) int {
	if v < lo {
		return lo
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// =============================================================================
// Derived values
// =============================================================================

// CaptureTimeout is the per-read bound of the frame source.
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.Capture.TimeoutMS) * time.Millisecond
}

// TargetLayout parses the renderer-facing pixel layout.
func (c *Config) TargetLayout() (frame.Layout, error) {
	return frame.ParseLayout(c.Pipeline.TargetLayout)
}

// PatternLayout parses the native layout of the synthetic source.
func (c *Config) PatternLayout() (frame.Layout, error) {
	return frame.ParseLayout(c.Capture.PatternLayout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func (c *Config) StaleFrameTimeout() time.Duration {
	return seconds(c.Performance.StaleFrameTimeoutSec)
}

func (c *Config) RestartCooldown() time.Duration {
	return seconds(c.Performance.RestartCooldownSec)
}

func (c *Config) RestartWindow() time.Duration {
	return seconds(c.Performance.RestartWindowSec)
}

func (c *Config) HealthLogInterval() time.Duration {
	return seconds(c.Health.LogIntervalSec)
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks whether the Config values are reasonable and returns
// warnings. Returns ok=false if any setting is critically problematic.
func (c *Config) Validate() (ok bool, warnings []string) {
	ok = true

	if _, err := camera.ParseBackend(c.Capture.Backend); err != nil {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Unknown capture backend %q", c.Capture.Backend))
	}

	target, err := c.TargetLayout()
	if err != nil {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Unknown target layout %q", c.Pipeline.TargetLayout))
	} else if !convert.IsTarget(target) {
		ok = false
		warnings = append(warnings, fmt.Sprintf("Layout %s cannot be delivered to a renderer", target))
	}

	if c.Capture.Backend == string(camera.BackendPattern) {
		native, err := c.PatternLayout()
		switch {
		case err != nil:
			ok = false
			warnings = append(warnings, fmt.Sprintf("Unknown pattern layout %q", c.Capture.PatternLayout))
		case target != frame.LayoutUnknown && !convert.Supported(native, target):
			ok = false
			warnings = append(warnings, fmt.Sprintf("No conversion from %s to %s", native, target))
		}
	}

	switch c.Render.Renderer {
	case "fyne", "term":
	default:
		ok = false
		warnings = append(warnings, fmt.Sprintf("Unknown renderer %q", c.Render.Renderer))
	}

	pixels := c.Capture.Width * c.Capture.Height
	if pixels > 480000 {
		warnings = append(warnings, "High resolution may cause USB bandwidth issues")
	}

	if c.Capture.FPS > 30 {
		warnings = append(warnings, fmt.Sprintf("FPS %d > 30 is beyond most USB webcams", c.Capture.FPS))
	}

	// MJPEG compresses to roughly 15% of the raw size; YUYV is 2 bytes/pixel.
	perPixel := 0.15
	if c.Capture.Format == "yuyv" {
		perPixel = 2
	}
	bandwidth := float64(pixels*c.Capture.FPS) * perPixel / 1024 / 1024
	if bandwidth > 30 {
		ok = false
		warnings = append(warnings, "Estimated USB bandwidth exceeds safe limits")
	} else if bandwidth > 20 {
		warnings = append(warnings, "Estimated USB bandwidth is high - may cause issues")
	}

	if c.Performance.MinDynamicFPS > c.Capture.FPS {
		warnings = append(warnings, fmt.Sprintf("MinDynamicFPS (%d) > CaptureFPS (%d)", c.Performance.MinDynamicFPS, c.Capture.FPS))
	}

	if c.Render.UIFPS > c.Capture.FPS {
		warnings = append(warnings, fmt.Sprintf("UI FPS (%d) > capture FPS (%d) repaints the same frame", c.Render.UIFPS, c.Capture.FPS))
	}

	return ok, warnings
}
