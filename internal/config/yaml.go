// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"lipsync/internal/analysis"
	"lipsync/internal/engine"
	applog "lipsync/internal/log"
	"lipsync/internal/render"
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	Debug     bool            `yaml:"debug"`
	LogLevel  string          `yaml:"log_level"`
	Audio     AudioConfig     `yaml:"audio"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Render    RenderConfig    `yaml:"render"`
	Recording RecordingConfig `yaml:"recording"`
	Transport TransportConfig `yaml:"transport"`
}

// AudioConfig holds device settings.
type AudioConfig struct {
	Backend          string  `yaml:"backend"`            // portaudio, miniaudio or null
	InputDevice      int     `yaml:"input_device"`       // PortAudio device index for capture (-1 for default).
	OutputDevice     int     `yaml:"output_device"`      // PortAudio device index for playback (-1 for default).
	OutputDeviceName string  `yaml:"output_device_name"` // miniaudio device name substring.
	FramesPerBuffer  int     `yaml:"frames_per_buffer"`
	LowLatency       bool    `yaml:"low_latency"`
	InputChannels    int     `yaml:"input_channels"`
	GateThreshold    float64 `yaml:"gate_threshold"` // microphone noise gate RMS, 0 disables
}

// PlaybackConfig holds the streaming playback settings.
type PlaybackConfig struct {
	Enabled              bool    `yaml:"enabled"`
	SampleRate           float64 `yaml:"sample_rate"` // working rate of the engine
	Volume               float64 `yaml:"volume"`
	AutoStartThresholdMs float64 `yaml:"auto_start_threshold_ms"`
	BufferSeconds        float64 `yaml:"buffer_seconds"`
	FadeFrames           int     `yaml:"fade_frames"`
	ReportInterval       int     `yaml:"report_interval"` // samples between position reports
}

// AnalysisConfig holds the analyser and classifier settings.
type AnalysisConfig struct {
	FFTSize            int                 `yaml:"fft_size"`
	Smoothing          float64             `yaml:"smoothing"` // analyser spectrum smoothing
	SilenceThreshold   float64             `yaml:"silence_threshold"`
	VisemeSmoothing    float64             `yaml:"viseme_smoothing"`
	HoldFrames         int                 `yaml:"hold_frames"`
	IntensitySmoothing float64             `yaml:"intensity_smoothing"`
	Cadence            string              `yaml:"cadence"`
	Interval           time.Duration       `yaml:"interval"`
	RefreshRate        float64             `yaml:"refresh_rate"`
	Thresholds         analysis.Thresholds `yaml:"thresholds"`
}

// RenderConfig configures the renderers the server exposes.
type RenderConfig struct {
	Vector      render.VectorOptions    `yaml:"vector"`
	Attribute   render.AttributeOptions `yaml:"attribute"`
	SpriteSheet string                  `yaml:"sprite_sheet"` // PNG; empty disables the canvas renderer
	FrameWidth  int                     `yaml:"frame_width"`
	FrameHeight int                     `yaml:"frame_height"`
	Columns     int                     `yaml:"columns"`
	Scale       float64                 `yaml:"scale"`
}

// RecordingConfig holds settings for recording fed audio to WAV.
type RecordingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
	BitDepth  int    `yaml:"bit_depth"`
}

// TransportConfig holds settings for publishing events.
type TransportConfig struct {
	ListenAddress    string        `yaml:"listen_address"`
	WebSocketEnabled bool          `yaml:"websocket_enabled"`
	WebSocketPath    string        `yaml:"websocket_path"`
	MetricsEnabled   bool          `yaml:"metrics_enabled"`
	LogEvents        bool          `yaml:"log_events"`
	UDPEnabled       bool          `yaml:"udp_enabled"`
	UDPTargetAddress string        `yaml:"udp_target_address"`
	UDPSendInterval  time.Duration `yaml:"udp_send_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	eo := engine.DefaultOptions()
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:         DefaultBackend,
			InputDevice:     MinDeviceID,
			OutputDevice:    MinDeviceID,
			FramesPerBuffer: DefaultFramesPerBuffer,
			InputChannels:   1,
		},
		Playback: PlaybackConfig{
			Enabled:              eo.PlaybackEnabled,
			SampleRate:           eo.SampleRate,
			Volume:               eo.Volume,
			AutoStartThresholdMs: eo.AutoStartThresholdMs,
			BufferSeconds:        eo.BufferSeconds,
			FadeFrames:           eo.FadeFrames,
			ReportInterval:       eo.ReportInterval,
		},
		Analysis: AnalysisConfig{
			FFTSize:            eo.FFTSize,
			Smoothing:          eo.AnalyserSmoothing,
			SilenceThreshold:   eo.Analysis.SilenceThreshold,
			VisemeSmoothing:    eo.Analysis.SmoothingFactor,
			HoldFrames:         eo.Analysis.HoldFrames,
			IntensitySmoothing: eo.Analysis.IntensitySmoothing,
			Cadence:            string(eo.Cadence),
			Interval:           eo.Interval,
			RefreshRate:        eo.RefreshRate,
			Thresholds:         eo.Analysis.Thresholds,
		},
		Render: RenderConfig{
			Vector:    render.DefaultVectorOptions(),
			Attribute: render.DefaultAttributeOptions(),
			Scale:     1,
		},
		Recording: RecordingConfig{
			OutputDir: "./recordings",
			BitDepth:  16,
		},
		Transport: TransportConfig{
			ListenAddress:    DefaultListenAddress,
			WebSocketEnabled: true,
			WebSocketPath:    "/ws",
			MetricsEnabled:   true,
			UDPTargetAddress: "127.0.0.1:9090",
			UDPSendInterval:  16 * time.Millisecond,
		},
	}
}

// LoadConfig loads configuration from a YAML file specified by path. If path
// is empty, it looks for "lipsync.yaml" in the working directory and falls
// back to built-in defaults. Environment overrides are applied last, then
// the result is validated.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat("lipsync.yaml"); err == nil {
			path = "lipsync.yaml"
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the device and transport sections, then the engine
// options derived from the rest.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level %q is not a known level", c.LogLevel)
	}
	switch c.Audio.Backend {
	case BackendPortAudio, BackendMiniaudio, BackendNull:
	default:
		return fmt.Errorf("audio.backend %q must be %s, %s or %s", c.Audio.Backend, BackendPortAudio, BackendMiniaudio, BackendNull)
	}
	if c.Audio.InputDevice < MinDeviceID || c.Audio.OutputDevice < MinDeviceID {
		return fmt.Errorf("audio device ids must be >= %d", MinDeviceID)
	}
	if c.Audio.FramesPerBuffer <= 0 || c.Audio.FramesPerBuffer > MaxBufferFrames {
		return fmt.Errorf("audio.frames_per_buffer %d outside (0, %d]", c.Audio.FramesPerBuffer, MaxBufferFrames)
	}
	if c.Audio.InputChannels < 1 {
		return fmt.Errorf("audio.input_channels must be at least 1, got %d", c.Audio.InputChannels)
	}
	if sr := c.Playback.SampleRate; sr < MinSampleRate || sr > MaxSampleRate {
		return fmt.Errorf("playback.sample_rate %.0f outside [%d, %d]", sr, MinSampleRate, MaxSampleRate)
	}
	if c.Recording.Enabled && c.Recording.BitDepth != 16 && c.Recording.BitDepth != 24 {
		return fmt.Errorf("recording.bit_depth must be 16 or 24, got %d", c.Recording.BitDepth)
	}

	t := c.Transport
	if t.WebSocketEnabled || t.MetricsEnabled {
		if _, _, err := net.SplitHostPort(t.ListenAddress); err != nil {
			return fmt.Errorf("transport.listen_address %q: %w", t.ListenAddress, err)
		}
	}
	if t.WebSocketEnabled && (t.WebSocketPath == "" || t.WebSocketPath[0] != '/') {
		return fmt.Errorf("transport.websocket_path %q must start with /", t.WebSocketPath)
	}
	if t.UDPEnabled {
		if _, _, err := net.SplitHostPort(t.UDPTargetAddress); err != nil {
			return fmt.Errorf("transport.udp_target_address %q: %w", t.UDPTargetAddress, err)
		}
		if t.UDPSendInterval <= 0 {
			return fmt.Errorf("transport.udp_send_interval must be positive when UDP is enabled")
		}
	}

	if _, err := c.EngineOptions(); err != nil {
		return err
	}
	return nil
}

// EngineOptions maps the playback and analysis sections onto engine options.
func (c *Config) EngineOptions() (engine.Options, error) {
	cadence, err := engine.ParseCadence(c.Analysis.Cadence)
	if err != nil {
		return engine.Options{}, err
	}
	o := engine.DefaultOptions()
	o.SampleRate = c.Playback.SampleRate
	o.PlaybackEnabled = c.Playback.Enabled
	o.Volume = c.Playback.Volume
	o.AutoStartThresholdMs = c.Playback.AutoStartThresholdMs
	o.BufferSeconds = c.Playback.BufferSeconds
	o.FadeFrames = c.Playback.FadeFrames
	o.ReportInterval = c.Playback.ReportInterval

	o.FFTSize = c.Analysis.FFTSize
	o.AnalyserSmoothing = c.Analysis.Smoothing
	o.Analysis.SilenceThreshold = c.Analysis.SilenceThreshold
	o.Analysis.SmoothingFactor = c.Analysis.VisemeSmoothing
	o.Analysis.HoldFrames = c.Analysis.HoldFrames
	o.Analysis.IntensitySmoothing = c.Analysis.IntensitySmoothing
	o.Analysis.Thresholds = c.Analysis.Thresholds
	o.Cadence = cadence
	o.Interval = c.Analysis.Interval
	o.RefreshRate = c.Analysis.RefreshRate

	if err := o.Validate(); err != nil {
		return engine.Options{}, err
	}
	return o, nil
}

// applyEnvOverrides lets ENV_* variables replace file values. Unparsable
// values are ignored with a warning.
func (cfg *Config) applyEnvOverrides() {
	// ENV_DEBUG
	if val, ok := os.LookupEnv("ENV_DEBUG"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Debug = bVal
			applog.Infof("Config: Overriding debug from env: %v", bVal)
		} else {
			applog.Warnf("Config: Ignoring ENV_DEBUG=%q: %v", val, err)
		}
	}
	// ENV_LOG_LEVEL
	if val, ok := os.LookupEnv("ENV_LOG_LEVEL"); ok {
		cfg.LogLevel = val
		applog.Infof("Config: Overriding log_level from env: %s", val)
	}
	// ENV_AUDIO_BACKEND
	if val, ok := os.LookupEnv("ENV_AUDIO_BACKEND"); ok {
		cfg.Audio.Backend = val
		applog.Infof("Config: Overriding audio.backend from env: %s", val)
	}
	// ENV_SAMPLE_RATE
	if val, ok := os.LookupEnv("ENV_SAMPLE_RATE"); ok {
		if fVal, err := strconv.ParseFloat(val, 64); err == nil {
			cfg.Playback.SampleRate = fVal
			applog.Infof("Config: Overriding playback.sample_rate from env: %.0f", fVal)
		} else {
			applog.Warnf("Config: Ignoring ENV_SAMPLE_RATE=%q: %v", val, err)
		}
	}
	// ENV_PLAYBACK_ENABLED
	if val, ok := os.LookupEnv("ENV_PLAYBACK_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Playback.Enabled = bVal
			applog.Infof("Config: Overriding playback.enabled from env: %v", bVal)
		} else {
			applog.Warnf("Config: Ignoring ENV_PLAYBACK_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_CADENCE
	if val, ok := os.LookupEnv("ENV_CADENCE"); ok {
		cfg.Analysis.Cadence = val
		applog.Infof("Config: Overriding analysis.cadence from env: %s", val)
	}
	// ENV_LISTEN_ADDRESS
	if val, ok := os.LookupEnv("ENV_LISTEN_ADDRESS"); ok {
		cfg.Transport.ListenAddress = val
		applog.Infof("Config: Overriding transport.listen_address from env: %s", val)
	}

	// ENV_UDP_{...}
	// These are specific to the transport layer.

	// ENV_UDP_ENABLED
	if val, ok := os.LookupEnv("ENV_UDP_ENABLED"); ok {
		if bVal, err := strconv.ParseBool(val); err == nil {
			cfg.Transport.UDPEnabled = bVal
			applog.Infof("Config: Overriding transport.udp_enabled from env: %v", bVal)
		} else {
			applog.Warnf("Config: Ignoring ENV_UDP_ENABLED=%q: %v", val, err)
		}
	}
	// ENV_UDP_TARGET_ADDRESS
	if val, ok := os.LookupEnv("ENV_UDP_TARGET_ADDRESS"); ok {
		cfg.Transport.UDPTargetAddress = val
		applog.Infof("Config: Overriding transport.udp_target_address from env: %s", val)
	}
	// ENV_UDP_SEND_INTERVAL
	if val, ok := os.LookupEnv("ENV_UDP_SEND_INTERVAL"); ok {
		if dur, err := time.ParseDuration(val); err == nil {
			cfg.Transport.UDPSendInterval = dur
			applog.Infof("Config: Overriding transport.udp_send_interval from env: %s", dur)
		} else {
			applog.Warnf("Config: Ignoring ENV_UDP_SEND_INTERVAL=%q: %v", val, err)
		}
	}
}
