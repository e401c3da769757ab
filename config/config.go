// Package config loads antik settings from a YAML file and the environment.
// Command-line flags are applied on top by the caller, which then calls
// Validate.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"antik/speech"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const FileName = "config.yaml"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Capture CaptureConfig `yaml:"capture"`
	Speech  SpeechConfig  `yaml:"speech"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	URL string `yaml:"url"`
}

type CaptureConfig struct {
	Device          string        `yaml:"device"`
	SegmentInterval time.Duration `yaml:"segment_interval"`
	FrameInterval   time.Duration `yaml:"frame_interval"` // visualizer sampling period
	Cues            bool          `yaml:"cues"`
	RecordDir       string        `yaml:"record_dir"`
}

type SpeechConfig struct {
	Engine          string   `yaml:"engine"` // auto | espeak-ng | espeak | say | none
	PreferredVoices []string `yaml:"preferred_voices"`
	Rate            float64  `yaml:"rate"`
	Pitch           float64  `yaml:"pitch"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Dir string `yaml:"dir"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{URL: "http://localhost:8000"},
		Capture: CaptureConfig{
			SegmentInterval: 3 * time.Second,
			FrameInterval:   16 * time.Millisecond,
			Cues:            true,
		},
		Speech: SpeechConfig{
			Engine:          "auto",
			PreferredVoices: append([]string(nil), speech.DefaultPreferredVoices...),
			Rate:            speech.DefaultRate,
			Pitch:           speech.DefaultPitch,
		},
	}
}

// DefaultPath is config.yaml under the user config directory.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "antik", FileName)
}

// Load returns the defaults overlaid with the file at path and then the
// environment. A missing file is only an error when explicit is set.
func Load(fsys afero.Fs, path string, explicit bool, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := afero.ReadFile(fsys, path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}
	if lookup != nil {
		cfg.ApplyEnv(lookup)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ANTIK_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("ANTIK_SERVER_URL", &c.Server.URL)
	set("ANTIK_DEVICE", &c.Capture.Device)
	set("ANTIK_SPEECH_ENGINE", &c.Speech.Engine)
	set("ANTIK_METRICS_ADDR", &c.Metrics.Addr)
	set("ANTIK_LOG_PATH", &c.Log.Dir)
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}
	if err := c.Speech.Validate(); err != nil {
		return fmt.Errorf("speech config: %w", err)
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url must be http or https, got %q", s.URL)
	}
	if u.Host == "" {
		return fmt.Errorf("url must include a host, got %q", s.URL)
	}
	return nil
}

func (c *CaptureConfig) Validate() error {
	if c.SegmentInterval <= 0 {
		return fmt.Errorf("segment_interval must be positive, got %s", c.SegmentInterval)
	}
	if c.FrameInterval <= 0 {
		return fmt.Errorf("frame_interval must be positive, got %s", c.FrameInterval)
	}
	return nil
}

func (s *SpeechConfig) Validate() error {
	switch s.Engine {
	case "", "auto", "none", "espeak-ng", "espeak", "say":
	default:
		return fmt.Errorf("engine must be one of [auto, espeak-ng, espeak, say, none], got %q", s.Engine)
	}
	if s.Rate <= 0 || s.Rate > 10 {
		return fmt.Errorf("rate must be in (0, 10], got %g", s.Rate)
	}
	if s.Pitch < 0 || s.Pitch > 2 {
		return fmt.Errorf("pitch must be in [0, 2], got %g", s.Pitch)
	}
	return nil
}
