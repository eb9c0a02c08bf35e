package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete video-surface configuration
type Config struct {
	InstanceID       string           `yaml:"instance_id"`
	Source           string           `yaml:"source"`
	Target           SizeConfig       `yaml:"target"`
	PlayAudio        *bool            `yaml:"play_audio,omitempty"` // default: true
	PlayVideo        *bool            `yaml:"play_video,omitempty"` // default: true
	Background       string           `yaml:"background"`           // #rrggbb
	ReadinessTimeout time.Duration    `yaml:"readiness_timeout"`    // decoder waits this long for the render context
	Engine           EngineConfig     `yaml:"engine"`
	Window           WindowConfig     `yaml:"window"`
	MQTT             MQTTConfig       `yaml:"mqtt"`
	S3               S3Config         `yaml:"s3"`
	Screenshots      ScreenshotConfig `yaml:"screenshots"`
	Log              LogConfig        `yaml:"log"`
}

// SizeConfig is a width/height pair
type SizeConfig struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// EngineConfig contains decoding engine settings
type EngineConfig struct {
	StopTimeout time.Duration `yaml:"stop_timeout"`
	EventBuffer int           `yaml:"event_buffer"`
}

// WindowConfig contains demo window settings
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	VSync  bool   `yaml:"vsync"`
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Enabled  bool            `yaml:"enabled"`
	Broker   string          `yaml:"broker"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
	Encoding string          `yaml:"encoding"` // json, msgpack
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
}

// S3Config contains settings for s3:// sources
type S3Config struct {
	Region   string `yaml:"region"`
	CacheDir string `yaml:"cache_dir"`
}

// ScreenshotConfig contains settings for remote screenshot requests
type ScreenshotConfig struct {
	Dir string `yaml:"dir"` // control plane screenshots are written below this directory
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // auto, text, json
}

// Audio reports whether audio playback is enabled.
func (c *Config) Audio() bool { return c.PlayAudio == nil || *c.PlayAudio }

// Video reports whether video output is enabled.
func (c *Config) Video() bool { return c.PlayVideo == nil || *c.PlayVideo }

// ErrScreenshotPath means a requested screenshot name does not stay inside
// the screenshot directory.
var ErrScreenshotPath = errors.New("screenshot path must be relative and stay inside screenshots.dir")

// ScreenshotPath maps a requested screenshot name to a file below
// Screenshots.Dir. Absolute names and names climbing out with ".." are
// rejected.
func (c *Config) ScreenshotPath(name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrScreenshotPath, name)
	}
	dir := filepath.Clean(c.Screenshots.Dir)
	path := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrScreenshotPath, name)
	}
	return path, nil
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML configuration bytes
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{InstanceID: "videosurface"}
	_ = Validate(cfg)
	return cfg
}
