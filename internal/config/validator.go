package config

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Validate checks the configuration and fills in defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "videosurface"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if cfg.Target.Width < 0 || cfg.Target.Height < 0 {
		return fmt.Errorf("target size must not be negative, got %dx%d", cfg.Target.Width, cfg.Target.Height)
	}

	if cfg.Background == "" {
		cfg.Background = "#000000"
	}
	if _, err := ParseColor(cfg.Background); err != nil {
		return fmt.Errorf("background: %w", err)
	}

	if cfg.ReadinessTimeout < 0 {
		return fmt.Errorf("readiness_timeout must not be negative")
	}
	if cfg.ReadinessTimeout == 0 {
		cfg.ReadinessTimeout = 10 * time.Second
	}

	if cfg.Engine.StopTimeout <= 0 {
		cfg.Engine.StopTimeout = 3 * time.Second
	}
	if cfg.Engine.EventBuffer <= 0 {
		cfg.Engine.EventBuffer = 16
	}

	// Window defaults to the target size, then to 1280x720
	if cfg.Window.Title == "" {
		cfg.Window.Title = "videosurface"
	}
	if cfg.Window.Width <= 0 {
		cfg.Window.Width = cfg.Target.Width
	}
	if cfg.Window.Height <= 0 {
		cfg.Window.Height = cfg.Target.Height
	}
	if cfg.Window.Width <= 0 || cfg.Window.Height <= 0 {
		cfg.Window.Width, cfg.Window.Height = 1280, 720
	}

	if err := validateMQTT(cfg); err != nil {
		return err
	}

	if cfg.S3.CacheDir == "" {
		cfg.S3.CacheDir = "cache/videos"
	}
	if cfg.Screenshots.Dir == "" {
		cfg.Screenshots.Dir = "screenshots"
	}

	switch cfg.Log.Level {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got '%s'", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "":
		cfg.Log.Format = "auto"
	case "auto", "text", "json":
	default:
		return fmt.Errorf("log.format must be auto, text or json, got '%s'", cfg.Log.Format)
	}

	return nil
}

func validateMQTT(cfg *Config) error {
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}

	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("videosurface/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Status == "" {
		cfg.MQTT.Topics.Status = fmt.Sprintf("videosurface/status/%s", cfg.InstanceID)
	}

	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control": 1,
			"status":  0,
		}
	}
	for name, qos := range cfg.MQTT.QoS {
		if qos > 2 {
			return fmt.Errorf("mqtt.qos.%s must be 0, 1 or 2, got %d", name, qos)
		}
	}

	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be json or msgpack, got '%s'", cfg.MQTT.Encoding)
	}
	return nil
}

// ParseColor parses "#rrggbb" (the leading # is optional).
func ParseColor(s string) (color.RGBA, error) {
	hex := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(hex) != 6 {
		return color.RGBA{}, fmt.Errorf("color '%s' must be #rrggbb", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("color '%s' must be #rrggbb", s)
	}
	return color.RGBA{
		R: uint8(v >> 16),
		G: uint8(v >> 8),
		B: uint8(v),
		A: 0xff,
	}, nil
}
