// Package gstengine is the GStreamer decoding engine behind the decoder
// contract.
//
// Each session owns one pipeline and two goroutines: the bus monitor (status
// feed) and the decoder thread, which turns appsink samples into frames
// rendered through the session callbacks.
package gstengine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
	"github.com/e7canasta/orion-video-surface/internal/gpu"
)

// Config contains engine configuration.
type Config struct {
	// StopTimeout bounds Release waiting for session goroutines (default 3s).
	StopTimeout time.Duration
	// EventBuffer is the status channel capacity per session (default 16).
	EventBuffer int
}

// Engine creates GStreamer sessions. One per process.
type Engine struct {
	cfg Config

	newUploader func() uploader
	loadGL      glLoader
}

var _ decoder.Engine = (*Engine)(nil)

// New initializes GStreamer and verifies it works (fail-fast).
func New(cfg Config) (*Engine, error) {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 3 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}

	if err := checkGStreamerAvailable(); err != nil {
		return nil, fmt.Errorf("gstengine: GStreamer not available: %w", err)
	}

	slog.Info("gstengine: engine ready", "stop_timeout", cfg.StopTimeout)
	return &Engine{
		cfg:         cfg,
		newUploader: func() uploader { return &gpu.Staging{} },
		loadGL:      gpu.Init,
	}, nil
}

// NewSession builds a pipeline for cfg.Source. The pipeline stays in NULL
// until Play.
func (e *Engine) NewSession(cfg decoder.SessionConfig) (decoder.Session, error) {
	if cfg.Source == "" {
		return nil, fmt.Errorf("gstengine: empty source: %w", decoder.ErrInvalidSource)
	}
	if cfg.Callbacks == nil {
		return nil, fmt.Errorf("gstengine: no callbacks: %w", decoder.ErrSessionCreateFailed)
	}

	uri, err := sourceURI(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("gstengine: %v: %w", err, decoder.ErrInvalidSource)
	}

	pipeline, src, err := createPipeline(uri)
	if err != nil {
		return nil, fmt.Errorf("gstengine: %v: %w", err, decoder.ErrSessionCreateFailed)
	}

	s := &session{
		id:         newSessionID(),
		source:     cfg.Source,
		playVideo:  cfg.PlayVideo,
		outputCaps: buildOutputCaps(cfg.NativeSize, cfg.TargetSize),
		timeout:    e.cfg.StopTimeout,
		pipeline:   pipeline,
		box:        newMailbox(),
		events:     make(chan decoder.Event, e.cfg.EventBuffer),
		fatal:      make(chan error, 1),
		audioTrack: noAudio,
		started:    time.Now(),
	}
	s.render = &renderer{
		sessionID: s.id,
		cb:        cfg.Callbacks,
		box:       s.box,
		up:        e.newUploader(),
		loadGL:    e.loadGL,
		stats:     &s.stats,
	}

	src.Connect("pad-added", s.onPadAdded)

	slog.Info("gstengine: session created",
		"session_id", s.id,
		"uri", uri,
		"caps", s.outputCaps,
		"play_audio", cfg.PlayAudio,
		"play_video", cfg.PlayVideo,
	)
	return s, nil
}

// checkGStreamerAvailable checks that GStreamer is installed and working.
func checkGStreamerAvailable() error {
	// Initialize GStreamer (safe to call multiple times)
	gst.Init(nil)

	elem, err := gst.NewElement("fakesrc")
	if err != nil {
		return fmt.Errorf("GStreamer not available or not properly installed: %w", err)
	}
	elem.SetState(gst.StateNull)

	for _, name := range []string{"uridecodebin", "videoconvert", "videoscale", "appsink"} {
		if _, err := gst.NewElement(name); err != nil {
			return fmt.Errorf("required element %s missing: %w", name, err)
		}
	}
	return nil
}
