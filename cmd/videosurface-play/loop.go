package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	videosurface "github.com/e7canasta/orion-video-surface"
	"github.com/e7canasta/orion-video-surface/internal/config"
	"github.com/e7canasta/orion-video-surface/internal/control"
	"github.com/e7canasta/orion-video-surface/internal/emitter"
)

const (
	frameInterval   = 16 * time.Millisecond
	thumbnailWidth  = 320
	thumbnailHeight = 180
)

var errShuttingDown = errors.New("player is shutting down")

// call is work marshalled onto the render thread.
type call struct {
	fn   func() error
	done chan error
}

// reload is a validated configuration with its source already resolved.
type reload struct {
	cfg    *config.Config
	source string
}

// loop is the render thread. Every player lifecycle call and every GL call
// runs inside run; other goroutines go through do.
type loop struct {
	ctx        context.Context
	cfg        *config.Config
	win        *window
	player     *videosurface.Player
	screenshot string
	bg         color.RGBA
	closing    bool

	calls    chan call
	reloads  chan reload
	statuses chan videosurface.StatusEvent

	destroyed   chan struct{}
	destroyOnce sync.Once
}

func newLoop(ctx context.Context, cfg *config.Config, win *window, screenshot string) *loop {
	bg, _ := config.ParseColor(cfg.Background)
	return &loop{
		ctx:        ctx,
		cfg:        cfg,
		win:        win,
		screenshot: screenshot,
		bg:         bg,
		calls:      make(chan call),
		reloads:    make(chan reload, 1),
		statuses:   make(chan videosurface.StatusEvent, 32),
		destroyed:  make(chan struct{}),
	}
}

func (l *loop) run(ctx context.Context) {
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	done := ctx.Done()
	redraw := true
	for {
		for ev := sdl.PollEvent(); ev != nil; ev = sdl.PollEvent() {
			if l.handleEvent(ev) {
				redraw = true
			}
		}

		select {
		case <-l.destroyed:
			return
		default:
		}

		if redraw {
			l.win.Draw(l.bg, l.player.Frame(), l.player.Geometry())
			redraw = false
		}

		select {
		case <-l.destroyed:
			return
		case <-done:
			slog.Info("received shutdown signal")
			done = nil
			l.shutdown()
		case <-l.player.FrameAvailable():
			redraw = true
		case <-l.player.FirstFrameAvailable():
			if l.screenshot != "" {
				if err := l.saveScreenshot(l.screenshot); err != nil {
					slog.Error("screenshot failed", "path", l.screenshot, "error", err)
				}
				l.screenshot = ""
			}
			redraw = true
		case c := <-l.calls:
			c.done <- c.fn()
			redraw = true
		case r := <-l.reloads:
			l.applyReload(r)
			redraw = true
		case <-ticker.C:
		}
	}
}

// handleEvent reports whether the window needs a redraw.
func (l *loop) handleEvent(ev sdl.Event) bool {
	switch e := ev.(type) {
	case *sdl.QuitEvent:
		slog.Info("window closed by user")
		l.shutdown()
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
			l.shutdown()
		}
	case *sdl.WindowEvent:
		if e.Event != sdl.WINDOWEVENT_SIZE_CHANGED {
			return e.Event == sdl.WINDOWEVENT_EXPOSED
		}
		size := l.win.DrawableSize()
		l.win.SetViewport(size)
		if l.cfg.Target.Width == 0 || l.cfg.Target.Height == 0 {
			if err := l.player.TargetResized(size); err != nil {
				slog.Error("restart after resize failed", "size", size.String(), "error", err)
			}
		}
		if err := l.player.NotifyConsumerReady(l.win.Shared()); err != nil {
			slog.Error("consumer context", "error", err)
		}
		return true
	}
	return false
}

// shutdown tears the session down. The player is destroyed once the
// teardown completes, which ends run.
func (l *loop) shutdown() {
	if l.closing {
		return
	}
	l.closing = true
	if err := l.player.StopThenDelete(); err != nil {
		slog.Error("stop failed", "error", err)
	}
}

func (l *loop) onDestroy() {
	l.destroyOnce.Do(func() { close(l.destroyed) })
}

// onStatus runs on the player's event goroutine.
func (l *loop) onStatus(ev videosurface.StatusEvent) {
	if ev.Err != nil {
		slog.Warn("playback error", "session_id", ev.SessionID, "status", ev.Status.String(), "error", ev.Err)
	}
	select {
	case l.statuses <- ev:
	default:
	}
}

// onReload runs on the config watcher goroutine.
func (l *loop) onReload(cfg *config.Config) {
	source, err := resolveSource(l.ctx, cfg.S3, cfg.Source)
	if err != nil {
		slog.Error("reloaded source not resolvable, keeping current", "source", cfg.Source, "error", err)
		return
	}
	select {
	case l.reloads <- reload{cfg: cfg, source: source}:
	case <-l.destroyed:
	}
}

func (l *loop) applyReload(r reload) {
	old, cfg := l.cfg, r.cfg
	changes := config.Diff(old, cfg)
	if len(changes) == 0 {
		slog.Debug("configuration reloaded, nothing to apply")
		return
	}
	slog.Info("configuration reloaded", "changes", strings.Join(changes, ", "))

	// Settings only the restart of the process can change stay as they were.
	next := *old
	next.Target = cfg.Target
	next.PlayAudio = cfg.PlayAudio
	next.PlayVideo = cfg.PlayVideo
	next.Background = cfg.Background
	next.Source = cfg.Source
	l.cfg = &next

	if bg, err := config.ParseColor(cfg.Background); err == nil {
		l.bg = bg
	}
	if old.Audio() != cfg.Audio() {
		l.player.SetPlayAudio(cfg.Audio())
	}

	restart := false
	if old.Video() != cfg.Video() {
		l.player.SetPlayVideo(cfg.Video())
		restart = true
	}
	if old.Source != cfg.Source {
		l.player.SetSource(r.source)
		restart = true
	}
	if old.Target != cfg.Target {
		target := videosurface.Size{Width: cfg.Target.Width, Height: cfg.Target.Height}
		if target.Empty() {
			target = l.win.DrawableSize()
		}
		l.player.SetTargetSize(target.Width, target.Height)
		restart = true
	}
	if restart {
		if err := l.player.RestartPlayer(); err != nil {
			slog.Error("restart after reload failed", "error", err)
		}
	}
}

// do runs fn on the render thread and waits for its result.
func (l *loop) do(fn func() error) error {
	c := call{fn: fn, done: make(chan error, 1)}
	select {
	case l.calls <- c:
	case <-l.destroyed:
		return errShuttingDown
	}
	select {
	case err := <-c.done:
		return err
	case <-l.destroyed:
		return errShuttingDown
	}
}

func (l *loop) commandCallbacks() control.CommandCallbacks {
	p := l.player
	// S3 settings are not reloadable; a copy keeps the handler goroutine off l.cfg.
	s3cfg := l.cfg.S3
	return control.CommandCallbacks{
		OnGetStatus: func() map[string]any {
			return statusData(p.Stats())
		},
		OnStart:   func() error { return l.do(p.Start) },
		OnStop:    func() error { return l.do(p.Stop) },
		OnRestart: func() error { return l.do(p.RestartPlayer) },
		OnStopThenDelete: func() error {
			return l.do(func() error {
				l.closing = true
				return p.StopThenDelete()
			})
		},
		OnResize: func(width, height int) error {
			return l.do(func() error {
				return p.TargetResized(videosurface.Size{Width: width, Height: height})
			})
		},
		OnSetAudio: func(enabled bool) error {
			return l.do(func() error {
				p.SetPlayAudio(enabled)
				return nil
			})
		},
		OnSetVideo: func(enabled bool) error {
			return l.do(func() error {
				p.SetPlayVideo(enabled)
				return p.RestartPlayer()
			})
		},
		OnSetSource: func(source string) error {
			return l.do(func() error {
				p.SetSource(source)
				return p.RestartPlayer()
			})
		},
		OnScreenshot: func(path string) error {
			return l.do(func() error { return l.saveScreenshot(path) })
		},
		// Runs on the handler goroutine so downloads never block rendering.
		ResolveSource: func(source string) (string, error) {
			return resolveSource(l.ctx, s3cfg, source)
		},
	}
}

// publish forwards status events to the broker until ctx ends.
func (l *loop) publish(ctx context.Context, em *emitter.MQTTEmitter) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-l.statuses:
			st := l.player.Stats()
			msg := emitter.StatusMessage{
				SessionID: ev.SessionID,
				Status:    ev.Status.String(),
				Source:    st.Source,
				Decoded:   [2]int{st.DecodedSize.Width, st.DecodedSize.Height},
				Target:    [2]int{st.TargetSize.Width, st.TargetSize.Height},
				Stats:     counters(st),
				Timestamp: ev.Time,
			}
			if ev.Err != nil {
				msg.Error = ev.Err.Error()
			}
			if err := em.PublishStatus(msg); err != nil {
				slog.Warn("failed to publish status", "status", msg.Status, "error", err)
			}
		}
	}
}

// saveScreenshot writes the newest frame to path as PNG, plus a thumbnail
// next to it. Render thread only.
func (l *loop) saveScreenshot(path string) error {
	img, err := l.player.LastScreenshot()
	if err != nil {
		return err
	}
	if err := writePNG(path, img); err != nil {
		return err
	}

	ext := filepath.Ext(path)
	thumbPath := strings.TrimSuffix(path, ext) + ".thumb" + ext
	if thumb := videosurface.Thumbnail(img, thumbnailWidth, thumbnailHeight); thumb != nil {
		if err := writePNG(thumbPath, thumb); err != nil {
			return err
		}
	}

	slog.Info("screenshot saved",
		"path", path,
		"width", img.Bounds().Dx(),
		"height", img.Bounds().Dy(),
	)
	return nil
}

func writePNG(path string, img image.Image) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return f.Close()
}

func statusData(st videosurface.Stats) map[string]any {
	return map[string]any{
		"status":       st.Status.String(),
		"source":       st.Source,
		"decoded_size": st.DecodedSize.String(),
		"target_size":  st.TargetSize.String(),
		"video_size":   st.VideoSize.String(),
		"counters":     counters(st),
	}
}

func counters(st videosurface.Stats) map[string]uint64 {
	return map[string]uint64{
		"starts":           st.Starts,
		"stops":            st.Stops,
		"restarts":         st.Restarts,
		"frames_available": st.FramesAvailable,
		"ring_commits":     st.Ring.Commits,
		"ring_dropped":     st.Ring.Dropped,
		"samples":          st.Session.Samples,
		"rendered":         st.Session.Rendered,
		"skipped":          st.Session.Skipped,
		"failed":           st.Session.Failed,
	}
}
