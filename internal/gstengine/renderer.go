package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"unsafe"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// uploader moves one CPU frame into the bound render buffer.
// gpu.Staging in production.
type uploader interface {
	Upload(width, height int, pixels []byte) error
	BlitTo(width, height int)
	Finish()
	Destroy()
}

// glLoader resolves GL entry points through the decoder context.
type glLoader func(procAddr func(name string) unsafe.Pointer) error

// counters are the renderer statistics (atomic).
type counters struct {
	rendered uint64
	skipped  uint64
	failed   uint64
	bytes    uint64
}

// renderer plays the decoder-thread role of the callback contract:
//
//	Setup → per sample (MakeCurrent(true) → Resize? → upload+blit → Swap → MakeCurrent(false)) → Cleanup
type renderer struct {
	sessionID string
	cb        decoder.Callbacks
	box       *mailbox
	up        uploader
	loadGL    glLoader
	stats     *counters

	glReady bool
	size    decoder.Size
}

// run blocks until the mailbox closes or setup fails. Must run on its own
// goroutine; it locks that goroutine to its OS thread because the offscreen
// context is bound per thread.
func (r *renderer) run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	defer r.cleanup()

	if !r.cb.Setup(ctx) {
		if e, ok := r.cb.(interface{ Err() error }); ok && e.Err() != nil {
			return fmt.Errorf("gstengine: decoder setup: %w", e.Err())
		}
		return fmt.Errorf("gstengine: decoder setup failed")
	}
	slog.Debug("gstengine: decoder thread ready", "session_id", r.sessionID)

	for {
		s, ok := r.box.take()
		if !ok {
			return nil
		}
		if err := r.render(s); err != nil {
			return err
		}
	}
}

// render draws one sample. Errors are fatal for the session; skipped frames
// return nil.
func (r *renderer) render(s *sample) error {
	if !r.cb.MakeCurrent(true) {
		atomic.AddUint64(&r.stats.skipped, 1)
		return nil
	}
	defer r.cb.MakeCurrent(false)

	if !r.glReady {
		if err := r.loadGL(r.cb.GetProcAddress); err != nil {
			return fmt.Errorf("gstengine: load GL: %w", err)
		}
		r.glReady = true
	}

	frame := decoder.Size{Width: s.width, Height: s.height}
	if frame != r.size {
		if _, ok := r.cb.Resize(s.width, s.height); !ok {
			atomic.AddUint64(&r.stats.failed, 1)
			slog.Warn("gstengine: resize rejected, skipping frame",
				"session_id", r.sessionID,
				"size", frame.String(),
			)
			return nil
		}
		r.size = frame
	}

	if err := r.up.Upload(s.width, s.height, s.pixels); err != nil {
		atomic.AddUint64(&r.stats.failed, 1)
		slog.Warn("gstengine: upload failed, skipping frame", "session_id", r.sessionID, "error", err)
		return nil
	}
	r.up.BlitTo(s.width, s.height)
	r.up.Finish()
	r.cb.Swap()

	atomic.AddUint64(&r.stats.rendered, 1)
	atomic.AddUint64(&r.stats.bytes, uint64(len(s.pixels)))
	return nil
}

func (r *renderer) cleanup() {
	current := r.glReady && r.cb.MakeCurrent(true)
	if current {
		r.up.Destroy()
	}
	r.cb.Cleanup()
	if current {
		r.cb.MakeCurrent(false)
	}
	slog.Debug("gstengine: decoder thread exited",
		"session_id", r.sessionID,
		"frames_rendered", atomic.LoadUint64(&r.stats.rendered),
	)
}
