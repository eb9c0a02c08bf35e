// Package surface implements the decoder callbacks on top of a frame ring
// and a context bridge.
package surface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
	"github.com/e7canasta/orion-video-surface/internal/framering"
)

// glRGBA is GL_RGBA.
const glRGBA uint32 = 0x1908

// Bridge is the part of glctx.Bridge the callbacks use.
type Bridge interface {
	WaitUntilConsumerReady(ctx context.Context) error
	Release()
	MakeCurrent(current bool) bool
	GetProcAddress(name string) unsafe.Pointer
}

// Owner receives notifications from the decoder thread. Implementations
// must not block and must not call back into the session.
type Owner interface {
	DecodedSizeChanged(width, height int)
	FrameAvailable()
	FirstFrame()
}

// Config wires a Surface.
type Config struct {
	Bridge Bridge
	Ring   *framering.Ring
	Owner  Owner
	// ThreadedRendering reports platform support. Nil means supported.
	ThreadedRendering func() bool
	// SessionID tags log lines.
	SessionID string
}

// Surface implements decoder.Callbacks for one session.
type Surface struct {
	bridge    Bridge
	ring      *framering.Ring
	owner     Owner
	threaded  func() bool
	sessionID string

	mu    sync.Mutex
	size  decoder.Size
	swaps uint64
	err   error
}

var _ decoder.Callbacks = (*Surface)(nil)

// New creates the callback surface.
func New(cfg Config) *Surface {
	return &Surface{
		bridge:    cfg.Bridge,
		ring:      cfg.Ring,
		owner:     cfg.Owner,
		threaded:  cfg.ThreadedRendering,
		sessionID: cfg.SessionID,
	}
}

// Setup blocks until the consumer context exists.
func (s *Surface) Setup(ctx context.Context) bool {
	if s.threaded != nil && !s.threaded() {
		s.fail(fmt.Errorf("surface: setup: %w", decoder.ErrUnsupportedPlatform))
		return false
	}

	if err := s.bridge.WaitUntilConsumerReady(ctx); err != nil {
		s.fail(fmt.Errorf("surface: setup: %w", err))
		return false
	}

	s.mu.Lock()
	s.size = decoder.Size{}
	s.swaps = 0
	s.mu.Unlock()

	slog.Debug("surface: setup complete", "session_id", s.sessionID)
	return true
}

// Resize (re)allocates the ring and binds the render buffer.
func (s *Surface) Resize(width, height int) (decoder.RenderConfig, bool) {
	if width <= 0 || height <= 0 {
		s.fail(fmt.Errorf("surface: resize %dx%d: %w", width, height, decoder.ErrSizeInvalid))
		return decoder.RenderConfig{}, false
	}

	s.mu.Lock()
	changed := s.size.Width != width || s.size.Height != height
	s.mu.Unlock()

	if changed {
		s.ring.Release()
		if err := s.ring.Allocate(width, height); err != nil {
			s.fail(fmt.Errorf("surface: resize: %w", err))
			return decoder.RenderConfig{}, false
		}

		s.mu.Lock()
		s.size = decoder.Size{Width: width, Height: height}
		s.mu.Unlock()

		slog.Info("surface: render buffers resized",
			"session_id", s.sessionID,
			"width", width,
			"height", height,
		)
	}

	if buf := s.ring.BeginWrite(); buf != nil {
		buf.Bind()
	}
	if s.owner != nil {
		s.owner.DecodedSizeChanged(width, height)
	}

	return decoder.RenderConfig{
		Format:     glRGBA,
		FullRange:  true,
		Colorspace: "bt709",
		Primaries:  "bt709",
		Transfer:   "srgb",
	}, true
}

// MakeCurrent delegates to the bridge.
func (s *Surface) MakeCurrent(current bool) bool {
	return s.bridge.MakeCurrent(current)
}

// GetProcAddress delegates to the bridge.
func (s *Surface) GetProcAddress(name string) unsafe.Pointer {
	return s.bridge.GetProcAddress(name)
}

// Swap publishes the frame just drawn and binds the next render buffer.
func (s *Surface) Swap() {
	s.ring.CommitWrite()
	if buf := s.ring.BeginWrite(); buf != nil {
		buf.Bind()
	}

	s.mu.Lock()
	s.swaps++
	first := s.swaps == 1
	s.mu.Unlock()

	if s.owner == nil {
		return
	}
	s.owner.FrameAvailable()
	if first {
		slog.Debug("surface: first frame", "session_id", s.sessionID)
		s.owner.FirstFrame()
	}
}

// Cleanup releases the buffers and unblocks a Setup that may still wait.
func (s *Surface) Cleanup() {
	s.ring.Release()
	s.bridge.Release()

	s.mu.Lock()
	s.size = decoder.Size{}
	s.mu.Unlock()

	slog.Debug("surface: cleanup complete", "session_id", s.sessionID)
}

// Size returns the size of the current render buffers, 0x0 before Resize.
func (s *Surface) Size() decoder.Size {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Err returns the last setup or resize failure.
func (s *Surface) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Surface) fail(err error) {
	slog.Warn("surface: callback failed", "session_id", s.sessionID, "error", err)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
