// Package decoder defines the contract between the playback core and a
// threaded decoding engine.
//
// The engine owns its decoder thread. The core never schedules that thread,
// it only hands the engine a Callbacks value at session creation and the
// engine invokes it at fixed points:
//
//	Setup → (MakeCurrent(true) → Resize? → draw → Swap → MakeCurrent(false))* → Cleanup
//
// Callbacks are registered once per session and stay valid for the whole
// session lifetime.
package decoder

import (
	"context"
	"fmt"
	"unsafe"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int
	Height int
}

// Empty reports whether either dimension is zero or negative.
func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}

// String returns "WxH".
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Fit scales s to the largest size inside target keeping the aspect ratio.
// Zero when either size is empty.
func (s Size) Fit(target Size) Size {
	if s.Empty() || target.Empty() {
		return Size{}
	}
	w := int(int64(target.Height) * int64(s.Width) / int64(s.Height))
	if w <= target.Width {
		return Size{Width: w, Height: target.Height}
	}
	return Size{
		Width:  target.Width,
		Height: int(int64(target.Width) * int64(s.Height) / int64(s.Width)),
	}
}

// RenderConfig describes the buffer the decoder must render into.
// Returned from Callbacks.Resize.
type RenderConfig struct {
	// Format is the GL pixel format of the render target (GL_RGBA).
	Format uint32
	// FullRange selects full-range (0-255) output.
	FullRange bool
	// Colorspace, Primaries and Transfer name the color description.
	Colorspace string
	Primaries  string
	Transfer   string
}

// Callbacks is the fixed decoder plugin contract.
//
// Thread model:
//   - Setup, Resize, MakeCurrent, GetProcAddress and Swap run on the
//     decoder thread
//   - Cleanup may run on any thread
type Callbacks interface {
	// Setup blocks until the consumer context exists (or ctx/timeout ends).
	// Returns false if the session cannot render.
	Setup(ctx context.Context) bool

	// Resize (re)allocates render targets for width x height and binds the
	// current render buffer. Returns false on failure.
	Resize(width, height int) (RenderConfig, bool)

	// MakeCurrent binds (true) or unbinds (false) the offscreen context on the
	// calling thread. False means "cannot render this call, skip".
	MakeCurrent(current bool) bool

	// GetProcAddress resolves a GL entry point, nil if no context exists.
	GetProcAddress(name string) unsafe.Pointer

	// Swap publishes the frame just drawn.
	Swap()

	// Cleanup releases render targets and unblocks a stalled Setup.
	Cleanup()
}

// Status is the lifecycle state reported by a decoding session.
type Status int

const (
	// StatusIdle means no session or a session that has not reported yet.
	StatusIdle Status = iota
	// StatusOpening means the source is being opened.
	StatusOpening
	// StatusBuffering means the engine is filling its buffers.
	StatusBuffering
	// StatusPlaying means frames are flowing.
	StatusPlaying
	// StatusPaused means playback is paused.
	StatusPaused
	// StatusStopped means the engine reached end of stream or failed.
	StatusStopped
)

// String returns a human-readable status name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusOpening:
		return "opening"
	case StatusBuffering:
		return "buffering"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event is a single entry of a session's status feed.
type Event struct {
	Status Status
	// Err is set when the engine reported an error. Status is then Stopped.
	Err error
}

// SessionConfig is everything an engine needs to open one session.
type SessionConfig struct {
	// Source is a file path or stream URI, passed through unmodified.
	Source string
	// TargetSize is the consumer viewport. Engines may scale output to fit it.
	TargetSize Size
	// NativeSize is the probed source size, zero when unknown.
	NativeSize Size
	PlayAudio  bool
	PlayVideo  bool
	// Callbacks is the surface the decoder thread drives.
	Callbacks Callbacks
}

// Session is one live decoding session.
//
// Release is synchronous: when it returns the engine no longer calls into
// Callbacks, except that a final Cleanup may already be in flight on the
// decoder thread. Events may still be delivered briefly after Release.
type Session interface {
	// ID uniquely identifies the session (used to discard stale events).
	ID() string
	// Play starts decoding. Does not block on the decoder.
	Play() error
	// Release tears the session down. Idempotent.
	Release() error
	// Events returns the status feed. Closed after Release.
	Events() <-chan Event
	// AudioTrack returns the active audio track id, -1 when disabled.
	AudioTrack() int
	// SetAudioTrack selects a track, -1 disables audio.
	SetAudioTrack(track int) error
}

// SessionStats are engine-side counters of one session.
type SessionStats struct {
	// Samples is the number of decoded frames handed over by the engine
	Samples uint64
	// Dropped is the number of frames replaced before the decoder thread took them
	Dropped uint64
	// Rendered is the number of frames drawn and swapped
	Rendered uint64
	// Skipped is the number of frames skipped because no context could be made current
	Skipped uint64
	// Failed is the number of frames that failed resize or upload
	Failed uint64
	// BytesRead is the total pixel bytes copied out of the engine
	BytesRead uint64
	// Errors counts engine errors by category
	Errors map[string]uint64
}

// StatsReporter is implemented by sessions that expose counters.
type StatsReporter interface {
	Stats() SessionStats
}

// Engine creates decoding sessions. Constructed explicitly and passed to the
// player; its lifetime is tied to the process, not to any session.
type Engine interface {
	NewSession(cfg SessionConfig) (Session, error)
}
