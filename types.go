package videosurface

import (
	"time"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
	"github.com/e7canasta/orion-video-surface/internal/framering"
	"github.com/e7canasta/orion-video-surface/internal/glctx"
)

// Size is a width/height pair in pixels.
type Size = decoder.Size

// Status is the lifecycle state of the player.
type Status = decoder.Status

// Lifecycle states.
const (
	StatusIdle      = decoder.StatusIdle
	StatusOpening   = decoder.StatusOpening
	StatusBuffering = decoder.StatusBuffering
	StatusPlaying   = decoder.StatusPlaying
	StatusPaused    = decoder.StatusPaused
	StatusStopped   = decoder.StatusStopped
)

// Engine creates decoding sessions (gstengine.Engine in production).
type Engine = decoder.Engine

// Session is one live decoding session.
type Session = decoder.Session

// SessionConfig is what the player hands the engine on Start.
type SessionConfig = decoder.SessionConfig

// Frame is one GPU frame buffer. Texture() is what the render loop draws.
type Frame = framering.Buffer

// BufferAllocator creates frame buffers (gpu.Allocator in production).
type BufferAllocator = framering.Allocator

// SharedContext is the render thread's GL context handle.
type SharedContext = glctx.SharedContext

// ContextFactory creates the decoder's offscreen context (glctx.SDLFactory
// in production).
type ContextFactory = glctx.ContextFactory

// NoTrack marks "no original audio track recorded yet".
const NoTrack = -99999

// Config configures a Player.
type Config struct {
	// Source is a file path or stream URI, passed to the engine unmodified.
	Source string
	// TargetSize is the viewport the video is fitted into.
	TargetSize Size
	PlayAudio  bool
	PlayVideo  bool

	// ReadinessTimeout bounds how long a new session waits for
	// NotifyConsumerReady. Zero waits forever.
	ReadinessTimeout time.Duration

	// Probe returns the native size of a source before decoding starts.
	// Optional; errors are logged and ignored.
	Probe func(source string) (Size, error)

	// ThreadedRendering reports whether the platform supports rendering from
	// the decoder thread. Nil means supported.
	ThreadedRendering func() bool

	// OnStatus is called for every applied status change. Must not block and
	// must not call lifecycle methods synchronously.
	OnStatus func(StatusEvent)

	// OnDestroy is called once after the player has been destroyed.
	OnDestroy func()
}

// StatusEvent reports a status change of the live session.
type StatusEvent struct {
	SessionID string
	Status    Status
	// Err is set when the engine reported an error.
	Err  error
	Time time.Time
}

// PostStopAction is the one-shot request consumed when a stop completes.
type PostStopAction int

const (
	// PostStopNone leaves the player idle.
	PostStopNone PostStopAction = iota
	// PostStopRestart starts a new session.
	PostStopRestart
	// PostStopDelete destroys the player.
	PostStopDelete
)

// String returns the action name.
func (a PostStopAction) String() string {
	switch a {
	case PostStopNone:
		return "none"
	case PostStopRestart:
		return "restart"
	case PostStopDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of player counters.
type Stats struct {
	Status      Status
	Source      string
	DecodedSize Size
	TargetSize  Size
	VideoSize   Size
	// Starts counts sessions created, Restarts the subset started by a
	// post-stop restart, Stops the sessions torn down.
	Starts   uint64
	Stops    uint64
	Restarts uint64
	// FramesAvailable counts swap notifications from the decoder.
	FramesAvailable uint64
	// Ring is the frame ring of the live session (zero without one).
	Ring framering.Stats
	// Session holds engine counters when the engine exposes them.
	Session decoder.SessionStats
}
