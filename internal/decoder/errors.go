package decoder

import "errors"

// Error taxonomy shared by every layer. All conditions are local and
// recoverable; callers match them with errors.Is.
var (
	// ErrInvalidSource means the media path is empty or unreadable.
	ErrInvalidSource = errors.New("invalid source")
	// ErrSessionCreateFailed means the decoding engine rejected the session.
	ErrSessionCreateFailed = errors.New("session create failed")
	// ErrAlreadyRunning means Start was called with a live session.
	ErrAlreadyRunning = errors.New("already running")
	// ErrSizeInvalid means a zero-area allocate or resize.
	ErrSizeInvalid = errors.New("size invalid")
	// ErrContextUnavailable means the offscreen context does not exist (yet).
	ErrContextUnavailable = errors.New("context unavailable")
	// ErrUnsupportedPlatform means threaded rendering is not available.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrPlayerClosed means the player was destroyed.
	ErrPlayerClosed = errors.New("player closed")
	// ErrNoFrame means no complete frame is available.
	ErrNoFrame = errors.New("no frame")
)
