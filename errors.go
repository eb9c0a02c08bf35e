package videosurface

import "github.com/e7canasta/orion-video-surface/internal/decoder"

// Errors returned by the player and its collaborators. Match with errors.Is.
var (
	ErrInvalidSource       = decoder.ErrInvalidSource
	ErrSessionCreateFailed = decoder.ErrSessionCreateFailed
	ErrAlreadyRunning      = decoder.ErrAlreadyRunning
	ErrSizeInvalid         = decoder.ErrSizeInvalid
	ErrContextUnavailable  = decoder.ErrContextUnavailable
	ErrUnsupportedPlatform = decoder.ErrUnsupportedPlatform
	ErrPlayerClosed        = decoder.ErrPlayerClosed
	ErrNoFrame             = decoder.ErrNoFrame
)
