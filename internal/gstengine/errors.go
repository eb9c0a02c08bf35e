package gstengine

import (
	"strings"

	"github.com/tinyzimmer/go-gst/gst"
)

// ErrorCategory classifies GStreamer errors for telemetry.
type ErrorCategory int

const (
	// ErrCategorySource indicates the media could not be opened or read
	// (missing file, bad URI, network source failures)
	ErrCategorySource ErrorCategory = iota
	// ErrCategoryCodec indicates decode or negotiation failures
	ErrCategoryCodec
	// ErrCategoryResource indicates output devices or memory problems
	ErrCategoryResource
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategorySource:
		return "source"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ClassifyGStreamerError categorizes a bus error.
// go-gst's GError does not expose the domain, so classification is keyword based.
func ClassifyGStreamerError(gerr *gst.GError) ErrorCategory {
	if gerr == nil {
		return ErrCategoryUnknown
	}
	return ClassifyMessage(gerr.Error(), gerr.DebugString())
}

// ClassifyMessage categorizes an error from its message and debug strings.
//
// Priority: codec (most specific), then resource, then source.
func ClassifyMessage(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	if containsAny(combined, codecKeywords) {
		return ErrCategoryCodec
	}
	if containsAny(combined, resourceKeywords) {
		return ErrCategoryResource
	}
	if containsAny(combined, sourceKeywords) {
		return ErrCategorySource
	}
	return ErrCategoryUnknown
}

var codecKeywords = []string{
	"codec",
	"decode",
	"not negotiated",
	"not-negotiated",
	"negotiation",
	"caps",
	"no decoder",
	"missing plugin",
	"demux",
	"stream type",
	"h264",
	"h265",
	"vp9",
	"av1",
}

var sourceKeywords = []string{
	"no such file",
	"not found",
	"could not open",
	"resource not found",
	"invalid uri",
	"permission denied",
	"could not read",
	"connection",
	"timeout",
	"unreachable",
	"http",
}

var resourceKeywords = []string{
	"audio sink",
	"audiosink",
	"device",
	"busy",
	"out of memory",
	"allocate",
	"pulse",
	"alsa",
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
