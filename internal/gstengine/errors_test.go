package gstengine

import "testing"

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name    string
		message string
		debug   string
		want    ErrorCategory
	}{
		{
			name:    "missing file",
			message: "Resource not found.",
			debug:   "gstfilesrc.c(532): No such file \"/media/missing.mp4\"",
			want:    ErrCategorySource,
		},
		{
			name:    "http source",
			message: "Could not open resource for reading.",
			debug:   "souphttpsrc: Connection refused",
			want:    ErrCategorySource,
		},
		{
			name:    "missing decoder",
			message: "Your GStreamer installation is missing a plug-in.",
			debug:   "no decoder available for type 'video/x-h265'",
			want:    ErrCategoryCodec,
		},
		{
			name:    "negotiation",
			message: "Internal data stream error.",
			debug:   "streaming stopped, reason not-negotiated (-4)",
			want:    ErrCategoryCodec,
		},
		{
			name:    "audio device busy",
			message: "Could not open audio device for playback.",
			debug:   "pulsesink: Device or resource busy",
			want:    ErrCategoryResource,
		},
		{
			name:    "unclassified",
			message: "Something odd happened",
			debug:   "",
			want:    ErrCategoryUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyMessage(tt.message, tt.debug)
			if got != tt.want {
				t.Errorf("ClassifyMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyGStreamerError_Nil(t *testing.T) {
	if got := ClassifyGStreamerError(nil); got != ErrCategoryUnknown {
		t.Errorf("ClassifyGStreamerError(nil) = %v, want unknown", got)
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		want     string
	}{
		{ErrCategorySource, "source"},
		{ErrCategoryCodec, "codec"},
		{ErrCategoryResource, "resource"},
		{ErrCategoryUnknown, "unknown"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.want {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", int(tt.category), got, tt.want)
		}
	}
}
