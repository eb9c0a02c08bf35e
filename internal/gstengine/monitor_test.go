package gstengine

import (
	"errors"
	"testing"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

func TestStatusTracker_Translate(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name     string
		start    gst.State
		msg      busMessage
		wantOK   bool
		wantDone bool
		want     decoder.Status
		wantErr  bool
	}{
		{
			name:     "eos stops",
			msg:      busMessage{kind: busEOS},
			wantOK:   true,
			wantDone: true,
			want:     decoder.StatusStopped,
		},
		{
			name:     "error stops with error",
			msg:      busMessage{kind: busError, err: boom},
			wantOK:   true,
			wantDone: true,
			want:     decoder.StatusStopped,
			wantErr:  true,
		},
		{
			name:   "buffering below 100",
			msg:    busMessage{kind: busBuffering, percent: 40},
			wantOK: true,
			want:   decoder.StatusBuffering,
		},
		{
			name:   "buffering done while playing",
			start:  gst.StatePlaying,
			msg:    busMessage{kind: busBuffering, percent: 100},
			wantOK: true,
			want:   decoder.StatusPlaying,
		},
		{
			name:  "buffering done while prerolling",
			start: gst.StatePaused,
			msg:   busMessage{kind: busBuffering, percent: 100},
		},
		{
			name:   "pipeline playing",
			msg:    busMessage{kind: busStateChanged, fromPipeline: true, oldState: gst.StatePaused, newState: gst.StatePlaying},
			wantOK: true,
			want:   decoder.StatusPlaying,
		},
		{
			name:   "pipeline paused from playing",
			msg:    busMessage{kind: busStateChanged, fromPipeline: true, oldState: gst.StatePlaying, newState: gst.StatePaused},
			wantOK: true,
			want:   decoder.StatusPaused,
		},
		{
			name: "preroll pause ignored",
			msg:  busMessage{kind: busStateChanged, fromPipeline: true, oldState: gst.StateReady, newState: gst.StatePaused},
		},
		{
			name: "element state ignored",
			msg:  busMessage{kind: busStateChanged, fromPipeline: false, oldState: gst.StatePaused, newState: gst.StatePlaying},
		},
		{
			name: "other ignored",
			msg:  busMessage{kind: busOther},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := &statusTracker{state: tt.start}
			ev, ok, done := tracker.translate(tt.msg)

			if ok != tt.wantOK || done != tt.wantDone {
				t.Fatalf("translate() ok=%v done=%v, want ok=%v done=%v", ok, done, tt.wantOK, tt.wantDone)
			}
			if !ok {
				return
			}
			if ev.Status != tt.want {
				t.Errorf("status = %v, want %v", ev.Status, tt.want)
			}
			if (ev.Err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", ev.Err, tt.wantErr)
			}
		})
	}
}

func TestStatusTracker_TracksPipelineState(t *testing.T) {
	tracker := &statusTracker{state: gst.StateNull}

	tracker.translate(busMessage{kind: busStateChanged, fromPipeline: true, oldState: gst.StatePaused, newState: gst.StatePlaying})
	if _, ok, _ := tracker.translate(busMessage{kind: busBuffering, percent: 100}); !ok {
		t.Error("buffering 100% after PLAYING should report playing")
	}

	tracker.translate(busMessage{kind: busStateChanged, fromPipeline: true, oldState: gst.StatePlaying, newState: gst.StatePaused})
	if _, ok, _ := tracker.translate(busMessage{kind: busBuffering, percent: 100}); ok {
		t.Error("buffering 100% while paused should not report playing")
	}
}
