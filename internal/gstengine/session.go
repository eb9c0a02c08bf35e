package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// noAudio is the track id meaning "no audio linked or muted".
const noAudio = -1

// session implements decoder.Session over a GStreamer pipeline.
type session struct {
	id         string
	source     string
	playVideo  bool
	outputCaps string
	timeout    time.Duration

	pipeline *gst.Pipeline
	box      *mailbox
	render   *renderer
	events   chan decoder.Event
	fatal    chan error

	// mu protects pad linking state and lifecycle flags.
	mu          sync.Mutex
	volume      *gst.Element
	videoLinked bool
	audioPads   int
	audioTrack  int
	muted       bool
	released    bool

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started time.Time

	samples uint64 // atomic
	stats   counters

	errorsSource   uint64
	errorsCodec    uint64
	errorsResource uint64
	errorsUnknown  uint64
}

var (
	_ decoder.Session       = (*session)(nil)
	_ decoder.StatsReporter = (*session)(nil)
)

func (s *session) ID() string { return s.id }

// Events returns the status feed. The bus monitor closes it when it returns;
// Release closes it for a session that was never played.
func (s *session) Events() <-chan decoder.Event { return s.events }

// Play starts the pipeline and the decoder thread. Non-blocking.
func (s *session) Play() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return fmt.Errorf("gstengine: play after release: %w", decoder.ErrPlayerClosed)
	}
	if s.ctx != nil {
		s.mu.Unlock()
		return fmt.Errorf("gstengine: session %s: %w", s.id, decoder.ErrAlreadyRunning)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = time.Now()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.render.run(ctx); err != nil {
			slog.Error("gstengine: decoder thread failed", "session_id", s.id, "error", err)
			select {
			case s.fatal <- err:
			default:
			}
		}
	}()
	go s.monitorBus(ctx)

	// Pads appear on streaming threads once the state change starts; they
	// take s.mu, so it must not be held here.
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("gstengine: failed to start pipeline: %w", err)
	}

	slog.Info("gstengine: session playing",
		"session_id", s.id,
		"source", s.source,
		"note", "frames will arrive asynchronously once pipeline reaches PLAYING state",
	)
	return nil
}

// Release gracefully shuts down the session
//
// This method:
//  1. Cancels context and wakes the decoder thread
//  2. Waits for goroutines to finish (bounded by the engine stop timeout)
//  3. Stops the GStreamer pipeline
//
// Idempotent - safe to call multiple times.
func (s *session) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	wasPlaying := s.ctx != nil
	s.mu.Unlock()

	slog.Info("gstengine: releasing session", "session_id", s.id)

	s.box.close()
	if wasPlaying {
		s.cancel()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			slog.Debug("gstengine: goroutines stopped cleanly", "session_id", s.id)
		case <-time.After(s.timeout):
			slog.Warn("gstengine: stop timeout exceeded, some goroutines may still be running",
				"session_id", s.id,
				"timeout", s.timeout,
			)
		}
	} else {
		close(s.events)
	}

	if err := destroyPipeline(s.pipeline); err != nil {
		slog.Error("gstengine: failed to destroy pipeline", "session_id", s.id, "error", err)
	}

	st := s.Stats()
	slog.Info("gstengine: session released",
		"session_id", s.id,
		"frames_rendered", st.Rendered,
		"frames_dropped", st.Dropped,
		"uptime", time.Since(s.started),
	)
	return nil
}

// AudioTrack returns the linked audio track, -1 when none or muted.
func (s *session) AudioTrack() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.muted {
		return noAudio
	}
	return s.audioTrack
}

// SetAudioTrack mutes (-1) or unmutes the linked track.
func (s *session) SetAudioTrack(track int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.volume == nil {
		if track == noAudio {
			return nil
		}
		return fmt.Errorf("gstengine: audio track %d: no audio stream linked", track)
	}

	switch track {
	case noAudio:
		s.volume.SetProperty("mute", true)
		s.muted = true
	case s.audioTrack:
		s.volume.SetProperty("mute", false)
		s.muted = false
	default:
		return fmt.Errorf("gstengine: audio track %d not available (linked track %d)", track, s.audioTrack)
	}

	slog.Debug("gstengine: audio track set", "session_id", s.id, "track", track)
	return nil
}

// Stats returns current session statistics. Thread-safe.
func (s *session) Stats() decoder.SessionStats {
	return decoder.SessionStats{
		Samples:   atomic.LoadUint64(&s.samples),
		Dropped:   s.box.dropped(),
		Rendered:  atomic.LoadUint64(&s.stats.rendered),
		Skipped:   atomic.LoadUint64(&s.stats.skipped),
		Failed:    atomic.LoadUint64(&s.stats.failed),
		BytesRead: atomic.LoadUint64(&s.stats.bytes),
		Errors: map[string]uint64{
			ErrCategorySource.String():   atomic.LoadUint64(&s.errorsSource),
			ErrCategoryCodec.String():    atomic.LoadUint64(&s.errorsCodec),
			ErrCategoryResource.String(): atomic.LoadUint64(&s.errorsResource),
			ErrCategoryUnknown.String():  atomic.LoadUint64(&s.errorsUnknown),
		},
	}
}

func (s *session) countError(category ErrorCategory) {
	switch category {
	case ErrCategorySource:
		atomic.AddUint64(&s.errorsSource, 1)
	case ErrCategoryCodec:
		atomic.AddUint64(&s.errorsCodec, 1)
	case ErrCategoryResource:
		atomic.AddUint64(&s.errorsResource, 1)
	default:
		atomic.AddUint64(&s.errorsUnknown, 1)
	}
}

// onNewSample is called by GStreamer when a new frame is available.
//
// Copies the pixels (GStreamer reuses the buffer) into the mailbox and
// returns immediately. A bad sample is skipped, never fatal.
func (s *session) onNewSample(sink *app.Sink) gst.FlowReturn {
	smp := sink.PullSample()
	if smp == nil {
		slog.Warn("gstengine: failed to pull sample from appsink, skipping frame", "session_id", s.id)
		return gst.FlowOK
	}

	width, height, ok := sampleSize(smp)
	if !ok {
		slog.Warn("gstengine: sample without size caps, skipping frame", "session_id", s.id)
		return gst.FlowOK
	}

	buffer := smp.GetBuffer()
	if buffer == nil {
		slog.Warn("gstengine: failed to get buffer from sample, skipping frame", "session_id", s.id)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		slog.Warn("gstengine: empty buffer received", "session_id", s.id)
		return gst.FlowOK
	}

	pixels := make([]byte, len(data))
	copy(pixels, data)
	buffer.Unmap()

	seq := atomic.AddUint64(&s.samples, 1)
	s.box.put(&sample{seq: seq, width: width, height: height, pixels: pixels})
	return gst.FlowOK
}

func sampleSize(smp *gst.Sample) (int, int, bool) {
	caps := smp.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, false
	}
	st := caps.GetStructureAt(0)
	wv, err := st.GetValue("width")
	if err != nil {
		return 0, 0, false
	}
	hv, err := st.GetValue("height")
	if err != nil {
		return 0, 0, false
	}
	w, okW := asInt(wv)
	h, okH := asInt(hv)
	return w, h, okW && okH && w > 0 && h > 0
}

// asInt converts a GValue-derived number to int.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	default:
		return 0, false
	}
}

func newSessionID() string {
	return uuid.New().String()
}
