package gstengine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tinyzimmer/go-gst/gst"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

type busKind int

const (
	busOther busKind = iota
	busEOS
	busError
	busBuffering
	busStateChanged
)

// busMessage is the part of a bus message the status mapping needs.
type busMessage struct {
	kind         busKind
	fromPipeline bool
	percent      int
	oldState     gst.State
	newState     gst.State
	err          error
}

// statusTracker maps bus messages to session status transitions.
type statusTracker struct {
	state gst.State
}

// translate returns the event to publish and whether the monitor must stop.
// ok is false when the message does not change the status.
func (t *statusTracker) translate(m busMessage) (ev decoder.Event, ok bool, done bool) {
	switch m.kind {
	case busEOS:
		return decoder.Event{Status: decoder.StatusStopped}, true, true

	case busError:
		return decoder.Event{Status: decoder.StatusStopped, Err: m.err}, true, true

	case busBuffering:
		if m.percent < 100 {
			return decoder.Event{Status: decoder.StatusBuffering}, true, false
		}
		if t.state == gst.StatePlaying {
			return decoder.Event{Status: decoder.StatusPlaying}, true, false
		}

	case busStateChanged:
		if !m.fromPipeline {
			return decoder.Event{}, false, false
		}
		t.state = m.newState
		switch {
		case m.newState == gst.StatePlaying:
			return decoder.Event{Status: decoder.StatusPlaying}, true, false
		case m.oldState == gst.StatePlaying && m.newState == gst.StatePaused:
			return decoder.Event{Status: decoder.StatusPaused}, true, false
		}
	}
	return decoder.Event{}, false, false
}

// monitorBus publishes status events until EOS, error, setup failure or
// cancellation. It is the only sender on events and closes it on return.
func (s *session) monitorBus(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	s.emit(ctx, decoder.Event{Status: decoder.StatusOpening})

	bus := s.pipeline.GetPipelineBus()
	pipelineName := s.pipeline.GetName()
	tracker := &statusTracker{state: gst.StateNull}

	for {
		select {
		case <-ctx.Done():
			slog.Debug("gstengine: context cancelled, stopping bus monitor", "session_id", s.id)
			return

		case err := <-s.fatal:
			s.emit(ctx, decoder.Event{Status: decoder.StatusStopped, Err: err})
			return

		default:
			// Poll for messages with short timeout for responsive shutdown
			msg := bus.TimedPop(50 * time.Millisecond)
			if msg == nil {
				continue
			}

			m := s.parseMessage(msg, pipelineName)
			ev, ok, done := tracker.translate(m)
			if ok {
				slog.Debug("gstengine: status changed",
					"session_id", s.id,
					"status", ev.Status.String(),
				)
				s.emit(ctx, ev)
			}
			if done {
				return
			}
		}
	}
}

func (s *session) parseMessage(msg *gst.Message, pipelineName string) busMessage {
	switch msg.Type() {
	case gst.MessageEOS:
		slog.Info("gstengine: end of stream",
			"session_id", s.id,
			"source", s.source,
			"uptime", time.Since(s.started),
		)
		return busMessage{kind: busEOS}

	case gst.MessageError:
		gerr := msg.ParseError()
		category := ClassifyGStreamerError(gerr)
		s.countError(category)

		message, debug := "unknown error", ""
		if gerr != nil {
			message, debug = gerr.Error(), gerr.DebugString()
		}
		slog.Error("gstengine: pipeline error",
			"session_id", s.id,
			"error", message,
			"debug", debug,
			"category", category.String(),
			"source", s.source,
			"uptime", time.Since(s.started),
		)
		return busMessage{
			kind: busError,
			err:  fmt.Errorf("gstengine: pipeline error [%s]: %s", category.String(), message),
		}

	case gst.MessageBuffering:
		return busMessage{kind: busBuffering, percent: msg.ParseBuffering()}

	case gst.MessageStateChanged:
		old, new := msg.ParseStateChanged()
		return busMessage{
			kind:         busStateChanged,
			fromPipeline: msg.Source() == pipelineName,
			oldState:     old,
			newState:     new,
		}
	}
	return busMessage{kind: busOther}
}

func (s *session) emit(ctx context.Context, ev decoder.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}
