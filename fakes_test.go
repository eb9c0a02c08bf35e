package videosurface_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"
	"unsafe"

	videosurface "github.com/e7canasta/orion-video-surface"
	"github.com/e7canasta/orion-video-surface/internal/decoder"
	"github.com/e7canasta/orion-video-surface/internal/framering"
	"github.com/e7canasta/orion-video-surface/internal/glctx"
)

// journal records calls across fakes so tests can assert ordering.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(entry string) {
	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()
}

func (j *journal) list() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func (j *journal) count(entry string) int {
	n := 0
	for _, e := range j.list() {
		if e == entry {
			n++
		}
	}
	return n
}

// fakeSession is a decoder session driven by the test.
type fakeSession struct {
	id     string
	cfg    decoder.SessionConfig
	log    *journal
	events chan decoder.Event

	mu        sync.Mutex
	track     int
	setTracks []int
	released  bool
	playErr   error
	// keepFeed leaves the event feed open after Release until finish.
	keepFeed bool
}

func (s *fakeSession) ID() string                   { return s.id }
func (s *fakeSession) Events() <-chan decoder.Event { return s.events }

func (s *fakeSession) Play() error {
	s.log.add("play " + s.id)
	return s.playErr
}

func (s *fakeSession) Release() error {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil
	}
	s.released = true
	keep := s.keepFeed
	s.mu.Unlock()

	s.cfg.Callbacks.Cleanup()
	if !keep {
		close(s.events)
	}
	s.log.add("release " + s.id)
	return nil
}

func (s *fakeSession) lingerAfterRelease() {
	s.mu.Lock()
	s.keepFeed = true
	s.mu.Unlock()
}

// finish closes a feed kept open by lingerAfterRelease.
func (s *fakeSession) finish() {
	close(s.events)
}

func (s *fakeSession) AudioTrack() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSession) SetAudioTrack(track int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setTracks = append(s.setTracks, track)
	s.track = track
	return nil
}

func (s *fakeSession) trackCalls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.setTracks...)
}

func (s *fakeSession) Stats() decoder.SessionStats {
	return decoder.SessionStats{Samples: 42}
}

// emit delivers an event. The feed is unbuffered, so emit returns once the
// player has received it.
func (s *fakeSession) emit(t *testing.T, status decoder.Status, err error) {
	t.Helper()
	select {
	case s.events <- decoder.Event{Status: status, Err: err}:
	case <-time.After(time.Second):
		t.Fatalf("session %s: event %v not received", s.id, status)
	}
}

// decode plays the decoder thread: setup, one resize, n swaps.
func (s *fakeSession) decode(t *testing.T, width, height, swaps int) {
	t.Helper()
	cb := s.cfg.Callbacks
	if !cb.Setup(context.Background()) {
		t.Fatalf("session %s: setup failed", s.id)
	}
	if !cb.MakeCurrent(true) {
		t.Fatalf("session %s: make current failed", s.id)
	}
	if _, ok := cb.Resize(width, height); !ok {
		t.Fatalf("session %s: resize failed", s.id)
	}
	for i := 0; i < swaps; i++ {
		cb.Swap()
	}
	cb.MakeCurrent(false)
}

type fakeEngine struct {
	log      *journal
	track    int
	failWith error
	playErr  error

	mu       sync.Mutex
	sessions []*fakeSession
}

func (e *fakeEngine) NewSession(cfg decoder.SessionConfig) (decoder.Session, error) {
	if e.failWith != nil {
		return nil, e.failWith
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := &fakeSession{
		id:      fmt.Sprintf("s%d", len(e.sessions)+1),
		cfg:     cfg,
		log:     e.log,
		events:  make(chan decoder.Event),
		track:   e.track,
		playErr: e.playErr,
	}
	e.sessions = append(e.sessions, s)
	e.log.add("create " + s.id)
	return s, nil
}

func (e *fakeEngine) session(t *testing.T, i int) *fakeSession {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.sessions) {
		t.Fatalf("session %d not created (have %d)", i, len(e.sessions))
	}
	return e.sessions[i]
}

func (e *fakeEngine) created() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

type fakeGLContext struct{}

func (fakeGLContext) MakeCurrent(bool) error            { return nil }
func (fakeGLContext) ProcAddress(string) unsafe.Pointer { return nil }
func (fakeGLContext) Destroy()                          {}

type fakeContexts struct{}

func (fakeContexts) Create(glctx.SharedContext) (glctx.Context, error) {
	return fakeGLContext{}, nil
}

type fakeBuffer struct {
	id            int
	width, height int
	destroyed     bool
}

func (b *fakeBuffer) Width() int      { return b.width }
func (b *fakeBuffer) Height() int     { return b.height }
func (b *fakeBuffer) Texture() uint32 { return uint32(b.id) }
func (b *fakeBuffer) Bind()           {}
func (b *fakeBuffer) Destroy()        { b.destroyed = true }

func (b *fakeBuffer) ReadImage() (*image.RGBA, error) {
	if b.destroyed {
		return nil, errors.New("buffer destroyed")
	}
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	img.SetRGBA(0, 0, color.RGBA{R: uint8(b.id), A: 255})
	return img, nil
}

type fakeAllocator struct {
	mu   sync.Mutex
	next int
}

func (a *fakeAllocator) Allocate(width, height int) (framering.Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return &fakeBuffer{id: a.next, width: width, height: height}, nil
}

// harness wires a player to fakes.
type harness struct {
	player   *videosurface.Player
	engine   *fakeEngine
	log      *journal
	statuses chan videosurface.StatusEvent
}

func newHarness(t *testing.T, mutate func(*videosurface.Config)) *harness {
	t.Helper()
	log := &journal{}
	h := &harness{
		engine:   &fakeEngine{log: log, track: 1},
		log:      log,
		statuses: make(chan videosurface.StatusEvent, 64),
	}
	cfg := videosurface.Config{
		Source:           "/media/cave.mp4",
		TargetSize:       videosurface.Size{Width: 800, Height: 600},
		PlayAudio:        true,
		PlayVideo:        true,
		ReadinessTimeout: 2 * time.Second,
		OnStatus: func(ev videosurface.StatusEvent) {
			select {
			case h.statuses <- ev:
			default:
			}
		},
		OnDestroy: func() { log.add("destroy") },
	}
	if mutate != nil {
		mutate(&cfg)
	}

	p, err := videosurface.NewPlayer(h.engine, fakeContexts{}, &fakeAllocator{}, cfg)
	if err != nil {
		t.Fatalf("NewPlayer: %v", err)
	}
	if err := p.NotifyConsumerReady("consumer-context"); err != nil {
		t.Fatalf("NotifyConsumerReady: %v", err)
	}
	h.player = p
	t.Cleanup(func() { p.Close() })
	return h
}

// waitStatus waits until the player reports want for session id.
func (h *harness) waitStatus(t *testing.T, id string, want videosurface.Status) videosurface.StatusEvent {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-h.statuses:
			if ev.SessionID == id && ev.Status == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("status %v for %s not reported", want, id)
		}
	}
}

// play starts a session and drives it to Playing.
func (h *harness) play(t *testing.T) *fakeSession {
	t.Helper()
	if err := h.player.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s := h.engine.session(t, h.engine.created()-1)
	s.emit(t, decoder.StatusPlaying, nil)
	h.waitStatus(t, s.id, videosurface.StatusPlaying)
	return s
}
