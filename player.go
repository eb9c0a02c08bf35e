package videosurface

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
	"github.com/e7canasta/orion-video-surface/internal/framering"
	"github.com/e7canasta/orion-video-surface/internal/glctx"
	"github.com/e7canasta/orion-video-surface/internal/surface"
)

// Player owns the decoder session and the frame ring of one video.
//
// Two locks: opMu serializes lifecycle operations (it is held across
// session teardown), mu guards the state read by the render loop and by
// decoder-thread notifications. Decoder-thread paths never take opMu, so a
// synchronous Release cannot deadlock against them.
type Player struct {
	engine  Engine
	buffers BufferAllocator
	bridge  *glctx.Bridge
	cfg     Config

	opMu sync.Mutex

	mu            sync.Mutex
	source        string
	target        Size
	playAudio     bool
	playVideo     bool
	session       Session
	ring          *framering.Ring
	generation    uint64 // of the live session, 0 when none
	status        Status
	isError       bool
	pending       PostStopAction
	originalTrack int
	decoded       Size
	geometry      Geometry
	hasFrame      bool
	closed        bool
	destroyed     bool

	starts, stops, restarts uint64
	framesAvailable         uint64

	frameAvailable chan struct{}
	firstFrame     chan struct{}
}

// NewPlayer creates an idle player. engine, contexts and buffers are
// required.
func NewPlayer(engine Engine, contexts ContextFactory, buffers BufferAllocator, cfg Config) (*Player, error) {
	if engine == nil {
		return nil, errors.New("videosurface: engine is required")
	}
	if contexts == nil {
		return nil, errors.New("videosurface: context factory is required")
	}
	if buffers == nil {
		return nil, errors.New("videosurface: buffer allocator is required")
	}

	p := &Player{
		engine:         engine,
		buffers:        buffers,
		bridge:         glctx.NewBridge(contexts, cfg.ReadinessTimeout),
		cfg:            cfg,
		source:         cfg.Source,
		target:         cfg.TargetSize,
		playAudio:      cfg.PlayAudio,
		playVideo:      cfg.PlayVideo,
		originalTrack:  NoTrack,
		frameAvailable: make(chan struct{}, 1),
		firstFrame:     make(chan struct{}, 1),
	}
	return p, nil
}

// Start creates and plays a new session. It never waits for the decoder.
// On failure the player stays Idle.
func (p *Player) Start() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.start()
}

func (p *Player) start() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return fmt.Errorf("videosurface: start: %w", ErrPlayerClosed)
	}
	if p.session != nil {
		p.mu.Unlock()
		return fmt.Errorf("videosurface: start: %w", ErrAlreadyRunning)
	}
	if p.source == "" {
		p.mu.Unlock()
		return fmt.Errorf("videosurface: start: %w", ErrInvalidSource)
	}
	source, target := p.source, p.target
	playAudio, playVideo := p.playAudio, p.playVideo
	generation := p.starts + 1
	p.isError = false
	p.mu.Unlock()

	select {
	case <-p.firstFrame:
	default:
	}

	var native Size
	if p.cfg.Probe != nil {
		size, err := p.cfg.Probe(source)
		if err != nil {
			slog.Debug("videosurface: native size unknown", "source", source, "error", err)
		} else {
			native = size
		}
	}

	ring := framering.New(p.buffers)
	surf := surface.New(surface.Config{
		Bridge:            p.bridge,
		Ring:              ring,
		Owner:             &sessionOwner{p: p, generation: generation},
		ThreadedRendering: p.cfg.ThreadedRendering,
		SessionID:         fmt.Sprintf("%d", generation),
	})

	sess, err := p.engine.NewSession(decoder.SessionConfig{
		Source:     source,
		TargetSize: target,
		NativeSize: native,
		PlayAudio:  playAudio,
		PlayVideo:  playVideo,
		Callbacks:  surf,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidSource) || errors.Is(err, ErrSessionCreateFailed) {
			return fmt.Errorf("videosurface: start: %w", err)
		}
		return fmt.Errorf("videosurface: start: %w: %w", ErrSessionCreateFailed, err)
	}

	p.mu.Lock()
	p.session = sess
	p.ring = ring
	p.generation = generation
	p.starts++
	p.status = StatusOpening
	p.originalTrack = NoTrack
	p.hasFrame = false
	p.decoded = native
	p.rebuildGeometryLocked()
	p.mu.Unlock()

	// Opening is announced here, before any engine event can be forwarded.
	// The engine's own Opening then repeats the status and is not forwarded.
	p.notify(StatusEvent{SessionID: sess.ID(), Status: StatusOpening, Time: time.Now()})
	go p.forward(sess)

	if err := sess.Play(); err != nil {
		p.mu.Lock()
		p.detachLocked()
		p.mu.Unlock()
		if rerr := sess.Release(); rerr != nil {
			slog.Warn("videosurface: release after failed play", "error", rerr)
		}
		err = fmt.Errorf("videosurface: start: %w: %w", ErrSessionCreateFailed, err)
		p.notify(StatusEvent{SessionID: sess.ID(), Status: StatusIdle, Err: err, Time: time.Now()})
		return err
	}

	slog.Info("videosurface: session started",
		"session_id", sess.ID(),
		"source", source,
		"target", target.String(),
		"native", native.String(),
	)
	return nil
}

// Stop tears the live session down synchronously, then runs the pending
// post-stop action. No session is a no-op.
func (p *Player) Stop() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.stop()
}

func (p *Player) stop() error {
	p.mu.Lock()
	sess := p.session
	if sess == nil {
		p.pending = PostStopNone
		p.mu.Unlock()
		return nil
	}
	action := p.pending
	p.pending = PostStopNone
	p.detachLocked()
	p.stops++
	p.mu.Unlock()

	if err := sess.Release(); err != nil {
		slog.Warn("videosurface: session release", "session_id", sess.ID(), "error", err)
	}
	slog.Info("videosurface: session stopped", "session_id", sess.ID(), "post_stop", action.String())
	p.notify(StatusEvent{SessionID: sess.ID(), Status: StatusIdle, Time: time.Now()})

	switch action {
	case PostStopRestart:
		p.mu.Lock()
		p.restarts++
		p.mu.Unlock()
		return p.start()
	case PostStopDelete:
		p.destroy()
	}
	return nil
}

// detachLocked forgets the live session. Buffers are released by the
// decoder's cleanup callback.
func (p *Player) detachLocked() {
	p.session = nil
	p.ring = nil
	p.generation = 0
	p.status = StatusIdle
	p.hasFrame = false
}

// RestartPlayer stops the live session and starts a new one, or just starts
// when there is none.
func (p *Player) RestartPlayer() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	return p.restart()
}

func (p *Player) restart() error {
	p.mu.Lock()
	live := p.session != nil
	if live {
		p.pending = PostStopRestart
	}
	p.mu.Unlock()

	if live {
		return p.stop()
	}
	return p.start()
}

// StopThenDelete destroys the player. A processing session is torn down
// first and destruction runs after the teardown; otherwise destruction is
// immediate.
func (p *Player) StopThenDelete() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	processing := p.session != nil && isProcessing(p.status)
	if processing {
		p.pending = PostStopDelete
	}
	p.mu.Unlock()

	if processing {
		return p.stop()
	}
	p.destroy()
	return nil
}

// Close destroys the player: stops without restart and frees the offscreen
// context. Idempotent.
func (p *Player) Close() error {
	p.opMu.Lock()
	defer p.opMu.Unlock()
	p.destroy()
	return nil
}

func (p *Player) destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	p.closed = true
	p.pending = PostStopNone
	p.mu.Unlock()

	_ = p.stop()

	if err := p.bridge.Close(); err != nil {
		slog.Warn("videosurface: close context bridge", "error", err)
	}
	slog.Info("videosurface: player destroyed")

	if p.cfg.OnDestroy != nil {
		p.cfg.OnDestroy()
	}
}

// TargetResized records a new viewport and restarts the decoder, whose
// output size derives from the viewport.
func (p *Player) TargetResized(size Size) error {
	p.opMu.Lock()
	defer p.opMu.Unlock()

	p.mu.Lock()
	p.target = size
	p.rebuildGeometryLocked()
	p.mu.Unlock()

	slog.Debug("videosurface: target resized", "target", size.String())
	return p.restart()
}

// SetTargetSize records a new viewport without restarting.
func (p *Player) SetTargetSize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = Size{Width: width, Height: height}
	p.rebuildGeometryLocked()
}

// SetSource sets the media path for the next Start.
func (p *Player) SetSource(source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.source = source
}

// FileName returns the media path.
func (p *Player) FileName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.source
}

// SetPlayAudio enables or disables audio. On a live session the original
// track is restored or muted right away.
func (p *Player) SetPlayAudio(enabled bool) {
	p.mu.Lock()
	p.playAudio = enabled
	sess := p.session
	track := p.originalTrack
	playing := p.status == StatusPlaying
	p.mu.Unlock()

	if sess == nil {
		return
	}
	if enabled {
		if track != NoTrack && track != -1 {
			if err := sess.SetAudioTrack(track); err != nil {
				slog.Warn("videosurface: restore audio track", "track", track, "error", err)
			}
		}
		return
	}
	switch {
	case track == NoTrack && playing:
		p.suppressAudio(sess)
	case track != NoTrack && track != -1:
		if err := sess.SetAudioTrack(-1); err != nil {
			slog.Warn("videosurface: disable audio track", "track", track, "error", err)
		}
	}
}

// SetPlayVideo enables or disables video output for the next session.
func (p *Player) SetPlayVideo(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playVideo = enabled
}

// PlayAudio reports whether audio is enabled.
func (p *Player) PlayAudio() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playAudio
}

// PlayVideo reports whether video output is enabled.
func (p *Player) PlayVideo() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playVideo
}

// NotifyConsumerReady hands the render thread's context to the decoder
// side. Call on the render thread once its context exists; repeated calls
// are no-ops.
func (p *Player) NotifyConsumerReady(shared SharedContext) error {
	return p.bridge.NotifyConsumerReady(shared)
}

// Frame returns the newest complete frame, nil without a live session.
// Render thread only.
func (p *Player) Frame() Frame {
	p.mu.Lock()
	ring := p.ring
	p.mu.Unlock()

	if ring == nil {
		return nil
	}
	return ring.AcquireLatest()
}

// FrameAvailable fires after decoder swaps. Several swaps before a receive
// collapse into one notification.
func (p *Player) FrameAvailable() <-chan struct{} {
	return p.frameAvailable
}

// FirstFrameAvailable fires once per session when its first frame is
// complete.
func (p *Player) FirstFrameAvailable() <-chan struct{} {
	return p.firstFrame
}

// DecodedSize is the decoder output size (the probed native size before
// the first resize).
func (p *Player) DecodedSize() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.decoded
}

// TargetSize is the viewport.
func (p *Player) TargetSize() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// VideoSize is the decoded size fitted into the viewport.
func (p *Player) VideoSize() Size {
	p.mu.Lock()
	defer p.mu.Unlock()
	return FitSize(p.decoded, p.target)
}

// Geometry returns the current quad.
func (p *Player) Geometry() Geometry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.geometry
}

// Status returns the last applied status.
func (p *Player) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// IsProcessing reports Opening, Buffering, Playing or Paused.
func (p *Player) IsProcessing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return isProcessing(p.status)
}

// IsPlaying reports Playing or Buffering. A buffering session is still
// playing back, it is only waiting for data.
func (p *Player) IsPlaying() bool {
	s := p.Status()
	return s == StatusPlaying || s == StatusBuffering
}

// IsPaused reports Paused.
func (p *Player) IsPaused() bool {
	return p.Status() == StatusPaused
}

// IsStatusValid reports whether a session has reported any status.
func (p *Player) IsStatusValid() bool {
	return p.Status() != StatusIdle
}

// IsError reports whether the engine reported an error since the last
// Start.
func (p *Player) IsError() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isError
}

// Stats returns a snapshot of the player counters.
func (p *Player) Stats() Stats {
	p.mu.Lock()
	st := Stats{
		Status:          p.status,
		Source:          p.source,
		DecodedSize:     p.decoded,
		TargetSize:      p.target,
		VideoSize:       FitSize(p.decoded, p.target),
		Starts:          p.starts,
		Stops:           p.stops,
		Restarts:        p.restarts,
		FramesAvailable: p.framesAvailable,
	}
	ring, sess := p.ring, p.session
	p.mu.Unlock()

	if ring != nil {
		st.Ring = ring.Stats()
	}
	if r, ok := sess.(decoder.StatsReporter); ok {
		st.Session = r.Stats()
	}
	return st
}

func isProcessing(s Status) bool {
	switch s {
	case StatusOpening, StatusBuffering, StatusPlaying, StatusPaused:
		return true
	}
	return false
}

func (p *Player) rebuildGeometryLocked() {
	version := p.geometry.Version + 1
	p.geometry = NewGeometry(FitSize(p.decoded, p.target))
	p.geometry.Version = version
}

// forward applies one session's events until its feed closes.
func (p *Player) forward(sess Session) {
	for ev := range sess.Events() {
		p.apply(sess, ev)
	}
}

func (p *Player) apply(sess Session, ev decoder.Event) {
	p.mu.Lock()
	if p.session == nil || p.session.ID() != sess.ID() {
		p.mu.Unlock()
		slog.Debug("videosurface: stale event ignored", "session_id", sess.ID(), "status", ev.Status.String())
		return
	}
	prev := p.status
	p.status = ev.Status
	if ev.Err != nil {
		p.isError = true
	}
	suppress := ev.Status == StatusPlaying && prev != StatusPlaying &&
		!p.playAudio && p.originalTrack == NoTrack
	p.mu.Unlock()

	if ev.Status == prev && ev.Err == nil {
		slog.Debug("videosurface: status unchanged", "session_id", sess.ID(), "status", ev.Status.String())
		return
	}

	if ev.Err != nil {
		slog.Warn("videosurface: engine error", "session_id", sess.ID(), "error", ev.Err)
	} else {
		slog.Debug("videosurface: status", "session_id", sess.ID(), "status", ev.Status.String())
	}

	if suppress {
		p.suppressAudio(sess)
	}

	p.notify(StatusEvent{SessionID: sess.ID(), Status: ev.Status, Err: ev.Err, Time: time.Now()})
}

// suppressAudio records the active track and disables it, at most once per
// session.
func (p *Player) suppressAudio(sess Session) {
	track := sess.AudioTrack()

	p.mu.Lock()
	if p.session != sess || p.originalTrack != NoTrack {
		p.mu.Unlock()
		return
	}
	p.originalTrack = track
	p.mu.Unlock()

	if track == -1 {
		return
	}
	if err := sess.SetAudioTrack(-1); err != nil {
		slog.Warn("videosurface: disable audio track", "track", track, "error", err)
		return
	}
	slog.Debug("videosurface: audio disabled", "session_id", sess.ID(), "original_track", track)
}

func (p *Player) notify(ev StatusEvent) {
	if p.cfg.OnStatus != nil {
		p.cfg.OnStatus(ev)
	}
}

// sessionOwner receives decoder-thread notifications for one session.
// Notifications from a session that is no longer live are dropped.
type sessionOwner struct {
	p          *Player
	generation uint64
}

func (o *sessionOwner) DecodedSizeChanged(width, height int) {
	p := o.p
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != o.generation {
		return
	}
	size := Size{Width: width, Height: height}
	if size == p.decoded {
		return
	}
	p.decoded = size
	p.rebuildGeometryLocked()
}

func (o *sessionOwner) FrameAvailable() {
	p := o.p
	p.mu.Lock()
	live := p.generation == o.generation
	if live {
		p.framesAvailable++
		p.hasFrame = true
	}
	p.mu.Unlock()
	if !live {
		return
	}

	select {
	case p.frameAvailable <- struct{}{}:
	default:
	}
}

func (o *sessionOwner) FirstFrame() {
	p := o.p
	p.mu.Lock()
	live := p.generation == o.generation
	p.mu.Unlock()
	if !live {
		return
	}

	select {
	case p.firstFrame <- struct{}{}:
	default:
	}
}
