package gstengine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// recordingCallbacks logs every callback in order.
type recordingCallbacks struct {
	mu        sync.Mutex
	calls     []string
	setupOK   bool
	setupErr  error
	canBind   bool
	resizeOK  bool
	swapped   chan struct{}
	cleanedUp chan struct{}
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{
		setupOK:   true,
		canBind:   true,
		resizeOK:  true,
		swapped:   make(chan struct{}, 16),
		cleanedUp: make(chan struct{}),
	}
}

func (c *recordingCallbacks) record(call string) {
	c.mu.Lock()
	c.calls = append(c.calls, call)
	c.mu.Unlock()
}

func (c *recordingCallbacks) Setup(ctx context.Context) bool {
	c.record("setup")
	return c.setupOK
}

func (c *recordingCallbacks) Resize(w, h int) (decoder.RenderConfig, bool) {
	c.record("resize")
	return decoder.RenderConfig{}, c.resizeOK
}

func (c *recordingCallbacks) MakeCurrent(current bool) bool {
	if !c.canBind {
		c.record("bind-failed")
		return false
	}
	if current {
		c.record("current")
	} else {
		c.record("done")
	}
	return true
}

func (c *recordingCallbacks) GetProcAddress(name string) unsafe.Pointer { return nil }

func (c *recordingCallbacks) Swap() {
	c.record("swap")
	c.swapped <- struct{}{}
}

func (c *recordingCallbacks) Cleanup() {
	c.record("cleanup")
	close(c.cleanedUp)
}

func (c *recordingCallbacks) Err() error { return c.setupErr }

func (c *recordingCallbacks) sequence() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.calls, ",")
}

type fakeUploader struct {
	mu        sync.Mutex
	uploads   int
	blits     int
	destroyed bool
	failNext  bool
}

func (u *fakeUploader) Upload(w, h int, pixels []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.failNext {
		u.failNext = false
		return errors.New("short buffer")
	}
	u.uploads++
	return nil
}

func (u *fakeUploader) BlitTo(w, h int) {
	u.mu.Lock()
	u.blits++
	u.mu.Unlock()
}

func (u *fakeUploader) Finish() {}

func (u *fakeUploader) Destroy() {
	u.mu.Lock()
	u.destroyed = true
	u.mu.Unlock()
}

func newTestRenderer(cb decoder.Callbacks, up uploader) (*renderer, *int) {
	loads := new(int)
	return &renderer{
		sessionID: "test",
		cb:        cb,
		box:       newMailbox(),
		up:        up,
		loadGL: func(func(string) unsafe.Pointer) error {
			*loads++
			return nil
		},
		stats: &counters{},
	}, loads
}

func waitSwap(t *testing.T, cb *recordingCallbacks) {
	t.Helper()
	select {
	case <-cb.swapped:
	case <-time.After(time.Second):
		t.Fatalf("no swap; calls so far: %s", cb.sequence())
	}
}

func TestRenderer_CallbackOrder(t *testing.T) {
	cb := newRecordingCallbacks()
	up := &fakeUploader{}
	r, loads := newTestRenderer(cb, up)

	errCh := make(chan error, 1)
	go func() { errCh <- r.run(context.Background()) }()

	px := make([]byte, 4*4*4)
	r.box.put(&sample{seq: 1, width: 4, height: 4, pixels: px})
	waitSwap(t, cb)
	r.box.put(&sample{seq: 2, width: 4, height: 4, pixels: px})
	waitSwap(t, cb)
	r.box.put(&sample{seq: 3, width: 8, height: 2, pixels: px})
	waitSwap(t, cb)

	r.box.close()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}

	want := "setup," +
		"current,resize,swap,done," +
		"current,swap,done," +
		"current,resize,swap,done," +
		"current,cleanup,done"
	if got := cb.sequence(); got != want {
		t.Errorf("callback order:\n got  %s\n want %s", got, want)
	}
	if *loads != 1 {
		t.Errorf("GL loaded %d times, want 1", *loads)
	}
	if up.uploads != 3 || up.blits != 3 || !up.destroyed {
		t.Errorf("uploader uploads=%d blits=%d destroyed=%v", up.uploads, up.blits, up.destroyed)
	}
	if r.stats.rendered != 3 || r.stats.bytes != uint64(3*len(px)) {
		t.Errorf("stats rendered=%d bytes=%d", r.stats.rendered, r.stats.bytes)
	}
	t.Logf("✅ decoder thread followed setup → (current → resize? → swap → done)* → cleanup")
}

func TestRenderer_SetupFailure(t *testing.T) {
	cb := newRecordingCallbacks()
	cb.setupOK = false
	cb.setupErr = decoder.ErrContextUnavailable
	r, _ := newTestRenderer(cb, &fakeUploader{})

	err := r.run(context.Background())
	if !errors.Is(err, decoder.ErrContextUnavailable) {
		t.Fatalf("run error = %v, want ErrContextUnavailable", err)
	}
	if got := cb.sequence(); got != "setup,cleanup" {
		t.Errorf("calls = %s, want setup,cleanup", got)
	}
}

func TestRenderer_SkipsWithoutContext(t *testing.T) {
	cb := newRecordingCallbacks()
	cb.canBind = false
	up := &fakeUploader{}
	r, loads := newTestRenderer(cb, up)

	errCh := make(chan error, 1)
	go func() { errCh <- r.run(context.Background()) }()

	r.box.put(&sample{seq: 1, width: 2, height: 2, pixels: make([]byte, 16)})
	deadline := time.Now().Add(time.Second)
	for r.statsSkipped() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	r.box.close()
	<-errCh

	if r.statsSkipped() != 1 {
		t.Errorf("skipped = %d, want 1", r.statsSkipped())
	}
	if *loads != 0 || up.uploads != 0 {
		t.Errorf("rendered without a context: loads=%d uploads=%d", *loads, up.uploads)
	}
	if strings.Contains(cb.sequence(), "swap") {
		t.Errorf("swap without context: %s", cb.sequence())
	}
}

func TestRenderer_ResizeRejectedSkipsFrame(t *testing.T) {
	cb := newRecordingCallbacks()
	cb.resizeOK = false
	up := &fakeUploader{}
	r, _ := newTestRenderer(cb, up)

	if err := r.render(&sample{width: 2, height: 2, pixels: make([]byte, 16)}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if up.uploads != 0 {
		t.Error("uploaded after rejected resize")
	}
	if r.stats.failed != 1 {
		t.Errorf("failed = %d, want 1", r.stats.failed)
	}

	// Next frame retries the resize.
	cb.resizeOK = true
	if err := r.render(&sample{width: 2, height: 2, pixels: make([]byte, 16)}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := strings.Count(cb.sequence(), "resize"); got != 2 {
		t.Errorf("resize calls = %d, want 2", got)
	}
}

func TestRenderer_UploadFailureSkipsSwap(t *testing.T) {
	cb := newRecordingCallbacks()
	up := &fakeUploader{failNext: true}
	r, _ := newTestRenderer(cb, up)

	if err := r.render(&sample{width: 2, height: 2, pixels: make([]byte, 3)}); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(cb.sequence(), "swap") {
		t.Errorf("swapped a frame that failed to upload: %s", cb.sequence())
	}
	if r.stats.failed != 1 || r.stats.rendered != 0 {
		t.Errorf("failed=%d rendered=%d", r.stats.failed, r.stats.rendered)
	}
}

func TestRenderer_LoadGLFailureIsFatal(t *testing.T) {
	cb := newRecordingCallbacks()
	r, _ := newTestRenderer(cb, &fakeUploader{})
	r.loadGL = func(func(string) unsafe.Pointer) error { return errors.New("no GL") }

	if err := r.render(&sample{width: 2, height: 2, pixels: make([]byte, 16)}); err == nil {
		t.Fatal("expected GL load error")
	}
	if !strings.HasSuffix(cb.sequence(), "done") {
		t.Errorf("context left current: %s", cb.sequence())
	}
}

func (r *renderer) statsSkipped() uint64 {
	return atomic.LoadUint64(&r.stats.skipped)
}
