package framering

import (
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// fakeBuffer records lifecycle calls. id is unique per allocation.
type fakeBuffer struct {
	id        int
	w, h      int
	binds     int
	destroyed bool
}

func (b *fakeBuffer) Width() int      { return b.w }
func (b *fakeBuffer) Height() int     { return b.h }
func (b *fakeBuffer) Texture() uint32 { return uint32(b.id) }
func (b *fakeBuffer) Bind()           { b.binds++ }
func (b *fakeBuffer) Destroy()        { b.destroyed = true }

type fakeAllocator struct {
	mu      sync.Mutex
	next    int
	created []*fakeBuffer
	failAt  int // fail the Nth Allocate call (1-based), 0 = never
	calls   int
}

func (a *fakeAllocator) Allocate(w, h int) (Buffer, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.failAt != 0 && a.calls == a.failAt {
		return nil, errors.New("out of video memory")
	}
	a.next++
	buf := &fakeBuffer{id: a.next, w: w, h: h}
	a.created = append(a.created, buf)
	return buf, nil
}

func rolesOf(r *Ring) [3]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles
}

func assertPermutation(t *testing.T, r *Ring) {
	t.Helper()
	roles := rolesOf(r)
	seen := [3]bool{}
	for _, idx := range roles {
		if idx < 0 || idx > 2 {
			t.Fatalf("role index out of range: %v", roles)
		}
		if seen[idx] {
			t.Fatalf("two roles alias the same buffer: %v", roles)
		}
		seen[idx] = true
	}
}

func TestRing_Allocate(t *testing.T) {
	t.Run("zero size rejected", func(t *testing.T) {
		r := New(&fakeAllocator{})
		for _, sz := range [][2]int{{0, 720}, {1280, 0}, {0, 0}, {-4, 10}} {
			err := r.Allocate(sz[0], sz[1])
			if !errors.Is(err, decoder.ErrSizeInvalid) {
				t.Errorf("Allocate(%d,%d) error = %v, want ErrSizeInvalid", sz[0], sz[1], err)
			}
		}
		if r.BeginWrite() != nil {
			t.Error("expected no buffers after invalid allocate")
		}
	})

	t.Run("same size is idempotent", func(t *testing.T) {
		alloc := &fakeAllocator{}
		r := New(alloc)
		if err := r.Allocate(640, 360); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if err := r.Allocate(640, 360); err != nil {
			t.Fatalf("Allocate (same size): %v", err)
		}
		if len(alloc.created) != 3 {
			t.Fatalf("expected 3 buffers created, got %d", len(alloc.created))
		}
		for _, b := range alloc.created {
			if b.destroyed {
				t.Errorf("buffer %d destroyed on same-size allocate", b.id)
			}
		}
		t.Logf("✅ same-size allocate kept buffers")
	})

	t.Run("new size recreates all buffers", func(t *testing.T) {
		alloc := &fakeAllocator{}
		r := New(alloc)
		_ = r.Allocate(640, 360)
		r.CommitWrite()
		_ = r.AcquireLatest()

		if err := r.Allocate(1280, 720); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		if len(alloc.created) != 6 {
			t.Fatalf("expected 6 buffers created, got %d", len(alloc.created))
		}
		for _, b := range alloc.created[:3] {
			if !b.destroyed {
				t.Errorf("old buffer %d not destroyed", b.id)
			}
		}
		for _, b := range alloc.created[3:] {
			if b.destroyed || b.w != 1280 || b.h != 720 {
				t.Errorf("new buffer %d: destroyed=%v size=%dx%d", b.id, b.destroyed, b.w, b.h)
			}
		}
		if got := rolesOf(r); got != defaultRoles {
			t.Errorf("roles after allocate = %v, want %v", got, defaultRoles)
		}
		if w, h := r.Size(); w != 1280 || h != 720 {
			t.Errorf("Size() = %dx%d, want 1280x720", w, h)
		}
	})

	t.Run("partial failure cleans up", func(t *testing.T) {
		alloc := &fakeAllocator{failAt: 3}
		r := New(alloc)
		if err := r.Allocate(320, 240); err == nil {
			t.Fatal("expected allocation error")
		}
		for _, b := range alloc.created {
			if !b.destroyed {
				t.Errorf("buffer %d leaked after partial failure", b.id)
			}
		}
		if r.AcquireLatest() != nil {
			t.Error("expected no display buffer after failed allocate")
		}
	})
}

func TestRing_AcquireWithoutCommitReturnsSameBuffer(t *testing.T) {
	r := New(&fakeAllocator{})
	if err := r.Allocate(64, 64); err != nil {
		t.Fatal(err)
	}

	r.CommitWrite()
	first := r.AcquireLatest()
	second := r.AcquireLatest()
	if first != second {
		t.Fatalf("spurious rotation: %v then %v", first, second)
	}

	if got := r.Stats().Acquired; got != 1 {
		t.Errorf("Acquired = %d, want 1", got)
	}
	t.Logf("✅ no rotation without commit")
}

func TestRing_CommitExposesWrittenBuffer(t *testing.T) {
	r := New(&fakeAllocator{})
	_ = r.Allocate(64, 64)

	written := r.BeginWrite()
	r.CommitWrite()
	if r.BeginWrite() == written {
		t.Fatal("render role still points at the committed buffer")
	}
	if got := r.AcquireLatest(); got != written {
		t.Fatalf("AcquireLatest() = %v, want the committed buffer %v", got, written)
	}
}

func TestRing_TwoCommitsDropOneFrame(t *testing.T) {
	r := New(&fakeAllocator{})
	_ = r.Allocate(64, 64)

	firstFrame := r.BeginWrite()
	r.CommitWrite()
	secondFrame := r.BeginWrite()
	r.CommitWrite()

	shown := r.AcquireLatest()
	if shown != secondFrame {
		t.Fatalf("expected newest frame, got %v", shown)
	}
	if shown == firstFrame {
		t.Fatal("stale frame displayed")
	}
	if got := r.Stats().Dropped; got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
	t.Logf("✅ two swaps without acquire dropped exactly one frame")
}

func TestRing_PermutationInvariant(t *testing.T) {
	r := New(&fakeAllocator{})
	_ = r.Allocate(32, 32)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 10000; i++ {
		if rng.Intn(2) == 0 {
			r.CommitWrite()
		} else {
			r.AcquireLatest()
		}
		assertPermutation(t, r)

		if r.BeginWrite() == peekDisplay(r) {
			t.Fatalf("render and display alias at step %d", i)
		}
	}
	t.Logf("✅ roles stayed a permutation over 10000 random operations")
}

func peekDisplay(r *Ring) Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bufs[r.roles[roleDisplay]]
}

func TestRing_ConcurrentWriterReader(t *testing.T) {
	r := New(&fakeAllocator{})
	_ = r.Allocate(16, 16)

	const frames = 5000
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			buf := r.BeginWrite()
			buf.Bind()
			r.CommitWrite()
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < frames; i++ {
			if r.AcquireLatest() == nil {
				t.Error("nil display buffer while allocated")
				return
			}
		}
	}()

	wg.Wait()
	assertPermutation(t, r)

	st := r.Stats()
	if st.Commits != frames {
		t.Errorf("Commits = %d, want %d", st.Commits, frames)
	}
	if st.Acquired+st.Dropped > st.Commits {
		t.Errorf("acquired (%d) + dropped (%d) exceeds commits (%d)", st.Acquired, st.Dropped, st.Commits)
	}
	t.Logf("✅ concurrent handoff: commits=%d acquired=%d dropped=%d", st.Commits, st.Acquired, st.Dropped)
}

func TestRing_Release(t *testing.T) {
	alloc := &fakeAllocator{}
	r := New(alloc)

	r.Release() // nothing allocated

	_ = r.Allocate(8, 8)
	r.Release()
	for _, b := range alloc.created {
		if !b.destroyed {
			t.Errorf("buffer %d not destroyed", b.id)
		}
	}
	if r.AcquireLatest() != nil || r.BeginWrite() != nil {
		t.Error("buffers still reachable after Release")
	}
	if w, h := r.Size(); w != 0 || h != 0 {
		t.Errorf("Size() after Release = %dx%d", w, h)
	}

	r.Release()
}
