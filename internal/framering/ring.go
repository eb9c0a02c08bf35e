// Package framering implements the triple-buffered frame handoff between a
// decoder thread (single writer) and a render thread (single reader).
//
// Three buffers hold three roles: render (being written), swap (last
// completed frame, not yet shown) and display (what the reader draws).
// Handoff rotates role labels, never pixel data:
//
//	CommitWrite:   render <-> swap      (writer, under lock)
//	AcquireLatest: swap   <-> display   (reader, under lock, only if updated)
//
// Because the three labels always point at distinct buffers, the writer can
// never draw into the buffer the reader holds, and the reader only ever sees
// buffers whose drawing was finished before CommitWrite.
package framering

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// Buffer is one GPU render target (framebuffer + color texture).
type Buffer interface {
	Width() int
	Height() int
	// Texture is the GL texture name holding the color attachment.
	Texture() uint32
	// Bind makes the buffer the current draw target.
	Bind()
	// Destroy frees the GPU objects. Called on the thread that allocated it.
	Destroy()
}

// Allocator creates buffers. Runs on the decoder thread with its context current.
type Allocator interface {
	Allocate(width, height int) (Buffer, error)
}

type role int

const (
	roleRender role = iota
	roleSwap
	roleDisplay
)

// defaultRoles is the permutation restored after every allocation.
var defaultRoles = [3]int{0, 1, 2}

// Ring is the triple buffer.
//
// Thread-safety:
//   - Allocate, BeginWrite, CommitWrite, Release: decoder thread
//   - AcquireLatest, Stats, Size: any thread (typically the render thread)
//
// mu protects the role labels, the updated flag and the buffer array
// replacement done by Allocate/Release. Pixel contents are never protected:
// they are complete before CommitWrite exposes them.
type Ring struct {
	alloc Allocator

	mu      sync.Mutex
	bufs    [3]Buffer
	roles   [3]int // roles[role] = index into bufs
	updated bool
	width   int
	height  int

	commits     uint64
	acquired    uint64
	dropped     uint64
	allocations uint64
}

// Stats is a snapshot of ring counters.
type Stats struct {
	// Commits counts CommitWrite calls.
	Commits uint64
	// Acquired counts rotations into the display role.
	Acquired uint64
	// Dropped counts committed frames replaced before ever being displayed.
	Dropped uint64
	// Allocations counts buffer sets allocated.
	Allocations uint64
	Width       int
	Height      int
}

// New creates an empty ring. No buffers exist until Allocate.
func New(alloc Allocator) *Ring {
	return &Ring{
		alloc: alloc,
		roles: defaultRoles,
	}
}

// Allocate sizes the ring to width x height.
//
// Semantics:
//   - width or height <= 0: ErrSizeInvalid
//   - same size as current buffers: no-op
//   - otherwise: destroy current buffers, allocate three new ones, reset roles
//
// Must not race with CommitWrite on the old buffers (decoder thread only).
func (r *Ring) Allocate(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("framering: allocate %dx%d: %w", width, height, decoder.ErrSizeInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.bufs[0] != nil && r.width == width && r.height == height {
		return nil
	}

	r.destroyLocked()

	var fresh [3]Buffer
	for i := range fresh {
		buf, err := r.alloc.Allocate(width, height)
		if err != nil {
			for j := 0; j < i; j++ {
				fresh[j].Destroy()
			}
			return fmt.Errorf("framering: allocate buffer %d (%dx%d): %w", i, width, height, err)
		}
		fresh[i] = buf
	}

	r.bufs = fresh
	r.roles = defaultRoles
	r.updated = false
	r.width = width
	r.height = height
	r.allocations++

	slog.Debug("framering: buffers allocated", "width", width, "height", height)
	return nil
}

// BeginWrite returns the render-role buffer. No lock: only the decoder thread
// changes the render label and the buffer array.
func (r *Ring) BeginWrite() Buffer {
	return r.bufs[r.roles[roleRender]]
}

// CommitWrite exposes the render buffer as the newest complete frame.
func (r *Ring) CommitWrite() {
	r.mu.Lock()
	r.roles[roleRender], r.roles[roleSwap] = r.roles[roleSwap], r.roles[roleRender]
	if r.updated {
		// Previous swap frame was never displayed.
		r.dropped++
	}
	r.updated = true
	r.commits++
	r.mu.Unlock()
}

// AcquireLatest returns the most recent complete frame, or the previous one
// again if nothing new was committed. Nil when no buffers exist.
func (r *Ring) AcquireLatest() Buffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.updated {
		r.roles[roleSwap], r.roles[roleDisplay] = r.roles[roleDisplay], r.roles[roleSwap]
		r.updated = false
		r.acquired++
	}
	return r.bufs[r.roles[roleDisplay]]
}

// Release destroys all buffers. Safe when none exist.
func (r *Ring) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.destroyLocked()
}

func (r *Ring) destroyLocked() {
	if r.bufs[0] == nil {
		return
	}
	for i, buf := range r.bufs {
		if buf != nil {
			buf.Destroy()
		}
		r.bufs[i] = nil
	}
	r.roles = defaultRoles
	r.updated = false
	r.width = 0
	r.height = 0

	slog.Debug("framering: buffers released")
}

// Size returns the current buffer size, 0x0 when released.
func (r *Ring) Size() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.width, r.height
}

// Stats returns a counter snapshot.
func (r *Ring) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Commits:     r.commits,
		Acquired:    r.acquired,
		Dropped:     r.dropped,
		Allocations: r.allocations,
		Width:       r.width,
		Height:      r.height,
	}
}
