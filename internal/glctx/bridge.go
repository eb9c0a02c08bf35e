// Package glctx bridges the consumer's GL context to the decoder thread.
//
// The decoder thread may not render until the consumer (render thread) has
// created its own context, because the offscreen context is created sharing
// with it. The Bridge is that handshake:
//
//	decoder thread                     render thread
//	--------------                     -------------
//	WaitUntilConsumerReady  (blocks)
//	                                   NotifyConsumerReady(shared)
//	                                     → create offscreen context
//	                                     → release gate
//	MakeCurrent(true) ... render ...
package glctx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/e7canasta/orion-video-surface/internal/decoder"
)

// SharedContext is the consumer's opaque context handle.
type SharedContext any

// Context is an offscreen GL context usable from the decoder thread.
type Context interface {
	// MakeCurrent binds (true) or unbinds (false) the context on the calling thread.
	MakeCurrent(current bool) error
	// ProcAddress resolves a GL entry point.
	ProcAddress(name string) unsafe.Pointer
	// Destroy frees the context.
	Destroy()
}

// ContextFactory creates an offscreen context sharing with the consumer's.
type ContextFactory interface {
	Create(shared SharedContext) (Context, error)
}

// Bridge is the readiness gate plus the lazily created offscreen context.
//
// The gate holds at most one permit. It starts empty, NotifyConsumerReady
// and Release put the permit back, and WaitUntilConsumerReady takes it.
// Releasing an already free gate is absorbed.
type Bridge struct {
	factory ContextFactory
	timeout time.Duration

	gate chan struct{}

	mu  sync.Mutex
	ctx Context
}

// NewBridge creates a bridge. timeout <= 0 waits without bound.
func NewBridge(factory ContextFactory, timeout time.Duration) *Bridge {
	return &Bridge{
		factory: factory,
		timeout: timeout,
		gate:    make(chan struct{}, 1),
	}
}

// WaitUntilConsumerReady blocks until the consumer context exists.
//
// Returns ErrContextUnavailable when the bridge timeout elapses first, or
// ctx.Err() when ctx is cancelled.
func (b *Bridge) WaitUntilConsumerReady(ctx context.Context) error {
	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-b.gate:
		slog.Debug("glctx: consumer ready, decoder released")
		return nil
	case <-timeout:
		slog.Warn("glctx: timed out waiting for consumer context", "timeout", b.timeout)
		return fmt.Errorf("glctx: wait %s: %w", b.timeout, decoder.ErrContextUnavailable)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NotifyConsumerReady creates the offscreen context sharing with shared and
// releases the gate. Must be called on the render thread with shared current.
// Later calls are no-ops.
func (b *Bridge) NotifyConsumerReady(shared SharedContext) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil {
		return nil
	}
	if b.factory == nil {
		return fmt.Errorf("glctx: no context factory: %w", decoder.ErrContextUnavailable)
	}

	c, err := b.factory.Create(shared)
	if err != nil {
		return fmt.Errorf("glctx: create offscreen context: %w", err)
	}
	b.ctx = c

	slog.Info("glctx: offscreen context created")
	b.Release()
	return nil
}

// Release puts the permit back. Absorbed if the gate is already free.
func (b *Bridge) Release() {
	select {
	case b.gate <- struct{}{}:
	default:
	}
}

// Ready reports whether the offscreen context exists.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ctx != nil
}

// MakeCurrent binds or unbinds the offscreen context on the calling thread.
// False when no context exists or the bind fails.
func (b *Bridge) MakeCurrent(current bool) bool {
	b.mu.Lock()
	c := b.ctx
	b.mu.Unlock()

	if c == nil {
		return false
	}
	if err := c.MakeCurrent(current); err != nil {
		slog.Warn("glctx: make current failed", "current", current, "error", err)
		return false
	}
	return true
}

// GetProcAddress resolves a GL entry point, nil when no context exists.
func (b *Bridge) GetProcAddress(name string) unsafe.Pointer {
	b.mu.Lock()
	c := b.ctx
	b.mu.Unlock()

	if c == nil {
		return nil
	}
	return c.ProcAddress(name)
}

// Close destroys the offscreen context. The gate keeps its state.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	b.ctx.Destroy()
	b.ctx = nil
	slog.Debug("glctx: offscreen context destroyed")
	return nil
}
