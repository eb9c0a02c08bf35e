package gstengine

import (
	"sync"
	"sync/atomic"
)

// sample is one decoded RGBA frame copied out of GStreamer.
type sample struct {
	seq    uint64
	width  int
	height int
	pixels []byte
}

// mailbox is a single-slot, latest-wins handoff from the appsink streaming
// thread to the decoder goroutine.
//
// put overwrites an unconsumed sample (counted as a drop) and never blocks.
// take blocks until a sample is available or the mailbox is closed.
type mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	slot   *sample
	closed bool

	drops uint64 // atomic
}

func newMailbox() *mailbox {
	m := &mailbox{}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *mailbox) put(s *sample) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.slot != nil {
		atomic.AddUint64(&m.drops, 1)
	}
	m.slot = s
	m.cond.Signal()
	m.mu.Unlock()
}

// take returns false once the mailbox is closed. A pending sample is
// discarded on close.
func (m *mailbox) take() (*sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for m.slot == nil {
		if m.closed {
			return nil, false
		}
		m.cond.Wait()
	}
	if m.closed {
		return nil, false
	}

	s := m.slot
	m.slot = nil
	return s, true
}

// close wakes every waiter. Idempotent.
func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.slot = nil
	m.cond.Broadcast()
	m.mu.Unlock()
}

func (m *mailbox) dropped() uint64 {
	return atomic.LoadUint64(&m.drops)
}
