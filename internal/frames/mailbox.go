// Package frames supplies camera frames to the detection loop.
//
// Frames flow through a single-slot Mailbox: a publisher overwrites the slot
// with every new frame and the loop reads whatever is newest. Nothing is
// queued, so a slow detector sees fewer frames instead of older ones.
package frames

import (
	"sync"
	"time"

	"github.com/ironsheep/nav-assist-mcp/internal/detect"
)

// Mailbox is a latest-frame slot. It implements detect.FrameSource and is
// safe for concurrent use.
type Mailbox struct {
	mu    sync.Mutex
	frame *detect.Frame
	seq   uint64

	published uint64
	read      uint64
	drops     uint64
	lastRead  uint64
}

// NewMailbox creates an empty mailbox. Current reports not-ready until the
// first Publish.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

var _ detect.FrameSource = (*Mailbox)(nil)

// Publish replaces the current frame. The mailbox assigns Seq and, when
// unset, Timestamp. The frame must not be modified afterwards.
func (m *Mailbox) Publish(f *detect.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame != nil && m.frame.Seq != m.lastRead {
		m.drops++
	}

	m.seq++
	f.Seq = m.seq
	if f.Timestamp.IsZero() {
		f.Timestamp = time.Now()
	}
	m.frame = f
	m.published++
}

// Current returns the newest frame. Repeated calls without an intervening
// Publish return the same frame (same Seq).
func (m *Mailbox) Current() (*detect.Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame == nil {
		return nil, false
	}
	if m.frame.Seq != m.lastRead {
		m.lastRead = m.frame.Seq
		m.read++
	}
	return m.frame, true
}

// Reset empties the slot.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	m.frame = nil
	m.mu.Unlock()
}

// Stats counts mailbox traffic.
type Stats struct {
	Published uint64 `json:"published"`
	Read      uint64 `json:"read"`
	Dropped   uint64 `json:"dropped"`
}

// Stats returns a snapshot of the counters. Dropped counts frames that were
// overwritten before anyone read them.
func (m *Mailbox) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Stats{Published: m.published, Read: m.read, Dropped: m.drops}
}
