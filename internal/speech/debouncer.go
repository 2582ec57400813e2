// Package speech turns alert text into audio while keeping the listener from
// being flooded with repeats.
//
// A Debouncer wraps a Speaker. Identical text spoken again inside the
// debounce window is dropped; anything else interrupts the current utterance
// and starts immediately. Speech is never queued, so at most one utterance is
// active at any time.
package speech

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultWindow is how long an identical message stays suppressed.
const DefaultWindow = 3000 * time.Millisecond

// Speaker renders text as audio.
//
// Speak must interrupt whatever the speaker is currently saying. Cancel stops
// the current utterance, if any, and is a no-op otherwise.
type Speaker interface {
	Speak(text string) error
	Cancel()
}

// Debouncer suppresses rapid repeats of the same message.
//
// The zero value is not usable; construct with NewDebouncer. A Debouncer is
// safe for concurrent use.
type Debouncer struct {
	speaker Speaker
	window  time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu           sync.Mutex
	lastMessage  string
	lastSpokenAt time.Time
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(db *Debouncer) {
		if d > 0 {
			db.window = d
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(db *Debouncer) {
		if now != nil {
			db.now = now
		}
	}
}

// WithLogger sets the logger used for speaker failures.
func WithLogger(l *slog.Logger) Option {
	return func(db *Debouncer) {
		if l != nil {
			db.logger = l
		}
	}
}

// NewDebouncer creates a Debouncer in front of speaker.
func NewDebouncer(speaker Speaker, opts ...Option) *Debouncer {
	db := &Debouncer{
		speaker: speaker,
		window:  DefaultWindow,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Speak says text unless it repeats the previous message within the window.
// It returns true when an utterance was started.
//
// A speaker error is logged but still updates the debounce state: retrying a
// broken speaker every frame would only spam the log.
func (db *Debouncer) Speak(text string) bool {
	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	if text == db.lastMessage && now.Sub(db.lastSpokenAt) < db.window {
		return false
	}

	db.speaker.Cancel()
	if err := db.speaker.Speak(text); err != nil {
		db.logger.Warn("speech output failed", "component", "speech", "text", text, "error", err)
	}
	db.lastMessage = text
	db.lastSpokenAt = now
	return true
}

// Stop cancels the current utterance. The debounce state is kept, so the
// same message is still suppressed if it arrives again inside the window.
func (db *Debouncer) Stop() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.speaker.Cancel()
}

// Last returns the most recently spoken message and when it started.
func (db *Debouncer) Last() (string, time.Time) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.lastMessage, db.lastSpokenAt
}
