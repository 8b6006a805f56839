// Package status tracks runtime counters for the assistant. State lives in
// explicit objects owned by the composition root and passed by reference,
// never in process-wide globals.
package status

import (
	"sync"
	"time"
)

// Tracker counts gatekeeper model requests with a per-day rollover.
type Tracker struct {
	mu    sync.Mutex
	loc   *time.Location
	day   string
	count int
	now   func() time.Time
}

// NewTracker creates a tracker rolling over at midnight in loc.
func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{loc: loc, now: time.Now}
}

func (t *Tracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll()
	t.count++
}

// RequestsToday returns the count for the current day.
func (t *Tracker) RequestsToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roll()
	return t.count
}

// roll resets the counter when the local date has changed. Caller holds mu.
func (t *Tracker) roll() {
	today := t.now().In(t.loc).Format("2006-01-02")
	if today != t.day {
		t.day = today
		t.count = 0
	}
}
