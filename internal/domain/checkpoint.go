package domain

import "time"

// Checkpoint is the persisted harvest progress for one (account, label) pair.
// It is only valid for the exact window it was written for.
type Checkpoint struct {
	Account        string
	Label          string
	Cursor         string // opaque continuation token; empty forces a re-seek
	HeightFilter   bool   // cursor belongs to a height-filtered event search
	HeightFrom     int64  // tx.height bounds the cursor was issued for,
	HeightTo       int64  // zero unless HeightFilter
	WindowStart    time.Time
	WindowEnd      time.Time
	PagesProcessed int
	OldestSeen     time.Time
	NewestSeen     time.Time
	UpdatedAt      time.Time
}

// Window returns the window the checkpoint was written for.
func (c *Checkpoint) Window() Window {
	return Window{Start: c.WindowStart.UTC(), End: c.WindowEnd.UTC()}
}

// HeightBounds returns the recorded height bounds. ok is false when the
// checkpoint carries none.
func (c *Checkpoint) HeightBounds() (from, to int64, ok bool) {
	if !c.HeightFilter || c.HeightFrom <= 0 || c.HeightTo <= 0 {
		return 0, 0, false
	}
	return c.HeightFrom, c.HeightTo, true
}

// Matches reports whether the checkpoint belongs to window w.
func (c *Checkpoint) Matches(w Window) bool {
	return c.Window().Equal(w)
}
