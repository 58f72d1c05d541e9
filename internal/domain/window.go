package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow is returned when a window cannot be constructed.
var ErrInvalidWindow = errors.New("invalid window")

// Window is a closed time interval [Start, End] in UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates and builds a window. Start need not be on the hour;
// actions are bucketed by hour, so an action in the partial first hour has
// an hour before Start and aggregation leaves it out.
func NewWindow(start, end time.Time) (Window, error) {
	start, end = start.UTC(), end.UTC()
	if end.Before(start) {
		return Window{}, fmt.Errorf("%w: end %s before start %s", ErrInvalidWindow,
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether ts lies in [Start, End].
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && !ts.After(w.End)
}

// Equal reports whether both bounds match exactly.
func (w Window) Equal(other Window) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// String renders the window as "start/end" in RFC3339.
func (w Window) String() string {
	return w.Start.Format(time.RFC3339) + "/" + w.End.Format(time.RFC3339)
}
