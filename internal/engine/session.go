package engine

import (
	"fmt"
	"time"

	"github.com/Mengjun74/ibkr-mvp/pkg/util"
)

// NoWindow marks the absence of an active opening-range window.
const NoWindow = util.TimeOfDay(-1)

// WindowSpec is the immutable session configuration: one or more window
// start times, the range-forming duration, and the hard end of trading.
type WindowSpec struct {
	Starts       []util.TimeOfDay
	Duration     time.Duration
	EndOfTrading util.TimeOfDay
}

// NewWindowSpec validates and builds a WindowSpec. Starts must be non-empty,
// sorted ascending and distinct.
func NewWindowSpec(starts []util.TimeOfDay, duration time.Duration, end util.TimeOfDay) (WindowSpec, error) {
	if len(starts) == 0 {
		return WindowSpec{}, fmt.Errorf("window spec: no start times")
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			return WindowSpec{}, fmt.Errorf("window spec: starts must be distinct and ascending")
		}
	}
	if duration <= 0 {
		return WindowSpec{}, fmt.Errorf("window spec: duration must be positive")
	}
	return WindowSpec{Starts: starts, Duration: duration, EndOfTrading: end}, nil
}

// ActiveWindow returns the last configured start <= tod, or NoWindow if tod
// precedes the first start.
func (w WindowSpec) ActiveWindow(tod util.TimeOfDay) util.TimeOfDay {
	active := NoWindow
	for _, s := range w.Starts {
		if tod >= s {
			active = s
		}
	}
	return active
}

// InFormingPeriod reports whether tod falls inside [start, start+duration).
func (w WindowSpec) InFormingPeriod(tod, start util.TimeOfDay) bool {
	if start == NoWindow {
		return false
	}
	return tod >= start && tod < start.Add(w.Duration)
}

// PastForming reports whether the range-forming period of start has closed.
func (w WindowSpec) PastForming(tod, start util.TimeOfDay) bool {
	if start == NoWindow {
		return false
	}
	return tod >= start.Add(w.Duration)
}

// DayState is all per-day mutable engine state, owned by the orchestrator.
// Components update it through pure transitions so the daily-reset protocol
// is testable without wiring.
type DayState struct {
	Date         int // util.SessionDate of the governing calendar day
	ActiveWindow util.TimeOfDay
	Range        OpeningRange
}

// NewDayState returns the zero day state (no date, no window, no range).
func NewDayState() DayState {
	return DayState{ActiveWindow: NoWindow}
}

// Transition describes what changed when a bar timestamp was applied.
type Transition struct {
	NewDay        bool
	WindowChanged bool
}

// Advance applies a bar timestamp to the day state: rolls the session day
// when the calendar date changes and reselects the active window. A window
// change clears the opening range.
func (w WindowSpec) Advance(ds DayState, ts time.Time) (DayState, Transition) {
	var tr Transition

	date := util.SessionDate(ts)
	if date != ds.Date {
		ds = NewDayState()
		ds.Date = date
		tr.NewDay = true
	}

	active := w.ActiveWindow(util.TimeOfDayFrom(ts))
	if active != ds.ActiveWindow {
		ds.ActiveWindow = active
		ds.Range = OpeningRange{}
		tr.WindowChanged = true
	}

	return ds, tr
}
