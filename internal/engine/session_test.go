package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mengjun74/ibkr-mvp/pkg/util"
)

func mustTOD(t *testing.T, s string) util.TimeOfDay {
	t.Helper()
	tod, err := util.ParseTimeOfDay(s)
	require.NoError(t, err)
	return tod
}

func testSpec(t *testing.T, starts ...string) WindowSpec {
	t.Helper()
	tods := make([]util.TimeOfDay, 0, len(starts))
	for _, s := range starts {
		tods = append(tods, mustTOD(t, s))
	}
	spec, err := NewWindowSpec(tods, 15*time.Minute, mustTOD(t, "10:25"))
	require.NoError(t, err)
	return spec
}

func at(t *testing.T, day int, clock string) time.Time {
	t.Helper()
	tod, err := util.ParseTimeOfDay(clock)
	require.NoError(t, err)
	return time.Date(2026, 3, day, 0, 0, 0, 0, time.UTC).Add(time.Duration(tod) * time.Minute)
}

func TestNewWindowSpecValidation(t *testing.T) {
	_, err := NewWindowSpec(nil, 15*time.Minute, 0)
	assert.Error(t, err)

	_, err = NewWindowSpec([]util.TimeOfDay{390, 390}, 15*time.Minute, 625)
	assert.Error(t, err)

	_, err = NewWindowSpec([]util.TimeOfDay{480, 390}, 15*time.Minute, 625)
	assert.Error(t, err)

	_, err = NewWindowSpec([]util.TimeOfDay{390}, 0, 625)
	assert.Error(t, err)
}

func TestActiveWindowSelection(t *testing.T) {
	spec := testSpec(t, "06:30", "08:00")

	assert.Equal(t, NoWindow, spec.ActiveWindow(mustTOD(t, "06:00")))
	assert.Equal(t, mustTOD(t, "06:30"), spec.ActiveWindow(mustTOD(t, "06:30")))
	assert.Equal(t, mustTOD(t, "06:30"), spec.ActiveWindow(mustTOD(t, "07:59")))
	assert.Equal(t, mustTOD(t, "08:00"), spec.ActiveWindow(mustTOD(t, "08:00")))
	assert.Equal(t, mustTOD(t, "08:00"), spec.ActiveWindow(mustTOD(t, "23:00")))
}

func TestFormingPeriodBounds(t *testing.T) {
	spec := testSpec(t, "06:30")
	start := mustTOD(t, "06:30")

	assert.True(t, spec.InFormingPeriod(mustTOD(t, "06:30"), start))
	assert.True(t, spec.InFormingPeriod(mustTOD(t, "06:44"), start))
	assert.False(t, spec.InFormingPeriod(mustTOD(t, "06:45"), start), "forming period is half-open")
	assert.False(t, spec.InFormingPeriod(mustTOD(t, "06:29"), start))
	assert.False(t, spec.InFormingPeriod(mustTOD(t, "07:00"), NoWindow))

	assert.False(t, spec.PastForming(mustTOD(t, "06:44"), start))
	assert.True(t, spec.PastForming(mustTOD(t, "06:45"), start))
	assert.False(t, spec.PastForming(mustTOD(t, "07:00"), NoWindow))
}

func TestAdvanceDayRollover(t *testing.T) {
	spec := testSpec(t, "06:30")
	ds := NewDayState()

	ds, tr := spec.Advance(ds, at(t, 2, "06:31"))
	assert.True(t, tr.NewDay)
	assert.Equal(t, mustTOD(t, "06:30"), ds.ActiveWindow)

	ds.Range = ds.Range.Widen(bar(at(t, 2, "06:31"), 100, 101, 99, 100.5))

	// same day, same window: no transition, range retained
	ds, tr = spec.Advance(ds, at(t, 2, "06:40"))
	assert.False(t, tr.NewDay)
	assert.False(t, tr.WindowChanged)
	assert.True(t, ds.Range.Set)

	// next calendar day: full reset
	ds, tr = spec.Advance(ds, at(t, 3, "06:31"))
	assert.True(t, tr.NewDay)
	assert.False(t, ds.Range.Set, "range cleared on rollover")
	assert.Equal(t, util.SessionDate(at(t, 3, "06:31")), ds.Date)
}

func TestAdvanceWindowChangeClearsRange(t *testing.T) {
	spec := testSpec(t, "06:30", "08:00")
	ds := NewDayState()

	ds, _ = spec.Advance(ds, at(t, 2, "06:31"))
	ds.Range = ds.Range.Widen(bar(at(t, 2, "06:31"), 100, 101, 99, 100.5))
	require.True(t, ds.Range.Set)

	ds, tr := spec.Advance(ds, at(t, 2, "08:00"))
	assert.False(t, tr.NewDay)
	assert.True(t, tr.WindowChanged)
	assert.Equal(t, mustTOD(t, "08:00"), ds.ActiveWindow)
	assert.False(t, ds.Range.Set, "range cleared on window change")
}

func TestAdvanceBeforeFirstWindow(t *testing.T) {
	spec := testSpec(t, "06:30")
	ds := NewDayState()

	ds, tr := spec.Advance(ds, at(t, 2, "05:00"))
	assert.True(t, tr.NewDay)
	assert.Equal(t, NoWindow, ds.ActiveWindow)
	assert.False(t, tr.WindowChanged, "NoWindow to NoWindow is not a change")
}
