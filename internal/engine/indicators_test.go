package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushN(e *IndicatorEngine, n int, make func(i int) (o, h, l, c float64)) {
	base := time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o, h, l, c := make(i)
		e.Push(bar(base.Add(time.Duration(i)*time.Minute), o, h, l, c))
	}
}

func TestSnapshotNotReadyDuringWarmup(t *testing.T) {
	e := NewIndicatorEngine(20, 14, 300)

	// warm-up is max(trendSpan, volSpan+1) = 20 bars
	pushN(e, 19, func(int) (float64, float64, float64, float64) {
		return 100, 101, 99, 100
	})
	_, ok := e.Snapshot()
	assert.False(t, ok)

	pushN(e, 1, func(int) (float64, float64, float64, float64) {
		return 100, 101, 99, 100
	})
	_, ok = e.Snapshot()
	assert.True(t, ok)
}

func TestTrendAverageConstantSeries(t *testing.T) {
	e := NewIndicatorEngine(3, 2, 50)
	pushN(e, 10, func(int) (float64, float64, float64, float64) {
		return 100, 100.5, 99.5, 100
	})
	snap, ok := e.Snapshot()
	require.True(t, ok)
	assert.InDelta(t, 100.0, snap.TrendAverage, 1e-9)
}

func TestTrendAverageRecursion(t *testing.T) {
	// span 3: alpha = 0.5, seeded with the first close
	e := NewIndicatorEngine(3, 2, 50)
	closes := []float64{100, 102, 104}
	pushN(e, 3, func(i int) (float64, float64, float64, float64) {
		c := closes[i]
		return c, c + 0.5, c - 0.5, c
	})
	snap, ok := e.Snapshot()
	require.True(t, ok)
	// ema = 0.5*104 + 0.5*(0.5*102 + 0.5*100) = 102.5
	assert.InDelta(t, 102.5, snap.TrendAverage, 1e-9)
}

func TestVolAverageRollingTrueRange(t *testing.T) {
	e := NewIndicatorEngine(2, 2, 50)
	// constant 1.0 high-low spread, no gaps
	pushN(e, 5, func(int) (float64, float64, float64, float64) {
		return 100, 100.5, 99.5, 100
	})
	snap, ok := e.Snapshot()
	require.True(t, ok)
	assert.InDelta(t, 1.0, snap.VolAverage, 1e-9)
}

func TestTrueRangeGapDominates(t *testing.T) {
	prev := bar(time.Now(), 100, 100.5, 99.5, 100)
	// gap up: high-prevClose exceeds the bar's own spread
	next := bar(time.Now(), 105, 105.5, 104.5, 105)
	assert.InDelta(t, 5.5, trueRange(next, prev.Close), 1e-9)

	// gap down
	down := bar(time.Now(), 95, 95.5, 94.5, 95)
	assert.InDelta(t, 5.5, trueRange(down, prev.Close), 1e-9)
}

func TestBufferEviction(t *testing.T) {
	e := NewIndicatorEngine(2, 2, 4)
	pushN(e, 10, func(i int) (float64, float64, float64, float64) {
		c := 100 + float64(i)
		return c, c + 0.5, c - 0.5, c
	})
	assert.Equal(t, 4, e.Len())
}
