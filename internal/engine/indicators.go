package engine

import (
	"math"

	"github.com/Mengjun74/ibkr-mvp/internal/domain/models"
)

// IndicatorSnapshot is the derived state of the trailing bar buffer at one
// point in time.
type IndicatorSnapshot struct {
	TrendAverage float64 // exponential mean of closes
	VolAverage   float64 // rolling mean of true range
}

// IndicatorEngine maintains a bounded trailing buffer of bars and recomputes
// the trend and volatility averages on every push. It persists across day
// boundaries since it is a function of the buffer only.
type IndicatorEngine struct {
	trendSpan int
	volSpan   int
	maxBars   int
	bars      []models.Bar
}

func NewIndicatorEngine(trendSpan, volSpan, maxBars int) *IndicatorEngine {
	if maxBars < trendSpan+volSpan {
		maxBars = trendSpan + volSpan
	}
	return &IndicatorEngine{
		trendSpan: trendSpan,
		volSpan:   volSpan,
		maxBars:   maxBars,
		bars:      make([]models.Bar, 0, maxBars),
	}
}

// Push appends a bar to the trailing buffer, evicting the oldest when full.
func (e *IndicatorEngine) Push(bar *models.Bar) {
	if len(e.bars) == e.maxBars {
		copy(e.bars, e.bars[1:])
		e.bars = e.bars[:len(e.bars)-1]
	}
	e.bars = append(e.bars, *bar)
}

// Len returns the current buffer depth.
func (e *IndicatorEngine) Len() int { return len(e.bars) }

// warmupLen is the minimum buffer length before indicators are usable:
// the volatility average needs volSpan true ranges, each of which needs a
// prior close, and the trend average needs a full span of closes.
func (e *IndicatorEngine) warmupLen() int {
	n := e.volSpan + 1
	if e.trendSpan > n {
		n = e.trendSpan
	}
	return n
}

// Snapshot recomputes the indicator values from the buffer. ok is false
// until the buffer reaches the warm-up length; callers must treat that as
// "no signal possible", not as zero.
func (e *IndicatorEngine) Snapshot() (IndicatorSnapshot, bool) {
	if len(e.bars) < e.warmupLen() {
		return IndicatorSnapshot{}, false
	}
	return IndicatorSnapshot{
		TrendAverage: e.trendAverage(),
		VolAverage:   e.volAverage(),
	}, true
}

func (e *IndicatorEngine) trendAverage() float64 {
	alpha := 2.0 / (float64(e.trendSpan) + 1.0)
	ema := e.bars[0].Close
	for i := 1; i < len(e.bars); i++ {
		ema = alpha*e.bars[i].Close + (1-alpha)*ema
	}
	return ema
}

func (e *IndicatorEngine) volAverage() float64 {
	// rolling mean of true range over the last volSpan bars
	sum := 0.0
	start := len(e.bars) - e.volSpan
	for i := start; i < len(e.bars); i++ {
		sum += trueRange(&e.bars[i], e.bars[i-1].Close)
	}
	return sum / float64(e.volSpan)
}

// trueRange combines the high/low spread with the gap from the prior close.
func trueRange(bar *models.Bar, prevClose float64) float64 {
	tr := bar.High - bar.Low
	if hc := math.Abs(bar.High - prevClose); hc > tr {
		tr = hc
	}
	if lc := math.Abs(bar.Low - prevClose); lc > tr {
		tr = lc
	}
	return tr
}
